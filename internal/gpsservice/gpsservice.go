// Package gpsservice maintains a quality-gated current position and a
// bounded history, notifies subscribers of every sample, and answers
// velocity/hop-mode queries. Grounded on the teacher's internal/gps
// package (gpsd TCP/JSON client, serial/NMEA client, reconnect loop,
// watchdog) and extended per the GPS quality-gate contract with SKY/GSA
// hdop+satellites parsing, grounded on
// original_source/src/scanners/gps_logger.py.
package gpsservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"pible/internal/channelhop"
	"pible/internal/util"
)

var ErrGpsUnavailable = errors.New("gpsservice: gps unavailable")

type FixQuality string

const (
	FixNone FixQuality = "none"
	Fix2D   FixQuality = "2D"
	Fix3D   FixQuality = "3D"
)

// Position is the GpsPosition entity (spec §3).
type Position struct {
	Lat        float64
	Lon        float64
	Alt        float64
	Timestamp  time.Time
	HDOP       float64
	Satellites int
	FixQuality FixQuality
	Valid      bool
	SpeedMS    float64
	HeadingDeg float64
}

// Config mirrors the gps section of the configuration reference (§6.5).
type Config struct {
	Mode          string // auto|gpsd|serial
	GPSDAddr      string
	SerialDev     string
	SerialBaud    int
	MinHDOP       float64
	MinSatellites int
	HistorySize   int
	StaleAfter    time.Duration
}

type Service struct {
	mu sync.RWMutex

	cfg     Config
	current Position
	hasFix  bool

	history []Position

	subscribers map[int]func(Position)
	nextSubID   int

	activeCloser func()
	activeKind   string

	lastPacket time.Time
}

func New(cfg Config) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 300 * time.Second
	}
	return &Service{
		cfg:         cfg,
		subscribers: map[int]func(Position){},
	}
}

// Connect probes reachability of the configured GPS source without
// starting the background reader; it returns ErrGpsUnavailable on
// failure, matching the contract's explicit "fails with GpsUnavailable"
// language.
func (s *Service) Connect(ctx context.Context) error {
	switch strings.ToLower(s.cfg.Mode) {
	case "serial":
		dev := s.cfg.SerialDev
		if dev == "" {
			dev = GuessSerialDevice()
		}
		if dev == "" {
			return fmt.Errorf("%w: no serial device configured or detected", ErrGpsUnavailable)
		}
		return nil
	default:
		if !canConnectGPSD(s.cfg.GPSDAddr, 800*time.Millisecond) {
			if s.cfg.SerialDev == "" && GuessSerialDevice() == "" {
				return fmt.Errorf("%w: gpsd unreachable at %s and no serial fallback", ErrGpsUnavailable, s.cfg.GPSDAddr)
			}
		}
		return nil
	}
}

// Start spawns the reader loops; it never blocks the caller beyond this
// call returning.
func (s *Service) Start(ctx context.Context) error {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "gpsd":
		go s.runGPSDLoop(ctx, s.cfg.GPSDAddr)
	case "serial":
		dev := s.cfg.SerialDev
		if dev == "" {
			dev = GuessSerialDevice()
		}
		if dev == "" {
			return fmt.Errorf("%w: serial mode requires a device path", ErrGpsUnavailable)
		}
		go s.runSerialLoop(ctx, dev, s.cfg.SerialBaud)
	case "auto":
		if canConnectGPSD(s.cfg.GPSDAddr, 800*time.Millisecond) {
			go s.runGPSDLoop(ctx, s.cfg.GPSDAddr)
			return nil
		}
		dev := s.cfg.SerialDev
		if dev == "" {
			dev = GuessSerialDevice()
		}
		if dev == "" {
			return fmt.Errorf("%w: gpsd unreachable and no serial device detected", ErrGpsUnavailable)
		}
		go s.runSerialLoop(ctx, dev, s.cfg.SerialBaud)
	default:
		return fmt.Errorf("gpsservice: invalid mode %q", mode)
	}
	return nil
}

// Current returns the last sample, which may be invalid.
func (s *Service) Current() (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.hasFix
}

// CurrentTuple returns zeros when the last sample is not valid.
func (s *Service) CurrentTuple() (lat, lon, alt float64, ts time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.Valid {
		return 0, 0, 0, time.Time{}
	}
	return s.current.Lat, s.current.Lon, s.current.Alt, s.current.Timestamp
}

func (s *Service) HasFix() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Valid
}

// History returns up to n most recent valid positions, oldest first. n<=0
// returns the full bounded history.
func (s *Service) History(n int) []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n >= len(s.history) {
		out := make([]Position, len(s.history))
		copy(out, s.history)
		return out
	}
	start := len(s.history) - n
	out := make([]Position, n)
	copy(out, s.history[start:])
	return out
}

// Velocity returns zero when there is no fix.
func (s *Service) Velocity() (speedMS, headingDeg float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.Valid {
		return 0, 0
	}
	return s.current.SpeedMS, s.current.HeadingDeg
}

// Subscribe registers cb to be called with every sample (valid or not).
// It returns an unsubscribe function.
func (s *Service) Subscribe(cb func(Position)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// WaitForFix blocks until HasFix() or timeout elapses, returning whether a
// fix was acquired.
func (s *Service) WaitForFix(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		if s.HasFix() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if time.Now().After(deadline) {
				return s.HasFix()
			}
		}
	}
}

// SuggestHopMode maps instantaneous speed to a channel-hop mode: below
// slowTh the drone is near-stationary (slow), above fastTh it is moving
// fast (fast), otherwise adaptive.
func (s *Service) SuggestHopMode(fastTh, slowTh float64) channelhop.Mode {
	speed, _ := s.Velocity()
	switch {
	case speed >= fastTh:
		return channelhop.Fast
	case speed <= slowTh:
		return channelhop.Slow
	default:
		return channelhop.Adaptive
	}
}

// Stop forces the active reader to close; safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.RLock()
	closer := s.activeCloser
	s.mu.RUnlock()
	if closer != nil {
		closer()
	}
}

// sample applies the quality gate (spec §4.1) and feeds subscribers and
// history. It is the single entry point every reader (gpsd, serial) calls.
func (s *Service) sample(raw Position) {
	raw.FixQuality = classifyFix(raw)
	raw.Valid = raw.FixQuality != FixNone &&
		raw.HDOP <= effective(s.cfg.MinHDOP, 4.0) &&
		raw.Satellites >= effectiveInt(s.cfg.MinSatellites, 4)

	s.mu.Lock()
	s.lastPacket = time.Now()
	s.current = raw
	s.hasFix = raw.Valid
	if raw.Valid {
		s.history = append(s.history, raw)
		if len(s.history) > s.cfg.HistorySize {
			s.history = s.history[len(s.history)-s.cfg.HistorySize:]
		}
	}
	subs := make([]func(Position), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		cb(raw)
	}
}

func classifyFix(p Position) FixQuality {
	if p.FixQuality == Fix2D || p.FixQuality == Fix3D {
		return p.FixQuality
	}
	return FixNone
}

func effective(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func effectiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Service) setActiveCloser(kind string, closer func()) {
	s.mu.Lock()
	s.activeKind = kind
	s.activeCloser = closer
	s.mu.Unlock()
}

func (s *Service) clearActiveCloser() {
	s.mu.Lock()
	s.activeKind = ""
	s.activeCloser = nil
	s.mu.Unlock()
}

func logGPS(format string, args ...any) {
	util.Linef("[GPS]", util.ColorGray, format, args...)
	log.Printf("gps: "+format, args...)
}
