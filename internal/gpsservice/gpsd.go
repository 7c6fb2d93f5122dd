package gpsservice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"
)

func canConnectGPSD(addr string, timeout time.Duration) bool {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

func (s *Service) runGPSDLoop(ctx context.Context, addr string) {
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !connected {
			logGPS("connecting to gpsd %s", addr)
		}
		connected = true
		if err := s.readGPSD(ctx, addr); err != nil {
			connected = false
			logGPS("gpsd disconnected: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// gpsdTPV is the subset of a gpsd TPV report the core needs: lat, lon,
// alt, speed, track (heading), and fix mode.
type gpsdTPV struct {
	Class string   `json:"class"`
	Mode  *int     `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
}

// gpsdSKY is the satellite-quality report: hdop and the used-satellite
// count, per original_source/src/scanners/gps_logger.py.
type gpsdSKY struct {
	Class string        `json:"class"`
	HDOP  *float64      `json:"hdop"`
	Sats  []gpsdSatInfo `json:"satellites"`
}

type gpsdSatInfo struct {
	Used bool `json:"used"`
}

func (s *Service) readGPSD(ctx context.Context, addr string) error {
	conn, err := (&net.Dialer{Timeout: 2 * time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.setActiveCloser("gpsd", func() { _ = conn.Close() })
	defer s.clearActiveCloser()

	_, _ = conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true}\n"))

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 256*1024)

	var lastHDOP float64
	var lastSats int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var cls struct {
			Class string `json:"class"`
		}
		if err := json.Unmarshal([]byte(line), &cls); err != nil {
			continue
		}

		switch cls.Class {
		case "SKY":
			var sky gpsdSKY
			if err := json.Unmarshal([]byte(line), &sky); err != nil {
				continue
			}
			if sky.HDOP != nil {
				lastHDOP = *sky.HDOP
			}
			used := 0
			for _, sat := range sky.Sats {
				if sat.Used {
					used++
				}
			}
			if used > 0 {
				lastSats = used
			}
		case "TPV":
			var tpv gpsdTPV
			if err := json.Unmarshal([]byte(line), &tpv); err != nil {
				continue
			}
			if tpv.Mode == nil || tpv.Lat == nil || tpv.Lon == nil {
				continue
			}
			pos := Position{
				Lat:       *tpv.Lat,
				Lon:       *tpv.Lon,
				Timestamp: time.Now(),
				HDOP:      lastHDOP,
				Satellites: lastSats,
			}
			if tpv.Alt != nil {
				pos.Alt = *tpv.Alt
			}
			if tpv.Speed != nil {
				pos.SpeedMS = *tpv.Speed
			}
			if tpv.Track != nil {
				pos.HeadingDeg = *tpv.Track
			}
			switch *tpv.Mode {
			case 3:
				pos.FixQuality = Fix3D
			case 2:
				pos.FixQuality = Fix2D
			default:
				pos.FixQuality = FixNone
			}
			s.sample(pos)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("gpsd connection closed")
}
