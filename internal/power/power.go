// Package power implements the power monitor: reads battery voltage from a
// pluggable source at a configured interval, classifies it into
// ok/warning/critical/shutdown, fires callbacks on state change, and
// estimates remaining runtime from a linear fit over recent samples.
// Grounded on original_source/src/drone/power_monitor.py for thresholds
// and the trend estimate, and on the teacher's internal/util/battery.go
// for the "read an external source, parse, classify, never fail the
// caller" shape.
package power

import (
	"context"
	"sync"
	"time"
)

type State string

const (
	StateOK       State = "ok"
	StateWarning  State = "warning"
	StateCritical State = "critical"
	StateShutdown State = "shutdown"
)

// VoltageSource reads a single instantaneous voltage reading. Errors are
// treated as "no reading this tick" by Monitor; they never propagate to
// the caller of Start/Voltage/State.
type VoltageSource interface {
	ReadVoltage() (float64, error)
}

type sample struct {
	ts time.Time
	v  float64
}

type Thresholds struct {
	Warning  float64
	Critical float64
	Shutdown float64
}

type Monitor struct {
	mu sync.Mutex

	source   VoltageSource
	interval time.Duration
	th       Thresholds

	voltage float64
	state   State
	history []sample

	onWarning  []func(float64)
	onCritical []func(float64)
	onShutdown []func(float64)
}

const historyMax = 100

func New(source VoltageSource, interval time.Duration, th Thresholds) *Monitor {
	return &Monitor{
		source:   source,
		interval: interval,
		th:       th,
		state:    StateOK,
	}
}

func (m *Monitor) OnWarning(cb func(float64))  { m.mu.Lock(); m.onWarning = append(m.onWarning, cb); m.mu.Unlock() }
func (m *Monitor) OnCritical(cb func(float64)) { m.mu.Lock(); m.onCritical = append(m.onCritical, cb); m.mu.Unlock() }
func (m *Monitor) OnShutdown(cb func(float64)) { m.mu.Lock(); m.onShutdown = append(m.onShutdown, cb); m.mu.Unlock() }

// Start runs the poll loop until ctx is canceled. It never returns an
// error: a failed read is simply skipped until the next tick, matching
// the teacher's battery.go "return empty string on failure" contract.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	v, err := m.source.ReadVoltage()
	if err != nil {
		return
	}

	m.mu.Lock()
	old := m.state
	m.voltage = v
	m.state = classify(v, m.th)
	m.history = append(m.history, sample{ts: time.Now(), v: v})
	if len(m.history) > historyMax {
		m.history = m.history[len(m.history)-historyMax:]
	}
	cur := m.state
	warningCbs := append([]func(float64){}, m.onWarning...)
	criticalCbs := append([]func(float64){}, m.onCritical...)
	shutdownCbs := append([]func(float64){}, m.onShutdown...)
	m.mu.Unlock()

	switch cur {
	case StateShutdown:
		for _, cb := range shutdownCbs {
			cb(v)
		}
	case StateCritical:
		if old != StateCritical {
			for _, cb := range criticalCbs {
				cb(v)
			}
		}
	case StateWarning:
		if old != StateWarning && old != StateCritical && old != StateShutdown {
			for _, cb := range warningCbs {
				cb(v)
			}
		}
	}
}

// classify is inclusive at the thresholds: a voltage exactly at a
// threshold yields the worse state.
func classify(v float64, th Thresholds) State {
	switch {
	case v <= th.Shutdown:
		return StateShutdown
	case v <= th.Critical:
		return StateCritical
	case v <= th.Warning:
		return StateWarning
	default:
		return StateOK
	}
}

func (m *Monitor) Voltage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voltage
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RemainingMinutes estimates runtime left from a least-squares linear fit
// over the last up to 10 samples; returns (0, false) when the trend is
// flat or rising, or when there are too few samples.
func (m *Monitor) RemainingMinutes() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if n < 2 {
		return 0, false
	}
	start := 0
	if n > 10 {
		start = n - 10
	}
	recent := m.history[start:]

	t0 := recent[0].ts
	var count, sumX, sumY, sumXY, sumXX float64
	for _, s := range recent {
		x := s.ts.Sub(t0).Minutes()
		y := s.v
		count++
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := count*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	slope := (count*sumXY - sumX*sumY) / denom // volts per minute
	if slope >= 0 || m.voltage <= m.th.Shutdown {
		return 0, false
	}
	remainingVolts := m.voltage - m.th.Shutdown
	return remainingVolts / -slope, true
}
