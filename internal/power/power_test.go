package power

import (
	"context"
	"testing"
	"time"
)

type fixedSource struct{ v float64 }

func (f fixedSource) ReadVoltage() (float64, error) { return f.v, nil }

var testThresholds = Thresholds{Warning: 3.5, Critical: 3.3, Shutdown: 3.1}

func TestClassifyBoundariesInclusive(t *testing.T) {
	cases := []struct {
		v    float64
		want State
	}{
		{3.6, StateOK},
		{3.5, StateWarning},
		{3.3, StateCritical},
		{3.1, StateShutdown},
		{3.0, StateShutdown},
	}
	for _, c := range cases {
		if got := classify(c.v, testThresholds); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestMonitorFiresCallbackOnce(t *testing.T) {
	m := New(fixedSource{v: 3.3}, time.Millisecond, testThresholds)
	var criticalCount int
	m.OnCritical(func(float64) { criticalCount++ })

	m.poll()
	m.poll()
	m.poll()

	if criticalCount != 1 {
		t.Errorf("expected exactly one critical callback on state entry, got %d", criticalCount)
	}
}

func TestMonitorShutdownFiresEveryTick(t *testing.T) {
	m := New(fixedSource{v: 3.0}, time.Millisecond, testThresholds)
	var n int
	m.OnShutdown(func(float64) { n++ })
	m.poll()
	m.poll()
	if n != 2 {
		t.Errorf("expected shutdown callback every tick, got %d", n)
	}
}

func TestStartRespectsContextCancel(t *testing.T) {
	m := New(fixedSource{v: 4.0}, time.Millisecond, testThresholds)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	m.Start(ctx)
	if m.Voltage() != 4.0 {
		t.Errorf("expected at least one poll to have recorded voltage")
	}
}
