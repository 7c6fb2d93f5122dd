package gpsservice

import (
	"context"
	"testing"
	"time"
)

func newTestService() *Service {
	return New(Config{MinHDOP: 4.0, MinSatellites: 4, HistorySize: 3})
}

func TestQualityGateRejectsPoorFix(t *testing.T) {
	s := newTestService()
	s.sample(Position{Lat: 1, Lon: 1, FixQuality: Fix3D, HDOP: 10, Satellites: 6})
	if s.HasFix() {
		t.Fatal("expected sample with hdop above threshold to be rejected")
	}
}

func TestQualityGateAcceptsGoodFix(t *testing.T) {
	s := newTestService()
	s.sample(Position{Lat: 1, Lon: 2, FixQuality: Fix3D, HDOP: 1.0, Satellites: 8})
	if !s.HasFix() {
		t.Fatal("expected valid sample to set fix")
	}
	lat, lon, _, _ := s.CurrentTuple()
	if lat != 1 || lon != 2 {
		t.Errorf("unexpected tuple %v %v", lat, lon)
	}
}

func TestInvalidSampleStillNotifiesSubscribers(t *testing.T) {
	s := newTestService()
	var got Position
	unsub := s.Subscribe(func(p Position) { got = p })
	defer unsub()

	s.sample(Position{Lat: 5, Lon: 5, FixQuality: FixNone, HDOP: 99, Satellites: 0})
	if got.Lat != 5 {
		t.Fatal("expected subscriber to be notified even for invalid sample")
	}
	if s.HasFix() {
		t.Fatal("invalid sample must not set fix")
	}
}

func TestHistoryBounded(t *testing.T) {
	s := newTestService()
	for i := 0; i < 5; i++ {
		s.sample(Position{Lat: float64(i), Lon: float64(i), FixQuality: Fix3D, HDOP: 1, Satellites: 8})
	}
	h := s.History(0)
	if len(h) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(h))
	}
	if h[len(h)-1].Lat != 4 {
		t.Errorf("expected most recent last, got %v", h[len(h)-1].Lat)
	}
}

func TestWaitForFixTimesOut(t *testing.T) {
	s := newTestService()
	ok := s.WaitForFix(context.Background(), 150*time.Millisecond)
	if ok {
		t.Fatal("expected timeout with no fix")
	}
}
