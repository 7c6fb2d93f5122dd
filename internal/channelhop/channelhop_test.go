package channelhop

import "testing"

func TestSetModeInvalidRejected(t *testing.T) {
	p := New(5, 1)
	if err := p.SetMode("bogus"); err == nil {
		t.Fatal("expected rejection of invalid mode")
	}
	if p.Mode() != Slow {
		t.Fatalf("state should be unchanged after rejected SetMode, got %v", p.Mode())
	}
}

func TestAdaptiveRateBoundaries(t *testing.T) {
	p := New(5, 1)
	_ = p.SetMode(Adaptive)
	p.SetActiveSource("src1")

	p.Tick(1.0)
	if p.Rate() != 1 {
		t.Errorf("expected slow_rate at low speed, got %f", p.Rate())
	}
	p.Tick(10.0)
	if p.Rate() != 5 {
		t.Errorf("expected fast_rate at high speed, got %f", p.Rate())
	}
	p.Tick(6.0)
	if got := p.Rate(); got <= 1 || got >= 5 {
		t.Errorf("expected interpolated rate between 1 and 5, got %f", got)
	}
}

func TestLockChannel(t *testing.T) {
	p := New(5, 1)
	p.LockChannel(6)
	ch, ok := p.LockedChannel()
	if !ok || ch != 6 {
		t.Fatalf("expected locked channel 6, got %d ok=%v", ch, ok)
	}
	if p.Mode() != Lock {
		t.Fatalf("expected lock mode, got %v", p.Mode())
	}
}
