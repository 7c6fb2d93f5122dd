package orchestrator

import (
	"context"
	"testing"
	"time"

	"pible/internal/config"
)

func TestNewRejectsMissingNodeID(t *testing.T) {
	cfg := config.Default()
	cfg.General.NodeID = ""
	if _, err := New(cfg, "sess-1", nil); err == nil {
		t.Fatal("expected error for empty node_id")
	}
}

func TestStartFailsFastOnUnwritableStorePath(t *testing.T) {
	cfg := config.Default()
	cfg.General.NodeID = "node-1"
	cfg.Database.Path = "/tmp/airdump-orchestrator-test-\x00/exist.db"
	cfg.Capture.Enabled = false
	cfg.Power.MonitorEnabled = false

	o, err := New(cfg, "sess-2", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Fatal("expected store open failure to abort Start")
	}
}

func TestStopIsIdempotentWhenNeverStarted(t *testing.T) {
	cfg := config.Default()
	cfg.General.NodeID = "node-1"
	o, err := New(cfg, "sess-3", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err1 := o.Stop(context.Background())
	err2 := o.Stop(context.Background())
	if err1 != err2 {
		t.Fatalf("Stop should be idempotent, got %v then %v", err1, err2)
	}
}

func TestVoltageSourceForUnknownKindErrors(t *testing.T) {
	_, err := voltageSourceFor(config.Power{VoltageSource: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown voltage source kind")
	}
}

func TestVoltageSourceForDefaultsToSysfs(t *testing.T) {
	src, err := voltageSourceFor(config.Power{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(interface{ ReadVoltage() (float64, error) }); !ok {
		t.Fatal("expected a VoltageSource implementation")
	}
}

func TestDurationFromSecondsFallsBackOnNonPositive(t *testing.T) {
	if got := durationFromSeconds(0); got != time.Second {
		t.Fatalf("expected 1s fallback, got %v", got)
	}
	if got := durationFromSeconds(2.5); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %v", got)
	}
}
