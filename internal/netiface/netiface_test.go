package netiface

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestRestoreManagedModeUsesHandoffInterface exercises §8 scenario 6: with
// the hand-off files present, the restore procedure must be invoked with
// the saved monitor interface name, observed through the CommandRunner
// test hook rather than a real radio.
func TestRestoreManagedModeUsesHandoffInterface(t *testing.T) {
	dir := t.TempDir()
	monitorFile := filepath.Join(dir, "monitor_iface")
	if err := os.WriteFile(monitorFile, []byte("wlan0mon"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig := MonitorIfaceFile
	defer func() { overrideHandoffPaths(orig, OriginalIfaceFile) }()
	overrideHandoffPaths(monitorFile, OriginalIfaceFile)

	var invoked []string
	r := &Restorer{
		Run: func(ctx context.Context, name string, args ...string) error {
			invoked = append(invoked, name+" "+joinArgs(args))
			return nil
		},
		existsFunc: func(string) bool { return true },
	}

	if err := r.RestoreManagedMode(context.Background()); err != nil {
		t.Fatalf("RestoreManagedMode: %v", err)
	}
	if len(invoked) == 0 {
		t.Fatal("expected at least one command invocation")
	}
	for _, c := range invoked {
		if !contains(c, "wlan0mon") {
			t.Errorf("expected command to reference wlan0mon, got %q", c)
		}
	}
}

func TestRestoreManagedModeNoMonitorInterfaceIsNoop(t *testing.T) {
	dir := t.TempDir()
	overrideHandoffPaths(filepath.Join(dir, "missing"), filepath.Join(dir, "missing2"))
	defer overrideHandoffPaths(MonitorIfaceFile, OriginalIfaceFile)

	called := false
	r := &Restorer{
		Run: func(ctx context.Context, name string, args ...string) error {
			called = true
			return nil
		},
	}
	if err := r.RestoreManagedMode(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected no command invocation when no monitor interface is detectable")
	}
}

func overrideHandoffPaths(monitor, original string) {
	MonitorIfaceFile = monitor
	OriginalIfaceFile = original
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
