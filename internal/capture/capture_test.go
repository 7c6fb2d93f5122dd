package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeRegistry struct {
	files []string
}

func (f *fakeRegistry) InsertPcapFile(ctx context.Context, sessionID, filename, start, end string, sizeBytes, packetCount int64, encrypted bool) error {
	f.files = append(f.files, filename)
	return nil
}

func TestScanOnceRegistersOnlyCompletedRotations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"capture_00001.pcapng", "capture_00002.pcapng", "capture_00003.pcapng"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := &fakeRegistry{}
	c := New(Config{OutputDir: dir, SessionID: "s1"}, reg)
	c.scanOnce(context.Background())

	if len(reg.files) != 2 {
		t.Fatalf("expected the two oldest rotations registered, got %d: %v", len(reg.files), reg.files)
	}

	// A second scan with no new files must not re-register anything.
	c.scanOnce(context.Background())
	if len(reg.files) != 2 {
		t.Fatalf("expected no re-registration on second scan, got %d", len(reg.files))
	}
}

func TestStopWithNoProcessIsNoop(t *testing.T) {
	c := New(Config{OutputDir: t.TempDir()}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
