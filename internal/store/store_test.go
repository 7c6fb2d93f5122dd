package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{
		Path:      filepath.Join(dir, "test.db"),
		BackupDir: filepath.Join(dir, "backup"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestWifiUpsertCoalescesTextReplacesNumeric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertWifiDevice(ctx, WifiDeviceParams{
		SessionID: "sess1", DeviceKey: "k1", BSSID: "aa:bb:cc:dd:ee:ff",
		ESSID: strPtr("HomeWiFi"), SignalDBM: intPtr(-50), Timestamp: "2026-01-01 00:00:00",
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// Second observation: nil ESSID should not blank the existing value;
	// SignalDBM always replaces.
	if err := s.InsertWifiDevice(ctx, WifiDeviceParams{
		SessionID: "sess1", DeviceKey: "k1", BSSID: "aa:bb:cc:dd:ee:ff",
		SignalDBM: intPtr(-40), Timestamp: "2026-01-01 00:05:00",
	}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	var essid string
	var signal int
	var firstSeen, lastSeen string
	row := s.db.QueryRowContext(ctx, `SELECT essid, signal_dbm, first_seen, last_seen FROM wifi_devices WHERE device_key = 'k1'`)
	if err := row.Scan(&essid, &signal, &firstSeen, &lastSeen); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if essid != "HomeWiFi" {
		t.Errorf("expected essid to be preserved via coalesce, got %q", essid)
	}
	if signal != -40 {
		t.Errorf("expected signal_dbm replaced with latest value, got %d", signal)
	}
	if firstSeen == lastSeen {
		t.Errorf("expected last_seen to advance past first_seen")
	}
}

func TestSignatureIncrementsTimesSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "deadbeef"

	if err := s.InsertSignature(ctx, hash, "wifi", 0.5, "{}"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertSignature(ctx, hash, "wifi", 0.5, "{}"); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	var timesSeen int
	if err := s.db.QueryRowContext(ctx, `SELECT times_seen FROM fingerprint_signatures WHERE fingerprint_hash = ?`, hash).Scan(&timesSeen); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if timesSeen != 2 {
		t.Fatalf("expected times_seen=2, got %d", timesSeen)
	}
}

// TestInsertFailureIsBuffered closes the underlying DB to force insert
// failures so the buffer path is exercised deterministically.
func TestInsertFailureIsBuffered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.maxRetries = 1

	// Close the underlying DB to force every insert to fail, then buffer.
	s.db.Close()
	err := s.InsertWifiDevice(ctx, WifiDeviceParams{
		SessionID: "sess1", DeviceKey: "k2", BSSID: "11:22:33:44:55:66", Timestamp: "2026-01-01 00:00:00",
	})
	if err != nil {
		t.Fatalf("expected buffering to absorb the failure, got error: %v", err)
	}

	entries, err := filepathGlobBuffer(s.backupDir)
	if err != nil {
		t.Fatalf("glob buffer dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one buffer file, got %d", len(entries))
	}
}

func filepathGlobBuffer(dir string) ([]string, error) {
	return filepathGlob(filepath.Join(dir, "buffer_*.jsonl"))
}

func filepathGlob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}
