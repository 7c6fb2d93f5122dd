package store

import "context"

// SessionStats mirrors the counters get_session_stats reports at end of
// flight (spec §8 scenario 1).
type SessionStats struct {
	Status      string
	WifiDevices int
	BtDevices   int
	GpsPoints   int
}

// GetSessionStats counts rows across the three per-session child tables
// and reports the session's current status.
func (s *Store) GetSessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SessionStats
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, sessionID).Scan(&stats.Status); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wifi_devices WHERE session_id = ?`, sessionID).Scan(&stats.WifiDevices); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bt_devices WHERE session_id = ?`, sessionID).Scan(&stats.BtDevices); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gps_track WHERE session_id = ?`, sessionID).Scan(&stats.GpsPoints); err != nil {
		return stats, err
	}
	return stats, nil
}

// RefreshSessionCounts snapshots wifi_count/bt_count onto the session row,
// matching the ScanSession entity's own cached counters (spec §3).
func (s *Store) RefreshSessionCounts(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET
	wifi_count = (SELECT COUNT(*) FROM wifi_devices WHERE session_id = ?),
	bt_count = (SELECT COUNT(*) FROM bt_devices WHERE session_id = ?)
WHERE session_id = ?`, sessionID, sessionID, sessionID)
	return err
}

// UpdateDeviceGeo replaces stored coordinates for a device and marks
// gps_valid=true, per §4.5.5 (used by the out-of-core flight-log
// upgrader to backfill GPS after the fact).
func (s *Store) UpdateDeviceGeo(ctx context.Context, deviceKey string, lat, lon, alt float64, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := "wifi_devices"
	if kind == "bt" || kind == "bluetooth" {
		table = "bt_devices"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET lat = ?, lon = ?, alt = ?, geo_valid = 1 WHERE device_key = ?`, lat, lon, alt, deviceKey)
	return err
}

// Flush is a best-effort durability checkpoint, invoked by the
// orchestrator on a PowerCritical event (§4.6/§7): it forces a WAL
// checkpoint so the store is not left relying on the journal at the
// moment the rail may drop.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`)
	return err
}
