package store

import (
	"context"
	"database/sql"
	"errors"
)

// InsertSignature inserts a new fingerprint signature or, if the hash
// already exists, increments times_seen and touches nothing else.
func (s *Store) InsertSignature(ctx context.Context, hash, deviceType string, confidence float64, identifiers string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT times_seen FROM fingerprint_signatures WHERE fingerprint_hash = ?`, hash).Scan(&existing)
	switch {
	case err == nil:
		_, err := s.db.ExecContext(ctx, `UPDATE fingerprint_signatures SET times_seen = times_seen + 1 WHERE fingerprint_hash = ?`, hash)
		return err
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.ExecContext(ctx, `
INSERT INTO fingerprint_signatures (fingerprint_hash, device_type, confidence, identifiers, first_seen, times_seen)
VALUES (?, ?, ?, ?, ?, 1)`, hash, deviceType, confidence, identifiers, nowTimestamp())
		return err
	default:
		return err
	}
}

// InsertGPSPoint records a track point for a session. Ordering within a
// session is by ascending timestamp, enforced by insertion order plus the
// index on (timestamp).
func (s *Store) InsertGPSPoint(ctx context.Context, sessionID string, ts string, lat, lon, alt float64, speed, track, hdop *float64, satellites int, fixQuality string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO gps_track (session_id, timestamp, lat, lon, alt, speed, track, hdop, satellites, fix_quality)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, sessionID, ts, lat, lon, alt, optFloat(speed), optFloat(track), optFloat(hdop), satellites, fixQuality)
	return err
}

// InsertPcapFile records one row per completed capture rotation.
func (s *Store) InsertPcapFile(ctx context.Context, sessionID, filename, start, end string, sizeBytes, packetCount int64, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pcap_files (session_id, filename, start_time, end_time, size_bytes, packet_count, encrypted)
VALUES (?, ?, ?, ?, ?, ?, ?)`, sessionID, filename, start, end, sizeBytes, packetCount, boolToInt(encrypted))
	return err
}
