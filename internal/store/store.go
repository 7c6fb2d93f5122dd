// Package store persists sessions, devices, GPS track points, fingerprint
// signatures, and pcap metadata, with merge-on-upsert semantics, a
// file-backed retry buffer, and optional at-rest encryption. Heavily
// adapted from the teacher's internal/db/store.go: same modernc.org/sqlite
// driver, single-connection discipline, sync.Mutex-guarded *sql.DB, nil-safe
// optX param helpers, and manual fetch-existing/merge/dynamic-UPDATE upsert
// shape.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pible/internal/geoutil"
)

type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	backupDir string
	key       *encryptionKey
	maxRetries int
}

type Config struct {
	Path              string
	BackupDir         string
	EncryptionEnabled bool
	KeyPath           string
	MaxRetries        int
	ReadOnly          bool
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create database dir: %w", err)
		}
		if cfg.BackupDir != "" {
			if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create backup dir: %w", err)
			}
		}
	}

	dsn := cfg.Path
	if cfg.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", cfg.Path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	_, _ = db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`)
	if !cfg.ReadOnly {
		// WAL requires a writable file; skip it entirely when the store is
		// opened read-only rather than let the pragma fail loudly.
		_, _ = db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	s := &Store{db: db, backupDir: cfg.BackupDir, maxRetries: retries}

	if cfg.EncryptionEnabled {
		key, err := loadOrCreateKey(cfg.KeyPath)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: load encryption key: %w", err)
		}
		s.key = key
	}

	if cfg.ReadOnly {
		return s, nil
	}

	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		if s.key != nil {
			s.key.zero()
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.key != nil {
		s.key.zero()
	}
	return s.db.Close()
}

func (s *Store) initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT UNIQUE,
			start_time TEXT,
			end_time TEXT,
			status TEXT,
			property_id TEXT,
			node_id TEXT,
			wifi_count INTEGER DEFAULT 0,
			bt_count INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS wifi_devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			device_key TEXT,
			bssid TEXT COLLATE NOCASE,
			essid TEXT,
			type TEXT,
			channel INTEGER,
			freq INTEGER,
			signal_dbm INTEGER,
			encryption TEXT,
			manuf TEXT,
			packets_total INTEGER DEFAULT 0,
			first_seen TEXT,
			last_seen TEXT,
			lat REAL,
			lon REAL,
			alt REAL,
			geo_valid INTEGER,
			fingerprint_hash TEXT,
			fingerprint_data TEXT,
			is_known INTEGER DEFAULT 0,
			identified_as TEXT,
			seen_by_nodes TEXT,
			UNIQUE(session_id, device_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wifi_session ON wifi_devices(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_wifi_bssid ON wifi_devices(bssid);`,
		`CREATE INDEX IF NOT EXISTS idx_wifi_fingerprint ON wifi_devices(fingerprint_hash);`,
		`CREATE TABLE IF NOT EXISTS bt_devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			device_key TEXT,
			mac TEXT COLLATE NOCASE,
			name TEXT,
			type TEXT,
			class INTEGER,
			rssi INTEGER,
			manuf TEXT,
			service_uuids TEXT,
			first_seen TEXT,
			last_seen TEXT,
			lat REAL,
			lon REAL,
			alt REAL,
			geo_valid INTEGER,
			fingerprint_hash TEXT,
			fingerprint_data TEXT,
			is_known INTEGER DEFAULT 0,
			identified_as TEXT,
			seen_by_nodes TEXT,
			UNIQUE(session_id, device_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bt_session ON bt_devices(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bt_mac ON bt_devices(mac);`,
		`CREATE INDEX IF NOT EXISTS idx_bt_fingerprint ON bt_devices(fingerprint_hash);`,
		`CREATE TABLE IF NOT EXISTS fingerprint_signatures (
			fingerprint_hash TEXT PRIMARY KEY,
			device_type TEXT,
			model TEXT,
			os_version TEXT,
			confidence REAL,
			identifiers TEXT,
			first_seen TEXT,
			times_seen INTEGER DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS gps_track (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			timestamp TEXT,
			lat REAL,
			lon REAL,
			alt REAL,
			speed REAL,
			track REAL,
			hdop REAL,
			satellites INTEGER,
			fix_quality TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_gps_track_session ON gps_track(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_gps_track_timestamp ON gps_track(timestamp);`,
		`CREATE TABLE IF NOT EXISTS pcap_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			filename TEXT,
			start_time TEXT,
			end_time TEXT,
			size_bytes INTEGER,
			packet_count INTEGER,
			encrypted INTEGER DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pcap_session ON pcap_files(session_id);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func execIgnore(ctx context.Context, db *sql.DB, q string) {
	_, _ = db.ExecContext(ctx, q)
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func optInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func optFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nowTimestamp() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// CreateSession inserts a new session row in the "starting" state.
func (s *Store) CreateSession(ctx context.Context, sessionID, propertyID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (session_id, start_time, status, property_id, node_id)
VALUES (?, ?, 'starting', ?, ?)`, sessionID, nowTimestamp(), propertyID, nodeID)
	return err
}

// SetSessionStatus transitions a session's status field.
func (s *Store) SetSessionStatus(ctx context.Context, sessionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "stopped" || status == "error" {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, end_time = ? WHERE session_id = ?`, status, nowTimestamp(), sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID)
	return err
}

var errEmptyKey = errors.New("store: empty device_key")

func jsonBuffer(kind string, payload any) ([]byte, error) {
	rec := map[string]any{"kind": kind, "payload": payload}
	return json.Marshal(rec)
}

// bufferPath builds a new buffer file name under backupDir for a failed
// insert of the given kind, per §4.5.4: buffer_<kind>_<epoch>.jsonl.
func (s *Store) bufferPath(kind string, epoch int64) string {
	return filepath.Join(s.backupDir, fmt.Sprintf("buffer_%s_%d.jsonl", kind, epoch))
}

// encryptedBufferLine is the on-disk shape of a buffered record once
// encryption_enabled is set: the whole {kind,payload} envelope is sealed
// with the at-rest key and base64-framed so the buffer file stays
// line-delimited text.
type encryptedBufferLine struct {
	Enc string `json:"enc"`
}

func (s *Store) appendToBuffer(kind string, payload any) error {
	if s.backupDir == "" {
		return errors.New("store: no backup_dir configured, cannot buffer failed insert")
	}
	b, err := jsonBuffer(kind, payload)
	if err != nil {
		return err
	}
	if s.key != nil {
		ciphertext, err := s.key.seal(b)
		if err != nil {
			return fmt.Errorf("store: seal buffered record: %w", err)
		}
		b, err = json.Marshal(encryptedBufferLine{Enc: base64.StdEncoding.EncodeToString(ciphertext)})
		if err != nil {
			return err
		}
	}
	path := s.bufferPath(kind, time.Now().Unix())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// retryInsert runs fn up to maxRetries times with a 0.1*attempt second
// backoff; on final failure the payload is appended to the buffer file.
func (s *Store) retryInsert(ctx context.Context, kind string, payload any, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(float64(attempt)*0.1*float64(time.Second))):
			}
			continue
		}
		return nil
	}
	if bufErr := s.appendToBuffer(kind, payload); bufErr != nil {
		return fmt.Errorf("store: insert failed (%w) and buffering failed: %v", lastErr, bufErr)
	}
	return nil
}

// DrainBuffer replays every buffered record through the normal insert
// path. A line that does not parse as a {kind,payload} record is skipped
// and dropped; a buffer file is removed once all its other lines have
// replayed, and is kept whole if any replay fails.
func (s *Store) DrainBuffer(ctx context.Context) error {
	if s.backupDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "buffer_") || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if err := s.drainBufferFile(ctx, filepath.Join(s.backupDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) drainBufferFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for _, line := range lines {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		var enc encryptedBufferLine
		if err := json.Unmarshal([]byte(raw), &enc); err == nil && enc.Enc != "" {
			if s.key == nil {
				return fmt.Errorf("store: buffered record in %s is encrypted but no key is configured", path)
			}
			ciphertext, err := base64.StdEncoding.DecodeString(enc.Enc)
			if err != nil {
				return fmt.Errorf("store: decode buffered record in %s: %w", path, err)
			}
			plain, err := s.key.open(ciphertext)
			if err != nil {
				return fmt.Errorf("store: open buffered record in %s: %w", path, err)
			}
			raw = string(plain)
		}

		var rec struct {
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if err := s.replayBufferedRecord(ctx, rec.Kind, rec.Payload); err != nil {
			return fmt.Errorf("store: replay %s buffer %s: %w", rec.Kind, path, err)
		}
	}
	return os.Remove(path)
}

func (s *Store) replayBufferedRecord(ctx context.Context, kind string, raw json.RawMessage) error {
	switch kind {
	case "wifi":
		var p WifiDeviceParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return s.upsertWifiDevice(ctx, p)
	case "bt":
		var p BtDeviceParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return s.upsertBtDevice(ctx, p)
	default:
		return fmt.Errorf("unknown buffered record kind %q", kind)
	}
}

func normalizeBSSID(v string) string {
	return geoutil.NormalizeMAC(v)
}
