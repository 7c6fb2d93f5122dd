package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
)

// sealFingerprintData encrypts the fingerprint_data JSON blob at rest
// when encryption_enabled is set; it is a no-op (returned unchanged)
// otherwise. There is no corresponding decrypt call site: nothing in the
// tree reads fingerprint_data back out of the store today, so this is a
// write-only seal, matching §4.5's "sensitive device columns" wording.
func (s *Store) sealFingerprintData(v *string) (*string, error) {
	if v == nil || s.key == nil {
		return v, nil
	}
	ciphertext, err := s.key.seal([]byte(*v))
	if err != nil {
		return nil, fmt.Errorf("store: seal fingerprint_data: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(ciphertext)
	return &enc, nil
}

// WifiDeviceParams is the upsert payload for a single Wi-Fi observation.
// Text fields are coalesced (kept unless the incoming pointer is
// non-nil), numeric/GPS/last_seen fields always replace, per §4.5.3.
type WifiDeviceParams struct {
	SessionID       string
	DeviceKey       string
	BSSID           string
	ESSID           *string
	DeviceClass     *string
	Channel         *int
	FreqMHz         *int
	SignalDBM       *int
	Encryption      *string
	Manuf           *string
	PacketsTotal    *int
	Lat, Lon, Alt   float64
	GeoValid        bool
	FingerprintHash *string
	FingerprintData *string
	IdentifiedAs    *string
	SeenByNodes     *string
	Timestamp       string
}

// InsertWifiDevice upserts a Wi-Fi observation with retry+buffer.
func (s *Store) InsertWifiDevice(ctx context.Context, p WifiDeviceParams) error {
	if p.DeviceKey == "" {
		return errEmptyKey
	}
	p.BSSID = normalizeBSSID(p.BSSID)
	if p.Timestamp == "" {
		p.Timestamp = nowTimestamp()
	}
	return s.retryInsert(ctx, "wifi", p, func(ctx context.Context) error {
		return s.upsertWifiDevice(ctx, p)
	})
}

func (s *Store) upsertWifiDevice(ctx context.Context, p WifiDeviceParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fpData, err := s.sealFingerprintData(p.FingerprintData)
	if err != nil {
		return err
	}
	p.FingerprintData = fpData

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM wifi_devices WHERE session_id = ? AND device_key = ?`, p.SessionID, p.DeviceKey).Scan(new(int))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else {
			return err
		}
	} else {
		exists = true
	}

	if !exists {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO wifi_devices (
	session_id, device_key, bssid, essid, type, channel, freq, signal_dbm,
	encryption, manuf, packets_total, first_seen, last_seen, lat, lon, alt,
	geo_valid, fingerprint_hash, fingerprint_data, is_known, identified_as, seen_by_nodes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			p.SessionID, p.DeviceKey, p.BSSID, optString(p.ESSID), optString(p.DeviceClass),
			optInt(p.Channel), optInt(p.FreqMHz), optInt(p.SignalDBM), optString(p.Encryption),
			optString(p.Manuf), optInt(p.PacketsTotal), p.Timestamp, p.Timestamp,
			p.Lat, p.Lon, p.Alt, boolToInt(p.GeoValid), optString(p.FingerprintHash),
			optString(p.FingerprintData), optString(p.IdentifiedAs), optString(p.SeenByNodes))
		return err
	}

	fields := make([]string, 0, 16)
	args := make([]any, 0, 16)
	coalesce := func(col string, v *string) {
		if v != nil {
			fields = append(fields, fmt.Sprintf("%s = ?", col))
			args = append(args, *v)
		}
	}
	coalesce("essid", p.ESSID)
	coalesce("type", p.DeviceClass)
	coalesce("encryption", p.Encryption)
	coalesce("manuf", p.Manuf)
	coalesce("fingerprint_hash", p.FingerprintHash)
	coalesce("fingerprint_data", p.FingerprintData)
	coalesce("identified_as", p.IdentifiedAs)
	coalesce("seen_by_nodes", p.SeenByNodes)

	if p.Channel != nil {
		fields = append(fields, "channel = ?")
		args = append(args, *p.Channel)
	}
	if p.FreqMHz != nil {
		fields = append(fields, "freq = ?")
		args = append(args, *p.FreqMHz)
	}
	if p.SignalDBM != nil {
		fields = append(fields, "signal_dbm = ?")
		args = append(args, *p.SignalDBM)
	}
	if p.PacketsTotal != nil {
		fields = append(fields, "packets_total = ?")
		args = append(args, *p.PacketsTotal)
	}

	fields = append(fields, "last_seen = ?", "lat = ?", "lon = ?", "alt = ?", "geo_valid = ?")
	args = append(args, p.Timestamp, p.Lat, p.Lon, p.Alt, boolToInt(p.GeoValid))

	args = append(args, p.SessionID, p.DeviceKey)
	q := fmt.Sprintf("UPDATE wifi_devices SET %s WHERE session_id = ? AND device_key = ?", join(fields))
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// BtDeviceParams is the Bluetooth counterpart of WifiDeviceParams.
type BtDeviceParams struct {
	SessionID       string
	DeviceKey       string
	MAC             string
	Name            *string
	DeviceClass     *string
	BtClass         *int
	RSSI            *int
	Manuf           *string
	ServiceUUIDs    *string
	Lat, Lon, Alt   float64
	GeoValid        bool
	FingerprintHash *string
	FingerprintData *string
	IdentifiedAs    *string
	SeenByNodes     *string
	Timestamp       string
}

func (s *Store) InsertBtDevice(ctx context.Context, p BtDeviceParams) error {
	if p.DeviceKey == "" {
		return errEmptyKey
	}
	p.MAC = normalizeBSSID(p.MAC)
	if p.Timestamp == "" {
		p.Timestamp = nowTimestamp()
	}
	return s.retryInsert(ctx, "bt", p, func(ctx context.Context) error {
		return s.upsertBtDevice(ctx, p)
	})
}

func (s *Store) upsertBtDevice(ctx context.Context, p BtDeviceParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fpData, err := s.sealFingerprintData(p.FingerprintData)
	if err != nil {
		return err
	}
	p.FingerprintData = fpData

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM bt_devices WHERE session_id = ? AND device_key = ?`, p.SessionID, p.DeviceKey).Scan(new(int))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else {
			return err
		}
	} else {
		exists = true
	}

	if !exists {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO bt_devices (
	session_id, device_key, mac, name, type, class, rssi, manuf, service_uuids,
	first_seen, last_seen, lat, lon, alt, geo_valid, fingerprint_hash,
	fingerprint_data, is_known, identified_as, seen_by_nodes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			p.SessionID, p.DeviceKey, p.MAC, optString(p.Name), optString(p.DeviceClass),
			optInt(p.BtClass), optInt(p.RSSI), optString(p.Manuf), optString(p.ServiceUUIDs),
			p.Timestamp, p.Timestamp, p.Lat, p.Lon, p.Alt, boolToInt(p.GeoValid),
			optString(p.FingerprintHash), optString(p.FingerprintData), optString(p.IdentifiedAs),
			optString(p.SeenByNodes))
		return err
	}

	fields := make([]string, 0, 16)
	args := make([]any, 0, 16)
	coalesce := func(col string, v *string) {
		if v != nil {
			fields = append(fields, fmt.Sprintf("%s = ?", col))
			args = append(args, *v)
		}
	}
	coalesce("name", p.Name)
	coalesce("type", p.DeviceClass)
	coalesce("manuf", p.Manuf)
	coalesce("service_uuids", p.ServiceUUIDs)
	coalesce("fingerprint_hash", p.FingerprintHash)
	coalesce("fingerprint_data", p.FingerprintData)
	coalesce("identified_as", p.IdentifiedAs)
	coalesce("seen_by_nodes", p.SeenByNodes)

	if p.BtClass != nil {
		fields = append(fields, "class = ?")
		args = append(args, *p.BtClass)
	}
	if p.RSSI != nil {
		fields = append(fields, "rssi = ?")
		args = append(args, *p.RSSI)
	}

	fields = append(fields, "last_seen = ?", "lat = ?", "lon = ?", "alt = ?", "geo_valid = ?")
	args = append(args, p.Timestamp, p.Lat, p.Lon, p.Alt, boolToInt(p.GeoValid))

	args = append(args, p.SessionID, p.DeviceKey)
	q := fmt.Sprintf("UPDATE bt_devices SET %s WHERE session_id = ? AND device_key = ?", join(fields))
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func join(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}
