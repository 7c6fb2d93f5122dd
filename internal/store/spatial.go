package store

import (
	"context"

	"pible/internal/geoutil"
)

type NearbyDevice struct {
	Kind           string
	DeviceKey      string
	Identifier     string
	Lat, Lon       float64
	DegreeDistance float64
}

// DevicesWithin returns wifi and bt devices whose stored coordinates lie
// inside the bounding box around (lat, lon), ordered ascending by squared
// degree distance (not haversine-corrected; callers wanting true
// on-sphere ordering must post-filter with geoutil.Haversine).
func (s *Store) DevicesWithin(ctx context.Context, lat, lon, radiusM float64, sessionID string) ([]NearbyDevice, error) {
	minLat, maxLat, minLon, maxLon := geoutil.BoundingBox(lat, lon, radiusM)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []NearbyDevice

	wifiRows, err := s.db.QueryContext(ctx, `
SELECT device_key, bssid, lat, lon FROM wifi_devices
WHERE geo_valid = 1 AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
  AND (? = '' OR session_id = ?)`, minLat, maxLat, minLon, maxLon, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer wifiRows.Close()
	for wifiRows.Next() {
		var d NearbyDevice
		if err := wifiRows.Scan(&d.DeviceKey, &d.Identifier, &d.Lat, &d.Lon); err != nil {
			return nil, err
		}
		d.Kind = "wifi"
		d.DegreeDistance = geoutil.DegreeSq(lat, lon, d.Lat, d.Lon)
		out = append(out, d)
	}
	if err := wifiRows.Err(); err != nil {
		return nil, err
	}

	btRows, err := s.db.QueryContext(ctx, `
SELECT device_key, mac, lat, lon FROM bt_devices
WHERE geo_valid = 1 AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
  AND (? = '' OR session_id = ?)`, minLat, maxLat, minLon, maxLon, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer btRows.Close()
	for btRows.Next() {
		var d NearbyDevice
		if err := btRows.Scan(&d.DeviceKey, &d.Identifier, &d.Lat, &d.Lon); err != nil {
			return nil, err
		}
		d.Kind = "bluetooth"
		d.DegreeDistance = geoutil.DegreeSq(lat, lon, d.Lat, d.Lon)
		out = append(out, d)
	}
	if err := btRows.Err(); err != nil {
		return nil, err
	}

	sortByDegreeDistance(out)
	return out, nil
}

func sortByDegreeDistance(devices []NearbyDevice) {
	for i := 1; i < len(devices); i++ {
		for j := i; j > 0 && devices[j].DegreeDistance < devices[j-1].DegreeDistance; j-- {
			devices[j], devices[j-1] = devices[j-1], devices[j]
		}
	}
}
