// Package poller implements the upstream device poller: it polls the
// external capture daemon's REST inventory, maps raw records into typed
// device records, and delivers new/update events. Grounded on
// original_source/src/scanners/kismet_controller.py for the polling and
// type-mapping semantics, expressed with net/http and a sync.Mutex device
// cache in the teacher's goroutine+ticker reconnect-loop idiom
// (internal/gps/state.go).
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pible/internal/util"
)

var ErrUpstreamUnreachable = errors.New("poller: upstream unreachable")

type Kind string

const (
	KindWifi      Kind = "wifi"
	KindBluetooth Kind = "bluetooth"
	KindUnknown   Kind = "unknown"
)

type BtType string

const (
	BtClassic BtType = "classic"
	BtBLE     BtType = "ble"
)

// DeviceRecord is the typed record the poller hands to the fingerprint
// engine, after mapping upstream raw type labels per the rule in §4.2.
type DeviceRecord struct {
	Kind Kind

	MAC       string
	Name      string
	FirstSeen time.Time
	LastSeen  time.Time
	Channel   int
	FreqMHz   int
	RSSI      int
	Manuf     string
	Packets   int
	DeviceKey string

	// Wi-Fi specific. WifiType is the §3 WifiDevice.type sub-classification
	// (ap/client/bridge/adhoc/unknown), distinct from Kind which only
	// distinguishes wifi/bluetooth/unknown.
	SSID       string
	Encryption string
	ProbeSSIDs []string
	WifiType   string

	// Bluetooth specific.
	BtType BtType
	BtClass int
}

type Config struct {
	Host         string
	Port         int
	User         string
	Pass         string
	Token        string
	PollInterval time.Duration
}

type Source struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Hopping bool   `json:"hopping"`
}

type Poller struct {
	cfg     Config
	client  *http.Client
	baseURL string

	mu        sync.Mutex
	devices   map[string]DeviceRecord
	sinceTS   int64
	hasPolled bool

	onNew    []func(DeviceRecord)
	onUpdate []func(DeviceRecord)
}

func New(cfg Config) *Poller {
	return &Poller{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		devices: map[string]DeviceRecord{},
	}
}

func (p *Poller) OnNew(cb func(DeviceRecord))    { p.mu.Lock(); p.onNew = append(p.onNew, cb); p.mu.Unlock() }
func (p *Poller) OnUpdate(cb func(DeviceRecord)) { p.mu.Lock(); p.onUpdate = append(p.onUpdate, cb); p.mu.Unlock() }

func (p *Poller) CheckConnection(ctx context.Context) bool {
	_, err := p.apiGet(ctx, "/system/status.json", nil)
	return err == nil
}

// Start runs the poll loop until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				corrID := uuid.NewString()
				util.Linef("[POLLER]", util.ColorYellow, "poll failed (id=%s): %v", corrID, err)
				log.Printf("poller: poll failed (id=%s): %v", corrID, err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	body := map[string]any{
		"fields": []string{
			"kismet.device.base.macaddr",
			"kismet.device.base.name",
			"kismet.device.base.type",
			"kismet.device.base.first_time",
			"kismet.device.base.last_time",
			"kismet.device.base.channel",
			"kismet.device.base.frequency",
			"kismet.device.base.signal/kismet.common.signal.last_signal",
			"kismet.device.base.manuf",
			"kismet.device.base.packets.total",
			"kismet.device.base.key",
		},
	}

	p.mu.Lock()
	if p.hasPolled {
		body["last_time"] = p.sinceTS
	}
	p.mu.Unlock()

	raw, err := p.apiPost(ctx, "/devices/views/all/devices.json", body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("poller: decode device list: %w", err)
	}

	for _, r := range records {
		rec := mapRecord(r)
		if rec.MAC == "" {
			continue
		}
		p.mu.Lock()
		existing, ok := p.devices[rec.MAC]
		p.devices[rec.MAC] = rec
		cbsNew := append([]func(DeviceRecord){}, p.onNew...)
		cbsUpd := append([]func(DeviceRecord){}, p.onUpdate...)
		p.mu.Unlock()

		if !ok {
			for _, cb := range cbsNew {
				cb(rec)
			}
		} else {
			_ = existing
			for _, cb := range cbsUpd {
				cb(rec)
			}
		}
	}

	p.mu.Lock()
	p.sinceTS = time.Now().Unix()
	p.hasPolled = true
	p.mu.Unlock()
	return nil
}

// mapRecord applies the raw-type-label-to-Kind rule from §4.2: the rule,
// not the upstream field names, is the contract.
func mapRecord(raw map[string]any) DeviceRecord {
	rec := DeviceRecord{}
	rec.MAC = firstNonEmptyString(raw, "kismet.device.base.macaddr", "bssid", "mac")
	rec.Name = stringOf(raw["kismet.device.base.name"])
	rec.Manuf = stringOf(raw["kismet.device.base.manuf"])
	rec.Channel = intOf(raw["kismet.device.base.channel"])
	rec.FreqMHz = intOf(raw["kismet.device.base.frequency"])
	rec.RSSI = intOf(raw["kismet.device.base.signal/kismet.common.signal.last_signal"])
	rec.Packets = intOf(raw["kismet.device.base.packets.total"])
	rec.DeviceKey = stringOf(raw["kismet.device.base.key"])

	rawType := stringOf(raw["kismet.device.base.type"])
	switch {
	case strings.HasPrefix(rawType, "Wi-Fi"):
		rec.Kind = KindWifi
		rec.SSID = firstNonEmptyString(raw, "essid", "ssid")
		rec.Encryption = stringOf(raw["encryption"])
		rec.WifiType = wifiSubType(rawType)
	case rawType == "BR/EDR":
		rec.Kind = KindBluetooth
		rec.BtType = BtClassic
	case rawType == "BTLE":
		rec.Kind = KindBluetooth
		rec.BtType = BtBLE
	default:
		rec.Kind = KindUnknown
	}

	rec.FirstSeen = timeOf(raw["kismet.device.base.first_time"])
	rec.LastSeen = timeOf(raw["kismet.device.base.last_time"])
	return rec
}

// wifiSubType maps a raw "Wi-Fi ..." type label to the §3 WifiDevice.type
// enum (ap/client/bridge/adhoc/unknown).
func wifiSubType(rawType string) string {
	switch {
	case strings.Contains(rawType, "AP"):
		return "ap"
	case strings.Contains(rawType, "Client"):
		return "client"
	case strings.Contains(rawType, "Bridge"):
		return "bridge"
	case strings.Contains(rawType, "Ad-Hoc"), strings.Contains(rawType, "Adhoc"):
		return "adhoc"
	default:
		return "unknown"
	}
}

func firstNonEmptyString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringOf(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func intOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func timeOf(v any) time.Time {
	switch t := v.(type) {
	case float64:
		if t == 0 {
			return time.Time{}
		}
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

// Count returns {wifi, bluetooth, total}.
func (p *Poller) Count() (wifi, bluetooth, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.devices {
		switch d.Kind {
		case KindWifi:
			wifi++
		case KindBluetooth:
			bluetooth++
		}
	}
	return wifi, bluetooth, len(p.devices)
}

// Devices returns every cached device record, optionally filtered to
// those last seen at or after sinceTS (unix seconds); sinceTS <= 0 means
// no filter, per the §4.2 `devices(since_ts?)` contract.
func (p *Poller) Devices(sinceTS int64) []DeviceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DeviceRecord, 0, len(p.devices))
	for _, d := range p.devices {
		if sinceTS > 0 && !d.LastSeen.IsZero() && d.LastSeen.Unix() < sinceTS {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (p *Poller) apiGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return p.apiRequest(ctx, http.MethodGet, path, nil)
}

func (p *Poller) apiPost(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return p.apiRequest(ctx, http.MethodPost, path, bytes.NewReader(b))
}

func (p *Poller) apiRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.Token != "" {
		req.Header.Set("KISMET", p.cfg.Token)
	} else if p.cfg.User != "" {
		req.SetBasicAuth(p.cfg.User, p.cfg.Pass)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

// SetChannel issues set_channel.cmd for a source.
func (p *Poller) SetChannel(ctx context.Context, sourceID, channel string) error {
	_, err := p.apiPost(ctx, fmt.Sprintf("/datasource/by-uuid/%s/set_channel.cmd", sourceID), map[string]any{"channel": channel})
	return err
}

// SetHop issues set_hop.cmd with an explicit channel list and rate.
func (p *Poller) SetHop(ctx context.Context, sourceID string, channels []string, rate float64) error {
	_, err := p.apiPost(ctx, fmt.Sprintf("/datasource/by-uuid/%s/set_hop.cmd", sourceID), map[string]any{
		"channels": channels,
		"rate":     rate,
	})
	return err
}

func (p *Poller) EnableHop(ctx context.Context, sourceID string) error {
	_, err := p.apiPost(ctx, fmt.Sprintf("/datasource/by-uuid/%s/set_hop.cmd", sourceID), map[string]any{"hop": true})
	return err
}

func (p *Poller) DisableHop(ctx context.Context, sourceID string) error {
	_, err := p.apiPost(ctx, fmt.Sprintf("/datasource/by-uuid/%s/set_hop.cmd", sourceID), map[string]any{"hop": false})
	return err
}

// Sources fetches the configured datasources.
func (p *Poller) Sources(ctx context.Context) ([]Source, error) {
	raw, err := p.apiGet(ctx, "/datasource/all_sources.json", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	var sources []Source
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil, fmt.Errorf("poller: decode sources: %w", err)
	}
	return sources, nil
}
