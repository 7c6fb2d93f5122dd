package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMapRecordWifi(t *testing.T) {
	raw := map[string]any{
		"kismet.device.base.macaddr": "AA:BB:CC:DD:EE:FF",
		"kismet.device.base.type":    "Wi-Fi AP",
		"essid":                      "coffeehouse",
	}
	rec := mapRecord(raw)
	if rec.Kind != KindWifi {
		t.Fatalf("expected wifi, got %v", rec.Kind)
	}
	if rec.SSID != "coffeehouse" {
		t.Errorf("unexpected ssid %q", rec.SSID)
	}
}

func TestMapRecordBluetoothClassicAndBLE(t *testing.T) {
	classic := mapRecord(map[string]any{
		"kismet.device.base.macaddr": "11:22:33:44:55:66",
		"kismet.device.base.type":    "BR/EDR",
	})
	if classic.Kind != KindBluetooth || classic.BtType != BtClassic {
		t.Fatalf("expected bluetooth/classic, got %v/%v", classic.Kind, classic.BtType)
	}

	ble := mapRecord(map[string]any{
		"kismet.device.base.macaddr": "11:22:33:44:55:77",
		"kismet.device.base.type":    "BTLE",
	})
	if ble.Kind != KindBluetooth || ble.BtType != BtBLE {
		t.Fatalf("expected bluetooth/ble, got %v/%v", ble.Kind, ble.BtType)
	}
}

func TestMapRecordUnknownTypeStillEmitted(t *testing.T) {
	rec := mapRecord(map[string]any{
		"kismet.device.base.macaddr": "00:11:22:33:44:55",
		"kismet.device.base.type":    "Zigbee",
	})
	if rec.Kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %v", rec.Kind)
	}
	if rec.MAC == "" {
		t.Fatal("expected unknown-type record to still carry its MAC")
	}
}

func TestPollOnceAdvancesSinceTSOnlyOnSuccess(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	p := New(Config{Host: "127.0.0.1", Port: 0})
	p.baseURL = srv.URL

	if err := p.pollOnce(context.Background()); err == nil {
		t.Fatal("expected first poll to fail")
	}
	p.mu.Lock()
	hadPolled := p.hasPolled
	p.mu.Unlock()
	if hadPolled {
		t.Fatal("since_ts must not advance on transport error")
	}

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("expected second poll to succeed: %v", err)
	}
	p.mu.Lock()
	hadPolled = p.hasPolled
	p.mu.Unlock()
	if !hadPolled {
		t.Fatal("expected since_ts to advance after a successful poll")
	}
}

func TestNewDeviceFiresOnNewNotOnUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"kismet.device.base.macaddr": "AA:BB:CC:00:00:01", "kismet.device.base.type": "Wi-Fi AP"},
		})
	}))
	defer srv.Close()

	p := New(Config{PollInterval: time.Millisecond})
	p.baseURL = srv.URL

	newCount, updCount := 0, 0
	p.OnNew(func(DeviceRecord) { newCount++ })
	p.OnUpdate(func(DeviceRecord) { updCount++ })

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if newCount != 1 {
		t.Errorf("expected exactly 1 new-device callback, got %d", newCount)
	}
	if updCount != 1 {
		t.Errorf("expected exactly 1 update callback, got %d", updCount)
	}
}

func TestCount(t *testing.T) {
	p := New(Config{})
	p.devices = map[string]DeviceRecord{
		"a": {Kind: KindWifi},
		"b": {Kind: KindBluetooth},
		"c": {Kind: KindBluetooth},
		"d": {Kind: KindUnknown},
	}
	wifi, bt, total := p.Count()
	if wifi != 1 || bt != 2 || total != 4 {
		t.Fatalf("unexpected counts wifi=%d bt=%d total=%d", wifi, bt, total)
	}
}
