package fingerprint

import (
	"testing"
	"time"
)

func testTime() time.Time { return time.Unix(1700000000, 0).UTC() }

func TestWifiFingerprintDeterministic(t *testing.T) {
	e := New(nil, nil, false)
	rates := []int{6, 12, 24, 48}
	h1 := e.OnWifiProbe("AA:BB:CC:DD:EE:FF", "HomeWiFi", -45, rates, nil, nil, nil, false, nil, testTime())
	h2 := e.OnWifiProbe("AA:BB:CC:DD:EE:FF", "HomeWiFi", -45, rates, nil, nil, nil, false, nil, testTime())
	if h1 != h2 {
		t.Fatalf("expected identical feature vectors to hash identically, got %s != %s", h1, h2)
	}
}

func TestWifiFingerprintChangesWithCapabilities(t *testing.T) {
	e := New(nil, nil, false)
	ht := 0x1234
	h1 := e.OnWifiProbe("AA:BB:CC:DD:EE:01", "ssid", -50, []int{6, 12}, nil, nil, nil, false, nil, testTime())
	h2 := e.OnWifiProbe("AA:BB:CC:DD:EE:01", "ssid", -50, []int{6, 12}, nil, &ht, nil, false, nil, testTime())
	if h1 == h2 {
		t.Fatal("expected ht capability to change the hash")
	}
}

func TestBtFingerprintDeterministic(t *testing.T) {
	e := New(nil, nil, false)
	h1 := e.OnBtDevice("11:22:33:44:55:66", "Headphones", -60, 0x000418, []string{"180F", "180A"}, true, false, nil, nil, testTime())
	h2 := e.OnBtDevice("11:22:33:44:55:66", "Headphones", -60, 0x000418, []string{"180f", "180a"}, true, false, nil, nil, testTime())
	if h1 != h2 {
		t.Fatalf("expected case-folded UUIDs to hash identically, got %s != %s", h1, h2)
	}
}

func TestDeviceClassDecodeFallsBackToMajor(t *testing.T) {
	name := parseDeviceClass(0x000410) // unknown minor within Audio/Video major
	if name != "Audio/Video - Uncategorized" {
		t.Fatalf("expected fallback to major class name, got %q", name)
	}
}

func TestIdentifyWifiDeviceTypePrecedence(t *testing.T) {
	caps := WifiCapabilities{HTSupported: true, VHTSupported: true, Rates: []int{6, 9, 12, 18, 24, 36, 48, 54}}
	if got := identifyWifiDeviceType(caps, 1); got != "smartphone" {
		t.Fatalf("expected smartphone, got %s", got)
	}
}

func TestTrackabilityHeuristic(t *testing.T) {
	classicCaps := BtCapabilities{IsClassic: true}
	if !isLikelyTrackable("00:11:22:33:44:55", classicCaps) {
		t.Fatal("classic-only device should be trackable")
	}
	bleCaps := BtCapabilities{IsBLE: true}
	if isLikelyTrackable("02:11:22:33:44:55", bleCaps) {
		t.Fatal("randomized BLE MAC should not be trackable")
	}
}

func TestOnSignatureSubscriberReceivesPosition(t *testing.T) {
	e := New(fixedGPS{lat: 1.5, lon: 2.5, valid: true}, nil, false)
	var got Signature
	e.OnSignature(func(s Signature) { got = s })
	e.OnBtDevice("AA:AA:AA:AA:AA:AA", "x", -70, 0, nil, true, false, nil, nil, testTime())
	if !got.Position.Valid || got.Position.Lat != 1.5 {
		t.Fatalf("expected signature to carry gps position, got %+v", got.Position)
	}
}

func TestCorrelateRandomizedMACsGroupsByHash(t *testing.T) {
	e := New(nil, nil, false)
	rates := []int{6, 12}
	e.OnWifiProbe("02:11:22:33:44:55", "ssid", -50, rates, nil, nil, nil, false, nil, testTime())
	e.OnWifiProbe("02:66:77:88:99:00", "ssid", -50, rates, nil, nil, nil, false, nil, testTime())
	e.OnWifiProbe("A0:11:22:33:44:55", "ssid", -50, rates, nil, nil, nil, false, nil, testTime())

	groups := e.CorrelateRandomizedMACs()
	found := false
	for _, macs := range groups {
		if len(macs) == 2 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the two randomized MACs with identical capabilities to group together")
	}
}

type fixedGPS struct {
	lat, lon float64
	valid    bool
}

func (f fixedGPS) CurrentTuple() (float64, float64, bool, time.Time) {
	return f.lat, f.lon, f.valid, time.Time{}
}
