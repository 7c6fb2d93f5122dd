// Package fingerprint derives stable canonical fingerprints for Wi-Fi and
// Bluetooth devices from passive observations and accumulates behavioral
// profiles, grounded on
// original_source/src/fingerprinting/{wifi_fingerprint,bt_fingerprint,engine}.py.
package fingerprint

import (
	"sync"
	"time"

	"pible/internal/geoutil"
	"pible/internal/poller"
)

type Kind string

const (
	KindWifi      Kind = "wifi"
	KindBluetooth Kind = "bluetooth"
)

// Position is the minimal geotag the engine stamps onto every signature;
// it is the zero value when the engine has no PositionSource.
type Position struct {
	Lat, Lon float64
	Valid    bool
}

// PositionSource supplies the current position and its validity. The
// orchestrator implements it with an adapter over gpsservice.Service,
// whose own CurrentTuple returns altitude rather than a validity flag.
type PositionSource interface {
	CurrentTuple() (lat, lon float64, valid bool, ts time.Time)
}

// Signature is what on_signature subscribers receive: the kind, the hash,
// and a denormalized snapshot of the supporting data.
type Signature struct {
	Kind        Kind
	Hash        string
	MAC         string
	Position    Position
	DeviceType  string
	Randomized  bool
	Trackable   bool
	Timestamp   time.Time
	WifiData    *WifiSignatureData
	BtData      *BtSignatureData
}

type WifiSignatureData struct {
	SSIDs        []string
	Capabilities WifiCapabilities
}

type BtSignatureData struct {
	Name         string
	Capabilities BtCapabilities
	DetectionCount int
}

// Store is the subset of internal/store.Store the engine submits to when
// auto-store is enabled.
type Store interface {
	InsertSignature(sig Signature) error
}

type Engine struct {
	mu sync.Mutex

	wifiProfiles map[string]*ProbeProfile
	btProfiles   map[string]*BtProfile

	gps       PositionSource
	store     Store
	autoStore bool

	subscribers []func(Signature)
}

func New(gps PositionSource, store Store, autoStore bool) *Engine {
	return &Engine{
		wifiProfiles: map[string]*ProbeProfile{},
		btProfiles:   map[string]*BtProfile{},
		gps:          gps,
		store:        store,
		autoStore:    autoStore,
	}
}

func (e *Engine) OnSignature(cb func(Signature)) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, cb)
	e.mu.Unlock()
}

// OnWifiProbe records a probe observation and returns its fingerprint hash.
func (e *Engine) OnWifiProbe(mac, ssid string, rssi int, rates, extRates []int, htCaps, vhtCaps *int, heSupported bool, vendorIEs []VendorIE, ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	mac = geoutil.NormalizeMAC(mac)

	e.mu.Lock()
	profile, ok := e.wifiProfiles[mac]
	if !ok {
		profile = newProbeProfile(mac)
		e.wifiProfiles[mac] = profile
	}
	profile.addProbe(ssid, ts)
	caps := extractWifiCapabilities(rates, extRates, htCaps, vhtCaps, heSupported, vendorIEs)
	profile.Capabilities = caps
	hash := computeWifiFingerprint(caps, profile.ProbedSSIDs)
	deviceType := identifyWifiDeviceType(caps, len(vendorIEs))
	randomized := geoutil.IsRandomized(mac)
	ssids := sortedKeys(profile.ProbedSSIDs)
	cbs := append([]func(Signature){}, e.subscribers...)
	e.mu.Unlock()

	sig := Signature{
		Kind:       KindWifi,
		Hash:       hash,
		MAC:        mac,
		Position:   e.position(),
		DeviceType: deviceType,
		Randomized: randomized,
		Trackable:  !randomized,
		Timestamp:  ts,
		WifiData:   &WifiSignatureData{SSIDs: ssids, Capabilities: caps},
	}
	e.emit(sig, cbs)
	return hash
}

// OnBtDevice records a Bluetooth observation and returns its fingerprint hash.
func (e *Engine) OnBtDevice(mac string, name string, rssi int, class int, serviceUUIDs []string, isBLE, isClassic bool, manufID *int, txPower *int, ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	mac = geoutil.NormalizeMAC(mac)

	e.mu.Lock()
	profile, ok := e.btProfiles[mac]
	if !ok {
		profile = newBtProfile(mac)
		e.btProfiles[mac] = profile
	}
	profile.addDetection(name, rssi, ts)
	caps := extractBtCapabilities(class, serviceUUIDs, isBLE, isClassic, manufID, txPower, name)
	profile.Capabilities = caps
	hash := computeBtFingerprint(caps)
	deviceType := identifyBtDeviceType(caps)
	trackable := isLikelyTrackable(mac, caps)
	detectionCount := profile.DetectionCount
	cbs := append([]func(Signature){}, e.subscribers...)
	e.mu.Unlock()

	sig := Signature{
		Kind:       KindBluetooth,
		Hash:       hash,
		MAC:        mac,
		Position:   e.position(),
		DeviceType: deviceType,
		Randomized: geoutil.IsRandomized(mac),
		Trackable:  trackable,
		Timestamp:  ts,
		BtData:     &BtSignatureData{Name: name, Capabilities: caps, DetectionCount: detectionCount},
	}
	e.emit(sig, cbs)
	return hash
}

// OnExternalDevice dispatches a poller.DeviceRecord to the matching
// fingerprint path by its mapped kind.
func (e *Engine) OnExternalDevice(rec poller.DeviceRecord) string {
	switch rec.Kind {
	case poller.KindWifi:
		return e.OnWifiProbe(rec.MAC, rec.SSID, rec.RSSI, nil, nil, nil, nil, false, nil, rec.LastSeen)
	case poller.KindBluetooth:
		isBLE := rec.BtType == poller.BtBLE
		isClassic := rec.BtType == poller.BtClassic
		return e.OnBtDevice(rec.MAC, rec.Name, rec.RSSI, rec.BtClass, nil, isBLE, isClassic, nil, nil, rec.LastSeen)
	default:
		return ""
	}
}

func (e *Engine) position() Position {
	if e.gps == nil {
		return Position{}
	}
	lat, lon, valid, _ := e.gps.CurrentTuple()
	return Position{Lat: lat, Lon: lon, Valid: valid}
}

func (e *Engine) emit(sig Signature, cbs []func(Signature)) {
	for _, cb := range cbs {
		cb(sig)
	}
	if e.autoStore && e.store != nil {
		_ = e.store.InsertSignature(sig)
	}
}

// CorrelateRandomizedMACs groups currently-known randomized Wi-Fi MACs by
// shared fingerprint hash, surfacing devices likely to be the same
// physical device rotating its address.
func (e *Engine) CorrelateRandomizedMACs() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	groups := map[string][]string{}
	for mac, profile := range e.wifiProfiles {
		if !geoutil.IsRandomized(mac) {
			continue
		}
		hash := computeWifiFingerprint(profile.Capabilities, profile.ProbedSSIDs)
		groups[hash] = append(groups[hash], mac)
	}
	return groups
}

func (e *Engine) WifiProfile(mac string) (*ProbeProfile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.wifiProfiles[geoutil.NormalizeMAC(mac)]
	return p, ok
}

func (e *Engine) BtProfile(mac string) (*BtProfile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.btProfiles[geoutil.NormalizeMAC(mac)]
	return p, ok
}
