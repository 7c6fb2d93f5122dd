package fingerprint

import (
	"sort"
	"strings"
	"time"
)

// WifiCapabilities is the parsed 802.11 feature set a fingerprint hash is
// derived from. Grounded on
// original_source/src/fingerprinting/wifi_fingerprint.py's WiFiCapabilities.
type WifiCapabilities struct {
	Rates       []int
	HTSupported bool
	HTCaps      int
	VHTSupported bool
	VHTCaps     int
	HESupported bool
	WPSEnabled  bool
	VendorOUIs  []string
}

// VendorIE is a single vendor-specific information element, enough of it
// to detect WPS (OUI 00:50:F2, type 4) and to contribute an OUI to the
// fingerprint's vendor_ouis set.
type VendorIE struct {
	OUI  string
	Type string
}

// ProbeProfile accumulates what a single MAC has been observed to probe
// for and support, keyed on normalized MAC.
type ProbeProfile struct {
	MAC          string
	ProbedSSIDs  map[string]struct{}
	ProbeCount   int
	FirstSeen    time.Time
	LastSeen     time.Time
	Capabilities WifiCapabilities
}

func newProbeProfile(mac string) *ProbeProfile {
	return &ProbeProfile{MAC: mac, ProbedSSIDs: map[string]struct{}{}}
}

func (p *ProbeProfile) addProbe(ssid string, ts time.Time) {
	if ssid != "" {
		p.ProbedSSIDs[ssid] = struct{}{}
	}
	p.ProbeCount++
	if p.FirstSeen.IsZero() {
		p.FirstSeen = ts
	}
	p.LastSeen = ts
}

func extractWifiCapabilities(rates, extRates []int, htCaps, vhtCaps *int, heSupported bool, vendorIEs []VendorIE) WifiCapabilities {
	caps := WifiCapabilities{
		Rates: mergeRates(rates, extRates),
	}
	if htCaps != nil {
		caps.HTSupported = true
		caps.HTCaps = *htCaps
	}
	if vhtCaps != nil {
		caps.VHTSupported = true
		caps.VHTCaps = *vhtCaps
	}
	caps.HESupported = heSupported

	ouiSet := map[string]struct{}{}
	for _, ie := range vendorIEs {
		if ie.OUI != "" {
			ouiSet[ie.OUI] = struct{}{}
		}
		if strings.EqualFold(ie.OUI, "00:50:F2") && ie.Type == "4" {
			caps.WPSEnabled = true
		}
	}
	caps.VendorOUIs = sortedKeys(ouiSet)
	return caps
}

func mergeRates(a, b []int) []int {
	out := append([]int{}, a...)
	out = append(out, b...)
	sort.Ints(out)
	return out
}

// computeWifiFingerprint builds the canonical feature vector and hashes
// it. probeSSIDs may be nil.
func computeWifiFingerprint(caps WifiCapabilities, probeSSIDs map[string]struct{}) string {
	features := map[string]any{
		"rates":       caps.Rates,
		"ht":          caps.HTSupported,
		"ht_caps":     caps.HTCaps,
		"vht":         caps.VHTSupported,
		"vht_caps":    caps.VHTCaps,
		"he":          caps.HESupported,
		"wps":         caps.WPSEnabled,
		"vendor_ouis": nonNilStrings(caps.VendorOUIs),
	}
	if len(probeSSIDs) > 0 {
		features["probe_ssids"] = sortedKeys(probeSSIDs)
	}
	return canonicalSHA256(features)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// identifyWifiDeviceType applies the fixed precedence order from §4.4.1.
func identifyWifiDeviceType(caps WifiCapabilities, vendorIECount int) string {
	switch {
	case caps.VHTSupported && caps.HTSupported && len(caps.Rates) >= 8:
		return "smartphone"
	case caps.VHTSupported && vendorIECount > 3:
		return "laptop"
	case !caps.HTSupported && len(caps.Rates) <= 4:
		return "iot"
	case !caps.HTSupported && containsInt(caps.Rates, 54):
		return "legacy_g"
	case !caps.HTSupported && maxInt(caps.Rates) <= 11:
		return "legacy_b"
	default:
		return "unknown"
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func maxInt(xs []int) int {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
