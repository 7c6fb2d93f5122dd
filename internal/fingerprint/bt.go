package fingerprint

import (
	"sort"
	"strings"
	"time"
)

// btDeviceClasses is the fixed major|minor decode table, ported from
// original_source/src/fingerprinting/bt_fingerprint.py's BT_DEVICE_CLASSES.
var btDeviceClasses = map[int]string{
	0x000100: "Computer - Uncategorized",
	0x000104: "Computer - Desktop",
	0x000108: "Computer - Server",
	0x00010C: "Computer - Laptop",
	0x000110: "Computer - Handheld",
	0x000114: "Computer - Palm",
	0x000118: "Computer - Wearable",
	0x000200: "Phone - Uncategorized",
	0x000204: "Phone - Cellular",
	0x000208: "Phone - Cordless",
	0x00020C: "Phone - Smartphone",
	0x000210: "Phone - Wired Modem",
	0x000300: "LAN/Network Access",
	0x000400: "Audio/Video - Uncategorized",
	0x000404: "Audio/Video - Headset",
	0x000408: "Audio/Video - Hands-free",
	0x00040C: "Audio/Video - Microphone",
	0x000414: "Audio/Video - Loudspeaker",
	0x000418: "Audio/Video - Headphones",
	0x00041C: "Audio/Video - Portable Audio",
	0x000420: "Audio/Video - Car Audio",
	0x000424: "Audio/Video - Set-top Box",
	0x000428: "Audio/Video - HiFi Audio",
	0x00042C: "Audio/Video - VCR",
	0x000430: "Audio/Video - Video Camera",
	0x000434: "Audio/Video - Camcorder",
	0x000438: "Audio/Video - Video Monitor",
	0x00043C: "Audio/Video - Video Display/Speaker",
	0x000500: "Peripheral - Uncategorized",
	0x000540: "Peripheral - Keyboard",
	0x000580: "Peripheral - Mouse",
	0x0005C0: "Peripheral - Combo Keyboard/Mouse",
	0x000600: "Imaging - Uncategorized",
	0x000604: "Imaging - Display",
	0x000608: "Imaging - Camera",
	0x000610: "Imaging - Scanner",
	0x000620: "Imaging - Printer",
	0x000700: "Wearable - Uncategorized",
	0x000704: "Wearable - Watch",
	0x000708: "Wearable - Pager",
	0x00070C: "Wearable - Jacket",
	0x000710: "Wearable - Helmet",
	0x000714: "Wearable - Glasses",
	0x000800: "Toy - Uncategorized",
	0x000804: "Toy - Robot",
	0x000808: "Toy - Vehicle",
	0x00080C: "Toy - Doll",
	0x000810: "Toy - Controller",
	0x000814: "Toy - Game",
	0x000900: "Health - Uncategorized",
	0x000904: "Health - Blood Pressure Monitor",
	0x000908: "Health - Thermometer",
	0x00090C: "Health - Weighing Scale",
	0x000910: "Health - Glucose Meter",
	0x000914: "Health - Pulse Oximeter",
	0x000918: "Health - Heart Rate Monitor",
	0x00091C: "Health - Data Display",
}

// bleServiceUUIDs maps short (16-bit) BLE service UUIDs to names, for the
// device-type heuristic only (it never affects the hash).
var bleServiceUUIDs = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time",
	"1806": "Reference Time Update",
	"1807": "Next DST Change",
	"1808": "Glucose",
	"1809": "Health Thermometer",
	"180A": "Device Information",
	"180D": "Heart Rate",
	"180E": "Phone Alert Status",
	"180F": "Battery",
	"1810": "Blood Pressure",
	"1811": "Alert Notification",
	"1812": "Human Interface Device",
	"1813": "Scan Parameters",
	"1814": "Running Speed and Cadence",
	"1815": "Automation IO",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181A": "Environmental Sensing",
	"181B": "Body Composition",
	"181C": "User Data",
	"181D": "Weight Scale",
	"181E": "Bond Management",
	"181F": "Continuous Glucose Monitoring",
	"FE9F": "Google",
	"FD6F": "Apple Exposure Notification",
	"FEAA": "Google Eddystone",
}

const bleBaseUUIDSuffix = "00001000800000805F9B34FB"

func parseDeviceClass(class int) string {
	majorDevice := class & 0x001F00
	minorDevice := class & 0x0000FC
	full := majorDevice | minorDevice
	if name, ok := btDeviceClasses[full]; ok {
		return name
	}
	if name, ok := btDeviceClasses[majorDevice]; ok {
		return name
	}
	return "Unknown"
}

func parseServiceUUID(uuid string) string {
	short := strings.ToUpper(strings.ReplaceAll(uuid, "-", ""))
	if len(short) == 4 {
		if name, ok := bleServiceUUIDs[short]; ok {
			return name
		}
		return uuid
	}
	if len(short) == 32 && strings.HasSuffix(short, bleBaseUUIDSuffix) {
		prefix := strings.TrimLeft(short[:8], "0")
		if len(prefix) > 4 {
			prefix = prefix[len(prefix)-4:]
		}
		if name, ok := bleServiceUUIDs[prefix]; ok {
			return name
		}
	}
	return uuid
}

// BtCapabilities is the parsed Bluetooth feature set, Classic and BLE
// alike. Grounded on bt_fingerprint.py's BluetoothCapabilities.
type BtCapabilities struct {
	DeviceClass     int
	DeviceClassName string
	ServiceUUIDs    []string
	ServiceNames    []string
	IsBLE           bool
	IsClassic       bool
	IsDualMode      bool
	TxPower         *int
	ManufacturerID  *int
	LocalName       string
}

// BtProfile accumulates detections for a single MAC.
type BtProfile struct {
	MAC          string
	FirstSeen    time.Time
	LastSeen     time.Time
	NamesSeen    map[string]struct{}
	Capabilities BtCapabilities
	DetectionCount int
	RSSISamples  []int
}

const rssiHistoryMax = 100

func newBtProfile(mac string) *BtProfile {
	return &BtProfile{MAC: mac, NamesSeen: map[string]struct{}{}}
}

func (p *BtProfile) addDetection(name string, rssi int, ts time.Time) {
	if name != "" {
		p.NamesSeen[name] = struct{}{}
	}
	p.DetectionCount++
	p.RSSISamples = append(p.RSSISamples, rssi)
	if len(p.RSSISamples) > rssiHistoryMax {
		p.RSSISamples = p.RSSISamples[len(p.RSSISamples)-rssiHistoryMax:]
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = ts
	}
	p.LastSeen = ts
}

func extractBtCapabilities(class int, serviceUUIDs []string, isBLE, isClassic bool, manufID *int, txPower *int, localName string) BtCapabilities {
	caps := BtCapabilities{
		DeviceClass:     class,
		DeviceClassName: parseDeviceClass(class),
		IsBLE:           isBLE,
		IsClassic:       isClassic,
		IsDualMode:      isBLE && isClassic,
		ManufacturerID:  manufID,
		TxPower:         txPower,
		LocalName:       localName,
	}
	if len(serviceUUIDs) > 0 {
		set := map[string]struct{}{}
		names := make([]string, 0, len(serviceUUIDs))
		for _, u := range serviceUUIDs {
			norm := normalizeUUID(u)
			set[norm] = struct{}{}
			names = append(names, parseServiceUUID(norm))
		}
		caps.ServiceUUIDs = sortedKeys(set)
		caps.ServiceNames = names
	}
	return caps
}

func normalizeUUID(u string) string {
	return strings.ToUpper(strings.ReplaceAll(u, "-", ""))
}

func computeBtFingerprint(caps BtCapabilities) string {
	features := map[string]any{
		"device_class":    caps.DeviceClass,
		"service_uuids":   nonNilStrings(caps.ServiceUUIDs),
		"is_ble":          caps.IsBLE,
		"is_classic":      caps.IsClassic,
		"manufacturer_id": intPtrJSON(caps.ManufacturerID),
		"tx_power":        intPtrJSON(caps.TxPower),
	}
	return canonicalSHA256(features)
}

func intPtrJSON(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func identifyBtDeviceType(caps BtCapabilities) string {
	className := strings.ToLower(caps.DeviceClassName)
	switch {
	case strings.Contains(className, "phone") || strings.Contains(className, "smartphone"):
		return "smartphone"
	case strings.Contains(className, "laptop") || strings.Contains(className, "computer"):
		return "computer"
	case strings.Contains(className, "headset") || strings.Contains(className, "headphone") || strings.Contains(className, "audio"):
		return "audio"
	case strings.Contains(className, "keyboard"):
		return "keyboard"
	case strings.Contains(className, "mouse"):
		return "mouse"
	case strings.Contains(className, "watch") || strings.Contains(className, "wearable"):
		return "wearable"
	case strings.Contains(className, "health"):
		return "health_device"
	case strings.Contains(className, "toy"):
		return "toy"
	case strings.Contains(className, "printer") || strings.Contains(className, "imaging"):
		return "imaging"
	}

	serviceNames := strings.ToLower(strings.Join(caps.ServiceNames, " "))
	switch {
	case strings.Contains(serviceNames, "heart rate"):
		return "fitness_tracker"
	case strings.Contains(serviceNames, "blood pressure") || strings.Contains(serviceNames, "glucose"):
		return "health_device"
	case strings.Contains(serviceNames, "battery") && caps.IsBLE:
		return "ble_accessory"
	}

	if caps.ManufacturerID != nil {
		switch *caps.ManufacturerID {
		case 76:
			return "apple_device"
		case 117:
			return "samsung_device"
		case 6:
			return "microsoft_device"
		}
	}

	switch {
	case caps.IsBLE && !caps.IsClassic:
		return "ble_device"
	case caps.IsClassic:
		return "classic_bt_device"
	default:
		return "unknown"
	}
}

// isLikelyTrackable: classic-only devices are trackable; BLE devices with
// the locally-administered MAC bit set are not.
func isLikelyTrackable(mac string, caps BtCapabilities) bool {
	if caps.IsClassic && !caps.IsBLE {
		return true
	}
	return !macIsRandomized(mac)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
