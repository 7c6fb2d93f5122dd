package util

import (
	"regexp"
	"strings"
	"time"
)

var (
	macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
)

func IsMACAddress(s string) bool {
	return macRe.MatchString(strings.TrimSpace(s))
}

func NowTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// SafeName returns "Unknown" for an empty or MAC-address-shaped local
// name (some upstream records report the device's own MAC as its name
// when no real name was advertised).
func SafeName(localName string) string {
	name := strings.TrimSpace(localName)
	if name == "" {
		return "Unknown"
	}
	if IsMACAddress(name) {
		return "Unknown"
	}
	return name
}
