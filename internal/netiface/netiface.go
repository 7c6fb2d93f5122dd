// Package netiface enumerates and restores monitor-mode Wi-Fi interfaces
// on the core's exit paths (spec §4.6, §6.4). Grounded on the teacher's
// internal/bluetooth/interfaces.go: the same sysfs-glob-plus-exec-fallback
// enumeration shape, retargeted from HCI controllers to `iw`/
// /sys/class/net Wi-Fi interfaces.
package netiface

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pible/internal/util"
)

// Hand-off files written by the external startup script (§6.4), read by
// the restore path so it can target the exact interface it was handed
// rather than guessing.
var (
	MonitorIfaceFile  = "/tmp/airdump_monitor_iface"
	OriginalIfaceFile = "/tmp/airdump_original_iface"
)

// arphrdIEEE80211Radiotap is the Linux ARPHRD_* constant exposed by
// /sys/class/net/<iface>/type for a monitor-mode 802.11 interface.
const arphrdIEEE80211Radiotap = "803"

// MonitorInterfaces enumerates network interfaces currently in
// monitor mode by reading each /sys/class/net/*/type file, falling back
// to parsing `iw dev` output whenever sysfs yields no monitor-mode
// interface (including when sysfs is unavailable, e.g. under a restricted
// container during tests).
func MonitorInterfaces() []string {
	var out []string
	if matches, _ := filepath.Glob("/sys/class/net/*"); len(matches) > 0 {
		for _, p := range matches {
			name := filepath.Base(p)
			typ := readSysfsText(filepath.Join(p, "type"))
			if typ == arphrdIEEE80211Radiotap {
				out = append(out, name)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return monitorInterfacesFromIW()
}

func monitorInterfacesFromIW() []string {
	cmd := exec.Command("iw", "dev")
	raw, err := cmd.CombinedOutput()
	if err != nil {
		return nil
	}
	var out []string
	cur := ""
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		l := strings.TrimSpace(string(line))
		switch {
		case strings.HasPrefix(l, "Interface "):
			cur = strings.TrimPrefix(l, "Interface ")
		case strings.HasPrefix(l, "type ") && cur != "":
			if strings.TrimPrefix(l, "type ") == "monitor" {
				out = append(out, cur)
			}
			cur = ""
		}
	}
	return out
}

func readSysfsText(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// readHandoff reads the monitor/original interface names left by the
// startup script, returning "" for either that is missing or empty.
func readHandoff() (monitor, original string) {
	monitor = readSysfsText(MonitorIfaceFile)
	original = readSysfsText(OriginalIfaceFile)
	return monitor, original
}

// CommandRunner abstracts the exec.Command surface the restore path
// drives, so tests can observe "the restoration procedure is invoked
// with wlan0mon" without a real radio present.
type CommandRunner func(ctx context.Context, name string, args ...string) error

var defaultRunner CommandRunner = func(ctx context.Context, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return nil
	}
	return exec.CommandContext(ctx, name, args...).Run()
}

// Restorer drives the managed-mode restore procedure against an
// injectable CommandRunner, the test hook referenced by §8 scenario 6.
type Restorer struct {
	Run CommandRunner
	// existsFunc overrides interfaceExists for tests that fake
	// interfaces outside of sysfs.
	existsFunc func(string) bool
}

// NewRestorer returns a Restorer using the real exec.Command surface.
func NewRestorer() *Restorer {
	return &Restorer{Run: defaultRunner}
}

// RestoreManagedMode implements restore_managed_mode() (§4.6 step 3):
// it prefers the saved hand-off interface name, falling back to
// auto-detecting any interface still in monitor mode, and sets it back
// to managed mode via `iw`. Safe to call when no monitor interface is
// present (returns nil).
func (r *Restorer) RestoreManagedMode(ctx context.Context) error {
	monitor, _ := readHandoff()
	if monitor == "" {
		detected := MonitorInterfaces()
		if len(detected) == 0 {
			return nil
		}
		monitor = detected[0]
	}

	exists := interfaceExists
	if r.existsFunc != nil {
		exists = r.existsFunc
	}
	if !exists(monitor) {
		return nil
	}

	run := r.Run
	if run == nil {
		run = defaultRunner
	}

	if err := run(ctx, "ip", "link", "set", monitor, "down"); err != nil {
		return fmt.Errorf("netiface: set %s down: %w", monitor, err)
	}
	if err := run(ctx, "iw", "dev", monitor, "set", "type", "managed"); err != nil {
		return fmt.Errorf("netiface: set %s managed: %w", monitor, err)
	}
	if err := run(ctx, "ip", "link", "set", monitor, "up"); err != nil {
		// Bringing the link back up is best-effort: NetworkManager will
		// usually do this itself once restarted.
		util.Linef("[NETIFACE]", util.ColorYellow, "failed to bring %s up: %v", monitor, err)
	}
	return nil
}

// RestoreManagedMode is the package-level convenience entry point using
// the real command surface.
func RestoreManagedMode(ctx context.Context) error {
	return NewRestorer().RestoreManagedMode(ctx)
}

func interfaceExists(name string) bool {
	_, err := os.Stat(filepath.Join("/sys/class/net", name))
	return err == nil
}

// RestartNetworkManager restarts the host's network manager service if
// one is active, mirroring the teacher's bluetooth-service restart
// (internal/bluetooth/preflight.go) via the same util.RestartService
// exec-with-context helper.
func RestartNetworkManager(ctx context.Context) error {
	if !util.HasSystemctl() {
		return nil
	}
	if util.ServiceIsActive(ctx, "NetworkManager") {
		return util.RestartService(ctx, "NetworkManager")
	}
	if util.ServiceIsActive(ctx, "wpa_supplicant") {
		return util.RestartService(ctx, "wpa_supplicant")
	}
	return nil
}
