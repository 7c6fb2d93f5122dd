package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

// SysfsSource reads voltage_now (microvolts) from a Linux power_supply
// class device, generalizing the teacher's acpi-scrape shape
// (internal/util/battery.go) to a direct file read with no subprocess.
type SysfsSource struct {
	// Path is an explicit voltage_now file; when empty, the first
	// /sys/class/power_supply/*/voltage_now found is used.
	Path string
}

func (s SysfsSource) ReadVoltage() (float64, error) {
	path := s.Path
	if path == "" {
		const base = "/sys/class/power_supply"
		entries, err := os.ReadDir(base)
		if err != nil {
			return 0, fmt.Errorf("power: sysfs power_supply not available: %w", err)
		}
		for _, e := range entries {
			candidate := filepath.Join(base, e.Name(), "voltage_now")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return 0, fmt.Errorf("power: no voltage_now file found")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	microvolts, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("power: parse %s: %w", path, err)
	}
	return float64(microvolts) / 1_000_000.0, nil
}

// I2CSource reads a raw register from an I2C bus device file and applies a
// linear scale factor, the Go equivalent of the original's INA219-style
// smbus read (original_source/src/drone/power_monitor.py).
type I2CSource struct {
	BusPath string // e.g. /dev/i2c-1
	Addr    uint8
	Reg     uint8
	Scale   float64 // volts per raw count
}

func (s I2CSource) ReadVoltage() (float64, error) {
	f, err := os.OpenFile(s.BusPath, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("power: open i2c bus: %w", err)
	}
	defer f.Close()
	if err := ioctlSetSlave(f.Fd(), s.Addr); err != nil {
		return 0, fmt.Errorf("power: i2c set slave: %w", err)
	}
	if _, err := f.Write([]byte{s.Reg}); err != nil {
		return 0, fmt.Errorf("power: i2c write register: %w", err)
	}
	buf := make([]byte, 2)
	if _, err := f.Read(buf); err != nil {
		return 0, fmt.Errorf("power: i2c read: %w", err)
	}
	raw := int(buf[0])<<8 | int(buf[1])
	return float64(raw) * s.Scale, nil
}

// UPowerSource reads the Percentage property off a UPower D-Bus device
// object and converts it to an approximate pack voltage. This is the one
// place the teacher's github.com/godbus/dbus/v5 dependency is used, since
// UPower is reached over the system bus exactly like BlueZ was in the
// teacher's preflight code.
type UPowerSource struct {
	ObjectPath string // e.g. /org/freedesktop/UPower/devices/battery_BAT0
	NominalV   float64
}

func (s UPowerSource) ReadVoltage() (float64, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return 0, fmt.Errorf("power: dbus connect: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.UPower", dbus.ObjectPath(s.ObjectPath))
	v, err := obj.GetProperty("org.freedesktop.UPower.Device.Percentage")
	if err != nil {
		return 0, fmt.Errorf("power: upower property: %w", err)
	}
	pct, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("power: unexpected upower percentage type")
	}
	// Approximate a voltage reading from state-of-charge against a nominal
	// pack voltage; UPower does not universally expose raw voltage.
	return s.NominalV * (0.8 + 0.2*pct/100.0), nil
}
