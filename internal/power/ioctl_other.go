//go:build !linux

package power

import "fmt"

func ioctlSetSlave(fd uintptr, addr uint8) error {
	return fmt.Errorf("power: i2c voltage source requires linux")
}
