//go:build linux

package power

import "golang.org/x/sys/unix"

const i2cSlave = 0x0703

func ioctlSetSlave(fd uintptr, addr uint8) error {
	return unix.IoctlSetInt(int(fd), i2cSlave, int(addr))
}
