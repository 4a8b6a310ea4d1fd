//go:build linux

package procutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = unix.SIGKILL
}
