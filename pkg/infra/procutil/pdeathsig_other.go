//go:build !linux && !windows

package procutil

import "syscall"

// Parent-death signalling is a Linux prctl feature; other Unixes rely on
// the process group plus the orphan reaper.
func setParentDeathSignal(attr *syscall.SysProcAttr) {}
