//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"
)

// applySpawnAttrs puts the child in its own process group so a signal
// aimed at the parent's group does not take the server down mid-stop,
// and (on Linux) asks the kernel to SIGKILL the child if the parent
// dies without running cleanup.
func applySpawnAttrs(cmd *exec.Cmd) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	setParentDeathSignal(attr)
	cmd.SysProcAttr = attr
}

func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
