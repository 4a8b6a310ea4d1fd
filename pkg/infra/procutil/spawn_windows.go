//go:build windows

package procutil

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// applySpawnAttrs hides the console window the server would otherwise
// pop up and detaches it from the parent's ctrl-event group.
func applySpawnAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no SIGTERM equivalent for a detached windowless child;
// forced kill is the only reliable stop.
func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
