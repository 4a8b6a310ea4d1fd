//go:build windows

package procutil

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jguan/llama-warden/pkg/infra/logger"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCtrlHandler = modkernel32.NewProc("SetConsoleCtrlHandler")
)

const (
	ctrlCloseEvent    = 2
	ctrlLogoffEvent   = 5
	ctrlShutdownEvent = 6
)

// KillGuard holds a Job Object configured with KILL_ON_JOB_CLOSE, so
// every assigned child dies when the last job handle is closed, which
// the OS does for us if this process exits for any reason.
type KillGuard struct {
	mu  sync.Mutex
	job windows.Handle
}

// NewKillGuard creates the job object. Failure is not fatal: the
// supervisor still works, it just loses the guaranteed-kill property,
// so errors are logged and a no-op guard is returned.
func NewKillGuard() *KillGuard {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		logger.Warn("job object creation failed", "error", err)
		return &KillGuard{}
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		logger.Warn("job object configuration failed", "error", err)
		_ = windows.CloseHandle(job)
		return &KillGuard{}
	}

	return &KillGuard{job: job}
}

// Assign binds the child to the job object.
func (g *KillGuard) Assign(h *Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == 0 {
		return nil
	}
	proc, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(h.PID()))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(proc)
	return windows.AssignProcessToJobObject(g.job, proc)
}

// Close releases the job handle, killing any children still assigned.
// Safe to call concurrently and more than once.
func (g *KillGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == 0 {
		return nil
	}
	err := windows.CloseHandle(g.job)
	g.job = 0
	return err
}

// consoleHandler must stay referenced for the lifetime of the process.
var consoleHandler uintptr

// OnConsoleClose registers fn to run when the console window is closed
// or the user logs off or the machine shuts down. Registration failure
// is logged, never fatal.
func OnConsoleClose(fn func()) {
	consoleHandler = windows.NewCallback(func(event uint32) uintptr {
		switch event {
		case ctrlCloseEvent, ctrlLogoffEvent, ctrlShutdownEvent:
			fn()
		}
		return 0
	})
	r1, _, err := procSetConsoleCtrlHandler.Call(consoleHandler, 1)
	if r1 == 0 {
		logger.Warn("console ctrl handler registration failed", "error", err)
	}
}
