// Package procutil wraps child-process management for the supervised
// llama-server: spawning with platform-specific attributes, non-blocking
// exit polling, graceful/forced termination, captured output, and
// best-effort cleanup of orphaned server processes.
package procutil

import (
	"bytes"
	"errors"
	"os/exec"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by Wait when the process does not exit
// within the given grace period.
var ErrWaitTimeout = errors.New("process did not exit within timeout")

// Handle owns one spawned child process. All methods are safe for
// concurrent use.
type Handle struct {
	cmd  *exec.Cmd
	out  *lockedBuffer
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
}

// lockedBuffer is a mutex-guarded buffer for merged stdout+stderr.
// Reads may race with the copier goroutines exec.Cmd starts.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Spawn starts name with args, merging stdout and stderr into an
// in-memory buffer. The child is detached from any console window and,
// where the platform supports it, arranged to die with the parent.
func Spawn(name string, args []string, env []string) (*Handle, error) {
	cmd := exec.Command(name, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	out := &lockedBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	applySpawnAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.exitCode = exitCodeFrom(cmd, err)
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

func exitCodeFrom(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// PID returns the OS process ID of the child.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Poll reports whether the child has exited, and its exit code if so.
// It never blocks.
func (h *Handle) Poll() (code int, exited bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitCode, true
	default:
		return 0, false
	}
}

// Terminate asks the child to exit gracefully. On platforms without a
// graceful signal this degrades to Kill.
func (h *Handle) Terminate() error {
	if _, exited := h.Poll(); exited {
		return nil
	}
	return terminateProcess(h.cmd)
}

// Kill forcibly ends the child.
func (h *Handle) Kill() error {
	if _, exited := h.Poll(); exited {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Wait blocks until the child exits or the timeout elapses. On timeout
// it returns ErrWaitTimeout and the child keeps running.
func (h *Handle) Wait(timeout time.Duration) (int, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitCode, nil
	case <-time.After(timeout):
		return 0, ErrWaitTimeout
	}
}

// CapturedOutput returns the merged stdout+stderr collected so far.
func (h *Handle) CapturedOutput() string {
	return h.out.String()
}
