// Package supervisor owns the lifecycle of one external llama-server
// process: starting it in single-model or router mode, health-checking
// it until ready, detecting startup crashes, reconfiguring without
// redundant restarts, and tearing it down with guaranteed cleanup.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/jguan/llama-warden/pkg/infra/logger"
	"github.com/jguan/llama-warden/pkg/infra/procutil"
)

const (
	// orphanFragment matches stray server processes by executable name.
	orphanFragment = "llama-server"

	defaultPollInterval = time.Second
	termGracePeriod     = 5 * time.Second
	killGracePeriod     = 3 * time.Second

	// crashOutputLimit caps how much captured server output is attached
	// to a startup-crash error.
	crashOutputLimit = 2000
)

// Supervisor manages at most one llama-server child process. Construct
// exactly one per host process with New and share it; all operations
// are serialized internally.
type Supervisor struct {
	mu sync.Mutex

	executable   string
	proc         *procutil.Handle
	config       Config
	status       Status
	mode         Mode
	lastErr      string
	guard        *procutil.KillGuard
	healthClient *http.Client
	pollInterval time.Duration

	termGrace time.Duration
	killGrace time.Duration

	hooksOnce sync.Once
}

// New constructs a supervisor in the stopped state.
func New() *Supervisor {
	return &Supervisor{
		executable:   serverExecutable(),
		status:       StatusStopped,
		mode:         ModeSingleModel,
		guard:        procutil.NewKillGuard(),
		healthClient: &http.Client{Timeout: healthTimeout},
		pollInterval: defaultPollInterval,
		termGrace:    termGracePeriod,
		killGrace:    killGracePeriod,
	}
}

func serverExecutable() string {
	if runtime.GOOS == "windows" {
		return "llama-server.exe"
	}
	return "llama-server"
}

// SetExecutable overrides the server binary name or path. Intended for
// hosts that ship their own llama.cpp build.
func (s *Supervisor) SetExecutable(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executable = path
}

// Start launches the server with a single-model configuration and
// blocks until it answers the health probe, it crashes, or timeout
// elapses (timeout <= 0 polls until ctx is done). Re-issuing Start with
// an identical configuration while the server is healthy is a no-op.
func (s *Supervisor) Start(ctx context.Context, cfg ServerConfig, timeout time.Duration) error {
	cfg = normalizeServer(cfg)
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		s.mu.Lock()
		s.lastErr = fmt.Sprintf("model file not found: %s", cfg.ModelPath)
		s.mu.Unlock()
		return fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	return s.start(ctx, cfg, timeout)
}

// StartRouter launches the server in router mode over a models
// directory. Same blocking and idempotency semantics as Start.
func (s *Supervisor) StartRouter(ctx context.Context, cfg RouterConfig, timeout time.Duration) error {
	cfg = normalizeRouter(cfg)
	if stat, err := os.Stat(cfg.ModelsDir); err != nil || !stat.IsDir() {
		s.mu.Lock()
		s.lastErr = fmt.Sprintf("models directory not found: %s", cfg.ModelsDir)
		s.mu.Unlock()
		return fmt.Errorf("models directory not found: %s", cfg.ModelsDir)
	}
	return s.start(ctx, cfg, timeout)
}

func (s *Supervisor) start(ctx context.Context, cfg Config, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = ""

	// Idempotent fast path: same fingerprint and still healthy.
	if s.proc != nil && s.statusLocked() == StatusRunning &&
		s.config != nil && s.config.Fingerprint() == cfg.Fingerprint() &&
		s.checkHealth(cfg.BaseURL()) {
		logger.Info("server already running with identical configuration")
		return nil
	}

	if s.proc != nil {
		logger.Info("stopping existing server for reconfiguration")
		s.stopLocked()
	}

	procutil.ReapOrphans(orphanFragment)

	args := cfg.Args()
	logger.Info("starting server",
		"executable", s.executable, "mode", string(cfg.Mode()), "args", args)

	s.status = StatusStarting
	proc, err := procutil.Spawn(s.executable, args, nil)
	if err != nil {
		s.status = StatusError
		if errors.Is(err, exec.ErrNotFound) {
			s.lastErr = installHint
			return fmt.Errorf("%w: %s", ErrServerNotFound, installHint)
		}
		s.lastErr = fmt.Sprintf("failed to start server: %v", err)
		return fmt.Errorf("start server: %w", err)
	}

	if err := s.guard.Assign(proc); err != nil {
		logger.Warn("job assignment failed", "pid", proc.PID(), "error", err)
	}

	s.proc = proc
	s.config = cfg
	s.mode = cfg.Mode()

	return s.awaitReady(ctx, cfg, timeout)
}

// awaitReady drives the startup polling loop. Called with s.mu held.
func (s *Supervisor) awaitReady(ctx context.Context, cfg Config, timeout time.Duration) error {
	started := time.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = started.Add(timeout)
	}

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			s.stopLocked()
			s.lastErr = "startup cancelled"
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}

		if s.checkHealth(cfg.BaseURL()) {
			s.status = StatusRunning
			logger.Info("server ready",
				"elapsed", time.Since(started).Round(time.Second), "url", cfg.BaseURL())
			return nil
		}

		if code, exited := s.proc.Poll(); exited {
			output := s.proc.CapturedOutput()
			if len(output) > crashOutputLimit {
				output = output[:crashOutputLimit]
			}
			msg := fmt.Sprintf("server crashed during startup (exit code: %d)", code)
			if output != "" {
				msg += "\n\nServer output:\n" + output
			}
			s.status = StatusError
			s.lastErr = msg
			s.proc = nil
			s.config = nil
			s.mode = ModeSingleModel
			return errors.New(msg)
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			s.stopLocked()
			msg := fmt.Sprintf("server did not start within %d seconds", int(timeout.Seconds()))
			s.lastErr = msg
			return errors.New(msg)
		}

		if tick%10 == 0 {
			logger.Info("still waiting for server", "elapsed", time.Since(started).Round(time.Second))
		}
	}
}

// Stop terminates the server, escalating from graceful to forced kill,
// and sweeps orphans. It never fails: once the process slot is cleared
// the supervisor is stopped, whatever the OS said along the way.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked is the single teardown path. Called with s.mu held.
// A nil process slot means there is nothing to do and no side effects.
func (s *Supervisor) stopLocked() {
	if s.proc == nil {
		s.status = StatusStopped
		s.mode = ModeSingleModel
		return
	}

	logger.Info("stopping server", "pid", s.proc.PID())

	if err := s.proc.Terminate(); err != nil {
		logger.Warn("terminate failed", "error", err)
	}
	if _, err := s.proc.Wait(s.termGrace); err != nil {
		logger.Info("force killing server", "pid", s.proc.PID())
		if err := s.proc.Kill(); err != nil {
			logger.Warn("kill failed", "error", err)
		}
		if _, err := s.proc.Wait(s.killGrace); err != nil {
			logger.Warn("server did not confirm exit", "pid", s.proc.PID())
		}
	}

	s.proc = nil
	s.config = nil
	s.status = StatusStopped
	s.mode = ModeSingleModel

	procutil.ReapOrphans(orphanFragment)
}

// Teardown stops the server, sweeps orphans, and releases the
// kill guard. It is the path shared by normal exit, signals, and
// (on Windows) console-close events.
func (s *Supervisor) Teardown() {
	s.Stop()
	procutil.ReapOrphans(orphanFragment)
	if err := s.guard.Close(); err != nil {
		logger.Warn("kill guard close failed", "error", err)
	}
}

// Status reports the current lifecycle state, first reconciling it
// against the real process table: a child that exited behind our back
// moves the supervisor to stopped.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() Status {
	if s.proc == nil {
		if s.status == StatusStarting || s.status == StatusRunning {
			s.status = StatusStopped
		}
		return s.status
	}
	if _, exited := s.proc.Poll(); exited {
		s.proc = nil
		s.config = nil
		s.status = StatusStopped
		s.mode = ModeSingleModel
	}
	return s.status
}

// IsRunning reports whether the server reached the running state and
// its process is still alive.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// CurrentMode reports the active configuration variant.
func (s *Supervisor) CurrentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusLocked()
	return s.mode
}

// LastError returns the most recent failure message, if any.
func (s *Supervisor) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// URL returns the base URL of the active configuration, falling back to
// the conventional local default when nothing is configured.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		return s.config.BaseURL()
	}
	return "http://127.0.0.1:8080"
}

// StatusInfo is a point-in-time report for status displays.
type StatusInfo struct {
	Status    Status `json:"status"`
	Running   bool   `json:"running"`
	Mode      Mode   `json:"mode"`
	ServerURL string `json:"server_url,omitempty"`
	PID       int    `json:"pid,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Config    Config `json:"config,omitempty"`
}

// Info assembles a status report.
func (s *Supervisor) Info() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.statusLocked()
	info := StatusInfo{
		Status:    status,
		Running:   status == StatusRunning,
		Mode:      s.mode,
		LastError: s.lastErr,
	}
	if s.config != nil {
		info.ServerURL = s.config.BaseURL()
		info.Config = s.config
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	return info
}
