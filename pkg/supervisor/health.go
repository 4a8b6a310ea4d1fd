package supervisor

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds every liveness probe; retrying is the startup
// loop's job, not the probe's.
const healthTimeout = 2 * time.Second

// checkHealth reports whether the server answers GET /health with a
// 2xx status. Any transport error or other status is "not healthy".
func (s *Supervisor) checkHealth(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CheckHealth probes an arbitrary base URL once, for callers that do
// not hold a supervisor (e.g. a status command inspecting a server
// another process started).
func CheckHealth(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Healthy probes the active server once. False when nothing is
// configured or the probe fails.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()
	if cfg == nil {
		return false
	}
	return s.checkHealth(cfg.BaseURL())
}
