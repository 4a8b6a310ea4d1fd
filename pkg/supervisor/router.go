package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	listModelsTimeout = 10 * time.Second
	// Loading a large model from disk into VRAM is legitimately slow.
	loadModelTimeout   = 5 * time.Minute
	unloadModelTimeout = 15 * time.Second
)

// ModelEntry is one model known to the router. Servers vary in which
// identifier and state fields they populate.
type ModelEntry struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	State  string `json:"state,omitempty"`
	Status string `json:"status,omitempty"`
}

// DisplayName returns the first populated identifier.
func (e ModelEntry) DisplayName() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.Name != "":
		return e.Name
	default:
		return e.Model
	}
}

// DisplayState returns the first populated state field.
func (e ModelEntry) DisplayState() string {
	if e.State != "" {
		return e.State
	}
	return e.Status
}

// routerURL validates that router operations are legal right now and
// returns the server base URL. No network call on failure.
func (s *Supervisor) routerURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusLocked() != StatusRunning {
		return "", ErrNotRunning
	}
	if s.mode != ModeRouter {
		return "", ErrNotRouter
	}
	return s.config.BaseURL(), nil
}

// ListModels asks the router which models it knows about. The endpoint
// returns either a bare array or an object wrapping a "data" array;
// both shapes are accepted.
func (s *Supervisor) ListModels(ctx context.Context) ([]ModelEntry, error) {
	base, err := s.routerURL()
	if err != nil {
		return nil, err
	}
	return FetchModels(ctx, base)
}

// FetchModels queries a router at base directly, without requiring a
// supervisor that owns the process. Used when the server was started
// by another process.
func FetchModels(ctx context.Context, base string) ([]ModelEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, listModelsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return parseModelList(body)
}

func parseModelList(body []byte) ([]ModelEntry, error) {
	var wrapped struct {
		Data []ModelEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var bare []ModelEntry
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("unexpected models response: %s", truncate(string(body), 200))
}

// LoadModel asks the router to load name into memory, waiting out the
// full load time.
func (s *Supervisor) LoadModel(ctx context.Context, name string) error {
	return s.postModelOp(ctx, "/models/load", name, loadModelTimeout)
}

// UnloadModel asks the router to evict name.
func (s *Supervisor) UnloadModel(ctx context.Context, name string) error {
	return s.postModelOp(ctx, "/models/unload", name, unloadModelTimeout)
}

func (s *Supervisor) postModelOp(ctx context.Context, path, name string, timeout time.Duration) error {
	base, err := s.routerURL()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"model": name})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.TrimPrefix(path, "/models/"), name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
		return fmt.Errorf("%s %s: status %d: %s",
			strings.TrimPrefix(path, "/models/"), name, resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
