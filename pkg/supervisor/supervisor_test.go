//go:build !windows

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer writes an executable shell script standing in for
// llama-server. Scripts ignore their arguments.
func fakeServer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-llama-server")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))
	return path
}

// healthEndpoint serves /health (and any extra handlers) and returns
// the server plus its port, so a config can point at it.
func healthEndpoint(t *testing.T, extra map[string]http.HandlerFunc) (*httptest.Server, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for path, h := range extra {
		mux.HandleFunc(path, h)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ts, port
}

func newTestSupervisor(t *testing.T, executable string) *Supervisor {
	t.Helper()
	s := New()
	s.SetExecutable(executable)
	s.pollInterval = 10 * time.Millisecond
	s.termGrace = 500 * time.Millisecond
	s.killGrace = 2 * time.Second
	t.Cleanup(s.Stop)
	return s
}

func decodeJSONBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(v))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServerConfig_Fingerprint(t *testing.T) {
	base := ServerConfig{
		ModelPath: "/m/a.gguf", Host: "127.0.0.1", Port: 8080,
		ContextSize: 4096, GPULayers: 999, MainGPU: 0,
	}

	same := base
	assert.Equal(t, base.Fingerprint(), same.Fingerprint())

	mutations := map[string]ServerConfig{}
	c := base
	c.ModelPath = "/m/b.gguf"
	mutations["model path"] = c
	c = base
	c.Port = 8081
	mutations["port"] = c
	c = base
	c.ContextSize = 2048
	mutations["context size"] = c
	c = base
	c.GPULayers = 32
	mutations["gpu layers"] = c
	c = base
	c.TensorSplit = "3,1"
	mutations["tensor split"] = c
	c = base
	c.Threads = 8
	mutations["threads"] = c
	c = base
	c.BatchSize = 256
	mutations["batch size"] = c
	c = base
	c.FlashAttention = true
	mutations["flash attention"] = c
	c = base
	c.NoMmap = true
	mutations["no mmap"] = c

	for name, m := range mutations {
		assert.NotEqual(t, base.Fingerprint(), m.Fingerprint(), "field %s should change fingerprint", name)
	}
}

func TestConfig_FingerprintDistinguishesModes(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8080}
	rc := RouterConfig{Host: "127.0.0.1", Port: 8080}
	assert.NotEqual(t, sc.Fingerprint(), rc.Fingerprint())
}

func TestServerConfig_Args(t *testing.T) {
	cfg := ServerConfig{
		ModelPath: "/m/a.gguf", Host: "0.0.0.0", Port: 9000,
		ContextSize: 8192, GPULayers: 48, MainGPU: 1,
		TensorSplit: "2,1", Threads: 12, BatchSize: 512,
		FlashAttention: true, NoMmap: true,
	}
	assert.Equal(t, []string{
		"-m", "/m/a.gguf",
		"--port", "9000",
		"--host", "0.0.0.0",
		"-c", "8192",
		"-ngl", "48",
		"--main-gpu", "1",
		"--tensor-split", "2,1",
		"-t", "12",
		"-b", "512",
		"-fa",
		"--no-mmap",
	}, cfg.Args())
}

func TestRouterConfig_Args(t *testing.T) {
	cfg := RouterConfig{
		ModelsDir: "/m", Host: "127.0.0.1", Port: 8080,
		ContextSize: 4096, GPULayers: 999, MainGPU: 0,
		MaxModels: 2, Autoload: false,
	}
	args := cfg.Args()
	assert.Contains(t, args, "--models-dir")
	assert.Contains(t, args, "--models-max")
	assert.Contains(t, args, "--no-models-autoload")

	cfg.Autoload = true
	assert.NotContains(t, cfg.Args(), "--no-models-autoload")
}

func TestStart_ModelFileMissing(t *testing.T) {
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	err := s.Start(context.Background(), ServerConfig{ModelPath: "/nonexistent/model.gguf"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
	assert.Contains(t, s.LastError(), "model file not found")
	assert.Equal(t, StatusStopped, s.Status())
}

func TestStart_ExecutableMissing(t *testing.T) {
	s := newTestSupervisor(t, "no-such-llama-server-binary")

	err := s.Start(context.Background(), ServerConfig{ModelPath: modelFile(t)}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerNotFound)
	assert.Contains(t, s.LastError(), "Install llama.cpp")
}

func TestStart_BecomesRunning(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	err := s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: port,
	}, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, s.Status())
	assert.True(t, s.IsRunning())
	assert.Equal(t, ModeSingleModel, s.CurrentMode())
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", port), s.URL())

	info := s.Info()
	assert.True(t, info.Running)
	assert.NotZero(t, info.PID)

	s.Stop()
	assert.Equal(t, StatusStopped, s.Status())
	assert.Zero(t, s.Info().PID)
}

func TestStart_IdempotentWithSameConfig(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	cfg := ServerConfig{ModelPath: modelFile(t), Port: port}
	require.NoError(t, s.Start(context.Background(), cfg, 10*time.Second))
	firstPID := s.Info().PID

	require.NoError(t, s.Start(context.Background(), cfg, 10*time.Second))
	assert.Equal(t, firstPID, s.Info().PID, "identical config must not respawn")
}

func TestStart_DifferentConfigRestarts(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	cfg := ServerConfig{ModelPath: modelFile(t), Port: port}
	require.NoError(t, s.Start(context.Background(), cfg, 10*time.Second))
	firstPID := s.Info().PID
	firstProc := s.proc

	cfg.ContextSize = 2048
	require.NoError(t, s.Start(context.Background(), cfg, 10*time.Second))
	assert.NotEqual(t, firstPID, s.Info().PID, "changed config must respawn")

	_, exited := firstProc.Poll()
	assert.True(t, exited, "old process must be stopped before the new one starts")
}

func TestStart_CrashDuringStartup(t *testing.T) {
	s := newTestSupervisor(t, fakeServer(t, "echo boom; exit 7"))

	err := s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: freePort(t),
	}, 10*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code: 7")
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.proc, "no dangling process handle after startup crash")
}

func TestStart_Timeout(t *testing.T) {
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	err := s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: freePort(t),
	}, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not start within")
	assert.Equal(t, StatusStopped, s.Status())
	assert.Nil(t, s.proc)
}

func TestStart_ContextCancelled(t *testing.T) {
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Start(ctx, ServerConfig{ModelPath: modelFile(t), Port: freePort(t)}, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusStopped, s.Status())
}

func TestStop_AlreadyStopped(t *testing.T) {
	s := newTestSupervisor(t, "unused")
	s.Stop()
	s.Stop()
	assert.Equal(t, StatusStopped, s.Status())
	assert.Empty(t, s.LastError())
}

func TestTeardown_ConcurrentCallsAreSafe(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	require.NoError(t, s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: port,
	}, 10*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Teardown()
		}()
	}
	wg.Wait()
	assert.Equal(t, StatusStopped, s.Status())
}

func TestStop_EscalatesToKill(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	// Ignores SIGTERM; only a kill can stop it.
	s := newTestSupervisor(t, fakeServer(t, "trap '' TERM\nwhile true; do sleep 1; done"))

	require.NoError(t, s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: port,
	}, 10*time.Second))
	proc := s.proc

	s.Stop()
	assert.Equal(t, StatusStopped, s.Status())

	_, err := proc.Wait(3 * time.Second)
	assert.NoError(t, err, "process should be dead after forced kill")
}

func TestStartRouter_BecomesRunning(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	err := s.StartRouter(context.Background(), RouterConfig{
		ModelsDir: t.TempDir(), Port: port, Autoload: true,
	}, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ModeRouter, s.CurrentMode())

	s.Stop()
	assert.Equal(t, ModeSingleModel, s.CurrentMode(), "mode resets on stop")
}

func TestStartRouter_ModelsDirMissing(t *testing.T) {
	s := newTestSupervisor(t, "unused")
	err := s.StartRouter(context.Background(), RouterConfig{ModelsDir: "/nonexistent/models"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models directory not found")
}

func TestListModels_NotRunning(t *testing.T) {
	s := newTestSupervisor(t, "unused")
	_, err := s.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRouterOps_RequireRouterMode(t *testing.T) {
	_, port := healthEndpoint(t, nil)
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	require.NoError(t, s.Start(context.Background(), ServerConfig{
		ModelPath: modelFile(t), Port: port,
	}, 10*time.Second))

	_, err := s.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrNotRouter)
	assert.ErrorIs(t, s.LoadModel(context.Background(), "a"), ErrNotRouter)
	assert.ErrorIs(t, s.UnloadModel(context.Background(), "a"), ErrNotRouter)
}

func TestListModels_WrappedShape(t *testing.T) {
	_, port := healthEndpoint(t, map[string]http.HandlerFunc{
		"/models": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":[{"id":"qwen3-4b","state":"loaded"},{"id":"llama-8b"}]}`)
		},
	})
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	require.NoError(t, s.StartRouter(context.Background(), RouterConfig{
		ModelsDir: t.TempDir(), Port: port, Autoload: true,
	}, 10*time.Second))

	entries, err := s.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "qwen3-4b", entries[0].DisplayName())
	assert.Equal(t, "loaded", entries[0].DisplayState())
}

func TestLoadUnloadModel(t *testing.T) {
	var loaded, unloaded string
	_, port := healthEndpoint(t, map[string]http.HandlerFunc{
		"/models/load": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Model string `json:"model"`
			}
			decodeJSONBody(t, r, &req)
			loaded = req.Model
		},
		"/models/unload": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Model string `json:"model"`
			}
			decodeJSONBody(t, r, &req)
			unloaded = req.Model
		},
	})
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	require.NoError(t, s.StartRouter(context.Background(), RouterConfig{
		ModelsDir: t.TempDir(), Port: port, Autoload: true,
	}, 10*time.Second))

	require.NoError(t, s.LoadModel(context.Background(), "qwen3-4b"))
	require.NoError(t, s.UnloadModel(context.Background(), "qwen3-4b"))
	assert.Equal(t, "qwen3-4b", loaded)
	assert.Equal(t, "qwen3-4b", unloaded)
}

func TestParseModelList(t *testing.T) {
	entries, err := parseModelList([]byte(`[{"name":"a","status":"idle"}]`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].DisplayName())
	assert.Equal(t, "idle", entries[0].DisplayState())

	_, err = parseModelList([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestLoadModel_ServerError(t *testing.T) {
	_, port := healthEndpoint(t, map[string]http.HandlerFunc{
		"/models/load": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"model not found: nope"}}`, http.StatusNotFound)
		},
	})
	s := newTestSupervisor(t, fakeServer(t, "sleep 60"))

	require.NoError(t, s.StartRouter(context.Background(), RouterConfig{
		ModelsDir: t.TempDir(), Port: port, Autoload: true,
	}, 10*time.Second))

	err := s.LoadModel(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
