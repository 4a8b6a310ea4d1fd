package supervisor

import "errors"

var (
	// ErrNotRunning is returned by operations that need a healthy
	// server (router model management, generation URL lookup).
	ErrNotRunning = errors.New("server is not running")

	// ErrNotRouter is returned by model load/unload/list when the
	// server was started in single-model mode.
	ErrNotRouter = errors.New("server is not in router mode")

	// ErrServerNotFound means the llama-server executable is not on
	// PATH at all; the message callers show should carry install
	// guidance, see installHint.
	ErrServerNotFound = errors.New("llama-server executable not found")
)

// installHint is appended to spawn failures caused by a missing
// executable.
const installHint = "llama-server not found. Install llama.cpp and add it to PATH: " +
	"https://github.com/ggml-org/llama.cpp/blob/master/docs/install.md"
