package supervisor

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the lifecycle state of the supervised server.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Mode says which configuration variant is active. It resets to
// ModeSingleModel whenever the process stops.
type Mode string

const (
	ModeSingleModel Mode = "single_model"
	ModeRouter      Mode = "router"
)

// AllGPULayers offloads every layer; it mirrors the conventional "999"
// sentinel llama-server users pass for full offload.
const AllGPULayers = 999

// Config is one supervised-server configuration, either single-model
// (ServerConfig) or multi-model (RouterConfig). Implementations are
// value types and immutable once handed to the supervisor.
type Config interface {
	// Args returns the llama-server command line for this
	// configuration. Field order is fixed so equal configs always
	// produce equal command lines.
	Args() []string
	// Fingerprint returns a deterministic value covering every field,
	// used to detect no-op start requests.
	Fingerprint() string
	// BaseURL is the HTTP root the server will listen on.
	BaseURL() string
	// Mode reports which supervisor mode this configuration selects.
	Mode() Mode
}

// ServerConfig runs llama-server with a single fixed model.
type ServerConfig struct {
	ModelPath      string `json:"model_path"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ContextSize    int    `json:"context_size"`
	GPULayers      int    `json:"gpu_layers"`
	MainGPU        int    `json:"main_gpu"`
	TensorSplit    string `json:"tensor_split,omitempty"`
	Threads        int    `json:"threads,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	FlashAttention bool   `json:"flash_attention"`
	NoMmap         bool   `json:"no_mmap"`
}

func (c ServerConfig) Args() []string {
	args := []string{
		"-m", c.ModelPath,
		"--port", strconv.Itoa(c.Port),
		"--host", c.Host,
		"-c", strconv.Itoa(c.ContextSize),
		"-ngl", strconv.Itoa(c.GPULayers),
		"--main-gpu", strconv.Itoa(c.MainGPU),
	}
	if c.TensorSplit != "" {
		args = append(args, "--tensor-split", c.TensorSplit)
	}
	if c.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.Threads))
	}
	if c.BatchSize > 0 {
		args = append(args, "-b", strconv.Itoa(c.BatchSize))
	}
	if c.FlashAttention {
		args = append(args, "-fa")
	}
	if c.NoMmap {
		args = append(args, "--no-mmap")
	}
	return args
}

func (c ServerConfig) Fingerprint() string {
	return strings.Join([]string{
		"single",
		c.ModelPath,
		c.Host,
		strconv.Itoa(c.Port),
		strconv.Itoa(c.ContextSize),
		strconv.Itoa(c.GPULayers),
		strconv.Itoa(c.MainGPU),
		c.TensorSplit,
		strconv.Itoa(c.Threads),
		strconv.Itoa(c.BatchSize),
		strconv.FormatBool(c.FlashAttention),
		strconv.FormatBool(c.NoMmap),
	}, "|")
}

func (c ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

func (c ServerConfig) Mode() Mode { return ModeSingleModel }

// RouterConfig runs llama-server in router mode: it hosts every model
// found in ModelsDir and loads/unloads them on demand, evicting the
// least recently used once MaxModels are resident.
type RouterConfig struct {
	ModelsDir      string `json:"models_dir"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ContextSize    int    `json:"context_size"`
	GPULayers      int    `json:"gpu_layers"`
	MainGPU        int    `json:"main_gpu"`
	Threads        int    `json:"threads,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	FlashAttention bool   `json:"flash_attention"`
	MaxModels      int    `json:"max_models"`
	Autoload       bool   `json:"autoload"`
}

func (c RouterConfig) Args() []string {
	args := []string{
		"--models-dir", c.ModelsDir,
		"--port", strconv.Itoa(c.Port),
		"--host", c.Host,
		"-c", strconv.Itoa(c.ContextSize),
		"-ngl", strconv.Itoa(c.GPULayers),
		"--main-gpu", strconv.Itoa(c.MainGPU),
		"--models-max", strconv.Itoa(c.MaxModels),
	}
	if c.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.Threads))
	}
	if c.BatchSize > 0 {
		args = append(args, "-b", strconv.Itoa(c.BatchSize))
	}
	if c.FlashAttention {
		args = append(args, "-fa")
	}
	if !c.Autoload {
		args = append(args, "--no-models-autoload")
	}
	return args
}

func (c RouterConfig) Fingerprint() string {
	return strings.Join([]string{
		"router",
		c.ModelsDir,
		c.Host,
		strconv.Itoa(c.Port),
		strconv.Itoa(c.ContextSize),
		strconv.Itoa(c.GPULayers),
		strconv.Itoa(c.MainGPU),
		strconv.Itoa(c.Threads),
		strconv.Itoa(c.BatchSize),
		strconv.FormatBool(c.FlashAttention),
		strconv.Itoa(c.MaxModels),
		strconv.FormatBool(c.Autoload),
	}, "|")
}

func (c RouterConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

func (c RouterConfig) Mode() Mode { return ModeRouter }

// normalize fills zero-valued connection fields with defaults shared by
// both variants.
func normalizeServer(c ServerConfig) ServerConfig {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ContextSize == 0 {
		c.ContextSize = 4096
	}
	return c
}

func normalizeRouter(c RouterConfig) RouterConfig {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ContextSize == 0 {
		c.ContextSize = 4096
	}
	if c.MaxModels == 0 {
		c.MaxModels = 4
	}
	return c
}
