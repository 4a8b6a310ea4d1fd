package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General    GeneralConfig    `toml:"general"`
	Server     ServerConfig     `toml:"server"`
	Router     RouterConfig     `toml:"router"`
	Generation GenerationConfig `toml:"generation"`
	Timeouts   TimeoutConfig    `toml:"timeouts"`
	Logging    LoggingConfig    `toml:"logging"`
}

type GeneralConfig struct {
	ModelsDir  string `toml:"models_dir"`
	Executable string `toml:"executable"`
}

type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	ContextSize    int    `toml:"context_size"`
	GPULayers      int    `toml:"gpu_layers"`
	MainGPU        int    `toml:"main_gpu"`
	TensorSplit    string `toml:"tensor_split"`
	Threads        int    `toml:"threads"`
	BatchSize      int    `toml:"batch_size"`
	FlashAttention bool   `toml:"flash_attention"`
	NoMmap         bool   `toml:"no_mmap"`
}

type RouterConfig struct {
	MaxModels int  `toml:"max_models"`
	Autoload  bool `toml:"autoload"`
}

type GenerationConfig struct {
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TopP           float64 `toml:"top_p"`
	TopK           int     `toml:"top_k"`
	MinP           float64 `toml:"min_p"`
	RepeatPenalty  float64 `toml:"repeat_penalty"`
	EnableThinking bool    `toml:"enable_thinking"`
	SystemPrompt   string  `toml:"system_prompt"`
}

type TimeoutConfig struct {
	Startup     string        `toml:"startup"`
	Generation  string        `toml:"generation"`
	Chunk       string        `toml:"chunk"`
	StartupD    time.Duration `toml:"-"`
	GenerationD time.Duration `toml:"-"`
	ChunkD      time.Duration `toml:"-"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".llama-warden")

	return &Config{
		General: GeneralConfig{
			ModelsDir:  filepath.Join(dataDir, "models"),
			Executable: "",
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			ContextSize: 4096,
			// 999 offloads every layer the model has.
			GPULayers: 999,
			MainGPU:   0,
		},
		Router: RouterConfig{
			MaxModels: 4,
			Autoload:  true,
		},
		Generation: GenerationConfig{
			MaxTokens:      2048,
			Temperature:    0.7,
			TopP:           0.9,
			TopK:           40,
			MinP:           0.05,
			RepeatPenalty:  1.1,
			EnableThinking: true,
		},
		Timeouts: TimeoutConfig{
			Startup:    "120s",
			Generation: "300s",
			Chunk:      "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.Timeouts.StartupD, err = time.ParseDuration(c.Timeouts.Startup); err != nil {
		return fmt.Errorf("parse timeouts.startup: %w", err)
	}

	if c.Timeouts.GenerationD, err = time.ParseDuration(c.Timeouts.Generation); err != nil {
		return fmt.Errorf("parse timeouts.generation: %w", err)
	}

	if c.Timeouts.ChunkD, err = time.ParseDuration(c.Timeouts.Chunk); err != nil {
		return fmt.Errorf("parse timeouts.chunk: %w", err)
	}

	c.General.ModelsDir, err = expandPath(c.General.ModelsDir)
	if err != nil {
		return fmt.Errorf("expand general.models_dir: %w", err)
	}

	c.General.Executable, err = expandPath(c.General.Executable)
	if err != nil {
		return fmt.Errorf("expand general.executable: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("expand logging.file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ContextSize < 1 {
		return fmt.Errorf("context_size must be at least 1, got %d", c.Server.ContextSize)
	}

	if c.Server.GPULayers < 0 {
		return fmt.Errorf("gpu_layers cannot be negative, got %d", c.Server.GPULayers)
	}

	if c.Router.MaxModels < 1 {
		return fmt.Errorf("max_models must be at least 1, got %d", c.Router.MaxModels)
	}

	if c.Generation.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", c.Generation.MaxTokens)
	}

	if c.Generation.Temperature < 0 {
		return fmt.Errorf("temperature cannot be negative, got %.2f", c.Generation.Temperature)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLAMA_WARDEN_MODELS_DIR"); v != "" {
		cfg.General.ModelsDir = v
	}
	if v := os.Getenv("LLAMA_WARDEN_EXECUTABLE"); v != "" {
		cfg.General.Executable = v
	}
	if v := os.Getenv("LLAMA_WARDEN_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LLAMA_WARDEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LLAMA_WARDEN_CONTEXT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.ContextSize = n
		}
	}
	if v := os.Getenv("LLAMA_WARDEN_GPU_LAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.GPULayers = n
		}
	}
	if v := os.Getenv("LLAMA_WARDEN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LLAMA_WARDEN_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
