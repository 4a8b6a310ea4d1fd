// Package models discovers and validates local GGUF model files for the
// supervised llama-server.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const minModelSize = 1 << 20 // GGUF files below 1 MiB are not real models

var ErrNoModel = errors.New("no model specified")

// Info describes one local model file.
type Info struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	SizeBytes int64   `json:"size_bytes"`
	SizeGB    float64 `json:"size_gb"`
}

// List returns the sorted base names of *.gguf files in dir, excluding
// multimodal projector (mmproj) files.
func List(dir string) ([]string, error) {
	return listGGUF(dir, false)
}

// ListProjectors returns the sorted base names of mmproj *.gguf files in
// dir (multimodal projectors for vision models).
func ListProjectors(dir string) ([]string, error) {
	return listGGUF(dir, true)
}

func listGGUF(dir string, projectors bool) ([]string, error) {
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return nil, fmt.Errorf("models directory not found: %s", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.gguf"))
	if err != nil {
		return nil, fmt.Errorf("scan models dir: %w", err)
	}

	var names []string
	for _, m := range matches {
		base := filepath.Base(m)
		isProjector := strings.Contains(strings.ToLower(base), "mmproj")
		if isProjector == projectors {
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the full path of name inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name)
}

// GetInfo returns size information for a model, or an error if the file
// does not exist.
func GetInfo(dir, name string) (*Info, error) {
	path := Path(dir, name)
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}

	const gb = 1 << 30
	return &Info{
		Name:      name,
		Path:      path,
		SizeBytes: stat.Size(),
		SizeGB:    float64(stat.Size()) / gb,
	}, nil
}

// Validate checks that name refers to a plausible GGUF model in dir:
// it exists, has the .gguf extension, and is at least 1 MiB.
func Validate(dir, name string) error {
	if name == "" {
		return ErrNoModel
	}

	path := Path(dir, name)
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model not found: %s (expected location: %s)", name, dir)
	}

	if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
		return fmt.Errorf("model must be a .gguf file: %s", name)
	}

	if stat.Size() < minModelSize {
		return fmt.Errorf("model file appears too small (%d bytes): %s", stat.Size(), name)
	}

	return nil
}
