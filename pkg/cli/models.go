package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/llama-warden/pkg/models"
	"github.com/jguan/llama-warden/pkg/supervisor"
)

func NewModelsCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Model management commands",
		Long:  "Inspect local GGUF models and manage loaded models on a router.",
	}

	cmd.AddCommand(NewModelsListCommand(root))
	cmd.AddCommand(NewModelsLoadedCommand(root))

	return cmd
}

func NewModelsListCommand(root *RootCommand) *cobra.Command {
	var modelsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List GGUF models in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsList(root, modelsDir)
		},
	}

	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "Models directory (default from config)")

	return cmd
}

type modelRow struct {
	Name   string  `json:"name"`
	SizeGB float64 `json:"size_gb"`
}

func runModelsList(root *RootCommand, modelsDir string) error {
	cfg := root.Config()
	opts := root.OutputOptions()

	dir := cfg.General.ModelsDir
	if modelsDir != "" {
		dir = modelsDir
	}

	names, err := models.List(dir)
	if err != nil {
		return fmt.Errorf("list models in %s: %w", dir, err)
	}

	rows := make([]modelRow, 0, len(names))
	for _, name := range names {
		row := modelRow{Name: name}
		if info, err := models.GetInfo(dir, name); err == nil {
			row.SizeGB = info.SizeGB
		}
		rows = append(rows, row)
	}

	return PrintOutput(rows, opts)
}

// NewModelsLoadedCommand queries a running router for its loaded
// models. It talks HTTP directly because the serving supervisor lives
// in another process.
func NewModelsLoadedCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loaded",
		Short: "List models known to a running router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsLoaded(cmd.Context(), root)
		},
	}

	return cmd
}

type loadedRow struct {
	Model string `json:"model"`
	State string `json:"state"`
}

func runModelsLoaded(ctx context.Context, root *RootCommand) error {
	cfg := root.Config()
	opts := root.OutputOptions()

	entries, err := supervisor.FetchModels(ctx, fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return err
	}

	rows := make([]loadedRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, loadedRow{Model: e.DisplayName(), State: e.DisplayState()})
	}

	return PrintOutput(rows, opts)
}
