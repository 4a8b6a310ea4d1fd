package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jguan/llama-warden/pkg/infra/logger"
	"github.com/jguan/llama-warden/pkg/models"
	"github.com/jguan/llama-warden/pkg/supervisor"
)

type serveFlags struct {
	model     string
	router    bool
	modelsDir string
	preload   []string

	host           string
	port           int
	contextSize    int
	gpuLayers      int
	mainGPU        int
	tensorSplit    string
	threads        int
	batchSize      int
	flashAttention bool
	noMmap         bool
	maxModels      int
	noAutoload     bool

	timeout time.Duration
}

func NewServeCommand(root *RootCommand) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run llama-server in the foreground",
		Long: `Start llama-server for a single model, or over a whole models
directory in router mode, and supervise it until interrupted. The
server is stopped and orphans are swept when this command exits.`,
		Example: `  # Serve one model
  llama-warden serve --model qwen3-4b.gguf

  # Router mode over the configured models directory, preloading one model
  llama-warden serve --router --load qwen3-4b`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.model, "model", "m", "", "Model file to serve (name in the models dir, or a path)")
	f.BoolVar(&flags.router, "router", false, "Router mode: serve every model in the models directory")
	f.StringVar(&flags.modelsDir, "models-dir", "", "Models directory (default from config)")
	f.StringSliceVar(&flags.preload, "load", nil, "Models to load immediately in router mode")

	f.StringVar(&flags.host, "host", "", "Bind host (default from config)")
	f.IntVarP(&flags.port, "port", "p", 0, "Bind port (default from config)")
	f.IntVarP(&flags.contextSize, "ctx-size", "c", 0, "Context window in tokens (default from config)")
	f.IntVar(&flags.gpuLayers, "gpu-layers", -1, "Layers to offload to the GPU (999 = all)")
	f.IntVar(&flags.mainGPU, "main-gpu", 0, "Main GPU index")
	f.StringVar(&flags.tensorSplit, "tensor-split", "", "VRAM split across GPUs, e.g. 3,1")
	f.IntVarP(&flags.threads, "threads", "t", 0, "CPU threads (0 = server default)")
	f.IntVarP(&flags.batchSize, "batch-size", "b", 0, "Batch size (0 = server default)")
	f.BoolVar(&flags.flashAttention, "flash-attn", false, "Enable flash attention")
	f.BoolVar(&flags.noMmap, "no-mmap", false, "Disable memory-mapped model loading")
	f.IntVar(&flags.maxModels, "max-models", 0, "Router: max simultaneously loaded models (default from config)")
	f.BoolVar(&flags.noAutoload, "no-autoload", false, "Router: do not load models on first request")
	f.DurationVar(&flags.timeout, "timeout", 0, "Startup timeout (default from config)")

	return cmd
}

func runServe(ctx context.Context, root *RootCommand, flags serveFlags) error {
	cfg := root.Config()
	sup := root.Supervisor()
	opts := root.OutputOptions()

	modelsDir := cfg.General.ModelsDir
	if flags.modelsDir != "" {
		modelsDir = flags.modelsDir
	}
	timeout := cfg.Timeouts.StartupD
	if flags.timeout > 0 {
		timeout = flags.timeout
	}
	gpuLayers := cfg.Server.GPULayers
	if flags.gpuLayers >= 0 {
		gpuLayers = flags.gpuLayers
	}

	sup.InstallShutdownHooks()

	if flags.router {
		rc := supervisor.RouterConfig{
			ModelsDir:      modelsDir,
			Host:           pick(flags.host, cfg.Server.Host),
			Port:           pickInt(flags.port, cfg.Server.Port),
			ContextSize:    pickInt(flags.contextSize, cfg.Server.ContextSize),
			GPULayers:      gpuLayers,
			MainGPU:        flags.mainGPU,
			Threads:        pickInt(flags.threads, cfg.Server.Threads),
			BatchSize:      pickInt(flags.batchSize, cfg.Server.BatchSize),
			FlashAttention: flags.flashAttention || cfg.Server.FlashAttention,
			MaxModels:      pickInt(flags.maxModels, cfg.Router.MaxModels),
			Autoload:       cfg.Router.Autoload && !flags.noAutoload,
		}
		if err := sup.StartRouter(ctx, rc, timeout); err != nil {
			return err
		}
		for _, name := range flags.preload {
			if err := sup.LoadModel(ctx, name); err != nil {
				return fmt.Errorf("preload %s: %w", name, err)
			}
		}
	} else {
		if flags.model == "" {
			return fmt.Errorf("either --model or --router is required")
		}
		modelPath := flags.model
		modelDir := modelsDir
		if filepath.IsAbs(modelPath) {
			modelDir = filepath.Dir(modelPath)
		} else {
			modelPath = models.Path(modelsDir, modelPath)
		}
		if err := models.Validate(modelDir, filepath.Base(modelPath)); err != nil {
			return err
		}
		sc := supervisor.ServerConfig{
			ModelPath:      modelPath,
			Host:           pick(flags.host, cfg.Server.Host),
			Port:           pickInt(flags.port, cfg.Server.Port),
			ContextSize:    pickInt(flags.contextSize, cfg.Server.ContextSize),
			GPULayers:      gpuLayers,
			MainGPU:        flags.mainGPU,
			TensorSplit:    pick(flags.tensorSplit, cfg.Server.TensorSplit),
			Threads:        pickInt(flags.threads, cfg.Server.Threads),
			BatchSize:      pickInt(flags.batchSize, cfg.Server.BatchSize),
			FlashAttention: flags.flashAttention || cfg.Server.FlashAttention,
			NoMmap:         flags.noMmap || cfg.Server.NoMmap,
		}
		if err := sup.Start(ctx, sc, timeout); err != nil {
			return err
		}
	}

	if !opts.Quiet {
		fmt.Fprintf(opts.Writer, "Serving at %s (press Ctrl+C to stop)\n", sup.URL())
	}

	<-ctx.Done()
	logger.Info("shutting down")
	sup.Teardown()
	return nil
}

// pick returns override when set, otherwise fallback.
func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
