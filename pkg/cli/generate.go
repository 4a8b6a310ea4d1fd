package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jguan/llama-warden/pkg/stream"
)

type generateFlags struct {
	system        string
	model         string
	maxTokens     int
	temperature   float64
	topP          float64
	topK          int
	minP          float64
	repeatPenalty float64
	seed          int
	noThinking    bool
	showThinking  bool
	timeout       time.Duration
	chunkTimeout  time.Duration
}

func NewGenerateCommand(root *RootCommand) *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Stream a chat completion from the running server",
		Long: `Send one chat-completions request to the configured server and stream
the answer to stdout. Reasoning output is kept separate from the
answer; show it with --show-thinking.`,
		Example: `  llama-warden generate "Explain mmap in one paragraph"

  # Router mode: pick the model per request
  llama-warden generate --model qwen3-4b "hello"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), root, args[0], flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.system, "system", "s", "", "System prompt (default from config)")
	f.StringVarP(&flags.model, "model", "m", "", "Model name (router mode only)")
	f.IntVar(&flags.maxTokens, "max-tokens", 0, "Maximum tokens to generate (default from config)")
	f.Float64Var(&flags.temperature, "temperature", -1, "Sampling temperature (default from config)")
	f.Float64Var(&flags.topP, "top-p", -1, "Nucleus sampling threshold (default from config)")
	f.IntVar(&flags.topK, "top-k", -1, "Top-k sampling (default from config)")
	f.Float64Var(&flags.minP, "min-p", -1, "Minimum token probability (default from config)")
	f.Float64Var(&flags.repeatPenalty, "repeat-penalty", -1, "Repetition penalty (default from config)")
	f.IntVar(&flags.seed, "seed", 0, "Random seed")
	f.BoolVar(&flags.noThinking, "no-thinking", false, "Disable reasoning output in the chat template")
	f.BoolVar(&flags.showThinking, "show-thinking", false, "Print reasoning output before the answer")
	f.DurationVar(&flags.timeout, "timeout", 0, "Overall request timeout (default from config)")
	f.DurationVar(&flags.chunkTimeout, "chunk-timeout", 0, "Timeout between stream chunks (default from config)")

	return cmd
}

func runGenerate(ctx context.Context, root *RootCommand, prompt string, flags generateFlags) error {
	cfg := root.Config()
	opts := root.OutputOptions()

	system := flags.system
	if system == "" {
		system = cfg.Generation.SystemPrompt
	}

	req := stream.NewChatRequest(system, prompt)
	req.MaxTokens = cfg.Generation.MaxTokens
	req.Temperature = cfg.Generation.Temperature
	req.TopP = cfg.Generation.TopP
	req.TopK = cfg.Generation.TopK
	req.MinP = cfg.Generation.MinP
	req.RepeatPenalty = cfg.Generation.RepeatPenalty
	req.TemplateKwargs.EnableThinking = cfg.Generation.EnableThinking

	if flags.maxTokens > 0 {
		req.MaxTokens = flags.maxTokens
	}
	if flags.temperature >= 0 {
		req.Temperature = flags.temperature
	}
	if flags.topP >= 0 {
		req.TopP = flags.topP
	}
	if flags.topK >= 0 {
		req.TopK = flags.topK
	}
	if flags.minP >= 0 {
		req.MinP = flags.minP
	}
	if flags.repeatPenalty >= 0 {
		req.RepeatPenalty = flags.repeatPenalty
	}
	req.Seed = flags.seed
	req.Model = flags.model
	if flags.noThinking {
		req.TemplateKwargs.EnableThinking = false
	}

	streamOpts := stream.Options{
		TotalTimeout: cfg.Timeouts.GenerationD,
		ChunkTimeout: cfg.Timeouts.ChunkD,
	}
	if flags.timeout > 0 {
		streamOpts.TotalTimeout = flags.timeout
	}
	if flags.chunkTimeout > 0 {
		streamOpts.ChunkTimeout = flags.chunkTimeout
	}

	endpoint := fmt.Sprintf("http://%s:%d/v1/chat/completions", cfg.Server.Host, cfg.Server.Port)

	// Stream the answer as it arrives unless a structured format was
	// requested.
	var onChunk stream.OnChunk
	live := opts.Format == OutputTable && !opts.Quiet
	if live {
		onChunk = func(content, reasoning string) {
			if content != "" {
				fmt.Fprint(opts.Writer, content)
			}
			if reasoning != "" && flags.showThinking {
				fmt.Fprint(opts.Writer, reasoning)
			}
		}
	}

	result := stream.NewClient().Generate(ctx, endpoint, req, streamOpts, onChunk)

	if live {
		fmt.Fprintln(opts.Writer)
		if !result.Success {
			return fmt.Errorf("%s", result.ErrorMessage)
		}
		return nil
	}

	out := map[string]any{
		"response": result.Response,
		"thinking": result.Thinking,
		"success":  result.Success,
	}
	if result.ErrorMessage != "" {
		out["error"] = result.ErrorMessage
	}
	if err := PrintOutput(out, opts); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s", result.ErrorMessage)
	}
	return nil
}
