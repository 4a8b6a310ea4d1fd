// Package cli implements the llama-warden command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/llama-warden/pkg/config"
	"github.com/jguan/llama-warden/pkg/infra/logger"
	"github.com/jguan/llama-warden/pkg/supervisor"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	sup       *supervisor.Supervisor
	opts      *OutputOptions
	formatStr string
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
	}

	cmd := &cobra.Command{
		Use:   "llama-warden",
		Short: "llama-warden - llama-server lifecycle and generation manager",
		Long: `llama-warden supervises a local llama-server instance: it spawns the
server for a chosen model (or a models directory in router mode), waits
for it to become healthy, relays streaming chat completions, and tears
everything down cleanly on exit.`,
		PersistentPreRunE: root.persistentPreRunE,
		SilenceUsage:      true,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (default: built-in defaults)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	cfgPath := viper.GetString("config")
	var err error
	r.cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
	}
	if r.cfg.Logging.File != "" {
		f, err := os.OpenFile(r.cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logCfg.Output = f
	}
	logger.Init(logCfg)

	r.sup = supervisor.New()
	if r.cfg.General.Executable != "" {
		r.sup.SetExecutable(r.cfg.General.Executable)
	}

	return nil
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewServeCommand(r))
	r.cmd.AddCommand(NewGenerateCommand(r))
	r.cmd.AddCommand(NewModelsCommand(r))
	r.cmd.AddCommand(NewStatusCommand(r))
	r.cmd.AddCommand(NewVersionCommand(r))
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

func (r *RootCommand) Supervisor() *supervisor.Supervisor {
	return r.sup
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w interface{ Write([]byte) (int, error) }) {
	r.opts.Writer = w
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func Version() string {
	return cliVersion
}

func Execute() {
	root := NewRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
