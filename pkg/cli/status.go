package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/llama-warden/pkg/supervisor"
)

func NewStatusCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the configured server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(root)
		},
	}

	return cmd
}

func runStatus(root *RootCommand) error {
	cfg := root.Config()
	opts := root.OutputOptions()

	url := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	healthy := supervisor.CheckHealth(url)

	out := map[string]any{
		"url":     url,
		"healthy": healthy,
	}
	if opts.Format == OutputTable && !opts.Quiet {
		if healthy {
			fmt.Fprintf(opts.Writer, "Server at %s is healthy\n", url)
		} else {
			fmt.Fprintf(opts.Writer, "Server at %s is not responding\n", url)
		}
		return nil
	}
	if err := PrintOutput(out, opts); err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server at %s is not responding", url)
	}
	return nil
}
