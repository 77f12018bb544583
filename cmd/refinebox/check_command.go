package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"refinebox/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var opts preflight.Options

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories and external tools before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			results := preflight.RunAll(cfg, opts)

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			if ctx.configPath != "" {
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			for _, line := range preflightLines(results, colorize) {
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.RunPipeline, "run", true, "Include pipeline checks")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Require the debugger")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "Include archive checks")
	return cmd
}
