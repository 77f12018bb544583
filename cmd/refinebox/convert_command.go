package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"refinebox/internal/archive"
	"refinebox/internal/convert"
	"refinebox/internal/logging"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var inputDir string
	var method string
	var basename string
	var archiveDir string
	var sync bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert refined pipeline outputs to datasets",
		Long: `Convert every <basename><method>*.csv in the input directory to a
.kwcoco.json dataset beside it. With --sync each converted dataset and its
CSV are copied over the tracked files in <archive-dir>/<episode>/ and
re-added to DVC.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("input-dir") {
				cfg.Convert.InputDir = inputDir
			}
			if flags.Changed("method") {
				cfg.Convert.Method = method
			}
			if flags.Changed("basename") {
				cfg.Convert.Basename = basename
			}
			if flags.Changed("archive-dir") {
				cfg.Archive.Dir = archiveDir
			}
			if sync {
				cfg.Archive.Enabled = true
				if strings.TrimSpace(cfg.Archive.Dir) == "" {
					cfg.Archive.Dir = cfg.Paths.InputDir
				}
			}
			if err := ctx.applyOverrides(cfg); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			converted, err := convert.ConvertOutputs(cfg.Convert.InputDir, cfg.Convert.Basename, cfg.Convert.Method)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(converted) == 0 {
				fmt.Fprintf(out, "No outputs matching %s%s*.csv in %s\n", cfg.Convert.Basename, cfg.Convert.Method, cfg.Convert.InputDir)
				return nil
			}

			var arch *archive.Archive
			if sync {
				arch = archive.New(cfg.Archive, logger)
			}
			failures := 0
			rows := make([][]string, 0, len(converted))
			for _, item := range converted {
				status := "converted"
				if item.Err != nil {
					failures++
					status = item.Err.Error()
				} else if arch != nil {
					if err := syncConverted(cmd, arch, cfg.Convert.Method, cfg.Convert.ExcludeTokens, item); err != nil {
						failures++
						status = "sync failed: " + err.Error()
						logging.ErrorWithContext(logger, "archive sync failed", "archive_sync_failed",
							logging.String("episode", item.Episode),
							logging.Error(err),
						)
					} else {
						status = "synced"
					}
				}
				rows = append(rows, []string{
					item.Episode,
					strconv.Itoa(item.Stats.Images),
					strconv.Itoa(item.Stats.Annotations),
					status,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Episode", "Images", "Annotations", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			if failures > 0 {
				return fmt.Errorf("%d of %d output(s) failed", failures, len(converted))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "Folder holding refined pipeline outputs")
	cmd.Flags().StringVar(&method, "method", "", "Method suffix of the outputs to convert")
	cmd.Flags().StringVar(&basename, "basename", "", "Shared output name prefix")
	cmd.Flags().BoolVar(&sync, "sync", false, "Copy results into the archive and re-add them to DVC")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "Archive root holding one folder per episode")
	return cmd
}

func syncConverted(cmd *cobra.Command, arch *archive.Archive, method string, exclude []string, item convert.ConvertedOutput) error {
	stats, err := convert.ReadStats(item.DatasetPath)
	if err != nil {
		return err
	}
	if stats != item.Stats {
		return fmt.Errorf("dataset %s holds %+v, expected %+v", item.DatasetPath, stats, item.Stats)
	}
	targets, err := convert.ResolveArchiveTargets(arch.Root(), item.Episode, method, exclude)
	if err != nil {
		return err
	}
	if _, err := arch.Sync(cmd.Context(), item.DatasetPath, targets.DatasetPath); err != nil {
		return err
	}
	_, err = arch.Sync(cmd.Context(), item.CSVPath, targets.CSVPath)
	return err
}
