package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"refinebox/internal/config"
	"refinebox/internal/preflight"
	"refinebox/internal/runstore"
	"refinebox/internal/workflow"
)

type runFlags struct {
	inputDir          string
	outputDir         string
	pipelineDir       string
	method            string
	imageListFile     string
	runPipeline       bool
	debug             bool
	checkOutputCounts bool
	convertOnly       bool
	fixFrames         bool
	nestImages        bool
	sync              bool
	folderIndex       int
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every episode folder under the input directory",
		Long: `Process every episode folder under the input directory.

For each episode the annotation file is located, optionally renumbered
(--fix-frames), and its image manifest written. With --run the refiner
pipeline runs and its output is converted and, with --check-output-counts,
compared line-for-line with the annotation file. --convert-only converts
existing pipeline outputs instead of running the pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := flags.apply(cmd, ctx, cfg)
			if err != nil {
				return err
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			results := preflight.RunAll(cfg, preflight.Options{
				RunPipeline: opts.RunPipeline,
				Debug:       opts.Debug,
				Sync:        cfg.Archive.Enabled,
			})
			if failed := preflight.Failed(results); len(failed) > 0 {
				out := cmd.ErrOrStderr()
				for _, line := range preflightLines(results, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return fmt.Errorf("preflight failed: %s", preflight.Summary(failed))
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			managerOpts := []workflow.ManagerOption{
				workflow.WithOutcomeHandler(func(outcome workflow.EpisodeOutcome) {
					fmt.Fprintln(cmd.OutOrStdout(), episodeLine(outcome, colorize))
				}),
			}
			if ledger := ctx.openLedger(cfg, logger); ledger != nil {
				defer ledger.Close()
				managerOpts = append(managerOpts, workflow.WithLedger(ledger))
			}
			if shouldColorize(cmd.ErrOrStderr()) {
				managerOpts = append(managerOpts, workflow.WithProgress(workflow.NewBarProgress(cmd.ErrOrStderr())))
			}

			mgr, err := workflow.NewManager(cfg, opts, logger, managerOpts...)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, runErr := mgr.Run(runCtx)
			printRunSummary(cmd.OutOrStdout(), summary)
			if runErr != nil {
				return runErr
			}
			if failed := summary.Counts()[runstore.StatusFailed]; failed > 0 {
				return fmt.Errorf("%d episode(s) failed", failed)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.inputDir, "input-dir", "", "Root folder holding one subfolder per episode")
	f.StringVar(&flags.outputDir, "output-dir", "", "Folder receiving refined outputs")
	f.StringVar(&flags.pipelineDir, "pipeline-dir", "", "Folder containing <method>.pipe definitions")
	f.StringVar(&flags.method, "method", "", "Pipeline method name")
	f.StringVar(&flags.imageListFile, "image-list-file", "", "Image manifest location")
	f.BoolVar(&flags.runPipeline, "run", false, "Run the refiner pipeline for each episode")
	f.BoolVar(&flags.debug, "debug", false, "Wrap the pipeline in the configured debugger")
	f.BoolVar(&flags.checkOutputCounts, "check-output-counts", false, "Compare annotation and output line counts")
	f.BoolVar(&flags.convertOnly, "convert-only", false, "Convert existing outputs without running the pipeline")
	f.BoolVar(&flags.fixFrames, "fix-frames", false, "Renumber frame indices in each annotation file first")
	f.BoolVar(&flags.nestImages, "nest-images", false, "Resolve images under <episode>/images/")
	f.BoolVar(&flags.sync, "sync", false, "Copy results into the DVC archive beside each annotation file (same as archive.enabled)")
	f.IntVar(&flags.folderIndex, "folder-index", -1, "Process only the episode at this zero-based position")
	_ = cmd.MarkFlagRequired("input-dir")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

// apply overlays the flags on cfg and returns the run options.
func (f *runFlags) apply(cmd *cobra.Command, ctx *commandContext, cfg *config.Config) (workflow.Options, error) {
	changed := cmd.Flags().Changed
	setString := func(name string, dst *string, value string) {
		if changed(name) {
			*dst = value
		}
	}
	setString("input-dir", &cfg.Paths.InputDir, f.inputDir)
	setString("output-dir", &cfg.Paths.OutputDir, f.outputDir)
	setString("pipeline-dir", &cfg.Paths.PipelineDir, f.pipelineDir)
	setString("method", &cfg.Pipeline.Method, f.method)
	setString("image-list-file", &cfg.Paths.ImageListFile, f.imageListFile)
	if changed("nest-images") {
		cfg.Pipeline.NestImages = f.nestImages
	}
	if f.sync {
		cfg.Archive.Enabled = true
		if strings.TrimSpace(cfg.Archive.Dir) == "" {
			cfg.Archive.Dir = cfg.Paths.InputDir
		}
	}
	if err := ctx.applyOverrides(cfg); err != nil {
		return workflow.Options{}, err
	}

	opts := workflow.OptionsFromConfig(cfg)
	opts.RunPipeline = f.runPipeline
	opts.Debug = f.debug
	opts.CheckOutputCounts = f.checkOutputCounts
	opts.ConvertOnly = f.convertOnly
	opts.FixFrames = f.fixFrames
	if changed("folder-index") {
		if f.folderIndex < 0 {
			return workflow.Options{}, errors.New("--folder-index must be >= 0")
		}
		index := f.folderIndex
		opts.FolderIndex = &index
	}
	if err := opts.Validate(); err != nil {
		return workflow.Options{}, err
	}
	return opts, nil
}

func episodeLine(outcome workflow.EpisodeOutcome, colorize bool) string {
	message := string(outcome.Status)
	switch {
	case outcome.Err != nil:
		message += ": " + outcome.Err.Error()
	case outcome.OutputLines > 0 || outcome.AnnotationLines > 0:
		message += fmt.Sprintf(" (%d/%d lines)", outcome.OutputLines, outcome.AnnotationLines)
	}
	return renderStatusLine(outcome.Episode, outcomeKind(outcome.Status), message, colorize)
}

func printRunSummary(out io.Writer, summary workflow.Summary) {
	if len(summary.Outcomes) == 0 {
		fmt.Fprintln(out, "No episodes processed")
		return
	}
	rows := make([][]string, 0, len(summary.Outcomes))
	for _, outcome := range summary.Outcomes {
		lines := []string{"", "", ""}
		if outcome.AnnotationLines > 0 || outcome.OutputLines > 0 {
			lines = []string{
				strconv.Itoa(outcome.AnnotationLines),
				strconv.Itoa(outcome.OutputLines),
				strconv.Itoa(outcome.Delta()),
			}
		}
		rows = append(rows, []string{
			outcome.Episode,
			string(outcome.Status),
			lines[0],
			lines[1],
			lines[2],
			outcome.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Episode", "Status", "Annotation", "Output", "Delta", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	))

	counts := summary.Counts()
	parts := make([]string, 0, len(runstore.Statuses()))
	for _, status := range runstore.Statuses() {
		parts = append(parts, fmt.Sprintf("%s %d", status, counts[status]))
	}
	header := "Summary"
	if summary.RunID != "" {
		header += " (run " + summary.RunID + ")"
	}
	fmt.Fprintf(out, "%s: %s\n", header, strings.Join(parts, ", "))
}
