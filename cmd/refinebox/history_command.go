package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"refinebox/internal/runstore"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs or the episodes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runstore.Open(cfg)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				outcomes, err := store.Outcomes(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderOutcomes(outcomes))
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func renderRuns(runs []runstore.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		finished := "running"
		if run.Finished() {
			finished = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		if run.ErrorMessage != "" {
			finished = "aborted"
		}
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Method,
			yesNo(run.RunPipeline),
			strconv.Itoa(run.Counts[runstore.StatusProcessed]),
			strconv.Itoa(run.Counts[runstore.StatusMismatched]),
			strconv.Itoa(run.Counts[runstore.StatusSkipped]),
			strconv.Itoa(run.Counts[runstore.StatusFailed]),
			finished,
		})
	}
	return renderTable(
		[]string{"Run", "Started", "Method", "Pipeline", "Processed", "Mismatched", "Skipped", "Failed", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func renderOutcomes(outcomes []runstore.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		detail := outcome.ErrorMessage
		if outcome.ErrorKind != "" {
			detail = outcome.ErrorKind + ": " + detail
		}
		rows = append(rows, []string{
			outcome.Episode,
			string(outcome.Status),
			strconv.Itoa(outcome.AnnotationLines),
			strconv.Itoa(outcome.OutputLines),
			detail,
		})
	}
	return renderTable(
		[]string{"Episode", "Status", "Annotation", "Output", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
