package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"refinebox/internal/consistency"
	"refinebox/internal/episode"
)

func newValidateLengthsCommand(ctx *commandContext) *cobra.Command {
	var annotationDir string
	var outputDir string
	var method string

	cmd := &cobra.Command{
		Use:   "validate-lengths",
		Short: "Compare annotation and output line counts per episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("annotation-dir") {
				cfg.Paths.AnnotationDir = annotationDir
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Paths.OutputDir = outputDir
			}
			if err := ctx.applyOverrides(cfg); err != nil {
				return err
			}
			root := cfg.Paths.AnnotationDir
			if root == "" {
				root = cfg.Paths.InputDir
			}
			if root == "" {
				return errors.New("annotation directory required (--annotation-dir or paths.annotation_dir)")
			}

			pairs, pairErr := consistency.PairByEpisode(root, cfg.Paths.OutputDir, strings.TrimSpace(method), episode.NewFinder(cfg.Discovery))
			var unpaired *consistency.UnpairedError
			if pairErr != nil && !errors.As(pairErr, &unpaired) {
				return pairErr
			}

			reports := consistency.Compare(pairs)
			out := cmd.OutOrStdout()
			if len(reports) > 0 {
				rows := make([][]string, 0, len(reports))
				for _, report := range reports {
					status := "ok"
					if report.Err != nil {
						status = report.Err.Error()
					} else if !report.Consistent() {
						status = "mismatch"
					}
					rows = append(rows, []string{
						report.Episode,
						strconv.Itoa(report.AnnotationLines),
						strconv.Itoa(report.OutputLines),
						strconv.Itoa(report.Delta),
						status,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Episode", "Annotation", "Output", "Delta", "Status"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
			} else {
				fmt.Fprintln(out, "No paired episodes found")
			}
			if unpaired != nil {
				fmt.Fprintf(out, "Warning: %v\n", unpaired)
			}

			if mismatched := consistency.Mismatched(reports); len(mismatched) > 0 {
				names := make([]string, 0, len(mismatched))
				for _, report := range mismatched {
					names = append(names, report.Episode)
				}
				return fmt.Errorf("%d episode(s) mismatched: %s", len(mismatched), strings.Join(names, ", "))
			}
			fmt.Fprintf(out, "%d episode(s) consistent\n", len(reports))
			return nil
		},
	}

	cmd.Flags().StringVar(&annotationDir, "annotation-dir", "", "Root folder holding one subfolder per episode")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Folder holding refined outputs")
	cmd.Flags().StringVar(&method, "method", "", "Match outputs named <method>_<episode>.csv only")
	return cmd
}
