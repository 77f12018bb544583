package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"refinebox/internal/annotations"
	"refinebox/internal/archive"
	"refinebox/internal/config"
)

func newNormalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file>...",
		Short: "Renumber frame indices of annotation files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			arch := archive.New(cfg.Archive, logger)
			out := cmd.OutOrStdout()
			for _, arg := range args {
				path, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				var result annotations.NormalizeResult
				if err := arch.Rewrite(cmd.Context(), path, func() error {
					var rewriteErr error
					result, rewriteErr = annotations.NormalizeFile(path)
					return rewriteErr
				}); err != nil {
					return fmt.Errorf("normalize %s: %w", path, err)
				}
				state := "unchanged"
				if result.Changed {
					state = "renumbered"
				}
				fmt.Fprintf(out, "%s: %s (%d rows, %d images, %d empty columns dropped)\n",
					path, state, result.Rows, result.Images, result.DroppedColumns)
			}
			return nil
		},
	}
}

func newManifestCommand(ctx *commandContext) *cobra.Command {
	var nestImages bool

	cmd := &cobra.Command{
		Use:   "manifest <annotation> <folder> <out>",
		Short: "Write the image manifest for one annotation file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			nest := cfg.Pipeline.NestImages
			if cmd.Flags().Changed("nest-images") {
				nest = nestImages
			}
			resolved := make([]string, len(args))
			for i, arg := range args {
				if resolved[i], err = config.ExpandPath(arg); err != nil {
					return err
				}
			}
			paths, err := annotations.WriteManifest(resolved[0], resolved[1], resolved[2], nest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d image path(s) to %s\n", len(paths), resolved[2])
			return nil
		},
	}
	cmd.Flags().BoolVar(&nestImages, "nest-images", false, "Resolve images under <folder>/images/")
	return cmd
}
