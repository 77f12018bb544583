package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"refinebox/internal/annotations"
	"refinebox/internal/consistency"
	"refinebox/internal/convert"
	"refinebox/internal/episode"
	"refinebox/internal/logging"
	"refinebox/internal/refiner"
	"refinebox/internal/runstore"
	"refinebox/internal/services"
)

type episodeState struct {
	episode episode.Episode
	outcome *EpisodeOutcome
	logger  *slog.Logger
}

func (m *Manager) processEpisode(ctx context.Context, ep episode.Episode) EpisodeOutcome {
	started := time.Now()
	ctx = services.WithEpisode(ctx, ep.Name)
	logger := logging.WithContext(ctx, m.logger)
	outcome := EpisodeOutcome{
		Episode:    ep.Name,
		OutputPath: filepath.Join(m.opts.OutputDir, consistency.OutputName(m.opts.Method, ep.Name)),
	}

	lookup, err := m.finder.AnnotationFile(ep)
	outcome.AnnotationPath = lookup.Path
	if lookup.Fallback {
		logger.Debug("annotation lookup fell back",
			logging.String("pattern", m.finder.Pattern(ep)),
			logging.Int("candidates", len(lookup.Candidates)),
			logging.String("fallback", lookup.Path),
		)
	}
	if err != nil {
		outcome.Err = err
		outcome.Duration = time.Since(started)
		if errors.Is(err, episode.ErrMissingAnnotation) {
			outcome.Status = runstore.StatusSkipped
			logger.Info("episode skipped",
				logging.String(logging.FieldEventType, "episode_skipped"),
				logging.String("reason", "annotation file missing"),
				logging.String("expected", lookup.Path),
			)
			return outcome
		}
		outcome.Status = runstore.StatusFailed
		logging.ErrorWithContext(logger, "annotation lookup failed", "episode_failed", logging.Error(err))
		return outcome
	}

	state := &episodeState{episode: ep, outcome: &outcome, logger: logger}
	for _, stg := range m.stages() {
		stageCtx := services.WithStage(ctx, stg.name)
		state.logger = logging.WithContext(stageCtx, m.logger)
		if err := stg.run(stageCtx, state); err != nil {
			outcome.Status = runstore.StatusFailed
			outcome.Stage = stg.name
			outcome.Err = fmt.Errorf("%s: %w", stg.name, err)
			outcome.Duration = time.Since(started)
			logging.ErrorWithContext(state.logger, "episode stage failed", "stage_failure",
				logging.Error(err),
				logging.String("error_kind", services.ErrorKind(err)),
				logging.String(logging.FieldErrorHint, stageHint(stg.name)),
			)
			return outcome
		}
	}
	if outcome.Status == "" {
		outcome.Status = runstore.StatusProcessed
	}
	outcome.Duration = time.Since(started)
	logger.Info("episode finished",
		logging.String(logging.FieldEventType, "episode_complete"),
		logging.String("status", string(outcome.Status)),
		logging.Duration("duration", outcome.Duration),
	)
	return outcome
}

func (m *Manager) stages() []episodeStage {
	var stages []episodeStage
	if m.opts.FixFrames {
		stages = append(stages, episodeStage{name: "normalize", run: m.stageNormalize})
	}
	if m.opts.ConvertOnly {
		return append(stages, episodeStage{name: "convert", run: m.stageConvertInPlace})
	}
	stages = append(stages, episodeStage{name: "manifest", run: m.stageManifest})
	if m.opts.RunPipeline {
		stages = append(stages,
			episodeStage{name: "refine", run: m.stageRefine},
			episodeStage{name: "convert", run: m.stageConvert},
		)
	}
	if m.opts.CheckOutputCounts {
		stages = append(stages, episodeStage{name: "check", run: m.stageCheck})
	}
	if m.opts.RunPipeline && m.archive.Enabled() {
		stages = append(stages, episodeStage{name: "sync", run: m.stageSync})
	}
	return stages
}

func (m *Manager) stageNormalize(ctx context.Context, state *episodeState) error {
	path := state.outcome.AnnotationPath
	return m.archive.Rewrite(ctx, path, func() error {
		result, err := annotations.NormalizeFile(path)
		if err != nil {
			return err
		}
		state.logger.Info("frame indices normalized",
			logging.String(logging.FieldEventType, "frames_normalized"),
			logging.Int("rows", result.Rows),
			logging.Int("images", result.Images),
			logging.Int("dropped_columns", result.DroppedColumns),
			logging.Bool("changed", result.Changed),
		)
		return nil
	})
}

func (m *Manager) stageManifest(_ context.Context, state *episodeState) error {
	paths, err := annotations.WriteManifest(
		state.outcome.AnnotationPath,
		state.episode.Path,
		m.opts.ImageListFile,
		m.opts.NestImages,
	)
	if err != nil {
		return err
	}
	state.logger.Debug("image manifest written",
		logging.String("path", m.opts.ImageListFile),
		logging.Int("images", len(paths)),
	)
	return nil
}

func (m *Manager) stageRefine(ctx context.Context, state *episodeState) error {
	_, err := m.refiner.Refine(ctx, refiner.Request{
		Method:         m.opts.Method,
		ManifestPath:   m.opts.ImageListFile,
		AnnotationPath: state.outcome.AnnotationPath,
		OutputPath:     state.outcome.OutputPath,
	})
	return err
}

func (m *Manager) stageConvert(_ context.Context, state *episodeState) error {
	dataset := convert.DatasetPathFor(state.outcome.OutputPath)
	stats, err := convert.Convert(state.outcome.OutputPath, dataset)
	if err != nil {
		return err
	}
	state.outcome.DatasetPath = dataset
	state.logger.Info("dataset converted",
		logging.String(logging.FieldEventType, "dataset_converted"),
		logging.String("dataset", dataset),
		logging.Int("images", stats.Images),
		logging.Int("annotations", stats.Annotations),
	)
	return nil
}

// stageConvertInPlace converts an existing pipeline output into a dataset
// stored beside the annotation file, keeping the archive consistent.
func (m *Manager) stageConvertInPlace(ctx context.Context, state *episodeState) error {
	output := state.outcome.OutputPath
	if info, err := os.Stat(output); err != nil || info.IsDir() {
		return services.Wrap(services.ErrNotFound, "convert", "pipeline output", output, err)
	}
	dataset := convert.AnnotationDatasetPath(state.outcome.AnnotationPath, m.opts.label())
	return m.archive.Rewrite(ctx, dataset, func() error {
		stats, err := convert.Convert(output, dataset)
		if err != nil {
			return err
		}
		state.outcome.DatasetPath = dataset
		state.logger.Info("dataset converted",
			logging.String(logging.FieldEventType, "dataset_converted"),
			logging.String("dataset", dataset),
			logging.Int("images", stats.Images),
			logging.Int("annotations", stats.Annotations),
		)
		return nil
	})
}

func (m *Manager) stageCheck(_ context.Context, state *episodeState) error {
	report := consistency.Compare([]consistency.Pair{{
		Episode:        state.episode.Name,
		AnnotationPath: state.outcome.AnnotationPath,
		OutputPath:     state.outcome.OutputPath,
	}})[0]
	state.outcome.AnnotationLines = report.AnnotationLines
	state.outcome.OutputLines = report.OutputLines
	if report.Consistent() {
		return nil
	}
	state.outcome.Status = runstore.StatusMismatched
	attrs := []logging.Attr{
		logging.Int("annotation_lines", report.AnnotationLines),
		logging.Int("output_lines", report.OutputLines),
		logging.Int("delta", report.Delta),
		logging.String(logging.FieldImpact, "episode reported as mismatched"),
	}
	if report.Err != nil {
		state.outcome.Err = report.Err
		attrs = append(attrs, logging.Error(report.Err))
	}
	logging.WarnWithContext(state.logger, "line counts differ", "consistency_mismatch", attrs...)
	return nil
}

func (m *Manager) stageSync(ctx context.Context, state *episodeState) error {
	if state.outcome.DatasetPath != "" {
		count, err := convert.DatasetAnnotationCount(state.outcome.DatasetPath)
		if err != nil {
			return err
		}
		state.logger.Debug("dataset verified before sync",
			logging.String("dataset", state.outcome.DatasetPath),
			logging.Int("annotations", count),
		)
	}
	label := m.opts.label()
	targets := [][2]string{
		{state.outcome.DatasetPath, convert.AnnotationDatasetPath(state.outcome.AnnotationPath, label)},
		{state.outcome.OutputPath, convert.AnnotationCSVPath(state.outcome.AnnotationPath, label)},
	}
	for _, target := range targets {
		if target[0] == "" {
			continue
		}
		if _, err := m.archive.Sync(ctx, target[0], target[1]); err != nil {
			return err
		}
	}
	return nil
}

func stageHint(stage string) string {
	switch stage {
	case "normalize":
		return "check the annotation CSV is readable and has a filename column"
	case "manifest":
		return "check the image list location is writable"
	case "refine":
		return "inspect the pipeline stderr above; rerun with --debug to attach the debugger"
	case "convert":
		return "check the pipeline output is a valid VIAME CSV"
	case "sync":
		return "run dvc status in the archive folder"
	default:
		return "check logs for details"
	}
}
