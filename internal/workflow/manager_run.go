package workflow

import (
	"context"
	"errors"
	"time"

	"refinebox/internal/episode"
	"refinebox/internal/logging"
	"refinebox/internal/runstore"
	"refinebox/internal/services"
)

// Run processes every selected episode and returns the collected outcomes.
// The returned error is non-nil only when the run could not start or was
// canceled; per-episode failures are reported through the Summary.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: time.Now()}

	episodes, err := episode.Discover(m.opts.InputDir)
	if err != nil {
		return summary, err
	}
	selected, err := episode.Window(episodes, m.opts.FolderIndex)
	if err != nil {
		return summary, err
	}

	runID := m.beginRun(ctx)
	summary.RunID = runID
	if runID != "" {
		ctx = services.WithRunID(ctx, runID)
	}
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("input_dir", m.opts.InputDir),
		logging.String("method", m.opts.Method),
		logging.Int("episodes", len(selected)),
		logging.Int("discovered", len(episodes)),
	)

	var runErr error
	m.progress.Start(len(selected))
	for _, ep := range selected {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		outcome := m.processEpisode(ctx, ep)
		summary.Outcomes = append(summary.Outcomes, outcome)
		m.recordOutcome(ctx, runID, outcome)
		m.progress.Step(ep.Name)
		if m.onOutcome != nil {
			m.onOutcome(outcome)
		}
		if errors.Is(outcome.Err, context.Canceled) && ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}
	m.progress.Finish()
	summary.Duration = time.Since(summary.StartedAt)

	m.finishRun(ctx, runID, runErr)
	counts := summary.Counts()
	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("processed", counts[runstore.StatusProcessed]),
		logging.Int("mismatched", counts[runstore.StatusMismatched]),
		logging.Int("skipped", counts[runstore.StatusSkipped]),
		logging.Int("failed", counts[runstore.StatusFailed]),
		logging.Duration("duration", summary.Duration),
	)
	return summary, runErr
}

func (m *Manager) beginRun(ctx context.Context) string {
	if m.ledger == nil {
		return ""
	}
	run, err := m.ledger.BeginRun(ctx, runstore.Run{
		InputDir:    m.opts.InputDir,
		OutputDir:   m.opts.OutputDir,
		Method:      m.opts.Method,
		RunPipeline: m.opts.RunPipeline,
		ConvertOnly: m.opts.ConvertOnly,
	})
	if err != nil {
		logging.WarnWithContext(m.logger, "run ledger unavailable", "ledger_begin_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history will not include this run"),
		)
		return ""
	}
	return run.ID
}

func (m *Manager) recordOutcome(ctx context.Context, runID string, outcome EpisodeOutcome) {
	if m.ledger == nil || runID == "" {
		return
	}
	record := runstore.Outcome{
		Episode:         outcome.Episode,
		Status:          outcome.Status,
		AnnotationPath:  outcome.AnnotationPath,
		OutputPath:      outcome.OutputPath,
		DatasetPath:     outcome.DatasetPath,
		AnnotationLines: outcome.AnnotationLines,
		OutputLines:     outcome.OutputLines,
	}
	if outcome.Err != nil {
		record.ErrorKind = services.ErrorKind(outcome.Err)
		record.ErrorMessage = outcome.Err.Error()
	}
	if err := m.ledger.RecordOutcome(context.WithoutCancel(ctx), runID, record); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to record episode outcome", "ledger_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history is incomplete"),
		)
	}
}

func (m *Manager) finishRun(ctx context.Context, runID string, runErr error) {
	if m.ledger == nil || runID == "" {
		return
	}
	if err := m.ledger.FinishRun(context.WithoutCancel(ctx), runID, runErr); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to finish run record", "ledger_finish_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run shows as unfinished in history"),
		)
	}
}
