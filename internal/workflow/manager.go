package workflow

import (
	"log/slog"

	"refinebox/internal/archive"
	"refinebox/internal/config"
	"refinebox/internal/episode"
	"refinebox/internal/logging"
	"refinebox/internal/refiner"
)

// Manager coordinates the episode loop using the configured collaborators.
type Manager struct {
	cfg     *config.Config
	opts    Options
	finder  episode.Finder
	refiner Refiner
	archive *archive.Archive
	ledger  Ledger
	logger  *slog.Logger

	progress  Progress
	onOutcome func(EpisodeOutcome)
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithRefiner replaces the pipeline invoker (used in tests).
func WithRefiner(r Refiner) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.refiner = r
		}
	}
}

// WithArchive replaces the archive built from configuration.
func WithArchive(a *archive.Archive) ManagerOption {
	return func(m *Manager) {
		if a != nil {
			m.archive = a
		}
	}
}

// WithLedger records runs and outcomes in l.
func WithLedger(l Ledger) ManagerOption {
	return func(m *Manager) {
		m.ledger = l
	}
}

// WithProgress reports per-episode progress to p.
func WithProgress(p Progress) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.progress = p
		}
	}
}

// WithOutcomeHandler calls fn after each episode finishes.
func WithOutcomeHandler(fn func(EpisodeOutcome)) ManagerOption {
	return func(m *Manager) {
		m.onOutcome = fn
	}
}

// NewManager constructs a Manager for one run.
func NewManager(cfg *config.Config, opts Options, logger *slog.Logger, options ...ManagerOption) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:      cfg,
		opts:     opts,
		finder:   episode.NewFinder(cfg.Discovery),
		logger:   logger,
		progress: noopProgress{},
	}
	for _, opt := range options {
		opt(m)
	}
	if m.archive == nil {
		m.archive = archive.New(cfg.Archive, logger)
	}
	if m.refiner == nil && opts.RunPipeline {
		r, err := refiner.New(cfg.Pipeline, opts.PipelineDir, logger, refiner.WithDebug(opts.Debug))
		if err != nil {
			return nil, err
		}
		m.refiner = r
	}
	return m, nil
}
