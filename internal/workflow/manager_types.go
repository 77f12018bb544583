package workflow

import (
	"context"
	"time"

	"refinebox/internal/refiner"
	"refinebox/internal/runstore"
	"refinebox/internal/toolexec"
)

// Refiner runs the external pipeline for one episode.
type Refiner interface {
	Refine(ctx context.Context, req refiner.Request) (toolexec.Result, error)
}

// Ledger persists runs and their episode outcomes.
type Ledger interface {
	BeginRun(ctx context.Context, run runstore.Run) (runstore.Run, error)
	RecordOutcome(ctx context.Context, runID string, outcome runstore.Outcome) error
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// EpisodeOutcome is the result of processing one episode.
type EpisodeOutcome struct {
	Episode         string
	Status          runstore.Status
	AnnotationPath  string
	OutputPath      string
	DatasetPath     string
	AnnotationLines int
	OutputLines     int
	// Stage names the stage that produced Err.
	Stage    string
	Err      error
	Duration time.Duration
}

// Delta is the annotation minus output line count, meaningful only when counts were taken.
func (o EpisodeOutcome) Delta() int {
	return o.AnnotationLines - o.OutputLines
}

// Summary is the result of a whole run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []EpisodeOutcome
}

// Counts tallies outcomes by status.
func (s Summary) Counts() map[runstore.Status]int {
	counts := make(map[runstore.Status]int, 4)
	for _, outcome := range s.Outcomes {
		counts[outcome.Status]++
	}
	return counts
}

// Failed reports whether any episode failed.
func (s Summary) Failed() bool {
	return s.Counts()[runstore.StatusFailed] > 0
}

type episodeStage struct {
	name string
	run  func(ctx context.Context, state *episodeState) error
}
