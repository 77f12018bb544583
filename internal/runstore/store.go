package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"refinebox/internal/config"
)

// Store persists runs and outcomes in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open creates the log directory when needed and opens the ledger configured by cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.LedgerPath())
}

// OpenPath opens or creates the ledger database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts a new run with a fresh id and returns it.
func (s *Store) BeginRun(ctx context.Context, run Run) (Run, error) {
	run.ID = uuid.NewString()
	run.StartedAt = s.now().UTC()
	run.FinishedAt = nil
	run.Counts = map[Status]int{}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO runs (id, input_dir, output_dir, method, run_pipeline, convert_only, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.InputDir,
		nullableString(run.OutputDir),
		run.Method,
		boolToInt(run.RunPipeline),
		boolToInt(run.ConvertOnly),
		formatTime(run.StartedAt),
	); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordOutcome appends the outcome of one episode to runID.
func (s *Store) RecordOutcome(ctx context.Context, runID string, outcome Outcome) error {
	if strings.TrimSpace(outcome.Episode) == "" {
		return errors.New("record outcome: episode is required")
	}
	if outcome.Status == "" {
		return errors.New("record outcome: status is required")
	}
	recorded := outcome.RecordedAt
	if recorded.IsZero() {
		recorded = s.now()
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO outcomes (run_id, episode, status, annotation_path, output_path, dataset_path,
		 annotation_lines, output_lines, error_kind, error_message, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		outcome.Episode,
		string(outcome.Status),
		nullableString(outcome.AnnotationPath),
		nullableString(outcome.OutputPath),
		nullableString(outcome.DatasetPath),
		outcome.AnnotationLines,
		outcome.OutputLines,
		nullableString(outcome.ErrorKind),
		nullableString(outcome.ErrorMessage),
		formatTime(recorded.UTC()),
	); err != nil {
		return fmt.Errorf("insert outcome for %s: %w", outcome.Episode, err)
	}
	return nil
}

// FinishRun stamps the completion time of runID. A non-nil runErr is stored as
// the reason the run stopped early.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	var message any
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE runs SET finished_at = ?, error_message = ? WHERE id = ?",
		formatTime(s.now().UTC()),
		message,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("finish run %s: not found", runID)
	}
	return nil
}

// GetRun loads a run by id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := s.attachCounts(ctx, []*Run{run}); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if err := s.attachCounts(ctx, runs); err != nil {
		return nil, err
	}
	out := make([]Run, len(runs))
	for i, run := range runs {
		out[i] = *run
	}
	return out, nil
}

// Outcomes returns the outcomes recorded for runID in recording order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+outcomeColumns+" FROM outcomes WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func (s *Store) attachCounts(ctx context.Context, runs []*Run) error {
	if len(runs) == 0 {
		return nil
	}
	ids := make([]any, len(runs))
	byID := make(map[string]*Run, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
		run.Counts = map[Status]int{}
		byID[run.ID] = run
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT run_id, status, COUNT(1) FROM outcomes WHERE run_id IN ("+makePlaceholders(len(ids))+") GROUP BY run_id, status",
		ids...)
	if err != nil {
		return fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			runID  string
			status string
			count  int
		)
		if err := rows.Scan(&runID, &status, &count); err != nil {
			return fmt.Errorf("scan outcome count: %w", err)
		}
		if run := byID[runID]; run != nil {
			run.Counts[Status(status)] = count
		}
	}
	return rows.Err()
}
