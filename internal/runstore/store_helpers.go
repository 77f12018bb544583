package runstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	// Fixed-width timestamps keep lexical ordering equal to time ordering.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	runColumns     = "id, input_dir, output_dir, method, run_pipeline, convert_only, started_at, finished_at, error_message"
	outcomeColumns = "run_id, episode, status, annotation_path, output_path, dataset_path, annotation_lines, output_lines, error_kind, error_message, recorded_at"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.execWithRetry(ctx, query, args...)
	return err
}

type scanner interface{ Scan(dest ...any) error }

func scanRun(row scanner) (*Run, error) {
	var (
		id          string
		inputDir    string
		outputDir   sql.NullString
		method      string
		runPipeline int
		convertOnly int
		startedRaw  string
		finishedRaw sql.NullString
		errorMsg    sql.NullString
	)
	if err := row.Scan(&id, &inputDir, &outputDir, &method, &runPipeline, &convertOnly, &startedRaw, &finishedRaw, &errorMsg); err != nil {
		return nil, err
	}
	run := &Run{
		ID:           id,
		InputDir:     inputDir,
		OutputDir:    outputDir.String,
		Method:       method,
		RunPipeline:  runPipeline != 0,
		ConvertOnly:  convertOnly != 0,
		ErrorMessage: errorMsg.String,
		Counts:       map[Status]int{},
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return run, nil
}

func scanOutcome(row scanner) (Outcome, error) {
	var (
		runID           string
		episode         string
		status          string
		annotationPath  sql.NullString
		outputPath      sql.NullString
		datasetPath     sql.NullString
		annotationLines sql.NullInt64
		outputLines     sql.NullInt64
		errorKind       sql.NullString
		errorMessage    sql.NullString
		recordedRaw     string
	)
	if err := row.Scan(
		&runID,
		&episode,
		&status,
		&annotationPath,
		&outputPath,
		&datasetPath,
		&annotationLines,
		&outputLines,
		&errorKind,
		&errorMessage,
		&recordedRaw,
	); err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{
		RunID:           runID,
		Episode:         episode,
		Status:          Status(status),
		AnnotationPath:  annotationPath.String,
		OutputPath:      outputPath.String,
		DatasetPath:     datasetPath.String,
		AnnotationLines: int(annotationLines.Int64),
		OutputLines:     int(outputLines.Int64),
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
	}
	if recorded, err := parseTimeString(recordedRaw); err == nil {
		outcome.RecordedAt = recorded
	}
	return outcome, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
