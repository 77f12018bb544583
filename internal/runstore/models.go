package runstore

import "time"

// Status is the terminal state of one episode within a run.
type Status string

const (
	StatusProcessed  Status = "processed"
	StatusSkipped    Status = "skipped"
	StatusMismatched Status = "mismatched"
	StatusFailed     Status = "failed"
)

// Statuses lists every outcome status in display order.
func Statuses() []Status {
	return []Status{StatusProcessed, StatusMismatched, StatusSkipped, StatusFailed}
}

// Run is one invocation of the episode loop.
type Run struct {
	ID          string
	InputDir    string
	OutputDir   string
	Method      string
	RunPipeline bool
	ConvertOnly bool
	StartedAt   time.Time
	FinishedAt  *time.Time
	// ErrorMessage is set when the run aborted before finishing its episodes.
	ErrorMessage string
	Counts       map[Status]int
}

// Finished reports whether the run reached FinishRun.
func (r Run) Finished() bool {
	return r.FinishedAt != nil
}

// Outcome is the recorded result of one episode.
type Outcome struct {
	RunID           string
	Episode         string
	Status          Status
	AnnotationPath  string
	OutputPath      string
	DatasetPath     string
	AnnotationLines int
	OutputLines     int
	ErrorKind       string
	ErrorMessage    string
	RecordedAt      time.Time
}
