package history

import "time"

// Run statuses.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// RunRecord is one task invocation against a label.
type RunRecord struct {
	ID              int64
	RunID           string
	Label           string
	Task            string
	Command         string
	Hosts           string
	DryRun          bool
	Status          string // in_progress, success, failed
	StartedAt       time.Time
	CompletedAt     *time.Time // nullable
	DurationSeconds *float64   // nullable
	ErrorMessage    *string    // nullable
}
