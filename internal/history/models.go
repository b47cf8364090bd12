package history

import (
	"time"

	"avatarreel/internal/stage"
)

// Status is the lifecycle state of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one row of the history table.
type Run struct {
	ID             int64
	RunID          string
	Status         Status
	Engine         string
	Device         string
	Matting        string
	AvatarPath     string
	AudioPath      string
	BackgroundPath string
	OutputPath     string
	Workdir        string
	FailedStage    string
	ErrorKind      string
	ErrorMessage   string
	Frames         int
	FPS            float64
	MediaDuration  time.Duration
	SizeBytes      int64
	Stages         []stage.Report
	StartedAt      time.Time
	FinishedAt     time.Time
	UpdatedAt      time.Time
}

// Elapsed returns the wall time of a finished run, or zero while running.
func (r Run) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary aggregates run counts by status.
type Summary struct {
	Total     int
	Running   int
	Succeeded int
	Failed    int
}
