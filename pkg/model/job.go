package model

import "time"

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// Job is the persisted record of one generation request.
type Job struct {
	ID          string           `json:"id"`
	State       JobState         `json:"state"`
	Engine      string           `json:"engine"`
	Language    string           `json:"language"`
	Mode        string           `json:"mode,omitempty"`
	Segments    int              `json:"segments"`
	OutputPath  string           `json:"outputPath,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   string           `json:"errorKind,omitempty"`
	Report      *AlignmentReport `json:"report,omitempty"`
	Diagnostics *Diagnostics     `json:"diagnostics,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
