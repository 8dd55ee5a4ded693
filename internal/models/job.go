package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the backend-reported lifecycle status of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one snapshot of a backend job as returned by GET /chat/{job_id}.
// The client never mutates a job; it only observes successive snapshots.
type Job struct {
	ID              string          `json:"id"`
	JobType         string          `json:"job_type"`
	Status          JobStatus       `json:"status"`
	Progress        float64         `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// HasResult reports whether the snapshot carries a non-null result payload.
func (j *Job) HasResult() bool {
	if len(j.Result) == 0 {
		return false
	}
	return string(j.Result) != "null"
}

// ProgressFraction normalizes Progress to [0,1]. The backend reports either
// a percentage (0-100) or a fraction.
func (j *Job) ProgressFraction() float64 {
	p := j.Progress
	if p > 1 {
		p = p / 100
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
