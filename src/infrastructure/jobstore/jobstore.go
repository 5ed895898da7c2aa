package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus defines the lifecycle status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. A job never leaves a
// terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminalStatus is returned when an update would move a job out
	// of a terminal status.
	ErrTerminalStatus = errors.New("job already in terminal status")
)

// Job represents a trackable unit of background work
type Job struct {
	ID              string          `gorm:"primaryKey" json:"id"`
	JobType         string          `gorm:"index" json:"job_type"`
	Status          JobStatus       `gorm:"index" json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Patch describes a partial job update. Nil fields are left untouched;
// Payload replaces the stored payload wholesale when non-nil.
type Patch struct {
	Status          *JobStatus
	ProgressPercent *int
	ProgressMessage *string
	Payload         json.RawMessage
	Error           *string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	JobType string
	Status  JobStatus
}

// Store defines the interface for job persistence. A single Update call
// is applied atomically; readers never observe a half-applied patch.
type Store interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, patch Patch) (*Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter Filter) ([]Job, error)
}

// apply merges the patch into the job, enforcing the one-directional
// status machine. It mutates job in place.
func (p Patch) apply(job *Job) error {
	if p.Status != nil && *p.Status != job.Status {
		if job.Status.Terminal() {
			return ErrTerminalStatus
		}
		job.Status = *p.Status
	}
	if p.ProgressPercent != nil {
		job.ProgressPercent = *p.ProgressPercent
	}
	if p.ProgressMessage != nil {
		job.ProgressMessage = *p.ProgressMessage
	}
	if p.Payload != nil {
		job.Payload = p.Payload
	}
	if p.Error != nil {
		job.Error = p.Error
	}
	job.UpdatedAt = time.Now()
	return nil
}
