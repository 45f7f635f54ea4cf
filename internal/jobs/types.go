// Package jobs defines background work queued by the capture pipeline.
package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("jobs: queue is closed")

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("jobs: job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// DefaultMaxAttempts bounds how often a failing job is run.
const DefaultMaxAttempts = 3

// ArchiveOutputJob carries one raw extraction response to the archive sinks.
type ArchiveOutputJob struct {
	JobID string `json:"job_id"`

	Utterance  string    `json:"utterance"`
	Model      string    `json:"model"`
	Raw        string    `json:"raw"`
	ModelError string    `json:"model_error,omitempty"`
	ProducedAt time.Time `json:"produced_at"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
}

// Handler processes a job. A returned error schedules a retry while
// attempts remain.
type Handler func(ctx context.Context, job *ArchiveOutputJob) error

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *ArchiveOutputJob) error
	Close() error
}

// Consumer runs a handler over queued jobs.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Store keeps job state for inspection.
type Store interface {
	SaveJob(ctx context.Context, job *ArchiveOutputJob) error
	GetJob(ctx context.Context, jobID string) (*ArchiveOutputJob, error)
	ListJobs(ctx context.Context, filter Filter) ([]*ArchiveOutputJob, error)
}

// Filter narrows ListJobs. Zero values match everything.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}
