package joblog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status tracks a scheduled job's outcome.
type Status string

const (
	StatusEnqueued  Status = "enqueued"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry records one job handed to the queue, keyed by the queue's own job ID.
// The log is the durable audit trail behind the volatile Redis stream.
type Entry struct {
	ID         uuid.UUID
	JobID      string
	Kind       string
	GroupID    uuid.UUID
	Status     Status
	LastError  *string
	EnqueuedAt time.Time
	ResolvedAt *time.Time
}

// New creates an enqueued log entry for a job.
func New(jobID, kind string, groupID uuid.UUID) *Entry {
	return &Entry{
		ID:         uuid.New(),
		JobID:      jobID,
		Kind:       kind,
		GroupID:    groupID,
		Status:     StatusEnqueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Repository defines job log persistence.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	ListByGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]*Entry, error)
	// Prune deletes resolved entries older than before and returns the count.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
