package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status tracks where a stored gateway event is in its processing lifecycle.
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Event is a verified gateway webhook delivery, stored raw so it can be
// audited and replayed. Deduplication of effects does not live here: the
// handlers stay idempotent on entity state, this log only records deliveries.
type Event struct {
	ID          uuid.UUID
	GatewayID   string
	Kind        string
	Payload     []byte
	Status      Status
	Error       *string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// New wraps a raw verified delivery for storage.
func New(gatewayID, kind string, payload []byte) *Event {
	return &Event{
		ID:         uuid.New(),
		GatewayID:  gatewayID,
		Kind:       kind,
		Payload:    payload,
		Status:     StatusReceived,
		ReceivedAt: time.Now().UTC(),
	}
}

// MarkProcessed records a completed processing pass.
func (e *Event) MarkProcessed() {
	now := time.Now().UTC()
	e.Status = StatusProcessed
	e.ProcessedAt = &now
	e.Error = nil
}

// MarkFailed records a failed processing pass.
func (e *Event) MarkFailed(reason string) {
	now := time.Now().UTC()
	e.Status = StatusFailed
	e.ProcessedAt = &now
	e.Error = &reason
}

// Repository defines webhook event persistence.
type Repository interface {
	Save(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	Update(ctx context.Context, e *Event) error
	// ListFailed returns failed events for operator replay, newest first.
	ListFailed(ctx context.Context, limit int) ([]*Event, error)
}
