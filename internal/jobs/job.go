package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a job variant. Dispatch happens on this tag at the worker entry.
type Kind string

const (
	KindCycleTick    Kind = "cycle-tick"
	KindRetryPayment Kind = "retry-payment"
	KindGroupPause   Kind = "group-pause"
)

// Job is one unit of work on the durable queue. Exactly one of GroupID or
// PaymentID is the primary key depending on Kind (group-pause carries both
// GroupID and a Reason).
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	GroupID    uuid.UUID `json:"group_id,omitempty"`
	PaymentID  uuid.UUID `json:"payment_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewCycleTick builds a cycle-tick job for the group.
func NewCycleTick(groupID uuid.UUID) Job {
	return newJob(KindCycleTick, groupID.String(), Job{GroupID: groupID})
}

// NewRetryPayment builds a retry-payment job for the payment.
func NewRetryPayment(paymentID uuid.UUID) Job {
	return newJob(KindRetryPayment, paymentID.String(), Job{PaymentID: paymentID})
}

// NewGroupPause builds a group-pause job.
func NewGroupPause(groupID uuid.UUID, reason string) Job {
	return newJob(KindGroupPause, groupID.String(), Job{GroupID: groupID, Reason: reason})
}

// newJob assigns the client-chosen id "<kind>-<pk>-<epochMillis>" so two
// distinct occurrences of the same logical job never collapse into one.
func newJob(kind Kind, pk string, j Job) Job {
	now := time.Now().UTC()
	j.Kind = kind
	j.ID = fmt.Sprintf("%s-%s-%d", kind, pk, now.UnixMilli())
	j.EnqueuedAt = now
	return j
}

// Encode serializes the job for the queue.
func (j Job) Encode() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(b), nil
}

// Decode deserializes a queued job.
func Decode(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if j.Kind == "" || j.ID == "" {
		return Job{}, fmt.Errorf("malformed job payload: %q", raw)
	}
	return j, nil
}

// LockName is the per-group dedup key for the in-process lock manager.
func (j Job) LockName() string {
	return string(j.Kind)
}

// DedupID returns the entity the job operates on, for lock scoping.
func (j Job) DedupID() uuid.UUID {
	if j.Kind == KindRetryPayment {
		return j.PaymentID
	}
	return j.GroupID
}
