package payment

import (
	"time"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the payment status in the state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Payment is one member's contribution debit for one cycle.
// Unique on (GroupID, CycleNumber, MemberID); the database constraint is the
// authoritative guard against double debits.
type Payment struct {
	ID              uuid.UUID
	GroupID         uuid.UUID
	MemberID        uuid.UUID
	CycleNumber     int
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	Status          Status
	RetryCount      int
	GatewayIntentID *string
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New creates a pending payment for a cycle debit.
func New(groupID, memberID uuid.UUID, cycleNumber int, amount, fee decimal.Decimal) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	if cycleNumber < 1 {
		return nil, errors.NewValidationError("cycle_number", "must be at least 1")
	}
	now := time.Now().UTC()
	return &Payment{
		ID:          uuid.New(),
		GroupID:     groupID,
		MemberID:    memberID,
		CycleNumber: cycleNumber,
		Amount:      amount,
		Fee:         fee,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo checks if the payment can transition to the given status.
func (p *Payment) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending:    {StatusSuccessful, StatusFailed},
		StatusFailed:     {StatusPending, StatusFailed}, // retry re-arms; repeated failure callbacks are absorbed
		StatusSuccessful: {},                            // Terminal state
	}

	allowed, exists := transitions[p.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the payment to a new status.
func (p *Payment) TransitionTo(newStatus Status) error {
	if !p.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition payment from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSuccessful records a confirmed debit.
func (p *Payment) MarkSuccessful() error {
	return p.TransitionTo(StatusSuccessful)
}

// MarkFailed records a failed debit and counts the attempt.
func (p *Payment) MarkFailed(reason string) error {
	if err := p.TransitionTo(StatusFailed); err != nil {
		return err
	}
	p.RetryCount++
	p.LastError = &reason
	return nil
}

// Rearm puts a failed payment back to pending with a fresh gateway intent.
func (p *Payment) Rearm(intentID string) error {
	if p.Status != StatusFailed {
		return errors.NewDomainError(
			"not_retryable",
			"only failed payments can be retried",
			errors.ErrInvalidStateTransition,
		)
	}
	if err := p.TransitionTo(StatusPending); err != nil {
		return err
	}
	p.GatewayIntentID = &intentID
	p.LastError = nil
	return nil
}

// CanRetry reports whether the payment is below the retry threshold.
func (p *Payment) CanRetry(maxRetries int) bool {
	return p.Status == StatusFailed && p.RetryCount < maxRetries
}
