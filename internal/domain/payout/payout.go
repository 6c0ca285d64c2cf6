package payout

import (
	"time"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the payout status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payout is the pooled transfer to one cycle's payee.
// Unique on (GroupID, CycleNumber): one payee per cycle.
type Payout struct {
	ID                uuid.UUID
	GroupID           uuid.UUID
	MemberID          uuid.UUID
	CycleNumber       int
	Amount            decimal.Decimal
	Status            Status
	GatewayTransferID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// New creates a pending payout for the cycle's payee.
func New(groupID, memberID uuid.UUID, cycleNumber int, amount decimal.Decimal) (*Payout, error) {
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	now := time.Now().UTC()
	return &Payout{
		ID:          uuid.New(),
		GroupID:     groupID,
		MemberID:    memberID,
		CycleNumber: cycleNumber,
		Amount:      amount,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkCompleted records a confirmed transfer.
func (p *Payout) MarkCompleted(transferID string) error {
	if p.Status == StatusCompleted {
		return nil
	}
	if p.Status != StatusPending {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot complete payout in status "+string(p.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = StatusCompleted
	p.GatewayTransferID = &transferID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Rearm returns an unfinished payout to pending so its transfer can be
// attempted again. Completed payouts cannot be rearmed.
func (p *Payout) Rearm() error {
	if p.Status == StatusCompleted {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot rearm a completed payout",
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = StatusPending
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records a reversed or failed transfer.
func (p *Payout) MarkFailed() error {
	if p.Status == StatusFailed {
		return nil
	}
	p.Status = StatusFailed
	p.UpdatedAt = time.Now().UTC()
	return nil
}
