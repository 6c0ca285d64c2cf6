package payout

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines payout persistence.
type Repository interface {
	// CreateIfAbsent inserts the payout unless one already exists for the
	// same (group, cycle). Returns (false, nil) on the duplicate.
	CreateIfAbsent(ctx context.Context, p *Payout) (created bool, err error)
	GetByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*Payout, error)
	GetByTransferID(ctx context.Context, transferID string) (*Payout, error)
	// LastCycleNumber returns the highest cycle number with a payout row,
	// or 0 when the group has none yet.
	LastCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error)
	Update(ctx context.Context, p *Payout) error
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*Payout, error)
}
