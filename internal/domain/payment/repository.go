package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusTotals is the aggregate of payment amounts for one group.
// Debited excludes failed payments.
type StatusTotals struct {
	Debited decimal.Decimal
	Pending decimal.Decimal
	Success decimal.Decimal
}

// Repository defines payment persistence.
type Repository interface {
	// CreateIfAbsent inserts the payment unless one already exists for the
	// same (group, cycle, member). Returns (false, nil) on the duplicate;
	// the caller treats that as an idempotent skip.
	CreateIfAbsent(ctx context.Context, p *Payment) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)
	ListByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) ([]*Payment, error)
	Update(ctx context.Context, p *Payment) error
	// SumByStatus recomputes the group aggregates straight from the table.
	SumByStatus(ctx context.Context, groupID uuid.UUID) (StatusTotals, error)
}
