package group

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository defines group and membership persistence.
// All writes are expected to run inside a caller-supplied transaction
// (propagated through the context).
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Group, error)
	// ListActiveIDs returns every active group that still has a scheduled
	// next cycle date.
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
	// Lock loads the group with a row lock, serializing concurrent cycle runs.
	Lock(ctx context.Context, id uuid.UUID) (*Group, error)
	Update(ctx context.Context, g *Group) error
	// UpdateSchedule persists status, pause reason, next cycle date and future cycles.
	UpdateSchedule(ctx context.Context, g *Group) error
	// UpdateAggregates persists the cached debit totals.
	UpdateAggregates(ctx context.Context, id uuid.UUID, debited, pending, success decimal.Decimal) error

	ListActiveMemberships(ctx context.Context, groupID uuid.UUID) ([]*Membership, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	GetMembershipByMandate(ctx context.Context, mandateID string) (*Membership, error)
	// SetMembershipPaid flips HasBeenPaid to true. Monotonic: never unsets.
	SetMembershipPaid(ctx context.Context, id uuid.UUID) error
	UpdateMembershipMandate(ctx context.Context, m *Membership) error
}
