package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// GroupRepository implements group.Repository using PostgreSQL.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

func (r *GroupRepository) db(ctx context.Context) Querier {
	return QuerierFrom(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const groupColumns = `id, name, contribution_amount, frequency, status, pause_reason,
	        cycle_started, next_cycle_date, future_cycles,
	        total_debited, total_pending, total_success, created_at, updated_at`

// GetByID retrieves a group by its ID.
func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*group.Group, error) {
	return r.scanGroup(r.db(ctx).QueryRow(ctx,
		`SELECT `+groupColumns+` FROM savings_groups WHERE id = $1`, id))
}

// ListActiveIDs lists active groups with a scheduled next cycle, soonest
// first. Served by idx_groups_status_next_cycle.
func (r *GroupRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id FROM savings_groups
		 WHERE status = 'active' AND next_cycle_date IS NOT NULL
		 ORDER BY next_cycle_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Lock loads the group with FOR UPDATE so concurrent cycle runs against the
// same group serialize on the row. Must be called inside a transaction.
func (r *GroupRepository) Lock(ctx context.Context, id uuid.UUID) (*group.Group, error) {
	return r.scanGroup(r.db(ctx).QueryRow(ctx,
		`SELECT `+groupColumns+` FROM savings_groups WHERE id = $1 FOR UPDATE`, id))
}

// Update persists all mutable group fields.
func (r *GroupRepository) Update(ctx context.Context, g *group.Group) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE savings_groups SET
		  name=$1, contribution_amount=$2, frequency=$3, status=$4, pause_reason=$5,
		  cycle_started=$6, next_cycle_date=$7, future_cycles=$8,
		  total_debited=$9, total_pending=$10, total_success=$11, updated_at=$12
		 WHERE id=$13`,
		g.Name, numericString(g.ContributionAmount), string(g.Frequency), string(g.Status), string(g.PauseReason),
		g.CycleStarted, g.NextCycleDate, g.FutureCycles,
		numericString(g.TotalDebited), numericString(g.TotalPending), numericString(g.TotalSuccess), g.UpdatedAt,
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrGroupNotFound
	}
	return nil
}

// UpdateSchedule persists status, pause reason and the cycle schedule only.
func (r *GroupRepository) UpdateSchedule(ctx context.Context, g *group.Group) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE savings_groups SET
		  status=$1, pause_reason=$2, cycle_started=$3, next_cycle_date=$4, future_cycles=$5, updated_at=$6
		 WHERE id=$7`,
		string(g.Status), string(g.PauseReason), g.CycleStarted, g.NextCycleDate, g.FutureCycles, g.UpdatedAt,
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("update group schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrGroupNotFound
	}
	return nil
}

// UpdateAggregates persists the cached debit totals.
func (r *GroupRepository) UpdateAggregates(ctx context.Context, id uuid.UUID, debited, pending, success decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE savings_groups SET
		  total_debited=$1, total_pending=$2, total_success=$3, updated_at=NOW()
		 WHERE id=$4`,
		numericString(debited), numericString(pending), numericString(success), id,
	)
	if err != nil {
		return fmt.Errorf("update group aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrGroupNotFound
	}
	return nil
}

const membershipColumns = `id, group_id, user_id, payout_order, status,
	        has_been_paid, is_admin, mandate_id, account_ref, created_at, updated_at`

// ListActiveMemberships lists active members of a group ordered by payout position.
func (r *GroupRepository) ListActiveMemberships(ctx context.Context, groupID uuid.UUID) ([]*group.Membership, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+membershipColumns+`
		 FROM group_memberships WHERE group_id = $1 AND status = 'active'
		 ORDER BY payout_order ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var members []*group.Membership
	for rows.Next() {
		m, err := r.scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMembership retrieves a membership by its ID.
func (r *GroupRepository) GetMembership(ctx context.Context, id uuid.UUID) (*group.Membership, error) {
	return r.scanMembership(r.db(ctx).QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_memberships WHERE id = $1`, id))
}

// GetMembershipByMandate retrieves a membership by its gateway mandate reference.
func (r *GroupRepository) GetMembershipByMandate(ctx context.Context, mandateID string) (*group.Membership, error) {
	return r.scanMembership(r.db(ctx).QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_memberships WHERE mandate_id = $1`, mandateID))
}

// SetMembershipPaid flips has_been_paid to true. Never unsets it.
func (r *GroupRepository) SetMembershipPaid(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE group_memberships SET has_been_paid = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set membership paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrMembershipNotFound
	}
	return nil
}

// UpdateMembershipMandate persists the mandate reference and status.
func (r *GroupRepository) UpdateMembershipMandate(ctx context.Context, m *group.Membership) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE group_memberships SET
		  status=$1, mandate_id=$2, account_ref=$3, updated_at=$4
		 WHERE id=$5`,
		string(m.Status), m.MandateID, m.AccountRef, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update membership mandate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrMembershipNotFound
	}
	return nil
}

// --- scanning helpers ---

func (r *GroupRepository) scanGroup(s scanner) (*group.Group, error) {
	g := &group.Group{}
	var (
		frequency   string
		status      string
		pauseReason string
		amountStr   string
		debitedStr  string
		pendingStr  string
		successStr  string
	)
	err := s.Scan(
		&g.ID, &g.Name, &amountStr, &frequency, &status, &pauseReason,
		&g.CycleStarted, &g.NextCycleDate, &g.FutureCycles,
		&debitedStr, &pendingStr, &successStr, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrGroupNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}

	if g.ContributionAmount, err = parseNumeric(amountStr); err != nil {
		return nil, fmt.Errorf("parse contribution amount: %w", err)
	}
	if g.TotalDebited, err = parseNumeric(debitedStr); err != nil {
		return nil, fmt.Errorf("parse total debited: %w", err)
	}
	if g.TotalPending, err = parseNumeric(pendingStr); err != nil {
		return nil, fmt.Errorf("parse total pending: %w", err)
	}
	if g.TotalSuccess, err = parseNumeric(successStr); err != nil {
		return nil, fmt.Errorf("parse total success: %w", err)
	}

	g.Frequency = group.Frequency(frequency)
	g.Status = group.Status(status)
	g.PauseReason = group.PauseReason(pauseReason)
	return g, nil
}

func (r *GroupRepository) scanMembership(s scanner) (*group.Membership, error) {
	m := &group.Membership{}
	var status string
	err := s.Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.PayoutOrder, &status,
		&m.HasBeenPaid, &m.IsAdmin, &m.MandateID, &m.AccountRef, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}
	m.Status = group.MembershipStatus(status)
	return m, nil
}
