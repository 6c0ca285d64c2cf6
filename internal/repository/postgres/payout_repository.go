package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PayoutRepository implements payout.Repository using PostgreSQL.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository creates a new PayoutRepository.
func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

func (r *PayoutRepository) db(ctx context.Context) Querier {
	return QuerierFrom(ctx, r.pool)
}

const payoutColumns = `id, group_id, member_id, cycle_number, amount, status,
	        gateway_transfer_id, created_at, updated_at`

// CreateIfAbsent inserts the payout unless one already exists for the same
// (group, cycle). One payee per cycle, enforced by the unique index.
func (r *PayoutRepository) CreateIfAbsent(ctx context.Context, p *payout.Payout) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO cycle_payouts
		 (id, group_id, member_id, cycle_number, amount, status, gateway_transfer_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (group_id, cycle_number) DO NOTHING`,
		p.ID, p.GroupID, p.MemberID, p.CycleNumber,
		numericString(p.Amount), string(p.Status), p.GatewayTransferID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payout: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByCycle retrieves the payout for one cycle of a group.
func (r *PayoutRepository) GetByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*payout.Payout, error) {
	return r.scanPayout(r.db(ctx).QueryRow(ctx,
		`SELECT `+payoutColumns+`
		 FROM cycle_payouts WHERE group_id = $1 AND cycle_number = $2`, groupID, cycleNumber))
}

// GetByTransferID retrieves a payout by its gateway transfer reference.
func (r *PayoutRepository) GetByTransferID(ctx context.Context, transferID string) (*payout.Payout, error) {
	return r.scanPayout(r.db(ctx).QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM cycle_payouts WHERE gateway_transfer_id = $1`, transferID))
}

// LastCycleNumber returns the highest cycle number with a payout row, or 0
// when the group has none yet.
func (r *PayoutRepository) LastCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error) {
	var last int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(cycle_number), 0) FROM cycle_payouts WHERE group_id = $1`, groupID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last payout cycle: %w", err)
	}
	return last, nil
}

// Update updates an existing payout.
func (r *PayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE cycle_payouts SET
		  status=$1, gateway_transfer_id=$2, updated_at=$3
		 WHERE id=$4`,
		string(p.Status), p.GatewayTransferID, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPayoutNotFound
	}
	return nil
}

// ListByGroup lists all payouts for a group in cycle order.
func (r *PayoutRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*payout.Payout, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+payoutColumns+`
		 FROM cycle_payouts WHERE group_id = $1 ORDER BY cycle_number ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*payout.Payout
	for rows.Next() {
		p, err := r.scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (r *PayoutRepository) scanPayout(s scanner) (*payout.Payout, error) {
	p := &payout.Payout{}
	var (
		amountStr string
		status    string
	)
	err := s.Scan(
		&p.ID, &p.GroupID, &p.MemberID, &p.CycleNumber, &amountStr, &status,
		&p.GatewayTransferID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	if p.Amount, err = parseNumeric(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Status = payout.Status(status)
	return p, nil
}
