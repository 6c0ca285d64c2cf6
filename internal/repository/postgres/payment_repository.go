package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) Querier {
	return QuerierFrom(ctx, r.pool)
}

const paymentColumns = `id, group_id, member_id, cycle_number, amount, fee, status,
	        retry_count, gateway_intent_id, last_error, created_at, updated_at`

// CreateIfAbsent inserts the payment unless one already exists for the same
// (group, cycle, member). The unique index is the authoritative guard; a
// conflict returns (false, nil) and the caller skips the member.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, p *payment.Payment) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO cycle_payments
		 (id, group_id, member_id, cycle_number, amount, fee, status,
		  retry_count, gateway_intent_id, last_error, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (group_id, cycle_number, member_id) DO NOTHING`,
		p.ID, p.GroupID, p.MemberID, p.CycleNumber,
		numericString(p.Amount), numericString(p.Fee), string(p.Status),
		p.RetryCount, p.GatewayIntentID, p.LastError, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM cycle_payments WHERE id = $1`, id))
}

// GetByIntentID retrieves a payment by its gateway intent reference.
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM cycle_payments WHERE gateway_intent_id = $1`, intentID))
}

// ListByCycle lists all payments for one cycle of a group.
func (r *PaymentRepository) ListByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) ([]*payment.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM cycle_payments WHERE group_id = $1 AND cycle_number = $2
		 ORDER BY created_at ASC`, groupID, cycleNumber)
	if err != nil {
		return nil, fmt.Errorf("list cycle payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Update updates an existing payment.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE cycle_payments SET
		  amount=$1, fee=$2, status=$3, retry_count=$4,
		  gateway_intent_id=$5, last_error=$6, updated_at=$7
		 WHERE id=$8`,
		numericString(p.Amount), numericString(p.Fee), string(p.Status), p.RetryCount,
		p.GatewayIntentID, p.LastError, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

// SumByStatus recomputes group totals straight from the payments table.
// Debited counts everything that is not failed.
func (r *PaymentRepository) SumByStatus(ctx context.Context, groupID uuid.UUID) (payment.StatusTotals, error) {
	var (
		totals     payment.StatusTotals
		debitedStr string
		pendingStr string
		successStr string
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(amount) FILTER (WHERE status <> 'failed'), 0),
		   COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
		   COALESCE(SUM(amount) FILTER (WHERE status = 'successful'), 0)
		 FROM cycle_payments WHERE group_id = $1`, groupID,
	).Scan(&debitedStr, &pendingStr, &successStr)
	if err != nil {
		return totals, fmt.Errorf("sum payments: %w", err)
	}

	if totals.Debited, err = parseNumeric(debitedStr); err != nil {
		return totals, fmt.Errorf("parse debited total: %w", err)
	}
	if totals.Pending, err = parseNumeric(pendingStr); err != nil {
		return totals, fmt.Errorf("parse pending total: %w", err)
	}
	if totals.Success, err = parseNumeric(successStr); err != nil {
		return totals, fmt.Errorf("parse success total: %w", err)
	}
	return totals, nil
}

func (r *PaymentRepository) scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{}
	var (
		amountStr string
		feeStr    string
		status    string
	)
	err := s.Scan(
		&p.ID, &p.GroupID, &p.MemberID, &p.CycleNumber, &amountStr, &feeStr, &status,
		&p.RetryCount, &p.GatewayIntentID, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if p.Amount, err = parseNumeric(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if p.Fee, err = parseNumeric(feeStr); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	p.Status = payment.Status(status)
	return p, nil
}
