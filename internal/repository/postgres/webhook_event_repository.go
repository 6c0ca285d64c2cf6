package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/webhook"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository implements webhook.Repository using PostgreSQL.
type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

func (r *WebhookEventRepository) db(ctx context.Context) Querier {
	return QuerierFrom(ctx, r.pool)
}

const webhookEventColumns = `id, gateway_id, kind, payload, status, error, received_at, processed_at`

// Save stores a verified delivery. Re-deliveries of the same gateway event
// get their own row; effect dedup happens on entity state, not here.
func (r *WebhookEventRepository) Save(ctx context.Context, e *webhook.Event) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events
		 (id, gateway_id, kind, payload, status, error, received_at, processed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.GatewayID, e.Kind, e.Payload, string(e.Status), e.Error, e.ReceivedAt, e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByID retrieves a stored event by its ID.
func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	return r.scanEvent(r.db(ctx).QueryRow(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id))
}

// Update persists the processing outcome.
func (r *WebhookEventRepository) Update(ctx context.Context, e *webhook.Event) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET status=$1, error=$2, processed_at=$3 WHERE id=$4`,
		string(e.Status), e.Error, e.ProcessedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}
	return nil
}

// ListFailed returns failed events newest first for operator replay.
func (r *WebhookEventRepository) ListFailed(ctx context.Context, limit int) ([]*webhook.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+webhookEventColumns+`
		 FROM webhook_events WHERE status = 'failed'
		 ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed webhook events: %w", err)
	}
	defer rows.Close()

	var events []*webhook.Event
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *WebhookEventRepository) scanEvent(s scanner) (*webhook.Event, error) {
	e := &webhook.Event{}
	var status string
	err := s.Scan(
		&e.ID, &e.GatewayID, &e.Kind, &e.Payload, &status, &e.Error, &e.ReceivedAt, &e.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	e.Status = webhook.Status(status)
	return e, nil
}
