package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobLogRepository implements joblog.Repository using PostgreSQL.
type JobLogRepository struct {
	pool *pgxpool.Pool
}

// NewJobLogRepository creates a new JobLogRepository.
func NewJobLogRepository(pool *pgxpool.Pool) *JobLogRepository {
	return &JobLogRepository{pool: pool}
}

func (r *JobLogRepository) db(ctx context.Context) Querier {
	return QuerierFrom(ctx, r.pool)
}

// Record stores an enqueued job. The queue job ID is unique; re-recording
// the same job is a no-op.
func (r *JobLogRepository) Record(ctx context.Context, e *joblog.Entry) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO scheduled_jobs
		 (id, job_id, kind, group_id, status, last_error, enqueued_at, resolved_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (job_id) DO NOTHING`,
		e.ID, e.JobID, e.Kind, e.GroupID, string(e.Status), e.LastError, e.EnqueuedAt, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job log entry: %w", err)
	}
	return nil
}

// MarkCompleted resolves the entry as completed. Unknown job IDs are ignored;
// the log trails the queue, it does not gate it.
func (r *JobLogRepository) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE scheduled_jobs SET status='completed', resolved_at=NOW() WHERE job_id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed resolves the entry as failed with the final error.
func (r *JobLogRepository) MarkFailed(ctx context.Context, jobID string, reason string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE scheduled_jobs SET status='failed', last_error=$2, resolved_at=NOW() WHERE job_id=$1`,
		jobID, reason)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// ListByGroup returns the most recent log entries for a group.
func (r *JobLogRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, job_id, kind, group_id, status, last_error, enqueued_at, resolved_at
		 FROM scheduled_jobs WHERE group_id = $1
		 ORDER BY enqueued_at DESC LIMIT $2`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job log: %w", err)
	}
	defer rows.Close()

	var entries []*joblog.Entry
	for rows.Next() {
		e := &joblog.Entry{}
		var status string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &e.GroupID, &status, &e.LastError, &e.EnqueuedAt, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan job log entry: %w", err)
		}
		e.Status = joblog.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes resolved entries older than before.
func (r *JobLogRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM scheduled_jobs
		 WHERE status <> 'enqueued' AND resolved_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune job log: %w", err)
	}
	return tag.RowsAffected(), nil
}
