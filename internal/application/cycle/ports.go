package cycle

import (
	"context"
	"time"

	"github.com/cassiomorais/esusu/internal/jobs"
)

// TransactionManager provides database transaction management. The
// transaction rides the context down into the repositories.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Enqueuer schedules jobs on the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, j jobs.Job, delay time.Duration) error
}
