package jobs

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/locallock"
	"github.com/rs/zerolog"
)

// Handler processes one job of a registered kind.
type Handler func(ctx context.Context, j Job) error

// Worker pulls jobs from the queue and dispatches them to registered
// handlers under a per-job timeout and the in-process dedup lock.
type Worker struct {
	queue      *Queue
	locks      *locallock.Manager
	jobLog     joblog.Repository
	logger     zerolog.Logger
	metrics    *observability.Metrics
	handlers   map[Kind]Handler
	jobTimeout time.Duration
}

// NewWorker creates a worker. jobTimeout bounds every handler invocation.
func NewWorker(
	queue *Queue,
	locks *locallock.Manager,
	jobLog joblog.Repository,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	jobTimeout time.Duration,
) *Worker {
	if jobTimeout <= 0 {
		jobTimeout = 120 * time.Second
	}
	return &Worker{
		queue:      queue,
		locks:      locks,
		jobLog:     jobLog,
		logger:     logger,
		metrics:    metrics,
		handlers:   make(map[Kind]Handler),
		jobTimeout: jobTimeout,
	}
}

// Register installs the handler for a job kind.
func (w *Worker) Register(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := w.queue.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Failed to read from job queue")
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			w.dispatch(ctx, m)
		}
	}
}

// RunMover promotes due delayed jobs until ctx is cancelled.
func (w *Worker) RunMover(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := w.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to promote delayed jobs")
		}
	}
}

// RunReclaimer redelivers stalled jobs until ctx is cancelled.
func (w *Worker) RunReclaimer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		msgs, err := w.queue.ReclaimStalled(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("Failed to reclaim stalled jobs")
			}
			continue
		}
		for _, m := range msgs {
			w.metrics.JobsStalled.Inc()
			w.logger.Warn().Str("job_id", m.Job.ID).Str("kind", string(m.Job.Kind)).Msg("Reclaimed stalled job")
			w.dispatch(ctx, m)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, m Message) {
	j := m.Job
	log := w.logger.With().
		Str("job_id", j.ID).
		Str("kind", string(j.Kind)).
		Int("attempt", j.Attempt).
		Logger()

	h, ok := w.handlers[j.Kind]
	if !ok {
		log.Error().Msg("No handler registered for job kind")
		cause := errors.New("no handler for kind " + string(j.Kind))
		if dead, _ := w.queue.Fail(ctx, m, cause); dead {
			w.resolveFailed(ctx, log, j.ID, cause.Error())
		}
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "unhandled").Inc()
		return
	}

	release, acquired := w.locks.TryAcquire(j.DedupID(), j.LockName())
	if !acquired {
		// Another goroutine in this process already holds the job. Treat as
		// a duplicate no-op; the queue entry is done.
		log.Info().Msg("Duplicate job, lock held, skipping")
		w.queue.Complete(ctx, m)
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "duplicate").Inc()
		return
	}
	defer release()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	err := h(jobCtx, j)
	w.metrics.JobDuration.WithLabelValues(string(j.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if cErr := w.queue.Complete(ctx, m); cErr != nil {
			log.Error().Err(cErr).Msg("Failed to ack completed job")
		}
		w.resolveCompleted(ctx, log, j.ID)
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "success").Inc()

	case errors.Is(err, domainErrors.ErrDuplicateJob):
		log.Info().Msg("Duplicate job, no-op")
		w.queue.Complete(ctx, m)
		w.resolveCompleted(ctx, log, j.ID)
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "duplicate").Inc()

	case domainErrors.IsInvariantViolation(err):
		// Never auto-recover: straight to the dead letter stream for the
		// operator, regardless of remaining attempts. The log entry carries
		// the group and cycle from the violation itself.
		log.Error().Err(err).Msg("Invariant violation, dead-lettering job")
		failed := m
		failed.Job.Attempt = w.queue.cfg.MaxAttempts
		w.queue.Fail(ctx, failed, err)
		w.resolveFailed(ctx, log, j.ID, err.Error())
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "invariant_violation").Inc()
		w.metrics.JobsDeadLetter.WithLabelValues(string(j.Kind)).Inc()

	default:
		log.Error().Err(err).Msg("Job failed")
		dead, fErr := w.queue.Fail(ctx, m, err)
		if fErr != nil {
			log.Error().Err(fErr).Msg("Failed to requeue failed job")
		}
		if dead {
			// Exhausted retries resolve the entry; a re-queued job stays
			// enqueued until its final outcome.
			w.resolveFailed(ctx, log, j.ID, err.Error())
			w.metrics.JobsDeadLetter.WithLabelValues(string(j.Kind)).Inc()
		}
		w.metrics.JobsProcessed.WithLabelValues(string(j.Kind), "error").Inc()
	}
}

func (w *Worker) resolveCompleted(ctx context.Context, log zerolog.Logger, jobID string) {
	if err := w.jobLog.MarkCompleted(ctx, jobID); err != nil {
		log.Warn().Err(err).Msg("Failed to resolve job log entry")
	}
}

func (w *Worker) resolveFailed(ctx context.Context, log zerolog.Logger, jobID, reason string) {
	if err := w.jobLog.MarkFailed(ctx, jobID, reason); err != nil {
		log.Warn().Err(err).Msg("Failed to resolve job log entry")
	}
}
