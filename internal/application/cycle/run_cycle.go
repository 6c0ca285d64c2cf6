package cycle

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/cassiomorais/esusu/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Processor runs one cycle tick for a group: determines the cycle number
// from the payout count, selects the payee, creates one pending payment and
// gateway debit intent per remaining member, and recomputes group totals.
//
// Payout creation does not happen here. The webhook ingestor finalizes the
// cycle when the last debit confirms, so money only moves outward after it
// has moved inward.
type Processor struct {
	tx       TransactionManager
	groups   group.Repository
	payments payment.Repository
	payouts  payout.Repository
	gw       gateway.Gateway
	queue    Enqueuer
	jobLog   joblog.Repository
	notify   notifier.Notifier
	fees     FeeSchedule
	limiters *groupLimiters
	logger   zerolog.Logger
	metrics  *observability.Metrics

	maxRetries int
	retryDelay time.Duration
}

// ProcessorParams bundles Processor dependencies.
type ProcessorParams struct {
	Tx         TransactionManager
	Groups     group.Repository
	Payments   payment.Repository
	Payouts    payout.Repository
	Gateway    gateway.Gateway
	Queue      Enqueuer
	JobLog     joblog.Repository
	Notifier   notifier.Notifier
	Fees       FeeSchedule
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
	MaxRetries int
	RetryDelay time.Duration
	// GatewayPerGroupRate caps debit intent calls per group per second.
	GatewayPerGroupRate int
}

// NewProcessor creates a cycle processor.
func NewProcessor(p ProcessorParams) *Processor {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 48 * time.Hour
	}
	return &Processor{
		tx:         p.Tx,
		groups:     p.Groups,
		payments:   p.Payments,
		payouts:    p.Payouts,
		gw:         p.Gateway,
		queue:      p.Queue,
		jobLog:     p.JobLog,
		notify:     p.Notifier,
		fees:       p.Fees,
		limiters:   newGroupLimiters(p.GatewayPerGroupRate),
		logger:     p.Logger.With().Str("component", "cycle_processor").Logger(),
		metrics:    p.Metrics,
		maxRetries: p.MaxRetries,
		retryDelay: p.RetryDelay,
	}
}

// Run executes one cycle tick for the group. Safe to call concurrently for
// the same group: the row lock serializes runs and the unique payment index
// absorbs any race that slips past it.
func (p *Processor) Run(ctx context.Context, groupID uuid.UUID) error {
	start := time.Now()
	log := p.logger.With().Str("group_id", groupID.String()).Logger()

	var outcome string
	err := p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		outcome, err = p.runLocked(txCtx, log, groupID)
		return err
	})

	if err != nil {
		p.metrics.CyclesRun.WithLabelValues("error").Inc()
		p.metrics.CycleDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return err
	}
	p.metrics.CyclesRun.WithLabelValues(outcome).Inc()
	p.metrics.CycleDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	log.Info().Str("outcome", outcome).Dur("took", time.Since(start)).Msg("Cycle tick finished")
	return nil
}

func (p *Processor) runLocked(ctx context.Context, log zerolog.Logger, groupID uuid.UUID) (string, error) {
	g, err := p.groups.Lock(ctx, groupID)
	if err != nil {
		return "", err
	}

	// A tick against a non-active group is a stale delivery, not an error.
	if g.Status != group.StatusActive || !g.CycleStarted {
		log.Info().Str("status", string(g.Status)).Msg("Group not active, skipping tick")
		return "skipped", nil
	}
	if !g.ContributionAmount.IsPositive() {
		return "", domainErrors.NewInvariantViolation(groupID, 0, "non-positive contribution amount")
	}

	members, err := p.groups.ListActiveMemberships(ctx, groupID)
	if err != nil {
		return "", err
	}

	// Cycle k is derived from the payout count, never stored. Cycle k+1
	// cannot start before cycle k's payout exists.
	lastPaid, err := p.payouts.LastCycleNumber(ctx, groupID)
	if err != nil {
		return "", err
	}
	k := lastPaid + 1

	unpaid := 0
	for _, m := range members {
		if !m.HasBeenPaid {
			unpaid++
		}
	}
	if unpaid == 0 || k > lastPaid+unpaid {
		if err := g.Pause(group.PauseAllPaid); err != nil {
			return "", err
		}
		if err := p.groups.UpdateSchedule(ctx, g); err != nil {
			return "", err
		}
		p.notify.GroupCompleted(ctx, groupID)
		return "all_paid", nil
	}

	payee := group.PayeeFor(members, k)
	if payee == nil {
		return "", domainErrors.NewInvariantViolation(groupID, k,
			fmt.Sprintf("no active unpaid member with payout order %d", k))
	}
	payeeAccount := ""
	if payee.AccountRef != nil {
		payeeAccount = *payee.AccountRef
	}

	log.Info().Int("cycle", k).Str("payee_id", payee.ID.String()).Int("members", len(members)).Msg("Running cycle")

	paused, err := p.debitMembers(ctx, log, g, members, payee, payeeAccount, k)
	if err != nil {
		return "", err
	}

	totals, err := p.payments.SumByStatus(ctx, groupID)
	if err != nil {
		return "", err
	}
	if err := p.groups.UpdateAggregates(ctx, groupID, totals.Debited, totals.Pending, totals.Success); err != nil {
		return "", err
	}

	if paused {
		return "paused", nil
	}
	return "debited", nil
}

// debitMembers runs step six: one pending payment and one gateway intent per
// active unpaid member other than the payee. Returns true when a permanent
// failure pushed the group into the paused state.
func (p *Processor) debitMembers(
	ctx context.Context,
	log zerolog.Logger,
	g *group.Group,
	members []*group.Membership,
	payee *group.Membership,
	payeeAccount string,
	k int,
) (paused bool, err error) {
	limiter := p.limiters.get(g.ID)

	for _, m := range members {
		if m.HasBeenPaid || m.ID == payee.ID {
			continue
		}

		fee := p.fees.ForAttempt(g.ContributionAmount, 0)
		pm, err := payment.New(g.ID, m.ID, k, g.ContributionAmount, fee)
		if err != nil {
			return false, err
		}

		created, err := p.payments.CreateIfAbsent(ctx, pm)
		if err != nil {
			return false, err
		}
		if !created {
			// A previous run (or a racing worker) already owns this debit.
			log.Debug().Str("member_id", m.ID.String()).Msg("Payment exists, skipping member")
			continue
		}
		if !m.HasMandate() {
			log.Warn().Str("member_id", m.ID.String()).Msg("Member has no mandate, debit deferred")
			p.metrics.DebitsCreated.WithLabelValues("deferred").Inc()
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}

		intentID, gwErr := p.createIntent(ctx, g, m, payeeAccount, pm.Amount, fee, k)
		if gwErr == nil {
			pm.GatewayIntentID = &intentID
			pm.UpdatedAt = time.Now().UTC()
			if err := p.payments.Update(ctx, pm); err != nil {
				return false, err
			}
			p.notify.DebitInitiated(ctx, g.ID, m.ID, k, pm.Amount)
			p.metrics.DebitsCreated.WithLabelValues("created").Inc()
			continue
		}

		if !gateway.IsPermanent(gwErr) {
			// Transient and still failing after the inner retries: abort the
			// whole transaction and let the queue redeliver the tick.
			return false, fmt.Errorf("create debit intent for member %s: %w", m.ID, gwErr)
		}

		log.Warn().Err(gwErr).Str("member_id", m.ID.String()).Msg("Permanent gateway refusal")
		p.metrics.DebitsCreated.WithLabelValues("failed").Inc()
		if err := pm.MarkFailed(gwErr.Error()); err != nil {
			return false, err
		}
		if err := p.payments.Update(ctx, pm); err != nil {
			return false, err
		}
		p.notify.DebitFailed(ctx, g.ID, m.ID, k, gwErr.Error())

		if pm.CanRetry(p.maxRetries) {
			if err := p.enqueueRetry(ctx, pm); err != nil {
				return false, err
			}
			continue
		}

		if err := g.Pause(group.PausePaymentFailures); err != nil {
			return false, err
		}
		if err := p.groups.UpdateSchedule(ctx, g); err != nil {
			return false, err
		}
		p.metrics.GroupsPaused.WithLabelValues(string(group.PausePaymentFailures)).Inc()
		p.notify.GroupPaused(ctx, g.ID, string(group.PausePaymentFailures))
		return true, nil
	}
	return false, nil
}

func (p *Processor) createIntent(
	ctx context.Context,
	g *group.Group,
	m *group.Membership,
	payeeAccount string,
	amount, fee decimal.Decimal,
	k int,
) (string, error) {
	req := gateway.DebitIntentRequest{
		DebtorAccount:  deref(m.AccountRef),
		MandateID:      deref(m.MandateID),
		Amount:         amount,
		ApplicationFee: fee,
		TransferTo:     payeeAccount,
		IdempotencyKey: fmt.Sprintf("debit-%s-%d-%s", g.ID, k, m.ID),
		Metadata: map[string]string{
			"group_id":  g.ID.String(),
			"member_id": m.ID.String(),
			"cycle":     fmt.Sprintf("%d", k),
		},
	}
	return retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
		id, err := p.gw.CreateDebitIntent(ctx, req)
		if err != nil && gateway.IsPermanent(err) {
			return "", retry.Unrecoverable(err)
		}
		return id, err
	})
}

func (p *Processor) enqueueRetry(ctx context.Context, pm *payment.Payment) error {
	j := jobs.NewRetryPayment(pm.ID)
	if err := p.queue.Enqueue(ctx, j, p.retryDelay); err != nil {
		return fmt.Errorf("enqueue retry for payment %s: %w", pm.ID, err)
	}
	p.metrics.PaymentRetries.Inc()
	if err := p.jobLog.Record(ctx, joblog.New(j.ID, string(j.Kind), pm.GroupID)); err != nil {
		p.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to record job log entry")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
