package cycle

import (
	"context"
	"fmt"

	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/cassiomorais/esusu/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RetryProcessor re-attempts one failed contribution debit with the
// escalated fee. Repeated failure past the retry cap pauses the group.
type RetryProcessor struct {
	tx       TransactionManager
	groups   group.Repository
	payments payment.Repository
	gw       gateway.Gateway
	notify   notifier.Notifier
	fees     FeeSchedule
	logger   zerolog.Logger
	metrics  *observability.Metrics

	maxRetries int
}

// NewRetryProcessor creates a retry processor.
func NewRetryProcessor(
	tx TransactionManager,
	groups group.Repository,
	payments payment.Repository,
	gw gateway.Gateway,
	notify notifier.Notifier,
	fees FeeSchedule,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	maxRetries int,
) *RetryProcessor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryProcessor{
		tx:         tx,
		groups:     groups,
		payments:   payments,
		gw:         gw,
		notify:     notify,
		fees:       fees,
		logger:     logger.With().Str("component", "retry_processor").Logger(),
		metrics:    metrics,
		maxRetries: maxRetries,
	}
}

// Run retries the payment. A payment that is no longer failed, or whose
// group is no longer active, is a stale delivery and a no-op.
func (r *RetryProcessor) Run(ctx context.Context, paymentID uuid.UUID) error {
	log := r.logger.With().Str("payment_id", paymentID.String()).Logger()

	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		pm, err := r.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		g, err := r.groups.Lock(ctx, pm.GroupID)
		if err != nil {
			return err
		}

		if g.Status != group.StatusActive {
			log.Info().Str("group_status", string(g.Status)).Msg("Group not active, skipping retry")
			return nil
		}
		if pm.Status != payment.StatusFailed {
			log.Info().Str("payment_status", string(pm.Status)).Msg("Payment not failed, skipping retry")
			return nil
		}

		member, err := r.groups.GetMembership(ctx, pm.MemberID)
		if err != nil {
			return err
		}
		if !member.HasMandate() {
			log.Warn().Str("member_id", member.ID.String()).Msg("Member still has no mandate, retry deferred")
			return nil
		}

		members, err := r.groups.ListActiveMemberships(ctx, pm.GroupID)
		if err != nil {
			return err
		}
		payeeAccount := ""
		if payee := group.PayeeFor(members, pm.CycleNumber); payee != nil && payee.AccountRef != nil {
			payeeAccount = *payee.AccountRef
		}

		fee := r.fees.ForAttempt(pm.Amount, pm.RetryCount)
		intentID, gwErr := r.createIntent(ctx, pm, member, payeeAccount, fee)
		if gwErr != nil {
			return r.recordFailure(ctx, log, g, pm, gwErr)
		}

		pm.Fee = fee
		if err := pm.Rearm(intentID); err != nil {
			return err
		}
		if err := r.payments.Update(ctx, pm); err != nil {
			return err
		}

		totals, err := r.payments.SumByStatus(ctx, pm.GroupID)
		if err != nil {
			return err
		}
		if err := r.groups.UpdateAggregates(ctx, pm.GroupID, totals.Debited, totals.Pending, totals.Success); err != nil {
			return err
		}

		r.metrics.PaymentRetries.Inc()
		log.Info().Int("retry_count", pm.RetryCount).Str("fee", fee.String()).Msg("Payment re-armed")
		return nil
	})
}

func (r *RetryProcessor) createIntent(
	ctx context.Context,
	pm *payment.Payment,
	member *group.Membership,
	payeeAccount string,
	fee decimal.Decimal,
) (string, error) {
	req := gateway.DebitIntentRequest{
		DebtorAccount:  deref(member.AccountRef),
		MandateID:      deref(member.MandateID),
		Amount:         pm.Amount,
		ApplicationFee: fee,
		TransferTo:     payeeAccount,
		IdempotencyKey: fmt.Sprintf("debit-%s-%d-%s-r%d", pm.GroupID, pm.CycleNumber, pm.MemberID, pm.RetryCount),
		Metadata: map[string]string{
			"group_id":  pm.GroupID.String(),
			"member_id": pm.MemberID.String(),
			"cycle":     fmt.Sprintf("%d", pm.CycleNumber),
			"retry":     fmt.Sprintf("%d", pm.RetryCount),
		},
	}
	return retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
		id, err := r.gw.CreateDebitIntent(ctx, req)
		if err != nil && gateway.IsPermanent(err) {
			return "", retry.Unrecoverable(err)
		}
		return id, err
	})
}

// recordFailure counts the failed attempt and pauses the group once the
// payment is out of retries.
func (r *RetryProcessor) recordFailure(
	ctx context.Context,
	log zerolog.Logger,
	g *group.Group,
	pm *payment.Payment,
	cause error,
) error {
	log.Warn().Err(cause).Int("retry_count", pm.RetryCount).Msg("Retry attempt failed")

	// Failed -> Failed is an allowed transition; it absorbs the count bump.
	if err := pm.MarkFailed(cause.Error()); err != nil {
		return err
	}
	if err := r.payments.Update(ctx, pm); err != nil {
		return err
	}
	r.notify.DebitFailed(ctx, pm.GroupID, pm.MemberID, pm.CycleNumber, cause.Error())

	if pm.RetryCount < r.maxRetries {
		return nil
	}

	if err := g.Pause(group.PausePaymentFailures); err != nil {
		return err
	}
	if err := r.groups.UpdateSchedule(ctx, g); err != nil {
		return err
	}
	r.metrics.GroupsPaused.WithLabelValues(string(group.PausePaymentFailures)).Inc()
	r.notify.GroupPaused(ctx, g.ID, string(group.PausePaymentFailures))
	// The pause is the outcome here, not a handler failure. Returning an
	// error would roll it back.
	log.Warn().Msg("Retry budget exhausted, group paused")
	return nil
}
