package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/cassiomorais/esusu/internal/domain/webhook"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/cassiomorais/esusu/pkg/retry"
	"github.com/cassiomorais/esusu/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ingestor applies gateway webhook events to cycle state. Every handler is
// idempotent on entity status: re-delivering an event lands in the same
// final state. Event-id dedup is never the guard, only the audit trail.
type Ingestor struct {
	tx        cycle.TransactionManager
	groups    group.Repository
	payments  payment.Repository
	payouts   payout.Repository
	events    webhook.Repository
	gw        gateway.Gateway
	scheduler *cycle.Scheduler
	queue     cycle.Enqueuer
	jobLog    joblog.Repository
	notify    notifier.Notifier
	logger    zerolog.Logger
	metrics   *observability.Metrics

	maxRetries int
	retryDelay time.Duration
}

// IngestorParams bundles Ingestor dependencies.
type IngestorParams struct {
	Tx         cycle.TransactionManager
	Groups     group.Repository
	Payments   payment.Repository
	Payouts    payout.Repository
	Events     webhook.Repository
	Gateway    gateway.Gateway
	Scheduler  *cycle.Scheduler
	Queue      cycle.Enqueuer
	JobLog     joblog.Repository
	Notifier   notifier.Notifier
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
	MaxRetries int
	RetryDelay time.Duration
}

// NewIngestor creates a webhook ingestor.
func NewIngestor(p IngestorParams) *Ingestor {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 48 * time.Hour
	}
	return &Ingestor{
		tx:         p.Tx,
		groups:     p.Groups,
		payments:   p.Payments,
		payouts:    p.Payouts,
		events:     p.Events,
		gw:         p.Gateway,
		scheduler:  p.Scheduler,
		queue:      p.Queue,
		jobLog:     p.JobLog,
		notify:     p.Notifier,
		logger:     p.Logger.With().Str("component", "webhook_ingestor").Logger(),
		metrics:    p.Metrics,
		maxRetries: p.MaxRetries,
		retryDelay: p.RetryDelay,
	}
}

// Process stores the verified event and applies its transition.
func (i *Ingestor) Process(ctx context.Context, ev gateway.Event, raw []byte) error {
	rec := webhook.New(ev.ID, ev.Kind, raw)
	if err := i.events.Save(ctx, rec); err != nil {
		// The audit log trails processing; losing a row must not drop the event.
		i.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to store webhook event")
	}

	err := i.apply(ctx, ev)
	if err != nil {
		rec.MarkFailed(err.Error())
		i.metrics.WebhookEvents.WithLabelValues(ev.Kind, "error").Inc()
	} else {
		rec.MarkProcessed()
		i.metrics.WebhookEvents.WithLabelValues(ev.Kind, "success").Inc()
	}
	if uErr := i.events.Update(ctx, rec); uErr != nil {
		i.logger.Warn().Err(uErr).Str("event_id", ev.ID).Msg("Failed to update webhook event")
	}
	return err
}

// Replay re-applies a stored event by its storage ID.
func (i *Ingestor) Replay(ctx context.Context, id uuid.UUID) error {
	rec, err := i.events.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var ev gateway.Event
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		return fmt.Errorf("decode stored event %s: %w", id, err)
	}

	i.logger.Info().Str("event_id", ev.ID).Str("kind", ev.Kind).Msg("Replaying webhook event")
	err = i.apply(ctx, ev)
	if err != nil {
		rec.MarkFailed(err.Error())
	} else {
		rec.MarkProcessed()
	}
	if uErr := i.events.Update(ctx, rec); uErr != nil {
		i.logger.Warn().Err(uErr).Str("event_id", ev.ID).Msg("Failed to update webhook event")
	}
	return err
}

func (i *Ingestor) apply(ctx context.Context, ev gateway.Event) error {
	switch ev.Kind {
	case gateway.EventIntentSucceeded:
		return i.intentSucceeded(ctx, ev.Data.IntentID)
	case gateway.EventIntentFailed:
		return i.intentFailed(ctx, ev.Data.IntentID, ev.Data.Reason)
	case gateway.EventTransferReversed:
		return i.transferReversed(ctx, ev.Data.TransferID)
	case gateway.EventMandateConfirmed:
		return i.mandateConfirmed(ctx, ev.Data)
	case gateway.EventAccountSuspended:
		return i.accountSuspended(ctx, ev.Data)
	default:
		i.logger.Info().Str("kind", ev.Kind).Msg("Unknown webhook event kind, ignoring")
		return nil
	}
}

// finalization carries the state handed from the confirming transaction to
// the payout saga that runs after commit.
type finalization struct {
	payout       *payout.Payout
	payeeAccount string
}

func (i *Ingestor) intentSucceeded(ctx context.Context, intentID string) error {
	var fin *finalization

	err := i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		pm, err := i.payments.GetByIntentID(ctx, intentID)
		if err != nil {
			if errors.Is(err, domainErrors.ErrPaymentNotFound) {
				i.logger.Warn().Str("intent_id", intentID).Msg("Success callback for unknown intent, ignoring")
				return nil
			}
			return err
		}
		g, err := i.groups.Lock(ctx, pm.GroupID)
		if err != nil {
			return err
		}

		if pm.Status != payment.StatusSuccessful {
			if err := pm.MarkSuccessful(); err != nil {
				return err
			}
			if err := i.payments.Update(ctx, pm); err != nil {
				return err
			}
		}

		totals, err := i.payments.SumByStatus(ctx, pm.GroupID)
		if err != nil {
			return err
		}
		if err := i.groups.UpdateAggregates(ctx, pm.GroupID, totals.Debited, totals.Pending, totals.Success); err != nil {
			return err
		}

		fin, err = i.maybeFinalize(ctx, g, pm.CycleNumber)
		return err
	})
	if err != nil || fin == nil {
		return err
	}

	return i.runPayoutSaga(ctx, fin)
}

// maybeFinalize creates the payout row once every debit of the cycle has
// confirmed. Creating the row here, inside the confirming transaction, is
// what makes the last-debit race safe: only one webhook delivery wins the
// unique (group, cycle) insert.
func (i *Ingestor) maybeFinalize(ctx context.Context, g *group.Group, cycleNumber int) (*finalization, error) {
	cyclePayments, err := i.payments.ListByCycle(ctx, g.ID, cycleNumber)
	if err != nil {
		return nil, err
	}
	if len(cyclePayments) == 0 {
		return nil, nil
	}
	total := decimal.Zero
	for _, p := range cyclePayments {
		if p.Status != payment.StatusSuccessful {
			return nil, nil
		}
		total = total.Add(p.Amount)
	}

	existing, err := i.payouts.GetByCycle(ctx, g.ID, cycleNumber)
	switch {
	case err == nil:
		return i.resumePayout(ctx, existing)
	case !errors.Is(err, domainErrors.ErrPayoutNotFound):
		return nil, err
	}

	members, err := i.groups.ListActiveMemberships(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	payee := group.PayeeFor(members, cycleNumber)
	if payee == nil {
		return nil, domainErrors.NewInvariantViolation(g.ID, cycleNumber,
			fmt.Sprintf("no active unpaid member with payout order %d at finalization", cycleNumber))
	}

	po, err := payout.New(g.ID, payee.ID, cycleNumber, total)
	if err != nil {
		return nil, err
	}
	created, err := i.payouts.CreateIfAbsent(ctx, po)
	if err != nil {
		return nil, err
	}
	if !created {
		// A racing delivery created it first; that delivery runs the saga.
		return nil, nil
	}
	if err := i.groups.SetMembershipPaid(ctx, payee.ID); err != nil {
		return nil, err
	}

	i.logger.Info().
		Str("group_id", g.ID.String()).
		Int("cycle", cycleNumber).
		Str("payee_id", payee.ID.String()).
		Str("amount", total.String()).
		Msg("Cycle fully funded, payout created")

	return &finalization{payout: po, payeeAccount: deref(payee.AccountRef)}, nil
}

// resumePayout picks an existing payout row back up on redelivery or replay.
// A completed payout, or one whose transfer actually went out (a reversal
// keeps the transfer id), stays put. A pending or failed row with no
// transfer is rearmed and handed back to the saga: the transfer idempotency
// key is derived from (group, cycle), so re-running can never pay twice.
// The row update makes racing deliveries conflict inside repeatable read,
// leaving exactly one resumer.
func (i *Ingestor) resumePayout(ctx context.Context, po *payout.Payout) (*finalization, error) {
	if po.Status == payout.StatusCompleted || po.GatewayTransferID != nil {
		return nil, nil
	}
	m, err := i.groups.GetMembership(ctx, po.MemberID)
	if err != nil {
		return nil, err
	}
	if err := po.Rearm(); err != nil {
		return nil, err
	}
	if err := i.payouts.Update(ctx, po); err != nil {
		return nil, err
	}

	i.logger.Info().
		Str("group_id", po.GroupID.String()).
		Int("cycle", po.CycleNumber).
		Str("payout_id", po.ID.String()).
		Msg("Resuming payout with no completed transfer")

	return &finalization{payout: po, payeeAccount: deref(m.AccountRef)}, nil
}

// runPayoutSaga moves the pooled money outward and rolls the schedule. The
// compensation path flags the payout as failed so an operator replay can
// pick it up.
func (i *Ingestor) runPayoutSaga(ctx context.Context, fin *finalization) error {
	po := fin.payout
	var transferID string

	sg := saga.New("payout-finalization").
		Then("create-transfer", func(ctx context.Context) error {
			var err error
			transferID, err = retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
				id, err := i.gw.CreateTransfer(ctx, gateway.TransferRequest{
					DestinationAccount: fin.payeeAccount,
					Amount:             po.Amount,
					IdempotencyKey:     fmt.Sprintf("payout-%s-%d", po.GroupID, po.CycleNumber),
					Metadata: map[string]string{
						"group_id": po.GroupID.String(),
						"cycle":    fmt.Sprintf("%d", po.CycleNumber),
					},
				})
				if err != nil && gateway.IsPermanent(err) {
					return "", retry.Unrecoverable(err)
				}
				return id, err
			})
			return err
		}).
		ThenUndo("complete-payout",
			func(ctx context.Context) error {
				if err := po.MarkCompleted(transferID); err != nil {
					return err
				}
				return i.payouts.Update(ctx, po)
			},
			func(ctx context.Context) error {
				if err := po.MarkFailed(); err != nil {
					return err
				}
				return i.payouts.Update(ctx, po)
			},
		).
		Then("advance-schedule", func(ctx context.Context) error {
			return i.scheduler.Advance(ctx, po.GroupID)
		})

	if err := sg.Execute(ctx); err != nil {
		// A transfer that never went out leaves the payout pending; flag it
		// so operators can find and replay it.
		if po.Status == payout.StatusPending {
			if fErr := po.MarkFailed(); fErr == nil {
				if uErr := i.payouts.Update(ctx, po); uErr != nil {
					i.logger.Error().Err(uErr).Str("payout_id", po.ID.String()).Msg("Failed to flag payout after saga failure")
				}
			}
		}
		return err
	}

	i.metrics.PayoutsFinalized.Inc()
	i.notify.PayoutSent(ctx, po.GroupID, po.MemberID, po.CycleNumber, po.Amount)
	return nil
}

func (i *Ingestor) intentFailed(ctx context.Context, intentID, reason string) error {
	return i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		pm, err := i.payments.GetByIntentID(ctx, intentID)
		if err != nil {
			if errors.Is(err, domainErrors.ErrPaymentNotFound) {
				i.logger.Warn().Str("intent_id", intentID).Msg("Failure callback for unknown intent, ignoring")
				return nil
			}
			return err
		}
		g, err := i.groups.Lock(ctx, pm.GroupID)
		if err != nil {
			return err
		}

		if pm.Status == payment.StatusFailed {
			// Redelivery; the count already reflects this failure.
			return nil
		}
		if err := pm.MarkFailed(reason); err != nil {
			return err
		}
		if err := i.payments.Update(ctx, pm); err != nil {
			return err
		}
		i.notify.DebitFailed(ctx, pm.GroupID, pm.MemberID, pm.CycleNumber, reason)

		totals, err := i.payments.SumByStatus(ctx, pm.GroupID)
		if err != nil {
			return err
		}
		if err := i.groups.UpdateAggregates(ctx, pm.GroupID, totals.Debited, totals.Pending, totals.Success); err != nil {
			return err
		}

		if pm.RetryCount >= i.maxRetries {
			if err := g.Pause(group.PausePaymentFailures); err != nil {
				return err
			}
			if err := i.groups.UpdateSchedule(ctx, g); err != nil {
				return err
			}
			i.metrics.GroupsPaused.WithLabelValues(string(group.PausePaymentFailures)).Inc()
			i.notify.GroupPaused(ctx, g.ID, string(group.PausePaymentFailures))
			return nil
		}

		j := jobs.NewRetryPayment(pm.ID)
		if err := i.queue.Enqueue(ctx, j, i.retryDelay); err != nil {
			return fmt.Errorf("enqueue retry for payment %s: %w", pm.ID, err)
		}
		i.metrics.PaymentRetries.Inc()
		if err := i.jobLog.Record(ctx, joblog.New(j.ID, string(j.Kind), pm.GroupID)); err != nil {
			i.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to record job log entry")
		}
		return nil
	})
}

func (i *Ingestor) transferReversed(ctx context.Context, transferID string) error {
	return i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		po, err := i.payouts.GetByTransferID(ctx, transferID)
		if err != nil {
			if errors.Is(err, domainErrors.ErrPayoutNotFound) {
				i.logger.Warn().Str("transfer_id", transferID).Msg("Reversal for unknown transfer, ignoring")
				return nil
			}
			return err
		}
		if po.Status == payout.StatusFailed {
			return nil
		}
		if err := po.MarkFailed(); err != nil {
			return err
		}
		i.logger.Warn().
			Str("group_id", po.GroupID.String()).
			Int("cycle", po.CycleNumber).
			Str("transfer_id", transferID).
			Msg("Payout transfer reversed")
		return i.payouts.Update(ctx, po)
	})
}

func (i *Ingestor) mandateConfirmed(ctx context.Context, data gateway.EventData) error {
	memberID, err := uuid.Parse(data.MemberID)
	if err != nil {
		i.logger.Warn().Str("member_id", data.MemberID).Msg("Mandate confirmation without valid member id, ignoring")
		return nil
	}
	return i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		m, err := i.groups.GetMembership(ctx, memberID)
		if err != nil {
			if errors.Is(err, domainErrors.ErrMembershipNotFound) {
				i.logger.Warn().Str("member_id", data.MemberID).Msg("Mandate confirmation for unknown member, ignoring")
				return nil
			}
			return err
		}
		if err := m.ConfirmMandate(data.MandateID, data.AccountRef); err != nil {
			return err
		}
		i.logger.Info().Str("member_id", memberID.String()).Msg("Mandate confirmed")
		return i.groups.UpdateMembershipMandate(ctx, m)
	})
}

// accountSuspended raises a group-pause job instead of pausing inline: the
// pause waits its turn behind in-flight cycle work for the group.
func (i *Ingestor) accountSuspended(ctx context.Context, data gateway.EventData) error {
	groupID, err := uuid.Parse(data.GroupID)
	if err != nil {
		i.logger.Warn().Str("group_id", data.GroupID).Msg("Account suspension without valid group id, ignoring")
		return nil
	}
	j := jobs.NewGroupPause(groupID, string(group.PauseSubscription))
	if err := i.queue.Enqueue(ctx, j, 0); err != nil {
		return fmt.Errorf("enqueue group pause for %s: %w", groupID, err)
	}
	if err := i.jobLog.Record(ctx, joblog.New(j.ID, string(j.Kind), groupID)); err != nil {
		i.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to record job log entry")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
