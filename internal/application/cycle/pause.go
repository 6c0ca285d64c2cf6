package cycle

import (
	"context"

	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pauser applies a group pause. It backs both the admin pause operation and
// the group-pause job kind raised by subscription webhooks, so in-flight
// debits resolve through the ingestor while no new cycle starts.
type Pauser struct {
	tx      TransactionManager
	groups  group.Repository
	notify  notifier.Notifier
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewPauser creates a pauser.
func NewPauser(
	tx TransactionManager,
	groups group.Repository,
	notify notifier.Notifier,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Pauser {
	return &Pauser{
		tx:      tx,
		groups:  groups,
		notify:  notify,
		logger:  logger.With().Str("component", "pauser").Logger(),
		metrics: metrics,
	}
}

// Pause moves the group to paused with the given reason. Pausing an already
// paused group keeps the original reason and is a no-op.
func (p *Pauser) Pause(ctx context.Context, groupID uuid.UUID, reason group.PauseReason) error {
	return p.tx.WithTransaction(ctx, func(ctx context.Context) error {
		g, err := p.groups.Lock(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Status == group.StatusPaused {
			return nil
		}
		if err := g.Pause(reason); err != nil {
			return err
		}
		if err := p.groups.UpdateSchedule(ctx, g); err != nil {
			return err
		}
		p.metrics.GroupsPaused.WithLabelValues(string(reason)).Inc()
		p.notify.GroupPaused(ctx, groupID, string(reason))
		p.logger.Info().Str("group_id", groupID.String()).Str("reason", string(reason)).Msg("Group paused")
		return nil
	})
}
