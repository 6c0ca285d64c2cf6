package notifier

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notifier delivers member-facing notifications. Deliveries are fire and
// forget: failures never block or fail cycle processing.
type Notifier interface {
	DebitInitiated(ctx context.Context, groupID, memberID uuid.UUID, cycle int, amount decimal.Decimal)
	DebitFailed(ctx context.Context, groupID, memberID uuid.UUID, cycle int, reason string)
	PayoutSent(ctx context.Context, groupID, memberID uuid.UUID, cycle int, amount decimal.Decimal)
	GroupPaused(ctx context.Context, groupID uuid.UUID, reason string)
	GroupCompleted(ctx context.Context, groupID uuid.UUID)
}

// LogNotifier writes notifications to the structured log. It stands in for
// a push/email channel; swapping the transport means swapping this type.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) DebitInitiated(_ context.Context, groupID, memberID uuid.UUID, cycle int, amount decimal.Decimal) {
	n.logger.Info().
		Str("group_id", groupID.String()).
		Str("member_id", memberID.String()).
		Int("cycle", cycle).
		Str("amount", amount.String()).
		Msg("Contribution debit initiated")
}

func (n *LogNotifier) DebitFailed(_ context.Context, groupID, memberID uuid.UUID, cycle int, reason string) {
	n.logger.Warn().
		Str("group_id", groupID.String()).
		Str("member_id", memberID.String()).
		Int("cycle", cycle).
		Str("reason", reason).
		Msg("Contribution debit failed")
}

func (n *LogNotifier) PayoutSent(_ context.Context, groupID, memberID uuid.UUID, cycle int, amount decimal.Decimal) {
	n.logger.Info().
		Str("group_id", groupID.String()).
		Str("member_id", memberID.String()).
		Int("cycle", cycle).
		Str("amount", amount.String()).
		Msg("Cycle payout sent")
}

func (n *LogNotifier) GroupPaused(_ context.Context, groupID uuid.UUID, reason string) {
	n.logger.Warn().
		Str("group_id", groupID.String()).
		Str("reason", reason).
		Msg("Group paused")
}

func (n *LogNotifier) GroupCompleted(_ context.Context, groupID uuid.UUID) {
	n.logger.Info().
		Str("group_id", groupID.String()).
		Msg("Group completed all cycles")
}
