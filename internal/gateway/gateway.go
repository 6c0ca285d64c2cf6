package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// IntentStatus is the gateway-side state of a debit intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Gateway is the external payment provider the orchestrator debits and
// pays out through. It confirms asynchronously via signed webhooks.
type Gateway interface {
	// CreateDebitIntent initiates a debit against the debtor's mandate.
	// The idempotency key must be derived from (group, cycle, member) so a
	// repeated call cannot create a second charge.
	CreateDebitIntent(ctx context.Context, req DebitIntentRequest) (intentID string, err error)
	// GetIntent fetches the current state of an intent.
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	// CreateTransfer moves the pooled amount to the payee's account.
	CreateTransfer(ctx context.Context, req TransferRequest) (transferID string, err error)
}

// DebitIntentRequest describes one contribution debit.
type DebitIntentRequest struct {
	DebtorAccount  string
	MandateID      string
	Amount         decimal.Decimal
	ApplicationFee decimal.Decimal
	TransferTo     string
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferRequest describes the payout transfer.
type TransferRequest struct {
	DestinationAccount string
	Amount             decimal.Decimal
	IdempotencyKey     string
	Metadata           map[string]string
}

// Intent is the gateway's view of a debit attempt.
type Intent struct {
	ID       string
	Status   IntentStatus
	Amount   decimal.Decimal
	Metadata map[string]string
}

// Error is a gateway failure. Permanent failures (bad mandate, closed
// account) must not be retried blindly; transient ones may.
type Error struct {
	Code      string
	Message   string
	Permanent bool
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("gateway error (%s, %s): %s", e.Code, kind, e.Message)
}

// IsPermanent reports whether err is a permanent gateway refusal.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Permanent
}

// Cents converts an exact decimal amount to integer cents for the wire,
// rounding half away from zero. This is the only place money leaves
// decimal representation.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
