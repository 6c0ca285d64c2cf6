package gateway

import "time"

// Event kinds the orchestrator consumes. Anything else is acknowledged and
// dropped.
const (
	EventIntentSucceeded  = "intent_succeeded"
	EventIntentFailed     = "intent_failed"
	EventTransferReversed = "transfer_reversed"
	EventMandateConfirmed = "mandate_confirmed"
	EventAccountSuspended = "account_suspended"
)

// Event is the gateway's signed webhook envelope. The provider assigns
// monotonically increasing event IDs and delivers at least once.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the kind-specific payload fields. Unused fields are
// empty for a given kind.
type EventData struct {
	IntentID   string `json:"intent_id,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	MandateID  string `json:"mandate_id,omitempty"`
	AccountRef string `json:"account_ref,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
}
