package group

import (
	"time"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/google/uuid"
)

// MembershipStatus represents whether a member participates in cycles.
type MembershipStatus string

const (
	MemberActive   MembershipStatus = "active"
	MemberInactive MembershipStatus = "inactive"
)

// Membership ties a user to a group with a payout position.
//
// Within an active group the PayoutOrder values of active members form a
// contiguous permutation of 1..N; the member with PayoutOrder == k is the
// payee of cycle k.
type Membership struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	UserID      string
	PayoutOrder int
	Status      MembershipStatus
	HasBeenPaid bool
	IsAdmin     bool
	MandateID   *string
	AccountRef  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarkPaid flips HasBeenPaid. The flag is monotonic: once paid, a member
// never becomes unpaid again.
func (m *Membership) MarkPaid() error {
	if m.HasBeenPaid {
		return nil
	}
	m.HasBeenPaid = true
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// HasMandate reports whether the member can be debited through the gateway.
func (m *Membership) HasMandate() bool {
	return m.MandateID != nil && *m.MandateID != "" && m.AccountRef != nil && *m.AccountRef != ""
}

// ConfirmMandate stores the gateway mandate reference for the member.
func (m *Membership) ConfirmMandate(mandateID, accountRef string) error {
	if mandateID == "" || accountRef == "" {
		return errors.NewValidationError("mandate", "mandate id and account ref are required")
	}
	m.MandateID = &mandateID
	m.AccountRef = &accountRef
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// PayeeFor returns the active unpaid membership whose payout order equals
// cycle, or nil when absent.
func PayeeFor(members []*Membership, cycle int) *Membership {
	for _, m := range members {
		if m.Status == MemberActive && !m.HasBeenPaid && m.PayoutOrder == cycle {
			return m
		}
	}
	return nil
}
