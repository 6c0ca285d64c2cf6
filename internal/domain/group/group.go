package group

import (
	"time"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the group status in the lifecycle state machine.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusEnded       Status = "ended"
)

// PauseReason explains why a group is paused.
type PauseReason string

const (
	PauseNone            PauseReason = ""
	PausePaymentFailures PauseReason = "payment_failures"
	PauseAllPaid         PauseReason = "all_paid"
	PauseAdmin           PauseReason = "admin"
	PauseSubscription    PauseReason = "subscription"
)

// Group represents a rotating-savings group.
type Group struct {
	ID                 uuid.UUID
	Name               string
	ContributionAmount decimal.Decimal
	Frequency          Frequency
	Status             Status
	PauseReason        PauseReason
	CycleStarted       bool
	NextCycleDate      *time.Time
	FutureCycles       []time.Time
	TotalDebited       decimal.Decimal
	TotalPending       decimal.Decimal
	TotalSuccess       decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanTransitionTo checks if the group can transition to the given status.
func (g *Group) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusInitialized: {StatusActive},
		StatusActive:      {StatusPaused, StatusEnded},
		StatusPaused:      {StatusActive, StatusEnded},
		StatusEnded:       {}, // Terminal state
	}

	allowed, exists := transitions[g.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the group to a new status.
func (g *Group) TransitionTo(newStatus Status) error {
	if !g.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition group from "+string(g.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	g.Status = newStatus
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// Activate starts the group's cycle. Used on first start and on admin retry.
func (g *Group) Activate() error {
	if g.Status == StatusActive {
		return nil
	}
	if err := g.TransitionTo(StatusActive); err != nil {
		return err
	}
	g.CycleStarted = true
	g.PauseReason = PauseNone
	return nil
}

// Pause pauses the group with the given reason.
func (g *Group) Pause(reason PauseReason) error {
	if g.Status == StatusPaused {
		// Already paused; keep the earliest reason.
		return nil
	}
	if err := g.TransitionTo(StatusPaused); err != nil {
		return err
	}
	g.PauseReason = reason
	return nil
}

// End marks the group as ended and clears its schedule.
func (g *Group) End() error {
	if err := g.TransitionTo(StatusEnded); err != nil {
		return err
	}
	g.NextCycleDate = nil
	g.FutureCycles = nil
	return nil
}

// InitSchedule populates count cycle dates starting at first, one frequency
// step apart, and sets NextCycleDate to the first.
func (g *Group) InitSchedule(first time.Time, count int) {
	first = first.UTC()
	dates := make([]time.Time, 0, count)
	d := first
	for i := 0; i < count; i++ {
		dates = append(dates, d)
		d = g.Frequency.Next(d)
	}
	g.FutureCycles = dates
	if len(dates) > 0 {
		next := dates[0]
		g.NextCycleDate = &next
	} else {
		g.NextCycleDate = nil
	}
}

// PopCycle removes the head of FutureCycles and moves NextCycleDate to the
// new head. Returns false when no future cycles remain afterwards.
func (g *Group) PopCycle() bool {
	if len(g.FutureCycles) > 0 {
		g.FutureCycles = g.FutureCycles[1:]
	}
	if len(g.FutureCycles) == 0 {
		g.NextCycleDate = nil
		return false
	}
	next := g.FutureCycles[0]
	g.NextCycleDate = &next
	return true
}

// NormalizeSchedule moves a past-due NextCycleDate forward by whole frequency
// steps until it is in the future relative to now. Returns true if anything moved.
func (g *Group) NormalizeSchedule(now time.Time) bool {
	if g.NextCycleDate == nil || !g.NextCycleDate.Before(now) {
		return false
	}
	d := *g.NextCycleDate
	for d.Before(now) {
		d = g.Frequency.Next(d)
	}
	g.NextCycleDate = &d
	if len(g.FutureCycles) > 0 {
		g.FutureCycles[0] = d
		// Keep the sequence strictly increasing.
		for i := 1; i < len(g.FutureCycles); i++ {
			if !g.FutureCycles[i].After(g.FutureCycles[i-1]) {
				g.FutureCycles[i] = g.Frequency.Next(g.FutureCycles[i-1])
			}
		}
	}
	return true
}

// Validate checks structural invariants on the group.
func (g *Group) Validate() error {
	if !g.ContributionAmount.IsPositive() {
		return errors.NewValidationError("contribution_amount", "must be greater than 0")
	}
	if !g.Frequency.Valid() {
		return errors.NewValidationError("frequency", "unknown cycle frequency")
	}
	for i := 1; i < len(g.FutureCycles); i++ {
		if !g.FutureCycles[i].After(g.FutureCycles[i-1]) {
			return errors.NewValidationError("future_cycles", "dates must be strictly increasing")
		}
	}
	if g.NextCycleDate != nil && len(g.FutureCycles) > 0 && !g.NextCycleDate.Equal(g.FutureCycles[0]) {
		return errors.NewValidationError("next_cycle_date", "must equal the first future cycle")
	}
	return nil
}
