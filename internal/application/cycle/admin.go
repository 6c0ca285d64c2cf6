package cycle

import (
	"context"
	"time"

	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupState is the admin's read view of a group.
type GroupState struct {
	GroupID       uuid.UUID
	Status        group.Status
	PauseReason   group.PauseReason
	CycleStarted  bool
	NextCycleDate *time.Time
	FutureCycles  []time.Time
	CurrentCycle  int
	TotalDebited  decimal.Decimal
	TotalPending  decimal.Decimal
	TotalSuccess  decimal.Decimal
}

// AdminService is the control surface for operators: start, pause, resume
// and inspect a group's rotation.
type AdminService struct {
	scheduler *Scheduler
	pauser    *Pauser
	groups    group.Repository
	payouts   payout.Repository
}

// NewAdminService creates the admin service.
func NewAdminService(scheduler *Scheduler, pauser *Pauser, groups group.Repository, payouts payout.Repository) *AdminService {
	return &AdminService{scheduler: scheduler, pauser: pauser, groups: groups, payouts: payouts}
}

// StartCycle begins the group's rotation at firstCycle.
func (s *AdminService) StartCycle(ctx context.Context, groupID uuid.UUID, firstCycle time.Time, freq group.Frequency) error {
	return s.scheduler.Start(ctx, groupID, firstCycle, freq)
}

// PauseGroup pauses the group for the given reason.
func (s *AdminService) PauseGroup(ctx context.Context, groupID uuid.UUID, reason group.PauseReason) error {
	return s.pauser.Pause(ctx, groupID, reason)
}

// RetryGroup resumes a paused group and re-enqueues the pending cycle.
func (s *AdminService) RetryGroup(ctx context.Context, groupID uuid.UUID) error {
	return s.scheduler.Resume(ctx, groupID)
}

// GetGroupState returns the schedule, lifecycle and aggregate view.
func (s *AdminService) GetGroupState(ctx context.Context, groupID uuid.UUID) (*GroupState, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	lastPaid, err := s.payouts.LastCycleNumber(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupState{
		GroupID:       g.ID,
		Status:        g.Status,
		PauseReason:   g.PauseReason,
		CycleStarted:  g.CycleStarted,
		NextCycleDate: g.NextCycleDate,
		FutureCycles:  g.FutureCycles,
		CurrentCycle:  lastPaid + 1,
		TotalDebited:  g.TotalDebited,
		TotalPending:  g.TotalPending,
		TotalSuccess:  g.TotalSuccess,
	}, nil
}
