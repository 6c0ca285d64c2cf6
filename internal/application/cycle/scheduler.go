package cycle

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler owns the cycle calendar: starting a group's rotation, advancing
// the schedule after a payout finalizes, and normalizing past-due dates
// after downtime. Every persisted date change is paired with the matching
// cycle-tick enqueue.
type Scheduler struct {
	tx     TransactionManager
	groups group.Repository
	queue  Enqueuer
	jobLog joblog.Repository
	notify notifier.Notifier
	logger zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(
	tx TransactionManager,
	groups group.Repository,
	queue Enqueuer,
	jobLog joblog.Repository,
	notify notifier.Notifier,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		tx:     tx,
		groups: groups,
		queue:  queue,
		jobLog: jobLog,
		notify: notify,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start activates the group's rotation: one future cycle date per active
// member, the first at firstCycle, and the first tick on the queue.
func (s *Scheduler) Start(ctx context.Context, groupID uuid.UUID, firstCycle time.Time, freq group.Frequency) error {
	if !freq.Valid() {
		return domainErrors.NewValidationError("frequency", "unknown cycle frequency")
	}

	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		g, err := s.groups.Lock(ctx, groupID)
		if err != nil {
			return err
		}
		if g.CycleStarted {
			return domainErrors.ErrCycleAlreadyStarted
		}
		if g.Status != group.StatusInitialized {
			return domainErrors.NewDomainError("invalid_group",
				"group cannot start a cycle from status "+string(g.Status),
				domainErrors.ErrInvalidStateTransition)
		}

		members, err := s.groups.ListActiveMemberships(ctx, groupID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return domainErrors.NewValidationError("members", "group has no active members")
		}

		g.Frequency = freq
		if err := g.Activate(); err != nil {
			return err
		}
		g.InitSchedule(firstCycle, len(members))
		if err := g.Validate(); err != nil {
			return err
		}
		if err := s.groups.UpdateSchedule(ctx, g); err != nil {
			return err
		}

		s.logger.Info().
			Str("group_id", groupID.String()).
			Time("first_cycle", firstCycle).
			Int("cycles", len(members)).
			Msg("Cycle schedule started")
		return s.enqueueTick(ctx, g)
	})
}

// Advance pops the consumed cycle date and schedules the next tick. With the
// calendar exhausted the group either ends (everyone paid) or pauses for an
// operator to look at the stragglers.
func (s *Scheduler) Advance(ctx context.Context, groupID uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		g, err := s.groups.Lock(ctx, groupID)
		if err != nil {
			return err
		}

		if g.PopCycle() {
			if err := s.groups.UpdateSchedule(ctx, g); err != nil {
				return err
			}
			return s.enqueueTick(ctx, g)
		}

		members, err := s.groups.ListActiveMemberships(ctx, groupID)
		if err != nil {
			return err
		}
		allPaid := true
		for _, m := range members {
			if !m.HasBeenPaid {
				allPaid = false
				break
			}
		}

		if allPaid {
			if err := g.End(); err != nil {
				return err
			}
			s.notify.GroupCompleted(ctx, groupID)
		} else {
			if err := g.Pause(group.PauseAllPaid); err != nil {
				return err
			}
			s.notify.GroupPaused(ctx, groupID, string(group.PauseAllPaid))
		}
		return s.groups.UpdateSchedule(ctx, g)
	})
}

// Normalize pushes a past-due next cycle date forward by whole frequency
// steps and re-enqueues the tick. Run at worker startup to recover from
// downtime without firing a burst of stale ticks.
func (s *Scheduler) Normalize(ctx context.Context, groupID uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		g, err := s.groups.Lock(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Status != group.StatusActive {
			return nil
		}
		if !g.NormalizeSchedule(s.now()) {
			return nil
		}
		s.logger.Info().
			Str("group_id", groupID.String()).
			Time("next_cycle", *g.NextCycleDate).
			Msg("Schedule normalized after downtime")
		if err := s.groups.UpdateSchedule(ctx, g); err != nil {
			return err
		}
		return s.enqueueTick(ctx, g)
	})
}

// NormalizeAll runs Normalize over every active group. Run once at worker
// startup; a group that fails to normalize is logged and skipped so the
// sweep still covers the rest.
func (s *Scheduler) NormalizeAll(ctx context.Context) error {
	ids, err := s.groups.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active groups: %w", err)
	}
	for _, id := range ids {
		if err := s.Normalize(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("group_id", id.String()).Msg("Failed to normalize group schedule")
		}
	}
	return nil
}

// Resume reactivates a paused group and re-enqueues the pending cycle date.
// Used by the admin retry operation.
func (s *Scheduler) Resume(ctx context.Context, groupID uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		g, err := s.groups.Lock(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Status != group.StatusPaused {
			return domainErrors.ErrGroupNotPaused
		}
		if err := g.Activate(); err != nil {
			return err
		}
		if g.NormalizeSchedule(s.now()) {
			s.logger.Info().Str("group_id", groupID.String()).Msg("Stale schedule normalized on resume")
		}
		if err := s.groups.UpdateSchedule(ctx, g); err != nil {
			return err
		}
		if g.NextCycleDate == nil {
			return nil
		}
		return s.enqueueTick(ctx, g)
	})
}

func (s *Scheduler) enqueueTick(ctx context.Context, g *group.Group) error {
	if g.NextCycleDate == nil {
		return nil
	}
	delay := g.NextCycleDate.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	j := jobs.NewCycleTick(g.ID)
	if err := s.queue.Enqueue(ctx, j, delay); err != nil {
		return fmt.Errorf("enqueue cycle tick for group %s: %w", g.ID, err)
	}
	if err := s.jobLog.Record(ctx, joblog.New(j.ID, string(j.Kind), g.ID)); err != nil {
		s.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to record job log entry")
	}
	s.logger.Info().
		Str("group_id", g.ID.String()).
		Str("job_id", j.ID).
		Dur("delay", delay).
		Msg("Cycle tick enqueued")
	return nil
}
