package testutil

import (
	"fmt"
	"time"

	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActiveGroup builds an active group mid-rotation with a populated schedule.
func ActiveGroup(members int) *group.Group {
	now := time.Now().UTC()
	g := &group.Group{
		ID:                 uuid.New(),
		Name:               "test-group",
		ContributionAmount: decimal.RequireFromString("25.00"),
		Frequency:          group.Weekly,
		Status:             group.StatusActive,
		CycleStarted:       true,
		TotalDebited:       decimal.Zero,
		TotalPending:       decimal.Zero,
		TotalSuccess:       decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	g.InitSchedule(now.Add(time.Hour), members)
	return g
}

// InitializedGroup builds a group that has never started a rotation.
func InitializedGroup() *group.Group {
	now := time.Now().UTC()
	return &group.Group{
		ID:                 uuid.New(),
		Name:               "test-group",
		ContributionAmount: decimal.RequireFromString("25.00"),
		Frequency:          group.Weekly,
		Status:             group.StatusInitialized,
		TotalDebited:       decimal.Zero,
		TotalPending:       decimal.Zero,
		TotalSuccess:       decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Memberships builds n active members with payout orders 1..n, all with
// confirmed mandates.
func Memberships(groupID uuid.UUID, n int) []*group.Membership {
	now := time.Now().UTC()
	out := make([]*group.Membership, 0, n)
	for i := 1; i <= n; i++ {
		mandate := fmt.Sprintf("mnd_%d", i)
		account := fmt.Sprintf("acct_%d", i)
		out = append(out, &group.Membership{
			ID:          uuid.New(),
			GroupID:     groupID,
			UserID:      fmt.Sprintf("user-%d", i),
			PayoutOrder: i,
			Status:      group.MemberActive,
			IsAdmin:     i == 1,
			MandateID:   &mandate,
			AccountRef:  &account,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return out
}

// Seed loads a group and its members into the mock repository.
func Seed(repo *MockGroupRepository, g *group.Group, members []*group.Membership) {
	repo.Groups[g.ID] = g
	for _, m := range members {
		repo.Members[m.ID] = m
	}
}
