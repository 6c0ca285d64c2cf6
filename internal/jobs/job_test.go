package jobs_test

import (
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCycleTick(t *testing.T) {
	groupID := uuid.New()
	j := jobs.NewCycleTick(groupID)

	assert.Equal(t, jobs.KindCycleTick, j.Kind)
	assert.Equal(t, groupID, j.GroupID)
	assert.True(t, strings.HasPrefix(j.ID, "cycle-tick-"+groupID.String()+"-"))
	assert.False(t, j.EnqueuedAt.IsZero())
}

func TestNewRetryPayment(t *testing.T) {
	paymentID := uuid.New()
	j := jobs.NewRetryPayment(paymentID)

	assert.Equal(t, jobs.KindRetryPayment, j.Kind)
	assert.Equal(t, paymentID, j.PaymentID)
	assert.Equal(t, uuid.Nil, j.GroupID)
}

func TestNewGroupPause(t *testing.T) {
	groupID := uuid.New()
	j := jobs.NewGroupPause(groupID, "subscription")

	assert.Equal(t, jobs.KindGroupPause, j.Kind)
	assert.Equal(t, groupID, j.GroupID)
	assert.Equal(t, "subscription", j.Reason)
}

func TestJobIDs_DistinctPerOccurrence(t *testing.T) {
	groupID := uuid.New()
	a := jobs.NewCycleTick(groupID)
	time.Sleep(2 * time.Millisecond)
	b := jobs.NewCycleTick(groupID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	j := jobs.NewGroupPause(uuid.New(), "admin")
	j.Attempt = 2

	raw, err := j.Encode()
	require.NoError(t, err)

	got, err := jobs.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, j.Kind, got.Kind)
	assert.Equal(t, j.GroupID, got.GroupID)
	assert.Equal(t, "admin", got.Reason)
	assert.Equal(t, 2, got.Attempt)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := jobs.Decode("not json")
	assert.Error(t, err)

	_, err = jobs.Decode(`{"id":"","kind":""}`)
	assert.Error(t, err)
}

func TestDedupID(t *testing.T) {
	groupID := uuid.New()
	paymentID := uuid.New()

	assert.Equal(t, groupID, jobs.NewCycleTick(groupID).DedupID())
	assert.Equal(t, paymentID, jobs.NewRetryPayment(paymentID).DedupID())
	assert.Equal(t, groupID, jobs.NewGroupPause(groupID, "admin").DedupID())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, jobs.Backoff(0))
	assert.Equal(t, 30*time.Second, jobs.Backoff(1))
	assert.Equal(t, time.Minute, jobs.Backoff(2))
	assert.Equal(t, 2*time.Minute, jobs.Backoff(3))
	assert.Equal(t, 10*time.Minute, jobs.Backoff(7))
	assert.Equal(t, 10*time.Minute, jobs.Backoff(20))

	// Attempt counts far past the cap must not overflow the shift.
	assert.Equal(t, 10*time.Minute, jobs.Backoff(40))
	assert.Equal(t, 10*time.Minute, jobs.Backoff(100))
	assert.Positive(t, jobs.Backoff(1<<30))
}
