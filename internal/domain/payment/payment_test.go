package payment_test

import (
	"testing"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := payment.New(uuid.New(), uuid.New(), 1,
		decimal.RequireFromString("25.00"), decimal.RequireFromString("0.55"))
	require.NoError(t, err)
	return p
}

func TestNew_Valid(t *testing.T) {
	p := newPending(t)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, 0, p.RetryCount)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("25.00")))
	assert.Nil(t, p.GatewayIntentID)
}

func TestNew_NonPositiveAmount(t *testing.T) {
	_, err := payment.New(uuid.New(), uuid.New(), 1, decimal.Zero, decimal.Zero)
	assert.Error(t, err)

	_, err = payment.New(uuid.New(), uuid.New(), 1, decimal.RequireFromString("-1"), decimal.Zero)
	assert.Error(t, err)
}

func TestNew_CycleNumberBelowOne(t *testing.T) {
	_, err := payment.New(uuid.New(), uuid.New(), 0, decimal.RequireFromString("25.00"), decimal.Zero)
	assert.Error(t, err)
}

func TestStateMachine_PendingToSuccessful(t *testing.T) {
	p := newPending(t)
	assert.NoError(t, p.MarkSuccessful())
	assert.Equal(t, payment.StatusSuccessful, p.Status)
}

func TestStateMachine_SuccessfulIsTerminal(t *testing.T) {
	p := newPending(t)
	require.NoError(t, p.MarkSuccessful())

	assert.ErrorIs(t, p.MarkFailed("late decline"), errors.ErrInvalidStateTransition)
	assert.Equal(t, payment.StatusSuccessful, p.Status)
	assert.Equal(t, 0, p.RetryCount)
}

func TestMarkFailed_CountsAttempts(t *testing.T) {
	p := newPending(t)
	require.NoError(t, p.MarkFailed("insufficient funds"))

	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	require.NotNil(t, p.LastError)
	assert.Equal(t, "insufficient funds", *p.LastError)
}

func TestMarkFailed_RepeatedCallbacksAbsorbed(t *testing.T) {
	p := newPending(t)
	require.NoError(t, p.MarkFailed("declined"))
	require.NoError(t, p.MarkFailed("declined again"))
	assert.Equal(t, 2, p.RetryCount)
}

func TestRearm_FailedBackToPending(t *testing.T) {
	p := newPending(t)
	require.NoError(t, p.MarkFailed("declined"))

	require.NoError(t, p.Rearm("pi_retry_1"))
	assert.Equal(t, payment.StatusPending, p.Status)
	require.NotNil(t, p.GatewayIntentID)
	assert.Equal(t, "pi_retry_1", *p.GatewayIntentID)
	assert.Nil(t, p.LastError)
	// The attempt counter survives the re-arm.
	assert.Equal(t, 1, p.RetryCount)
}

func TestRearm_OnlyFromFailed(t *testing.T) {
	p := newPending(t)
	assert.ErrorIs(t, p.Rearm("pi_x"), errors.ErrInvalidStateTransition)
}

func TestCanRetry(t *testing.T) {
	p := newPending(t)
	assert.False(t, p.CanRetry(3))

	require.NoError(t, p.MarkFailed("declined"))
	assert.True(t, p.CanRetry(3))

	p.RetryCount = 3
	assert.False(t, p.CanRetry(3))
}
