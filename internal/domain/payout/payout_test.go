package payout_test

import (
	"testing"

	"github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingPayout(t *testing.T) *payout.Payout {
	t.Helper()
	p, err := payout.New(uuid.New(), uuid.New(), 2, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	return p
}

func TestNew_Valid(t *testing.T) {
	p := newPendingPayout(t)
	assert.Equal(t, payout.StatusPending, p.Status)
	assert.Equal(t, 2, p.CycleNumber)
	assert.Nil(t, p.GatewayTransferID)
}

func TestNew_NonPositiveAmount(t *testing.T) {
	_, err := payout.New(uuid.New(), uuid.New(), 1, decimal.Zero)
	assert.Error(t, err)
}

func TestMarkCompleted(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.MarkCompleted("tr_123"))
	assert.Equal(t, payout.StatusCompleted, p.Status)
	require.NotNil(t, p.GatewayTransferID)
	assert.Equal(t, "tr_123", *p.GatewayTransferID)

	// Redelivered confirmation keeps the original transfer id.
	require.NoError(t, p.MarkCompleted("tr_other"))
	assert.Equal(t, "tr_123", *p.GatewayTransferID)
}

func TestMarkCompleted_FromFailedRejected(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.MarkFailed())
	assert.ErrorIs(t, p.MarkCompleted("tr_123"), errors.ErrInvalidStateTransition)
}

func TestRearm_FailedReturnsToPending(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.MarkFailed())
	require.NoError(t, p.Rearm())
	assert.Equal(t, payout.StatusPending, p.Status)
	require.NoError(t, p.MarkCompleted("tr_retry"))
}

func TestRearm_PendingStaysPending(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.Rearm())
	assert.Equal(t, payout.StatusPending, p.Status)
}

func TestRearm_CompletedRejected(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.MarkCompleted("tr_123"))
	assert.ErrorIs(t, p.Rearm(), errors.ErrInvalidStateTransition)
}

func TestMarkFailed_Idempotent(t *testing.T) {
	p := newPendingPayout(t)
	require.NoError(t, p.MarkFailed())
	require.NoError(t, p.MarkFailed())
	assert.Equal(t, payout.StatusFailed, p.Status)
}
