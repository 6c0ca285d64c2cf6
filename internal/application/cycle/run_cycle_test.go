package cycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway lets each test script gateway behavior per call.
type stubGateway struct {
	createIntentFunc   func(req gateway.DebitIntentRequest) (string, error)
	createTransferFunc func(req gateway.TransferRequest) (string, error)

	intentRequests   []gateway.DebitIntentRequest
	transferRequests []gateway.TransferRequest
}

func (s *stubGateway) CreateDebitIntent(ctx context.Context, req gateway.DebitIntentRequest) (string, error) {
	s.intentRequests = append(s.intentRequests, req)
	if s.createIntentFunc != nil {
		return s.createIntentFunc(req)
	}
	return "di_" + uuid.NewString()[:8], nil
}

func (s *stubGateway) GetIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	return &gateway.Intent{ID: intentID, Status: gateway.IntentPending}, nil
}

func (s *stubGateway) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	s.transferRequests = append(s.transferRequests, req)
	if s.createTransferFunc != nil {
		return s.createTransferFunc(req)
	}
	return "tr_" + uuid.NewString()[:8], nil
}

type processorEnv struct {
	groups   *testutil.MockGroupRepository
	payments *testutil.MockPaymentRepository
	payouts  *testutil.MockPayoutRepository
	queue    *testutil.MockEnqueuer
	gw       *stubGateway
}

func newProcessor(t *testing.T, env *processorEnv, maxRetries int) *cycle.Processor {
	t.Helper()
	return cycle.NewProcessor(cycle.ProcessorParams{
		Tx:         &testutil.MockTxManager{},
		Groups:     env.groups,
		Payments:   env.payments,
		Payouts:    env.payouts,
		Gateway:    env.gw,
		Queue:      env.queue,
		JobLog:     testutil.NewMockJobLogRepository(),
		Notifier:   testutil.NoopNotifier{},
		Fees:       cycle.DefaultFeeSchedule(),
		Logger:     zerolog.Nop(),
		Metrics:    observability.NewMetrics("test", prometheus.NewRegistry()),
		MaxRetries: maxRetries,
		RetryDelay: 48 * time.Hour,
	})
}

func newEnv() *processorEnv {
	return &processorEnv{
		groups:   testutil.NewMockGroupRepository(),
		payments: testutil.NewMockPaymentRepository(),
		payouts:  testutil.NewMockPayoutRepository(),
		queue:    testutil.NewMockEnqueuer(),
		gw:       &stubGateway{},
	}
}

func TestRun_FirstCycleDebitsEveryoneButPayee(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	testutil.Seed(env.groups, g, members)

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	// Cycle 1: member with payout order 1 is the payee and is never debited.
	assert.Len(t, env.payments.Payments, 2)
	for _, pm := range env.payments.Payments {
		assert.NotEqual(t, members[0].ID, pm.MemberID)
		assert.Equal(t, 1, pm.CycleNumber)
		assert.Equal(t, payment.StatusPending, pm.Status)
		require.NotNil(t, pm.GatewayIntentID)
		assert.True(t, pm.Amount.Equal(g.ContributionAmount))
		assert.True(t, pm.Fee.Equal(dec("0.55")))
	}

	// Each intent routes funds toward the payee's account.
	require.Len(t, env.gw.intentRequests, 2)
	for _, req := range env.gw.intentRequests {
		assert.Equal(t, "acct_1", req.TransferTo)
	}

	// Totals reflect the two pending debits.
	fresh := env.groups.Groups[g.ID]
	assert.True(t, fresh.TotalPending.Equal(dec("50.00")))
	assert.True(t, fresh.TotalDebited.Equal(dec("50.00")))
	assert.True(t, fresh.TotalSuccess.Equal(dec("0")))
}

func TestRun_IntentIdempotencyKeyIsStable(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(2)
	members := testutil.Memberships(g.ID, 2)
	testutil.Seed(env.groups, g, members)

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	require.Len(t, env.gw.intentRequests, 1)
	want := fmt.Sprintf("debit-%s-1-%s", g.ID, members[1].ID)
	assert.Equal(t, want, env.gw.intentRequests[0].IdempotencyKey)
}

func TestRun_DuplicateTickCreatesNothingNew(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	testutil.Seed(env.groups, g, testutil.Memberships(g.ID, 3))

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))
	require.NoError(t, p.Run(context.Background(), g.ID))

	assert.Len(t, env.payments.Payments, 2)
	// Gateway was only called for the first run's creations.
	assert.Len(t, env.gw.intentRequests, 2)
}

func TestRun_NonActiveGroupSkips(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	require.NoError(t, g.Pause("admin"))
	testutil.Seed(env.groups, g, testutil.Memberships(g.ID, 3))

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))
	assert.Empty(t, env.payments.Payments)
}

func TestRun_AllPaidPausesGroup(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(2)
	members := testutil.Memberships(g.ID, 2)
	for _, m := range members {
		m.HasBeenPaid = true
	}
	testutil.Seed(env.groups, g, members)

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	fresh := env.groups.Groups[g.ID]
	assert.Equal(t, "paused", string(fresh.Status))
	assert.Equal(t, "all_paid", string(fresh.PauseReason))
	assert.Empty(t, env.payments.Payments)
}

func TestRun_MissingPayeeIsInvariantViolation(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	// Order 1 already paid without a recorded payout: corrupted state.
	members[0].HasBeenPaid = true
	testutil.Seed(env.groups, g, members)

	p := newProcessor(t, env, 3)
	err := p.Run(context.Background(), g.ID)
	assert.True(t, domainErrors.IsInvariantViolation(err))
	assert.Empty(t, env.payments.Payments)
}

func TestRun_MemberWithoutMandateIsDeferred(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	members[1].MandateID = nil
	members[1].AccountRef = nil
	testutil.Seed(env.groups, g, members)

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	// Both debits exist; only the mandated member reached the gateway.
	assert.Len(t, env.payments.Payments, 2)
	assert.Len(t, env.gw.intentRequests, 1)

	deferred, err := env.payments.ListByCycle(context.Background(), g.ID, 1)
	require.NoError(t, err)
	for _, pm := range deferred {
		if pm.MemberID == members[1].ID {
			assert.Nil(t, pm.GatewayIntentID)
		}
	}
}

func TestRun_PermanentRefusalEnqueuesRetry(t *testing.T) {
	env := newEnv()
	env.gw.createIntentFunc = func(req gateway.DebitIntentRequest) (string, error) {
		return "", &gateway.Error{Code: "mandate_invalid", Message: "revoked", Permanent: true}
	}
	g := testutil.ActiveGroup(2)
	testutil.Seed(env.groups, g, testutil.Memberships(g.ID, 2))

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	require.Len(t, env.payments.Payments, 1)
	var pm *payment.Payment
	for _, v := range env.payments.Payments {
		pm = v
	}
	assert.Equal(t, payment.StatusFailed, pm.Status)
	assert.Equal(t, 1, pm.RetryCount)

	retries := env.queue.ByKind(jobs.KindRetryPayment)
	require.Len(t, retries, 1)
	assert.Equal(t, pm.ID, retries[0].Job.PaymentID)
	assert.Equal(t, 48*time.Hour, retries[0].Delay)

	// One hard refusal does not pause the whole group.
	assert.Equal(t, "active", string(env.groups.Groups[g.ID].Status))
}

func TestRun_RetriesExhaustedPausesGroup(t *testing.T) {
	env := newEnv()
	env.gw.createIntentFunc = func(req gateway.DebitIntentRequest) (string, error) {
		return "", &gateway.Error{Code: "mandate_invalid", Message: "revoked", Permanent: true}
	}
	g := testutil.ActiveGroup(2)
	testutil.Seed(env.groups, g, testutil.Memberships(g.ID, 2))

	p := newProcessor(t, env, 1)
	require.NoError(t, p.Run(context.Background(), g.ID))

	fresh := env.groups.Groups[g.ID]
	assert.Equal(t, "paused", string(fresh.Status))
	assert.Equal(t, "payment_failures", string(fresh.PauseReason))
	assert.Empty(t, env.queue.ByKind(jobs.KindRetryPayment))
}

func TestRun_TransientFailureBubblesUp(t *testing.T) {
	env := newEnv()
	env.gw.createIntentFunc = func(req gateway.DebitIntentRequest) (string, error) {
		return "", &gateway.Error{Code: "network_error", Message: "timeout", Permanent: false}
	}
	g := testutil.ActiveGroup(2)
	testutil.Seed(env.groups, g, testutil.Memberships(g.ID, 2))

	p := newProcessor(t, env, 3)
	err := p.Run(context.Background(), g.ID)
	require.Error(t, err)
	// The queue redelivers the tick; nothing was paused.
	assert.Equal(t, "active", string(env.groups.Groups[g.ID].Status))
}

func TestRun_SecondCycleAfterPayout(t *testing.T) {
	env := newEnv()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	members[0].HasBeenPaid = true
	testutil.Seed(env.groups, g, members)
	seedPayout(t, env, g.ID, members[0].ID, 1)

	p := newProcessor(t, env, 3)
	require.NoError(t, p.Run(context.Background(), g.ID))

	// Cycle 2: order-2 member is the payee; the paid order-1 member and the
	// payee are both excluded, leaving one debit.
	assert.Len(t, env.payments.Payments, 1)
	for _, pm := range env.payments.Payments {
		assert.Equal(t, members[2].ID, pm.MemberID)
		assert.Equal(t, 2, pm.CycleNumber)
	}
}

func seedPayout(t *testing.T, env *processorEnv, groupID, memberID uuid.UUID, cycleNumber int) {
	t.Helper()
	po, err := payout.New(groupID, memberID, cycleNumber, dec("75.00"))
	require.NoError(t, err)
	created, err := env.payouts.CreateIfAbsent(context.Background(), po)
	require.NoError(t, err)
	require.True(t, created)
}
