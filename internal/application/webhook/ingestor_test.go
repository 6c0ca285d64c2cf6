package webhook_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	appwebhook "github.com/cassiomorais/esusu/internal/application/webhook"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/cassiomorais/esusu/internal/domain/webhook"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubGateway scripts transfer behavior; debits never originate here.
type stubGateway struct {
	createTransferFunc func(req gateway.TransferRequest) (string, error)
	transferRequests   []gateway.TransferRequest
}

func (s *stubGateway) CreateDebitIntent(ctx context.Context, req gateway.DebitIntentRequest) (string, error) {
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

type env struct {
	groups   *testutil.MockGroupRepository
	payments *testutil.MockPaymentRepository
	payouts  *testutil.MockPayoutRepository
	events   *testutil.MockWebhookEventRepository
	queue    *testutil.MockEnqueuer
	gw       *stubGateway
	ingestor *appwebhook.Ingestor

	g       *group.Group
	members []*group.Membership
}

// newEnv seeds an active 3-member group. Cycle 1's payee is the order-1
// member; members 2 and 3 carry pending debits with known intent ids.
func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		groups:   testutil.NewMockGroupRepository(),
		payments: testutil.NewMockPaymentRepository(),
		payouts:  testutil.NewMockPayoutRepository(),
		events:   testutil.NewMockWebhookEventRepository(),
		queue:    testutil.NewMockEnqueuer(),
		gw:       &stubGateway{},
	}

	e.g = testutil.ActiveGroup(3)
	e.members = testutil.Memberships(e.g.ID, 3)
	testutil.Seed(e.groups, e.g, e.members)

	for idx, m := range e.members[1:] {
		pm, err := payment.New(e.g.ID, m.ID, 1, e.g.ContributionAmount, dec("0.55"))
		require.NoError(t, err)
		intentID := fmt.Sprintf("di_%d", idx+2)
		pm.GatewayIntentID = &intentID
		created, err := e.payments.CreateIfAbsent(context.Background(), pm)
		require.NoError(t, err)
		require.True(t, created)
	}

	tx := &testutil.MockTxManager{}
	jobLog := testutil.NewMockJobLogRepository()
	scheduler := cycle.NewScheduler(tx, e.groups, e.queue, jobLog, testutil.NoopNotifier{}, zerolog.Nop())

	e.ingestor = appwebhook.NewIngestor(appwebhook.IngestorParams{
		Tx:         tx,
		Groups:     e.groups,
		Payments:   e.payments,
		Payouts:    e.payouts,
		Events:     e.events,
		Gateway:    e.gw,
		Scheduler:  scheduler,
		Queue:      e.queue,
		JobLog:     jobLog,
		Notifier:   testutil.NoopNotifier{},
		Logger:     zerolog.Nop(),
		Metrics:    observability.NewMetrics("test", prometheus.NewRegistry()),
		MaxRetries: 3,
		RetryDelay: 48 * time.Hour,
	})
	return e
}

func (e *env) deliver(t *testing.T, kind string, data gateway.EventData) error {
	t.Helper()
	ev := gateway.Event{ID: "evt_" + uuid.NewString()[:8], Kind: kind, CreatedAt: time.Now().UTC(), Data: data}
	return e.ingestor.Process(context.Background(), ev, []byte(`{}`))
}

func (e *env) paymentByIntent(t *testing.T, intentID string) *payment.Payment {
	t.Helper()
	pm, err := e.payments.GetByIntentID(context.Background(), intentID)
	require.NoError(t, err)
	return pm
}

func TestIntentSucceeded_MarksPaymentAndAggregates(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))

	assert.Equal(t, payment.StatusSuccessful, e.paymentByIntent(t, "di_2").Status)
	assert.Equal(t, payment.StatusPending, e.paymentByIntent(t, "di_3").Status)

	fresh := e.groups.Groups[e.g.ID]
	assert.True(t, fresh.TotalSuccess.Equal(dec("25.00")))
	assert.True(t, fresh.TotalPending.Equal(dec("25.00")))

	// One debit still pending: no payout yet.
	assert.Empty(t, e.payouts.Payouts)
	assert.Empty(t, e.gw.transferRequests)
}

func TestIntentSucceeded_LastDebitFinalizesCycle(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))

	// Payout for cycle 1 to the order-1 member, funded with both debits.
	require.Len(t, e.payouts.Payouts, 1)
	var po *payout.Payout
	for _, v := range e.payouts.Payouts {
		po = v
	}
	assert.Equal(t, 1, po.CycleNumber)
	assert.Equal(t, e.members[0].ID, po.MemberID)
	assert.True(t, po.Amount.Equal(dec("50.00")))
	assert.Equal(t, payout.StatusCompleted, po.Status)
	require.NotNil(t, po.GatewayTransferID)

	require.Len(t, e.gw.transferRequests, 1)
	req := e.gw.transferRequests[0]
	assert.Equal(t, "acct_1", req.DestinationAccount)
	assert.Equal(t, fmt.Sprintf("payout-%s-1", e.g.ID), req.IdempotencyKey)

	// The payee is marked paid and the schedule rolled to cycle 2.
	assert.True(t, e.groups.Members[e.members[0].ID].HasBeenPaid)
	ticks := e.queue.ByKind(jobs.KindCycleTick)
	require.Len(t, ticks, 1)
	assert.Len(t, e.groups.Groups[e.g.ID].FutureCycles, 2)
}

func TestIntentSucceeded_RedeliveryCreatesOnePayout(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))

	assert.Len(t, e.payouts.Payouts, 1)
	assert.Len(t, e.gw.transferRequests, 1)
	assert.Len(t, e.queue.ByKind(jobs.KindCycleTick), 1)
}

func TestIntentSucceeded_UnknownIntentIgnored(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_ghost"}))
	assert.Empty(t, e.payouts.Payouts)
}

func TestIntentFailed_SchedulesRetry(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventIntentFailed, gateway.EventData{IntentID: "di_2", Reason: "insufficient funds"}))

	pm := e.paymentByIntent(t, "di_2")
	assert.Equal(t, payment.StatusFailed, pm.Status)
	assert.Equal(t, 1, pm.RetryCount)
	require.NotNil(t, pm.LastError)
	assert.Equal(t, "insufficient funds", *pm.LastError)

	retries := e.queue.ByKind(jobs.KindRetryPayment)
	require.Len(t, retries, 1)
	assert.Equal(t, pm.ID, retries[0].Job.PaymentID)
	assert.Equal(t, 48*time.Hour, retries[0].Delay)
	assert.Equal(t, group.StatusActive, e.groups.Groups[e.g.ID].Status)
}

func TestIntentFailed_RedeliveryDoesNotDoubleCount(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventIntentFailed, gateway.EventData{IntentID: "di_2", Reason: "declined"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentFailed, gateway.EventData{IntentID: "di_2", Reason: "declined"}))

	assert.Equal(t, 1, e.paymentByIntent(t, "di_2").RetryCount)
	assert.Len(t, e.queue.ByKind(jobs.KindRetryPayment), 1)
}

func TestIntentFailed_BudgetExhaustedPausesGroup(t *testing.T) {
	e := newEnv(t)
	pm := e.paymentByIntent(t, "di_2")
	pm.RetryCount = 2 // the incoming failure is attempt three

	require.NoError(t, e.deliver(t, gateway.EventIntentFailed, gateway.EventData{IntentID: "di_2", Reason: "declined"}))

	fresh := e.groups.Groups[e.g.ID]
	assert.Equal(t, group.StatusPaused, fresh.Status)
	assert.Equal(t, group.PausePaymentFailures, fresh.PauseReason)
	assert.Empty(t, e.queue.ByKind(jobs.KindRetryPayment))
}

func TestTransferReversed_FailsPayout(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))

	require.Len(t, e.gw.transferRequests, 1)
	var po *payout.Payout
	for _, v := range e.payouts.Payouts {
		po = v
	}
	transferID := *po.GatewayTransferID

	require.NoError(t, e.deliver(t, gateway.EventTransferReversed, gateway.EventData{TransferID: transferID}))
	assert.Equal(t, payout.StatusFailed, e.payouts.Payouts[po.ID].Status)

	// Reversal redelivery is absorbed.
	require.NoError(t, e.deliver(t, gateway.EventTransferReversed, gateway.EventData{TransferID: transferID}))
}

func TestTransferFailure_CompensationFlagsPayout(t *testing.T) {
	e := newEnv(t)
	e.gw.createTransferFunc = func(req gateway.TransferRequest) (string, error) {
		return "", &gateway.Error{Code: "account_closed", Message: "payee account closed", Permanent: true}
	}

	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	err := e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"})
	require.Error(t, err)

	// The payout row survives in failed state for recovery.
	require.Len(t, e.payouts.Payouts, 1)
	for _, po := range e.payouts.Payouts {
		assert.Equal(t, payout.StatusFailed, po.Status)
	}
	// The schedule did not advance.
	assert.Empty(t, e.queue.ByKind(jobs.KindCycleTick))
}

func TestTransferFailure_RedeliveryCompletesPayout(t *testing.T) {
	e := newEnv(t)
	e.gw.createTransferFunc = func(req gateway.TransferRequest) (string, error) {
		return "", &gateway.Error{Code: "account_closed", Message: "payee account closed", Permanent: true}
	}
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	require.Error(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))

	// The gateway recovers; the final success event is redelivered.
	e.gw.createTransferFunc = nil
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))

	require.Len(t, e.payouts.Payouts, 1)
	for _, po := range e.payouts.Payouts {
		assert.Equal(t, payout.StatusCompleted, po.Status)
		require.NotNil(t, po.GatewayTransferID)
	}

	// Both transfer attempts carried the same (group, cycle) idempotency key.
	require.Len(t, e.gw.transferRequests, 2)
	assert.Equal(t, e.gw.transferRequests[0].IdempotencyKey, e.gw.transferRequests[1].IdempotencyKey)

	// The schedule rolled forward exactly once.
	assert.Len(t, e.queue.ByKind(jobs.KindCycleTick), 1)
}

func TestMandateConfirmed_UpdatesMembership(t *testing.T) {
	e := newEnv(t)
	m := e.members[2]
	m.MandateID = nil
	m.AccountRef = nil

	require.NoError(t, e.deliver(t, gateway.EventMandateConfirmed, gateway.EventData{
		MemberID:   m.ID.String(),
		MandateID:  "mnd_new",
		AccountRef: "acct_new",
	}))

	fresh := e.groups.Members[m.ID]
	assert.True(t, fresh.HasMandate())
	assert.Equal(t, "mnd_new", *fresh.MandateID)
}

func TestMandateConfirmed_InvalidMemberIDIgnored(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.deliver(t, gateway.EventMandateConfirmed, gateway.EventData{
		MemberID:  "not-a-uuid",
		MandateID: "mnd_new",
	}))
}

func TestAccountSuspended_EnqueuesGroupPause(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, gateway.EventAccountSuspended, gateway.EventData{GroupID: e.g.ID.String()}))

	pauses := e.queue.ByKind(jobs.KindGroupPause)
	require.Len(t, pauses, 1)
	assert.Equal(t, e.g.ID, pauses[0].Job.GroupID)
	assert.Equal(t, string(group.PauseSubscription), pauses[0].Job.Reason)
	// The group itself is untouched until the job runs.
	assert.Equal(t, group.StatusActive, e.groups.Groups[e.g.ID].Status)
}

func TestUnknownEventKind_AcknowledgedAndRecorded(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.deliver(t, "provider.something_new", gateway.EventData{}))

	require.Len(t, e.events.Events, 1)
	for _, rec := range e.events.Events {
		assert.Equal(t, webhook.StatusProcessed, rec.Status)
	}
}

func TestProcess_RecordsFailedEvents(t *testing.T) {
	e := newEnv(t)
	e.gw.createTransferFunc = func(req gateway.TransferRequest) (string, error) {
		return "", &gateway.Error{Code: "account_closed", Message: "closed", Permanent: true}
	}
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))
	require.Error(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_3"}))

	failed, err := e.events.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestReplay_ReappliesStoredEvent(t *testing.T) {
	e := newEnv(t)
	e.gw.createTransferFunc = func(req gateway.TransferRequest) (string, error) {
		return "", &gateway.Error{Code: "account_closed", Message: "closed", Permanent: true}
	}
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))

	ev := gateway.Event{ID: "evt_final", Kind: gateway.EventIntentSucceeded, Data: gateway.EventData{IntentID: "di_3"}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	require.Error(t, e.ingestor.Process(context.Background(), ev, raw))

	var recID uuid.UUID
	for _, rec := range e.events.Events {
		if rec.GatewayID == "evt_final" {
			recID = rec.ID
		}
	}
	require.NotEqual(t, uuid.Nil, recID)

	// The payout row sits in failed state with no transfer; replaying the
	// stored event rearms it and re-runs the transfer under the same
	// idempotency key.
	e.gw.createTransferFunc = nil
	require.NoError(t, e.ingestor.Replay(context.Background(), recID))

	require.Len(t, e.payouts.Payouts, 1)
	for _, po := range e.payouts.Payouts {
		assert.Equal(t, payout.StatusCompleted, po.Status)
	}
	require.Len(t, e.gw.transferRequests, 2)
	assert.Len(t, e.queue.ByKind(jobs.KindCycleTick), 1)
}

func TestReplay_CompletedCycleIsNoOp(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.deliver(t, gateway.EventIntentSucceeded, gateway.EventData{IntentID: "di_2"}))

	ev := gateway.Event{ID: "evt_final", Kind: gateway.EventIntentSucceeded, Data: gateway.EventData{IntentID: "di_3"}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, e.ingestor.Process(context.Background(), ev, raw))

	var recID uuid.UUID
	for _, rec := range e.events.Events {
		if rec.GatewayID == "evt_final" {
			recID = rec.ID
		}
	}
	require.NotEqual(t, uuid.Nil, recID)

	require.NoError(t, e.ingestor.Replay(context.Background(), recID))
	assert.Len(t, e.gw.transferRequests, 1)
	assert.Len(t, e.queue.ByKind(jobs.KindCycleTick), 1)
}
