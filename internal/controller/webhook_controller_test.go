package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	appwebhook "github.com/cassiomorais/esusu/internal/application/webhook"
	"github.com/cassiomorais/esusu/internal/controller"
	"github.com/cassiomorais/esusu/internal/domain/webhook"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type webhookHarness struct {
	groups *testutil.MockGroupRepository
	events *testutil.MockWebhookEventRepository
	router *chi.Mux
}

func newWebhookHarness() *webhookHarness {
	h := &webhookHarness{
		groups: testutil.NewMockGroupRepository(),
		events: testutil.NewMockWebhookEventRepository(),
	}

	tx := &testutil.MockTxManager{}
	queue := testutil.NewMockEnqueuer()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	scheduler := cycle.NewScheduler(tx, h.groups, queue, testutil.NewMockJobLogRepository(), testutil.NoopNotifier{}, zerolog.Nop())

	ingestor := appwebhook.NewIngestor(appwebhook.IngestorParams{
		Tx:         tx,
		Groups:     h.groups,
		Payments:   testutil.NewMockPaymentRepository(),
		Payouts:    testutil.NewMockPayoutRepository(),
		Events:     h.events,
		Gateway:    gateway.NewMockGateway(),
		Scheduler:  scheduler,
		Queue:      queue,
		JobLog:     testutil.NewMockJobLogRepository(),
		Notifier:   testutil.NoopNotifier{},
		Logger:     zerolog.Nop(),
		Metrics:    metrics,
		MaxRetries: 3,
		RetryDelay: 48 * time.Hour,
	})

	ctrl := controller.NewWebhookController(ingestor, webhookSecret, 5*time.Minute, zerolog.Nop())
	r := chi.NewRouter()
	r.Post("/webhooks/gateway", ctrl.Receive)
	r.Post("/webhooks/{id}/replay", ctrl.Replay)
	h.router = r
	return h
}

func (h *webhookHarness) deliver(t *testing.T, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(gateway.SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func signedEvent(t *testing.T, ev gateway.Event) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body, gateway.SignPayload(webhookSecret, body, time.Now().UTC())
}

func TestReceive_MandateConfirmed(t *testing.T) {
	h := newWebhookHarness()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	members[1].MandateID = nil
	members[1].AccountRef = nil
	testutil.Seed(h.groups, g, members)

	body, sig := signedEvent(t, gateway.Event{
		ID:   "evt_1",
		Kind: gateway.EventMandateConfirmed,
		Data: gateway.EventData{
			MemberID:   members[1].ID.String(),
			MandateID:  "mnd_new",
			AccountRef: "acct_new",
		},
	})
	rec := h.deliver(t, body, sig)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp controller.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp.Status)

	fresh := h.groups.Members[members[1].ID]
	require.NotNil(t, fresh.MandateID)
	assert.Equal(t, "mnd_new", *fresh.MandateID)
	require.NotNil(t, fresh.AccountRef)
	assert.Equal(t, "acct_new", *fresh.AccountRef)
}

func TestReceive_InvalidSignature(t *testing.T) {
	h := newWebhookHarness()
	body, _ := signedEvent(t, gateway.Event{ID: "evt_1", Kind: gateway.EventMandateConfirmed})

	rec := h.deliver(t, body, gateway.SignPayload("whsec_other", body, time.Now().UTC()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_signature", resp.Code)
	assert.Empty(t, h.events.Events)
}

func TestReceive_MissingSignature(t *testing.T) {
	h := newWebhookHarness()
	body, _ := signedEvent(t, gateway.Event{ID: "evt_1", Kind: gateway.EventMandateConfirmed})

	rec := h.deliver(t, body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceive_StaleSignature(t *testing.T) {
	h := newWebhookHarness()
	body, err := json.Marshal(gateway.Event{ID: "evt_1", Kind: gateway.EventMandateConfirmed})
	require.NoError(t, err)
	sig := gateway.SignPayload(webhookSecret, body, time.Now().UTC().Add(-time.Hour))

	rec := h.deliver(t, body, sig)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceive_UnknownKindAcknowledged(t *testing.T) {
	h := newWebhookHarness()
	body, sig := signedEvent(t, gateway.Event{ID: "evt_1", Kind: "balance_updated"})

	rec := h.deliver(t, body, sig)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.events.Events, 1)
	for _, e := range h.events.Events {
		assert.Equal(t, webhook.StatusProcessed, e.Status)
	}
}

func TestReceive_MalformedEnvelope(t *testing.T) {
	h := newWebhookHarness()
	body := []byte(`{"id": 42`)
	sig := gateway.SignPayload(webhookSecret, body, time.Now().UTC())

	rec := h.deliver(t, body, sig)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestReplay_UnknownEvent(t *testing.T) {
	h := newWebhookHarness()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+uuid.NewString()+"/replay", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Code)
}

func TestReplay_InvalidID(t *testing.T) {
	h := newWebhookHarness()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/not-a-uuid/replay", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplay_ReappliesStoredEvent(t *testing.T) {
	h := newWebhookHarness()
	g := testutil.ActiveGroup(3)
	members := testutil.Memberships(g.ID, 3)
	members[2].MandateID = nil
	members[2].AccountRef = nil
	testutil.Seed(h.groups, g, members)

	ev := gateway.Event{
		ID:   "evt_replay",
		Kind: gateway.EventMandateConfirmed,
		Data: gateway.EventData{
			MemberID:   members[2].ID.String(),
			MandateID:  "mnd_late",
			AccountRef: "acct_late",
		},
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	stored := webhook.New(ev.ID, ev.Kind, payload)
	require.NoError(t, h.events.Save(context.Background(), stored))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+stored.ID.String()+"/replay", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := h.groups.Members[members[2].ID]
	require.NotNil(t, fresh.MandateID)
	assert.Equal(t, "mnd_late", *fresh.MandateID)
	assert.Equal(t, webhook.StatusProcessed, h.events.Events[stored.ID].Status)
}
