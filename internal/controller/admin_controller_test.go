package controller_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	"github.com/cassiomorais/esusu/internal/controller"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	"github.com/cassiomorais/esusu/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminHarness struct {
	groups  *testutil.MockGroupRepository
	payouts *testutil.MockPayoutRepository
	queue   *testutil.MockEnqueuer
	router  *chi.Mux
}

func newAdminHarness() *adminHarness {
	h := &adminHarness{
		groups:  testutil.NewMockGroupRepository(),
		payouts: testutil.NewMockPayoutRepository(),
		queue:   testutil.NewMockEnqueuer(),
	}

	tx := &testutil.MockTxManager{}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	scheduler := cycle.NewScheduler(tx, h.groups, h.queue, testutil.NewMockJobLogRepository(), testutil.NoopNotifier{}, zerolog.Nop())
	pauser := cycle.NewPauser(tx, h.groups, testutil.NoopNotifier{}, zerolog.Nop(), metrics)
	admin := cycle.NewAdminService(scheduler, pauser, h.groups, h.payouts)

	ctrl := controller.NewAdminController(admin)
	r := chi.NewRouter()
	r.Get("/groups/{id}", ctrl.GetGroupState)
	r.Post("/groups/{id}/start", ctrl.StartCycle)
	r.Post("/groups/{id}/pause", ctrl.PauseGroup)
	r.Post("/groups/{id}/retry", ctrl.RetryGroup)
	h.router = r
	return h
}

func (h *adminHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestStartCycle_OK(t *testing.T) {
	h := newAdminHarness()
	g := testutil.InitializedGroup()
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/start", map[string]any{
		"first_cycle_date": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"frequency":        "weekly",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, group.StatusActive, h.groups.Groups[g.ID].Status)
	assert.Len(t, h.queue.Jobs, 1)
}

func TestStartCycle_InvalidFrequency(t *testing.T) {
	h := newAdminHarness()
	g := testutil.InitializedGroup()
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/start", map[string]any{
		"first_cycle_date": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"frequency":        "fortnightly",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestStartCycle_AlreadyStarted(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/start", map[string]any{
		"first_cycle_date": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"frequency":        "weekly",
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "already_started", resp.Code)
}

func TestStartCycle_InvalidUUID(t *testing.T) {
	h := newAdminHarness()
	rec := h.do(t, http.MethodPost, "/groups/not-a-uuid/start", map[string]any{
		"first_cycle_date": time.Now().UTC().Format(time.RFC3339),
		"frequency":        "weekly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseGroup_OK(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/pause", map[string]any{"reason": "admin"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := h.groups.Groups[g.ID]
	assert.Equal(t, group.StatusPaused, fresh.Status)
	assert.Equal(t, group.PauseAdmin, fresh.PauseReason)
}

func TestPauseGroup_UnknownReason(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/pause", map[string]any{"reason": "because"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryGroup_NotPaused(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/retry", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_paused", resp.Code)
}

func TestRetryGroup_ResumesPausedGroup(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	require.NoError(t, g.Pause(group.PausePaymentFailures))
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodPost, "/groups/"+g.ID.String()+"/retry", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, group.StatusActive, h.groups.Groups[g.ID].Status)
}

func TestGetGroupState_OK(t *testing.T) {
	h := newAdminHarness()
	g := testutil.ActiveGroup(3)
	testutil.Seed(h.groups, g, testutil.Memberships(g.ID, 3))

	rec := h.do(t, http.MethodGet, "/groups/"+g.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp controller.GroupStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, g.ID.String(), resp.GroupID)
	assert.Equal(t, "active", resp.Status)
	assert.True(t, resp.CycleStarted)
	assert.Equal(t, 1, resp.CurrentCycle)
	assert.Equal(t, "0.00", resp.TotalDebited)
	assert.Len(t, resp.FutureCycles, 3)
}

func TestGetGroupState_NotFound(t *testing.T) {
	h := newAdminHarness()
	rec := h.do(t, http.MethodGet, fmt.Sprintf("/groups/%s", uuid.New()), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp controller.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Code)
}
