package controller

import (
	"net/http"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminController exposes the operator control surface for groups.
type AdminController struct {
	admin *cycle.AdminService
}

// NewAdminController creates the admin controller.
func NewAdminController(admin *cycle.AdminService) *AdminController {
	return &AdminController{admin: admin}
}

// StartCycle handles POST /groups/{id}/start.
func (c *AdminController) StartCycle(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req StartCycleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := c.admin.StartCycle(r.Context(), groupID, req.FirstCycleDate.UTC(), group.Frequency(req.Frequency)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "started"})
}

// PauseGroup handles POST /groups/{id}/pause.
func (c *AdminController) PauseGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req PauseGroupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := c.admin.PauseGroup(r.Context(), groupID, group.PauseReason(req.Reason)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "paused"})
}

// RetryGroup handles POST /groups/{id}/retry.
func (c *AdminController) RetryGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.admin.RetryGroup(r.Context(), groupID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "resumed"})
}

// GetGroupState handles GET /groups/{id}.
func (c *AdminController) GetGroupState(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := c.admin.GetGroupState(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GroupStateResponse{
		GroupID:       state.GroupID.String(),
		Status:        string(state.Status),
		PauseReason:   string(state.PauseReason),
		CycleStarted:  state.CycleStarted,
		CurrentCycle:  state.CurrentCycle,
		NextCycleDate: state.NextCycleDate,
		FutureCycles:  state.FutureCycles,
		TotalDebited:  state.TotalDebited.StringFixed(2),
		TotalPending:  state.TotalPending.StringFixed(2),
		TotalSuccess:  state.TotalSuccess.StringFixed(2),
	})
}

func parseGroupID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError("id", "must be a valid UUID")
	}
	return id, nil
}
