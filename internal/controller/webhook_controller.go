package controller

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	appwebhook "github.com/cassiomorais/esusu/internal/application/webhook"
	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxWebhookBodySize = 1 << 20

// WebhookController receives signed gateway callbacks.
type WebhookController struct {
	ingestor  *appwebhook.Ingestor
	secret    string
	tolerance time.Duration
	logger    zerolog.Logger
}

// NewWebhookController creates the webhook controller.
func NewWebhookController(ingestor *appwebhook.Ingestor, secret string, tolerance time.Duration, logger zerolog.Logger) *WebhookController {
	return &WebhookController{
		ingestor:  ingestor,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger.With().Str("component", "webhook_controller").Logger(),
	}
}

// Receive handles POST /webhooks/gateway. An invalid signature is a 400; an
// unknown event kind is a 200 no-op so the gateway stops redelivering it.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("body", "unreadable body"))
		return
	}

	header := r.Header.Get(gateway.SignatureHeader)
	if err := gateway.VerifySignature(c.secret, body, header, c.tolerance, time.Now().UTC()); err != nil {
		c.logger.Warn().Msg("Webhook with invalid signature rejected")
		writeError(w, domainErrors.ErrInvalidSignature)
		return
	}

	var ev gateway.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, domainErrors.NewValidationError("body", "invalid event envelope"))
		return
	}

	if err := c.ingestor.Process(r.Context(), ev, body); err != nil {
		// The gateway will redeliver; the handlers are idempotent.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "received"})
}

// Replay handles POST /api/v1/webhooks/{id}/replay. It re-applies a stored
// event, typically one that failed after its payout saga compensated.
func (c *WebhookController) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("id", "must be a valid UUID"))
		return
	}
	if err := c.ingestor.Replay(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "replayed"})
}
