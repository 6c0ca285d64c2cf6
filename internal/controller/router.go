package controller

import (
	"time"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	appwebhook "github.com/cassiomorais/esusu/internal/application/webhook"
	"github.com/cassiomorais/esusu/internal/config"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/esusu/internal/middleware"
	"github.com/cassiomorais/esusu/internal/repository/postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	AdminService    *cycle.AdminService
	Ingestor        *appwebhook.Ingestor
	IdempotencyRepo *postgres.IdempotencyRepository
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
	Server          config.ServerConfig
	Gateway         config.GatewayConfig
}

// NewRouter builds the HTTP router: the admin control surface under JWT and
// the gateway webhook endpoint under signature verification.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	adminH := NewAdminController(deps.AdminService)
	webhookH := NewWebhookController(deps.Ingestor, deps.Gateway.WebhookSecret, deps.Gateway.WebhookTolerance, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Gateway callbacks: signature is the auth, rate limit absorbs storms.
	r.With(customMW.RateLimit(600)).Post("/webhooks/gateway", webhookH.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.Server.JWTSecret))
		idempotencyMW := customMW.Idempotency(deps.IdempotencyRepo)

		r.Get("/groups/{id}", adminH.GetGroupState)
		r.With(idempotencyMW).Post("/groups/{id}/start", adminH.StartCycle)
		r.With(idempotencyMW).Post("/groups/{id}/pause", adminH.PauseGroup)
		r.With(idempotencyMW).Post("/groups/{id}/retry", adminH.RetryGroup)
		r.Post("/webhooks/{id}/replay", webhookH.Replay)
	})

	return r
}
