package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthController reports process and dependency health.
type HealthController struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewHealthController creates the health controller.
func NewHealthController(pool *pgxpool.Pool, rdb *redis.Client) *HealthController {
	return &HealthController{pool: pool, redis: rdb}
}

// Liveness always succeeds while the process runs.
func (c *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness checks the database and Redis.
func (c *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.pool.Ping(dbCtx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "healthy"
	}

	if err := c.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["redis"] = "healthy"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

// Health is the combined endpoint.
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	c.Readiness(w, r)
}
