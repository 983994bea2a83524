package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/introji/connect/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo   store.Repository
	broker Pinger
}

// NewHealthHandler creates a new health handler. broker may be nil when
// events stay in process.
func NewHealthHandler(repo store.Repository, broker Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, broker: broker}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "dependency", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	if h.broker != nil {
		checks["broker"] = "ok"
		if err := h.broker.Ping(ctx); err != nil {
			slog.Error("Health check failed", "dependency", "broker", "error", err)
			checks["broker"] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	JSON(w, statusCode, map[string]interface{}{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
