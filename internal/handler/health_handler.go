package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HealthChecker pings a backing service.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Ping implements HealthChecker.
func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// CircuitChecker reports an open circuit breaker.
type CircuitChecker interface {
	IsCircuitOpen() bool
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	storage   HealthChecker
	dedupe    HealthChecker
	messaging CircuitChecker
	draining  func() bool
	version   string
	logger    *zap.Logger
}

// HealthHandlerConfig holds configuration for HealthHandler.
type HealthHandlerConfig struct {
	// Storage is critical: without it no conversation can be saved.
	Storage HealthChecker
	// Dedupe failures degrade the service; inbound is still processed.
	Dedupe    HealthChecker
	Messaging CircuitChecker
	// Draining reports a shutdown in progress.
	Draining func() bool
	Version  string
	Logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with all required dependencies.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &HealthHandler{
		storage:   cfg.Storage,
		dedupe:    cfg.Dedupe,
		messaging: cfg.Messaging,
		draining:  cfg.Draining,
		version:   cfg.Version,
		logger:    cfg.Logger,
	}
}

// RegisterRoutes registers health routes on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReadiness)
	r.Get("/live", h.HandleLiveness)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                     `json:"status"`
	Version string                     `json:"version,omitempty"`
	Checks  map[string]ComponentHealth `json:"checks,omitempty"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth reports the state of storage, dedupe and messaging.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Checks:  make(map[string]ComponentHealth),
	}
	critical, degraded := false, false

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			critical = true
			resp.Checks["storage"] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
			h.logger.Error("storage health check failed", zap.Error(err))
		} else {
			resp.Checks["storage"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.dedupe != nil {
		if err := h.dedupe.Ping(ctx); err != nil {
			degraded = true
			resp.Checks["dedupe"] = ComponentHealth{Status: "degraded", Message: err.Error()}
			h.logger.Warn("dedupe health check failed", zap.Error(err))
		} else {
			resp.Checks["dedupe"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.messaging != nil {
		if h.messaging.IsCircuitOpen() {
			degraded = true
			resp.Checks["messaging"] = ComponentHealth{
				Status:  "degraded",
				Message: "circuit breaker open - outbound messages are failing fast",
			}
		} else {
			resp.Checks["messaging"] = ComponentHealth{Status: "healthy"}
		}
	}

	status := http.StatusOK
	switch {
	case critical:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
	}
	writeJSON(w, r, status, resp, h.logger)
}

// HandleReadiness fails while draining or when storage is unreachable.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.draining != nil && h.draining() {
		writeText(w, http.StatusServiceUnavailable, "draining", h.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Error("readiness check failed", zap.Error(err))
			writeText(w, http.StatusServiceUnavailable, "not ready", h.logger)
			return
		}
	}
	writeText(w, http.StatusOK, "ready", h.logger)
}

// HandleLiveness confirms the process is running.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "alive", h.logger)
}
