package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/middleware"
)

// RouterConfig collects the handlers mounted by NewRouter.
type RouterConfig struct {
	Webhook *WebhookHandler
	Admin   *AdminHandler
	Health  *HealthHandler
	// LogLevel serves GET/PUT /admin/log-level.
	LogLevel     http.Handler
	Metrics      *metrics.Metrics
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// NewRouter builds the HTTP router with the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	correlation := middleware.NewRequestCorrelation(cfg.Logger)
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodySize
	}

	r := chi.NewRouter()

	// Order matters: correlation IDs first so every later log line has them.
	r.Use(correlation.Middleware)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.BodySizeLimiter(maxBody))

	if cfg.Webhook != nil {
		r.With(middleware.BodySizeLimiterWebhook()).Post("/whatsapp", cfg.Webhook.HandleWhatsApp)
	}
	if cfg.Admin != nil {
		cfg.Admin.RegisterRoutes(r)
	}
	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(r)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.LogLevel != nil {
		r.Handle("/admin/log-level", cfg.LogLevel)
	}
	return r
}
