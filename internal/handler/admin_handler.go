package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/audit"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/middleware"
	"github.com/jkindrix/leadconcierge/internal/recontact"
	"github.com/jkindrix/leadconcierge/internal/sanitize"
)

// Fixed bodies of the liveness routes.
const (
	IndexBody = "Lead concierge is running"
	TestBody  = "Webhook test ok"
)

// StateResetter reloads conversation state from storage.
type StateResetter interface {
	Reset(ctx context.Context) error
}

// RecontactRunner runs one recontact pass.
type RecontactRunner interface {
	RunOnce(ctx context.Context) (recontact.Result, error)
}

// MessageStatusFetcher looks up an outbound message at the provider.
type MessageStatusFetcher interface {
	Status(ctx context.Context, sid string) (*messaging.Message, error)
}

// AdminHandler serves the operational triggers.
type AdminHandler struct {
	state     StateResetter
	recontact RecontactRunner
	messages  MessageStatusFetcher
	audit     *audit.Logger
	sanitizer *sanitize.Sanitizer
	logger    *zap.Logger
}

// AdminHandlerConfig holds configuration for AdminHandler.
type AdminHandlerConfig struct {
	State     StateResetter
	Recontact RecontactRunner
	Messages  MessageStatusFetcher
	Audit     *audit.Logger
	Logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler with all required dependencies.
func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &AdminHandler{
		state:     cfg.State,
		recontact: cfg.Recontact,
		messages:  cfg.Messages,
		audit:     cfg.Audit,
		sanitizer: sanitize.NewDefault(),
		logger:    cfg.Logger,
	}
}

// RegisterRoutes registers the admin routes on the router.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleIndex)
	r.Get("/test", h.HandleTest)
	r.Get("/reset_state", h.HandleResetState)
	r.Get("/schedule_recontact", h.HandleScheduleRecontact)
	r.Get("/admin/messages/{sid}", h.HandleMessageStatus)
}

// HandleIndex answers the root liveness route.
func (h *AdminHandler) HandleIndex(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, IndexBody, h.logger)
}

// HandleTest answers the webhook test route.
func (h *AdminHandler) HandleTest(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, TestBody, h.logger)
}

// HandleResetState drops in-memory conversations and reloads the stored
// snapshot.
func (h *AdminHandler) HandleResetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.state == nil {
		writeError(w, r, http.StatusServiceUnavailable, "state reset not configured", h.logger)
		return
	}
	err := h.state.Reset(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if h.audit != nil {
		h.audit.StateReset(ctx, clientIP(r), middleware.GetRequestID(ctx), outcome)
	}
	if err != nil {
		h.logger.Error("state reset failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, h.sanitizer.Error(err), h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "reset"}, h.logger)
}

// HandleScheduleRecontact runs one recontact pass and reports the counts.
func (h *AdminHandler) HandleScheduleRecontact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recontact == nil {
		writeError(w, r, http.StatusServiceUnavailable, "recontact not configured", h.logger)
		return
	}
	res, err := h.recontact.RunOnce(ctx)
	if h.audit != nil {
		h.audit.RecontactTriggered(ctx, clientIP(r), middleware.GetRequestID(ctx), res.Sent())
	}
	if err != nil {
		// Partial passes still report what was sent.
		h.logger.Warn("recontact pass had failures", zap.Error(err))
	}
	writeJSON(w, r, http.StatusOK, res, h.logger)
}

// HandleMessageStatus fetches the delivery state of an outbound message.
func (h *AdminHandler) HandleMessageStatus(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		writeError(w, r, http.StatusServiceUnavailable, "messaging not configured", h.logger)
		return
	}
	sid := chi.URLParam(r, "sid")
	msg, err := h.messages.Status(r.Context(), sid)
	if err != nil {
		h.logger.Warn("message status lookup failed", zap.String("sid", sid), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, h.sanitizer.Error(err), h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"sid":       msg.SID,
		"status":    msg.Status,
		"delivered": msg.Delivered(),
		"error":     msg.ErrorMessage,
	}, h.logger)
}
