package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/audit"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/middleware"
	"github.com/jkindrix/leadconcierge/internal/orchestrator"
	"github.com/jkindrix/leadconcierge/internal/sanitize"
	"github.com/jkindrix/leadconcierge/internal/webhook"
)

// InboundProcessor handles one inbound WhatsApp message.
type InboundProcessor interface {
	Handle(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outcome, error)
}

// WebhookHandler receives Twilio WhatsApp webhooks.
type WebhookHandler struct {
	processor InboundProcessor
	verifier  *webhook.Verifier
	audit     *audit.Logger
	sanitizer *sanitize.Sanitizer
	timeout   time.Duration
	logger    *zap.Logger
}

// WebhookHandlerConfig holds configuration for WebhookHandler.
type WebhookHandlerConfig struct {
	Processor InboundProcessor
	// Verifier checks X-Twilio-Signature; nil disables the check.
	Verifier *webhook.Verifier
	Audit    *audit.Logger
	// Timeout bounds the processing of one message. Zero means no bound
	// beyond the server's write timeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler with all required dependencies.
func NewWebhookHandler(cfg WebhookHandlerConfig) *WebhookHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	if cfg.Processor == nil {
		panic("processor is required")
	}
	return &WebhookHandler{
		processor: cfg.Processor,
		verifier:  cfg.Verifier,
		audit:     cfg.Audit,
		sanitizer: sanitize.NewDefault(),
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// HandleWhatsApp processes one inbound message. It answers 400 for a
// malformed form, 403 for a bad signature, the error's status on failure and
// 200 with the handling status otherwise. Replies go out through the
// messaging API, not the response body.
func (h *WebhookHandler) HandleWhatsApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerWithCorrelation(ctx, h.logger)
	requestID := middleware.GetRequestID(ctx)

	msg, err := webhook.ParseInbound(r)
	if err != nil {
		logger.Warn("unreadable webhook form", zap.Error(err))
		h.reject(ctx, r, "unreadable form")
		writeText(w, http.StatusBadRequest, "bad request", h.logger)
		return
	}

	if h.verifier != nil && !h.verifier.Valid(r) {
		logger.Warn("webhook signature rejected", zap.Any("headers", h.sanitizer.Headers(r.Header)))
		h.reject(ctx, r, "invalid signature")
		writeText(w, http.StatusForbidden, "forbidden", h.logger)
		return
	}

	if errs := msg.Validate(); errs.HasErrors() {
		logger.Warn("invalid webhook payload",
			zap.String("errors", errs.Error()),
			zap.Any("form", h.sanitizer.Form(r.PostForm)),
		)
		h.reject(ctx, r, errs.Error())
		writeText(w, http.StatusBadRequest, errs.Error(), h.logger)
		return
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out, err := h.processor.Handle(ctx, orchestrator.Inbound{
		From:        msg.From,
		Body:        msg.Body,
		ProfileName: msg.ProfileName,
		MessageSID:  msg.MessageSID,
		NumMedia:    msg.NumMedia,
		MediaURL:    msg.MediaURL,
		MediaType:   msg.MediaType,
	})
	if err != nil {
		logger.Error("inbound processing failed",
			logging.Phone("from", msg.From),
			zap.String("message_sid", msg.MessageSID),
			zap.String("code", string(apperrors.GetCode(err))),
			zap.String("error", h.sanitizer.Error(err)),
		)
		writeText(w, apperrors.GetHTTPStatus(err), "error", h.logger)
		return
	}

	logger.Info("inbound processed",
		logging.Phone("from", msg.From),
		zap.String("message_sid", msg.MessageSID),
		zap.String("role", string(out.Role)),
		zap.String("status", string(out.Status)),
		zap.String("request_id", requestID),
	)
	writeText(w, http.StatusOK, string(out.Status), h.logger)
}

func (h *WebhookHandler) reject(ctx context.Context, r *http.Request, reason string) {
	if h.audit != nil {
		h.audit.WebhookRejected(ctx, clientIP(r), middleware.GetRequestID(ctx), reason)
	}
}
