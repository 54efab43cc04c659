// Package metrics provides metrics collection including business event logging.
package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/logging"
)

// BusinessEventLogger provides structured logging for lead lifecycle events.
// This complements Prometheus metrics with searchable per-lead records.
// A nil *BusinessEventLogger discards everything.
type BusinessEventLogger struct {
	logger *zap.Logger
}

// NewBusinessEventLogger creates a new business event logger.
func NewBusinessEventLogger(logger *zap.Logger) *BusinessEventLogger {
	return &BusinessEventLogger{
		logger: logger.Named("business_events"),
	}
}

// LeadCreated logs the first inbound message from a new phone number.
func (l *BusinessEventLogger) LeadCreated(ctx context.Context, phone, profileName string) {
	if l == nil {
		return
	}
	l.logger.Info("lead_created",
		zap.String("event_type", "lead.created"),
		logging.Phone("phone", phone),
		zap.Bool("has_profile_name", profileName != ""),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// QuestionEscalated logs a question handed to the managers.
func (l *BusinessEventLogger) QuestionEscalated(ctx context.Context, phone, pendingID, project string) {
	if l == nil {
		return
	}
	l.logger.Info("question_escalated",
		zap.String("event_type", "escalation.raised"),
		logging.Phone("phone", phone),
		zap.String("pending_id", pendingID),
		zap.String("project", project),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// AnswerDelivered logs a manager answer relayed to the lead.
func (l *BusinessEventLogger) AnswerDelivered(ctx context.Context, phone, pendingID string, waited time.Duration, faqStored bool) {
	if l == nil {
		return
	}
	l.logger.Info("answer_delivered",
		zap.String("event_type", "escalation.answered"),
		logging.Phone("phone", phone),
		zap.String("pending_id", pendingID),
		zap.Duration("waited", waited),
		zap.Bool("faq_stored", faqStored),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// OfferEvaluated logs the result of a price negotiation step.
func (l *BusinessEventLogger) OfferEvaluated(ctx context.Context, phone, project, outcome string, offer, minPrice int64) {
	if l == nil {
		return
	}
	l.logger.Info("offer_evaluated",
		zap.String("event_type", "negotiation."+outcome),
		logging.Phone("phone", phone),
		zap.String("project", project),
		zap.Int64("offer", offer),
		zap.Int64("min_price", minPrice),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// LeadClosed logs a lead that confirmed the purchase.
func (l *BusinessEventLogger) LeadClosed(ctx context.Context, phone, project string) {
	if l == nil {
		return
	}
	l.logger.Info("lead_closed",
		zap.String("event_type", "lead.closed"),
		logging.Phone("phone", phone),
		zap.String("project", project),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// LeadDisinterested logs a lead marked as not interested.
func (l *BusinessEventLogger) LeadDisinterested(ctx context.Context, phone, reason string) {
	if l == nil {
		return
	}
	l.logger.Info("lead_disinterested",
		zap.String("event_type", "lead.disinterested"),
		logging.Phone("phone", phone),
		zap.String("reason", reason),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// DeliveryFailed logs an outbound message that could not be sent.
func (l *BusinessEventLogger) DeliveryFailed(ctx context.Context, phone string, err error) {
	if l == nil {
		return
	}
	l.logger.Warn("delivery_failed",
		zap.String("event_type", "message.failed"),
		logging.Phone("phone", phone),
		zap.Error(err),
		zap.Time("timestamp", time.Now().UTC()),
	)
}
