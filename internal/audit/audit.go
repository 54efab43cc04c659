// Package audit records manager and operator actions for later review.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/logging"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Manager console
	EventConsoleCommand  EventType = "console.command"
	EventLeadPrioritized EventType = "console.lead.prioritized"
	EventFAQAdded        EventType = "console.faq.added"
	EventTaskScheduled   EventType = "console.task.scheduled"
	EventAnswerRejected  EventType = "console.answer.rejected"
	EventAnswerDelivered EventType = "console.answer.delivered"

	// Webhook
	EventWebhookRejected EventType = "webhook.validation.failed"

	// Operator endpoints
	EventStateReset       EventType = "admin.state.reset"
	EventRecontactTrigger EventType = "admin.recontact.triggered"

	// System
	EventServiceStarted  EventType = "system.started"
	EventServiceStopping EventType = "system.stopping"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event represents an audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`

	// ActorID is the manager address, masked before logging.
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"` // "manager", "operator", "system", "webhook"

	SourceIP  string `json:"source_ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	ResourceType string `json:"resource_type,omitempty"` // "lead", "faq", "task"
	ResourceID   string `json:"resource_id,omitempty"`

	Action  string `json:"action"`
	Outcome string `json:"outcome"` // "success", "failure", "rejected"
	Reason  string `json:"reason,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Logger writes audit events to a named zap logger.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new audit logger.
func NewLogger(baseLogger *zap.Logger) *Logger {
	return &Logger{logger: baseLogger.Named("audit")}
}

// Log records an audit event.
func (l *Logger) Log(_ context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	level := zap.InfoLevel
	switch event.Severity {
	case SeverityWarning:
		level = zap.WarnLevel
	case SeverityError, SeverityCritical:
		level = zap.ErrorLevel
	}

	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.Time("audit_timestamp", event.Timestamp),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.String("action", event.Action),
		zap.String("outcome", event.Outcome),
	}
	optional := []struct{ key, value string }{
		{"actor_type", event.ActorType},
		{"source_ip", event.SourceIP},
		{"request_id", event.RequestID},
		{"resource_type", event.ResourceType},
		{"reason", event.Reason},
	}
	for _, f := range optional {
		if f.value != "" {
			fields = append(fields, zap.String(f.key, f.value))
		}
	}
	if event.ActorID != "" {
		fields = append(fields, logging.Phone("actor_id", event.ActorID))
	}
	if event.ResourceID != "" {
		if event.ResourceType == "lead" {
			fields = append(fields, logging.Phone("resource_id", event.ResourceID))
		} else {
			fields = append(fields, zap.String("resource_id", event.ResourceID))
		}
	}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			data = []byte(`{"error":"failed to marshal metadata"}`)
		}
		fields = append(fields, zap.ByteString("metadata", data))
	}

	if ce := l.logger.Check(level, "audit event"); ce != nil {
		ce.Write(fields...)
	}
}

// ConsoleCommand logs a parsed manager command.
func (l *Logger) ConsoleCommand(ctx context.Context, manager, command, outcome string) {
	l.Log(ctx, &Event{
		Type:      EventConsoleCommand,
		Severity:  SeverityInfo,
		ActorID:   manager,
		ActorType: "manager",
		Action:    command,
		Outcome:   outcome,
	})
}

// LeadPrioritized logs a lead marked as priority.
func (l *Logger) LeadPrioritized(ctx context.Context, manager, lead string) {
	l.Log(ctx, &Event{
		Type:         EventLeadPrioritized,
		Severity:     SeverityInfo,
		ActorID:      manager,
		ActorType:    "manager",
		ResourceType: "lead",
		ResourceID:   lead,
		Action:       "mark lead priority",
		Outcome:      "success",
	})
}

// FAQAdded logs a manager-authored FAQ entry.
func (l *Logger) FAQAdded(ctx context.Context, manager, project, question string) {
	l.Log(ctx, &Event{
		Type:         EventFAQAdded,
		Severity:     SeverityInfo,
		ActorID:      manager,
		ActorType:    "manager",
		ResourceType: "faq",
		ResourceID:   project,
		Action:       "add faq",
		Outcome:      "success",
		Metadata:     map[string]any{"question": question},
	})
}

// TaskScheduled logs a follow-up task assigned through the console.
func (l *Logger) TaskScheduled(ctx context.Context, manager, lead, date, at string) {
	l.Log(ctx, &Event{
		Type:         EventTaskScheduled,
		Severity:     SeverityInfo,
		ActorID:      manager,
		ActorType:    "manager",
		ResourceType: "lead",
		ResourceID:   lead,
		Action:       "schedule call",
		Outcome:      "success",
		Metadata:     map[string]any{"date": date, "time": at},
	})
}

// AnswerRejected logs a manager reply that could not answer a pending
// question.
func (l *Logger) AnswerRejected(ctx context.Context, manager, reason string) {
	l.Log(ctx, &Event{
		Type:      EventAnswerRejected,
		Severity:  SeverityWarning,
		ActorID:   manager,
		ActorType: "manager",
		Action:    "answer pending question",
		Outcome:   "rejected",
		Reason:    reason,
	})
}

// AnswerDelivered logs a manager answer relayed to a lead.
func (l *Logger) AnswerDelivered(ctx context.Context, manager, lead, pendingID string) {
	l.Log(ctx, &Event{
		Type:         EventAnswerDelivered,
		Severity:     SeverityInfo,
		ActorID:      manager,
		ActorType:    "manager",
		ResourceType: "lead",
		ResourceID:   lead,
		Action:       "answer pending question",
		Outcome:      "success",
		Metadata:     map[string]any{"pending_id": pendingID},
	})
}

// WebhookRejected logs an inbound payload that failed validation.
func (l *Logger) WebhookRejected(ctx context.Context, ip, requestID, reason string) {
	l.Log(ctx, &Event{
		Type:      EventWebhookRejected,
		Severity:  SeverityWarning,
		ActorType: "webhook",
		SourceIP:  ip,
		RequestID: requestID,
		Action:    "validate inbound message",
		Outcome:   "rejected",
		Reason:    reason,
	})
}

// StateReset logs an operator reload of the conversation state.
func (l *Logger) StateReset(ctx context.Context, ip, requestID, outcome string) {
	l.Log(ctx, &Event{
		Type:      EventStateReset,
		Severity:  SeverityWarning,
		ActorType: "operator",
		SourceIP:  ip,
		RequestID: requestID,
		Action:    "reset conversation state",
		Outcome:   outcome,
	})
}

// RecontactTriggered logs a manual recontact pass.
func (l *Logger) RecontactTriggered(ctx context.Context, ip, requestID string, sent int) {
	l.Log(ctx, &Event{
		Type:      EventRecontactTrigger,
		Severity:  SeverityInfo,
		ActorType: "operator",
		SourceIP:  ip,
		RequestID: requestID,
		Action:    "run recontact pass",
		Outcome:   "success",
		Metadata:  map[string]any{"sent": sent},
	})
}

// ServiceStarted logs service startup.
func (l *Logger) ServiceStarted(ctx context.Context, version, blobBackend string) {
	l.Log(ctx, &Event{
		Type:      EventServiceStarted,
		Severity:  SeverityInfo,
		ActorType: "system",
		Action:    "service started",
		Outcome:   "success",
		Metadata:  map[string]any{"version": version, "blob_backend": blobBackend},
	})
}

// ServiceStopping logs service shutdown initiation.
func (l *Logger) ServiceStopping(ctx context.Context, reason string) {
	l.Log(ctx, &Event{
		Type:      EventServiceStopping,
		Severity:  SeverityInfo,
		ActorType: "system",
		Action:    "service stopping",
		Outcome:   "initiated",
		Reason:    reason,
	})
}
