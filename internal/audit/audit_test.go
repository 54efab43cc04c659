package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// getFieldMap extracts field values from a log entry into a map.
func getFieldMap(fields []zapcore.Field) map[string]any {
	result := make(map[string]any)
	for _, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			result[f.Key] = f.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			result[f.Key] = f.Integer
		case zapcore.TimeType:
			result[f.Key] = time.Unix(0, f.Integer).In(f.Interface.(*time.Location))
		case zapcore.ByteStringType:
			result[f.Key] = string(f.Interface.([]byte))
		default:
			result[f.Key] = f.Interface
		}
	}
	return result
}

func newObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLogger(zap.New(core)), logs
}

func TestLogger_Log_SetsDefaults(t *testing.T) {
	l, logs := newObserved(zap.InfoLevel)
	event := &Event{Type: EventConsoleCommand, Severity: SeverityInfo, Action: "reporte", Outcome: "success"}

	l.Log(context.Background(), event)

	if event.ID == "" {
		t.Error("event ID should be set automatically")
	}
	if event.Timestamp.IsZero() {
		t.Error("event timestamp should be set automatically")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	if logs.All()[0].LoggerName != "audit" {
		t.Errorf("logger name = %q", logs.All()[0].LoggerName)
	}
}

func TestLogger_Log_SeverityLevels(t *testing.T) {
	tests := []struct {
		severity Severity
		want     zapcore.Level
	}{
		{SeverityInfo, zap.InfoLevel},
		{SeverityWarning, zap.WarnLevel},
		{SeverityError, zap.ErrorLevel},
		{SeverityCritical, zap.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			l, logs := newObserved(zap.DebugLevel)
			l.Log(context.Background(), &Event{Type: EventStateReset, Severity: tt.severity})
			if got := logs.All()[0].Level; got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogger_MasksPhones(t *testing.T) {
	l, logs := newObserved(zap.InfoLevel)
	l.LeadPrioritized(context.Background(), "whatsapp:+5215599990000", "whatsapp:+5215512345678")

	fields := getFieldMap(logs.All()[0].Context)
	if fields["actor_id"] != "whatsapp:**********0000" {
		t.Errorf("actor_id = %v", fields["actor_id"])
	}
	if fields["resource_id"] != "whatsapp:**********5678" {
		t.Errorf("resource_id = %v", fields["resource_id"])
	}
	if fields["event_type"] != string(EventLeadPrioritized) {
		t.Errorf("event_type = %v", fields["event_type"])
	}
}

func TestLogger_Helpers(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		log     func(l *Logger)
		want    EventType
		outcome string
	}{
		{"console command", func(l *Logger) { l.ConsoleCommand(ctx, "m", "nombres", "success") }, EventConsoleCommand, "success"},
		{"faq added", func(l *Logger) { l.FAQAdded(ctx, "m", "Torre Mar", "¿Hay alberca?") }, EventFAQAdded, "success"},
		{"task scheduled", func(l *Logger) { l.TaskScheduled(ctx, "m", "whatsapp:+1555", "2026-06-11", "10:00") }, EventTaskScheduled, "success"},
		{"answer rejected", func(l *Logger) { l.AnswerRejected(ctx, "m", "too short") }, EventAnswerRejected, "rejected"},
		{"answer delivered", func(l *Logger) { l.AnswerDelivered(ctx, "m", "whatsapp:+1555", "id") }, EventAnswerDelivered, "success"},
		{"webhook rejected", func(l *Logger) { l.WebhookRejected(ctx, "10.0.0.1", "req-1", "bad From") }, EventWebhookRejected, "rejected"},
		{"state reset", func(l *Logger) { l.StateReset(ctx, "10.0.0.1", "req-1", "success") }, EventStateReset, "success"},
		{"recontact", func(l *Logger) { l.RecontactTriggered(ctx, "10.0.0.1", "req-1", 2) }, EventRecontactTrigger, "success"},
		{"started", func(l *Logger) { l.ServiceStarted(ctx, "dev", "fs") }, EventServiceStarted, "success"},
		{"stopping", func(l *Logger) { l.ServiceStopping(ctx, "signal") }, EventServiceStopping, "initiated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newObserved(zap.DebugLevel)
			tt.log(l)
			if logs.Len() != 1 {
				t.Fatalf("expected 1 entry, got %d", logs.Len())
			}
			fields := getFieldMap(logs.All()[0].Context)
			if fields["event_type"] != string(tt.want) {
				t.Errorf("event_type = %v, want %s", fields["event_type"], tt.want)
			}
			if fields["outcome"] != tt.outcome {
				t.Errorf("outcome = %v, want %s", fields["outcome"], tt.outcome)
			}
		})
	}
}

func TestLogger_MetadataIsJSON(t *testing.T) {
	l, logs := newObserved(zap.InfoLevel)
	l.TaskScheduled(context.Background(), "m", "whatsapp:+1555", "2026-06-11", "")

	fields := getFieldMap(logs.All()[0].Context)
	if fields["metadata"] != `{"date":"2026-06-11","time":""}` {
		t.Errorf("metadata = %v", fields["metadata"])
	}
}
