package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestTracer(step time.Duration) (*QueryTracer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr := NewQueryTracer(nil, zap.New(core))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	tr.now = func() time.Time {
		calls++
		if calls%2 == 0 {
			return base.Add(step)
		}
		return base
	}
	return tr, logs
}

func TestQueryTracer_Levels(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		err      error
		message  string
		level    zapcore.Level
	}{
		{"fast query is silent", 5 * time.Millisecond, nil, "", 0},
		{"slow query warns", 150 * time.Millisecond, nil, "slow query detected", zapcore.WarnLevel},
		{"very slow query errors", time.Second, nil, "very slow query detected", zapcore.ErrorLevel},
		{"failure errors", time.Millisecond, errors.New("boom"), "query failed", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, logs := newTestTracer(tt.duration)
			ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT data FROM blobs WHERE key = $1"})
			tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: tt.err})

			if tt.message == "" {
				if logs.Len() != 0 {
					t.Errorf("expected no logs, got %d", logs.Len())
				}
				return
			}
			entries := logs.FilterMessage(tt.message).All()
			if len(entries) != 1 {
				t.Fatalf("expected one %q entry, got %d", tt.message, len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %v, expected %v", entries[0].Level, tt.level)
			}
		})
	}
}

func TestTruncateSQL(t *testing.T) {
	if got := truncateSQL("SELECT 1", 100); got != "SELECT 1" {
		t.Errorf("short SQL changed: %q", got)
	}
	if got := truncateSQL("SELECT data FROM blobs", 10); got != "SELECT ..." {
		t.Errorf("truncateSQL() = %q", got)
	}
}
