package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TracerConfig sets the thresholds for query logging.
type TracerConfig struct {
	// SlowQueryThreshold logs queries at WARN above this duration.
	SlowQueryThreshold time.Duration
	// VerySlowQueryThreshold logs queries at ERROR above this duration.
	VerySlowQueryThreshold time.Duration
}

// DefaultTracerConfig returns the thresholds used for the blob table.
func DefaultTracerConfig() *TracerConfig {
	return &TracerConfig{
		SlowQueryThreshold:     100 * time.Millisecond,
		VerySlowQueryThreshold: 500 * time.Millisecond,
	}
}

// QueryTracer implements pgx.QueryTracer and logs slow or failed queries.
type QueryTracer struct {
	config *TracerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewQueryTracer creates a query tracer.
func NewQueryTracer(cfg *TracerConfig, logger *zap.Logger) *QueryTracer {
	if cfg == nil {
		cfg = DefaultTracerConfig()
	}
	return &QueryTracer{config: cfg, logger: logger.Named("query"), now: time.Now}
}

type traceKey struct{}

type traceData struct {
	start time.Time
	sql   string
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{start: t.now(), sql: data.SQL})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}
	duration := t.now().Sub(td.start)
	fields := []zap.Field{
		zap.String("sql", truncateSQL(td.sql, 300)),
		zap.Duration("duration", duration),
	}

	switch {
	case data.Err != nil:
		t.logger.Error("query failed", append(fields, zap.Error(data.Err))...)
	case duration >= t.config.VerySlowQueryThreshold:
		t.logger.Error("very slow query detected", append(fields, zap.String("command_tag", data.CommandTag.String()))...)
	case duration >= t.config.SlowQueryThreshold:
		t.logger.Warn("slow query detected", append(fields, zap.String("command_tag", data.CommandTag.String()))...)
	}
}

func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen-3] + "..."
}
