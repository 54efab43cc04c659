// Package logging builds the zap logger used across the service and
// exposes its level for runtime adjustment.
package logging

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with a runtime-adjustable level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config holds configuration for logger initialization.
type Config struct {
	// Level is the initial log level (debug, info, warn, error)
	Level string
	// Format is the output format (json, console)
	Format string
	// Environment is the deployment environment (development, production)
	Environment string
}

// DefaultConfig returns defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Environment: "development",
	}
}

// New creates a Logger writing to stderr.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if cfg.Environment == "production" {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel)

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.Environment == "development" {
		opts = append(opts, zap.Development())
	}

	return &Logger{
		Logger: zap.New(core, opts...),
		level:  atomicLevel,
	}, nil
}

// ParseLevel parses a level string into a zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown level: %q", level)
	}
}

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	previous := l.level.Level()
	l.level.SetLevel(parsed)
	l.Info("log level changed",
		zap.Stringer("new_level", parsed),
		zap.Stringer("previous_level", previous),
	)
	return nil
}

// Level returns the current log level name.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

type levelResponse struct {
	Level string `json:"level"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP reports the level on GET and changes it on PUT or POST
// (?level=debug or form value "level").
func (l *Logger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(levelResponse{Level: l.Level()})

	case http.MethodPut, http.MethodPost:
		newLevel := r.URL.Query().Get("level")
		if newLevel == "" {
			if err := r.ParseForm(); err == nil {
				newLevel = r.FormValue("level")
			}
		}
		if newLevel == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(levelResponse{Level: l.Level(), Error: "level parameter required"})
			return
		}
		if err := l.SetLevel(newLevel); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(levelResponse{Level: l.Level(), Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(levelResponse{Level: l.Level()})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(levelResponse{Level: l.Level(), Error: "method not allowed"})
	}
}

// Named returns a named child logger sharing the same level.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), level: l.level}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

// Phone returns a zap field with the phone number masked, keeping the
// channel prefix and the last four digits.
func Phone(key, phone string) zap.Field {
	return zap.String(key, MaskPhone(phone))
}

// MaskPhone masks a messaging address such as "whatsapp:+5215512345678".
func MaskPhone(phone string) string {
	prefix := ""
	if i := strings.LastIndex(phone, ":"); i >= 0 {
		prefix, phone = phone[:i+1], phone[i+1:]
	}
	if len(phone) <= 4 {
		return prefix + "****"
	}
	return prefix + strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
