// Package ai talks to the language model providers and builds the sales
// assistant's prompts.
package ai

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/circuitbreaker"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Roles of a chat turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one chat message.
type Turn struct {
	Role    string
	Content string
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

// ChatModel completes a chat.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Provider() string
}

// Transcriber turns an audio stream into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// guard runs provider calls through a circuit breaker and records metrics.
type guard struct {
	provider string
	cb       *circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func newGuard(provider string, m *metrics.Metrics, logger *zap.Logger) guard {
	cb := circuitbreaker.New(provider, circuitbreaker.DefaultConfig(), logger,
		circuitbreaker.WithStateListener(func(name string, _, to circuitbreaker.State) {
			m.SetCircuitBreakerState(name, int(to))
		}),
	)
	return guard{provider: provider, cb: cb, metrics: m, logger: logger}
}

func (g guard) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := g.cb.Execute(ctx, fn)
	switch {
	case err == nil:
		g.metrics.RecordLLMCall(g.provider, true, time.Since(start))
		return nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		g.metrics.RecordCircuitOpen(g.provider)
		return apperrors.Wrap(err, op, apperrors.CodeCircuitOpen, g.provider+" circuit open")
	default:
		g.metrics.RecordLLMCall(g.provider, false, time.Since(start))
		g.logger.Warn("llm call failed", zap.String("provider", g.provider), zap.String("op", op), zap.Error(err))
		return apperrors.LLMError(g.provider, err)
	}
}

// Stats exposes the breaker for health reporting.
func (g guard) Stats() circuitbreaker.Stats {
	return g.cb.Stats()
}
