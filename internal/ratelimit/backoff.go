// Package ratelimit paces and retries calls to the messaging provider.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig configures exponential backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Jitter is a fraction of the delay, 0.2 = +/- 20%.
	Jitter float64
	// RetryableStatusCodes lists HTTP statuses worth retrying. Other
	// statuses carried by a RetryableError fail immediately.
	RetryableStatusCodes []int
	// RespectRetryAfter honors the Retry-After header if present.
	RespectRetryAfter bool
}

// DefaultBackoffConfig returns the defaults used for outbound messages.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   3,
		Jitter:       0.2,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
		RespectRetryAfter: true,
	}
}

// Errors for backoff.
var (
	ErrMaxRetriesExhausted = errors.New("maximum retries exhausted")
	ErrNotRetryable        = errors.New("error is not retryable")
)

// RetryableError carries the HTTP status of a failed attempt.
type RetryableError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// BackoffStats tracks retry statistics.
type BackoffStats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	TotalRetries      int64         `json:"total_retries"`
	SuccessfulRetries int64         `json:"successful_retries"`
	ExhaustedRetries  int64         `json:"exhausted_retries"`
	TotalDelayTime    time.Duration `json:"total_delay_time"`
}

// Backoff provides exponential backoff retry logic.
type Backoff struct {
	config *BackoffConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats BackoffStats
}

// NewBackoff creates a new Backoff instance.
func NewBackoff(config *BackoffConfig, logger *zap.Logger) *Backoff {
	if config == nil {
		config = DefaultBackoffConfig()
	}
	return &Backoff{config: config, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails permanently or retries run out.
func Do[T any](ctx context.Context, b *Backoff, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		b.mu.Lock()
		b.stats.TotalAttempts++
		b.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				b.mu.Lock()
				b.stats.SuccessfulRetries++
				b.mu.Unlock()
				b.logger.Info("operation succeeded after retry", zap.Int("attempts", attempt+1))
			}
			return result, nil
		}

		if !b.retryable(err) {
			return zero, fmt.Errorf("%w: %w", ErrNotRetryable, err)
		}
		if attempt >= b.config.MaxRetries {
			b.mu.Lock()
			b.stats.ExhaustedRetries++
			b.mu.Unlock()
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExhausted, attempt+1, err)
		}

		delay := b.delay(err, attempt)
		b.mu.Lock()
		b.stats.TotalRetries++
		b.stats.TotalDelayTime += delay
		b.mu.Unlock()

		b.logger.Warn("operation failed, retrying with backoff",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := b.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func (b *Backoff) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return slices.Contains(b.config.RetryableStatusCodes, re.StatusCode)
	}
	// Transport errors carry no status and are retried.
	return true
}

func (b *Backoff) delay(err error, attempt int) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) && b.config.RespectRetryAfter && re.RetryAfter > 0 {
		return min(re.RetryAfter, b.config.MaxDelay)
	}

	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt))
	if b.config.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.config.Jitter
	}
	return min(time.Duration(d), b.config.MaxDelay)
}

// Stats returns current backoff statistics.
func (b *Backoff) Stats() BackoffStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
