// Package circuitbreaker guards calls to the LLM and messaging providers so
// an outage fails fast instead of stalling every inbound webhook.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/clock"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // requests go through
	StateHalfOpen              // probing recovery
	StateOpen                  // requests fail fast
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by the circuit breaker.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxRequests caps concurrent probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the defaults used for provider clients.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// StateListener is notified after every state transition.
type StateListener func(name string, from, to State)

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu sync.Mutex

	name     string
	config   *Config
	clock    clock.Clock
	logger   *zap.Logger
	listener StateListener

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	openedAt             time.Time

	totalRequests int64
	totalFailures int64
	totalRejected int64
	lastError     error
}

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateListener registers a callback for state transitions.
func WithStateListener(l StateListener) Option {
	return func(cb *CircuitBreaker) { cb.listener = l }
}

// New creates a new circuit breaker.
func New(name string, config *Config, logger *zap.Logger, opts ...Option) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		clock:  clock.New(),
		logger: logger,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as a provider failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateOpen:
		if cb.clock.Since(cb.openedAt) < cb.config.OpenTimeout {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenRequests = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			cb.totalRejected++
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !countsAsFailure(err) {
		if err == nil {
			cb.recordSuccess()
		}
		return
	}

	cb.totalFailures++
	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastError = err

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.name),
				zap.Error(err),
			)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit breaker reopened from half-open",
			zap.String("name", cb.name),
			zap.Error(err),
		)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed", zap.String("name", cb.name))
	} else if cb.state == StateHalfOpen {
		cb.halfOpenRequests--
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next State) {
	prev := cb.state
	cb.state = next
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0
	if next == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	if cb.listener != nil && prev != next {
		cb.listener(cb.name, prev, next)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds circuit breaker statistics.
type Stats struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	TotalRequests int64  `json:"total_requests"`
	TotalFailures int64  `json:"total_failures"`
	TotalRejected int64  `json:"total_rejected"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:          cb.name,
		State:         cb.state.String(),
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		TotalRejected: cb.totalRejected,
	}
	if cb.lastError != nil {
		s.LastError = cb.lastError.Error()
	}
	return s
}

// Reset forces the circuit breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.lastError = nil
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
