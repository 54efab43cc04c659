// Package shutdown sequences the graceful stop of the concierge: stop taking
// webhooks, let in-flight conversation turns finish, flush conversation
// state, then close the backing stores.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service represents a component that can be stopped gracefully.
type Service interface {
	Name() string
	Shutdown(ctx context.Context) error
}

type serviceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (s serviceFunc) Name() string                       { return s.name }
func (s serviceFunc) Shutdown(ctx context.Context) error { return s.fn(ctx) }

// Phase orders shutdown work. Services in the same phase stop concurrently.
type Phase int

const (
	// PhaseStopIntake stops the HTTP server from accepting webhooks.
	PhaseStopIntake Phase = iota
	// PhaseDrain stops background workers such as the recontact scheduler.
	PhaseDrain
	// PhaseFlush persists conversation state.
	PhaseFlush
	// PhaseClose closes database, cache and provider connections.
	PhaseClose
)

var phaseOrder = []Phase{PhaseStopIntake, PhaseDrain, PhaseFlush, PhaseClose}

func (p Phase) String() string {
	switch p {
	case PhaseStopIntake:
		return "stop-intake"
	case PhaseDrain:
		return "drain"
	case PhaseFlush:
		return "flush"
	case PhaseClose:
		return "close"
	default:
		return "unknown"
	}
}

// Config holds configuration for the shutdown coordinator.
type Config struct {
	// Timeout is the total time allowed for shutdown.
	Timeout time.Duration
}

// DefaultConfig returns the default timeout.
func DefaultConfig() *Config {
	return &Config{Timeout: 30 * time.Second}
}

// Coordinator runs registered services through the shutdown phases.
type Coordinator struct {
	mu       sync.Mutex
	services map[Phase][]Service
	timeout  time.Duration
	logger   *zap.Logger

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	err          error
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(cfg *Config, logger *zap.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		services:   make(map[Phase][]Service),
		timeout:    cfg.Timeout,
		logger:     logger,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a service to be stopped in the given phase.
func (c *Coordinator) Register(phase Phase, svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[phase] = append(c.services[phase], svc)
	c.logger.Debug("registered service for shutdown",
		zap.String("service", svc.Name()),
		zap.String("phase", phase.String()),
	)
}

// RegisterFunc registers a shutdown function under a name.
func (c *Coordinator) RegisterFunc(phase Phase, name string, fn func(ctx context.Context) error) {
	c.Register(phase, serviceFunc{name: name, fn: fn})
}

// Shutdown starts the shutdown sequence once and waits for it or for ctx.
// It returns the joined errors of every service that failed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
		go c.run()
	})

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownCh is closed as soon as shutdown starts.
func (c *Coordinator) ShutdownCh() <-chan struct{} {
	return c.shutdownCh
}

// Draining reports whether shutdown has started.
func (c *Coordinator) Draining() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	// The caller's context may already be cancelled by the signal that
	// triggered shutdown; every phase still gets the full timeout.
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("starting graceful shutdown", zap.Duration("timeout", c.timeout))

	var errs []error
	for _, phase := range phaseOrder {
		c.mu.Lock()
		services := append([]Service(nil), c.services[phase]...)
		c.mu.Unlock()
		if len(services) == 0 {
			continue
		}

		c.logger.Info("executing shutdown phase",
			zap.String("phase", phase.String()),
			zap.Int("services", len(services)),
		)
		errs = append(errs, c.runPhase(ctx, phase, services)...)

		if ctx.Err() != nil {
			c.logger.Error("shutdown timeout exceeded",
				zap.String("phase", phase.String()),
				zap.Error(ctx.Err()),
			)
			errs = append(errs, ctx.Err())
			break
		}
	}

	c.err = errors.Join(errs...)
	if c.err != nil {
		c.logger.Error("shutdown completed with errors", zap.Int("error_count", len(errs)))
		return
	}
	c.logger.Info("graceful shutdown complete")
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, services []Service) []error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			start := time.Now()
			if err := svc.Shutdown(ctx); err != nil {
				c.logger.Error("service shutdown failed",
					zap.String("service", svc.Name()),
					zap.String("phase", phase.String()),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
				mu.Unlock()
				return nil
			}
			c.logger.Debug("service shutdown complete",
				zap.String("service", svc.Name()),
				zap.String("phase", phase.String()),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
