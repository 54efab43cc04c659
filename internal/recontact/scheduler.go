// Package recontact reminds and follows up with leads that went silent.
package recontact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/middleware"
)

// Sender delivers a message to a lead and records it in the conversation.
type Sender interface {
	ToLead(ctx context.Context, conv *domain.Conversation, text string) error
}

// Result counts what one pass did.
type Result struct {
	Reminders int `json:"reminders"`
	FollowUps int `json:"follow_ups"`
	Exhausted int `json:"exhausted"`
	Failed    int `json:"failed"`
}

// Sent is the number of messages delivered.
func (r Result) Sent() int { return r.Reminders + r.FollowUps }

// Deps groups the scheduler's collaborators.
type Deps struct {
	Store   *conversation.Store
	Sender  Sender
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Lock serializes passes with inbound handling.
	Lock sync.Locker
}

// Scheduler scans conversations for silent leads.
type Scheduler struct {
	cfg     config.RecontactConfig
	store   *conversation.Store
	sender  Sender
	clock   clock.Clock
	metrics *metrics.Metrics
	events  *metrics.BusinessEventLogger
	logger  *zap.Logger
	lock    sync.Locker

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a scheduler.
func New(cfg config.RecontactConfig, d Deps) *Scheduler {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Lock == nil {
		d.Lock = &sync.Mutex{}
	}
	return &Scheduler{
		cfg:     cfg,
		store:   d.Store,
		sender:  d.Sender,
		clock:   d.Clock,
		metrics: d.Metrics,
		events:  metrics.NewBusinessEventLogger(d.Logger),
		logger:  d.Logger,
		lock:    d.Lock,
	}
}

// Reminder is the two-line nudge sent after the first silent day.
func Reminder(lead *domain.Lead, project string) string {
	return fmt.Sprintf("Hola %s, ¿sigues interesado en %s?\nEstoy aquí para resolver cualquier duda que tengas.",
		greetingName(lead), projectOrDefault(project))
}

// FollowUp is sent once per follow-up interval after the reminder window.
func FollowUp(lead *domain.Lead, project string) string {
	return fmt.Sprintf("Hola %s, te escribo de nuevo por si quieres retomar lo de %s.\n¿Te gustaría agendar una llamada o un Zoom?",
		greetingName(lead), projectOrDefault(project))
}

func greetingName(l *domain.Lead) string {
	if l.Name == "" {
		return "de nuevo"
	}
	return l.Name
}

func projectOrDefault(p string) string {
	if p == "" {
		return "tu próxima propiedad"
	}
	return p
}

// RunOnce performs one scan over all leads.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var res Result
	var errs []error
	now := s.clock.Now()
	for _, conv := range s.store.Leads() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.visit(ctx, conv, now, &res); err != nil {
			res.Failed++
			errs = append(errs, err)
		}
	}

	s.metrics.RecordRecontact("reminder", res.Reminders)
	s.metrics.RecordRecontact("follow_up", res.FollowUps)
	s.metrics.RecordRecontact("exhausted", res.Exhausted)
	if res.Sent() > 0 || res.Exhausted > 0 {
		middleware.LoggerWithCorrelation(ctx, s.logger).Info("recontact pass",
			zap.Int("reminders", res.Reminders),
			zap.Int("follow_ups", res.FollowUps),
			zap.Int("exhausted", res.Exhausted),
			zap.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(errs...)
}

func (s *Scheduler) visit(ctx context.Context, conv *domain.Conversation, now time.Time, res *Result) error {
	lead := &conv.Lead
	if lead.Disinterested || lead.LastInbound.IsZero() {
		return nil
	}
	silent := now.Sub(lead.LastInbound)

	switch {
	case silent >= s.cfg.ReminderAfter && silent < s.cfg.ReminderBefore:
		if conv.ReminderSent {
			return nil
		}
		if err := s.sender.ToLead(ctx, conv, Reminder(lead, conv.Project())); err != nil {
			return fmt.Errorf("reminder to %s: %w", logging.MaskPhone(lead.Phone), err)
		}
		conv.ReminderSent = true
		res.Reminders++

	case silent >= s.cfg.FollowUpAfter:
		if !conv.NextFollowUp.IsZero() && now.Before(conv.NextFollowUp) {
			return nil
		}
		if conv.RecontactAttempts >= s.cfg.MaxAttempts {
			lead.Disinterested = true
			s.store.Record(domain.EventDisinterested, lead.Phone, now)
			s.events.LeadDisinterested(ctx, lead.Phone, "no reply to follow-ups")
			res.Exhausted++
			break
		}
		if err := s.sender.ToLead(ctx, conv, FollowUp(lead, conv.Project())); err != nil {
			return fmt.Errorf("follow-up to %s: %w", logging.MaskPhone(lead.Phone), err)
		}
		conv.RecontactAttempts++
		conv.NextFollowUp = now.Add(s.cfg.FollowUpInterval)
		res.FollowUps++

	default:
		return nil
	}

	if err := s.store.SaveOne(ctx, lead.Phone); err != nil {
		s.logger.Error("state save failed", logging.Phone("phone", lead.Phone), zap.Error(err))
	}
	return nil
}

// Start runs a pass on every tick until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("recontact scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.logger.Info("starting recontact scheduler", zap.Duration("interval", interval))

	ticker := s.clock.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C():
				passCtx := middleware.WithCorrelationID(ctx, middleware.NewCorrelationID())
				if _, err := s.RunOnce(passCtx); err != nil && ctx.Err() == nil {
					middleware.LoggerWithCorrelation(passCtx, s.logger).Warn("recontact pass had failures", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for an in-flight pass.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("recontact scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("recontact scheduler stop timed out")
		return ctx.Err()
	}
}
