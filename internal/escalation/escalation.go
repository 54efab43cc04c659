// Package escalation routes questions the assistant cannot answer to the
// manager and delivers the manager's answer back to the lead.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

// WaitingAck is the lead's reply while a question is pending.
const WaitingAck = "Déjame consultarlo con el gerente y te respondo en cuanto tenga la información."

// ErrNoPending is returned by Resolve when no question is waiting.
var ErrNoPending = errors.New("no pending question")

// Outbox delivers messages on behalf of the loop.
type Outbox interface {
	// ToLead sends text to the lead and records it in the conversation.
	ToLead(ctx context.Context, conv *domain.Conversation, text string) error
	// ToManagers sends text to every manager.
	ToManagers(ctx context.Context, text string) error
}

// Rephraser adjusts the tone of a manager answer.
type Rephraser interface {
	Rephrase(ctx context.Context, question, answer string) (string, error)
}

// FAQWriter persists answered questions.
type FAQWriter interface {
	AddFAQ(ctx context.Context, project, question, answer string) error
}

// Loop is the escalation state machine. Callers serialize access.
type Loop struct {
	cfg       config.EscalationConfig
	store     *conversation.Store
	faq       FAQWriter
	rephraser Rephraser
	outbox    Outbox
	clock     clock.Clock
	metrics   *metrics.Metrics
	events    *metrics.BusinessEventLogger
	logger    *zap.Logger
}

// Deps groups the loop's collaborators.
type Deps struct {
	Store     *conversation.Store
	FAQ       FAQWriter
	Rephraser Rephraser
	Outbox    Outbox
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// New creates a loop.
func New(cfg config.EscalationConfig, d Deps) *Loop {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Loop{
		cfg:       cfg,
		store:     d.Store,
		faq:       d.FAQ,
		rephraser: d.Rephraser,
		outbox:    d.Outbox,
		clock:     d.Clock,
		metrics:   d.Metrics,
		events:    metrics.NewBusinessEventLogger(d.Logger),
		logger:    d.Logger,
	}
}

// Escalate opens a pending question for the lead and notifies the manager.
// A lead that already waits keeps its first question and the new trigger
// is dropped. It returns the acknowledgement to send to the lead.
func (l *Loop) Escalate(ctx context.Context, conv *domain.Conversation, question string) (string, error) {
	if conv.Pending != nil {
		l.metrics.RecordEscalation("dropped")
		return WaitingAck, nil
	}

	now := l.clock.Now()
	conv.Pending = domain.NewPendingQuestion(conv.Lead.Phone, question, conv.Project(), now)
	l.store.Record(domain.EventEscalation, conv.Lead.Phone, now)
	l.metrics.RecordEscalation("created")
	l.events.QuestionEscalated(ctx, conv.Lead.Phone, conv.Pending.ID.String(), conv.Pending.Project)

	if err := l.notify(ctx, conv); err != nil {
		return WaitingAck, err
	}
	return WaitingAck, nil
}

// Waiting handles an inbound from a lead with a pending question. Once the
// delay has passed since the last notification the manager is reminded.
// It reports false when the lead has nothing pending.
func (l *Loop) Waiting(ctx context.Context, conv *domain.Conversation) (string, bool, error) {
	p := conv.Pending
	if p == nil {
		return "", false, nil
	}
	if l.cfg.Delay > 0 && l.clock.Since(p.LastNotifiedAt) >= l.cfg.Delay {
		p.LastNotifiedAt = l.clock.Now()
		l.metrics.RecordEscalation("renotified")
		if err := l.notify(ctx, conv); err != nil {
			return WaitingAck, true, err
		}
	}
	return WaitingAck, true, nil
}

// Resolution describes a delivered manager answer.
type Resolution struct {
	Conversation *domain.Conversation
	Question     string
	Answer       string
	Delivered    string
	FAQStored    bool
}

// Resolve answers the oldest pending question across all leads. The answer
// is rephrased for the lead, falling back to the raw text, and stored as an
// FAQ of the question's project.
func (l *Loop) Resolve(ctx context.Context, answer string) (*Resolution, error) {
	conv := l.store.OldestPending()
	if conv == nil {
		return nil, ErrNoPending
	}
	p := conv.Pending
	answer = strings.TrimSpace(answer)

	text, err := l.rephraser.Rephrase(ctx, p.Question, answer)
	if err != nil || strings.TrimSpace(text) == "" {
		l.logger.Warn("rephrase failed, sending raw answer", zap.Error(err))
		text = answer
	}
	if err := l.outbox.ToLead(ctx, conv, text); err != nil {
		return nil, err
	}

	res := &Resolution{Conversation: conv, Question: p.Question, Answer: answer, Delivered: text}
	if err := l.faq.AddFAQ(ctx, p.Project, p.Question, answer); err != nil {
		l.logger.Error("faq append failed", logging.Phone("phone", conv.Lead.Phone), zap.Error(err))
	} else {
		res.FAQStored = true
	}

	now := l.clock.Now()
	conv.Pending = nil
	l.store.Record(domain.EventAnswer, conv.Lead.Phone, now)
	l.metrics.RecordEscalation("resolved")
	l.events.AnswerDelivered(ctx, conv.Lead.Phone, p.ID.String(), now.Sub(p.CreatedAt), res.FAQStored)

	if err := l.store.SaveOne(ctx, conv.Lead.Phone); err != nil {
		l.logger.Error("state save failed", zap.Error(err))
	}
	return res, nil
}

// Notification renders the three manager messages for a pending question.
func (l *Loop) Notification(conv *domain.Conversation) []string {
	p := conv.Pending
	project := p.Project
	if project == "" {
		project = "sin proyecto"
	}

	question := fmt.Sprintf("❓ %s (%s) pregunta sobre %s:\n%s",
		conv.Lead.DisplayName(), conv.Lead.Phone, project, p.Question)

	var ctxLines []string
	for _, m := range conv.Tail(l.cfg.ContextTurns) {
		speaker := "Cliente"
		if m.Direction == domain.Outbound {
			speaker = "Bot"
		}
		ctxLines = append(ctxLines, speaker+": "+m.Text)
	}
	recent := "Contexto reciente:\n" + strings.Join(ctxLines, "\n")
	if len(ctxLines) == 0 {
		recent = "Contexto reciente: sin mensajes previos."
	}

	cta := "Responde a este mensaje con la respuesta y se la haré llegar al cliente."
	return []string{question, recent, cta}
}

func (l *Loop) notify(ctx context.Context, conv *domain.Conversation) error {
	for _, msg := range l.Notification(conv) {
		if err := l.outbox.ToManagers(ctx, msg); err != nil {
			l.logger.Error("manager notification failed", logging.Phone("phone", conv.Lead.Phone), zap.Error(err))
			return err
		}
	}
	return nil
}
