// Package console interprets manager messages: report commands, lead
// maintenance and answers to escalated questions.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/audit"
	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/escalation"
	"github.com/jkindrix/leadconcierge/internal/report"
)

// Resolver answers the oldest pending question.
type Resolver interface {
	Resolve(ctx context.Context, answer string) (*escalation.Resolution, error)
}

// Knowledge is the FAQ and project catalog used by the console.
type Knowledge interface {
	MatchProject(text string) (string, bool)
	AddFAQ(ctx context.Context, project, question, answer string) error
}

// Deps are the collaborators of the console.
type Deps struct {
	Store     *conversation.Store
	Reporter  *report.Reporter
	Knowledge Knowledge
	Resolver  Resolver
	Clock     clock.Clock
	Audit     *audit.Logger
	Logger    *zap.Logger
	Location  *time.Location
}

// Console handles manager messages.
type Console struct {
	store     *conversation.Store
	reporter  *report.Reporter
	knowledge Knowledge
	resolver  Resolver
	clock     clock.Clock
	audit     *audit.Logger
	logger    *zap.Logger
	loc       *time.Location
	minAnswer int
}

// New creates a console. Answers shorter than minAnswer runes are rejected.
func New(minAnswer int, d Deps) *Console {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if minAnswer <= 0 {
		minAnswer = 5
	}
	return &Console{
		store:     d.Store,
		reporter:  d.Reporter,
		knowledge: d.Knowledge,
		resolver:  d.Resolver,
		clock:     d.Clock,
		audit:     d.Audit,
		logger:    d.Logger,
		loc:       d.Location,
		minAnswer: minAnswer,
	}
}

// Handle interprets one manager message and returns the reply for the
// manager. A non-nil error is returned alongside a reply explaining it.
func (c *Console) Handle(ctx context.Context, manager *domain.Conversation, text string) (string, error) {
	// Bare numbers pick a menu entry unless they could answer a pending question.
	cmd := Parse(text, manager.AwaitingMenu || c.store.OldestPending() == nil)
	manager.AwaitingMenu = false
	phone := manager.Lead.Phone

	if cmd.Usage != "" {
		c.audit.ConsoleCommand(ctx, phone, string(cmd.Kind), "usage")
		return cmd.Usage, nil
	}

	switch cmd.Kind {
	case KindNone:
		return c.answer(ctx, phone, text)
	case KindMenu:
		manager.AwaitingMenu = true
		c.audit.ConsoleCommand(ctx, phone, string(cmd.Kind), "success")
		return MenuText(), nil
	}

	reply, err := c.run(ctx, phone, cmd)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.audit.ConsoleCommand(ctx, phone, string(cmd.Kind), outcome)
	return reply, err
}

func (c *Console) run(ctx context.Context, manager string, cmd Command) (string, error) {
	switch cmd.Kind {
	case KindReport:
		text := c.reporter.InterestReport(report.Filter{Stage: cmd.Stage, Interest: cmd.Interest})
		if _, err := c.reporter.ExportLeads(ctx); err != nil {
			c.logger.Error("lead spreadsheet refresh failed", zap.Error(err))
		}
		return text, nil
	case KindNames:
		return c.reporter.Names(), nil
	case KindDailySummary:
		return c.reporter.DailySummary(c.clock.Now()), nil
	case KindWeeklySummary:
		return c.reporter.WeeklySummary(c.clock.Now()), nil
	case KindPriority:
		return c.markPriority(ctx, manager, cmd.Target)
	case KindCall:
		return c.scheduleCall(ctx, manager, cmd)
	case KindSearch:
		return c.search(cmd.Target), nil
	case KindAddFAQ:
		return c.addFAQ(ctx, manager, cmd)
	case KindExport:
		n, err := c.reporter.ExportLeads(ctx)
		if err != nil {
			return "No pude actualizar la hoja de clientes, intenta más tarde.", err
		}
		return fmt.Sprintf("📁 Hoja de clientes actualizada (%d clientes) en %s.", n, report.ExportKey), nil
	}
	return MenuText(), nil
}

// lookup resolves a phone fragment to exactly one lead.
func (c *Console) lookup(fragment string) (*domain.Conversation, string) {
	matches := c.store.FindByPhone(fragment)
	switch len(matches) {
	case 0:
		return nil, fmt.Sprintf("No encontré ningún cliente con el número %s.", fragment)
	case 1:
		return matches[0], ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hay %d clientes que coinciden con %s, sé más específico:\n", len(matches), fragment)
	for _, m := range matches {
		fmt.Fprintf(&b, "• %s (%s)\n", m.Lead.DisplayName(), m.Lead.Phone)
	}
	return nil, strings.TrimRight(b.String(), "\n")
}

func (c *Console) markPriority(ctx context.Context, manager, target string) (string, error) {
	conv, msg := c.lookup(target)
	if conv == nil {
		return msg, nil
	}
	conv.Lead.Priority = true
	c.audit.LeadPrioritized(ctx, manager, conv.Lead.Phone)
	if err := c.store.SaveOne(ctx, conv.Lead.Phone); err != nil {
		c.logger.Error("state save failed", zap.Error(err))
	}
	return fmt.Sprintf("⭐ %s quedó marcado como prioritario.", conv.Lead.DisplayName()), nil
}

func (c *Console) scheduleCall(ctx context.Context, manager string, cmd Command) (string, error) {
	conv, msg := c.lookup(cmd.Target)
	if conv == nil {
		return msg, nil
	}
	day := c.clock.Now().In(c.loc)
	if cmd.Tomorrow {
		day = day.AddDate(0, 0, 1)
	}
	task := domain.Task{
		ID:     uuid.New(),
		Target: conv.Lead.Phone,
		Action: "Llamar",
		Time:   cmd.Time,
		Date:   day.Format("2006-01-02"),
	}
	conv.Tasks = append(conv.Tasks, task)
	c.audit.TaskScheduled(ctx, manager, conv.Lead.Phone, task.Date, task.Time)
	if err := c.store.SaveOne(ctx, conv.Lead.Phone); err != nil {
		c.logger.Error("state save failed", zap.Error(err))
	}

	reply := fmt.Sprintf("📞 Llamada a %s agendada para el %s", conv.Lead.DisplayName(), task.Date)
	if task.Time != "" {
		reply += " a las " + task.Time
	}
	return reply + ".", nil
}

func (c *Console) search(target string) string {
	matches := c.store.FindByPhone(target)
	if len(matches) == 0 {
		return fmt.Sprintf("No encontré ningún cliente con el número %s.", target)
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, c.reporter.LeadSnapshot(m))
	}
	return strings.Join(blocks, "\n\n")
}

func (c *Console) addFAQ(ctx context.Context, manager string, cmd Command) (string, error) {
	project := strings.TrimSpace(cmd.Project)
	if strings.EqualFold(project, domain.GeneralFAQ) {
		project = domain.GeneralFAQ
	} else if name, ok := c.knowledge.MatchProject(project); ok {
		project = name
	} else {
		return fmt.Sprintf("No conozco el proyecto %q. Usa el nombre del proyecto o \"general\".", project), nil
	}

	if err := c.knowledge.AddFAQ(ctx, project, cmd.Question, cmd.Answer); err != nil {
		return "No pude guardar la FAQ, intenta más tarde.", err
	}
	c.audit.FAQAdded(ctx, manager, project, cmd.Question)
	return fmt.Sprintf("✅ FAQ guardada para %s.", project), nil
}

// answer treats text as the reply to the oldest pending question.
func (c *Console) answer(ctx context.Context, manager, text string) (string, error) {
	pending := c.store.OldestPending()
	if pending == nil {
		return "No hay preguntas pendientes. Escribe \"menu\" para ver los comandos.", nil
	}

	trimmed := strings.TrimSpace(text)
	if IsPleasantry(trimmed) || utf8.RuneCountInString(trimmed) < c.minAnswer {
		c.audit.AnswerRejected(ctx, manager, "not an answer")
		return fmt.Sprintf("¿Es esa la respuesta a la pregunta de %s: %q? Envía una respuesta completa, por favor.",
			pending.Lead.DisplayName(), pending.Pending.Question), nil
	}

	pendingID := pending.Pending.ID.String()
	res, err := c.resolver.Resolve(ctx, trimmed)
	if errors.Is(err, escalation.ErrNoPending) {
		return "No hay preguntas pendientes.", nil
	}
	if err != nil {
		c.audit.AnswerRejected(ctx, manager, "delivery failed")
		return "No pude enviar la respuesta al cliente. La pregunta sigue pendiente, intenta de nuevo.", err
	}
	c.audit.AnswerDelivered(ctx, manager, res.Conversation.Lead.Phone, pendingID)

	reply := fmt.Sprintf("✅ Respuesta enviada a %s.", res.Conversation.Lead.DisplayName())
	if !res.FAQStored {
		reply += " No pude guardarla como FAQ."
	}
	if next := c.store.OldestPending(); next != nil {
		reply += fmt.Sprintf("\nSiguiente pregunta pendiente de %s: %q", next.Lead.DisplayName(), next.Pending.Question)
	}
	return reply, nil
}
