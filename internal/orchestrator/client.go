package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/ai"
	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/escalation"
	"github.com/jkindrix/leadconcierge/internal/intent"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/negotiation"
	"github.com/jkindrix/leadconcierge/internal/qualification"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Client handles messages from leads.
type Client struct {
	policy     config.PolicyConfig
	store      *conversation.Store
	knowledge  Knowledge
	classifier *intent.Classifier
	qualifier  *qualification.Machine
	negotiator *negotiation.Policy
	responder  *ai.Responder
	escalation *escalation.Loop
	outbox     *Outbox
	clock      clock.Clock
	metrics    *metrics.Metrics
	events     *metrics.BusinessEventLogger
	logger     *zap.Logger
}

// Role implements RoleHandler.
func (c *Client) Role() Role { return RoleClient }

// Handle records the inbound, decides the reply, sends it and saves.
func (c *Client) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	now := c.clock.Now()
	phone := in.From
	conv, created := c.store.GetOrCreate(phone, now)
	if created {
		c.store.Record(domain.EventNewClient, phone, now)
		c.events.LeadCreated(ctx, phone, in.ProfileName)
	}

	if err := c.store.AppendHistory(ctx, phone, domain.Inbound, in.Text, now); err != nil {
		c.logger.Warn("history append failed", logging.Phone("phone", phone), zap.Error(err))
	}
	conv.Lead.LastInbound = now
	conv.ResetRecontact()

	reply, status := c.decide(ctx, conv, in, now)
	if reply != "" {
		if err := c.outbox.ToLead(ctx, conv, reply); err != nil {
			c.logger.Error("reply not delivered", logging.Phone("phone", phone), zap.Error(err))
			status = StatusDeliveryFailed
		}
	}

	if err := c.store.SaveOne(ctx, phone); err != nil {
		c.logger.Error("state save failed", logging.Phone("phone", phone), zap.Error(err))
	}
	return Outcome{Role: RoleClient, Status: status, Reply: reply}, nil
}

// decide picks the reply. Order: pending question, opt-out, opening
// script, offer, close, meeting, downloads, FAQ, LLM.
func (c *Client) decide(ctx context.Context, conv *domain.Conversation, in Inbound, now time.Time) (string, Status) {
	if conv.Pending != nil {
		ack, _, err := c.escalation.Waiting(ctx, conv)
		if err != nil {
			c.logger.Warn("manager reminder failed", zap.Error(err))
		}
		return ack, StatusWaiting
	}

	res := c.classifier.Classify(in.Text)
	qin := qualification.Input{Text: in.Text, ProfileName: in.ProfileName, Intent: res}
	qualification.Volunteer(conv, qin)
	c.noteProject(conv, res)

	if res.Has(intent.TagNotInterested) {
		return c.optOut(ctx, conv, now), StatusDisinterested
	}
	conv.Lead.Disinterested = false

	if step := c.qualifier.Step(conv, qin); step.Handled {
		return step.Reply, StatusQualifying
	}

	_, budgetGiven := res.Field(intent.FieldBudget)
	if offer, ok := res.First(intent.TagOffer); ok && !budgetGiven {
		return c.negotiate(ctx, conv, offer.Amount, now), StatusNegotiation
	}
	if res.Has(intent.TagClose) {
		return c.close(ctx, conv, now), StatusClosing
	}
	if res.Has(intent.TagMeetingRequest) {
		return c.meeting(ctx, conv, in.Text, now), StatusMeeting
	}
	if res.Has(intent.TagDownloadRequest) {
		if reply := c.downloads(conv); reply != "" {
			return reply, StatusDownload
		}
	}

	answer, hit := c.knowledge.GetFAQ(in.Text, conv.Project())
	c.metrics.RecordFAQLookup(hit)
	if hit {
		return answer, StatusFAQ
	}

	if onlyFree(res) && conv.Project() == "" && looksLikeQuestion(in.Text) {
		return c.escalate(ctx, conv, in.Text), StatusEscalated
	}
	return c.answer(ctx, conv, in.Text)
}

// noteProject moves the focus to a mentioned project.
func (c *Client) noteProject(conv *domain.Conversation, res intent.Result) {
	p, ok := res.Project()
	if !ok {
		return
	}
	conv.LastProject = p
	conv.Lead.Project = p
	conv.Lead.BumpInterest(c.policy.ProjectInterest)
	if conv.Lead.Stage == domain.StageProspecting || conv.Lead.Stage == domain.StageQualification {
		conv.Lead.Stage = domain.StageNegotiation
	}
}

func (c *Client) optOut(ctx context.Context, conv *domain.Conversation, now time.Time) string {
	if !conv.Lead.Disinterested {
		conv.Lead.Disinterested = true
		c.store.Record(domain.EventDisinterested, conv.Lead.Phone, now)
		c.events.LeadDisinterested(ctx, conv.Lead.Phone, "lead opted out")
	}
	return Goodbye
}

func (c *Client) negotiate(ctx context.Context, conv *domain.Conversation, offer int64, now time.Time) string {
	project, _ := c.knowledge.GetProject(conv.Project())
	d := c.negotiator.Evaluate(&conv.Lead, project, offer, conv.LastBotMessage())
	c.negotiator.Apply(&conv.Lead, d)

	c.store.Record(domain.EventOffer, conv.Lead.Phone, now)
	c.metrics.RecordNegotiation(d.Outcome.Label())
	c.events.OfferEvaluated(ctx, conv.Lead.Phone, conv.Project(), string(d.Outcome), d.Offer, d.MinPrice)
	return d.Reply
}

func (c *Client) close(ctx context.Context, conv *domain.Conversation, now time.Time) string {
	lead := &conv.Lead
	lead.Stage = domain.StageClosing
	lead.BumpInterest(c.policy.CloseInterest)
	c.store.Record(domain.EventClose, lead.Phone, now)
	c.events.LeadClosed(ctx, lead.Phone, conv.Project())

	msg := fmt.Sprintf("🎉 %s (%s) quiere cerrar", lead.DisplayName(), lead.Phone)
	if p := conv.Project(); p != "" {
		msg += " en " + p
	}
	if err := c.outbox.ToManagers(ctx, msg+"."); err != nil {
		c.logger.Warn("close notice not delivered", zap.Error(err))
	}
	return CloseReply
}

func (c *Client) meeting(ctx context.Context, conv *domain.Conversation, text string, now time.Time) string {
	conv.Zoom = &domain.Meeting{RequestedAt: now, Details: text}
	conv.Lead.BumpInterest(c.policy.ProjectInterest)

	msg := fmt.Sprintf("📅 %s (%s) solicita un Zoom: %s", conv.Lead.DisplayName(), conv.Lead.Phone, text)
	if err := c.outbox.ToManagers(ctx, msg); err != nil {
		c.logger.Warn("meeting notice not delivered", zap.Error(err))
	}
	return MeetingReply
}

func (c *Client) downloads(conv *domain.Conversation) string {
	project := conv.Project()
	files := c.knowledge.Downloads(project)
	if len(files) == 0 {
		return ""
	}
	lines := []string{fmt.Sprintf(DownloadsIntro, project)}
	for _, f := range files {
		lines = append(lines, f.Name+": "+f.URL)
	}
	return strings.Join(lines, "\n")
}

func (c *Client) answer(ctx context.Context, conv *domain.Conversation, text string) (string, Status) {
	project, _ := c.knowledge.GetProject(conv.Project())
	resp, err := c.responder.Respond(ctx, ai.Request{
		Conversation: conv,
		Project:      project,
		Downloads:    c.knowledge.Downloads(conv.Project()),
		Inbound:      text,
	})
	if err != nil {
		c.logger.Error("llm reply failed", logging.Phone("phone", conv.Lead.Phone), zap.Error(err))
		return resp.Text, StatusLLMError
	}
	if resp.Escalate {
		return c.escalate(ctx, conv, text), StatusEscalated
	}
	if strings.TrimSpace(resp.Text) == "" {
		return ai.Apology, StatusLLMError
	}
	return resp.Text, StatusLLM
}

func (c *Client) escalate(ctx context.Context, conv *domain.Conversation, question string) string {
	ack, err := c.escalation.Escalate(ctx, conv, question)
	if err != nil {
		c.logger.Error("manager notification failed", logging.Phone("phone", conv.Lead.Phone), zap.Error(err))
	}
	return ack
}

// onlyFree reports whether no specific intent fired.
func onlyFree(res intent.Result) bool {
	for _, m := range res.Matches {
		if m.Tag != intent.TagFree {
			return false
		}
	}
	return true
}

var questionOpeners = []string{
	"que ", "cual", "cuando", "como ", "donde", "cuanto", "cuanta", "hay ", "tiene",
	"tienen", "aceptan", "puedo", "se puede", "quien", "por que", "what", "how", "when", "where", "is there", "do you",
}

// looksLikeQuestion reports whether text reads as a question.
func looksLikeQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	key := textnorm.Simplify(strings.TrimLeft(text, "¿¡ "))
	for _, w := range questionOpeners {
		if strings.HasPrefix(key, w) {
			return true
		}
	}
	return false
}
