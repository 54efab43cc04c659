package orchestrator

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/ai"
	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

// maxManagerChars keeps manager messages under the WhatsApp body limit.
const maxManagerChars = 1500

// Outbox sends messages and records them in the conversation history.
// Lead replies are chunked into short bubbles; manager messages are only
// split when they exceed the provider limit.
type Outbox struct {
	sender   messaging.Sender
	store    *conversation.Store
	managers []string
	maxChars int
	maxLines int
	clock    clock.Clock
	events   *metrics.BusinessEventLogger
	logger   *zap.Logger
}

// NewOutbox creates an outbox.
func NewOutbox(sender messaging.Sender, store *conversation.Store, managers []string, policy config.PolicyConfig, clk clock.Clock, logger *zap.Logger) *Outbox {
	if clk == nil {
		clk = clock.New()
	}
	return &Outbox{
		sender:   sender,
		store:    store,
		managers: managers,
		maxChars: policy.ChunkMaxChars,
		maxLines: policy.ChunkMaxLines,
		clock:    clk,
		events:   metrics.NewBusinessEventLogger(logger),
		logger:   logger,
	}
}

// ToLead sends text to the lead as consecutive chunks.
func (o *Outbox) ToLead(ctx context.Context, conv *domain.Conversation, text string) error {
	return o.deliver(ctx, conv, conv.Lead.Phone, ai.Chunk(text, o.maxChars, o.maxLines), text)
}

// ToManager replies to one manager.
func (o *Outbox) ToManager(ctx context.Context, conv *domain.Conversation, text string) error {
	return o.deliver(ctx, conv, conv.Lead.Phone, splitLong(text, maxManagerChars), text)
}

// ToManagers sends text to every configured manager. Every manager is
// attempted; failures are joined.
func (o *Outbox) ToManagers(ctx context.Context, text string) error {
	var errs []error
	for _, m := range o.managers {
		conv, _ := o.store.Get(m)
		if err := o.deliver(ctx, conv, m, splitLong(text, maxManagerChars), text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers text to an address without touching any conversation.
func (o *Outbox) Send(ctx context.Context, to, text string) error {
	return o.deliver(ctx, nil, to, []string{text}, text)
}

func (o *Outbox) deliver(ctx context.Context, conv *domain.Conversation, to string, parts []string, full string) error {
	var sent []string
	var sendErr error
	for _, p := range parts {
		if _, err := o.sender.Send(ctx, to, p); err != nil {
			o.events.DeliveryFailed(ctx, to, err)
			sendErr = err
			break
		}
		sent = append(sent, p)
	}
	if conv == nil || len(sent) == 0 {
		return sendErr
	}

	text := full
	if sendErr != nil {
		text = strings.Join(sent, "\n")
	}
	now := o.clock.Now()
	conv.Lead.LastOutbound = now
	if err := o.store.AppendHistory(ctx, conv.Lead.Phone, domain.Outbound, text, now); err != nil {
		o.logger.Warn("history append failed", logging.Phone("phone", conv.Lead.Phone), zap.Error(err))
	}
	return sendErr
}

// splitLong cuts text at line boundaries into parts of at most max runes.
func splitLong(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	n := 0
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > max {
			flush()
			parts = append(parts, string(runes[:max]))
			runes = runes[max:]
		}
		if n+len(runes)+1 > max {
			flush()
		}
		cur.WriteString(string(runes))
		cur.WriteString("\n")
		n += len(runes) + 1
	}
	flush()
	return parts
}
