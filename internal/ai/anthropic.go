package ai

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

// AnthropicClient serves chat completions from Claude.
type AnthropicClient struct {
	client sdk.Client
	model  string
	guard
}

// NewAnthropicClient creates a client. Extra request options are passed to
// the SDK, for example a base URL in tests.
func NewAnthropicClient(cfg *config.AnthropicConfig, m *metrics.Metrics, logger *zap.Logger, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &AnthropicClient{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
		guard:  newGuard(ProviderAnthropic, m, logger),
	}
}

// Provider returns "anthropic".
func (c *AnthropicClient) Provider() string { return ProviderAnthropic }

// Complete sends a Messages API request. Leading assistant turns are
// dropped because the conversation must open with the user.
func (c *AnthropicClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	turns := req.Turns
	for len(turns) > 0 && turns[0].Role == RoleAssistant {
		turns = turns[1:]
	}
	msgs := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(t.Content)
		if t.Role == RoleAssistant {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    msgs,
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	var text string
	err := c.run(ctx, "anthropic.complete", func(ctx context.Context) error {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return eris.Wrap(err, "anthropic: create message")
		}
		var b strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		if b.Len() == 0 {
			return eris.New("anthropic: empty response")
		}
		text = strings.TrimSpace(b.String())
		c.logger.Debug("anthropic completion",
			zap.Int64("input_tokens", msg.Usage.InputTokens),
			zap.Int64("output_tokens", msg.Usage.OutputTokens),
		)
		return nil
	})
	return text, err
}
