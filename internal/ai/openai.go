package ai

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

type openaiAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIClient serves chat completions and Whisper transcriptions.
type OpenAIClient struct {
	api                openaiAPI
	model              string
	transcriptionModel string
	guard
}

// NewOpenAIClient creates a client for the configured API key.
func NewOpenAIClient(cfg *config.OpenAIConfig, m *metrics.Metrics, logger *zap.Logger) *OpenAIClient {
	return newOpenAIClient(openai.NewClient(cfg.APIKey), cfg, m, logger)
}

func newOpenAIClient(api openaiAPI, cfg *config.OpenAIConfig, m *metrics.Metrics, logger *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		api:                api,
		model:              cfg.Model,
		transcriptionModel: cfg.TranscriptionModel,
		guard:              newGuard(ProviderOpenAI, m, logger),
	}
}

// Provider returns "openai".
func (c *OpenAIClient) Provider() string { return ProviderOpenAI }

// Complete runs a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	var text string
	err := c.run(ctx, "openai.complete", func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    msgs,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
		})
		if err != nil {
			return eris.Wrap(err, "openai: chat completion")
		}
		if len(resp.Choices) == 0 {
			return eris.New("openai: empty completion")
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		c.logger.Debug("openai completion",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		return nil
	})
	return text, err
}

// Transcribe sends audio to Whisper. filename carries the format hint.
func (c *OpenAIClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var text string
	err := c.run(ctx, "openai.transcribe", func(ctx context.Context) error {
		resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.transcriptionModel,
			FilePath: filename,
			Reader:   audio,
		})
		if err != nil {
			return eris.Wrap(err, "openai: transcription")
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	return text, err
}
