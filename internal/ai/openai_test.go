package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/config"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/metrics"
)

var testOpenAIConfig = &config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini", TranscriptionModel: "whisper-1"}

func TestOpenAIClient_CompleteOverHTTP(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Hola, Ana "},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	c := newOpenAIClient(openai.NewClientWithConfig(cfg), testOpenAIConfig, nil, zap.NewNop())

	text, err := c.Complete(context.Background(), ChatRequest{
		System:    "eres un asesor",
		Turns:     []Turn{{Role: RoleUser, Content: "hola"}, {Role: RoleAssistant, Content: "¿nombre?"}, {Role: RoleUser, Content: "Ana"}},
		MaxTokens: 150,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "Hola, Ana" {
		t.Errorf("text = %q", text)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 150 || len(got.Messages) != 4 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Role != openai.ChatMessageRoleSystem || got.Messages[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("roles = %s %s", got.Messages[0].Role, got.Messages[2].Role)
	}
}

func TestOpenAIClient_TranscribeOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"quiero información de Torre X"}`)
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	c := newOpenAIClient(openai.NewClientWithConfig(cfg), testOpenAIConfig, nil, zap.NewNop())

	text, err := c.Transcribe(context.Background(), "voice.ogg", strings.NewReader("OggS fake audio"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "quiero información de Torre X" {
		t.Errorf("text = %q", text)
	}
}

type stubOpenAI struct {
	calls int
	err   error
	resp  openai.ChatCompletionResponse
}

func (s *stubOpenAI) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	return s.resp, s.err
}

func (s *stubOpenAI) CreateTranscription(context.Context, openai.AudioRequest) (openai.AudioResponse, error) {
	s.calls++
	return openai.AudioResponse{}, s.err
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := newOpenAIClient(&stubOpenAI{}, testOpenAIConfig, nil, zap.NewNop())
	_, err := c.Complete(context.Background(), ChatRequest{Turns: []Turn{{Role: RoleUser, Content: "hola"}}})
	if apperrors.GetCode(err) != apperrors.CodeLLMUnavailable {
		t.Errorf("code = %s, err = %v", apperrors.GetCode(err), err)
	}
}

func TestOpenAIClient_CircuitOpensAfterFailures(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	stub := &stubOpenAI{err: errors.New("503 service unavailable")}
	c := newOpenAIClient(stub, testOpenAIConfig, m, zap.NewNop())
	req := ChatRequest{Turns: []Turn{{Role: RoleUser, Content: "hola"}}}

	for i := 0; i < 5; i++ {
		if _, err := c.Complete(context.Background(), req); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := c.Complete(context.Background(), req)
	if apperrors.GetCode(err) != apperrors.CodeCircuitOpen {
		t.Fatalf("code = %s, want circuit open", apperrors.GetCode(err))
	}
	if stub.calls != 5 {
		t.Errorf("provider called %d times, open circuit should short-circuit", stub.calls)
	}
	if c.Stats().State != "open" {
		t.Errorf("state = %s", c.Stats().State)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues(ProviderOpenAI)); got != 2 {
		t.Errorf("breaker gauge = %v, want 2", got)
	}
}
