package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jkindrix/leadconcierge/internal/audit"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/orchestrator"
	"github.com/jkindrix/leadconcierge/internal/recontact"
	"github.com/jkindrix/leadconcierge/internal/webhook"
)

type mockHealthChecker struct {
	pingErr error
}

func (m *mockHealthChecker) Ping(context.Context) error { return m.pingErr }

type mockCircuit struct {
	open bool
}

func (m *mockCircuit) IsCircuitOpen() bool { return m.open }

type mockProcessor struct {
	got orchestrator.Inbound
	out orchestrator.Outcome
	err error
}

func (m *mockProcessor) Handle(_ context.Context, in orchestrator.Inbound) (orchestrator.Outcome, error) {
	m.got = in
	return m.out, m.err
}

type mockState struct {
	calls int
	err   error
}

func (m *mockState) Reset(context.Context) error {
	m.calls++
	return m.err
}

type mockRecontact struct {
	res recontact.Result
	err error
}

func (m *mockRecontact) RunOnce(context.Context) (recontact.Result, error) { return m.res, m.err }

type mockMessages struct {
	msg *messaging.Message
	err error
}

func (m *mockMessages) Status(_ context.Context, sid string) (*messaging.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := *m.msg
	out.SID = sid
	return &out, nil
}

func auditLogger() (*audit.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return audit.NewLogger(zap.New(core)), logs
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		storage    error
		dedupe     error
		circuit    bool
		wantCode   int
		wantStatus string
	}{
		{name: "all healthy", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "storage down", storage: errors.New("disk gone"), wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
		{name: "dedupe down", dedupe: errors.New("redis gone"), wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "circuit open", circuit: true, wantCode: http.StatusOK, wantStatus: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(HealthHandlerConfig{
				Storage:   &mockHealthChecker{pingErr: tt.storage},
				Dedupe:    &mockHealthChecker{pingErr: tt.dedupe},
				Messaging: &mockCircuit{open: tt.circuit},
				Version:   "test",
				Logger:    zap.NewNop(),
			})

			rec := httptest.NewRecorder()
			h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.Version != "test" {
				t.Errorf("expected version test, got %q", resp.Version)
			}
		})
	}
}

func TestHealthHandler_ReadinessWhileDraining(t *testing.T) {
	draining := false
	h := NewHealthHandler(HealthHandlerConfig{
		Storage:  &mockHealthChecker{},
		Draining: func() bool { return draining },
		Logger:   zap.NewNop(),
	})

	rec := httptest.NewRecorder()
	h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 before draining, got %d", rec.Code)
	}

	draining = true
	rec = httptest.NewRecorder()
	h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{Logger: zap.NewNop()})
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "alive" {
		t.Errorf("unexpected liveness response %d %q", rec.Code, rec.Body.String())
	}
}

func inboundForm() url.Values {
	return url.Values{
		"MessageSid":  {"SM123"},
		"From":        {"whatsapp:+5215512345678"},
		"To":          {"whatsapp:+14155238886"},
		"Body":        {"Hola"},
		"ProfileName": {"Ana"},
		"NumMedia":    {"0"},
	}
}

func postForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "http://bot.example.com/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestWebhookHandler_Processes(t *testing.T) {
	proc := &mockProcessor{out: orchestrator.Outcome{Role: orchestrator.RoleClient, Status: orchestrator.StatusLLM}}
	h := NewWebhookHandler(WebhookHandlerConfig{Processor: proc, Logger: zap.NewNop()})

	rec := httptest.NewRecorder()
	h.HandleWhatsApp(rec, postForm(inboundForm()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != string(orchestrator.StatusLLM) {
		t.Errorf("expected status body, got %q", rec.Body.String())
	}
	if proc.got.From != "whatsapp:+5215512345678" || proc.got.Body != "Hola" || proc.got.MessageSID != "SM123" {
		t.Errorf("unexpected inbound %+v", proc.got)
	}
	if proc.got.ProfileName != "Ana" {
		t.Errorf("expected profile name Ana, got %q", proc.got.ProfileName)
	}
}

func TestWebhookHandler_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(url.Values)
		procErr  error
		wantCode int
		audited  bool
	}{
		{
			name:     "missing sender",
			mutate:   func(f url.Values) { f.Del("From") },
			wantCode: http.StatusBadRequest,
			audited:  true,
		},
		{
			name:     "sender not whatsapp",
			mutate:   func(f url.Values) { f.Set("From", "+5215512345678") },
			wantCode: http.StatusBadRequest,
			audited:  true,
		},
		{
			name:     "empty body without media",
			mutate:   func(f url.Values) { f.Set("Body", "") },
			wantCode: http.StatusBadRequest,
			audited:  true,
		},
		{
			name:     "processor failure",
			mutate:   func(url.Values) {},
			procErr:  errors.New("boom"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			al, logs := auditLogger()
			h := NewWebhookHandler(WebhookHandlerConfig{
				Processor: &mockProcessor{err: tt.procErr},
				Audit:     al,
				Logger:    zap.NewNop(),
			})
			form := inboundForm()
			tt.mutate(form)

			rec := httptest.NewRecorder()
			h.HandleWhatsApp(rec, postForm(form))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if got := logs.Len() > 0; got != tt.audited {
				t.Errorf("expected audited=%v, got %d entries", tt.audited, logs.Len())
			}
		})
	}
}

func TestWebhookHandler_Signature(t *testing.T) {
	const token = "secret-token"
	proc := &mockProcessor{out: orchestrator.Outcome{Status: orchestrator.StatusLLM}}
	al, logs := auditLogger()
	h := NewWebhookHandler(WebhookHandlerConfig{
		Processor: proc,
		Verifier:  webhook.NewVerifier(token, ""),
		Audit:     al,
		Logger:    zap.NewNop(),
	})

	form := inboundForm()
	req := postForm(form)
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(token, "http://bot.example.com/whatsapp", form))
	rec := httptest.NewRecorder()
	h.HandleWhatsApp(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected signed request to pass, got %d", rec.Code)
	}

	req = postForm(form)
	req.Header.Set(webhook.SignatureHeader, "bm90IGEgc2lnbmF0dXJl")
	rec = httptest.NewRecorder()
	h.HandleWhatsApp(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a bad signature, got %d", rec.Code)
	}
	if logs.Len() != 1 {
		t.Errorf("expected one audit entry, got %d", logs.Len())
	}
}

func TestAdminHandler_Liveness(t *testing.T) {
	h := NewAdminHandler(AdminHandlerConfig{Logger: zap.NewNop()})
	for path, want := range map[string]string{"/": IndexBody, "/test": TestBody} {
		rec := httptest.NewRecorder()
		r := NewRouter(RouterConfig{Admin: h, Logger: zap.NewNop()})
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Errorf("%s: got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestAdminHandler_ResetState(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "success", wantCode: http.StatusOK},
		{name: "failure", err: errors.New("bucket unavailable"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &mockState{err: tt.err}
			al, logs := auditLogger()
			h := NewAdminHandler(AdminHandlerConfig{State: state, Audit: al, Logger: zap.NewNop()})

			rec := httptest.NewRecorder()
			h.HandleResetState(rec, httptest.NewRequest(http.MethodGet, "/reset_state", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if state.calls != 1 {
				t.Errorf("expected one reset, got %d", state.calls)
			}
			if logs.Len() != 1 {
				t.Errorf("expected one audit entry, got %d", logs.Len())
			}
		})
	}
}

func TestAdminHandler_ScheduleRecontact(t *testing.T) {
	runner := &mockRecontact{
		res: recontact.Result{Reminders: 2, FollowUps: 1, Failed: 1},
		err: errors.New("one send failed"),
	}
	h := NewAdminHandler(AdminHandlerConfig{Recontact: runner, Logger: zap.NewNop()})

	rec := httptest.NewRecorder()
	h.HandleScheduleRecontact(rec, httptest.NewRequest(http.MethodGet, "/schedule_recontact", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got recontact.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got != runner.res {
		t.Errorf("expected %+v, got %+v", runner.res, got)
	}
}

func TestAdminHandler_MessageStatus(t *testing.T) {
	h := NewAdminHandler(AdminHandlerConfig{
		Messages: &mockMessages{msg: &messaging.Message{Status: "delivered"}},
		Logger:   zap.NewNop(),
	})
	r := NewRouter(RouterConfig{Admin: h, Logger: zap.NewNop()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/messages/SM42", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["sid"] != "SM42" || body["delivered"] != true {
		t.Errorf("unexpected body %v", body)
	}

	h = NewAdminHandler(AdminHandlerConfig{
		Messages: &mockMessages{err: errors.New("twilio API error 20404: not found")},
		Logger:   zap.NewNop(),
	})
	rec = httptest.NewRecorder()
	h.HandleMessageStatus(rec, httptest.NewRequest(http.MethodGet, "/admin/messages/SM42", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestNewRouter_SetsRequestID(t *testing.T) {
	proc := &mockProcessor{out: orchestrator.Outcome{Status: orchestrator.StatusLLM}}
	r := NewRouter(RouterConfig{
		Webhook: NewWebhookHandler(WebhookHandlerConfig{Processor: proc, Logger: zap.NewNop()}),
		Logger:  zap.NewNop(),
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, postForm(inboundForm()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whatsapp", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /whatsapp, got %d", rec.Code)
	}
}
