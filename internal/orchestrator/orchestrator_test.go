package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/ai"
	"github.com/jkindrix/leadconcierge/internal/audit"
	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/console"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/dedupe"
	"github.com/jkindrix/leadconcierge/internal/domain"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/escalation"
	"github.com/jkindrix/leadconcierge/internal/intent"
	"github.com/jkindrix/leadconcierge/internal/knowledge"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/negotiation"
	"github.com/jkindrix/leadconcierge/internal/qualification"
	"github.com/jkindrix/leadconcierge/internal/report"
)

const (
	managerPhone = "whatsapp:+5215599999999"
	leadA        = "whatsapp:+5215500000001"
	leadB        = "whatsapp:+5215500000002"
)

var t0 = time.Date(2026, 6, 10, 10, 0, 0, 0, time.UTC)

// fakeModel answers chat requests through reply and rephrase requests
// through rephrase, told apart by their token budget.
type fakeModel struct {
	mu       sync.Mutex
	reply    string
	rephrase string
	err      error
	calls    int
}

func (f *fakeModel) Complete(_ context.Context, req ai.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if req.MaxTokens == 50 {
		return f.rephrase, nil
	}
	return f.reply, nil
}

func (f *fakeModel) Provider() string { return "fake" }

type fakeMedia struct {
	media *messaging.Media
	err   error
}

func (f fakeMedia) FetchMedia(context.Context, string) (*messaging.Media, error) {
	return f.media, f.err
}

type fakeTranscriber struct {
	text     string
	filename string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, r io.Reader) (string, error) {
	f.filename = filename
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	return f.text, nil
}

type panickyKnowledge struct{ Knowledge }

func (panickyKnowledge) GetFAQ(string, string) (string, bool) { panic("faq table corrupted") }

type fixture struct {
	orch    *Orchestrator
	store   *conversation.Store
	know    *knowledge.Store
	sent    *messaging.Recorder
	model   *fakeModel
	clock   *clock.Mock
	dedupe  *dedupe.MemoryStore
	blobs   blob.Store
	media   *fakeMedia
	speech  *fakeTranscriber
	metrics *metrics.Metrics
}

type option func(*Deps)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	fs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Put(ctx, "projects/Torre_X.txt",
		[]byte("Torre X es un desarrollo frente al mar.\nPrecios: 100000 USD\nEntrega: 2027\n")))
	require.NoError(t, fs.Put(ctx, "downloads/Torre_X/brochure.pdf", []byte("%PDF")))

	know := knowledge.NewStore(fs, knowledge.Options{PublicBaseURL: "https://cdn.example.com"}, logger)
	require.NoError(t, know.Load(ctx))
	classifier, err := intent.New(intent.DefaultRules(), know)
	require.NoError(t, err)

	cfg := &config.Config{
		Managers: []string{managerPhone},
		LLM:      config.LLMConfig{MaxTokens: 150, Temperature: 0.7, RephraseMaxTokens: 50, RephraseTemperature: 0.3},
		Policy: config.PolicyConfig{
			HistoryDepth:      10,
			DefaultMinPrice:   100000,
			HighMarginPct:     95,
			LowMarginPct:      90,
			CounterBandPct:    5,
			BudgetRatioPct:    80,
			FormalBudget:      200000,
			FriendlyBudget:    100000,
			MaxNameAsks:       2,
			ChunkMaxChars:     1000,
			ChunkMaxLines:     10,
			MinAnswerLength:   5,
			ProjectInterest:   5,
			OfferInterest:     8,
			CloseInterest:     10,
			PromptHistoryTurn: 4,
		},
		Escalation: config.EscalationConfig{Delay: 30 * time.Minute, ContextTurns: 4},
	}

	f := &fixture{
		know:    know,
		sent:    &messaging.Recorder{},
		model:   &fakeModel{reply: "Con gusto te ayudo.", rephrase: "Te comento que la entrega es en diciembre 2026."},
		clock:   clock.NewMock(t0),
		blobs:   fs,
		media:   &fakeMedia{media: &messaging.Media{ContentType: "audio/ogg", Data: []byte("OggS")}},
		speech:  &fakeTranscriber{text: "me llamo Ana"},
		metrics: metrics.NewMetricsWithRegistry(prometheus.NewRegistry()),
	}
	f.store = conversation.NewStore(fs, cfg.Policy.HistoryDepth, logger)
	f.dedupe = dedupe.NewMemoryStore(time.Hour, f.clock)

	outbox := NewOutbox(f.sent, f.store, cfg.Managers, cfg.Policy, f.clock, logger)
	responder := ai.NewResponder(f.model, cfg.LLM, cfg.Policy, logger)
	loop := escalation.New(cfg.Escalation, escalation.Deps{
		Store:     f.store,
		FAQ:       know,
		Rephraser: responder,
		Outbox:    outbox,
		Clock:     f.clock,
		Metrics:   f.metrics,
		Logger:    logger,
	})
	cons := console.New(cfg.Policy.MinAnswerLength, console.Deps{
		Store:     f.store,
		Reporter:  report.New(f.store, fs, time.UTC, logger),
		Knowledge: know,
		Resolver:  loop,
		Clock:     f.clock,
		Audit:     audit.NewLogger(logger),
		Logger:    logger,
		Location:  time.UTC,
	})

	d := Deps{
		Config:      cfg,
		Store:       f.store,
		Knowledge:   know,
		Classifier:  classifier,
		Qualifier:   qualification.New(cfg.Policy.MaxNameAsks),
		Negotiator:  negotiation.New(cfg.Policy, negotiation.WithPicker(func(int) int { return 0 })),
		Responder:   responder,
		Escalation:  loop,
		Console:     cons,
		Outbox:      outbox,
		Media:       f.media,
		Transcriber: f.speech,
		Dedupe:      f.dedupe,
		Clock:       f.clock,
		Metrics:     f.metrics,
		Logger:      logger,
	}
	for _, o := range opts {
		o(&d)
	}
	f.orch = New(d)
	return f
}

// qualified seeds a lead that finished the opening script.
func (f *fixture) qualified(phone, name string) *domain.Conversation {
	conv, _ := f.store.GetOrCreate(phone, f.clock.Now())
	conv.Lead.Name = name
	conv.Qualification = domain.Qualification{
		State: domain.Free,
		Flags: domain.FlagName | domain.FlagNeeds | domain.FlagBudget | domain.FlagContactTime | domain.FlagIntent,
	}
	return conv
}

func (f *fixture) send(t *testing.T, from, body string) Outcome {
	t.Helper()
	out, err := f.orch.Handle(context.Background(), Inbound{From: from, Body: body})
	require.NoError(t, err)
	return out
}

func (f *fixture) lastTo(addr string) string {
	msgs := f.sent.To(addr)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func TestOrchestrator_OpeningScript(t *testing.T) {
	f := newFixture(t)

	out := f.send(t, leadA, "hola")
	assert.Equal(t, StatusQualifying, out.Status)
	assert.Equal(t, qualification.AskName, f.lastTo(leadA))

	f.send(t, leadA, "me llamo Ana")
	conv, ok := f.store.Get(leadA)
	require.True(t, ok)
	assert.Equal(t, "Ana", conv.Lead.Name)
	assert.Equal(t, 1, conv.Qualification.NameAsks)
	assert.Contains(t, f.lastTo(leadA), "invertir, vivir o vacacionar")

	require.Len(t, conv.History, 4)
	assert.Equal(t, domain.Inbound, conv.History[0].Direction)
	assert.Equal(t, domain.Outbound, conv.History[1].Direction)

	events := f.store.Events(t0, t0.Add(time.Hour))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventNewClient, events[0].Kind)
}

func TestOrchestrator_NewLeadStartsBlank(t *testing.T) {
	f := newFixture(t)

	f.send(t, leadA, "hola")
	conv, ok := f.store.Get(leadA)
	require.True(t, ok)
	assert.Equal(t, domain.StageProspecting, conv.Lead.Stage)
	assert.Zero(t, conv.Qualification.Flags)
	assert.Empty(t, conv.Lead.Name)
	assert.Nil(t, conv.Pending)

	var inbound []string
	for _, m := range conv.History {
		if m.Direction == domain.Inbound {
			inbound = append(inbound, m.Text)
		}
	}
	assert.Equal(t, []string{"hola"}, inbound)

	f.send(t, leadA, "me llamo Ana")
	events := f.store.Events(t0, t0.Add(time.Hour))
	require.Len(t, events, 1, "only the first message creates a lead")
	assert.Equal(t, domain.EventNewClient, events[0].Kind)
	assert.Equal(t, leadA, events[0].Phone)
}

func TestOrchestrator_ProjectMentionMovesToNegotiation(t *testing.T) {
	f := newFixture(t)
	f.qualified(leadA, "Ana")

	f.send(t, leadA, "me interesa Torre X")

	conv, _ := f.store.Get(leadA)
	assert.Equal(t, "Torre X", conv.LastProject)
	assert.Equal(t, domain.StageNegotiation, conv.Lead.Stage)
	assert.GreaterOrEqual(t, conv.Lead.InterestLevel, 5)
}

func TestOrchestrator_OfferAccepted(t *testing.T) {
	f := newFixture(t)
	conv := f.qualified(leadA, "Ana")
	conv.LastProject = "Torre X"

	out := f.send(t, leadA, "te ofrezco 90000 USD")

	assert.Equal(t, StatusNegotiation, out.Status)
	assert.Equal(t, domain.StageClosing, conv.Lead.Stage)
	assert.GreaterOrEqual(t, conv.Lead.InterestLevel, 8)
	assert.Equal(t, out.Reply, f.lastTo(leadA))
	assert.Zero(t, f.model.calls, "offers never reach the model")
}

func TestOrchestrator_EscalationRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.qualified(leadA, "Ana")
	f.model.reply = ai.EscalateToken
	question := "¿Cuándo es la entrega de Torre X?"

	out := f.send(t, leadA, question)
	assert.Equal(t, StatusEscalated, out.Status)
	assert.Equal(t, escalation.WaitingAck, f.lastTo(leadA))
	require.Len(t, f.sent.To(managerPhone), 3)
	assert.Contains(t, f.sent.To(managerPhone)[0], question)

	out = f.send(t, leadA, "¿ya tienes la respuesta?")
	assert.Equal(t, StatusWaiting, out.Status)

	out = f.send(t, managerPhone, "entrega en diciembre 2026")
	assert.Equal(t, StatusCommand, out.Status)
	assert.Contains(t, out.Reply, "Respuesta enviada a Ana")
	assert.Equal(t, "Te comento que la entrega es en diciembre 2026.", f.lastTo(leadA))

	conv, _ := f.store.Get(leadA)
	assert.Nil(t, conv.Pending)
	answer, ok := f.know.GetFAQ(question, "Torre X")
	require.True(t, ok)
	assert.Equal(t, "entrega en diciembre 2026", answer)

	f.qualified(leadB, "Luis")
	f.sent.Reset()
	out = f.send(t, leadB, question)
	assert.Equal(t, StatusFAQ, out.Status)
	assert.Equal(t, "entrega en diciembre 2026", f.lastTo(leadB))
	assert.Empty(t, f.sent.To(managerPhone), "known answers are not escalated")
}

func TestOrchestrator_ManagerCommandInSentenceKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.qualified(leadA, "Ana")
	f.model.reply = ai.EscalateToken
	question := "¿Cuándo es la entrega de Torre X?"
	require.Equal(t, StatusEscalated, f.send(t, leadA, question).Status)
	f.sent.Reset()

	out := f.send(t, managerPhone, "Mándame el reporte por favor")
	assert.Equal(t, StatusCommand, out.Status)
	assert.Contains(t, out.Reply, "Reporte de interés")
	assert.Empty(t, f.sent.To(leadA), "the lead gets nothing")

	conv, _ := f.store.Get(leadA)
	require.NotNil(t, conv.Pending)
	assert.Equal(t, question, conv.Pending.Question)
	_, ok := f.know.GetFAQ(question, "Torre X")
	assert.False(t, ok)
}

func TestOrchestrator_QuestionWithoutProjectEscalatesDirectly(t *testing.T) {
	f := newFixture(t)
	f.qualified(leadA, "Ana")

	out := f.send(t, leadA, "¿aceptan mascotas?")

	assert.Equal(t, StatusEscalated, out.Status)
	assert.Zero(t, f.model.calls)
	assert.Len(t, f.sent.To(managerPhone), 3)
}

func TestOrchestrator_ManagerReportRefreshesSpreadsheet(t *testing.T) {
	f := newFixture(t)
	hot := f.qualified(leadA, "Ana")
	hot.Lead.Stage = domain.StageNegotiation
	hot.Lead.InterestLevel = 7
	cold := f.qualified(leadB, "Luis")
	cold.Lead.Stage = domain.StageNegotiation
	cold.Lead.InterestLevel = 3

	out := f.send(t, managerPhone, "reporte etapa Negociación interés 7")

	assert.Equal(t, StatusCommand, out.Status)
	assert.Contains(t, out.Reply, "Ana")
	assert.NotContains(t, out.Reply, "Luis")
	_, err := f.blobs.Get(context.Background(), report.ExportKey)
	assert.NoError(t, err)

	conv, ok := f.store.Get(managerPhone)
	require.True(t, ok)
	assert.True(t, conv.IsManager)
}

func TestOrchestrator_OptOutCloseMeetingDownloads(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		status Status
		reply  string
		check  func(t *testing.T, f *fixture, conv *domain.Conversation)
	}{
		{
			name:   "not interested",
			text:   "no me interesa, gracias",
			status: StatusDisinterested,
			reply:  Goodbye,
			check: func(t *testing.T, _ *fixture, conv *domain.Conversation) {
				assert.True(t, conv.Lead.Disinterested)
			},
		},
		{
			name:   "close",
			text:   "quiero cerrar la compra",
			status: StatusClosing,
			reply:  CloseReply,
			check: func(t *testing.T, f *fixture, conv *domain.Conversation) {
				assert.Equal(t, domain.StageClosing, conv.Lead.Stage)
				assert.Contains(t, f.lastTo(managerPhone), "quiere cerrar en Torre X")
			},
		},
		{
			name:   "meeting",
			text:   "¿podemos hacer un zoom el jueves?",
			status: StatusMeeting,
			reply:  MeetingReply,
			check: func(t *testing.T, f *fixture, conv *domain.Conversation) {
				require.NotNil(t, conv.Zoom)
				assert.Equal(t, t0, conv.Zoom.RequestedAt)
				assert.Contains(t, f.lastTo(managerPhone), "Zoom")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conv := f.qualified(leadA, "Ana")
			conv.LastProject = "Torre X"

			out := f.send(t, leadA, tt.text)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.reply, f.lastTo(leadA))
			tt.check(t, f, conv)
		})
	}

	t.Run("downloads", func(t *testing.T) {
		f := newFixture(t)
		conv := f.qualified(leadA, "Ana")
		conv.LastProject = "Torre X"

		out := f.send(t, leadA, "¿me mandas el brochure?")
		assert.Equal(t, StatusDownload, out.Status)
		assert.Contains(t, out.Reply, "Aquí tienes los archivos de Torre X")
		assert.Contains(t, out.Reply, "brochure")
	})
}

func withChunking(chars, lines int) option {
	return func(d *Deps) {
		d.Config.Policy.ChunkMaxChars, d.Config.Policy.ChunkMaxLines = chars, lines
		d.Outbox.maxChars, d.Outbox.maxLines = chars, lines
	}
}

func TestOrchestrator_DownloadLinksSurviveChunking(t *testing.T) {
	f := newFixture(t, withChunking(100, 2))
	ctx := context.Background()
	key := "downloads/Torre_X/" + strings.Repeat("planos_", 12) + "torre_x_2026.pdf"
	require.NoError(t, f.blobs.Put(ctx, key, []byte("%PDF")))
	require.NoError(t, f.know.Load(ctx))
	conv := f.qualified(leadA, "Ana")
	conv.LastProject = "Torre X"

	out := f.send(t, leadA, "¿me mandas el brochure?")
	require.Equal(t, StatusDownload, out.Status)

	files := f.know.Downloads("Torre X")
	require.Len(t, files, 2)
	var lines []string
	for _, msg := range f.sent.To(leadA) {
		lines = append(lines, strings.Split(msg, "\n")...)
	}
	for _, file := range files {
		var whole bool
		for _, line := range lines {
			whole = whole || strings.HasSuffix(line, file.URL)
		}
		assert.True(t, whole, "link %s was cut", file.URL)
	}
}

func TestOrchestrator_LLMFailureApologizes(t *testing.T) {
	f := newFixture(t)
	conv := f.qualified(leadA, "Ana")
	conv.LastProject = "Torre X"
	f.model.err = errors.New("provider down")

	out := f.send(t, leadA, "cuéntame más del proyecto")

	assert.Equal(t, StatusLLMError, out.Status)
	assert.Equal(t, ai.Apology, f.lastTo(leadA))
}

func TestOrchestrator_DeliveryFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.sent.Err = errors.New("twilio down")

	out := f.send(t, leadA, "hola")

	assert.Equal(t, StatusDeliveryFailed, out.Status)
	_, ok := f.store.Get(leadA)
	assert.True(t, ok, "the inbound is still recorded")
}

func TestOrchestrator_DuplicateMessageSidIsIgnored(t *testing.T) {
	f := newFixture(t)
	in := Inbound{From: leadA, Body: "hola", MessageSID: "SM123"}

	out, err := f.orch.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusQualifying, out.Status)

	out, err = f.orch.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, out.Status)
	assert.Len(t, f.sent.To(leadA), 1)
}

func TestOrchestrator_VoiceNote(t *testing.T) {
	f := newFixture(t)

	out, err := f.orch.Handle(context.Background(), Inbound{
		From: leadA, NumMedia: 1, MediaURL: "https://api.twilio.com/media/ME1", MediaType: "audio/ogg",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQualifying, out.Status)
	assert.Equal(t, "voice.ogg", f.speech.filename)

	conv, _ := f.store.Get(leadA)
	assert.Equal(t, "Ana", conv.Lead.Name)
	assert.Equal(t, "me llamo Ana", conv.History[0].Text)
}

func TestOrchestrator_MediaFailures(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.orch.Handle(context.Background(), Inbound{
			From: leadA, NumMedia: 1, MediaURL: "https://api.twilio.com/media/ME2", MediaType: "image/jpeg",
		})
		require.NoError(t, err)
		assert.Equal(t, StatusMediaFailed, out.Status)
		assert.Equal(t, MediaIgnored, f.lastTo(leadA))
	})

	t.Run("download fails", func(t *testing.T) {
		f := newFixture(t)
		f.media.err = errors.New("404")
		out, err := f.orch.Handle(context.Background(), Inbound{
			From: leadA, NumMedia: 1, MediaURL: "https://api.twilio.com/media/ME3", MediaType: "audio/ogg",
		})
		require.NoError(t, err)
		assert.Equal(t, StatusMediaFailed, out.Status)
		assert.Equal(t, AudioFailed, f.lastTo(leadA))
		_, ok := f.store.Get(leadA)
		assert.False(t, ok)
	})
}

func TestOrchestrator_PanicReleasesClaim(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Knowledge = panickyKnowledge{d.Knowledge} })
	conv := f.qualified(leadA, "Ana")
	conv.LastProject = "Torre X"
	in := Inbound{From: leadA, Body: "cuéntame más", MessageSID: "SM900"}

	out, err := f.orch.Handle(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInternal, apperrors.GetCode(err))
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ai.Apology, f.lastTo(leadA))

	claimed, err := f.dedupe.Claim(context.Background(), "SM900")
	require.NoError(t, err)
	assert.True(t, claimed, "a failed inbound can be redelivered")
}

func TestOrchestrator_ResetReloadsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.send(t, leadA, "hola")
	assert.Equal(t, 1, f.store.Len())

	require.NoError(t, f.orch.Reset(context.Background()))
	_, ok := f.store.Get(leadA)
	assert.True(t, ok, "saved conversations survive a reset")
}

func TestAudioFilename(t *testing.T) {
	tests := map[string]string{
		"audio/ogg":              "voice.ogg",
		"audio/ogg; codecs=opus": "voice.ogg",
		"audio/mpeg":             "voice.mp3",
		"":                       "voice.ogg",
	}
	for in, want := range tests {
		assert.Equal(t, want, audioFilename(in), in)
	}
}

func TestLooksLikeQuestion(t *testing.T) {
	assert.True(t, looksLikeQuestion("¿aceptan mascotas?"))
	assert.True(t, looksLikeQuestion("Cuánto cuesta el estacionamiento"))
	assert.False(t, looksLikeQuestion("perfecto, muchas gracias"))
	assert.False(t, looksLikeQuestion(strings.Repeat("ok ", 3)))
}
