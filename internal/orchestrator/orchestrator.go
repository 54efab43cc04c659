// Package orchestrator routes inbound WhatsApp messages to the lead or
// manager flow and sends the replies.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/ai"
	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/console"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/dedupe"
	"github.com/jkindrix/leadconcierge/internal/domain"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/escalation"
	"github.com/jkindrix/leadconcierge/internal/intent"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/negotiation"
	"github.com/jkindrix/leadconcierge/internal/qualification"
)

// Fixed replies outside the LLM path.
const (
	AudioFailed    = "No pude escuchar tu nota de voz. ¿Podrías escribirme tu mensaje?"
	MediaIgnored   = "Por ahora solo puedo leer mensajes de texto y notas de voz."
	Goodbye        = "Entiendo, gracias por tu tiempo. Si cambias de opinión, aquí estaré para ayudarte."
	CloseReply     = "¡Excelente noticia! Le aviso al gerente para preparar la documentación y te contactamos muy pronto."
	MeetingReply   = "¡Claro! Le paso tu solicitud al gerente para agendar el Zoom. ¿Qué día y horario te acomodan?"
	DownloadsIntro = "Aquí tienes los archivos de %s:"
)

// Role is the sender's role.
type Role string

const (
	RoleClient  Role = "client"
	RoleManager Role = "manager"
)

// Status summarizes how an inbound was handled.
type Status string

const (
	StatusQualifying     Status = "qualifying"
	StatusNegotiation    Status = "negotiation"
	StatusClosing        Status = "closing"
	StatusMeeting        Status = "meeting"
	StatusDownload       Status = "download"
	StatusFAQ            Status = "faq"
	StatusLLM            Status = "llm"
	StatusLLMError       Status = "llm_error"
	StatusEscalated      Status = "escalated"
	StatusWaiting        Status = "waiting"
	StatusDisinterested  Status = "disinterested"
	StatusCommand        Status = "command"
	StatusCommandFailed  Status = "command_failed"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusDuplicate      Status = "duplicate"
	StatusMediaFailed    Status = "media_failed"
	StatusError          Status = "error"
)

// Inbound is one webhook message.
type Inbound struct {
	From        string
	Body        string
	ProfileName string
	MessageSID  string
	NumMedia    int
	MediaURL    string
	MediaType   string
	// Text is Body, or the transcription of a voice note.
	Text string
}

// Outcome reports what the handler did.
type Outcome struct {
	Role   Role
	Status Status
	Reply  string
}

// RoleHandler handles the inbound of one sender role.
type RoleHandler interface {
	Role() Role
	Handle(ctx context.Context, in Inbound) (Outcome, error)
}

// Knowledge is the read side of the project catalog.
type Knowledge interface {
	GetProject(name string) (*domain.Project, bool)
	GetFAQ(question, project string) (string, bool)
	Downloads(project string) []domain.Download
}

// MediaFetcher downloads inbound attachments.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) (*messaging.Media, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Config      *config.Config
	Store       *conversation.Store
	Knowledge   Knowledge
	Classifier  *intent.Classifier
	Qualifier   *qualification.Machine
	Negotiator  *negotiation.Policy
	Responder   *ai.Responder
	Escalation  *escalation.Loop
	Console     *console.Console
	Outbox      *Outbox
	Media       MediaFetcher
	Transcriber ai.Transcriber
	Dedupe      dedupe.Store
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Orchestrator serializes inbound handling and dispatches by role.
type Orchestrator struct {
	mu sync.Mutex

	cfg         *config.Config
	store       *conversation.Store
	client      *Client
	manager     *Manager
	outbox      *Outbox
	media       MediaFetcher
	transcriber ai.Transcriber
	dedupe      dedupe.Store
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New wires the role handlers.
func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	events := metrics.NewBusinessEventLogger(d.Logger)
	return &Orchestrator{
		cfg:   d.Config,
		store: d.Store,
		client: &Client{
			policy:     d.Config.Policy,
			store:      d.Store,
			knowledge:  d.Knowledge,
			classifier: d.Classifier,
			qualifier:  d.Qualifier,
			negotiator: d.Negotiator,
			responder:  d.Responder,
			escalation: d.Escalation,
			outbox:     d.Outbox,
			clock:      d.Clock,
			metrics:    d.Metrics,
			events:     events,
			logger:     d.Logger.Named("client"),
		},
		manager: &Manager{
			store:   d.Store,
			console: d.Console,
			outbox:  d.Outbox,
			clock:   d.Clock,
			logger:  d.Logger.Named("manager"),
		},
		outbox:      d.Outbox,
		media:       d.Media,
		transcriber: d.Transcriber,
		dedupe:      d.Dedupe,
		metrics:     d.Metrics,
		logger:      d.Logger,
	}
}

// Locker is held while an inbound is handled. Background jobs that mutate
// conversations take it too.
func (o *Orchestrator) Locker() sync.Locker { return &o.mu }

// RoleFor picks the handler for a sender address.
func (o *Orchestrator) RoleFor(from string) RoleHandler {
	if o.cfg.IsManager(from) {
		return o.manager
	}
	return o.client
}

// Handle processes one inbound message. Replays of a MessageSid already
// claimed are acknowledged without effect. Only internal failures are
// returned as errors; provider outages degrade to an apology.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound) (out Outcome, err error) {
	if in.MessageSID != "" && o.dedupe != nil {
		claimed, derr := o.dedupe.Claim(ctx, in.MessageSID)
		if derr != nil {
			o.logger.Warn("dedupe unavailable, processing anyway", zap.Error(derr))
		} else if !claimed {
			o.metrics.RecordDuplicate()
			o.logger.Info("duplicate inbound ignored", zap.String("message_sid", in.MessageSID))
			return Outcome{Status: StatusDuplicate}, nil
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	h := o.RoleFor(in.From)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while handling inbound",
				logging.Phone("phone", in.From), zap.Any("panic", r), zap.Stack("stack"))
			if serr := o.outbox.Send(ctx, in.From, ai.Apology); serr != nil {
				o.logger.Warn("apology not delivered", zap.Error(serr))
			}
			err = apperrors.InternalError("inbound handler panic", fmt.Errorf("%v", r))
			out = Outcome{Role: h.Role(), Status: StatusError}
		}
		if err != nil {
			o.release(ctx, in)
			o.metrics.RecordInbound(string(h.Role()), string(StatusError))
			return
		}
		o.metrics.RecordInbound(string(out.Role), string(out.Status))
		o.metrics.SetConversations(o.store.Len())
	}()

	text, status := o.inboundText(ctx, in)
	if status != "" {
		return Outcome{Role: h.Role(), Status: status}, nil
	}
	in.Text = text
	return h.Handle(ctx, in)
}

func (o *Orchestrator) release(ctx context.Context, in Inbound) {
	if in.MessageSID == "" || o.dedupe == nil {
		return
	}
	if err := o.dedupe.Release(ctx, in.MessageSID); err != nil {
		o.logger.Warn("dedupe release failed", zap.Error(err))
	}
}

// inboundText returns the text to process. A voice note without body is
// transcribed. A non-empty status means the inbound was answered here.
func (o *Orchestrator) inboundText(ctx context.Context, in Inbound) (string, Status) {
	if body := strings.TrimSpace(in.Body); body != "" || in.NumMedia == 0 || in.MediaURL == "" {
		return body, ""
	}

	if in.MediaType != "" && !strings.HasPrefix(in.MediaType, "audio/") {
		o.notify(ctx, in.From, MediaIgnored)
		return "", StatusMediaFailed
	}
	text, err := o.transcribe(ctx, in)
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("voice note not transcribed", logging.Phone("phone", in.From), zap.Error(err))
		o.notify(ctx, in.From, AudioFailed)
		return "", StatusMediaFailed
	}
	return strings.TrimSpace(text), ""
}

func (o *Orchestrator) transcribe(ctx context.Context, in Inbound) (string, error) {
	if o.media == nil || o.transcriber == nil {
		return "", apperrors.New(apperrors.CodeLLMUnavailable, "transcription not configured")
	}
	media, err := o.media.FetchMedia(ctx, in.MediaURL)
	if err != nil {
		return "", err
	}
	return o.transcriber.Transcribe(ctx, audioFilename(media.ContentType), bytes.NewReader(media.Data))
}

// audioFilename gives the transcription API a name whose extension
// matches the content type.
func audioFilename(contentType string) string {
	ext := ".ogg"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	switch contentType {
	case "audio/mpeg":
		ext = ".mp3"
	case "audio/ogg", "audio/ogg; codecs=opus":
		ext = ".ogg"
	}
	return "voice" + ext
}

func (o *Orchestrator) notify(ctx context.Context, to, text string) {
	if err := o.outbox.Send(ctx, to, text); err != nil {
		o.logger.Warn("notice not delivered", logging.Phone("phone", to), zap.Error(err))
	}
}

// Reset drops in-memory conversations and reloads the stored snapshot.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.Reset(ctx)
}
