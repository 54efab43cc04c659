package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/domain"
)

// Apology is sent whenever a reply cannot be produced.
const Apology = "Lo siento, tuve un problema para responder. ¿Podrías intentarlo de nuevo en unos minutos?"

// EscalateToken is the model's answer when project data cannot answer.
const EscalateToken = "[[ESCALAR]]"

const persona = `Eres un asesor inmobiliario que atiende por WhatsApp a posibles compradores.
Responde en español, en mensajes breves de no más de dos líneas.
Usa solo la información del proyecto que se te da. No inventes precios, fechas ni datos.
Si la información del proyecto no alcanza para responder, contesta exactamente ` + EscalateToken + ` y nada más.`

// Tone of the reply, chosen by budget.
type Tone string

const (
	ToneFormal   Tone = "formal"
	ToneFriendly Tone = "friendly"
	ToneCasual   Tone = "casual"
)

var toneInstructions = map[Tone]string{
	ToneFormal:   "Usa un tono formal y profesional, trata al cliente de usted.",
	ToneFriendly: "Usa un tono amable y cercano.",
	ToneCasual:   "Usa un tono relajado y cálido, tutea al cliente.",
}

// Request is everything the responder may show the model.
type Request struct {
	Conversation *domain.Conversation
	Project      *domain.Project
	Downloads    []domain.Download
	Inbound      string
}

// Response is the model's reply.
type Response struct {
	Text string
	// Escalate is set when the model could not answer from project data.
	Escalate bool
}

// Responder builds prompts and calls the chat model. It never mutates the
// conversation.
type Responder struct {
	model  ChatModel
	llm    config.LLMConfig
	policy config.PolicyConfig
	logger *zap.Logger

	mu        sync.Mutex
	locations map[string]string
}

// NewResponder creates a responder.
func NewResponder(model ChatModel, llm config.LLMConfig, policy config.PolicyConfig, logger *zap.Logger) *Responder {
	return &Responder{
		model:     model,
		llm:       llm,
		policy:    policy,
		logger:    logger,
		locations: make(map[string]string),
	}
}

// ToneFor picks the tone for a budget.
func (r *Responder) ToneFor(budget *float64) Tone {
	switch {
	case budget == nil:
		return ToneCasual
	case *budget > r.policy.FormalBudget:
		return ToneFormal
	case *budget > r.policy.FriendlyBudget:
		return ToneFriendly
	default:
		return ToneCasual
	}
}

// Respond asks the model for a reply. On error it returns the apology text
// together with the error.
func (r *Responder) Respond(ctx context.Context, req Request) (Response, error) {
	location := ""
	if req.Project != nil && r.llm.DescribeLocation {
		location = r.describeLocation(ctx, req.Project.Name)
	}

	chat := ChatRequest{
		System:      r.SystemPrompt(req, location),
		Turns:       r.turns(req),
		MaxTokens:   r.llm.MaxTokens,
		Temperature: r.llm.Temperature,
	}
	text, err := r.model.Complete(ctx, chat)
	if err != nil {
		return Response{Text: Apology}, err
	}
	if strings.Contains(text, EscalateToken) {
		return Response{Escalate: true}, nil
	}
	return Response{Text: text}, nil
}

// SystemPrompt renders persona, tone, lead attributes and project data.
func (r *Responder) SystemPrompt(req Request, location string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	lead := req.Conversation.Lead
	b.WriteString(toneInstructions[r.ToneFor(lead.Budget)])
	b.WriteString("\n\nDatos del cliente:\n")
	writeField(&b, "Nombre", lead.Name)
	writeField(&b, "Proyecto de interés", req.Conversation.Project())
	if lead.Budget != nil || lead.BudgetText != "" {
		writeField(&b, "Presupuesto", lead.BudgetLabel())
	}
	writeField(&b, "Propósito", lead.Needs)
	writeField(&b, "Horario preferido", lead.PreferredTime)
	writeField(&b, "Ubicación de interés", lead.Location)
	writeField(&b, "Etapa", lead.Stage.Spanish())

	if p := req.Project; p != nil {
		fmt.Fprintf(&b, "\nProyecto %s:\n", p.Name)
		writeField(&b, "Descripción", p.Description)
		writeField(&b, "Áreas comunes", p.CommonAreas)
		writeField(&b, "Tipologías", p.Typologies)
		writeField(&b, "Especificaciones de construcción", p.Construction)
		writeField(&b, "Entrega", p.Delivery)
		writeField(&b, "Precios", p.Prices)
		writeField(&b, "Planes de pago", p.PaymentPlans)
		writeField(&b, "Ubicación", location)
	}

	if len(req.Downloads) > 0 {
		b.WriteString("\nArchivos disponibles para compartir:\n")
		for _, d := range req.Downloads {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.URL)
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

// turns returns the recent history ending with the inbound message.
func (r *Responder) turns(req Request) []Turn {
	history := req.Conversation.Tail(r.policy.PromptHistoryTurn)
	out := make([]Turn, 0, len(history)+1)
	for _, m := range history {
		role := RoleUser
		if m.Direction == domain.Outbound {
			role = RoleAssistant
		}
		out = append(out, Turn{Role: role, Content: m.Text})
	}
	if n := len(history); n == 0 || history[n-1].Direction != domain.Inbound || history[n-1].Text != req.Inbound {
		out = append(out, Turn{Role: RoleUser, Content: req.Inbound})
	}
	return out
}

// describeLocation asks the model once per project for a short location
// blurb. Failures are cached as empty so they are not retried per message.
func (r *Responder) describeLocation(ctx context.Context, project string) string {
	r.mu.Lock()
	desc, ok := r.locations[project]
	r.mu.Unlock()
	if ok {
		return desc
	}

	desc, err := r.model.Complete(ctx, ChatRequest{
		System:      "Eres un experto inmobiliario. Describe en una oración la ubicación y el entorno del desarrollo indicado.",
		Turns:       []Turn{{Role: RoleUser, Content: project}},
		MaxTokens:   r.llm.MaxTokens,
		Temperature: r.llm.RephraseTemperature,
	})
	if err != nil {
		r.logger.Warn("location description failed", zap.String("project", project), zap.Error(err))
		desc = ""
	}

	r.mu.Lock()
	r.locations[project] = desc
	r.mu.Unlock()
	return desc
}

// Rephrase adjusts the tone of a manager answer for the lead while keeping
// its information.
func (r *Responder) Rephrase(ctx context.Context, question, answer string) (string, error) {
	return r.model.Complete(ctx, ChatRequest{
		System: "Reformula la respuesta del gerente para enviarla al cliente por WhatsApp. " +
			"Conserva toda la información, no agregues datos nuevos y usa un tono cordial.",
		Turns: []Turn{{
			Role:    RoleUser,
			Content: fmt.Sprintf("Pregunta del cliente: %s\nRespuesta del gerente: %s", question, answer),
		}},
		MaxTokens:   r.llm.RephraseMaxTokens,
		Temperature: r.llm.RephraseTemperature,
	})
}
