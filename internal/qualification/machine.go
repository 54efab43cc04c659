// Package qualification drives the opening script of a new conversation:
// name, purpose, budget, preferred contact time and purchase horizon.
package qualification

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/intent"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// FallbackName is used once the name asks are exhausted.
const FallbackName = "Cliente"

// Script lines sent on entry to each state.
const (
	AskName      = "¡Hola! Soy el asistente de ventas. ¿Con quién tengo el gusto?"
	AskNameAgain = "Disculpa, no alcancé a leer tu nombre. ¿Cómo te llamas?"
	AskPurpose   = "Mucho gusto, %s. ¿Buscas una propiedad para invertir, vivir o vacacionar?"
	AskBudget    = "¿Cuál es tu presupuesto aproximado?"
	AskTime      = "¿En qué horario prefieres que te contactemos?"
	AskIntent    = "¿Qué tan pronto te gustaría concretar la compra?"
	HandOff      = "¡Gracias, %s! Ya tengo lo necesario. Cuéntame, ¿qué proyecto te interesa o en qué te puedo ayudar?"
)

var order = []struct {
	state domain.QualificationState
	flag  domain.QualificationFlag
}{
	{domain.NeedName, domain.FlagName},
	{domain.NeedPurpose, domain.FlagNeeds},
	{domain.NeedBudget, domain.FlagBudget},
	{domain.NeedTime, domain.FlagContactTime},
	{domain.NeedIntent, domain.FlagIntent},
}

// soyRe only applies while the name question is open; elsewhere "soy"
// rarely introduces a name.
var soyRe = regexp.MustCompile(`(?i)^\s*(?:hola,?\s+)?soy\s+(\pL+)`)

var bareNameRe = regexp.MustCompile(`^\pL+(?:\s+\pL+){0,2}$`)

var greetings = map[string]bool{
	"hola": true, "buenas": true, "buenos dias": true, "buenas tardes": true,
	"buenas noches": true, "hi": true, "hello": true, "ok": true, "si": true, "no": true,
	"gracias": true, "que tal": true,
}

// Input is one inbound message as seen by the machine.
type Input struct {
	Text        string
	ProfileName string
	Intent      intent.Result
}

// Step is the machine's reaction to an inbound.
type Step struct {
	// Handled is false once the script is over; the caller replies.
	Handled bool
	Reply   string
}

// Machine is stateless; the state lives in the conversation.
type Machine struct {
	maxNameAsks int
}

// New creates a machine that asks for the name at most maxNameAsks times.
func New(maxNameAsks int) *Machine {
	if maxNameAsks <= 0 {
		maxNameAsks = 2
	}
	return &Machine{maxNameAsks: maxNameAsks}
}

// Volunteer records qualification answers found anywhere in the message
// and marks their states resolved. It runs on every inbound.
func Volunteer(conv *domain.Conversation, in Input) {
	lead := &conv.Lead
	q := &conv.Qualification

	if name, ok := in.Intent.Field(intent.FieldName); ok && !q.Has(domain.FlagName) {
		lead.Name = textnorm.Title(name)
		q.Set(domain.FlagName)
	}
	if v, ok := in.Intent.Field(intent.FieldPurpose); ok {
		lead.Needs = v
		q.Set(domain.FlagNeeds)
	}
	if v, ok := in.Intent.Field(intent.FieldBudget); ok {
		SetBudget(lead, v)
		q.Set(domain.FlagBudget)
	}
	if v, ok := in.Intent.Field(intent.FieldTime); ok {
		lead.PreferredTime = v
		q.Set(domain.FlagContactTime)
	}
	if v, ok := in.Intent.Field(intent.FieldLocation); ok {
		lead.Location = v
	}
	if v, ok := in.Intent.Field(intent.FieldEmail); ok {
		lead.Email = v
	}
}

// SetBudget stores the raw budget text and its parsed amount when one is
// recognizable.
func SetBudget(lead *domain.Lead, text string) {
	lead.BudgetText = strings.TrimSpace(text)
	if v, ok := intent.ParseAmount(text); ok && v > 0 {
		lead.Budget = &v
	}
}

// Step advances the script for one inbound. Volunteer must run first.
func (m *Machine) Step(conv *domain.Conversation, in Input) Step {
	q := &conv.Qualification
	if q.State == domain.Free {
		return Step{}
	}

	m.consume(conv, in)

	for _, st := range order {
		if q.Has(st.flag) {
			continue
		}
		if st.state == domain.NeedName {
			if q.NameAsks >= m.maxNameAsks {
				conv.Lead.Name = FallbackName
				q.Set(domain.FlagName)
				continue
			}
			q.State = domain.NeedName
			q.NameAsks++
			if q.NameAsks > 1 {
				return Step{Handled: true, Reply: AskNameAgain}
			}
			return Step{Handled: true, Reply: AskName}
		}
		q.State = st.state
		return Step{Handled: true, Reply: m.question(conv, st.state)}
	}

	q.State = domain.Free
	if conv.Lead.Stage == domain.StageProspecting {
		conv.Lead.Stage = domain.StageQualification
	}
	return Step{Handled: true, Reply: fmt.Sprintf(HandOff, conv.Lead.DisplayName())}
}

// consume treats the inbound as the answer to the open question.
func (m *Machine) consume(conv *domain.Conversation, in Input) {
	lead := &conv.Lead
	q := &conv.Qualification
	text := strings.TrimSpace(in.Text)

	switch q.State {
	case domain.NeedName:
		if q.Has(domain.FlagName) {
			return
		}
		if name := extractName(in, q.NameAsks > 0); name != "" {
			lead.Name = name
			q.Set(domain.FlagName)
		}
	case domain.NeedPurpose:
		if !q.Has(domain.FlagNeeds) {
			lead.Needs = text
			q.Set(domain.FlagNeeds)
		}
	case domain.NeedBudget:
		if !q.Has(domain.FlagBudget) {
			SetBudget(lead, text)
			q.Set(domain.FlagBudget)
		}
	case domain.NeedTime:
		if !q.Has(domain.FlagContactTime) {
			lead.PreferredTime = text
			q.Set(domain.FlagContactTime)
		}
	case domain.NeedIntent:
		if !q.Has(domain.FlagIntent) {
			lead.Intent = text
			q.Set(domain.FlagIntent)
		}
	}
}

// extractName tries the profile name, then "soy X", then a bare reply of
// up to three words when the question has already been asked.
func extractName(in Input, asked bool) string {
	if fields := strings.Fields(in.ProfileName); len(fields) > 0 {
		return fields[0]
	}
	if m := soyRe.FindStringSubmatch(in.Text); m != nil {
		return textnorm.Title(m[1])
	}
	text := strings.Trim(strings.TrimSpace(in.Text), ".!¡")
	if asked && bareNameRe.MatchString(text) && !greetings[textnorm.Simplify(text)] {
		return textnorm.Title(strings.Fields(text)[0])
	}
	return ""
}

func (m *Machine) question(conv *domain.Conversation, st domain.QualificationState) string {
	switch st {
	case domain.NeedPurpose:
		return fmt.Sprintf(AskPurpose, conv.Lead.DisplayName())
	case domain.NeedBudget:
		return AskBudget
	case domain.NeedTime:
		return AskTime
	case domain.NeedIntent:
		return AskIntent
	}
	return ""
}
