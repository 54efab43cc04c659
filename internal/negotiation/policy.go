// Package negotiation decides how to answer a price offer.
package negotiation

import (
	"math/rand"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Outcome of an evaluated offer.
type Outcome string

const (
	Accept              Outcome = "accept"
	CounterPersonalized Outcome = "counter_personalized"
	Counter             Outcome = "counter"
	Reject              Outcome = "reject"
)

// Label groups both counter outcomes for metrics and events.
func (o Outcome) Label() string {
	if o == CounterPersonalized {
		return string(Counter)
	}
	return string(o)
}

// Intros open every negotiation reply.
var Intros = []string{
	"¡Gracias por tu propuesta!",
	"Agradezco mucho tu interés.",
	"Qué gusto que sigamos avanzando.",
	"Aprecio que me compartas tu oferta.",
}

// Decision is the evaluated offer.
type Decision struct {
	Outcome   Outcome
	Offer     int64
	MinPrice  int64
	MarginPct int
	// Threshold is ⌊P·M⌋, also the counter price.
	Threshold int64
	Reply     string
}

// Policy evaluates offers against a project's minimum price.
type Policy struct {
	cfg     config.PolicyConfig
	pick    func(n int) int
	printer *message.Printer
}

// Option customizes a Policy.
type Option func(*Policy)

// WithPicker replaces the random intro picker.
func WithPicker(pick func(n int) int) Option {
	return func(p *Policy) { p.pick = pick }
}

// New creates a policy.
func New(cfg config.PolicyConfig, opts ...Option) *Policy {
	p := &Policy{
		cfg:     cfg,
		pick:    rand.Intn,
		printer: message.NewPrinter(language.Spanish),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MarginPct returns M as a percentage: the high margin when the lead's
// budget reaches the budget ratio of P, otherwise the low margin.
func (p *Policy) MarginPct(budget *float64, minPrice int64) int {
	if budget != nil && *budget*100 >= float64(int64(p.cfg.BudgetRatioPct)*minPrice) {
		return p.cfg.HighMarginPct
	}
	return p.cfg.LowMarginPct
}

// Evaluate decides the outcome for offer. project may be nil, in which case
// the default minimum price applies. lastBot is the previous outbound text.
func (p *Policy) Evaluate(lead *domain.Lead, project *domain.Project, offer int64, lastBot string) Decision {
	minPrice := p.cfg.DefaultMinPrice
	name := "el proyecto"
	if project != nil {
		minPrice = project.MinPrice(p.cfg.DefaultMinPrice)
		name = project.Name
	}

	m := p.MarginPct(lead.Budget, minPrice)
	d := Decision{
		Offer:     offer,
		MinPrice:  minPrice,
		MarginPct: m,
		Threshold: minPrice * int64(m) / 100,
	}

	switch {
	case offer*100 >= minPrice*int64(m):
		d.Outcome = Accept
	case offer*100 >= minPrice*int64(m-p.cfg.CounterBandPct):
		d.Outcome = Counter
		if strings.Contains(textnorm.Simplify(lastBot), "oferta") {
			d.Outcome = CounterPersonalized
		}
	default:
		d.Outcome = Reject
	}

	d.Reply = Intros[p.pick(len(Intros))] + " " + p.clause(d, name)
	return d
}

func (p *Policy) clause(d Decision, project string) string {
	switch d.Outcome {
	case Accept:
		return p.printer.Sprintf("Tu oferta de %d USD por %s es aceptable. ¿Confirmamos para preparar la documentación final?", d.Offer, project)
	case CounterPersonalized:
		return p.printer.Sprintf("Podemos armarte un plan personalizado en %s por %d USD. ¿Te interesa?", project, d.Threshold)
	case Counter:
		return p.printer.Sprintf("La mejor propuesta que podemos hacerte en %s es de %d USD.", project, d.Threshold)
	default:
		return p.printer.Sprintf("Por ahora no podemos aceptar %d USD por %s, pero tenemos opciones de financiamiento que pueden ayudarte. ¿Quieres conocerlas?", d.Offer, project)
	}
}

// Apply bumps interest for any evaluated offer and moves the lead to
// Closing on accept.
func (p *Policy) Apply(lead *domain.Lead, d Decision) {
	lead.BumpInterest(p.cfg.OfferInterest)
	if d.Outcome == Accept {
		lead.Stage = domain.StageClosing
	} else if lead.Stage != domain.StageClosing {
		lead.Stage = domain.StageNegotiation
	}
}
