// Package report renders manager reports and the lead spreadsheet.
package report

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
)

const dateLayout = "2006-01-02 15:04"

// Filter narrows the interest report. Nil fields match everything.
type Filter struct {
	Stage    *domain.Stage
	Interest *int
}

// Match reports whether the lead passes the filter.
func (f Filter) Match(l *domain.Lead) bool {
	if f.Stage != nil && l.Stage != *f.Stage {
		return false
	}
	if f.Interest != nil && l.InterestLevel != *f.Interest {
		return false
	}
	return true
}

func (f Filter) String() string {
	var parts []string
	if f.Stage != nil {
		parts = append(parts, "etapa "+f.Stage.Spanish())
	}
	if f.Interest != nil {
		parts = append(parts, fmt.Sprintf("interés %d", *f.Interest))
	}
	return strings.Join(parts, ", ")
}

// Reporter reads conversation state and renders reports.
type Reporter struct {
	store  *conversation.Store
	blobs  blob.Store
	loc    *time.Location
	logger *zap.Logger
}

// New creates a reporter. Dates render in loc, UTC when nil.
func New(store *conversation.Store, blobs blob.Store, loc *time.Location, logger *zap.Logger) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{store: store, blobs: blobs, loc: loc, logger: logger}
}

// InterestReport renders one block per lead passing the filter.
func (r *Reporter) InterestReport(f Filter) string {
	var blocks []string
	for _, conv := range r.store.Leads() {
		if f.Match(&conv.Lead) {
			blocks = append(blocks, r.LeadSnapshot(conv))
		}
	}

	title := "📊 Reporte de interés"
	if s := f.String(); s != "" {
		title += " (" + s + ")"
	}
	if len(blocks) == 0 {
		return title + "\nNo hay clientes que coincidan con el filtro."
	}
	return title + fmt.Sprintf(" · %d clientes\n\n", len(blocks)) + strings.Join(blocks, "\n\n")
}

// LeadSnapshot renders everything known about one lead.
func (r *Reporter) LeadSnapshot(conv *domain.Conversation) string {
	l := conv.Lead
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s (%s)", l.DisplayName(), l.Phone)
	if l.Priority {
		b.WriteString(" ⭐ prioritario")
	}
	b.WriteString("\n")
	line(&b, "Proyecto", orDefault(conv.Project(), "Sin proyecto"))
	line(&b, "Presupuesto", l.BudgetLabel())
	line(&b, "Necesidad", orDefault(l.Needs, "No especificada"))
	if l.PreferredTime != "" {
		line(&b, "Horario", l.PreferredTime)
	}
	if l.Email != "" {
		line(&b, "Correo", l.Email)
	}
	line(&b, "Etapa", l.Stage.Spanish())
	line(&b, "Interés", fmt.Sprintf("%d/%d", l.InterestLevel, domain.MaxInterest))
	line(&b, "Último contacto", r.lastContact(conv))
	line(&b, "Zoom", r.zoomLabel(conv))
	if l.Disinterested {
		line(&b, "Estado", "No interesado")
	}
	if conv.Pending != nil {
		line(&b, "Pregunta pendiente", conv.Pending.Question)
	}
	for _, t := range conv.Tasks {
		task := t.Action + " " + t.Date
		if t.Time != "" {
			task += " a las " + t.Time
		}
		line(&b, "Tarea", task)
	}

	tail := conv.Tail(3)
	if len(tail) > 0 {
		b.WriteString("Últimos mensajes:\n")
		for _, m := range tail {
			speaker := "Cliente"
			if m.Direction == domain.Outbound {
				speaker = "Bot"
			}
			fmt.Fprintf(&b, "  %s: %s\n", speaker, m.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Names lists the display names of leads still interested.
func (r *Reporter) Names() string {
	var names []string
	for _, conv := range r.store.Leads() {
		if !conv.Lead.Disinterested {
			names = append(names, "• "+conv.Lead.DisplayName())
		}
	}
	if len(names) == 0 {
		return "No hay clientes interesados todavía."
	}
	return "Clientes interesados:\n" + strings.Join(names, "\n")
}

// Counts tallies journal events by kind.
type Counts map[domain.EventKind]int

func (r *Reporter) count(from, to time.Time) Counts {
	c := Counts{}
	for _, e := range r.store.Events(from, to) {
		c[e.Kind]++
	}
	return c
}

func (c Counts) render(b *strings.Builder) {
	fmt.Fprintf(b, "Nuevos clientes: %d\n", c[domain.EventNewClient])
	fmt.Fprintf(b, "Preguntas escaladas: %d\n", c[domain.EventEscalation])
	fmt.Fprintf(b, "Respuestas enviadas: %d\n", c[domain.EventAnswer])
	fmt.Fprintf(b, "No interesados: %d\n", c[domain.EventDisinterested])
	fmt.Fprintf(b, "Ofertas recibidas: %d\n", c[domain.EventOffer])
	fmt.Fprintf(b, "Cierres: %d", c[domain.EventClose])
}

// DailySummary counts the events of the calendar day containing day.
func (r *Reporter) DailySummary(day time.Time) string {
	d := day.In(r.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, r.loc)
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Resumen del día %s\n", start.Format("2006-01-02"))
	r.count(start, start.AddDate(0, 0, 1)).render(&b)
	return b.String()
}

// WeeklySummary counts the seven days ending with end's day and appends the
// detailed interest report.
func (r *Reporter) WeeklySummary(end time.Time) string {
	d := end.In(r.loc)
	stop := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, r.loc).AddDate(0, 0, 1)
	start := stop.AddDate(0, 0, -7)

	var b strings.Builder
	fmt.Fprintf(&b, "🗓️ Resumen semanal %s a %s\n", start.Format("2006-01-02"), stop.AddDate(0, 0, -1).Format("2006-01-02"))
	r.count(start, stop).render(&b)
	b.WriteString("\n\n")
	b.WriteString(r.InterestReport(Filter{}))
	return b.String()
}

func (r *Reporter) lastContact(conv *domain.Conversation) string {
	last := conv.Lead.LastInbound
	if conv.Lead.LastOutbound.After(last) {
		last = conv.Lead.LastOutbound
	}
	if last.IsZero() {
		return "Sin contacto"
	}
	return last.In(r.loc).Format(dateLayout)
}

func (r *Reporter) zoomLabel(conv *domain.Conversation) string {
	if conv.Zoom == nil {
		return "No agendado"
	}
	label := "Solicitado " + conv.Zoom.RequestedAt.In(r.loc).Format(dateLayout)
	if conv.Zoom.Details != "" {
		label += " (" + conv.Zoom.Details + ")"
	}
	return label
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
