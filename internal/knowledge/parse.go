package knowledge

import (
	"bufio"
	"strings"

	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

type section int

const (
	secDescription section = iota
	secCommonAreas
	secTypologies
	secConstruction
	secDelivery
	secPrices
	secPaymentPlans
)

// sectionKeywords is checked in order; payment plans precede prices so
// "precios y planes de pago" lands in payment plans.
var sectionKeywords = []struct {
	sec      section
	keywords []string
}{
	{secPaymentPlans, []string{"planes de pago", "plan de pago", "formas de pago", "financiamiento", "payment plan"}},
	{secPrices, []string{"precio", "prices", "price list"}},
	{secCommonAreas, []string{"areas comunes", "amenidades", "amenities", "common areas"}},
	{secTypologies, []string{"tipologia", "unidades", "typologies"}},
	{secConstruction, []string{"construccion", "especificaciones", "acabados", "construction"}},
	{secDelivery, []string{"entrega", "delivery"}},
	{secDescription, []string{"descripcion", "description", "ubicacion"}},
}

// maxHeaderLen keeps long body lines that mention a keyword from being
// taken as headers.
const maxHeaderLen = 60

// headerSection reports whether line opens a section and returns any text
// after the header's colon.
func headerSection(line string) (section, string, bool) {
	head, rest, hasColon := strings.Cut(line, ":")
	if !hasColon && len(line) > maxHeaderLen {
		return 0, "", false
	}
	if hasColon && len(head) > maxHeaderLen {
		return 0, "", false
	}
	key := textnorm.Simplify(strings.Trim(head, "#*-= "))
	for _, sk := range sectionKeywords {
		for _, kw := range sk.keywords {
			if hasColon && !strings.Contains(key, kw) || !hasColon && !strings.HasPrefix(key, kw) {
				continue
			}
			switch {
			case hasColon:
				return sk.sec, strings.TrimSpace(rest), true
			case len(strings.Fields(line)) > 3:
				// "Precios desde 90000 USD" opens the section and is content.
				return sk.sec, line, true
			default:
				return sk.sec, "", true
			}
		}
	}
	return 0, "", false
}

// ParseProject buckets the lines of a project description into its seven
// sections. Lines before the first header are the description.
func ParseProject(name, text string) *domain.Project {
	buckets := make(map[section][]string)
	current := secDescription

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if sec, rest, ok := headerSection(line); ok {
			current = sec
			if rest != "" {
				buckets[current] = append(buckets[current], rest)
			}
			continue
		}
		buckets[current] = append(buckets[current], line)
	}

	join := func(s section) string { return strings.Join(buckets[s], "\n") }
	return &domain.Project{
		Name:         name,
		Description:  join(secDescription),
		CommonAreas:  join(secCommonAreas),
		Typologies:   join(secTypologies),
		Construction: join(secConstruction),
		Delivery:     join(secDelivery),
		Prices:       join(secPrices),
		PaymentPlans: join(secPaymentPlans),
	}
}

// FormatFAQ renders one FAQ record as stored in faq blobs.
func FormatFAQ(question, answer string) string {
	return "Pregunta: " + oneLine(question) + "\nRespuesta: " + oneLine(answer) + "\n"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseFAQ reads Pregunta/Respuesta records. Answer continuation lines are
// joined to the preceding answer.
func ParseFAQ(text string) []domain.FAQEntry {
	var (
		out      []domain.FAQEntry
		question string
		inAnswer bool
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Pregunta:"):
			question = strings.TrimSpace(strings.TrimPrefix(line, "Pregunta:"))
			inAnswer = false
		case strings.HasPrefix(line, "Respuesta:") && question != "":
			out = append(out, domain.FAQEntry{
				Question: question,
				Answer:   strings.TrimSpace(strings.TrimPrefix(line, "Respuesta:")),
			})
			inAnswer = true
		case inAnswer && line != "":
			last := &out[len(out)-1]
			last.Answer += " " + line
		}
	}
	return out
}
