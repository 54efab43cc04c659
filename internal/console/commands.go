package console

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Kind identifies a console command.
type Kind string

const (
	KindNone          Kind = ""
	KindMenu          Kind = "menu"
	KindReport        Kind = "reporte"
	KindNames         Kind = "nombres"
	KindPriority      Kind = "marca"
	KindDailySummary  Kind = "resumen_dia"
	KindWeeklySummary Kind = "resumen_semanal"
	KindCall          Kind = "llamar"
	KindSearch        Kind = "busca"
	KindAddFAQ        Kind = "faq"
	KindExport        Kind = "exportar"
)

// Command is a parsed manager message.
type Command struct {
	Kind     Kind
	Stage    *domain.Stage
	Interest *int
	Target   string
	Tomorrow bool
	Time     string
	Project  string
	Question string
	Answer   string
	// Usage is set when the command was recognized but its arguments were
	// missing or invalid.
	Usage string
}

// menu entries in numeric order.
var menu = []struct {
	kind  Kind
	label string
	usage string
}{
	{KindReport, "Reporte de interés (ej. reporte etapa negociación interés 8)", ""},
	{KindNames, "Nombres de clientes interesados", ""},
	{KindDailySummary, "Resumen del día", ""},
	{KindWeeklySummary, "Resumen semanal", ""},
	{KindPriority, "Marcar cliente prioritario", "Escribe: marca <teléfono> prioritario"},
	{KindCall, "Agendar llamada", "Escribe: llamar a <teléfono> mañana a las 10:00"},
	{KindSearch, "Buscar cliente", "Escribe: busca a <teléfono>"},
	{KindAddFAQ, "Añadir FAQ", "Escribe: añade faq para <proyecto>: Pregunta: ... Respuesta: ..."},
}

// MenuText lists the numbered commands.
func MenuText() string {
	var b strings.Builder
	b.WriteString("📋 Menú de gerente. Responde con un número o escribe el comando:\n")
	for i, m := range menu {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(m.label)
		b.WriteString("\n")
	}
	b.WriteString("También: exportar (hoja de clientes). Cualquier otro mensaje responde la pregunta pendiente más antigua.")
	return b.String()
}

var (
	faqRe         = regexp.MustCompile(`(?is)\ba(?:ñ|n)ade\s+(?:una\s+)?faq\s+para\s+(.+?)\s*:\s*pregunta\s*:\s*(.+?)\s*respuesta\s*:\s*(.+?)\s*$`)
	faqHeadRe     = regexp.MustCompile(`\banade\s+(?:una\s+)?faq\b`)
	callRe        = regexp.MustCompile(`\bllamar\s+a\s+(` + phoneArg + `)\s+(hoy|manana)\b(?:\s+a\s+las\s+(\d{1,2}(?::\d{2})?(?:\s*[ap]m)?))?`)
	priorityRe    = regexp.MustCompile(`\bmarca\s+(?:a\s+|al\s+)?(` + phoneArg + `)\s+(?:como\s+)?prioritari[oa]\b`)
	searchRe      = regexp.MustCompile(`\bbusca(?:r)?\s+(?:a\s+|al\s+)?(` + phoneArg + `)`)
	dailyRe       = regexp.MustCompile(`\bresumen\s+(?:del\s+dia|diario|de\s+hoy)\b`)
	weeklyRe      = regexp.MustCompile(`\bresumen\s+(?:semanal|de\s+la\s+semana)\b`)
	reportRe      = regexp.MustCompile(`\breporte\b`)
	stageArgRe    = regexp.MustCompile(`\betapa\s+(?:de\s+)?([^\s.,;:!?]+)`)
	interestArgRe = regexp.MustCompile(`\binteres\s+(?:de\s+)?(\d+)`)
	namesRe       = regexp.MustCompile(`\bnombres\b`)
	exportRe      = regexp.MustCompile(`\bexporta(?:r)?\b`)
	menuRe        = regexp.MustCompile(`\b(?:menu|comandos)\b`)
)

// phoneArg matches a phone number or a fragment of one.
const phoneArg = `\+?\d[\d\s()-]*\d|\d`

// Parse recognizes a console command anywhere in the message, ignoring case
// and accents. A bare menu number is honored only when menuInput is set.
// KindNone means the text is an answer to a pending question.
func Parse(text string, menuInput bool) Command {
	key := strings.Join(strings.Fields(textnorm.Simplify(text)), " ")
	key = strings.TrimRight(key, ".!?¡¿ ")

	if menuInput {
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(menu) {
			m := menu[n-1]
			return Command{Kind: m.kind, Usage: m.usage}
		}
	}

	// FAQ first: its answer is free text that may mention other commands.
	if m := faqRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindAddFAQ, Project: m[1], Question: m[2], Answer: m[3]}
	}
	if faqHeadRe.MatchString(key) {
		return Command{Kind: KindAddFAQ, Usage: menu[7].usage}
	}
	if m := callRe.FindStringSubmatch(key); m != nil {
		return Command{Kind: KindCall, Target: m[1], Tomorrow: m[2] == "manana", Time: m[3]}
	}
	if strings.HasPrefix(key, "llamar a ") {
		return Command{Kind: KindCall, Usage: menu[5].usage}
	}
	if m := priorityRe.FindStringSubmatch(key); m != nil {
		return Command{Kind: KindPriority, Target: m[1]}
	}
	if strings.HasPrefix(key, "marca ") && strings.Contains(key, "prioritari") {
		return Command{Kind: KindPriority, Usage: menu[4].usage}
	}
	if m := searchRe.FindStringSubmatch(key); m != nil {
		return Command{Kind: KindSearch, Target: m[1]}
	}
	if strings.HasPrefix(key, "busca ") || strings.HasPrefix(key, "buscar ") {
		return Command{Kind: KindSearch, Usage: menu[6].usage}
	}

	switch {
	case dailyRe.MatchString(key):
		return Command{Kind: KindDailySummary}
	case weeklyRe.MatchString(key):
		return Command{Kind: KindWeeklySummary}
	case reportRe.MatchString(key):
		return parseReport(key[reportRe.FindStringIndex(key)[1]:])
	case namesRe.MatchString(key):
		return Command{Kind: KindNames}
	case exportRe.MatchString(key):
		return Command{Kind: KindExport}
	case key == "ayuda" || menuRe.MatchString(key):
		return Command{Kind: KindMenu}
	}
	return Command{Kind: KindNone}
}

// parseReport reads the optional stage and interest filters that follow the
// report keyword.
func parseReport(args string) Command {
	cmd := Command{Kind: KindReport}
	if m := stageArgRe.FindStringSubmatch(args); m != nil {
		stage, err := domain.ParseStage(m[1])
		if err != nil {
			cmd.Usage = "Etapas válidas: prospección, calificación, negociación, cierre."
			return cmd
		}
		cmd.Stage = &stage
	}
	if m := interestArgRe.FindStringSubmatch(args); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > domain.MaxInterest {
			cmd.Usage = "El interés va de 0 a 10."
			return cmd
		}
		cmd.Interest = &n
	}
	return cmd
}

var pleasantries = map[string]bool{
	"gracias": true, "muchas gracias": true, "ok": true, "okay": true, "vale": true,
	"hola": true, "buenos dias": true, "buenas tardes": true, "buenas noches": true,
	"buenas": true, "perfecto": true, "listo": true, "de nada": true, "si": true,
	"no": true, "claro": true, "entendido": true, "excelente": true, "genial": true,
}

// IsPleasantry reports whether text is a greeting or acknowledgement rather
// than an answer.
func IsPleasantry(text string) bool {
	key := strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,;:!?¡¿👍🙏😊", r) {
			return -1
		}
		return r
	}, textnorm.Simplify(text))
	return pleasantries[strings.Join(strings.Fields(key), " ")]
}
