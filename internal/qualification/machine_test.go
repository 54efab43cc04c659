package qualification

import (
	"fmt"
	"testing"
	"time"

	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/intent"
)

func newConv() *domain.Conversation {
	return domain.NewConversation("whatsapp:+5215512345678", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
}

func step(t *testing.T, m *Machine, c *intent.Classifier, conv *domain.Conversation, text, profile string) Step {
	t.Helper()
	in := Input{Text: text, ProfileName: profile, Intent: c.Classify(text)}
	Volunteer(conv, in)
	return m.Step(conv, in)
}

func classifier(t *testing.T) *intent.Classifier {
	t.Helper()
	c, err := intent.New(intent.DefaultRules(), nil)
	if err != nil {
		t.Fatalf("intent.New() error = %v", err)
	}
	return c
}

func TestMachine_FullScript(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()

	script := []struct {
		in        string
		wantReply string
		wantState domain.QualificationState
	}{
		{"hola", AskName, domain.NeedName},
		{"me llamo Ana", fmt.Sprintf(AskPurpose, "Ana"), domain.NeedPurpose},
		{"para vivir con mi familia", AskBudget, domain.NeedBudget},
		{"unos 150 mil", AskTime, domain.NeedTime},
		{"por las tardes", AskIntent, domain.NeedIntent},
		{"en tres meses", fmt.Sprintf(HandOff, "Ana"), domain.Free},
	}
	for i, s := range script {
		got := step(t, m, c, conv, s.in, "")
		if !got.Handled || got.Reply != s.wantReply {
			t.Fatalf("turn %d: got %+v, want reply %q", i, got, s.wantReply)
		}
		if conv.Qualification.State != s.wantState {
			t.Fatalf("turn %d: state = %s, want %s", i, conv.Qualification.State, s.wantState)
		}
	}

	lead := conv.Lead
	if lead.Name != "Ana" || lead.Needs != "vivir" || lead.PreferredTime != "por las tardes" || lead.Intent != "en tres meses" {
		t.Errorf("lead = %+v", lead)
	}
	if lead.Budget == nil || *lead.Budget != 150000 {
		t.Errorf("budget = %v, want 150000", lead.Budget)
	}
	if conv.Qualification.NameAsks != 1 {
		t.Errorf("NameAsks = %d, want 1", conv.Qualification.NameAsks)
	}
	if lead.Stage != domain.StageQualification {
		t.Errorf("stage = %s, want qualification", lead.Stage)
	}

	if got := step(t, m, c, conv, "¿tienen alberca?", ""); got.Handled {
		t.Errorf("script over, got %+v", got)
	}
}

func TestMachine_FirstMessageLeavesFlagsUnset(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()
	step(t, m, c, conv, "hola", "")
	if conv.Qualification.Flags != 0 {
		t.Errorf("flags = %b, want none", conv.Qualification.Flags)
	}
	if conv.Lead.Stage != domain.StageProspecting {
		t.Errorf("stage = %s", conv.Lead.Stage)
	}
}

func TestMachine_ProfileNameSkipsNameQuestion(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()
	got := step(t, m, c, conv, "hola", "Luis Pérez")
	if got.Reply != fmt.Sprintf(AskPurpose, "Luis") {
		t.Errorf("reply = %q", got.Reply)
	}
	if conv.Qualification.NameAsks != 0 {
		t.Errorf("name should not be asked, NameAsks = %d", conv.Qualification.NameAsks)
	}
}

func TestMachine_NameFallbackAfterTwoAsks(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()
	replies := []string{
		step(t, m, c, conv, "hola", "").Reply,
		step(t, m, c, conv, "hola", "").Reply,
		step(t, m, c, conv, "123", "").Reply,
	}
	want := []string{AskName, AskNameAgain, fmt.Sprintf(AskPurpose, FallbackName)}
	for i := range want {
		if replies[i] != want[i] {
			t.Errorf("reply %d = %q, want %q", i, replies[i], want[i])
		}
	}
	if conv.Lead.Name != FallbackName {
		t.Errorf("name = %q", conv.Lead.Name)
	}
}

func TestMachine_VolunteeredAnswersSkipStates(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()
	got := step(t, m, c, conv, "Hola, me llamo Ana, busco invertir y mi presupuesto es de 300 mil", "")
	if got.Reply != AskTime {
		t.Fatalf("reply = %q, want time question", got.Reply)
	}
	q := conv.Qualification
	if !q.Has(domain.FlagName) || !q.Has(domain.FlagNeeds) || !q.Has(domain.FlagBudget) || q.Has(domain.FlagContactTime) {
		t.Errorf("flags = %b", q.Flags)
	}
	if conv.Lead.Budget == nil || *conv.Lead.Budget != 300000 {
		t.Errorf("budget = %v", conv.Lead.Budget)
	}
}

func TestMachine_EachQuestionAskedOnce(t *testing.T) {
	m, c, conv := New(2), classifier(t), newConv()
	asked := map[string]int{}
	for _, text := range []string{"hola", "Ana", "x", "y", "z", "w", "v", "u"} {
		if s := step(t, m, c, conv, text, ""); s.Handled {
			asked[s.Reply]++
		}
	}
	for reply, n := range asked {
		if n > 1 {
			t.Errorf("%q asked %d times", reply, n)
		}
	}
}

func TestSetBudget_Unparseable(t *testing.T) {
	var lead domain.Lead
	SetBudget(&lead, "depende")
	if lead.Budget != nil || lead.BudgetText != "depende" {
		t.Errorf("lead = %+v", lead)
	}
}
