// Package domain contains the core business entities of the concierge.
package domain

import (
	"fmt"
	"time"

	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Stage is the coarse sales funnel position of a lead.
type Stage string

const (
	StageProspecting   Stage = "prospecting"
	StageQualification Stage = "qualification"
	StageNegotiation   Stage = "negotiation"
	StageClosing       Stage = "closing"
)

var stageLabels = map[Stage]string{
	StageProspecting:   "Prospección",
	StageQualification: "Calificación",
	StageNegotiation:   "Negociación",
	StageClosing:       "Cierre",
}

// Spanish returns the label shown to the manager.
func (s Stage) Spanish() string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return string(s)
}

// ParseStage accepts English or Spanish names, ignoring case and accents.
func ParseStage(s string) (Stage, error) {
	key := textnorm.Simplify(s)
	for stage, label := range stageLabels {
		if key == string(stage) || key == textnorm.Simplify(label) {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// MaxInterest is the upper bound of the interest level.
const MaxInterest = 10

// Lead is a prospective buyer keyed by messaging address.
type Lead struct {
	Phone         string    `json:"phone"`
	Name          string    `json:"name,omitempty"`
	Project       string    `json:"project,omitempty"`
	Budget        *float64  `json:"budget,omitempty"`
	BudgetText    string    `json:"budget_text,omitempty"`
	Needs         string    `json:"needs,omitempty"`
	PreferredTime string    `json:"preferred_time,omitempty"`
	Location      string    `json:"location,omitempty"`
	Intent        string    `json:"intent,omitempty"`
	Email         string    `json:"email,omitempty"`
	Stage         Stage     `json:"stage"`
	InterestLevel int       `json:"interest_level"`
	Priority      bool      `json:"priority"`
	Disinterested bool      `json:"disinterested"`
	FirstContact  time.Time `json:"first_contact"`
	LastInbound   time.Time `json:"last_inbound,omitzero"`
	LastOutbound  time.Time `json:"last_outbound,omitzero"`
}

// NewLead creates a lead in the Prospecting stage.
func NewLead(phone string, now time.Time) Lead {
	return Lead{
		Phone:        phone,
		Stage:        StageProspecting,
		FirstContact: now,
	}
}

// BumpInterest raises the interest level to at least min. Automatic
// updates never lower it.
func (l *Lead) BumpInterest(min int) {
	if min > MaxInterest {
		min = MaxInterest
	}
	if l.InterestLevel < min {
		l.InterestLevel = min
	}
}

// SetInterest overrides the interest level, clamped to [0, MaxInterest].
// Only manual corrections use it.
func (l *Lead) SetInterest(level int) {
	switch {
	case level < 0:
		level = 0
	case level > MaxInterest:
		level = MaxInterest
	}
	l.InterestLevel = level
}

// DisplayName returns the name or a placeholder.
func (l *Lead) DisplayName() string {
	if l.Name == "" {
		return "Sin nombre"
	}
	return l.Name
}

// DigitsKey is the phone reduced to digits, used in blob keys.
func (l *Lead) DigitsKey() string {
	return textnorm.Digits(l.Phone)
}

// BudgetLabel renders the budget for reports.
func (l *Lead) BudgetLabel() string {
	switch {
	case l.Budget != nil:
		return fmt.Sprintf("%.0f USD", *l.Budget)
	case l.BudgetText != "":
		return l.BudgetText
	default:
		return "No especificado"
	}
}
