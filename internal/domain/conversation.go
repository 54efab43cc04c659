package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the concierge.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Message is one turn of a conversation.
type Message struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// QualificationState is the position in the opening script.
type QualificationState string

const (
	NeedName    QualificationState = "need_name"
	NeedPurpose QualificationState = "need_purpose"
	NeedBudget  QualificationState = "need_budget"
	NeedTime    QualificationState = "need_time"
	NeedIntent  QualificationState = "need_intent"
	Free        QualificationState = "free"
)

// QualificationFlag marks one opening question as resolved, either asked
// and answered or volunteered by the lead.
type QualificationFlag uint8

const (
	FlagName QualificationFlag = 1 << iota
	FlagNeeds
	FlagBudget
	FlagContactTime
	FlagIntent
)

// Qualification tracks the opening script for one lead.
type Qualification struct {
	State    QualificationState `json:"state"`
	Flags    QualificationFlag  `json:"flags"`
	NameAsks int                `json:"name_asks"`
}

// Has reports whether f is set.
func (q Qualification) Has(f QualificationFlag) bool { return q.Flags&f != 0 }

// Set marks f resolved.
func (q *Qualification) Set(f QualificationFlag) { q.Flags |= f }

// PendingQuestion is a lead question waiting for a manager answer.
type PendingQuestion struct {
	ID             uuid.UUID `json:"id"`
	Phone          string    `json:"phone"`
	Question       string    `json:"question"`
	Project        string    `json:"project,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
}

// NewPendingQuestion creates a pending question stamped at now.
func NewPendingQuestion(phone, question, project string, now time.Time) *PendingQuestion {
	return &PendingQuestion{
		ID:             uuid.New(),
		Phone:          phone,
		Question:       question,
		Project:        project,
		CreatedAt:      now,
		LastNotifiedAt: now,
	}
}

// Meeting is a requested video call.
type Meeting struct {
	RequestedAt time.Time `json:"requested_at"`
	Details     string    `json:"details"`
}

// Conversation is the full per-lead state.
type Conversation struct {
	Lead              Lead             `json:"lead"`
	History           []Message        `json:"history"`
	Qualification     Qualification    `json:"qualification"`
	LastProject       string           `json:"last_project,omitempty"`
	Pending           *PendingQuestion `json:"pending,omitempty"`
	RecontactAttempts int              `json:"recontact_attempts"`
	ReminderSent      bool             `json:"reminder_sent"`
	NextFollowUp      time.Time        `json:"next_follow_up,omitzero"`
	Zoom              *Meeting         `json:"zoom,omitempty"`
	IsManager         bool             `json:"is_manager"`
	AwaitingMenu      bool             `json:"awaiting_menu"`
	Tasks             []Task           `json:"tasks,omitempty"`
}

// NewConversation creates the state for a phone first seen at now.
func NewConversation(phone string, now time.Time) *Conversation {
	return &Conversation{
		Lead:          NewLead(phone, now),
		Qualification: Qualification{State: NeedName},
	}
}

// Append adds a message and keeps only the most recent depth messages.
func (c *Conversation) Append(m Message, depth int) {
	c.History = append(c.History, m)
	if depth > 0 && len(c.History) > depth {
		c.History = append([]Message(nil), c.History[len(c.History)-depth:]...)
	}
}

// Tail returns up to n most recent messages.
func (c *Conversation) Tail(n int) []Message {
	if n <= 0 || len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// LastBotMessage returns the most recent outbound text.
func (c *Conversation) LastBotMessage() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Direction == Outbound {
			return c.History[i].Text
		}
	}
	return ""
}

// ResetRecontact clears the silent-lead tracking after an inbound.
func (c *Conversation) ResetRecontact() {
	c.RecontactAttempts = 0
	c.ReminderSent = false
	c.NextFollowUp = time.Time{}
}

// Project returns the project in focus.
func (c *Conversation) Project() string {
	if c.LastProject != "" {
		return c.LastProject
	}
	return c.Lead.Project
}
