package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies entries of the activity journal.
type EventKind string

const (
	EventNewClient     EventKind = "new_client"
	EventEscalation    EventKind = "escalation"
	EventAnswer        EventKind = "answer"
	EventDisinterested EventKind = "disinterested"
	EventOffer         EventKind = "offer"
	EventClose         EventKind = "close"
)

// Event is one journal entry counted by the daily summary.
type Event struct {
	Kind  EventKind `json:"kind"`
	Phone string    `json:"phone"`
	At    time.Time `json:"at"`
}

// Task is a manager follow-up assigned through the console.
type Task struct {
	ID     uuid.UUID `json:"id"`
	Target string    `json:"target"`
	Action string    `json:"action"`
	Time   string    `json:"time,omitempty"`
	Date   string    `json:"date"`
}
