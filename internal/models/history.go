package models

import "time"

const ActionUpdate = "update"

// FieldDiff is the before/after pair recorded for one scalar field.
type FieldDiff struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// AssigneeDiff is the change recorded when the assignee set changes.
type AssigneeDiff struct {
	Removed []string `json:"removed"`
	Added   []string `json:"added"`
}

// Changes maps a field name to a FieldDiff or AssigneeDiff.
type Changes map[string]any

// HistoryEntry is an immutable audit record of ticket changes.
type HistoryEntry struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	ActorID   *string   `json:"actor_id"`
	FromAI    bool      `json:"from_ai"`
	Action    string    `json:"action"`
	Changes   Changes   `json:"changes"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a staff note on a ticket.
type Comment struct {
	ID         string    `json:"id" yaml:"id"`
	TicketID   string    `json:"ticket_id" yaml:"ticket_id"`
	AuthorID   *string   `json:"author_id" yaml:"author_id"`
	Content    string    `json:"content" yaml:"content"`
	IsInternal bool      `json:"is_internal" yaml:"is_internal"`
	FromAI     bool      `json:"from_ai" yaml:"from_ai"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// ConversationMessage is one line of the customer-facing chat on a ticket.
type ConversationMessage struct {
	ID        string    `json:"id" yaml:"id"`
	TicketID  string    `json:"ticket_id" yaml:"ticket_id"`
	ProfileID *string   `json:"profile_id" yaml:"profile_id"`
	Text      string    `json:"text" yaml:"text"`
	FromAI    bool      `json:"from_ai" yaml:"from_ai"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
