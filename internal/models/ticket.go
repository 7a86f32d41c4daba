package models

import (
	"encoding/json"
	"time"
)

// Ticket is a customer support ticket. Only Title, Description, StatusID and
// PriorityID are ever changed by the agent.
type Ticket struct {
	ID             string          `json:"id" yaml:"id"`
	Title          string          `json:"title" yaml:"title"`
	Description    *string         `json:"description" yaml:"description"`
	StatusID       string          `json:"status_id" yaml:"status_id"`
	PriorityID     string          `json:"priority_id" yaml:"priority_id"`
	CreatorID      string          `json:"creator_id" yaml:"creator_id"`
	OrganizationID *string         `json:"organization_id" yaml:"organization_id"`
	CustomFields   json.RawMessage `json:"custom_fields,omitempty" yaml:"-"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	ResolvedAt     *time.Time      `json:"resolved_at" yaml:"resolved_at"`
	DueDate        *time.Time      `json:"due_date" yaml:"due_date"`
}

// TicketUpdate is a partial update; nil fields are left untouched.
type TicketUpdate struct {
	Title       *string
	Description *string
	StatusID    *string
	PriorityID  *string
}

// Empty reports whether the update carries no field.
func (u TicketUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.StatusID == nil && u.PriorityID == nil
}

const (
	AssignmentIndividual = "individual"
	AssignmentTeam       = "team"
)

// Assignment links a ticket to a staff profile or a team.
type Assignment struct {
	ID             string    `json:"id" yaml:"id"`
	TicketID       string    `json:"ticket_id" yaml:"ticket_id"`
	ProfileID      *string   `json:"profile_id" yaml:"profile_id"`
	TeamID         *string   `json:"team_id,omitempty" yaml:"team_id"`
	AssignmentType string    `json:"assignment_type" yaml:"assignment_type"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// AssigneeView is an assignment joined with the assignee's name.
type AssigneeView struct {
	ProfileID      *string `json:"profile_id"`
	AssignmentType string  `json:"assignment_type"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
}

// TicketDetails is the joined snapshot returned by getTicketDetails.
type TicketDetails struct {
	Ticket
	StatusName   string         `json:"status_name"`
	PriorityName string         `json:"priority_name"`
	Assignments  []AssigneeView `json:"assignments"`
}

// CatalogEntry is a ticket status or priority option.
type CatalogEntry struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	IsActive      bool   `json:"is_active" yaml:"is_active"`
	IsCountedOpen bool   `json:"is_counted_open,omitempty" yaml:"is_counted_open"`
}
