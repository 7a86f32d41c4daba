package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/xaenox/helpdesk-agent/internal/models"
)

const noChangesNeeded = "No changes needed - provided values match current values or were invalid"

type updateTitleArgs struct {
	TicketID string `json:"ticketId" validate:"required"`
	Title    string `json:"title" validate:"required,max=255"`
}

type updateDescriptionArgs struct {
	TicketID    string `json:"ticketId" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type assignEmployeeArgs struct {
	TicketID  string `json:"ticketId" validate:"required"`
	ProfileID string `json:"profileId" validate:"required"`
}

type updateStatusArgs struct {
	TicketID   string `json:"ticketId" validate:"required"`
	StatusID   string `json:"statusId,omitempty"`
	PriorityID string `json:"priorityId,omitempty"`
}

type internalCommentArgs struct {
	TicketID string `json:"ticketId" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

func (r *Registry) mutationTools() []*Tool {
	return []*Tool{
		define(UpdateTicketTitle, KindMutation,
			"Update the title of a ticket when it has a placeholder or needs improvement",
			object(map[string]jsonschema.Definition{
				"ticketId": str("The ID of the ticket to update"),
				"title":    str("The new title for the ticket"),
			}, "ticketId", "title"),
			r.updateTicketTitle),
		define(UpdateTicketDescription, KindMutation,
			"Update the description of a ticket to better reflect the issue",
			object(map[string]jsonschema.Definition{
				"ticketId":    str("The ID of the ticket to update"),
				"description": str("The new description for the ticket"),
			}, "ticketId", "description"),
			r.updateTicketDescription),
		define(AssignEmployee, KindMutation,
			"Assign or reassign an employee to a ticket",
			object(map[string]jsonschema.Definition{
				"ticketId":  str("The ID of the ticket"),
				"profileId": str("The ID of the employee to assign"),
			}, "ticketId", "profileId"),
			r.assignEmployee),
		define(UpdateTicketStatus, KindMutation,
			"Update the status and/or priority of a ticket",
			object(map[string]jsonschema.Definition{
				"ticketId":   str("The ID of the ticket"),
				"statusId":   str("The new status ID"),
				"priorityId": str("The new priority ID"),
			}, "ticketId"),
			r.updateTicketStatus),
		define(AddInternalComment, KindMutation,
			"Add an internal comment to a ticket that only employees can see",
			object(map[string]jsonschema.Definition{
				"ticketId": str("The ID of the ticket"),
				"content":  str("The content of the internal comment"),
			}, "ticketId", "content"),
			r.addInternalComment),
	}
}

func (r *Registry) updateTicketTitle(ctx context.Context, args *updateTitleArgs) Outcome {
	return r.withTicketLock(ctx, args.TicketID, func() Outcome {
		ticket, err := r.store.GetTicket(ctx, args.TicketID)
		if err != nil {
			return lookupFailed(err, "Ticket not found: %s", args.TicketID)
		}
		if ticket.Title == args.Title {
			return Soft("%s", noChangesNeeded)
		}

		if err := r.applyUpdate(ctx, args.TicketID, models.TicketUpdate{Title: &args.Title}, models.Changes{
			"title": models.FieldDiff{From: ticket.Title, To: args.Title},
		}); err != nil {
			return Hard(err)
		}
		return OK("Updated ticket title to: " + args.Title)
	})
}

func (r *Registry) updateTicketDescription(ctx context.Context, args *updateDescriptionArgs) Outcome {
	return r.withTicketLock(ctx, args.TicketID, func() Outcome {
		ticket, err := r.store.GetTicket(ctx, args.TicketID)
		if err != nil {
			return lookupFailed(err, "Ticket not found: %s", args.TicketID)
		}

		var from any
		if ticket.Description != nil {
			if *ticket.Description == args.Description {
				return Soft("%s", noChangesNeeded)
			}
			from = *ticket.Description
		}

		if err := r.applyUpdate(ctx, args.TicketID, models.TicketUpdate{Description: &args.Description}, models.Changes{
			"description": models.FieldDiff{From: from, To: args.Description},
		}); err != nil {
			return Hard(err)
		}
		return OK("Updated ticket description")
	})
}

func (r *Registry) assignEmployee(ctx context.Context, args *assignEmployeeArgs) Outcome {
	return r.withTicketLock(ctx, args.TicketID, func() Outcome {
		if _, err := r.store.GetTicket(ctx, args.TicketID); err != nil {
			return lookupFailed(err, "Ticket not found: %s", args.TicketID)
		}

		profile, err := r.store.GetProfile(ctx, args.ProfileID)
		if err != nil {
			return lookupFailed(err, "Employee not found: %s", args.ProfileID)
		}
		if !profile.IsStaff() {
			return Soft("Profile %s is not an active employee and cannot be assigned", args.ProfileID)
		}

		var from *string
		existing, err := r.store.GetIndividualAssignment(ctx, args.TicketID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return Hard(err)
		case existing.ProfileID != nil && *existing.ProfileID == args.ProfileID:
			return Soft("No changes needed - employee %s is already assigned to this ticket", args.ProfileID)
		default:
			from = existing.ProfileID
		}

		removed := []string{}
		if from != nil {
			removed = append(removed, *from)
		}
		_, err = r.audit.Record(ctx, args.TicketID, nil, true, models.ActionUpdate, models.Changes{
			"assignees": models.AssigneeDiff{Removed: removed, Added: []string{args.ProfileID}},
		}, func(ctx context.Context, entry *models.HistoryEntry) error {
			return r.store.AssignIndividual(ctx, args.TicketID, from, args.ProfileID, entry)
		})
		if errors.Is(err, models.ErrConflict) {
			return Soft("Assignment of ticket %s changed while updating it; fetch the ticket details and try again", args.TicketID)
		}
		if err != nil {
			return Hard(err)
		}
		return OK(fmt.Sprintf("Assigned employee %s to ticket", args.ProfileID))
	})
}

func (r *Registry) updateTicketStatus(ctx context.Context, args *updateStatusArgs) Outcome {
	if args.StatusID == "" && args.PriorityID == "" {
		return Soft("Invalid arguments for %s: statusId or priorityId is required", UpdateTicketStatus)
	}

	return r.withTicketLock(ctx, args.TicketID, func() Outcome {
		ticket, err := r.store.GetTicket(ctx, args.TicketID)
		if err != nil {
			return lookupFailed(err, "Ticket not found: %s", args.TicketID)
		}

		var (
			update  models.TicketUpdate
			changes = models.Changes{}
			updated []string
			notes   []string
		)

		if args.StatusID != "" {
			status, err := r.store.GetStatus(ctx, args.StatusID)
			switch {
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return Hard(err)
			case err != nil || !status.IsActive:
				notes = append(notes, fmt.Sprintf("Invalid or inactive status ID provided: %s. Status not updated.", args.StatusID))
			case status.ID != ticket.StatusID:
				update.StatusID = &status.ID
				changes["status_id"] = models.FieldDiff{From: ticket.StatusID, To: status.ID}
				updated = append(updated, "status")
			}
		}

		if args.PriorityID != "" {
			priority, err := r.store.GetPriority(ctx, args.PriorityID)
			switch {
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return Hard(err)
			case err != nil || !priority.IsActive:
				notes = append(notes, fmt.Sprintf("Invalid or inactive priority ID provided: %s. Priority not updated.", args.PriorityID))
			case priority.ID != ticket.PriorityID:
				update.PriorityID = &priority.ID
				changes["priority_id"] = models.FieldDiff{From: ticket.PriorityID, To: priority.ID}
				updated = append(updated, "priority")
			}
		}

		if update.Empty() {
			return Soft("%s", joinNotes(noChangesNeeded, notes))
		}

		if err := r.applyUpdate(ctx, args.TicketID, update, changes); err != nil {
			return Hard(err)
		}
		return OK(joinNotes("Successfully updated ticket "+strings.Join(updated, " and "), notes))
	})
}

func (r *Registry) addInternalComment(ctx context.Context, args *internalCommentArgs) Outcome {
	return r.withTicketLock(ctx, args.TicketID, func() Outcome {
		if _, err := r.store.GetTicket(ctx, args.TicketID); err != nil {
			return lookupFailed(err, "Ticket not found: %s", args.TicketID)
		}

		err := r.store.AddComment(ctx, &models.Comment{
			TicketID:   args.TicketID,
			Content:    args.Content,
			IsInternal: true,
			FromAI:     true,
		})
		if err != nil {
			return Hard(err)
		}
		return OK("Added internal comment to ticket")
	})
}

// applyUpdate writes update and its history entry together.
func (r *Registry) applyUpdate(ctx context.Context, ticketID string, update models.TicketUpdate, changes models.Changes) error {
	_, err := r.audit.Record(ctx, ticketID, nil, true, models.ActionUpdate, changes, func(ctx context.Context, entry *models.HistoryEntry) error {
		return r.store.UpdateTicket(ctx, ticketID, update, entry)
	})
	return err
}

func joinNotes(msg string, notes []string) string {
	if len(notes) == 0 {
		return msg
	}
	return msg + ". " + strings.Join(notes, " ")
}
