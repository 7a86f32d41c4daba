package tools

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/xaenox/helpdesk-agent/internal/models"
)

const employeeSearchLimit = 5

type noArgs struct{}

type findEmployeeArgs struct {
	SearchTerm string `json:"searchTerm" validate:"required"`
}

type ticketArgs struct {
	TicketID string `json:"ticketId" validate:"required"`
}

type searchKnowledgeArgs struct {
	Query string `json:"query" validate:"required"`
}

type employeeResult struct {
	Found       bool             `json:"found"`
	Message     string           `json:"message,omitempty"`
	Employee    *models.Employee `json:"employee,omitempty"`
	TicketCount *int             `json:"ticketCount,omitempty"`
}

type statusOption struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	IsCountedOpen bool   `json:"is_counted_open"`
}

type priorityOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func object(props map[string]jsonschema.Definition, required ...string) jsonschema.Definition {
	if props == nil {
		props = map[string]jsonschema.Definition{}
	}
	return jsonschema.Definition{Type: jsonschema.Object, Properties: props, Required: required}
}

func str(description string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: description}
}

func (r *Registry) queryTools() []*Tool {
	return []*Tool{
		define(FindEmployee, KindQuery,
			"Find an employee by name or email to get their profile ID",
			object(map[string]jsonschema.Definition{
				"searchTerm": str("Name or identifier to search for (e.g., 'Robert', 'Bob Smith')"),
			}, "searchTerm"),
			r.findEmployee),
		define(FindLeastLoadedEmployee, KindQuery,
			"Find the employee with the fewest open tickets for automatic assignment",
			object(nil),
			r.findLeastLoadedEmployee),
		define(GetTicketDetails, KindQuery,
			"Get complete details about a ticket including assignments, status, and priority",
			object(map[string]jsonschema.Definition{
				"ticketId": str("The ID of the ticket to get details for"),
			}, "ticketId"),
			r.getTicketDetails),
		define(GetStatusOptions, KindQuery,
			"Get list of available ticket status options",
			object(nil),
			r.getStatusOptions),
		define(GetPriorityOptions, KindQuery,
			"Get list of available ticket priority options",
			object(nil),
			r.getPriorityOptions),
		define(SearchKnowledgeBase, KindQuery,
			"Search for relevant public knowledge base articles using semantic similarity. Returns both highly relevant (similarity > 0.85) and possibly relevant (similarity > 0.7) articles, clearly marked.",
			object(map[string]jsonschema.Definition{
				"query": str("The search term or topic to find articles about"),
			}, "query"),
			r.searchKnowledgeBase),
		define(GetTicketHistory, KindQuery,
			"Get the complete history of a ticket including comments, conversations, and changes",
			object(map[string]jsonschema.Definition{
				"ticketId": str("The ID of the ticket to get history for"),
			}, "ticketId"),
			r.getTicketHistory),
	}
}

func (r *Registry) findEmployee(ctx context.Context, args *findEmployeeArgs) Outcome {
	staff, err := r.store.SearchStaff(ctx, args.SearchTerm, employeeSearchLimit)
	if err != nil {
		return Hard(err)
	}

	switch len(staff) {
	case 0:
		return SoftJSON(employeeResult{
			Message: `No employee found matching "` + args.SearchTerm + `". Will assign to least loaded employee.`,
		})
	case 1:
		employee := models.EmployeeFromProfile(staff[0])
		return OKJSON(employeeResult{Found: true, Employee: &employee})
	default:
		return SoftJSON(employeeResult{
			Message: `Multiple employees found matching "` + args.SearchTerm + `". Please be more specific or I will assign to least loaded employee.`,
		})
	}
}

func (r *Registry) findLeastLoadedEmployee(ctx context.Context, _ *noArgs) Outcome {
	sel, err := r.balancer.LeastLoaded(ctx)
	if errors.Is(err, models.ErrNoCandidates) {
		return SoftJSON(employeeResult{Message: "No available employees found"})
	}
	if err != nil {
		return Hard(err)
	}
	return OKJSON(employeeResult{Found: true, Employee: &sel.Employee, TicketCount: &sel.TicketCount})
}

func (r *Registry) getTicketDetails(ctx context.Context, args *ticketArgs) Outcome {
	details, err := r.store.GetTicketDetails(ctx, args.TicketID)
	if err != nil {
		return lookupFailed(err, "Ticket not found: %s", args.TicketID)
	}
	return OKJSON(details)
}

func (r *Registry) getStatusOptions(ctx context.Context, _ *noArgs) Outcome {
	statuses, err := r.store.ListStatuses(ctx, true)
	if err != nil {
		return Hard(err)
	}

	options := make([]statusOption, len(statuses))
	for i, s := range statuses {
		options[i] = statusOption{ID: s.ID, Name: s.Name, IsCountedOpen: s.IsCountedOpen}
	}
	return OKJSON(options)
}

func (r *Registry) getPriorityOptions(ctx context.Context, _ *noArgs) Outcome {
	priorities, err := r.store.ListPriorities(ctx, true)
	if err != nil {
		return Hard(err)
	}

	options := make([]priorityOption, len(priorities))
	for i, p := range priorities {
		options[i] = priorityOption{ID: p.ID, Name: p.Name}
	}
	return OKJSON(options)
}

func (r *Registry) searchKnowledgeBase(ctx context.Context, args *searchKnowledgeArgs) Outcome {
	result, err := r.knowledge.Search(ctx, args.Query)
	if err != nil {
		return Hard(err)
	}
	if result.Empty() {
		return Soft("No relevant knowledge base articles found for this query.")
	}
	return OKJSON(result)
}

func (r *Registry) getTicketHistory(ctx context.Context, args *ticketArgs) Outcome {
	if _, err := r.store.GetTicket(ctx, args.TicketID); err != nil {
		return lookupFailed(err, "Ticket not found: %s", args.TicketID)
	}

	timeline, err := r.audit.Timeline(ctx, args.TicketID)
	if err != nil {
		return Hard(err)
	}
	return OKJSON(timeline)
}
