package storage

import (
	"context"

	"github.com/xaenox/helpdesk-agent/internal/models"
)

// Storage is the ticketing store the agent reads and writes. Lookups of a
// missing row return an error wrapping models.ErrNotFound.
type Storage interface {
	TicketStorage
	DirectoryStorage
	CatalogStorage
	ActivityStorage
	KnowledgeStorage
	Close() error
}

type TicketStorage interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketDetails(ctx context.Context, id string) (*models.TicketDetails, error)
	// UpdateTicket applies update and appends entry, when not nil, in one
	// transaction. Either both land or neither does.
	UpdateTicket(ctx context.Context, id string, update models.TicketUpdate, entry *models.HistoryEntry) error

	GetIndividualAssignment(ctx context.Context, ticketID string) (*models.Assignment, error)
	// AssignIndividual makes profileID the ticket's individual assignee and
	// appends entry in one transaction. It fails with models.ErrConflict when
	// the current assignee is not from, nil meaning unassigned.
	AssignIndividual(ctx context.Context, ticketID string, from *string, profileID string, entry *models.HistoryEntry) error
}

type DirectoryStorage interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
	// SearchStaff matches term case-insensitively against first name, last
	// name and email of assignable staff, ordered by profile id.
	SearchStaff(ctx context.Context, term string, limit int) ([]models.Profile, error)
	// ListStaff returns assignable staff ordered by profile id.
	ListStaff(ctx context.Context) ([]models.Profile, error)
	// OpenTicketCounts returns the number of open tickets individually
	// assigned to each profile. Profiles with no open tickets are absent.
	OpenTicketCounts(ctx context.Context) (map[string]int, error)
}

type CatalogStorage interface {
	ListStatuses(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error)
	ListPriorities(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error)
	GetStatus(ctx context.Context, id string) (*models.CatalogEntry, error)
	GetPriority(ctx context.Context, id string) (*models.CatalogEntry, error)
}

// ActivityStorage holds the append-only streams attached to a ticket. List
// methods return rows in ascending creation order. History is only written
// together with the change it records, see TicketStorage.
type ActivityStorage interface {
	ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error)
	AddComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, ticketID string) ([]models.Comment, error)
	AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListConversationMessages(ctx context.Context, ticketID string) ([]models.ConversationMessage, error)
}

type KnowledgeStorage interface {
	GetArticle(ctx context.Context, id string) (*models.KnowledgeArticle, error)
	ListArticles(ctx context.Context) ([]models.KnowledgeArticle, error)
}
