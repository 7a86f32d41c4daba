package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

// Store is what the audit trail needs from the ticket store.
type Store interface {
	ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error)
	ListComments(ctx context.Context, ticketID string) ([]models.Comment, error)
	ListConversationMessages(ctx context.Context, ticketID string) ([]models.ConversationMessage, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Commit applies a ticket write together with entry. Implementations persist
// both or neither.
type Commit func(ctx context.Context, entry *models.HistoryEntry) error

// Record builds the history entry for changes and hands it to commit. An
// empty change set skips commit entirely and reports false.
func (r *Recorder) Record(ctx context.Context, ticketID string, actorID *string, fromAI bool, action string, changes models.Changes, commit Commit) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}

	entry := &models.HistoryEntry{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		ActorID:   actorID,
		FromAI:    fromAI,
		Action:    action,
		Changes:   changes,
		CreatedAt: time.Now(),
	}
	if err := commit(ctx, entry); err != nil {
		return false, fmt.Errorf("error committing change to ticket %s: %w", ticketID, err)
	}

	r.logger.Info("Recorded ticket history",
		zap.String("ticket_id", ticketID),
		zap.String("action", action),
		zap.Bool("from_ai", fromAI),
		zap.Int("fields", len(changes)))
	return true, nil
}
