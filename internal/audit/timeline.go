package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EntryHistory      = "history"
	EntryComment      = "comment"
	EntryConversation = "conversation"

	ActorAI      = "AI Agent"
	ActorUnknown = "Unknown User"
)

// TimelineEntry is one line of a ticket's merged activity feed.
type TimelineEntry struct {
	Type    string    `json:"type"`
	Date    time.Time `json:"date"`
	Content string    `json:"content"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action,omitempty"`
}

// Timeline merges history, comments and conversation messages of a ticket
// in chronological order. Entries with equal timestamps keep the order
// history, comment, conversation.
func (r *Recorder) Timeline(ctx context.Context, ticketID string) ([]TimelineEntry, error) {
	var (
		history  []models.HistoryEntry
		comments []models.Comment
		messages []models.ConversationMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		history, err = r.store.ListHistory(gctx, ticketID)
		return err
	})
	g.Go(func() (err error) {
		comments, err = r.store.ListComments(gctx, ticketID)
		return err
	})
	g.Go(func() (err error) {
		messages, err = r.store.ListConversationMessages(gctx, ticketID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("error loading activity of ticket %s: %w", ticketID, err)
	}

	seen := make(map[string]struct{})
	var ids []string
	collect := func(id *string, fromAI bool) {
		if fromAI || id == nil {
			return
		}
		if _, ok := seen[*id]; !ok {
			seen[*id] = struct{}{}
			ids = append(ids, *id)
		}
	}
	for _, h := range history {
		collect(h.ActorID, h.FromAI)
	}
	for _, c := range comments {
		collect(c.AuthorID, c.FromAI)
	}
	for _, m := range messages {
		collect(m.ProfileID, m.FromAI)
	}

	profiles, err := r.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error resolving actors of ticket %s: %w", ticketID, err)
	}

	actor := func(id *string, fromAI bool) string {
		if fromAI {
			return ActorAI
		}
		if id != nil {
			if p, ok := profiles[*id]; ok && p.FullName() != "" {
				return p.FullName()
			}
		}
		return ActorUnknown
	}

	timeline := make([]TimelineEntry, 0, len(history)+len(comments)+len(messages))
	for _, h := range history {
		content, err := json.Marshal(h.Changes)
		if err != nil {
			r.logger.Warn("Failed to encode history changes", zap.String("entry_id", h.ID), zap.Error(err))
			content = []byte("{}")
		}
		timeline = append(timeline, TimelineEntry{
			Type:    EntryHistory,
			Date:    h.CreatedAt,
			Content: string(content),
			Actor:   actor(h.ActorID, h.FromAI),
			Action:  h.Action,
		})
	}
	for _, c := range comments {
		timeline = append(timeline, TimelineEntry{
			Type:    EntryComment,
			Date:    c.CreatedAt,
			Content: c.Content,
			Actor:   actor(c.AuthorID, c.FromAI),
		})
	}
	for _, m := range messages {
		timeline = append(timeline, TimelineEntry{
			Type:    EntryConversation,
			Date:    m.CreatedAt,
			Content: m.Text,
			Actor:   actor(m.ProfileID, m.FromAI),
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Date.Before(timeline[j].Date)
	})
	return timeline, nil
}
