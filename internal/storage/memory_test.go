package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/helpdesk-agent/internal/models"
)

func strPtr(s string) *string { return &s }

func seededStorage(t *testing.T) *MemoryStorage {
	t.Helper()

	s := NewMemoryStorage()
	s.PutStatus(models.CatalogEntry{ID: "open", Name: "Open", IsActive: true, IsCountedOpen: true})
	s.PutStatus(models.CatalogEntry{ID: "closed", Name: "Closed", IsActive: true})
	s.PutStatus(models.CatalogEntry{ID: "legacy", Name: "Archived", IsActive: false})
	s.PutPriority(models.CatalogEntry{ID: "low", Name: "Low", IsActive: true})
	s.PutPriority(models.CatalogEntry{ID: "high", Name: "High", IsActive: true})

	s.PutProfile(models.Profile{UserID: "u2", FirstName: "Maria", LastName: "Lopez", Email: "maria@acme.io", IsActive: true})
	s.PutProfile(models.Profile{UserID: "u1", FirstName: "Mario", LastName: "Rossi", Email: "mario@acme.io", IsActive: true})
	s.PutProfile(models.Profile{UserID: "c1", FirstName: "Carl", LastName: "Customer", Email: "carl@example.com", IsActive: true, IsCustomer: true})
	s.PutProfile(models.Profile{UserID: "a1", FirstName: "Ada", LastName: "Admin", Email: "ada@acme.io", IsActive: true, IsAdmin: true})
	s.PutProfile(models.Profile{UserID: "x1", FirstName: "Marv", LastName: "Gone", Email: "marv@acme.io", IsActive: false})

	s.PutTicket(models.Ticket{ID: "T1", Title: "Printer jam", StatusID: "open", PriorityID: "low", CreatorID: "c1"})
	s.PutTicket(models.Ticket{ID: "T2", Title: "VPN down", StatusID: "closed", PriorityID: "high", CreatorID: "c1"})
	return s
}

func TestMemoryStorage_TicketLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	_, err := s.GetTicket(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.UpdateTicket(ctx, "T1", models.TicketUpdate{
		Title:    strPtr("Printer jammed on floor 3"),
		StatusID: strPtr("closed"),
	}, &models.HistoryEntry{
		TicketID: "T1",
		FromAI:   true,
		Action:   models.ActionUpdate,
		Changes:  models.Changes{"status_id": models.FieldDiff{From: "open", To: "closed"}},
	}))

	ticket, err := s.GetTicket(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Printer jammed on floor 3", ticket.Title)
	assert.Equal(t, "closed", ticket.StatusID)
	assert.Equal(t, "low", ticket.PriorityID)

	// Returned tickets are copies.
	ticket.Title = "mutated"
	again, err := s.GetTicket(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Printer jammed on floor 3", again.Title)

	history, err := s.ListHistory(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].CreatedAt.IsZero())

	assert.ErrorIs(t, s.UpdateTicket(ctx, "missing", models.TicketUpdate{Title: strPtr("x")}, nil), models.ErrNotFound)
}

func TestMemoryStorage_UpdateTicketRejectsForeignEntry(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	err := s.UpdateTicket(ctx, "T1", models.TicketUpdate{Title: strPtr("changed")}, &models.HistoryEntry{TicketID: "T2"})
	require.Error(t, err)

	// Neither the ticket nor either history saw the write.
	ticket, err := s.GetTicket(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Printer jam", ticket.Title)
	for _, id := range []string{"T1", "T2"} {
		history, err := s.ListHistory(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestMemoryStorage_TicketDetails(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	require.NoError(t, s.CreateAssignment(ctx, &models.Assignment{
		TicketID: "T1", ProfileID: strPtr("u1"), AssignmentType: models.AssignmentIndividual,
	}))

	details, err := s.GetTicketDetails(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Open", details.StatusName)
	assert.Equal(t, "Low", details.PriorityName)
	require.Len(t, details.Assignments, 1)
	assert.Equal(t, "Mario", details.Assignments[0].FirstName)
	assert.Equal(t, "Rossi", details.Assignments[0].LastName)
}

func TestMemoryStorage_AssignIndividual(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	_, err := s.GetIndividualAssignment(ctx, "T1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	entry := func(added string) *models.HistoryEntry {
		return &models.HistoryEntry{
			TicketID: "T1",
			Action:   models.ActionUpdate,
			Changes:  models.Changes{"assignees": models.AssigneeDiff{Added: []string{added}}},
		}
	}

	require.NoError(t, s.AssignIndividual(ctx, "T1", nil, "u1", entry("u1")))
	first, err := s.GetIndividualAssignment(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "u1", *first.ProfileID)

	require.NoError(t, s.AssignIndividual(ctx, "T1", strPtr("u1"), "u2", entry("u2")))
	got, err := s.GetIndividualAssignment(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "u2", *got.ProfileID)
	assert.Equal(t, first.ID, got.ID)

	history, err := s.ListHistory(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assert.ErrorIs(t, s.AssignIndividual(ctx, "nope", nil, "u1", nil), models.ErrNotFound)
}

func TestMemoryStorage_AssignIndividualConflict(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)
	require.NoError(t, s.AssignIndividual(ctx, "T1", nil, "u1", nil))

	tests := []struct {
		name string
		from *string
	}{
		{name: "expected unassigned", from: nil},
		{name: "expected someone else", from: strPtr("u2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AssignIndividual(ctx, "T1", tt.from, "u2", &models.HistoryEntry{TicketID: "T1"})
			assert.ErrorIs(t, err, models.ErrConflict)
		})
	}

	got, err := s.GetIndividualAssignment(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "u1", *got.ProfileID)
	history, err := s.ListHistory(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryStorage_SearchStaff(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	tests := []struct {
		name  string
		term  string
		limit int
		want  []string
	}{
		{name: "case insensitive first name", term: "MAR", limit: 5, want: []string{"u1", "u2"}},
		{name: "email match", term: "maria@", limit: 5, want: []string{"u2"}},
		{name: "last name", term: "rossi", limit: 5, want: []string{"u1"}},
		{name: "customers and admins excluded", term: "a", limit: 5, want: []string{"u1", "u2"}},
		{name: "limit applied", term: "mar", limit: 1, want: []string{"u1"}},
		{name: "no match", term: "zzz", limit: 5, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchStaff(ctx, tt.term, tt.limit)
			require.NoError(t, err)

			var ids []string
			for _, p := range got {
				ids = append(ids, p.UserID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStorage_OpenTicketCounts(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	require.NoError(t, s.CreateAssignment(ctx, &models.Assignment{TicketID: "T1", ProfileID: strPtr("u1"), AssignmentType: models.AssignmentIndividual}))
	// Closed tickets do not count towards load.
	require.NoError(t, s.CreateAssignment(ctx, &models.Assignment{TicketID: "T2", ProfileID: strPtr("u2"), AssignmentType: models.AssignmentIndividual}))

	counts, err := s.OpenTicketCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 1}, counts)
}

func TestMemoryStorage_Catalog(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	statuses, err := s.ListStatuses(ctx, true)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "Closed", statuses[0].Name)
	assert.Equal(t, "Open", statuses[1].Name)

	all, err := s.ListStatuses(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	priorities, err := s.ListPriorities(ctx, true)
	require.NoError(t, err)
	require.Len(t, priorities, 2)
	assert.Equal(t, "High", priorities[0].Name)

	_, err = s.GetStatus(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetPriority(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStorage_Activity(t *testing.T) {
	ctx := context.Background()
	s := seededStorage(t)

	s.PutHistoryEntry(models.HistoryEntry{
		TicketID: "T1",
		FromAI:   true,
		Action:   models.ActionUpdate,
		Changes:  models.Changes{"title": models.FieldDiff{From: "a", To: "b"}},
	})

	history, err := s.ListHistory(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, s.AddComment(ctx, &models.Comment{TicketID: "T1", Content: "checked toner", IsInternal: true, FromAI: true}))
	comments, err := s.ListComments(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.True(t, comments[0].IsInternal)

	require.NoError(t, s.AddConversationMessage(ctx, &models.ConversationMessage{TicketID: "T1", ProfileID: strPtr("c1"), Text: "hello"}))
	messages, err := s.ListConversationMessages(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	assert.ErrorIs(t, s.AddComment(ctx, &models.Comment{TicketID: "nope"}), models.ErrNotFound)
	assert.ErrorIs(t, s.AddConversationMessage(ctx, &models.ConversationMessage{TicketID: "nope"}), models.ErrNotFound)
}
