package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/helpdesk-agent/internal/models"
)

// MemoryStorage keeps everything in process. It backs local runs and tests.
type MemoryStorage struct {
	mu          sync.RWMutex
	tickets     map[string]*models.Ticket
	assignments map[string][]*models.Assignment // ticket id -> rows
	profiles    map[string]*models.Profile
	statuses    map[string]*models.CatalogEntry
	priorities  map[string]*models.CatalogEntry
	articles    map[string]*models.KnowledgeArticle
	history     map[string][]models.HistoryEntry
	comments    map[string][]models.Comment
	messages    map[string][]models.ConversationMessage
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tickets:     make(map[string]*models.Ticket),
		assignments: make(map[string][]*models.Assignment),
		profiles:    make(map[string]*models.Profile),
		statuses:    make(map[string]*models.CatalogEntry),
		priorities:  make(map[string]*models.CatalogEntry),
		articles:    make(map[string]*models.KnowledgeArticle),
		history:     make(map[string][]models.HistoryEntry),
		comments:    make(map[string][]models.Comment),
		messages:    make(map[string][]models.ConversationMessage),
	}
}

// Seed methods

func (s *MemoryStorage) PutTicket(t models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.tickets[t.ID] = &t
}

func (s *MemoryStorage) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

func (s *MemoryStorage) PutStatus(e models.CatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[e.ID] = &e
}

func (s *MemoryStorage) PutPriority(e models.CatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities[e.ID] = &e
}

func (s *MemoryStorage) PutArticle(a models.KnowledgeArticle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = &a
}

// PutHistoryEntry appends a history row without touching the ticket.
func (s *MemoryStorage) PutHistoryEntry(e models.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistory(&e)
}

// Ticket methods

func (s *MemoryStorage) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStorage) GetTicketDetails(ctx context.Context, id string) (*models.TicketDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}

	details := &models.TicketDetails{Ticket: *t, Assignments: []models.AssigneeView{}}
	if st, ok := s.statuses[t.StatusID]; ok {
		details.StatusName = st.Name
	}
	if pr, ok := s.priorities[t.PriorityID]; ok {
		details.PriorityName = pr.Name
	}
	for _, a := range s.assignments[id] {
		view := models.AssigneeView{ProfileID: a.ProfileID, AssignmentType: a.AssignmentType}
		if a.ProfileID != nil {
			if p, ok := s.profiles[*a.ProfileID]; ok {
				view.FirstName = p.FirstName
				view.LastName = p.LastName
			}
		}
		details.Assignments = append(details.Assignments, view)
	}
	return details, nil
}

func (s *MemoryStorage) UpdateTicket(ctx context.Context, id string, update models.TicketUpdate, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	if err := checkEntry(id, entry); err != nil {
		return err
	}

	if update.Title != nil {
		t.Title = *update.Title
	}
	if update.Description != nil {
		desc := *update.Description
		t.Description = &desc
	}
	if update.StatusID != nil {
		t.StatusID = *update.StatusID
	}
	if update.PriorityID != nil {
		t.PriorityID = *update.PriorityID
	}
	t.UpdatedAt = time.Now()

	if entry != nil {
		s.appendHistory(entry)
	}
	return nil
}

func checkEntry(ticketID string, entry *models.HistoryEntry) error {
	if entry != nil && entry.TicketID != ticketID {
		return fmt.Errorf("history entry for ticket %s cannot record a change to ticket %s", entry.TicketID, ticketID)
	}
	return nil
}

func (s *MemoryStorage) GetIndividualAssignment(ctx context.Context, ticketID string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments[ticketID] {
		if a.AssignmentType == models.AssignmentIndividual {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("assignment for ticket %s: %w", ticketID, models.ErrNotFound)
}

func (s *MemoryStorage) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[assignment.TicketID]; !ok {
		return fmt.Errorf("ticket %s: %w", assignment.TicketID, models.ErrNotFound)
	}
	if assignment.ID == "" {
		assignment.ID = uuid.New().String()
	}
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	cp := *assignment
	s.assignments[assignment.TicketID] = append(s.assignments[assignment.TicketID], &cp)
	return nil
}

func (s *MemoryStorage) AssignIndividual(ctx context.Context, ticketID string, from *string, profileID string, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[ticketID]; !ok {
		return fmt.Errorf("ticket %s: %w", ticketID, models.ErrNotFound)
	}
	if err := checkEntry(ticketID, entry); err != nil {
		return err
	}

	var current *models.Assignment
	for _, a := range s.assignments[ticketID] {
		if a.AssignmentType == models.AssignmentIndividual {
			current = a
			break
		}
	}

	var held *string
	if current != nil {
		held = current.ProfileID
	}
	if !sameAssignee(held, from) {
		return fmt.Errorf("assignee of ticket %s changed: %w", ticketID, models.ErrConflict)
	}

	now := time.Now()
	pid := profileID
	if current == nil {
		s.assignments[ticketID] = append(s.assignments[ticketID], &models.Assignment{
			ID:             uuid.New().String(),
			TicketID:       ticketID,
			ProfileID:      &pid,
			AssignmentType: models.AssignmentIndividual,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	} else {
		current.ProfileID = &pid
		current.UpdatedAt = now
	}

	if entry != nil {
		s.appendHistory(entry)
	}
	return nil
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Directory methods

func (s *MemoryStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStorage) GetProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			result[id] = *p
		}
	}
	return result, nil
}

func (s *MemoryStorage) SearchStaff(ctx context.Context, term string, limit int) ([]models.Profile, error) {
	needle := strings.ToLower(term)
	var matches []models.Profile
	for _, p := range s.staffSorted() {
		if strings.Contains(strings.ToLower(p.FirstName), needle) ||
			strings.Contains(strings.ToLower(p.LastName), needle) ||
			strings.Contains(strings.ToLower(p.Email), needle) {
			matches = append(matches, p)
			if limit > 0 && len(matches) == limit {
				break
			}
		}
	}
	return matches, nil
}

func (s *MemoryStorage) ListStaff(ctx context.Context) ([]models.Profile, error) {
	return s.staffSorted(), nil
}

func (s *MemoryStorage) staffSorted() []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staff := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.IsStaff() {
			staff = append(staff, *p)
		}
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].UserID < staff[j].UserID })
	return staff
}

func (s *MemoryStorage) OpenTicketCounts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for ticketID, rows := range s.assignments {
		t, ok := s.tickets[ticketID]
		if !ok {
			continue
		}
		st, ok := s.statuses[t.StatusID]
		if !ok || !st.IsCountedOpen {
			continue
		}
		for _, a := range rows {
			if a.AssignmentType == models.AssignmentIndividual && a.ProfileID != nil {
				counts[*a.ProfileID]++
			}
		}
	}
	return counts, nil
}

// Catalog methods

func (s *MemoryStorage) ListStatuses(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCatalog(s.statuses, activeOnly), nil
}

func (s *MemoryStorage) ListPriorities(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCatalog(s.priorities, activeOnly), nil
}

func listCatalog(entries map[string]*models.CatalogEntry, activeOnly bool) []models.CatalogEntry {
	result := make([]models.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if activeOnly && !e.IsActive {
			continue
		}
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *MemoryStorage) GetStatus(ctx context.Context, id string) (*models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.statuses[id]
	if !ok {
		return nil, fmt.Errorf("status %s: %w", id, models.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStorage) GetPriority(ctx context.Context, id string) (*models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.priorities[id]
	if !ok {
		return nil, fmt.Errorf("priority %s: %w", id, models.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// Activity methods

// appendHistory stores entry. Callers hold s.mu.
func (s *MemoryStorage) appendHistory(entry *models.HistoryEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.history[entry.TicketID] = append(s.history[entry.TicketID], *entry)
}

func (s *MemoryStorage) ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.HistoryEntry(nil), s.history[ticketID]...), nil
}

func (s *MemoryStorage) AddComment(ctx context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[comment.TicketID]; !ok {
		return fmt.Errorf("ticket %s: %w", comment.TicketID, models.ErrNotFound)
	}
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	s.comments[comment.TicketID] = append(s.comments[comment.TicketID], *comment)
	return nil
}

func (s *MemoryStorage) ListComments(ctx context.Context, ticketID string) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Comment(nil), s.comments[ticketID]...), nil
}

func (s *MemoryStorage) AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[msg.TicketID]; !ok {
		return fmt.Errorf("ticket %s: %w", msg.TicketID, models.ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.TicketID] = append(s.messages[msg.TicketID], *msg)
	return nil
}

func (s *MemoryStorage) ListConversationMessages(ctx context.Context, ticketID string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConversationMessage(nil), s.messages[ticketID]...), nil
}

// Knowledge methods

func (s *MemoryStorage) GetArticle(ctx context.Context, id string) (*models.KnowledgeArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return nil, fmt.Errorf("article %s: %w", id, models.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStorage) ListArticles(ctx context.Context) ([]models.KnowledgeArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.KnowledgeArticle, 0, len(s.articles))
	for _, a := range s.articles {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
