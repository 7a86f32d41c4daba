package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const staffFilter = "COALESCE(is_active, false) AND NOT COALESCE(is_customer, false) AND NOT COALESCE(is_admin, false)"

var profileColumns = []string{
	"user_id", "COALESCE(first_name, '')", "COALESCE(last_name, '')", "email", "job_title",
	"COALESCE(is_active, false)", "COALESCE(is_customer, false)", "COALESCE(is_admin, false)",
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageFromDB(db, logger)

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageFromDB wraps an open connection without touching the schema.
func NewPostgresStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Info("Database schema initialized")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, models.ErrNotFound)
	}
	return fmt.Errorf("error querying %s %s: %w", entity, id, err)
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// Ticket methods

var ticketColumns = []string{
	"t.id", "t.title", "t.description", "t.status_id", "t.priority_id", "t.creator_id",
	"t.organization_id", "t.custom_fields", "t.created_at", "t.updated_at", "t.resolved_at", "t.due_date",
}

func scanTicket(row rowScanner, extra ...any) (*models.Ticket, error) {
	var (
		t            models.Ticket
		description  sql.NullString
		organization sql.NullString
		customFields []byte
		resolvedAt   sql.NullTime
		dueDate      sql.NullTime
	)
	dest := []any{
		&t.ID, &t.Title, &description, &t.StatusID, &t.PriorityID, &t.CreatorID,
		&organization, &customFields, &t.CreatedAt, &t.UpdatedAt, &resolvedAt, &dueDate,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	t.Description = nullStringPtr(description)
	t.OrganizationID = nullStringPtr(organization)
	if len(customFields) > 0 {
		t.CustomFields = json.RawMessage(customFields)
	}
	t.ResolvedAt = nullTimePtr(resolvedAt)
	t.DueDate = nullTimePtr(dueDate)
	return &t, nil
}

func (s *PostgresStorage) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	query, args, err := psql.Select(ticketColumns...).From("tickets t").Where(sq.Eq{"t.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building ticket query: %w", err)
	}

	t, err := scanTicket(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

func (s *PostgresStorage) GetTicketDetails(ctx context.Context, id string) (*models.TicketDetails, error) {
	columns := append(append([]string{}, ticketColumns...), "COALESCE(st.name, '')", "COALESCE(pr.name, '')")
	query, args, err := psql.Select(columns...).
		From("tickets t").
		LeftJoin("statuses st ON st.id = t.status_id").
		LeftJoin("priorities pr ON pr.id = t.priority_id").
		Where(sq.Eq{"t.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building ticket details query: %w", err)
	}

	var details models.TicketDetails
	t, err := scanTicket(s.db.QueryRowContext(ctx, query, args...), &details.StatusName, &details.PriorityName)
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	details.Ticket = *t

	query, args, err = psql.Select("a.profile_id", "a.assignment_type", "COALESCE(p.first_name, '')", "COALESCE(p.last_name, '')").
		From("ticket_assignments a").
		LeftJoin("profiles p ON p.user_id = a.profile_id").
		Where(sq.Eq{"a.ticket_id": id}).
		OrderBy("a.created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building assignments query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying assignments: %w", err)
	}
	defer rows.Close()

	details.Assignments = []models.AssigneeView{}
	for rows.Next() {
		var (
			view      models.AssigneeView
			profileID sql.NullString
		)
		if err := rows.Scan(&profileID, &view.AssignmentType, &view.FirstName, &view.LastName); err != nil {
			return nil, fmt.Errorf("error scanning assignment: %w", err)
		}
		view.ProfileID = nullStringPtr(profileID)
		details.Assignments = append(details.Assignments, view)
	}
	return &details, rows.Err()
}

// inTx runs fn in one transaction and commits only when fn succeeds.
func (s *PostgresStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateTicket(ctx context.Context, id string, update models.TicketUpdate, entry *models.HistoryEntry) error {
	if update.Empty() && entry == nil {
		return nil
	}

	builder := psql.Update("tickets").Set("updated_at", time.Now()).Where(sq.Eq{"id": id})
	if update.Title != nil {
		builder = builder.Set("title", *update.Title)
	}
	if update.Description != nil {
		builder = builder.Set("description", *update.Description)
	}
	if update.StatusID != nil {
		builder = builder.Set("status_id", *update.StatusID)
	}
	if update.PriorityID != nil {
		builder = builder.Set("priority_id", *update.PriorityID)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("error building ticket update: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error updating ticket %s: %w", id, err)
		}
		if err := expectOneRow(result, "ticket", id); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return insertHistory(ctx, tx, entry)
	})
}

func expectOneRow(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, models.ErrNotFound)
	}
	return nil
}

var assignmentColumns = []string{"id", "ticket_id", "profile_id", "team_id", "assignment_type", "created_at", "updated_at"}

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var (
		a         models.Assignment
		profileID sql.NullString
		teamID    sql.NullString
	)
	if err := row.Scan(&a.ID, &a.TicketID, &profileID, &teamID, &a.AssignmentType, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ProfileID = nullStringPtr(profileID)
	a.TeamID = nullStringPtr(teamID)
	return &a, nil
}

func (s *PostgresStorage) GetIndividualAssignment(ctx context.Context, ticketID string) (*models.Assignment, error) {
	query, args, err := psql.Select(assignmentColumns...).
		From("ticket_assignments").
		Where(sq.Eq{"ticket_id": ticketID, "assignment_type": models.AssignmentIndividual}).
		OrderBy("created_at").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building assignment query: %w", err)
	}

	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "assignment for ticket", ticketID)
	}
	return a, nil
}

func (s *PostgresStorage) AssignIndividual(ctx context.Context, ticketID string, from *string, profileID string, entry *models.HistoryEntry) error {
	query, args, err := psql.Select("id", "profile_id").
		From("ticket_assignments").
		Where(sq.Eq{"ticket_id": ticketID, "assignment_type": models.AssignmentIndividual}).
		OrderBy("created_at").
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("error building assignment query: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			assignmentID string
			held         sql.NullString
		)
		err := tx.QueryRowContext(ctx, query, args...).Scan(&assignmentID, &held)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if from != nil {
				return fmt.Errorf("assignee of ticket %s changed: %w", ticketID, models.ErrConflict)
			}
			err = insertAssignment(ctx, tx, ticketID, profileID)
		case err != nil:
			return fmt.Errorf("error querying assignment for ticket %s: %w", ticketID, err)
		case !sameAssignee(nullStringPtr(held), from):
			return fmt.Errorf("assignee of ticket %s changed: %w", ticketID, models.ErrConflict)
		default:
			err = updateAssignee(ctx, tx, assignmentID, profileID)
		}
		if err != nil {
			return err
		}

		if entry == nil {
			return nil
		}
		return insertHistory(ctx, tx, entry)
	})
}

func insertAssignment(ctx context.Context, tx *sql.Tx, ticketID, profileID string) error {
	query, args, err := psql.Insert("ticket_assignments").
		Columns("id", "ticket_id", "profile_id", "assignment_type").
		Values(uuid.New().String(), ticketID, profileID, models.AssignmentIndividual).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building assignment insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error creating assignment: %w", err)
	}
	return nil
}

func updateAssignee(ctx context.Context, tx *sql.Tx, assignmentID, profileID string) error {
	query, args, err := psql.Update("ticket_assignments").
		Set("profile_id", profileID).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": assignmentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building assignee update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error updating assignment %s: %w", assignmentID, err)
	}
	return nil
}

// Directory methods

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p        models.Profile
		jobTitle sql.NullString
	)
	if err := row.Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Email, &jobTitle, &p.IsActive, &p.IsCustomer, &p.IsAdmin); err != nil {
		return nil, err
	}
	p.JobTitle = nullStringPtr(jobTitle)
	return &p, nil
}

func (s *PostgresStorage) queryProfiles(ctx context.Context, builder sq.SelectBuilder) ([]models.Profile, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building profiles query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying profiles: %w", err)
	}
	defer rows.Close()

	var result []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning profile: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query, args, err := psql.Select(profileColumns...).From("profiles").Where(sq.Eq{"user_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building profile query: %w", err)
	}

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "profile", id)
	}
	return p, nil
}

func (s *PostgresStorage) GetProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	result := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	profiles, err := s.queryProfiles(ctx, psql.Select(profileColumns...).From("profiles").Where(sq.Eq{"user_id": ids}))
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		result[p.UserID] = p
	}
	return result, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStorage) SearchStaff(ctx context.Context, term string, limit int) ([]models.Profile, error) {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	builder := psql.Select(profileColumns...).
		From("profiles").
		Where(staffFilter).
		Where(sq.Or{
			sq.ILike{"first_name": pattern},
			sq.ILike{"last_name": pattern},
			sq.ILike{"email": pattern},
		}).
		OrderBy("user_id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.queryProfiles(ctx, builder)
}

func (s *PostgresStorage) ListStaff(ctx context.Context) ([]models.Profile, error) {
	return s.queryProfiles(ctx, psql.Select(profileColumns...).From("profiles").Where(staffFilter).OrderBy("user_id"))
}

func (s *PostgresStorage) OpenTicketCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT profile_id, count FROM get_employee_open_ticket_counts()")
	if err != nil {
		return nil, fmt.Errorf("error querying open ticket counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			profileID string
			count     int
		)
		if err := rows.Scan(&profileID, &count); err != nil {
			return nil, fmt.Errorf("error scanning open ticket count: %w", err)
		}
		counts[profileID] = count
	}
	return counts, rows.Err()
}

// Catalog methods

func (s *PostgresStorage) listCatalog(ctx context.Context, table, countedOpen string, activeOnly bool) ([]models.CatalogEntry, error) {
	builder := psql.Select("id", "name", "is_active", countedOpen).From(table).OrderBy("name", "id")
	if activeOnly {
		builder = builder.Where(sq.Eq{"is_active": true})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building %s query: %w", table, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying %s: %w", table, err)
	}
	defer rows.Close()

	var result []models.CatalogEntry
	for rows.Next() {
		var e models.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.IsActive, &e.IsCountedOpen); err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", table, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *PostgresStorage) getCatalogEntry(ctx context.Context, table, countedOpen, id string) (*models.CatalogEntry, error) {
	query, args, err := psql.Select("id", "name", "is_active", countedOpen).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building %s query: %w", table, err)
	}

	var e models.CatalogEntry
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Name, &e.IsActive, &e.IsCountedOpen); err != nil {
		return nil, notFound(err, strings.TrimSuffix(table, "es"), id)
	}
	return &e, nil
}

func (s *PostgresStorage) ListStatuses(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error) {
	return s.listCatalog(ctx, "statuses", "is_counted_open", activeOnly)
}

func (s *PostgresStorage) ListPriorities(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error) {
	return s.listCatalog(ctx, "priorities", "false", activeOnly)
}

func (s *PostgresStorage) GetStatus(ctx context.Context, id string) (*models.CatalogEntry, error) {
	return s.getCatalogEntry(ctx, "statuses", "is_counted_open", id)
}

func (s *PostgresStorage) GetPriority(ctx context.Context, id string) (*models.CatalogEntry, error) {
	return s.getCatalogEntry(ctx, "priorities", "false", id)
}

// Activity methods

func insertHistory(ctx context.Context, tx *sql.Tx, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("error encoding history changes: %w", err)
	}

	query, args, err := psql.Insert("ticket_history").
		Columns("id", "ticket_id", "actor_id", "from_ai", "action", "changes", "created_at").
		Values(entry.ID, entry.TicketID, entry.ActorID, entry.FromAI, entry.Action, changes, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building history insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error creating history entry: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error) {
	query, args, err := psql.Select("id", "ticket_id", "actor_id", "from_ai", "action", "changes", "created_at").
		From("ticket_history").
		Where(sq.Eq{"ticket_id": ticketID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	var result []models.HistoryEntry
	for rows.Next() {
		var (
			e       models.HistoryEntry
			actorID sql.NullString
			changes []byte
		)
		if err := rows.Scan(&e.ID, &e.TicketID, &actorID, &e.FromAI, &e.Action, &changes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning history entry: %w", err)
		}
		e.ActorID = nullStringPtr(actorID)
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("error decoding history entry %s: %w", e.ID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *PostgresStorage) AddComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}

	query, args, err := psql.Insert("ticket_comments").
		Columns("id", "ticket_id", "author_id", "content", "is_internal", "from_ai", "created_at").
		Values(comment.ID, comment.TicketID, comment.AuthorID, comment.Content, comment.IsInternal, comment.FromAI, comment.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building comment insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error creating comment: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListComments(ctx context.Context, ticketID string) ([]models.Comment, error) {
	query, args, err := psql.Select("id", "ticket_id", "author_id", "content", "is_internal", "from_ai", "created_at").
		From("ticket_comments").
		Where(sq.Eq{"ticket_id": ticketID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building comments query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying comments: %w", err)
	}
	defer rows.Close()

	var result []models.Comment
	for rows.Next() {
		var (
			c        models.Comment
			authorID sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.TicketID, &authorID, &c.Content, &c.IsInternal, &c.FromAI, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning comment: %w", err)
		}
		c.AuthorID = nullStringPtr(authorID)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStorage) AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query, args, err := psql.Insert("ticket_conversations").
		Columns("id", "ticket_id", "profile_id", "text", "from_ai", "created_at").
		Values(msg.ID, msg.TicketID, msg.ProfileID, msg.Text, msg.FromAI, msg.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building conversation insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error creating conversation message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListConversationMessages(ctx context.Context, ticketID string) ([]models.ConversationMessage, error) {
	query, args, err := psql.Select("id", "ticket_id", "profile_id", "text", "from_ai", "created_at").
		From("ticket_conversations").
		Where(sq.Eq{"ticket_id": ticketID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building conversation query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %w", err)
	}
	defer rows.Close()

	var result []models.ConversationMessage
	for rows.Next() {
		var (
			m         models.ConversationMessage
			profileID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TicketID, &profileID, &m.Text, &m.FromAI, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation message: %w", err)
		}
		m.ProfileID = nullStringPtr(profileID)
		result = append(result, m)
	}
	return result, rows.Err()
}

// Knowledge methods

func (s *PostgresStorage) GetArticle(ctx context.Context, id string) (*models.KnowledgeArticle, error) {
	query, args, err := psql.Select("id", "name", "body", "is_public", "is_active", "category_id", "created_at").
		From("knowledge_base_articles").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building article query: %w", err)
	}

	var a models.KnowledgeArticle
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Name, &a.Body, &a.IsPublic, &a.IsActive, &a.CategoryID, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err, "article", id)
	}
	return &a, nil
}

func (s *PostgresStorage) ListArticles(ctx context.Context) ([]models.KnowledgeArticle, error) {
	query, args, err := psql.Select("id", "name", "body", "is_public", "is_active", "category_id", "created_at").
		From("knowledge_base_articles").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building articles query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying articles: %w", err)
	}
	defer rows.Close()

	var result []models.KnowledgeArticle
	for rows.Next() {
		var a models.KnowledgeArticle
		if err := rows.Scan(&a.ID, &a.Name, &a.Body, &a.IsPublic, &a.IsActive, &a.CategoryID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning article: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ReplaceArticleChunks swaps the stored chunks of an article in one transaction.
func (s *PostgresStorage) ReplaceArticleChunks(ctx context.Context, article models.KnowledgeArticle, chunks []models.ArticleChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM article_chunks WHERE article_id = $1", article.ID); err != nil {
		return fmt.Errorf("error deleting chunks of article %s: %w", article.ID, err)
	}

	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO article_chunks (id, article_id, chunk_text, embedding) VALUES ($1, $2, $3, $4::vector)",
			id, article.ID, c.ChunkText, vectorLiteral(c.Embedding))
		if err != nil {
			return fmt.Errorf("error inserting chunk embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing chunks of article %s: %w", article.ID, err)
	}
	return nil
}

func (s *PostgresStorage) RemoveArticleChunks(ctx context.Context, articleID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM article_chunks WHERE article_id = $1", articleID); err != nil {
		return fmt.Errorf("error deleting chunks of article %s: %w", articleID, err)
	}
	return nil
}

// SearchArticleChunks ranks chunks of public, active articles by cosine similarity.
func (s *PostgresStorage) SearchArticleChunks(ctx context.Context, embedding []float32, threshold float32, limit int) ([]models.ChunkMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT article_id, article_name, chunk_text, similarity FROM search_article_chunks($1::vector, $2, $3)",
		vectorLiteral(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("error searching article chunks: %w", err)
	}
	defer rows.Close()

	var result []models.ChunkMatch
	for rows.Next() {
		var (
			m          models.ChunkMatch
			similarity float64
		)
		if err := rows.Scan(&m.ArticleID, &m.ArticleName, &m.ChunkText, &similarity); err != nil {
			return nil, fmt.Errorf("error scanning chunk match: %w", err)
		}
		m.Similarity = float32(similarity)
		result = append(result, m)
	}
	return result, rows.Err()
}

// vectorLiteral renders an embedding in pgvector's text format.
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
