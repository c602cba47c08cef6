// Package audit stores the security trail: logins, password changes,
// recovery redemptions, access denials and device mutations.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions.
const (
	ActionLogin          = "login"
	ActionPasswordChange = "password_change"
	ActionRecoveryRedeem = "recovery_redeem"
	ActionAccessDenied   = "access_denied"
	ActionDeviceCommand  = "device_command"
	ActionDeviceConfig   = "device_configure"
	ActionDeviceDelete   = "device_delete"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	defaultSource = "api"
)

// Entry is one row of the trail. Details never carry credentials.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorRole  string         `json:"actor_role,omitempty"`
	Outcome    string         `json:"outcome"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
	Outcome    string
	Since      time.Time
	Limit      int // 50 by default, at most 200
	Offset     int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository persists the trail.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e, filling ID, Outcome, Source and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	e.applyDefaults()

	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, action, entity_type, entity_id, actor_id, actor_role, outcome, source, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType,
		null(e.EntityID), null(e.ActorID), null(e.ActorRole),
		e.Outcome, e.Source, details,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (e *Entry) applyDefaults() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.Source == "" {
		e.Source = defaultSource
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func null(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// where renders the filter as a parameterised WHERE clause.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	eq := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	eq("action", f.Action)
	eq("entity_type", f.EntityType)
	eq("entity_id", f.EntityID)
	eq("actor_id", f.ActorID)
	eq("outcome", f.Outcome)
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (f *Filter) clamp() {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// List returns one page of entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.clamp()
	where, args := filter.where()

	result := &ListResult{Entries: []Entry{}, Limit: filter.Limit, Offset: filter.Offset}

	//nolint:gosec // where contains only fixed column names and placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where contains only fixed column names and placeholders
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, actor_role, outcome, source, details, created_at
		FROM audit_logs`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return result, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                                     Entry
		entityID, actorID, actorRole, details sql.NullString
		createdAt                             string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &actorID, &actorRole,
		&e.Outcome, &e.Source, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.EntityID, e.ActorID, e.ActorRole = entityID.String, actorID.String, actorRole.String
	if details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &e.Details) //nolint:errcheck // written by Create
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
