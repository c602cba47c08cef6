package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines persistence for the three account kinds.
type AccountRepository interface {
	FindByEmail(ctx context.Context, kind Kind, email string) (Account, error)
	FindByNumeroCliente(ctx context.Context, kind Kind, numero string) (Account, error)
	GetByID(ctx context.Context, kind Kind, id string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	UpdatePassword(ctx context.Context, kind Kind, id, passwordHash string) error
	TouchLastAccess(ctx context.Context, kind Kind, id string, at time.Time) error
	ListCompanyClientIDs(ctx context.Context, companyID string) ([]string, error)
	CreateClient(ctx context.Context, c *Client) error
	CreateCompany(ctx context.Context, c *Company) error
	CreateSuperUser(ctx context.Context, s *SuperUser) error
	AssignClient(ctx context.Context, companyID, clientID string) error
	CountSuperUsers(ctx context.Context) (int, error)
}

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const (
	clientColumns    = "id, nombre, email, numero_cliente, password_hash, password_temporal, activo, telefono, ultimo_acceso, created_at, updated_at"
	companyColumns   = "id, nombre_empresa, email, numero_cliente, password_hash, password_temporal, estado, telefono, ultimo_acceso, created_at, updated_at"
	superUserColumns = "id, nombre, email, numero_cliente, password_hash, activo, ultimo_acceso, created_at, updated_at"
)

// tables maps each kind to its table. Values are constants, never input.
var tables = map[Kind]string{
	KindClient:    "clients",
	KindCompany:   "companies",
	KindSuperUser: "super_users",
}

// FindByEmail looks up an account of the given kind by email (case-insensitive).
func (r *SQLiteAccountRepository) FindByEmail(ctx context.Context, kind Kind, email string) (Account, error) {
	return r.findBy(ctx, kind, "email", strings.TrimSpace(email))
}

// FindByNumeroCliente looks up an account of the given kind by client number.
func (r *SQLiteAccountRepository) FindByNumeroCliente(ctx context.Context, kind Kind, numero string) (Account, error) {
	return r.findBy(ctx, kind, "numero_cliente", strings.TrimSpace(numero))
}

// GetByID retrieves an account of the given kind by id.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, kind Kind, id string) (Account, error) {
	return r.findBy(ctx, kind, "id", id)
}

// FindByID searches every kind in ResolutionOrder for the id. Used where
// only the subject id is known, such as refresh tokens.
func (r *SQLiteAccountRepository) FindByID(ctx context.Context, id string) (Account, error) {
	for _, kind := range ResolutionOrder {
		acct, err := r.findBy(ctx, kind, "id", id)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}
	return nil, ErrAccountNotFound
}

func (r *SQLiteAccountRepository) findBy(ctx context.Context, kind Kind, column, value string) (Account, error) {
	if value == "" {
		return nil, ErrAccountNotFound
	}

	switch kind {
	case KindClient:
		row := r.db.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE "+column+" = ?", value)
		return scanClient(row)
	case KindCompany:
		row := r.db.QueryRowContext(ctx, "SELECT "+companyColumns+" FROM companies WHERE "+column+" = ?", value)
		return scanCompany(row)
	case KindSuperUser:
		row := r.db.QueryRowContext(ctx, "SELECT "+superUserColumns+" FROM super_users WHERE "+column+" = ?", value)
		return scanSuperUser(row)
	default:
		return nil, ErrUnknownKind
	}
}

// UpdatePassword stores a new hash and clears any temporary password state.
func (r *SQLiteAccountRepository) UpdatePassword(ctx context.Context, kind Kind, id, passwordHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var query string
	switch kind {
	case KindClient:
		query = "UPDATE clients SET password_hash = ?, password_temporal = NULL, updated_at = ? WHERE id = ?"
	case KindCompany:
		query = "UPDATE companies SET password_hash = ?, password_temporal = 0, updated_at = ? WHERE id = ?"
	case KindSuperUser:
		query = "UPDATE super_users SET password_hash = ?, updated_at = ? WHERE id = ?"
	default:
		return ErrUnknownKind
	}

	result, err := r.db.ExecContext(ctx, query, passwordHash, now, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// TouchLastAccess records a successful login.
func (r *SQLiteAccountRepository) TouchLastAccess(ctx context.Context, kind Kind, id string, at time.Time) error {
	table, ok := tables[kind]
	if !ok {
		return ErrUnknownKind
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE "+table+" SET ultimo_acceso = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating last access: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListCompanyClientIDs returns the ids of the clients assigned to a company.
func (r *SQLiteAccountRepository) ListCompanyClientIDs(ctx context.Context, companyID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT client_id FROM company_clients WHERE company_id = ? ORDER BY client_id", companyID)
	if err != nil {
		return nil, fmt.Errorf("listing company clients: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning company client: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating company clients: %w", err)
	}
	return ids, nil
}

// CreateClient inserts a client. The ID is generated if empty.
func (r *SQLiteAccountRepository) CreateClient(ctx context.Context, c *Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := stamp(&c.CreatedAt, &c.UpdatedAt)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, nombre, email, numero_cliente, password_hash, password_temporal, activo, telefono, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Nombre, strings.ToLower(c.Email), c.NumeroCliente,
		nullString(c.PasswordHash), nullString(c.PasswordTemporal),
		boolToInt(c.Activo), nullString(c.Telefono), now, now,
	)
	return createError("client", err)
}

// CreateCompany inserts a company. The ID is generated if empty and the
// status defaults to activo.
func (r *SQLiteAccountRepository) CreateCompany(ctx context.Context, c *Company) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Estado == "" {
		c.Estado = StatusActive
	}
	now := stamp(&c.CreatedAt, &c.UpdatedAt)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (id, nombre_empresa, email, numero_cliente, password_hash, password_temporal, estado, telefono, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.NombreEmpresa, strings.ToLower(c.Email), c.NumeroCliente,
		c.PasswordHash, boolToInt(c.PasswordTemporal), c.Estado,
		nullString(c.Telefono), now, now,
	)
	return createError("company", err)
}

// CreateSuperUser inserts a super user. The ID is generated if empty.
func (r *SQLiteAccountRepository) CreateSuperUser(ctx context.Context, s *SuperUser) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := stamp(&s.CreatedAt, &s.UpdatedAt)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO super_users (id, nombre, email, numero_cliente, password_hash, activo, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Nombre, strings.ToLower(s.Email), s.NumeroCliente,
		s.PasswordHash, boolToInt(s.Activo), now, now,
	)
	return createError("super user", err)
}

// AssignClient adds a client to a company's assigned-clients list.
// Assigning the same client twice is a no-op.
func (r *SQLiteAccountRepository) AssignClient(ctx context.Context, companyID, clientID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO company_clients (company_id, client_id, created_at) VALUES (?, ?, ?)",
		companyID, clientID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("assigning client: %w", err)
	}
	return nil
}

// CountSuperUsers returns the number of super user accounts.
func (r *SQLiteAccountRepository) CountSuperUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM super_users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting super users: %w", err)
	}
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanClient(s scanner) (*Client, error) {
	var c Client
	var hash, temporal, telefono, ultimo sql.NullString
	var activo int
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.Nombre, &c.Email, &c.NumeroCliente, &hash, &temporal,
		&activo, &telefono, &ultimo, &createdAt, &updatedAt)
	if err != nil {
		return nil, scanError("client", err)
	}

	c.PasswordHash = hash.String
	c.PasswordTemporal = temporal.String
	c.Activo = activo != 0
	c.Telefono = telefono.String
	c.UltimoAcceso = parseNullTime(ultimo)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &c, nil
}

func scanCompany(s scanner) (*Company, error) {
	var c Company
	var telefono, ultimo sql.NullString
	var temporal int
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.NombreEmpresa, &c.Email, &c.NumeroCliente, &c.PasswordHash,
		&temporal, &c.Estado, &telefono, &ultimo, &createdAt, &updatedAt)
	if err != nil {
		return nil, scanError("company", err)
	}

	c.PasswordTemporal = temporal != 0
	c.Telefono = telefono.String
	c.UltimoAcceso = parseNullTime(ultimo)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &c, nil
}

func scanSuperUser(s scanner) (*SuperUser, error) {
	var su SuperUser
	var ultimo sql.NullString
	var activo int
	var createdAt, updatedAt string

	err := s.Scan(&su.ID, &su.Nombre, &su.Email, &su.NumeroCliente, &su.PasswordHash,
		&activo, &ultimo, &createdAt, &updatedAt)
	if err != nil {
		return nil, scanError("super user", err)
	}

	su.Activo = activo != 0
	su.UltimoAcceso = parseNullTime(ultimo)
	su.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	su.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &su, nil
}

// Helper functions.

func scanError(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	return fmt.Errorf("scanning %s: %w", what, err)
}

func createError(what string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	return fmt.Errorf("creating %s: %w", what, err)
}

func stamp(created, updated *time.Time) string {
	now := time.Now().UTC().Truncate(time.Second)
	*created = now
	*updated = now
	return now.Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
// The cross-table numero_cliente triggers raise the same message.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}
