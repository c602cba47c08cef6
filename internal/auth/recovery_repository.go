package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// issueAttempts bounds retries when the active-token index rejects an insert.
const issueAttempts = 3

// RecoveryRepository defines persistence for password recovery tokens.
type RecoveryRepository interface {
	Issue(ctx context.Context, token *RecoveryToken) error
	GetByToken(ctx context.Context, token string) (*RecoveryToken, error)
	Claim(ctx context.Context, token string, now time.Time) error
	Release(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteRecoveryRepository implements RecoveryRepository using SQLite.
//
// The partial unique index idx_recovery_tokens_active guarantees at most
// one unused token per account; Issue supersedes and inserts in a single
// transaction and retries if a concurrent issue won the race.
type SQLiteRecoveryRepository struct {
	db *sql.DB
}

// NewRecoveryRepository creates a new SQLite-backed recovery token repository.
func NewRecoveryRepository(db *sql.DB) *SQLiteRecoveryRepository {
	return &SQLiteRecoveryRepository{db: db}
}

// Issue marks every unused token of the account as used and stores token
// as the single active one. The ID is generated if empty.
func (r *SQLiteRecoveryRepository) Issue(ctx context.Context, token *RecoveryToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	var err error
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		err = r.issueOnce(ctx, token)
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("issuing recovery token: %w", err)
	}
	return nil
}

func (r *SQLiteRecoveryRepository) issueOnce(ctx context.Context, token *RecoveryToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"UPDATE recovery_tokens SET used = 1 WHERE account_kind = ? AND account_id = ? AND used = 0",
		string(token.AccountKind), token.AccountID); err != nil {
		return fmt.Errorf("superseding tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recovery_tokens (id, token, account_id, account_kind, used, expires_at, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		token.ID, token.Token, token.AccountID, string(token.AccountKind),
		token.ExpiresAt.UTC().Format(time.RFC3339), token.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing token: %w", err)
	}
	token.Used = false
	return nil
}

// GetByToken looks up a token by its opaque value. Used and expired
// tokens are returned as-is; callers check Redeemable.
func (r *SQLiteRecoveryRepository) GetByToken(ctx context.Context, token string) (*RecoveryToken, error) {
	if token == "" {
		return nil, ErrRecoveryTokenInvalid
	}

	var t RecoveryToken
	var kind, expiresAt, createdAt string
	var used int

	err := r.db.QueryRowContext(ctx,
		`SELECT id, token, account_id, account_kind, used, expires_at, created_at
		 FROM recovery_tokens WHERE token = ?`, token,
	).Scan(&t.ID, &t.Token, &t.AccountID, &kind, &used, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecoveryTokenInvalid
		}
		return nil, fmt.Errorf("getting recovery token: %w", err)
	}

	t.AccountKind = Kind(kind)
	t.Used = used != 0
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &t, nil
}

// Claim marks a token used if and only if it is still unused and unexpired
// at now. Exactly one concurrent caller can succeed; the rest get
// ErrRecoveryTokenInvalid.
func (r *SQLiteRecoveryRepository) Claim(ctx context.Context, token string, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE recovery_tokens SET used = 1 WHERE token = ? AND used = 0 AND expires_at > ?",
		token, now.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("claiming recovery token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRecoveryTokenInvalid
	}
	return nil
}

// Release returns a claimed token to the unused state after the password
// change it guarded failed. It does nothing when a newer token has been
// issued for the same account in the meantime.
func (r *SQLiteRecoveryRepository) Release(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recovery_tokens SET used = 0
		WHERE token = ? AND used = 1 AND NOT EXISTS (
			SELECT 1 FROM recovery_tokens o
			WHERE o.account_kind = recovery_tokens.account_kind
			  AND o.account_id = recovery_tokens.account_id
			  AND o.used = 0
		)`, token)
	if err != nil {
		return fmt.Errorf("releasing recovery token: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens past their expiry and returns the count.
func (r *SQLiteRecoveryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM recovery_tokens WHERE expires_at <= ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired recovery tokens: %w", err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
