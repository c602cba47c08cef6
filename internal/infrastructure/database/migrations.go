package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS is the source of migration files. The top-level migrations
// package assigns its embedded files at init; tests substitute a MapFS.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS holding the files.
var MigrationsDir = "."

// ErrMigrationModified is returned when an applied migration no longer
// matches the file it was applied from.
var ErrMigrationModified = errors.New("applied migration was modified")

// Migration is one schema step, read from a pair of files named
// <date>_<time>_<name>.up.sql and <date>_<time>_<name>.down.sql.
type Migration struct {
	Version  string
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
}

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	applied_at TEXT NOT NULL
)`

// Migrate applies pending migrations oldest first, one transaction each.
// A failure leaves earlier steps committed; the next call resumes there.
func (db *DB) Migrate(ctx context.Context) error {
	plan, err := db.plan(ctx)
	if err != nil {
		return err
	}

	for _, m := range plan.pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing up SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
				m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. It is a no-op on an
// empty schema.
func (db *DB) MigrateDown(ctx context.Context) error {
	plan, err := db.plan(ctx)
	if err != nil {
		return err
	}
	if len(plan.applied) == 0 {
		return nil
	}

	last := plan.applied[len(plan.applied)-1]
	m, ok := plan.byVersion[last.Version]
	switch {
	case !ok:
		return fmt.Errorf("migration %s is applied but has no file", last.Version)
	case m.DownSQL == "":
		return fmt.Errorf("migration %s has no down SQL", last.Version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverting migration %s_%s: %w", m.Version, m.Name, err)
	}
	return nil
}

// GetMigrationStatus reports applied and pending migrations.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	plan, err := db.plan(ctx)
	if err != nil {
		return nil, nil, err
	}
	return plan.applied, plan.pending, nil
}

type migrationPlan struct {
	applied   []MigrationRecord
	pending   []Migration
	byVersion map[string]Migration
}

// plan compares the files against schema_migrations. An applied migration
// whose file changed fails with ErrMigrationModified.
func (db *DB) plan(ctx context.Context) (*migrationPlan, error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	files, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	p := &migrationPlan{applied: applied, byVersion: make(map[string]Migration, len(files))}
	for _, m := range files {
		p.byVersion[m.Version] = m
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
		m, ok := p.byVersion[rec.Version]
		if ok && rec.Checksum != "" && rec.Checksum != m.Checksum {
			return nil, fmt.Errorf("%w: %s_%s", ErrMigrationModified, m.Version, m.Name)
		}
	}
	for _, m := range files {
		if !done[m.Version] {
			p.pending = append(p.pending, m)
		}
	}
	return p, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt string
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // written by Migrate
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema_migrations: %w", err)
	}
	return out, nil
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// loadMigrations reads every *.up.sql in MigrationsFS with its optional
// down file, sorted by version.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}

	ups, err := fs.Glob(MigrationsFS, path.Join(MigrationsDir, "*.up.sql"))
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(ups))
	for _, upPath := range ups {
		file := path.Base(upPath)
		version, _, ok := parseMigrationFilename(file)
		if !ok {
			continue
		}

		up, err := fs.ReadFile(MigrationsFS, upPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		m := Migration{
			Version:  version,
			Name:     extractMigrationName(file),
			UpSQL:    string(up),
			Checksum: checksum(up),
		}

		downPath := strings.TrimSuffix(upPath, ".up.sql") + ".down.sql"
		down, err := fs.ReadFile(MigrationsFS, downPath)
		switch {
		case err == nil:
			m.DownSQL = string(down)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading %s: %w", path.Base(downPath), err)
		}

		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// parseMigrationFilename splits "20260301_090000_accounts.up.sql" into
// version "20260301_090000" and direction up.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	var base string
	switch {
	case strings.HasSuffix(name, ".up.sql"):
		base, isUp = strings.TrimSuffix(name, ".up.sql"), true
	case strings.HasSuffix(name, ".down.sql"):
		base = strings.TrimSuffix(name, ".down.sql")
	default:
		return "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found {
		return "", false, false
	}
	clock, _, _ := strings.Cut(rest, "_")
	if date == "" || clock == "" {
		return "", false, false
	}
	return date + "_" + clock, isUp, true
}

// extractMigrationName returns the part after the version:
// "20260301_090000_recovery_tokens.up.sql" gives "recovery_tokens".
func extractMigrationName(file string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(file, ".sql"), ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return base
}
