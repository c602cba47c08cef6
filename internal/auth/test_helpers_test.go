package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
	_ "github.com/nerrad567/devicehub-core/migrations"
)

// testDB creates a temporary SQLite database with every migration applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// mustHash hashes a password or fails the test.
func mustHash(t *testing.T, password string) string {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	return hash
}

func seedClient(t *testing.T, repo *SQLiteAccountRepository, email, numero, password string) *Client {
	t.Helper()

	c := &Client{
		Nombre:        "Cliente " + numero,
		Email:         email,
		NumeroCliente: numero,
		PasswordHash:  mustHash(t, password),
		Activo:        true,
	}
	if err := repo.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("creating client %s: %v", numero, err)
	}
	return c
}

func seedCompany(t *testing.T, repo *SQLiteAccountRepository, email, numero, password, estado string) *Company {
	t.Helper()

	c := &Company{
		NombreEmpresa: "Empresa " + numero,
		Email:         email,
		NumeroCliente: numero,
		PasswordHash:  mustHash(t, password),
		Estado:        estado,
	}
	if err := repo.CreateCompany(context.Background(), c); err != nil {
		t.Fatalf("creating company %s: %v", numero, err)
	}
	return c
}

func seedSuperUser(t *testing.T, repo *SQLiteAccountRepository, email, numero, password string) *SuperUser {
	t.Helper()

	s := &SuperUser{
		Nombre:        "Super " + numero,
		Email:         email,
		NumeroCliente: numero,
		PasswordHash:  mustHash(t, password),
		Activo:        true,
	}
	if err := repo.CreateSuperUser(context.Background(), s); err != nil {
		t.Fatalf("creating super user %s: %v", numero, err)
	}
	return s
}

// testIssuer returns a TokenIssuer with fixed test secrets.
func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()

	ti, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  "test-access-secret-0123456789abcdef",
		RefreshSecret: "test-refresh-secret-0123456789abcdef",
		Issuer:        "devicehub-test",
		SuperUserRole: RoleSuperAdmin,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	return ti
}
