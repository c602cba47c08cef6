package auth

import (
	"context"
	"log/slog"
	"testing"
)

func TestSeedSuperUser_CreatesOnEmptyDB(t *testing.T) {
	db := testDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	password, err := SeedSuperUser(ctx, repo, SeedParams{Email: "root@example.com", NumeroCliente: "900000-0"}, slog.Default())
	if err != nil {
		t.Fatalf("SeedSuperUser() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedSuperUser() should return the generated password")
	}

	acct, err := repo.FindByEmail(ctx, KindSuperUser, "root@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	su := acct.(*SuperUser)
	if !su.Activo {
		t.Error("seed super user should be active")
	}

	ok, err := VerifyPassword(password, su.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("generated password should verify against stored hash")
	}
}

func TestSeedSuperUser_ConfiguredPasswordNotReturned(t *testing.T) {
	db := testDB(t)
	repo := NewAccountRepository(db)

	password, err := SeedSuperUser(context.Background(), repo,
		SeedParams{Email: "root@example.com", NumeroCliente: "900000-0", Password: "configured-pass"}, slog.Default())
	if err != nil {
		t.Fatalf("SeedSuperUser() error = %v", err)
	}
	if password != "" {
		t.Error("a configured password should not be echoed back")
	}
}

func TestSeedSuperUser_SkipsWhenSuperUsersExist(t *testing.T) {
	db := testDB(t)
	repo := NewAccountRepository(db)
	seedSuperUser(t, repo, "existing@example.com", "900001-1", "whatever-pass")

	password, err := SeedSuperUser(context.Background(), repo,
		SeedParams{Email: "root@example.com", NumeroCliente: "900000-0"}, slog.Default())
	if err != nil {
		t.Fatalf("SeedSuperUser() error = %v", err)
	}
	if password != "" {
		t.Error("seeding should be skipped")
	}
	if _, err := repo.FindByEmail(context.Background(), KindSuperUser, "root@example.com"); err == nil {
		t.Error("no new super user should be created")
	}
}

func TestSeedSuperUser_SkipsWithoutIdentity(t *testing.T) {
	db := testDB(t)
	repo := NewAccountRepository(db)

	if _, err := SeedSuperUser(context.Background(), repo, SeedParams{}, slog.Default()); err != nil {
		t.Fatalf("SeedSuperUser() error = %v", err)
	}
	count, err := repo.CountSuperUsers(context.Background())
	if err != nil {
		t.Fatalf("CountSuperUsers() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountSuperUsers() = %d, want 0", count)
	}
}
