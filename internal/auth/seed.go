package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated seed password.
const seedPasswordBytes = 16

// SeedParams describes the initial SuperUser.
type SeedParams struct {
	Nombre        string
	Email         string
	NumeroCliente string
	// Password is generated when empty.
	Password string
}

// SeedSuperUser creates the initial SuperUser on first boot if none exist.
// It returns the password only when one was generated, so the caller can
// show it once; the password is never logged.
func SeedSuperUser(ctx context.Context, accounts AccountRepository, params SeedParams, logger *slog.Logger) (string, error) {
	count, err := accounts.CountSuperUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("checking super user count: %w", err)
	}

	if count > 0 {
		logger.Info("super users exist, skipping seed")
		return "", nil
	}

	if params.Email == "" || params.NumeroCliente == "" {
		logger.Warn("no super user configured for seeding", "hint", "set seed.superuser_email and seed.superuser_number")
		return "", nil
	}

	password := params.Password
	generated := false
	if password == "" {
		passwordBytes := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(passwordBytes)
		generated = true
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	nombre := params.Nombre
	if nombre == "" {
		nombre = "Administrador"
	}

	su := &SuperUser{
		Nombre:        nombre,
		Email:         params.Email,
		NumeroCliente: params.NumeroCliente,
		PasswordHash:  hash,
		Activo:        true,
	}
	if err := accounts.CreateSuperUser(ctx, su); err != nil {
		return "", fmt.Errorf("creating seed super user: %w", err)
	}

	logger.Warn("seed super user created",
		"email", su.Email,
		"numero_cliente", su.NumeroCliente,
		"password_generated", generated,
	)

	if generated {
		return password, nil
	}
	return "", nil
}
