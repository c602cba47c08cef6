package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Argon2id parameters, OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// DefaultMinPasswordLength is the floor for every password policy.
const DefaultMinPasswordLength = 8

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against a stored hash.
// Argon2id PHC strings are the native format; bcrypt hashes ($2a$, $2b$,
// $2y$) imported from the legacy account store are also accepted.
func VerifyPassword(password, encodedHash string) (bool, error) {
	if isBcryptHash(encodedHash) {
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("comparing bcrypt hash: %w", err)
		}
		return true, nil
	}

	salt, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}

	return salt, hash, params, nil
}

// PasswordPolicy describes the strength rules for new passwords.
type PasswordPolicy struct {
	MinLength int
	// RequireMixed demands at least one upper-case letter, one
	// lower-case letter and one digit.
	RequireMixed bool
}

// PolicyError carries the user-facing reason a password was rejected.
// It matches ErrWeakPassword with errors.Is.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return e.Reason }

func (e *PolicyError) Is(target error) bool { return target == ErrWeakPassword }

// Validate returns a *PolicyError when plaintext does not satisfy the policy.
func (p PasswordPolicy) Validate(plaintext string) error {
	minLen := p.MinLength
	if minLen < DefaultMinPasswordLength {
		minLen = DefaultMinPasswordLength
	}
	if len([]rune(plaintext)) < minLen {
		return &PolicyError{Reason: fmt.Sprintf("La contraseña debe tener al menos %d caracteres", minLen)}
	}

	if !p.RequireMixed {
		return nil
	}

	var upper, lower, digit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return &PolicyError{Reason: "La contraseña debe incluir mayúsculas, minúsculas y números"}
	}
	return nil
}

// PasswordVerifier checks and changes passwords under the policy of each
// account kind. Argon2 work is bounded by a weighted semaphore so a burst
// of logins cannot exhaust memory or starve other requests.
type PasswordVerifier struct {
	accounts AccountRepository
	policy   PasswordPolicy
	slots    *semaphore.Weighted
	logger   *slog.Logger
}

// NewPasswordVerifier creates a verifier allowing at most concurrency
// simultaneous hash operations.
func NewPasswordVerifier(accounts AccountRepository, policy PasswordPolicy, concurrency int) *PasswordVerifier {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PasswordVerifier{
		accounts: accounts,
		policy:   policy,
		slots:    semaphore.NewWeighted(int64(concurrency)),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for unreadable stored hashes.
func (v *PasswordVerifier) SetLogger(logger *slog.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

// ValidateStrength applies the configured policy to plaintext.
func (v *PasswordVerifier) ValidateStrength(plaintext string) error {
	return v.policy.Validate(plaintext)
}

// Verify reports whether plaintext is the password of acct.
//
// Company and SuperUser accounts are checked against their hash only.
// A Client holding a temporary password is checked against that exact
// string; otherwise its hash is used. A wrong password is (false, nil),
// and so is a stored hash that cannot be parsed.
func (v *PasswordVerifier) Verify(ctx context.Context, acct Account, plaintext string) (bool, error) {
	switch a := acct.(type) {
	case *Client:
		if a.PasswordTemporal != "" {
			return subtle.ConstantTimeCompare([]byte(a.PasswordTemporal), []byte(plaintext)) == 1, nil
		}
		return v.compareHash(ctx, acct, plaintext, a.PasswordHash)
	case *Company:
		return v.compareHash(ctx, acct, plaintext, a.PasswordHash)
	case *SuperUser:
		return v.compareHash(ctx, acct, plaintext, a.PasswordHash)
	default:
		return false, ErrUnknownKind
	}
}

// ChangePassword validates, hashes and stores a new password for acct.
// The Client temporary password and the Company temporary flag are
// cleared in the same update, and acct is updated in place.
func (v *PasswordVerifier) ChangePassword(ctx context.Context, acct Account, newPlaintext string) error {
	if err := v.policy.Validate(newPlaintext); err != nil {
		return err
	}

	hash, err := v.hash(ctx, newPlaintext)
	if err != nil {
		return err
	}

	creds := acct.Credentials()
	if err := v.accounts.UpdatePassword(ctx, acct.Kind(), creds.ID, hash); err != nil {
		return fmt.Errorf("storing new password: %w", err)
	}

	switch a := acct.(type) {
	case *Client:
		a.PasswordHash = hash
		a.PasswordTemporal = ""
	case *Company:
		a.PasswordHash = hash
		a.PasswordTemporal = false
	case *SuperUser:
		a.PasswordHash = hash
	}
	return nil
}

func (v *PasswordVerifier) compareHash(ctx context.Context, acct Account, plaintext, encoded string) (bool, error) {
	if encoded == "" {
		return false, nil
	}
	if err := v.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer v.slots.Release(1)

	ok, err := VerifyPassword(plaintext, encoded)
	if err != nil {
		v.logger.Error("stored password hash unreadable",
			"account_kind", string(acct.Kind()),
			"account_id", acct.Credentials().ID,
			"error", err,
		)
		return false, nil
	}
	return ok, nil
}

func (v *PasswordVerifier) hash(ctx context.Context, plaintext string) (string, error) {
	if err := v.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer v.slots.Release(1)

	return HashPassword(plaintext)
}
