package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver maps a login credential to an account. A credential containing
// "@" is an email; anything else is a client number.
type Resolver struct {
	accounts AccountRepository
}

// NewResolver creates a resolver over the account store.
func NewResolver(accounts AccountRepository) *Resolver {
	return &Resolver{accounts: accounts}
}

// IsEmail reports whether a credential is shaped like an email address.
func IsEmail(credential string) bool {
	return strings.Contains(credential, "@")
}

// Resolve searches the kinds in ResolutionOrder and returns the first
// match. ErrAccountNotFound is returned when no kind matches.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Account, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrAccountNotFound
	}

	for _, kind := range ResolutionOrder {
		var (
			acct Account
			err  error
		)
		if IsEmail(credential) {
			acct, err = r.accounts.FindByEmail(ctx, kind, credential)
		} else {
			acct, err = r.accounts.FindByNumeroCliente(ctx, kind, credential)
		}

		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("resolving %s: %w", kind, err)
		}
	}

	return nil, ErrAccountNotFound
}

// ResolveForRecovery is Resolve for input typed into the recovery form:
// embedded whitespace is dropped and emails are lower-cased first.
func (r *Resolver) ResolveForRecovery(ctx context.Context, raw string) (Account, error) {
	return r.Resolve(ctx, NormalizeCredential(raw))
}

// NormalizeCredential removes all whitespace and lower-cases emails.
func NormalizeCredential(raw string) string {
	s := strings.Join(strings.Fields(raw), "")
	if IsEmail(s) {
		s = strings.ToLower(s)
	}
	return s
}
