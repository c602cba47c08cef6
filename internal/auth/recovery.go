package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// recoveryTokenBytes yields a 32-character hex token.
const recoveryTokenBytes = 16

// DefaultRecoveryTTL is the lifetime of a recovery token.
const DefaultRecoveryTTL = 10 * time.Minute

// RecoveryOutcome records what a recovery request actually did. It is
// for logs and metrics only and must never change the HTTP response.
type RecoveryOutcome string

const (
	RecoveryIssued   RecoveryOutcome = "issued"
	RecoveryUnknown  RecoveryOutcome = "unknown_account"
	RecoverySkipped  RecoveryOutcome = "skipped_inactive"
	RecoveryFailed   RecoveryOutcome = "failed"
	RecoveryRedeemed RecoveryOutcome = "redeemed"
)

// RedeemResult identifies the account whose password was reset.
type RedeemResult struct {
	Kind          Kind   `json:"type"`
	NumeroCliente string `json:"numeroCliente"`
}

// RecoveryDeps holds the collaborators of a RecoveryFlow.
type RecoveryDeps struct {
	Resolver  *Resolver
	Accounts  AccountRepository
	Tokens    RecoveryRepository
	Passwords *PasswordVerifier
	Notifier  notify.Notifier
	Logger    *slog.Logger

	// FrontendBaseURL prefixes the reset link.
	FrontendBaseURL string
	TokenTTL        time.Duration
}

// RecoveryFlow runs password reset requests and redemptions.
//
// Token states: issued, then exactly one of redeemed, expired or
// superseded by a newer request for the same account.
type RecoveryFlow struct {
	resolver  *Resolver
	accounts  AccountRepository
	tokens    RecoveryRepository
	passwords *PasswordVerifier
	notifier  notify.Notifier
	logger    *slog.Logger
	baseURL   string
	ttl       time.Duration
	now       func() time.Time
}

// NewRecoveryFlow creates a recovery flow.
func NewRecoveryFlow(deps RecoveryDeps) *RecoveryFlow {
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = DefaultRecoveryTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryFlow{
		resolver:  deps.Resolver,
		accounts:  deps.Accounts,
		tokens:    deps.Tokens,
		passwords: deps.Passwords,
		notifier:  deps.Notifier,
		logger:    logger,
		baseURL:   strings.TrimRight(deps.FrontendBaseURL, "/"),
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (f *RecoveryFlow) SetClock(now func() time.Time) {
	f.now = now
}

// ResetLink builds the frontend link carrying token.
func (f *RecoveryFlow) ResetLink(token string) string {
	return f.baseURL + "/auth/reset-password?token=" + url.QueryEscape(token)
}

// Request starts a password reset for identifier. Unknown accounts,
// inactive companies and internal failures are not reported to the
// caller; the outcome is returned only for logging and metrics.
func (f *RecoveryFlow) Request(ctx context.Context, identifier string) RecoveryOutcome {
	outcome, err := f.request(ctx, identifier)
	if err != nil {
		f.logger.Error("recovery request failed", "error", err)
		return RecoveryFailed
	}
	f.logger.Info("recovery requested", "outcome", string(outcome))
	return outcome
}

func (f *RecoveryFlow) request(ctx context.Context, identifier string) (RecoveryOutcome, error) {
	acct, err := f.resolver.ResolveForRecovery(ctx, identifier)
	if errors.Is(err, ErrAccountNotFound) {
		return RecoveryUnknown, nil
	}
	if err != nil {
		return RecoveryFailed, err
	}

	if c, ok := acct.(*Company); ok && c.Estado != StatusActive {
		return RecoverySkipped, nil
	}

	raw, err := generateRecoveryToken()
	if err != nil {
		return RecoveryFailed, err
	}

	now := f.now().UTC().Truncate(time.Second)
	creds := acct.Credentials()
	token := &RecoveryToken{
		Token:       raw,
		AccountID:   creds.ID,
		AccountKind: acct.Kind(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(f.ttl),
	}
	if err := f.tokens.Issue(ctx, token); err != nil {
		return RecoveryFailed, err
	}

	msg := notify.ResetMessage{
		AccountKind:   string(acct.Kind()),
		AccountID:     creds.ID,
		Email:         creds.Email,
		Nombre:        acct.DisplayName(),
		NumeroCliente: creds.NumeroCliente,
		Link:          f.ResetLink(raw),
		ExpiresAt:     token.ExpiresAt,
	}
	if err := f.notifier.SendPasswordReset(ctx, msg); err != nil {
		return RecoveryFailed, fmt.Errorf("handing off reset message: %w", err)
	}

	f.logger.Debug("recovery token issued",
		"account_kind", string(acct.Kind()),
		"token_prefix", raw[:6],
	)
	return RecoveryIssued, nil
}

// Redeem sets a new password using a recovery token.
//
// The token is claimed with a conditional update before the password is
// changed, so two concurrent redemptions cannot both succeed. If the
// change fails the claim is released and the token stays redeemable. Returns
// ErrRecoveryTokenInvalid for absent, used or expired tokens and a
// *PolicyError for weak passwords.
func (f *RecoveryFlow) Redeem(ctx context.Context, rawToken, newPassword string) (*RedeemResult, error) {
	token, err := f.tokens.GetByToken(ctx, strings.TrimSpace(rawToken))
	if err != nil {
		return nil, err
	}

	now := f.now()
	if !token.Redeemable(now) {
		return nil, ErrRecoveryTokenInvalid
	}

	if err := f.passwords.ValidateStrength(newPassword); err != nil {
		return nil, err
	}

	acct, err := f.accounts.GetByID(ctx, token.AccountKind, token.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrRecoveryTokenInvalid
		}
		return nil, fmt.Errorf("loading account: %w", err)
	}

	if err := f.tokens.Claim(ctx, token.Token, now); err != nil {
		return nil, err
	}

	if err := f.passwords.ChangePassword(ctx, acct, newPassword); err != nil {
		if rerr := f.tokens.Release(context.WithoutCancel(ctx), token.Token); rerr != nil {
			f.logger.Error("releasing recovery token failed",
				"token_prefix", token.Token[:min(6, len(token.Token))],
				"error", rerr,
			)
		}
		return nil, fmt.Errorf("changing password: %w", err)
	}

	return &RedeemResult{
		Kind:          acct.Kind(),
		NumeroCliente: acct.Credentials().NumeroCliente,
	}, nil
}

// Sweep deletes expired tokens.
func (f *RecoveryFlow) Sweep(ctx context.Context) (int64, error) {
	return f.tokens.DeleteExpired(ctx, f.now())
}

func generateRecoveryToken() (string, error) {
	b := make([]byte, recoveryTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating recovery token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
