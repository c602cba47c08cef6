package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.ResetMessage
	err  error
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, msg notify.ResetMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *captureNotifier) last(t *testing.T) notify.ResetMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		t.Fatal("no reset message sent")
	}
	return n.msgs[len(n.msgs)-1]
}

type recoveryFixture struct {
	flow     *RecoveryFlow
	accounts *SQLiteAccountRepository
	tokens   *SQLiteRecoveryRepository
	notifier *captureNotifier
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()

	db := testDB(t)
	accounts := NewAccountRepository(db)
	tokens := NewRecoveryRepository(db)
	notifier := &captureNotifier{}

	flow := NewRecoveryFlow(RecoveryDeps{
		Resolver:        NewResolver(accounts),
		Accounts:        accounts,
		Tokens:          tokens,
		Passwords:       NewPasswordVerifier(accounts, PasswordPolicy{MinLength: 8}, 2),
		Notifier:        notifier,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		FrontendBaseURL: "https://app.example.com/",
	})
	return &recoveryFixture{flow: flow, accounts: accounts, tokens: tokens, notifier: notifier}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parsing link %q: %v", link, err)
	}
	return u.Query().Get("token")
}

func TestRecoveryFlow_RequestIssuesToken(t *testing.T) {
	f := newRecoveryFixture(t)
	company := seedCompany(t, f.accounts, "stack@example.com", "500001-5", "stackmern", StatusActive)

	if got := f.flow.Request(context.Background(), "500001-5"); got != RecoveryIssued {
		t.Fatalf("Request() outcome = %q, want %q", got, RecoveryIssued)
	}

	msg := f.notifier.last(t)
	if !strings.HasPrefix(msg.Link, "https://app.example.com/auth/reset-password?token=") {
		t.Errorf("Link = %q", msg.Link)
	}
	if msg.Email != "stack@example.com" || msg.AccountID != company.ID {
		t.Errorf("message = %+v", msg)
	}

	raw := tokenFromLink(t, msg.Link)
	if len(raw) != 32 {
		t.Errorf("token length = %d, want 32", len(raw))
	}

	tok, err := f.tokens.GetByToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("GetByToken() error = %v", err)
	}
	if ttl := tok.ExpiresAt.Sub(tok.CreatedAt); ttl != DefaultRecoveryTTL {
		t.Errorf("token TTL = %v, want %v", ttl, DefaultRecoveryTTL)
	}
}

func TestRecoveryFlow_RequestSilentOutcomes(t *testing.T) {
	f := newRecoveryFixture(t)
	seedCompany(t, f.accounts, "suspended@example.com", "500009-9", "stackmern", StatusSuspended)

	tests := []struct {
		name       string
		identifier string
		want       RecoveryOutcome
	}{
		{"unknown account", "nobody@example.com", RecoveryUnknown},
		{"suspended company", "500009-9", RecoverySkipped},
		{"empty input", "   ", RecoveryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.flow.Request(context.Background(), tt.identifier); got != tt.want {
				t.Errorf("Request() = %q, want %q", got, tt.want)
			}
		})
	}

	if len(f.notifier.msgs) != 0 {
		t.Errorf("no message should be sent, got %d", len(f.notifier.msgs))
	}
}

func TestRecoveryFlow_RequestNotifierFailure(t *testing.T) {
	f := newRecoveryFixture(t)
	seedClient(t, f.accounts, "ana@example.com", "100001-1", "client-pass")
	f.notifier.err = errors.New("broker down")

	if got := f.flow.Request(context.Background(), "ana@example.com"); got != RecoveryFailed {
		t.Errorf("Request() = %q, want %q", got, RecoveryFailed)
	}
}

func TestRecoveryFlow_SecondRequestSupersedesFirst(t *testing.T) {
	f := newRecoveryFixture(t)
	client := seedClient(t, f.accounts, "ana@example.com", "100001-1", "client-pass")
	ctx := context.Background()

	f.flow.Request(ctx, "ana@example.com")
	first := tokenFromLink(t, f.notifier.last(t).Link)
	f.flow.Request(ctx, "ana@example.com")
	second := tokenFromLink(t, f.notifier.last(t).Link)

	if first == second {
		t.Fatal("each request should generate a new token")
	}
	if n := countActiveTokens(t, f.tokens, KindClient, client.ID); n != 1 {
		t.Errorf("active tokens = %d, want 1", n)
	}

	if _, err := f.flow.Redeem(ctx, first, "nueva-clave-1"); !errors.Is(err, ErrRecoveryTokenInvalid) {
		t.Errorf("Redeem(first) error = %v, want ErrRecoveryTokenInvalid", err)
	}
	if _, err := f.flow.Redeem(ctx, second, "nueva-clave-1"); err != nil {
		t.Errorf("Redeem(second) error = %v", err)
	}
}

func TestRecoveryFlow_RedeemOnce(t *testing.T) {
	f := newRecoveryFixture(t)
	company := seedCompany(t, f.accounts, "stack@example.com", "500001-5", "stackmern", StatusActive)
	ctx := context.Background()

	f.flow.Request(ctx, "stack@example.com")
	raw := tokenFromLink(t, f.notifier.last(t).Link)

	res, err := f.flow.Redeem(ctx, raw, "nueva-clave-1")
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if res.Kind != KindCompany || res.NumeroCliente != "500001-5" {
		t.Errorf("Redeem() = %+v", res)
	}

	acct, err := f.accounts.GetByID(ctx, KindCompany, company.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if ok, _ := VerifyPassword("nueva-clave-1", acct.Credentials().PasswordHash); !ok {
		t.Error("new password should be stored")
	}

	if _, err := f.flow.Redeem(ctx, raw, "otra-clave-2"); !errors.Is(err, ErrRecoveryTokenInvalid) {
		t.Errorf("second Redeem() error = %v, want ErrRecoveryTokenInvalid", err)
	}
}

func TestRecoveryFlow_RedeemRejections(t *testing.T) {
	f := newRecoveryFixture(t)
	seedClient(t, f.accounts, "ana@example.com", "100001-1", "client-pass")
	ctx := context.Background()

	f.flow.Request(ctx, "ana@example.com")
	raw := tokenFromLink(t, f.notifier.last(t).Link)

	t.Run("weak password keeps token usable", func(t *testing.T) {
		if _, err := f.flow.Redeem(ctx, raw, "short"); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Redeem() error = %v, want ErrWeakPassword", err)
		}
		tok, err := f.tokens.GetByToken(ctx, raw)
		if err != nil {
			t.Fatalf("GetByToken() error = %v", err)
		}
		if tok.Used {
			t.Error("a rejected password must not consume the token")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if _, err := f.flow.Redeem(ctx, "deadbeef", "nueva-clave-1"); !errors.Is(err, ErrRecoveryTokenInvalid) {
			t.Errorf("Redeem() error = %v, want ErrRecoveryTokenInvalid", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		f.flow.SetClock(func() time.Time { return time.Now().Add(11 * time.Minute) })
		defer f.flow.SetClock(time.Now)

		if _, err := f.flow.Redeem(ctx, raw, "nueva-clave-1"); !errors.Is(err, ErrRecoveryTokenInvalid) {
			t.Errorf("Redeem() error = %v, want ErrRecoveryTokenInvalid", err)
		}
	})

	t.Run("still valid before expiry", func(t *testing.T) {
		if _, err := f.flow.Redeem(ctx, raw, "nueva-clave-1"); err != nil {
			t.Errorf("Redeem() error = %v", err)
		}
	})
}

func TestRecoveryFlow_Sweep(t *testing.T) {
	f := newRecoveryFixture(t)
	seedClient(t, f.accounts, "ana@example.com", "100001-1", "client-pass")
	ctx := context.Background()

	f.flow.Request(ctx, "ana@example.com")

	f.flow.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	n, err := f.flow.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
}

// failingPasswordStore fails UpdatePassword while err is set.
type failingPasswordStore struct {
	AccountRepository
	err error
}

func (s *failingPasswordStore) UpdatePassword(ctx context.Context, kind Kind, id, passwordHash string) error {
	if s.err != nil {
		return s.err
	}
	return s.AccountRepository.UpdatePassword(ctx, kind, id, passwordHash)
}

func TestRecoveryFlow_RedeemStoreFailureKeepsToken(t *testing.T) {
	db := testDB(t)
	accounts := NewAccountRepository(db)
	tokens := NewRecoveryRepository(db)
	store := &failingPasswordStore{AccountRepository: accounts, err: errors.New("disk I/O error")}
	notifier := &captureNotifier{}

	flow := NewRecoveryFlow(RecoveryDeps{
		Resolver:  NewResolver(store),
		Accounts:  store,
		Tokens:    tokens,
		Passwords: NewPasswordVerifier(store, PasswordPolicy{MinLength: 8}, 2),
		Notifier:  notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	company := seedCompany(t, accounts, "stack@example.com", "500001-5", "stackmern", StatusActive)
	ctx := context.Background()

	if got := flow.Request(ctx, "500001-5"); got != RecoveryIssued {
		t.Fatalf("Request() outcome = %q, want %q", got, RecoveryIssued)
	}
	raw := tokenFromLink(t, notifier.last(t).Link)

	if _, err := flow.Redeem(ctx, raw, "nueva-clave-1"); !errors.Is(err, store.err) {
		t.Fatalf("Redeem() error = %v, want %v", err, store.err)
	}
	tok, err := tokens.GetByToken(ctx, raw)
	if err != nil {
		t.Fatalf("GetByToken() error = %v", err)
	}
	if tok.Used {
		t.Fatal("token should stay unused when the password was not stored")
	}

	store.err = nil
	if _, err := flow.Redeem(ctx, raw, "nueva-clave-1"); err != nil {
		t.Fatalf("retried Redeem() error = %v", err)
	}

	acct, err := accounts.GetByID(ctx, KindCompany, company.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if ok, _ := VerifyPassword("nueva-clave-1", acct.Credentials().PasswordHash); !ok {
		t.Error("new password should be stored after retry")
	}
	if _, err := flow.Redeem(ctx, raw, "otra-clave-2"); !errors.Is(err, ErrRecoveryTokenInvalid) {
		t.Errorf("third Redeem() error = %v, want ErrRecoveryTokenInvalid", err)
	}
}
