package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// Resilience tests verify that the auth subsystem keeps its invariants
// under concurrent use. These tests use the TestResilience_ prefix for
// easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentRedeem verifies that a recovery token presented
// by several goroutines at once is redeemed exactly once.
func TestResilience_ConcurrentRedeem(t *testing.T) {
	f := newRecoveryFixture(t)
	seedClient(t, f.accounts, "ana@example.com", "100001-1", "client-pass")
	ctx := context.Background()

	f.flow.Request(ctx, "ana@example.com")
	raw := tokenFromLink(t, f.notifier.last(t).Link)

	const attempts = 4
	var wg sync.WaitGroup
	var ok, invalid atomic.Int32

	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.flow.Redeem(ctx, raw, "nueva-clave-1")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrRecoveryTokenInvalid):
				invalid.Add(1)
			default:
				t.Errorf("unexpected Redeem() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("successful redemptions = %d, want 1", ok.Load())
	}
	if invalid.Load() != attempts-1 {
		t.Errorf("rejected redemptions = %d, want %d", invalid.Load(), attempts-1)
	}
}

// TestResilience_ConcurrentRequests verifies that parallel recovery
// requests for one account leave a single active token.
func TestResilience_ConcurrentRequests(t *testing.T) {
	f := newRecoveryFixture(t)
	company := seedCompany(t, f.accounts, "stack@example.com", "500001-5", "stackmern", StatusActive)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 5; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.flow.Request(ctx, "500001-5")
		}()
	}
	wg.Wait()

	if n := countActiveTokens(t, f.tokens, KindCompany, company.ID); n != 1 {
		t.Errorf("active tokens = %d, want 1", n)
	}
}
