package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/devicehub-core/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return mr, client
}

func TestLimits_For(t *testing.T) {
	tests := []struct {
		role auth.Role
		want int
	}{
		{auth.RoleSuperAdmin, 1000},
		{auth.RoleAdmin, 1000},
		{auth.RoleCompany, 500},
		{auth.RoleClient, 100},
		{auth.Role("invitado"), 100},
	}
	for _, tt := range tests {
		if got := DefaultLimits.For(tt.role); got != tt.want {
			t.Errorf("For(%q) = %d, want %d", tt.role, got, tt.want)
		}
	}
}

func TestLimiter_MemoryFixedWindow(t *testing.T) {
	counter := NewMemoryCounter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter.SetClock(func() time.Time { return now })

	l := NewLimiter(counter, Limits{Client: 3, Default: 3}, time.Minute, discardLogger())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.Allow(ctx, auth.RoleClient, "cli-1")
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("request %d Remaining = %d, want %d", i, res.Remaining, 3-i)
		}
	}

	res := l.Allow(ctx, auth.RoleClient, "cli-1")
	if res.Allowed {
		t.Fatal("4th request should be rejected")
	}
	if res.Remaining != 0 || res.Limit != 3 {
		t.Errorf("rejected result = %+v", res)
	}
	if got := res.RetryAfter(now); got != 61*time.Second {
		t.Errorf("RetryAfter() = %v, want 61s", got)
	}

	// Another identity has its own window.
	if !l.Allow(ctx, auth.RoleClient, "cli-2").Allowed {
		t.Error("a different id should not share the counter")
	}

	// Mid-window requests do not extend the window.
	now = now.Add(59 * time.Second)
	if l.Allow(ctx, auth.RoleClient, "cli-1").Allowed {
		t.Error("still inside the window, should be rejected")
	}

	now = now.Add(time.Second)
	res = l.Allow(ctx, auth.RoleClient, "cli-1")
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("after reset result = %+v, want allowed with 2 remaining", res)
	}
}

func TestMemoryCounter_Prunes(t *testing.T) {
	counter := NewMemoryCounter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, _, err := counter.Incr(ctx, key, time.Minute); err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
	}
	if counter.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", counter.Len())
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := counter.Incr(ctx, "d", time.Minute); err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if counter.Len() != 1 {
		t.Errorf("Len() after prune = %d, want 1", counter.Len())
	}
}

func TestLimiter_RedisFixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewLimiter(NewRedisCounter(client, "rl:"), Limits{Company: 2, Default: 2}, time.Minute, discardLogger())
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if !l.Allow(ctx, auth.RoleCompany, "cmp-1").Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	res := l.Allow(ctx, auth.RoleCompany, "cmp-1")
	if res.Allowed {
		t.Fatal("3rd request should be rejected")
	}
	if res.ResetAt.Before(time.Now()) {
		t.Errorf("ResetAt = %v, should be in the future", res.ResetAt)
	}

	if ttl := mr.TTL("rl:empresa:cmp-1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("key TTL = %v, want within one minute", ttl)
	}

	mr.FastForward(time.Minute)

	if !l.Allow(ctx, auth.RoleCompany, "cmp-1").Allowed {
		t.Error("request after the window should be allowed")
	}
}

func TestRedisCounter_RestoresMissingExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	counter := NewRedisCounter(client, "rl:")

	// Simulate a lost EXPIRE: key exists without TTL.
	if err := mr.Set("rl:k", "5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	count, _, err := counter.Incr(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 6 {
		t.Errorf("count = %d, want 6", count)
	}
	if ttl := mr.TTL("rl:k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, ErrStoreUnavailable
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := NewLimiter(failingCounter{}, Limits{Client: 1}, time.Minute, discardLogger())

	var got error
	l.SetOnError(func(err error) { got = err })

	for n := 0; n < 3; n++ {
		if !l.Allow(context.Background(), auth.RoleClient, "cli-1").Allowed {
			t.Fatal("store failure should not reject requests")
		}
	}
	if !errors.Is(got, ErrStoreUnavailable) {
		t.Errorf("onError received %v, want ErrStoreUnavailable", got)
	}
}

func TestLimiter_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewLimiter(NewRedisCounter(client, "rl:"), Limits{Client: 1}, time.Minute, discardLogger())
	mr.Close()

	if !l.Allow(context.Background(), auth.RoleClient, "cli-1").Allowed {
		t.Error("unreachable Redis should fail open")
	}
}
