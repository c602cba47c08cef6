package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/nerrad567/devicehub-core/internal/auth"
)

// Limits are requests allowed per window for each role.
type Limits struct {
	SuperUser int
	Company   int
	Client    int
	// Default applies to roles that are none of the above.
	Default int
}

// DefaultLimits are the per-minute budgets used when none are configured.
var DefaultLimits = Limits{SuperUser: 1000, Company: 500, Client: 100, Default: 100}

// For returns the limit for role.
func (l Limits) For(role auth.Role) int {
	switch {
	case role.IsSuperUser():
		return l.SuperUser
	case role == auth.RoleCompany:
		return l.Company
	case role == auth.RoleClient:
		return l.Client
	default:
		return l.Default
	}
}

// Result describes the state of a window after one request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long until the window resets, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}

// Limiter applies per-role Limits over a Counter.
type Limiter struct {
	counter Counter
	limits  Limits
	window  time.Duration
	logger  *slog.Logger
	onError func(error)
}

// NewLimiter creates a limiter. A non-positive window defaults to one minute.
func NewLimiter(counter Counter, limits Limits, window time.Duration, logger *slog.Logger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{counter: counter, limits: limits, window: window, logger: logger}
}

// SetOnError registers a callback invoked when the counter store fails.
func (l *Limiter) SetOnError(fn func(error)) {
	l.onError = fn
}

// Allow counts one request for (role, id) and reports whether it fits
// in the current window.
func (l *Limiter) Allow(ctx context.Context, role auth.Role, id string) Result {
	limit := l.limits.For(role)
	key := string(role) + ":" + id

	count, resetAt, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		l.logger.Error("rate limit counter failed, allowing request",
			"role", string(role),
			"error", err,
		)
		if l.onError != nil {
			l.onError(err)
		}
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now().Add(l.window)}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
