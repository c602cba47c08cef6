// Package ratelimit enforces per-identity request budgets.
//
// # Window semantics
//
// Fixed-window counters keyed by (role, id). The first request of a window
// starts it; the counter resets when the window elapses, not on a rolling
// basis.
//
// Two counter backends are provided:
//   - MemoryCounter: process-local, correct for a single instance only
//   - RedisCounter: INCR + conditional EXPIRE on first hit, shared by every
//     instance behind a load balancer
//
// The Limiter fails open: if the counter store errors, the request is
// allowed and the error is logged.
package ratelimit
