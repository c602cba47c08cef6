package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// throttleIdleTTL is how long an idle per-IP bucket is kept.
	throttleIdleTTL = 10 * time.Minute

	// throttleJanitorInterval is how often idle buckets are evicted.
	throttleJanitorInterval = time.Minute
)

// ipThrottle is a token bucket per client IP for the unauthenticated auth
// endpoints. It is process-local; the per-role limiter covers
// authenticated traffic.
type ipThrottle struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*ipBucket
	now     func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPThrottle(rps float64, burst int) *ipThrottle {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipThrottle{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*ipBucket),
		now:     time.Now,
	}
}

// allow takes one token from ip's bucket.
func (t *ipThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// evictIdle removes buckets not used within throttleIdleTTL.
func (t *ipThrottle) evictIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-throttleIdleTTL)
	removed := 0
	for ip, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, ip)
			removed++
		}
	}
	return removed
}

func (t *ipThrottle) janitor(ctx context.Context) {
	ticker := time.NewTicker(throttleJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

// throttleByIP rejects public auth requests from an IP that has exhausted
// its bucket.
func (s *Server) throttleByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.throttle == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !s.throttle.allow(ip) {
			s.metrics.throttled.Inc()
			s.events.WriteAuthEvent("throttled", "", "denied", "")
			s.logger.Warn("auth request throttled", "path", r.URL.Path, "ip", ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(throttleRetryAfter(s.throttle.rps).Seconds())))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "demasiados intentos, intente más tarde")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttleRetryAfter is the time until one token refills, at least a second.
func throttleRetryAfter(rps rate.Limit) time.Duration {
	d := time.Duration(float64(time.Second) / float64(rps))
	if d < time.Second {
		return time.Second
	}
	return d.Truncate(time.Second)
}

// clientIP returns the host part of RemoteAddr. Proxy headers are not
// trusted; deployments behind a proxy should rewrite RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
