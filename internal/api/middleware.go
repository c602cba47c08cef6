package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/devicehub-core/internal/access"
	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/device"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyPrincipal contextKey = "principal"
	ctxKeyDevice    contextKey = "device"
)

// requestIDFrom returns the request ID stored by requestIDMiddleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string) //nolint:errcheck // type assertion, not an error
	return id
}

// principalFrom returns the authenticated identity, if any.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok
}

// deviceFrom returns the device loaded by loadDevice.
func deviceFrom(ctx context.Context) *device.Device {
	d, _ := ctx.Value(ctxKeyDevice).(*device.Device) //nolint:errcheck // type assertion, not an error
	return d
}

// requestIDMiddleware assigns each request a ULID request ID.
// If the client sends an X-Request-ID header, it is used instead.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// maxRequestIDLength bounds client-supplied request IDs.
const maxRequestIDLength = 64

// loggingMiddleware logs each HTTP request and records it in the HTTP metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		route := routePattern(r)
		s.metrics.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		s.metrics.httpDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// routePattern returns the matched chi pattern so metric labels stay
// bounded; unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w, "error interno del servidor")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PUT, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate requires a valid access token in the Authorization header
// and stores the resulting Principal in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "token no proporcionado")
			return
		}

		claims, err := s.tokens.VerifyAccessToken(raw)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeUnauthorized(w, "token expirado")
				return
			}
			writeUnauthorized(w, "token inválido")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, claims.Principal())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireRole rejects requests whose principal's role is not allowed.
func (s *Server) requireRole(allowed ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "autenticación requerida")
				return
			}
			if !slices.Contains(allowed, p.Role) {
				s.logger.Warn("role not permitted",
					"role", string(p.Role),
					"account_id", p.ID,
					"path", r.URL.Path,
				)
				writeForbidden(w, "no tiene permisos para esta operación")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loadDevice resolves the {id} URL parameter into a device.
func (s *Server) loadDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeNotFound(w, "dispositivo no encontrado")
				return
			}
			s.internalError(w, r, "failed to load device", err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDevice, d)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceAccess loads the device and authorises action on it.
func (s *Server) deviceAccess(action access.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return s.loadDevice(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "autenticación requerida")
				return
			}
			if !s.authorized(w, r, s.access.AuthorizeDevice(r.Context(), p, deviceFrom(r.Context()), action)) {
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// authorized maps an access decision to a response. It returns true only
// when err is nil.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, access.ErrDenied):
		writeForbidden(w, "no tiene permisos sobre este dispositivo")
	default:
		s.internalError(w, r, "failed to evaluate device access", err)
	}
	return false
}

// rateLimitByRole applies the per-role fixed window limiter keyed by the
// authenticated principal and sets the X-RateLimit-* headers.
func (s *Server) rateLimitByRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if s.limiter == nil || !ok {
			next.ServeHTTP(w, r)
			return
		}

		res := s.limiter.Allow(r.Context(), p.Role, p.ID)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retry := res.RetryAfter(time.Now())
			h.Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			s.metrics.rateLimited.WithLabelValues(string(p.Role)).Inc()
			s.events.WriteAuthEvent("rate_limited", string(p.Role), "denied", p.ID)
			writeErrorData(w, http.StatusTooManyRequests, ErrCodeRateLimited,
				"demasiadas solicitudes, intente más tarde",
				map[string]any{
					"limit":      res.Limit,
					"retryAfter": int(retry.Seconds()),
				})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
