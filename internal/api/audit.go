package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/devicehub-core/internal/access"
	"github.com/nerrad567/devicehub-core/internal/audit"
)

// auditChanSize bounds the audit queue. A full queue drops the entry.
const auditChanSize = 256

// auditLog queues entry for the drain goroutine, filling the actor from the
// principal in ctx. A full queue drops the entry with a warning.
func (s *Server) auditLog(ctx context.Context, entry *audit.Entry) {
	if s.auditCh == nil {
		return
	}

	if p, ok := principalFrom(ctx); ok && entry.ActorID == "" {
		entry.ActorID = p.ID
		entry.ActorRole = string(p.Role)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if id := requestIDFrom(ctx); id != "" {
		entry.Details["request_id"] = id
	}

	select {
	case s.auditCh <- entry:
	default:
		s.metrics.auditDropped.Inc()
		s.logger.Warn("audit log channel full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// This avoids unbounded goroutine creation and is kinder to SQLite's serial write model.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// onDenied is installed as the access controller's deny hook.
func (s *Server) onDenied(ctx context.Context, d access.Denial) {
	role := string(d.Principal.Role)
	s.metrics.denials.WithLabelValues(role, string(d.Action)).Inc()
	s.events.WriteAuthEvent("access_denied", role, audit.OutcomeDenied, d.Principal.ID)

	details := map[string]any{
		"action": string(d.Action),
		"reason": d.Reason,
	}
	if d.Command != "" {
		details["command"] = d.Command
	}
	s.auditLog(ctx, &audit.Entry{
		Action:     audit.ActionAccessDenied,
		EntityType: "device",
		EntityID:   d.DeviceID,
		ActorID:    d.Principal.ID,
		ActorRole:  role,
		Outcome:    audit.OutcomeDenied,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: login, password_change, recovery_redeem, access_denied, device_command, ...
//   - entity_type, entity_id: filter by target
//   - actor_id: filter by acting account
//   - outcome: success, failure or denied
//   - since: RFC3339 lower bound on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "auditoría no configurada")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Outcome:    q.Get("outcome"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since debe tener formato RFC3339")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, "failed to list audit logs", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
