package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/smartrack-core/internal/audit"
)

// auditChanSize is the buffer of the async audit channel. Entries beyond
// it are dropped so a slow database never blocks a login.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
func (s *Server) auditLog(source, action, entityType string, entityID, userID int64, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   idString(entityID),
		UserID:     idString(userID),
		Source:     source,
		Details:    details,
		CreatedAt:  s.now().UTC(),
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// idString formats a database id; zero means "none".
func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns audit entries newest first.
//
// Query parameters: action, entity_type, entity_id, user_id, limit
// (default 50, max 200), offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Audit logging is not enabled.")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
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
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
