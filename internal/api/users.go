package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartrack-core/internal/audit"
	"github.com/nerrad567/smartrack-core/internal/auth"
)

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// handleInviteUser creates a user and emails them an invite link.
func (s *Server) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFromContext(r.Context())
	if actor == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	var in auth.InviteUserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.svc.InviteUser(r.Context(), *actor, in)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.auditLog(audit.SourceAPI, audit.ActionUserInvite, "user", user.ID, actor.ID, map[string]any{
		"email": user.Email,
		"role":  user.Role,
	})
	writeJSON(w, http.StatusCreated, user)
}

// handleSetUserActive deactivates or restores a user.
func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFromContext(r.Context())
	if actor == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Active == nil {
		writeInvalidData(w, "active is required")
		return
	}

	user, err := s.svc.SetUserActive(r.Context(), *actor, id, *req.Active)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	action := audit.ActionUserDeactivate
	if *req.Active {
		action = audit.ActionUserActivate
	}
	s.auditLog(audit.SourceAPI, action, "user", user.ID, actor.ID, nil)
	writeJSON(w, http.StatusOK, user)
}

// pathID parses the {id} URL parameter, answering 400 when malformed.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}
