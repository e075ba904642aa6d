package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/types"
)

type chatRequest struct {
	Message   string    `json:"message"`
	DomainID  uuid.UUID `json:"domain_id"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
}

// handleChat runs one query through the pipeline. Domain authorization,
// session ownership, and intent routing all happen inside the pipeline.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	claims := claimsFrom(r)
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DomainID == uuid.Nil {
		writeError(w, r, fmt.Errorf("domain_id is required: %w", errdefs.ErrBadRequest))
		return
	}

	answer, err := s.pipeline.Answer(r.Context(), query.Input{
		Claims:    claims,
		OrgID:     claims.OrgID,
		DomainID:  req.DomainID,
		SessionID: req.SessionID,
		Text:      req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type sessionListResponse struct {
	Sessions []*types.ChatSession `json:"sessions"`
}

// handleListSessions returns the caller's own conversations, most recent
// activity first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if err := auth.Require(claims, auth.PermChatRead, claims.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	limit, offset := parseLimit(r, 50, 200)
	sessions, err := s.store.ListSessions(r.Context(), claims.OrgID, claims.UserID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions})
}

// loadSession resolves {sessionID} for the caller. Conversations are
// private to their user; audit readers may review any session in the org.
func (s *Server) loadSession(r *http.Request) (*types.ChatSession, error) {
	claims := claimsFrom(r)
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(r.Context(), claims.OrgID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID && !claims.Has(auth.PermAuditRead) {
		return nil, fmt.Errorf("session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	return session, nil
}

type messageListResponse struct {
	Messages []*types.Message `json:"messages"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if err := auth.Require(claims, auth.PermChatRead, claims.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.loadSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, offset := parseLimit(r, 100, 500)
	msgs, err := s.store.ListMessages(r.Context(), claims.OrgID, session.ID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: msgs})
}
