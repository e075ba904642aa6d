package api

import (
	"net/http"

	"github.com/tomehq/tome/pkg/auth"
)

// handleListOrgs returns every organization the caller is a member of,
// not just the token's active one.
func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	orgs, err := s.store.ListOrganizationsForUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

type createOrgRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req createOrgRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	org, err := s.auth.CreateOrganization(r.Context(), claims.UserID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// handleListAudit returns the org's audit trail, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if err := auth.Require(claims, auth.PermAuditRead, claims.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	limit, offset := parseLimit(r, 50, 500)
	events, err := s.store.ListAuditEvents(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
