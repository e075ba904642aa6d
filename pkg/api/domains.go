package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

// Domain templates preset the tone of a knowledge partition; custom leaves
// everything to the caller.
var domainTemplates = map[string]bool{
	"support": true, "docs": true, "internal": true, "custom": true,
}

type domainRequest struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Template    string         `json:"template"`
	AI          types.AIConfig `json:"ai_config"`
	AccessMode  string         `json:"access_mode"`
	Settings    map[string]any `json:"settings"`
}

func (req *domainRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("domain name is required: %w", errdefs.ErrBadRequest)
	}
	req.Name = auth.Slugify(req.Name)
	if req.Template == "" {
		req.Template = "custom"
	}
	if !domainTemplates[req.Template] {
		return fmt.Errorf("unknown template %q: %w", req.Template, errdefs.ErrBadRequest)
	}
	switch types.AccessMode(req.AccessMode) {
	case types.AccessPublic, types.AccessPrivate, types.AccessRestricted:
	case "":
		req.AccessMode = string(types.AccessPublic)
	default:
		return fmt.Errorf("unknown access mode %q: %w", req.AccessMode, errdefs.ErrBadRequest)
	}
	return nil
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Require(claims, auth.PermDomainsRead, orgID); err != nil {
		writeError(w, r, err)
		return
	}
	domains, err := s.store.ListDomains(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Require(claims, auth.PermDomainsWrite, orgID); err != nil {
		writeError(w, r, err)
		return
	}
	var req domainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Name
	}

	domain := &types.Domain{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        req.Name,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Template:    req.Template,
		AI:          req.AI,
		AccessMode:  types.AccessMode(req.AccessMode),
		Settings:    req.Settings,
	}
	if err := s.store.CreateDomain(r.Context(), domain); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain)
}

// loadDomain resolves {domainID} against the caller's org. Foreign-org ids
// read as not found.
func (s *Server) loadDomain(r *http.Request) (*types.Domain, error) {
	domainID, err := pathUUID(r, "domainID")
	if err != nil {
		return nil, err
	}
	return s.store.GetDomain(r.Context(), claimsFrom(r).OrgID, domainID)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := s.loadDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Require(claimsFrom(r), auth.PermDomainsRead, domain.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain)
}

func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := s.loadDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Require(claimsFrom(r), auth.PermDomainsWrite, domain.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	var req domainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	// Name is part of the domain's identity and stays fixed.
	if req.Name != domain.Name {
		writeError(w, r, fmt.Errorf("domain name cannot change: %w", errdefs.ErrBadRequest))
		return
	}
	if req.DisplayName != "" {
		domain.DisplayName = strings.TrimSpace(req.DisplayName)
	}
	domain.Template = req.Template
	domain.AI = req.AI
	domain.AccessMode = types.AccessMode(req.AccessMode)
	domain.Settings = req.Settings

	if err := s.store.UpdateDomain(r.Context(), domain); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain)
}

// handleDeleteDomain removes the domain and cascades to its documents,
// chunks, sessions, and index slice.
func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := s.loadDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Require(claimsFrom(r), auth.PermDomainsWrite, domain.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteDomain(r.Context(), domain.OrgID, domain.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
