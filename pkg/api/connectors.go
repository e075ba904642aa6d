package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

type connectorRequest struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config"`
	Enabled  *bool          `json:"enabled,omitempty"`
	Schedule string         `json:"schedule,omitempty"`
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	if s.connectors == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	domain, err := s.loadDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.RequireDomain(claimsFrom(r), auth.PermConnectorsRead, domain); err != nil {
		writeError(w, r, err)
		return
	}
	conns, err := s.connectors.List(r.Context(), domain.OrgID, domain.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	if s.connectors == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	claims := claimsFrom(r)
	domain, err := s.loadDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.RequireDomain(claims, auth.PermConnectorsWrite, domain); err != nil {
		writeError(w, r, err)
		return
	}
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	conn := &types.Connector{
		ID:       uuid.New(),
		OrgID:    domain.OrgID,
		DomainID: domain.ID,
		Name:     req.Name,
		Type:     types.ConnectorType(req.Type),
		Config:   req.Config,
		Enabled:  enabled,
		Schedule: req.Schedule,
	}
	if err := s.connectors.Create(r.Context(), conn, &claims.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// loadConnector resolves {connectorID} and checks the permission against
// the connector's domain.
func (s *Server) loadConnector(r *http.Request, perm auth.Permission) (*types.Connector, error) {
	if s.connectors == nil {
		return nil, errdefs.ErrNotFound
	}
	claims := claimsFrom(r)
	connectorID, err := pathUUID(r, "connectorID")
	if err != nil {
		return nil, err
	}
	conn, err := s.connectors.Get(r.Context(), claims.OrgID, connectorID)
	if err != nil {
		return nil, err
	}
	domain, err := s.store.GetDomain(r.Context(), claims.OrgID, conn.DomainID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireDomain(claims, perm, domain); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsWrite)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// Type is fixed at creation; config, schedule, and enablement may move.
	if req.Type != "" && types.ConnectorType(req.Type) != conn.Type {
		writeError(w, r, fmt.Errorf("connector type cannot change: %w", errdefs.ErrBadRequest))
		return
	}
	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Config != nil {
		conn.Config = req.Config
	}
	if req.Enabled != nil {
		conn.Enabled = *req.Enabled
	}
	conn.Schedule = req.Schedule

	claims := claimsFrom(r)
	if err := s.connectors.Update(r.Context(), conn, &claims.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsWrite)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims := claimsFrom(r)
	if err := s.connectors.Delete(r.Context(), conn.OrgID, conn.ID, &claims.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capabilitiesResponse struct {
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.connectors == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	typ := types.ConnectorType(chi.URLParam(r, "type"))
	caps, err := s.connectors.Capabilities(typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	writeJSON(w, http.StatusOK, capabilitiesResponse{Type: string(typ), Capabilities: names})
}

type testConnectorRequest struct {
	Config map[string]any `json:"config"`
}

// handleTestConnector verifies a config against the remote without
// persisting anything.
func (s *Server) handleTestConnector(w http.ResponseWriter, r *http.Request) {
	if s.connectors == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	claims := claimsFrom(r)
	if err := auth.Require(claims, auth.PermConnectorsWrite, claims.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	var req testConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ := types.ConnectorType(chi.URLParam(r, "type"))
	if err := s.connectors.Test(r.Context(), typ, req.Config); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleTriggerSync queues one ingest cycle and returns the pending job.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsWrite)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.connectors.TriggerSync(r.Context(), conn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type syncJobListResponse struct {
	Jobs []*types.SyncJob `json:"jobs"`
}

func (s *Server) handleListSyncJobs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := parseLimit(r, 20, 100)
	jobs, err := s.store.ListSyncJobs(r.Context(), conn.OrgID, conn.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncJobListResponse{Jobs: jobs})
}
