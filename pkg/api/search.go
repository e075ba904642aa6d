package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/types"
)

type searchRequest struct {
	Query         string      `json:"query"`
	DomainID      uuid.UUID   `json:"domain,omitempty"`
	DomainIDs     []uuid.UUID `json:"domains,omitempty"`
	Mode          string      `json:"mode,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	MinConfidence float64     `json:"min_confidence,omitempty"`
	SourceIDs     []uuid.UUID `json:"source_ids,omitempty"` // restrict to specific documents
}

type searchResponse struct {
	Results []types.RetrievalResult `json:"results"`
}

// handleSearch runs retrieval without synthesis: scored chunks straight
// from the caller's readable slice of the index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	claims := claimsFrom(r)
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	domainIDs := req.DomainIDs
	if req.DomainID != uuid.Nil {
		domainIDs = append(domainIDs, req.DomainID)
	}

	results, err := s.pipeline.Search(r.Context(), query.SearchInput{
		Claims:    claims,
		OrgID:     claims.OrgID,
		DomainIDs: domainIDs,
		Text:      req.Query,
		Mode:      types.SearchMode(req.Mode),
		Limit:     req.Limit,
		MinScore:  req.MinConfidence,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if len(req.SourceIDs) > 0 {
		keep := make(map[uuid.UUID]bool, len(req.SourceIDs))
		for _, id := range req.SourceIDs {
			keep[id] = true
		}
		filtered := results[:0]
		for _, res := range results {
			if keep[res.DocumentID] {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	if results == nil {
		results = []types.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}
