package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/types"
)

// loadWebConnector resolves a scraper operation's target: the connector
// must be a web connector with a parseable crawl config.
func (s *Server) loadWebConnector(r *http.Request, perm auth.Permission) (*types.Connector, scraper.Options, error) {
	if s.scraper == nil {
		return nil, scraper.Options{}, errdefs.ErrNotFound
	}
	conn, err := s.loadConnector(r, perm)
	if err != nil {
		return nil, scraper.Options{}, err
	}
	if conn.Type != types.ConnectorWeb {
		return nil, scraper.Options{}, fmt.Errorf("%s connectors cannot be crawled: %w", conn.Type, errdefs.ErrBadRequest)
	}
	opts, err := scraper.OptionsFromConfig(conn.Config)
	if err != nil {
		return nil, scraper.Options{}, err
	}
	return conn, opts, nil
}

type previewRequest struct {
	URL string `json:"url,omitempty"`
}

// handleConnectorPreview previews a connector's content. With a url in the
// body (web connectors only) it fetches and scores that single page; with
// no body it asks the connector variant what a sync would pull.
func (s *Server) handleConnectorPreview(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req previewRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.URL != "" {
		if s.scraper == nil || conn.Type != types.ConnectorWeb {
			writeError(w, r, fmt.Errorf("page preview needs a web connector: %w", errdefs.ErrBadRequest))
			return
		}
		opts, err := scraper.OptionsFromConfig(conn.Config)
		if err != nil {
			writeError(w, r, err)
			return
		}
		page, err := s.scraper.Preview(r.Context(), req.URL, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	preview, err := s.connectors.Preview(r.Context(), conn.Type, conn.Config)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type discoverResponse struct {
	URLs []scraper.DiscoveredURL `json:"urls"`
}

// handleDiscoverURLs runs the discovery phase only: every URL the crawl
// would consider, classified, with nothing fetched into the domain.
func (s *Server) handleDiscoverURLs(w http.ResponseWriter, r *http.Request) {
	conn, opts, err := s.loadWebConnector(r, auth.PermScrapeRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	urls, err := s.scraper.DiscoverURLs(r.Context(), conn, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, discoverResponse{URLs: urls})
}

type scrapeURLsRequest struct {
	URLs []string `json:"urls"`
}

// handleScrapeURLs fetches and ingests exactly the listed pages. Runs
// synchronously; the connector's crawl config still applies for delays and
// quality gates.
func (s *Server) handleScrapeURLs(w http.ResponseWriter, r *http.Request) {
	conn, opts, err := s.loadWebConnector(r, auth.PermScrapeRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req scrapeURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, r, fmt.Errorf("urls are required: %w", errdefs.ErrBadRequest))
		return
	}
	stats, err := s.scraper.ScrapeURLs(r.Context(), conn, req.URLs, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type crawlOverrides struct {
	MaxDepth int `json:"max_depth,omitempty"`
	MaxPages int `json:"max_pages,omitempty"`
}

// handleIntelligentCrawl starts a full prioritised crawl in the background
// and returns immediately; progress is polled via crawl-session-status.
func (s *Server) handleIntelligentCrawl(w http.ResponseWriter, r *http.Request) {
	conn, opts, err := s.loadWebConnector(r, auth.PermScrapeRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req crawlOverrides
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}

	// Detach from the request so the crawl survives the response.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.scraper.Crawl(ctx, conn, opts); err != nil && !errdefs.IsConflict(err) {
			s.logger.Warn().Err(err).Str("connector", conn.ID.String()).Msg("Background crawl failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "crawl started",
		"connector_id": conn.ID.String(),
	})
}

type crawledPagesResponse struct {
	Pages []*types.CrawledPage `json:"pages"`
	Total int                  `json:"total"`
}

func (s *Server) handleCrawledPages(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := types.PageStatus(r.URL.Query().Get("status"))
	limit, offset := parseLimit(r, 50, 500)
	pages, total, err := s.store.ListCrawledPages(r.Context(), conn.OrgID, conn.ID, status, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, crawledPagesResponse{Pages: pages, Total: total})
}

// handleContentAnalytics aggregates the connector's crawl history: status
// mix, quality, and word-count averages.
func (s *Server) handleContentAnalytics(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	analytics, err := s.store.PageAnalytics(r.Context(), conn.OrgID, conn.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

type duplicateAnalysisResponse struct {
	DuplicateRatio float64              `json:"duplicate_ratio"`
	DuplicateCount int                  `json:"duplicate_count"`
	TotalPages     int                  `json:"total_pages"`
	Pages          []*types.CrawledPage `json:"pages"`
}

// handleDuplicateAnalysis reports how much of the crawl was redundant and
// which URLs collided.
func (s *Server) handleDuplicateAnalysis(w http.ResponseWriter, r *http.Request) {
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	analytics, err := s.store.PageAnalytics(r.Context(), conn.OrgID, conn.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, offset := parseLimit(r, 50, 500)
	pages, count, err := s.store.ListCrawledPages(r.Context(), conn.OrgID, conn.ID, types.PageSkippedDuplicate, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, duplicateAnalysisResponse{
		DuplicateRatio: analytics.DuplicateRatio,
		DuplicateCount: count,
		TotalPages:     analytics.TotalPages,
		Pages:          pages,
	})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	conn, err := s.loadConnector(r, auth.PermConnectorsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.scraper.SessionStats(conn.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCancelCrawl stops the connector's running crawl; it winds down at
// the next loop iteration.
func (s *Server) handleCancelCrawl(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	conn, err := s.loadConnector(r, auth.PermScrapeRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.scraper.CancelCrawl(conn.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
