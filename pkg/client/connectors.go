package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/connector"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// ConnectorSpec mirrors the connector create/update body. Type is fixed
// at creation; Enabled left nil keeps the server default (on).
type ConnectorSpec struct {
	Name     string         `json:"name"`
	Type     string         `json:"type,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Enabled  *bool          `json:"enabled,omitempty"`
	Schedule string         `json:"schedule,omitempty"`
}

func (c *Client) ListConnectors(ctx context.Context, domainID uuid.UUID) ([]*types.Connector, error) {
	var conns []*types.Connector
	path := "/api/v1/domains/" + domainID.String() + "/connectors"
	if err := c.do(ctx, http.MethodGet, path, nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (c *Client) CreateConnector(ctx context.Context, domainID uuid.UUID, spec ConnectorSpec) (*types.Connector, error) {
	var conn types.Connector
	path := "/api/v1/domains/" + domainID.String() + "/connectors"
	if err := c.do(ctx, http.MethodPost, path, spec, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) GetConnector(ctx context.Context, connectorID uuid.UUID) (*types.Connector, error) {
	var conn types.Connector
	if err := c.do(ctx, http.MethodGet, "/api/v1/connectors/"+connectorID.String(), nil, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) UpdateConnector(ctx context.Context, connectorID uuid.UUID, spec ConnectorSpec) (*types.Connector, error) {
	var conn types.Connector
	if err := c.do(ctx, http.MethodPut, "/api/v1/connectors/"+connectorID.String(), spec, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) DeleteConnector(ctx context.Context, connectorID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/connectors/"+connectorID.String(), nil, nil)
}

type capabilitiesResult struct {
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

// Capabilities lists the actions a connector type supports.
func (c *Client) Capabilities(ctx context.Context, typ string) ([]string, error) {
	var res capabilitiesResult
	path := "/api/v1/connector-types/" + url.PathEscape(typ) + "/capabilities"
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Capabilities, nil
}

// TestConnector verifies a config against the remote without persisting
// anything.
func (c *Client) TestConnector(ctx context.Context, typ string, config map[string]any) error {
	path := "/api/v1/connector-types/" + url.PathEscape(typ) + "/test"
	body := map[string]any{"config": config}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// TriggerSync queues one ingest cycle for the connector. A second
// trigger while one is pending reads as a conflict.
func (c *Client) TriggerSync(ctx context.Context, connectorID uuid.UUID) (*types.SyncJob, error) {
	var job types.SyncJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/sync", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

type syncJobList struct {
	Jobs []*types.SyncJob `json:"jobs"`
}

func (c *Client) ListSyncJobs(ctx context.Context, connectorID uuid.UUID, limit int) ([]*types.SyncJob, error) {
	var res syncJobList
	path := withQuery("/api/v1/connectors/"+connectorID.String()+"/sync-jobs", pager(limit, 0))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Jobs, nil
}

// PreviewSync asks the connector what a sync would pull, without
// ingesting anything.
func (c *Client) PreviewSync(ctx context.Context, connectorID uuid.UUID) (*connector.Preview, error) {
	var preview connector.Preview
	if err := c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/preview", nil, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// PreviewPage fetches and scores a single page through a web connector's
// crawl config.
func (c *Client) PreviewPage(ctx context.Context, connectorID uuid.UUID, pageURL string) (*scraper.PagePreview, error) {
	var page scraper.PagePreview
	body := map[string]string{"url": pageURL}
	if err := c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/preview", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type discoverResult struct {
	URLs []scraper.DiscoveredURL `json:"urls"`
}

// DiscoverURLs runs the crawl's discovery phase only: every URL the
// crawl would consider, classified, with nothing fetched.
func (c *Client) DiscoverURLs(ctx context.Context, connectorID uuid.UUID) ([]scraper.DiscoveredURL, error) {
	var res discoverResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/discover-urls", nil, &res); err != nil {
		return nil, err
	}
	return res.URLs, nil
}

// ScrapeURLs fetches and ingests exactly the listed pages,
// synchronously.
func (c *Client) ScrapeURLs(ctx context.Context, connectorID uuid.UUID, urls []string) (types.CrawlStats, error) {
	var stats types.CrawlStats
	body := map[string]any{"urls": urls}
	err := c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/scrape-urls", body, &stats)
	return stats, err
}

// CrawlOverrides trims a crawl below the connector's configured bounds.
type CrawlOverrides struct {
	MaxDepth int `json:"max_depth,omitempty"`
	MaxPages int `json:"max_pages,omitempty"`
}

// StartCrawl launches a full prioritised crawl in the background. Poll
// CrawlStatus for progress.
func (c *Client) StartCrawl(ctx context.Context, connectorID uuid.UUID, overrides CrawlOverrides) error {
	return c.do(ctx, http.MethodPost, "/api/v1/connectors/"+connectorID.String()+"/intelligent-crawl", overrides, nil)
}

// CrawlStatus reports the connector's active crawl. No active session
// reads as not found.
func (c *Client) CrawlStatus(ctx context.Context, connectorID uuid.UUID) (types.CrawlStats, error) {
	var stats types.CrawlStats
	err := c.do(ctx, http.MethodGet, "/api/v1/connectors/"+connectorID.String()+"/crawl-session-status", nil, &stats)
	return stats, err
}

// CancelCrawl stops the connector's running crawl.
func (c *Client) CancelCrawl(ctx context.Context, connectorID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/connectors/"+connectorID.String()+"/crawl-session", nil, nil)
}

type crawledPageList struct {
	Pages []*types.CrawledPage `json:"pages"`
	Total int                  `json:"total"`
}

// CrawledPages pages through the connector's crawl history, optionally
// narrowed to one page status.
func (c *Client) CrawledPages(ctx context.Context, connectorID uuid.UUID, status types.PageStatus, limit, offset int) ([]*types.CrawledPage, int, error) {
	v := pager(limit, offset)
	if status != "" {
		v.Set("status", string(status))
	}
	var res crawledPageList
	path := withQuery("/api/v1/connectors/"+connectorID.String()+"/crawled-pages", v)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, 0, err
	}
	return res.Pages, res.Total, nil
}

// ContentAnalytics aggregates the connector's crawl history: status mix,
// quality, and word-count averages.
func (c *Client) ContentAnalytics(ctx context.Context, connectorID uuid.UUID) (*store.PageAnalytics, error) {
	var analytics store.PageAnalytics
	if err := c.do(ctx, http.MethodGet, "/api/v1/connectors/"+connectorID.String()+"/content-analytics", nil, &analytics); err != nil {
		return nil, err
	}
	return &analytics, nil
}
