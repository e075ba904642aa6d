package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/tomehq/tome/pkg/types"
)

const confluencePageSize = 50

// Confluence pages one space's current pages into the domain. Page bodies
// arrive in storage format (XHTML) and are converted to markdown before
// ingestion, the same representation crawled web pages use.
type Confluence struct {
	http *http.Client
}

// NewConfluence creates the confluence variant.
func NewConfluence(client *http.Client) *Confluence {
	return &Confluence{http: client}
}

func (c *Confluence) Type() types.ConnectorType { return types.ConnectorConfluence }

func (c *Confluence) Capabilities() []Capability {
	return []Capability{CapTest, CapPreview, CapSync}
}

// Test fetches a single page from the space, exercising the base URL,
// the credentials, and the space key in one call.
func (c *Confluence) Test(ctx context.Context, cfg map[string]any) error {
	view, err := c.view(cfg)
	if err != nil {
		return err
	}
	_, err = c.fetchContent(ctx, view, 0, 1)
	return err
}

// Preview returns the first page of space content a sync would pull.
func (c *Confluence) Preview(ctx context.Context, cfg map[string]any) (*Preview, error) {
	view, err := c.view(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetchContent(ctx, view, 0, previewLimit)
	if err != nil {
		return nil, err
	}
	pv := &Preview{Total: len(resp.Results)}
	for _, page := range resp.Results {
		pv.Items = append(pv.Items, PreviewItem{
			Title:     page.Title,
			URL:       c.pageURL(view.BaseURL, resp, page),
			Kind:      "page",
			UpdatedAt: parseConfluenceTime(page.Version.When),
		})
	}
	return pv, nil
}

// Sync pages every current page in the space into ingestion, up to
// max_items. A page whose body cannot be converted is logged and skipped;
// one broken page never fails the space.
func (c *Confluence) Sync(ctx context.Context, sc *SyncContext) error {
	view, err := c.view(sc.Config)
	if err != nil {
		return err
	}
	limit := view.MaxItems
	if limit <= 0 {
		limit = defaultMaxItems
	}

	for start := 0; start < limit; {
		size := confluencePageSize
		if start+size > limit {
			size = limit - start
		}
		resp, err := c.fetchContent(ctx, view, start, size)
		if err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return nil
		}
		for _, page := range resp.Results {
			markdown, err := c.pageMarkdown(page)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				sc.logger.Warn().Err(err).Str("page_id", page.ID).Msg("Failed to convert page body")
				sc.AddPages(1)
				continue
			}
			if err := sc.IngestPage(ctx, c.pageURL(view.BaseURL, resp, page), page.Title, markdown); err != nil {
				return err
			}
		}
		start += len(resp.Results)
		if resp.Size < size {
			return nil
		}
	}
	return nil
}

func (c *Confluence) view(cfg map[string]any) (ConfluenceConfig, error) {
	var view ConfluenceConfig
	if err := decodeConfig(types.ConnectorConfluence, cfg, false, &view); err != nil {
		return ConfluenceConfig{}, err
	}
	if err := view.validate(); err != nil {
		return ConfluenceConfig{}, err
	}
	return view, nil
}

type confluenceContentResponse struct {
	Results []confluencePage `json:"results"`
	Start   int              `json:"start"`
	Limit   int              `json:"limit"`
	Size    int              `json:"size"`
	Links   struct {
		Base string `json:"base"`
	} `json:"_links"`
}

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When string `json:"when"`
	} `json:"version"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (c *Confluence) fetchContent(ctx context.Context, view ConfluenceConfig, start, limit int) (*confluenceContentResponse, error) {
	q := url.Values{
		"spaceKey": {view.SpaceKey},
		"type":     {"page"},
		"status":   {"current"},
		"expand":   {"body.storage,version"},
		"start":    {strconv.Itoa(start)},
		"limit":    {strconv.Itoa(limit)},
	}
	endpoint := strings.TrimRight(view.BaseURL, "/") + "/rest/api/content?" + q.Encode()

	client := &apiClient{http: c.http, auth: basicAuth(view.Email, view.APIToken)}
	var resp confluenceContentResponse
	if err := client.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("confluence content fetch failed: %w", err)
	}
	return &resp, nil
}

// pageURL joins the API's reported base with the page's webui path,
// falling back to the configured base URL when the response omits one.
func (c *Confluence) pageURL(configBase string, resp *confluenceContentResponse, page confluencePage) string {
	base := resp.Links.Base
	if base == "" {
		base = strings.TrimRight(configBase, "/")
	}
	return strings.TrimRight(base, "/") + page.Links.WebUI
}

func (c *Confluence) pageMarkdown(page confluencePage) (string, error) {
	body := strings.TrimSpace(page.Body.Storage.Value)
	if body == "" {
		return "# " + page.Title, nil
	}
	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("failed to convert storage format: %v", err)
	}
	return "# " + page.Title + "\n\n" + strings.TrimSpace(markdown), nil
}

func parseConfluenceTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
