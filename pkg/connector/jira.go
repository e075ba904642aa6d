package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomehq/tome/pkg/types"
)

const (
	jiraPageSize   = 50
	jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

	defaultMaxItems = 500
	previewLimit    = 25
)

// Jira pages a project's issues into the domain as markdown documents,
// one per issue, newest-updated first. The remote is the Jira Cloud REST
// search API authenticated with email + API token.
type Jira struct {
	http *http.Client
}

// NewJira creates the jira variant.
func NewJira(client *http.Client) *Jira {
	return &Jira{http: client}
}

func (j *Jira) Type() types.ConnectorType { return types.ConnectorJira }

func (j *Jira) Capabilities() []Capability {
	return []Capability{CapTest, CapPreview, CapSync}
}

// Test runs a single-result search, which exercises the base URL, the
// credentials, and the project or JQL filter in one call.
func (j *Jira) Test(ctx context.Context, cfg map[string]any) error {
	view, err := j.view(cfg)
	if err != nil {
		return err
	}
	_, err = j.search(ctx, view, 0, 1)
	return err
}

// Preview returns the first page of issues a sync would pull.
func (j *Jira) Preview(ctx context.Context, cfg map[string]any) (*Preview, error) {
	view, err := j.view(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := j.search(ctx, view, 0, previewLimit)
	if err != nil {
		return nil, err
	}
	pv := &Preview{Total: resp.Total}
	for _, issue := range resp.Issues {
		pv.Items = append(pv.Items, PreviewItem{
			Title:     issue.Key + ": " + issue.Fields.Summary,
			URL:       j.issueURL(view.BaseURL, issue.Key),
			Kind:      "issue",
			UpdatedAt: parseJiraTime(issue.Fields.Updated),
		})
	}
	return pv, nil
}

// Sync pages every matching issue into ingestion, up to max_items.
func (j *Jira) Sync(ctx context.Context, sc *SyncContext) error {
	view, err := j.view(sc.Config)
	if err != nil {
		return err
	}
	limit := view.MaxItems
	if limit <= 0 {
		limit = defaultMaxItems
	}

	for start := 0; start < limit; {
		size := jiraPageSize
		if start+size > limit {
			size = limit - start
		}
		resp, err := j.search(ctx, view, start, size)
		if err != nil {
			return err
		}
		if len(resp.Issues) == 0 {
			return nil
		}
		for _, issue := range resp.Issues {
			if err := sc.IngestPage(ctx, j.issueURL(view.BaseURL, issue.Key),
				issue.Key+": "+issue.Fields.Summary, j.issueMarkdown(issue)); err != nil {
				return err
			}
		}
		start += len(resp.Issues)
		if start >= resp.Total {
			return nil
		}
	}
	return nil
}

func (j *Jira) view(cfg map[string]any) (JiraConfig, error) {
	var view JiraConfig
	if err := decodeConfig(types.ConnectorJira, cfg, false, &view); err != nil {
		return JiraConfig{}, err
	}
	if err := view.validate(); err != nil {
		return JiraConfig{}, err
	}
	return view, nil
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

func (j *Jira) search(ctx context.Context, view JiraConfig, startAt, maxResults int) (*jiraSearchResponse, error) {
	jql := view.JQL
	if jql == "" {
		jql = fmt.Sprintf("project = %s ORDER BY updated DESC", view.Project)
	}
	q := url.Values{
		"jql":        {jql},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {"summary,description,status,updated"},
	}
	endpoint := strings.TrimRight(view.BaseURL, "/") + "/rest/api/2/search?" + q.Encode()

	client := &apiClient{http: j.http, auth: basicAuth(view.Email, view.APIToken)}
	var resp jiraSearchResponse
	if err := client.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("jira search failed: %w", err)
	}
	return &resp, nil
}

func (j *Jira) issueURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/browse/" + key
}

func (j *Jira) issueMarkdown(issue jiraIssue) string {
	var sb strings.Builder
	sb.WriteString("# " + issue.Fields.Summary + "\n\n")
	if desc := strings.TrimSpace(issue.Fields.Description); desc != "" {
		sb.WriteString(desc + "\n\n")
	}
	if issue.Fields.Status.Name != "" {
		sb.WriteString("Status: " + issue.Fields.Status.Name + "\n")
	}
	return strings.TrimSpace(sb.String())
}

func parseJiraTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(jiraTimeLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

func basicAuth(user, token string) func(*http.Request) {
	return func(req *http.Request) {
		req.SetBasicAuth(user, token)
	}
}
