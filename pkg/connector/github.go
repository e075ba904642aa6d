package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomehq/tome/pkg/types"
)

const (
	githubAPIBase  = "https://api.github.com"
	githubPageSize = 100
)

// GitHub pulls a repository's issues and README into the domain. Pull
// requests ride the issues API but are skipped; the point is the
// discussion and documentation, not the diffs. An api_base_url override
// points the variant at GitHub Enterprise.
type GitHub struct {
	http *http.Client
}

// NewGitHub creates the github variant.
func NewGitHub(client *http.Client) *GitHub {
	return &GitHub{http: client}
}

func (g *GitHub) Type() types.ConnectorType { return types.ConnectorGitHub }

func (g *GitHub) Capabilities() []Capability {
	return []Capability{CapTest, CapPreview, CapSync}
}

// Test fetches the repository metadata, exercising the base URL, the
// repo name, and the token in one call.
func (g *GitHub) Test(ctx context.Context, cfg map[string]any) error {
	view, err := g.view(cfg)
	if err != nil {
		return err
	}
	var repo struct {
		FullName string `json:"full_name"`
	}
	if err := g.client(view).getJSON(ctx, g.base(view)+"/repos/"+view.Repo, &repo); err != nil {
		return fmt.Errorf("github repo check failed: %w", err)
	}
	return nil
}

// Preview returns the first page of issues a sync would pull, plus the
// README when included.
func (g *GitHub) Preview(ctx context.Context, cfg map[string]any) (*Preview, error) {
	view, err := g.view(cfg)
	if err != nil {
		return nil, err
	}
	pv := &Preview{}
	if view.includes("readme") {
		if readme, err := g.fetchReadme(ctx, view); err == nil {
			pv.Items = append(pv.Items, PreviewItem{Title: readme.name, URL: readme.htmlURL, Kind: "file"})
		}
	}
	if view.includes("issues") {
		issues, err := g.fetchIssues(ctx, view, 1, previewLimit)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if issue.PullRequest != nil {
				continue
			}
			pv.Items = append(pv.Items, PreviewItem{
				Title:     fmt.Sprintf("#%d: %s", issue.Number, issue.Title),
				URL:       issue.HTMLURL,
				Kind:      "issue",
				UpdatedAt: parseGitHubTime(issue.UpdatedAt),
			})
		}
	}
	pv.Total = len(pv.Items)
	return pv, nil
}

// Sync ingests the README first, then pages issues newest-first up to
// max_items.
func (g *GitHub) Sync(ctx context.Context, sc *SyncContext) error {
	view, err := g.view(sc.Config)
	if err != nil {
		return err
	}
	limit := view.MaxItems
	if limit <= 0 {
		limit = defaultMaxItems
	}

	if view.includes("readme") {
		readme, err := g.fetchReadme(ctx, view)
		if err == nil {
			if err := sc.IngestPage(ctx, readme.htmlURL, view.Repo+" "+readme.name, readme.markdown); err != nil {
				return err
			}
		} else if ctx.Err() != nil {
			return err
		}
		// A repo without a README is not an error.
	}

	if !view.includes("issues") {
		return nil
	}
	ingested := 0
	for page := 1; ingested < limit; page++ {
		issues, err := g.fetchIssues(ctx, view, page, githubPageSize)
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			return nil
		}
		for _, issue := range issues {
			if issue.PullRequest != nil {
				continue
			}
			if ingested >= limit {
				return nil
			}
			if err := sc.IngestPage(ctx, issue.HTMLURL,
				fmt.Sprintf("#%d: %s", issue.Number, issue.Title), g.issueMarkdown(issue)); err != nil {
				return err
			}
			ingested++
		}
		if len(issues) < githubPageSize {
			return nil
		}
	}
	return nil
}

func (g *GitHub) view(cfg map[string]any) (GitHubConfig, error) {
	var view GitHubConfig
	if err := decodeConfig(types.ConnectorGitHub, cfg, false, &view); err != nil {
		return GitHubConfig{}, err
	}
	if err := view.validate(); err != nil {
		return GitHubConfig{}, err
	}
	return view, nil
}

func (g *GitHub) base(view GitHubConfig) string {
	if view.APIBaseURL != "" {
		return strings.TrimRight(view.APIBaseURL, "/")
	}
	return githubAPIBase
}

func (g *GitHub) client(view GitHubConfig) *apiClient {
	var auth func(*http.Request)
	if view.Token != "" {
		token := view.Token
		auth = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return &apiClient{http: g.http, auth: auth}
}

type githubIssue struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	State       string `json:"state"`
	HTMLURL     string `json:"html_url"`
	UpdatedAt   string `json:"updated_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (g *GitHub) fetchIssues(ctx context.Context, view GitHubConfig, page, perPage int) ([]githubIssue, error) {
	q := url.Values{
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"desc"},
		"per_page":  {strconv.Itoa(perPage)},
		"page":      {strconv.Itoa(page)},
	}
	var issues []githubIssue
	endpoint := g.base(view) + "/repos/" + view.Repo + "/issues?" + q.Encode()
	if err := g.client(view).getJSON(ctx, endpoint, &issues); err != nil {
		return nil, fmt.Errorf("github issues fetch failed: %w", err)
	}
	return issues, nil
}

type githubReadme struct {
	name     string
	htmlURL  string
	markdown string
}

func (g *GitHub) fetchReadme(ctx context.Context, view GitHubConfig) (*githubReadme, error) {
	var resp struct {
		Name     string `json:"name"`
		HTMLURL  string `json:"html_url"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := g.client(view).getJSON(ctx, g.base(view)+"/repos/"+view.Repo+"/readme", &resp); err != nil {
		return nil, err
	}
	content := resp.Content
	if resp.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("failed to decode readme content: %v", err)
		}
		content = string(decoded)
	}
	return &githubReadme{name: resp.Name, htmlURL: resp.HTMLURL, markdown: content}, nil
}

func (g *GitHub) issueMarkdown(issue githubIssue) string {
	var sb strings.Builder
	sb.WriteString("# " + issue.Title + "\n\n")
	if body := strings.TrimSpace(issue.Body); body != "" {
		sb.WriteString(body + "\n\n")
	}
	sb.WriteString("State: " + issue.State + "\n")
	if len(issue.Labels) > 0 {
		names := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			names = append(names, l.Name)
		}
		sb.WriteString("Labels: " + strings.Join(names, ", ") + "\n")
	}
	return strings.TrimSpace(sb.String())
}

func parseGitHubTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
