package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"strings"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/security"
	"github.com/tomehq/tome/pkg/types"
)

// Connector configs travel and persist as free-form JSON maps. This file
// is the typed boundary: writes decode strictly so unknown keys are
// rejected, reads decode leniently so rows written by newer builds still
// load, and credential fields are sealed with AES-GCM before a row is
// stored.

const (
	sealedPrefix  = "enc:v1:"
	redactedValue = "********"
)

// secretConfigKeys lists the config fields sealed at rest per connector
// type. Values under these keys never leave the server in the clear.
var secretConfigKeys = map[types.ConnectorType][]string{
	types.ConnectorJira:       {"api_token"},
	types.ConnectorGitHub:     {"token"},
	types.ConnectorConfluence: {"api_token"},
}

// FileConfig is the typed view of a file connector's config. File
// connectors take no configuration; the empty struct makes any supplied
// key an error at write time.
type FileConfig struct{}

func (FileConfig) validate() error { return nil }

// WebConfig is the typed view of a web connector's config. It mirrors the
// crawl option keys; scraper.OptionsFromConfig reads the same fields at
// run time.
type WebConfig struct {
	SeedURLs         []string `json:"seed_urls"`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty"`
	MaxDepth         int      `json:"max_depth,omitempty"`
	MaxPages         int      `json:"max_pages,omitempty"`
	HostConcurrency  int      `json:"host_concurrency,omitempty"`
	BaseDelayMS      int      `json:"base_delay_ms,omitempty"`
	QualityThreshold float64  `json:"quality_threshold,omitempty"`
	NearDupThreshold float64  `json:"near_duplicate_threshold,omitempty"`
	RenderJS         bool     `json:"render_js,omitempty"`
}

func (c WebConfig) validate() error {
	if len(c.SeedURLs) == 0 {
		return fmt.Errorf("web connector needs at least one seed url: %w", errdefs.ErrBadRequest)
	}
	for _, raw := range c.SeedURLs {
		if err := checkHTTPURL(raw); err != nil {
			return fmt.Errorf("seed url %q: %w", raw, err)
		}
	}
	for _, p := range c.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("exclude pattern %q: %v: %w", p, err, errdefs.ErrRegexInvalid)
		}
	}
	if c.MaxDepth < 0 || c.MaxPages < 0 || c.HostConcurrency < 0 || c.BaseDelayMS < 0 {
		return fmt.Errorf("crawl bounds must not be negative: %w", errdefs.ErrBadRequest)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 || c.NearDupThreshold < 0 || c.NearDupThreshold > 1 {
		return fmt.Errorf("thresholds must be within [0,1]: %w", errdefs.ErrBadRequest)
	}
	return nil
}

// JiraConfig is the typed view of a jira connector's config. Issues are
// pulled with the project's JQL ordered by last update unless an explicit
// jql override is set.
type JiraConfig struct {
	BaseURL  string `json:"base_url"`
	Project  string `json:"project"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
	JQL      string `json:"jql,omitempty"`
	MaxItems int    `json:"max_items,omitempty"`
}

func (c JiraConfig) validate() error {
	if err := checkHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.Project == "" && c.JQL == "" {
		return fmt.Errorf("jira connector needs a project or a jql filter: %w", errdefs.ErrBadRequest)
	}
	if c.Email == "" || c.APIToken == "" {
		return fmt.Errorf("jira connector needs email and api_token: %w", errdefs.ErrBadRequest)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items must not be negative: %w", errdefs.ErrBadRequest)
	}
	return nil
}

var githubRepoRe = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// GitHubConfig is the typed view of a github connector's config. Include
// selects what a sync pulls ("issues", "readme"); empty means both. Token
// is optional for public repositories.
type GitHubConfig struct {
	Repo       string   `json:"repo"`
	Token      string   `json:"token,omitempty"`
	APIBaseURL string   `json:"api_base_url,omitempty"`
	Include    []string `json:"include,omitempty"`
	MaxItems   int      `json:"max_items,omitempty"`
}

func (c GitHubConfig) validate() error {
	if !githubRepoRe.MatchString(c.Repo) {
		return fmt.Errorf("repo must be owner/name, got %q: %w", c.Repo, errdefs.ErrBadRequest)
	}
	if c.APIBaseURL != "" {
		if err := checkHTTPURL(c.APIBaseURL); err != nil {
			return fmt.Errorf("api_base_url: %w", err)
		}
	}
	for _, inc := range c.Include {
		if inc != "issues" && inc != "readme" {
			return fmt.Errorf("include value %q is not one of issues, readme: %w", inc, errdefs.ErrBadRequest)
		}
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items must not be negative: %w", errdefs.ErrBadRequest)
	}
	return nil
}

func (c GitHubConfig) includes(kind string) bool {
	if len(c.Include) == 0 {
		return true
	}
	for _, inc := range c.Include {
		if inc == kind {
			return true
		}
	}
	return false
}

// ConfluenceConfig is the typed view of a confluence connector's config.
// Pages are pulled from one space in storage format and converted to
// markdown.
type ConfluenceConfig struct {
	BaseURL  string `json:"base_url"`
	SpaceKey string `json:"space_key"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
	MaxItems int    `json:"max_items,omitempty"`
}

func (c ConfluenceConfig) validate() error {
	if err := checkHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.SpaceKey == "" {
		return fmt.Errorf("confluence connector needs a space_key: %w", errdefs.ErrBadRequest)
	}
	if c.Email == "" || c.APIToken == "" {
		return fmt.Errorf("confluence connector needs email and api_token: %w", errdefs.ErrBadRequest)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items must not be negative: %w", errdefs.ErrBadRequest)
	}
	return nil
}

// ValidateConfig normalises a free-form config against the type's schema.
// Unknown keys are rejected so typos surface at write time instead of
// silently doing nothing.
func ValidateConfig(typ types.ConnectorType, raw map[string]any) error {
	switch typ {
	case types.ConnectorFile:
		var view FileConfig
		if err := decodeConfig(typ, raw, true, &view); err != nil {
			return err
		}
		return view.validate()
	case types.ConnectorWeb:
		var view WebConfig
		if err := decodeConfig(typ, raw, true, &view); err != nil {
			return err
		}
		return view.validate()
	case types.ConnectorJira:
		var view JiraConfig
		if err := decodeConfig(typ, raw, true, &view); err != nil {
			return err
		}
		return view.validate()
	case types.ConnectorGitHub:
		var view GitHubConfig
		if err := decodeConfig(typ, raw, true, &view); err != nil {
			return err
		}
		return view.validate()
	case types.ConnectorConfluence:
		var view ConfluenceConfig
		if err := decodeConfig(typ, raw, true, &view); err != nil {
			return err
		}
		return view.validate()
	default:
		return fmt.Errorf("unknown connector type %q: %w", typ, errdefs.ErrBadRequest)
	}
}

// decodeConfig maps a free-form config onto the typed view. Strict mode
// rejects unknown keys; lenient mode tolerates them so stored rows from
// newer builds still load.
func decodeConfig(typ types.ConnectorType, raw map[string]any, strict bool, view any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%s connector config is not serializable: %w", typ, errdefs.ErrBadRequest)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(view); err != nil {
		return fmt.Errorf("invalid %s connector config: %v: %w", typ, err, errdefs.ErrBadRequest)
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("not an http(s) url: %w", errdefs.ErrBadRequest)
	}
	return nil
}

// RedactConfig returns a copy of cfg safe for API responses: credential
// values are replaced with a placeholder whether sealed or clear. The
// update path recognises the placeholder and keeps the stored value, so
// clients can echo a redacted read straight back.
func RedactConfig(typ types.ConnectorType, cfg map[string]any) map[string]any {
	keys := secretConfigKeys[typ]
	if len(keys) == 0 || cfg == nil {
		return cfg
	}
	out := maps.Clone(cfg)
	for _, k := range keys {
		if v, ok := out[k].(string); ok && v != "" {
			out[k] = redactedValue
		}
	}
	return out
}

// sealConfig encrypts credential fields in place of their clear values.
// Already-sealed values pass through unchanged, which makes re-saving an
// unmodified row a no-op. With no cipher configured the config is stored
// as supplied.
func sealConfig(cipher *security.Cipher, typ types.ConnectorType, cfg map[string]any) (map[string]any, error) {
	keys := secretConfigKeys[typ]
	if cipher == nil || len(keys) == 0 || cfg == nil {
		return cfg, nil
	}
	out := maps.Clone(cfg)
	for _, k := range keys {
		v, ok := out[k].(string)
		if !ok || v == "" || strings.HasPrefix(v, sealedPrefix) {
			continue
		}
		enc, err := cipher.EncryptString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to seal credential %q: %w", k, err)
		}
		out[k] = sealedPrefix + enc
	}
	return out, nil
}

// openConfig decrypts sealed credential fields for use against the
// remote. A sealed value with no cipher configured is an operator error:
// the row cannot be used until the credential key is restored.
func openConfig(cipher *security.Cipher, typ types.ConnectorType, cfg map[string]any) (map[string]any, error) {
	keys := secretConfigKeys[typ]
	if len(keys) == 0 || cfg == nil {
		return cfg, nil
	}
	out := maps.Clone(cfg)
	for _, k := range keys {
		v, ok := out[k].(string)
		if !ok || !strings.HasPrefix(v, sealedPrefix) {
			continue
		}
		if cipher == nil {
			return nil, fmt.Errorf("config holds sealed credentials but no credential key is configured")
		}
		dec, err := cipher.DecryptString(strings.TrimPrefix(v, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to open credential %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}

// restoreRedacted replaces placeholder credential values in an incoming
// update with the currently stored ones.
func restoreRedacted(typ types.ConnectorType, incoming, stored map[string]any) map[string]any {
	keys := secretConfigKeys[typ]
	if len(keys) == 0 || incoming == nil {
		return incoming
	}
	out := maps.Clone(incoming)
	for _, k := range keys {
		if v, ok := out[k].(string); ok && v == redactedValue {
			if prior, ok := stored[k]; ok {
				out[k] = prior
			} else {
				delete(out, k)
			}
		}
	}
	return out
}
