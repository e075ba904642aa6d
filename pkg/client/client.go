package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client speaks the Tome HTTP API. It is safe for concurrent use; the
// token pair rotates under a lock when RefreshTokens runs.
type Client struct {
	base string
	http *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
}

// New creates an unauthenticated client for the given base URL, e.g.
// "http://localhost:8080". Call Login or SetTokens before touching
// protected endpoints.
func New(baseURL string) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, errdefs.ErrBadRequest)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// NewWithToken creates a client that authenticates with an existing
// access token.
func NewWithToken(baseURL, token string) (*Client, error) {
	c, err := New(baseURL)
	if err != nil {
		return nil, err
	}
	c.SetTokens(token, "")
	return c, nil
}

// SetTokens installs a token pair obtained elsewhere (a saved login).
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = access
	c.refresh = refresh
}

// Tokens returns the current pair.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access, c.refresh
}

// APIError is a failure the server reported. It unwraps to the taxonomy
// sentinel behind the wire code, so errors.Is and the errdefs helpers
// work on client results.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, http %d)", e.Detail, e.Code, e.Status)
}

func (e *APIError) Unwrap() error { return errdefs.FromCode(e.Code) }

// do runs one JSON round trip. in may be nil for bodyless requests; out
// may be nil when the response body is irrelevant.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send attaches auth, executes, and decodes the response or its error
// body.
func (c *Client) send(req *http.Request, out any) error {
	if access, _ := c.Tokens(); access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "internal", Detail: resp.Status}
	var body struct {
		Detail string `json:"detail"`
		Code   string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Detail = body.Detail
	}
	return apiErr
}

// pager encodes limit/offset paging; zero values are omitted so the
// server defaults apply.
func pager(limit, offset int) url.Values {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if enc := v.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

// ---- health ----

// Ready reports whether the server considers itself ready to serve.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
}

// ---- auth ----

type registerResult struct {
	User         *types.User         `json:"user"`
	Organization *types.Organization `json:"organization"`
}

// Register creates an account and its personal organization. It does not
// log in; call Login afterwards.
func (c *Client) Register(ctx context.Context, email, password string) (*types.User, *types.Organization, error) {
	var res registerResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", body, &res); err != nil {
		return nil, nil, err
	}
	return res.User, res.Organization, nil
}

type loginResult struct {
	types.TokenPair
	User *types.User `json:"user"`
}

// Login authenticates and installs the returned token pair on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (*types.User, error) {
	var res loginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &res); err != nil {
		return nil, err
	}
	c.SetTokens(res.AccessToken, res.RefreshToken)
	return res.User, nil
}

// RefreshTokens rotates the stored pair. The old refresh token is
// consumed whether or not the rotation succeeds.
func (c *Client) RefreshTokens(ctx context.Context) error {
	_, refresh := c.Tokens()
	if refresh == "" {
		return fmt.Errorf("no refresh token: %w", errdefs.ErrUnauthenticated)
	}
	var pair types.TokenPair
	body := map[string]string{"refresh_token": refresh}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", body, &pair); err != nil {
		return err
	}
	c.SetTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// Identity is the caller as the server sees the token.
type Identity struct {
	User        *types.User `json:"user"`
	OrgID       uuid.UUID   `json:"organization_id"`
	Role        types.Role  `json:"role"`
	Permissions []string    `json:"permissions"`
}

// Me reports the authenticated identity, active organization, and
// effective permissions.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me", nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// ---- organizations ----

func (c *Client) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	var orgs []*types.Organization
	if err := c.do(ctx, http.MethodGet, "/api/v1/organizations", nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (c *Client) CreateOrganization(ctx context.Context, name string) (*types.Organization, error) {
	var org types.Organization
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/v1/organizations", body, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// AuditTrail returns the active organization's audit events, newest
// first. Requires the audit:read permission.
func (c *Client) AuditTrail(ctx context.Context, limit, offset int) ([]*types.AuditEvent, error) {
	var events []*types.AuditEvent
	path := withQuery("/api/v1/audit", pager(limit, offset))
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ---- domains ----

// DomainSpec mirrors the domain create/update body. Name is slugged
// server-side and immutable after creation.
type DomainSpec struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Template    string         `json:"template,omitempty"`
	AI          types.AIConfig `json:"ai_config"`
	AccessMode  string         `json:"access_mode,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

func (c *Client) ListDomains(ctx context.Context, orgID uuid.UUID) ([]*types.Domain, error) {
	var domains []*types.Domain
	path := "/api/v1/organizations/" + orgID.String() + "/domains"
	if err := c.do(ctx, http.MethodGet, path, nil, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

func (c *Client) CreateDomain(ctx context.Context, orgID uuid.UUID, spec DomainSpec) (*types.Domain, error) {
	var domain types.Domain
	path := "/api/v1/organizations/" + orgID.String() + "/domains"
	if err := c.do(ctx, http.MethodPost, path, spec, &domain); err != nil {
		return nil, err
	}
	return &domain, nil
}

func (c *Client) GetDomain(ctx context.Context, domainID uuid.UUID) (*types.Domain, error) {
	var domain types.Domain
	if err := c.do(ctx, http.MethodGet, "/api/v1/domains/"+domainID.String(), nil, &domain); err != nil {
		return nil, err
	}
	return &domain, nil
}

func (c *Client) UpdateDomain(ctx context.Context, domainID uuid.UUID, spec DomainSpec) (*types.Domain, error) {
	var domain types.Domain
	if err := c.do(ctx, http.MethodPut, "/api/v1/domains/"+domainID.String(), spec, &domain); err != nil {
		return nil, err
	}
	return &domain, nil
}

// DeleteDomain removes the domain and everything filed under it.
func (c *Client) DeleteDomain(ctx context.Context, domainID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/domains/"+domainID.String(), nil, nil)
}

// ---- files ----

// Upload sends one document into a domain. The server answers with the
// pending document; ingestion runs asynchronously.
func (c *Client) Upload(ctx context.Context, domainID uuid.UUID, filename string, content io.Reader) (*types.Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("domain_id", domainID.String()); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/files/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var doc types.Document
	if err := c.send(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UploadFile is Upload for a file on disk.
func (c *Client) UploadFile(ctx context.Context, domainID uuid.UUID, path string) (*types.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return c.Upload(ctx, domainID, filepath.Base(path), f)
}

type fileList struct {
	Files []*types.Document `json:"files"`
	Total int               `json:"total"`
}

// ListFiles pages through a domain's documents. status narrows to one
// lifecycle state when non-empty.
func (c *Client) ListFiles(ctx context.Context, domainID uuid.UUID, status types.DocumentStatus, limit, offset int) ([]*types.Document, int, error) {
	v := pager(limit, offset)
	v.Set("domain", domainID.String())
	if status != "" {
		v.Set("status", string(status))
	}
	var res fileList
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/files", v), nil, &res); err != nil {
		return nil, 0, err
	}
	return res.Files, res.Total, nil
}

func (c *Client) GetFile(ctx context.Context, fileID uuid.UUID) (*types.Document, error) {
	var doc types.Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/"+fileID.String(), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/files/"+fileID.String(), nil, nil)
}

type downloadResult struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in"`
}

// DownloadURL returns a presigned link for the original upload, valid
// for the returned duration.
func (c *Client) DownloadURL(ctx context.Context, fileID uuid.UUID) (string, time.Duration, error) {
	var res downloadResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/"+fileID.String()+"/download", nil, &res); err != nil {
		return "", 0, err
	}
	return res.DownloadURL, time.Duration(res.ExpiresIn) * time.Second, nil
}

// ---- search ----

// SearchRequest mirrors the retrieval body. Zero-valued fields fall back
// to server defaults; SourceIDs narrows results to specific documents.
type SearchRequest struct {
	Query         string      `json:"query"`
	DomainID      uuid.UUID   `json:"domain,omitempty"`
	DomainIDs     []uuid.UUID `json:"domains,omitempty"`
	Mode          string      `json:"mode,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	MinConfidence float64     `json:"min_confidence,omitempty"`
	SourceIDs     []uuid.UUID `json:"source_ids,omitempty"`
}

type searchResult struct {
	Results []types.RetrievalResult `json:"results"`
}

// Search runs retrieval without synthesis: scored chunks from the
// caller's readable slice of the index.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]types.RetrievalResult, error) {
	var res searchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", req, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// ---- chat ----

// Chat runs one query through the pipeline. A Nil session starts a new
// conversation; the answer carries the session id to continue on.
func (c *Client) Chat(ctx context.Context, domainID, sessionID uuid.UUID, message string) (*query.Answer, error) {
	body := map[string]any{
		"message":   message,
		"domain_id": domainID,
	}
	if sessionID != uuid.Nil {
		body["session_id"] = sessionID
	}
	var answer query.Answer
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", body, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

type sessionList struct {
	Sessions []*types.ChatSession `json:"sessions"`
}

func (c *Client) ListSessions(ctx context.Context, limit, offset int) ([]*types.ChatSession, error) {
	var res sessionList
	path := withQuery("/api/v1/chat/sessions", pager(limit, offset))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

type messageList struct {
	Messages []*types.Message `json:"messages"`
}

func (c *Client) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	var res messageList
	path := withQuery("/api/v1/chat/sessions/"+sessionID.String()+"/messages", pager(limit, offset))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}
