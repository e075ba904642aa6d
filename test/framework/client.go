package framework

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/types"
)

// Client wraps the Tome client with test-friendly methods
type Client struct {
	*client.Client

	// User and Org identify who this client is logged in as.
	User *types.User
	Org  *types.Organization
}

// Client returns a fresh unauthenticated client against the environment.
func (e *Env) Client() (*Client, error) {
	c, err := client.New(e.BaseURL())
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

// Signup registers a user through the API and logs them in, returning an
// authenticated client scoped to the user's personal organization.
func (e *Env) Signup(ctx context.Context, email, password string) (*Client, error) {
	c, err := e.Client()
	if err != nil {
		return nil, err
	}
	user, org, err := c.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if _, err := c.Login(ctx, email, password); err != nil {
		return nil, err
	}
	c.User, c.Org = user, org
	return c, nil
}

// CreateDomain creates a domain with default settings in the client's
// organization.
func (c *Client) CreateDomain(ctx context.Context, name string) (*types.Domain, error) {
	return c.Client.CreateDomain(ctx, c.Org.ID, client.DomainSpec{Name: name})
}

// UploadText uploads a string as a file into the domain.
func (c *Client) UploadText(ctx context.Context, domainID uuid.UUID, filename, content string) (*types.Document, error) {
	return c.Upload(ctx, domainID, filename, strings.NewReader(content))
}

// CreateWebConnector creates an enabled web connector with the given
// config map. Config keys follow the web connector schema: seed_urls,
// max_depth, max_pages, base_delay_ms, quality_threshold.
func (c *Client) CreateWebConnector(ctx context.Context, domainID uuid.UUID, name string, cfg map[string]any) (*types.Connector, error) {
	return c.CreateConnector(ctx, domainID, client.ConnectorSpec{
		Name:   name,
		Type:   string(types.ConnectorWeb),
		Config: cfg,
	})
}
