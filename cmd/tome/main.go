package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomehq/tome/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tome",
	Short: "Tome - Multi-tenant knowledge base with retrieval-augmented chat",
	Long: `Tome ingests documents and crawled websites into per-organization
knowledge domains and answers questions about them with cited,
LLM-generated responses.

The same binary runs the API server and the client commands that talk
to it. Run 'tome server' on the host, 'tome login' everywhere else.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tome version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(connectorCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(auditCmd)
}

// connect opens the saved credentials and builds an authenticated client.
func connect() (*client.Client, error) {
	c, _, err := client.Connect()
	if err != nil {
		return nil, fmt.Errorf("not logged in (run 'tome login SERVER' first): %v", err)
	}
	return c, nil
}

// currentOrg resolves the caller's active organization via /users/me.
func currentOrg(ctx context.Context, c *client.Client) (uuid.UUID, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve identity: %v", err)
	}
	return me.OrgID, nil
}

// resolveDomain accepts a domain id or name and returns the id. Names are
// matched case-insensitively against both the slug and the display name.
func resolveDomain(ctx context.Context, c *client.Client, ref string) (uuid.UUID, error) {
	if ref == "" {
		return uuid.Nil, fmt.Errorf("--domain is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}

	orgID, err := currentOrg(ctx, c)
	if err != nil {
		return uuid.Nil, err
	}
	domains, err := c.ListDomains(ctx, orgID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list domains: %v", err)
	}
	for _, d := range domains {
		if strings.EqualFold(d.Name, ref) || strings.EqualFold(d.DisplayName, ref) {
			return d.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no domain named %q (run 'tome domain list')", ref)
}

// parseID parses a required UUID argument with a friendlier error than the
// raw uuid message.
func parseID(what, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid %s id", s, what)
	}
	return id, nil
}
