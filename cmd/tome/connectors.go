package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/types"
)

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connectors",
	Long: `Connectors pull external content into a domain: websites via the
crawler, plus API-backed sources like GitHub issues and Notion pages.
Credentials in the config are sealed at rest on the server.`,
}

var connectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connectors in a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		domainRef, _ := cmd.Flags().GetString("domain")

		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		domainID, err := resolveDomain(ctx, c, domainRef)
		if err != nil {
			return err
		}
		connectors, err := c.ListConnectors(ctx, domainID)
		if err != nil {
			return fmt.Errorf("failed to list connectors: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tSCHEDULE\tLAST SYNC\tID")
		for _, conn := range connectors {
			lastSync := "never"
			if conn.LastSyncAt != nil {
				lastSync = conn.LastSyncAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
				conn.Name, conn.Type, conn.Enabled, conn.Schedule, lastSync, conn.ID)
		}
		return w.Flush()
	},
}

var connectorCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a connector",
	Long: `Create a connector in a domain. The config depends on the type;
'tome connector capabilities TYPE' lists what a type supports.

Examples:
  tome connector create docs-site --domain docs --type web \
    --config '{"seed_urls": ["https://docs.example.com"]}'
  tome connector create issues --domain support --type github \
    --config-file github.yaml --schedule 6h`,
	Args: cobra.ExactArgs(1),
	RunE: runConnectorCreate,
}

var connectorShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a connector as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		conn, err := c.GetConnector(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to get connector: %v", err)
		}
		out, err := json.MarshalIndent(conn, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var connectorDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		if err := c.DeleteConnector(cmd.Context(), connectorID); err != nil {
			return fmt.Errorf("failed to delete connector: %v", err)
		}
		fmt.Printf("✓ Deleted %s\n", connectorID)
		return nil
	},
}

var connectorSyncCmd = &cobra.Command{
	Use:   "sync ID",
	Short: "Queue a sync now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		job, err := c.TriggerSync(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to trigger sync: %v", err)
		}
		fmt.Printf("✓ Sync queued (job %s)\n", job.ID)
		return nil
	},
}

var connectorJobsCmd = &cobra.Command{
	Use:   "jobs ID",
	Short: "List recent sync jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		jobs, err := c.ListSyncJobs(cmd.Context(), connectorID, limit)
		if err != nil {
			return fmt.Errorf("failed to list sync jobs: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tSTARTED\tPAGES\tDOCUMENTS\tERROR\tID")
		for _, job := range jobs {
			started := "-"
			if job.StartedAt != nil {
				started = job.StartedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				job.Status, started, job.PagesProcessed, job.DocumentsCreated, job.ErrorMessage, job.ID)
		}
		return w.Flush()
	},
}

var connectorPreviewCmd = &cobra.Command{
	Use:   "preview ID",
	Short: "Show what the next sync would pull, without ingesting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		preview, err := c.PreviewSync(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to preview: %v", err)
		}
		for _, item := range preview.Items {
			if item.URL != "" {
				fmt.Printf("  [%s] %s (%s)\n", item.Kind, item.Title, item.URL)
			} else {
				fmt.Printf("  [%s] %s\n", item.Kind, item.Title)
			}
		}
		fmt.Printf("%d items", preview.Total)
		if preview.Notes != "" {
			fmt.Printf(" (%s)", preview.Notes)
		}
		fmt.Println()
		return nil
	},
}

var connectorCapabilitiesCmd = &cobra.Command{
	Use:   "capabilities TYPE",
	Short: "List what a connector type supports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		caps, err := c.Capabilities(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch capabilities: %v", err)
		}
		fmt.Printf("%s: %s\n", args[0], strings.Join(caps, ", "))
		return nil
	},
}

var connectorTestCmd = &cobra.Command{
	Use:   "test TYPE",
	Short: "Test a connector config against the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConnectorConfig(cmd)
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		if err := c.TestConnector(cmd.Context(), args[0], config); err != nil {
			return fmt.Errorf("connection test failed: %v", err)
		}
		fmt.Println("✓ Connection ok")
		return nil
	},
}

func init() {
	connectorCmd.AddCommand(connectorListCmd)
	connectorCmd.AddCommand(connectorCreateCmd)
	connectorCmd.AddCommand(connectorShowCmd)
	connectorCmd.AddCommand(connectorDeleteCmd)
	connectorCmd.AddCommand(connectorSyncCmd)
	connectorCmd.AddCommand(connectorJobsCmd)
	connectorCmd.AddCommand(connectorPreviewCmd)
	connectorCmd.AddCommand(connectorCapabilitiesCmd)
	connectorCmd.AddCommand(connectorTestCmd)

	connectorListCmd.Flags().String("domain", "", "Domain (name or id)")
	_ = connectorListCmd.MarkFlagRequired("domain")

	connectorCreateCmd.Flags().String("domain", "", "Domain (name or id)")
	connectorCreateCmd.Flags().String("type", "", "Connector type: web, github, jira, confluence, file")
	connectorCreateCmd.Flags().String("config", "", "Connector config as inline JSON")
	connectorCreateCmd.Flags().String("config-file", "", "Connector config as a YAML or JSON file")
	connectorCreateCmd.Flags().String("schedule", "", "Sync interval, e.g. 6h (empty disables scheduled syncs)")
	connectorCreateCmd.Flags().Bool("disabled", false, "Create the connector disabled")
	_ = connectorCreateCmd.MarkFlagRequired("domain")
	_ = connectorCreateCmd.MarkFlagRequired("type")

	connectorJobsCmd.Flags().Int("limit", 20, "Maximum rows to return")

	connectorTestCmd.Flags().String("config", "", "Connector config as inline JSON")
	connectorTestCmd.Flags().String("config-file", "", "Connector config as a YAML or JSON file")
}

// readConnectorConfig merges --config-file and --config, the inline JSON
// winning key by key.
func readConnectorConfig(cmd *cobra.Command) (map[string]any, error) {
	config := map[string]any{}

	if path, _ := cmd.Flags().GetString("config-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}
	if inline, _ := cmd.Flags().GetString("config"); inline != "" {
		overlay := map[string]any{}
		if err := json.Unmarshal([]byte(inline), &overlay); err != nil {
			return nil, fmt.Errorf("failed to parse --config: %v", err)
		}
		for k, v := range overlay {
			config[k] = v
		}
	}
	return config, nil
}

func runConnectorCreate(cmd *cobra.Command, args []string) error {
	domainRef, _ := cmd.Flags().GetString("domain")
	typ, _ := cmd.Flags().GetString("type")
	schedule, _ := cmd.Flags().GetString("schedule")
	disabled, _ := cmd.Flags().GetBool("disabled")

	config, err := readConnectorConfig(cmd)
	if err != nil {
		return err
	}

	c, err := connect()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	domainID, err := resolveDomain(ctx, c, domainRef)
	if err != nil {
		return err
	}

	enabled := !disabled
	conn, err := c.CreateConnector(ctx, domainID, client.ConnectorSpec{
		Name:     args[0],
		Type:     typ,
		Config:   config,
		Enabled:  &enabled,
		Schedule: schedule,
	})
	if err != nil {
		return fmt.Errorf("failed to create connector: %v", err)
	}
	fmt.Printf("✓ Created connector %s (%s)\n", conn.Name, conn.ID)
	return nil
}

// Crawl commands

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Drive and inspect website crawls",
}

var crawlStartCmd = &cobra.Command{
	Use:   "start CONNECTOR",
	Short: "Start an intelligent crawl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		maxPages, _ := cmd.Flags().GetInt("max-pages")

		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		err = c.StartCrawl(cmd.Context(), connectorID, client.CrawlOverrides{
			MaxDepth: maxDepth,
			MaxPages: maxPages,
		})
		if err != nil {
			return fmt.Errorf("failed to start crawl: %v", err)
		}
		fmt.Println("✓ Crawl started; watch it with 'tome crawl status'")
		return nil
	},
}

var crawlStatusCmd = &cobra.Command{
	Use:   "status CONNECTOR",
	Short: "Show the running crawl's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		stats, err := c.CrawlStatus(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to fetch crawl status: %v", err)
		}
		fmt.Printf("State:      %s\n", stats.State)
		fmt.Printf("Discovered: %d\n", stats.PagesDiscovered)
		fmt.Printf("Processed:  %d (%d ok, %d failed, %d skipped)\n",
			stats.PagesProcessed, stats.PagesSucceeded, stats.PagesFailed, stats.PagesSkipped)
		fmt.Printf("Fetched:    %s\n", formatBytes(stats.BytesFetched))
		fmt.Printf("Rate:       %.1f pages/min\n", stats.PagesPerMinute)
		if stats.EstimatedDoneAt != nil {
			fmt.Printf("ETA:        %s\n", stats.EstimatedDoneAt.Format("15:04:05"))
		}
		return nil
	},
}

var crawlCancelCmd = &cobra.Command{
	Use:   "cancel CONNECTOR",
	Short: "Cancel the running crawl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		if err := c.CancelCrawl(cmd.Context(), connectorID); err != nil {
			return fmt.Errorf("failed to cancel crawl: %v", err)
		}
		fmt.Println("✓ Crawl cancelled")
		return nil
	},
}

var crawlPagesCmd = &cobra.Command{
	Use:   "pages CONNECTOR",
	Short: "List crawled pages and their outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		pages, total, err := c.CrawledPages(cmd.Context(), connectorID, types.PageStatus(status), limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list pages: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "URL\tSTATUS\tWORDS\tDEPTH\tLAST CRAWLED")
		for _, p := range pages {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				p.URL, p.Status, p.WordCount, p.Depth, p.LastCrawled.Format("2006-01-02 15:04"))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if total > len(pages) {
			fmt.Printf("\nShowing %d of %d\n", len(pages), total)
		}
		return nil
	},
}

var crawlDiscoverCmd = &cobra.Command{
	Use:   "discover CONNECTOR",
	Short: "Dry-run URL discovery without fetching content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		urls, err := c.DiscoverURLs(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to discover urls: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "URL\tCLASS\tDEPTH\tPRIORITY")
		for _, u := range urls {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\n", u.URL, u.Classification, u.Depth, u.Priority)
		}
		return w.Flush()
	},
}

var crawlPreviewCmd = &cobra.Command{
	Use:   "preview CONNECTOR",
	Short: "Fetch one page and show how it would be judged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageURL, _ := cmd.Flags().GetString("url")

		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		preview, err := c.PreviewPage(cmd.Context(), connectorID, pageURL)
		if err != nil {
			return fmt.Errorf("failed to preview page: %v", err)
		}
		fmt.Printf("Title:   %s\n", preview.Title)
		fmt.Printf("Words:   %d\n", preview.WordCount)
		fmt.Printf("Quality: %.2f (readability %.2f, density %.2f)\n",
			preview.Quality.Overall, preview.Quality.Readability, preview.Quality.ContentDensity)
		fmt.Printf("\n%s\n", preview.Excerpt)
		return nil
	},
}

var crawlAnalyticsCmd = &cobra.Command{
	Use:   "analytics CONNECTOR",
	Short: "Summarize crawl outcomes for a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectorID, err := parseID("connector", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		analytics, err := c.ContentAnalytics(cmd.Context(), connectorID)
		if err != nil {
			return fmt.Errorf("failed to fetch analytics: %v", err)
		}
		fmt.Printf("Pages:       %d\n", analytics.TotalPages)
		for status, count := range analytics.ByStatus {
			fmt.Printf("  %-18s %d\n", status, count)
		}
		fmt.Printf("Avg quality: %.2f\n", analytics.AvgQuality)
		fmt.Printf("Avg words:   %.0f\n", analytics.AvgWordCount)
		fmt.Printf("Duplicates:  %.1f%%\n", analytics.DuplicateRatio*100)
		return nil
	},
}

func init() {
	crawlCmd.AddCommand(crawlStartCmd)
	crawlCmd.AddCommand(crawlStatusCmd)
	crawlCmd.AddCommand(crawlCancelCmd)
	crawlCmd.AddCommand(crawlPagesCmd)
	crawlCmd.AddCommand(crawlDiscoverCmd)
	crawlCmd.AddCommand(crawlPreviewCmd)
	crawlCmd.AddCommand(crawlAnalyticsCmd)

	crawlStartCmd.Flags().Int("max-depth", 0, "Override the connector's crawl depth")
	crawlStartCmd.Flags().Int("max-pages", 0, "Override the connector's page budget")

	crawlPagesCmd.Flags().String("status", "", "Filter by outcome, e.g. ingested, blocked, failed")
	crawlPagesCmd.Flags().Int("limit", 50, "Maximum rows to return")
	crawlPagesCmd.Flags().Int("offset", 0, "Rows to skip")

	crawlPreviewCmd.Flags().String("url", "", "Page URL to fetch")
	_ = crawlPreviewCmd.MarkFlagRequired("url")
}
