package e2e

import (
	"context"
	"strings"
	"testing"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/test/framework"
)

// TestCrawlDeduplicatesIdenticalPages crawls a site that serves the same
// content under two URLs and expects one ingested document plus one page
// marked as a duplicate.
func TestCrawlDeduplicatesIdenticalPages(t *testing.T) {
	_, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	notes := framework.SitePage{
		Title: "Release notes",
		Body: "The spring release introduces workspace level upload limits, a reworked billing " +
			"view, and faster indexing for large document sets. Administrators can raise or " +
			"lower quotas per team without opening a support ticket.\n\n" +
			"Indexing throughput roughly doubles for collections heavy on PDF files. The " +
			"crawler also paces its requests per host and backs off when a site responds " +
			"slowly, so mirrored documentation stays reachable during a sync.",
	}
	site := framework.NewSite(map[string]framework.SitePage{
		"/notes/spring": notes,
		"/notes/mirror": notes,
	})
	defer site.Close()

	domain, err := owner.CreateDomain(ctx, "docs")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	conn, err := owner.CreateWebConnector(ctx, domain.ID, "docs-site", map[string]any{
		"seed_urls":         []string{site.URL("/notes/spring"), site.URL("/notes/mirror")},
		"max_depth":         1,
		"max_pages":         10,
		"host_concurrency":  1,
		"base_delay_ms":     1,
		"quality_threshold": 0.05,
	})
	if err != nil {
		t.Fatalf("Failed to create connector: %v", err)
	}

	if _, err := owner.TriggerSync(ctx, conn.ID); err != nil {
		t.Fatalf("Failed to trigger sync: %v", err)
	}
	job, err := waiter.WaitForSync(ctx, owner, conn.ID)
	if err != nil {
		t.Fatalf("Sync never finished: %v", err)
	}
	if job.Status != types.SyncSuccess {
		t.Fatalf("Sync finished as %s: %s", job.Status, job.ErrorMessage)
	}
	if job.PagesProcessed != 2 {
		t.Fatalf("Sync processed %d pages, expected 2", job.PagesProcessed)
	}
	if job.DocumentsCreated != 1 {
		t.Fatalf("Sync created %d documents, expected 1", job.DocumentsCreated)
	}

	pages, _, err := owner.CrawledPages(ctx, conn.ID, "", 0, 0)
	if err != nil {
		t.Fatalf("Failed to list crawled pages: %v", err)
	}
	var ingested, skipped int
	var dupNote string
	for _, p := range pages {
		switch p.Status {
		case types.PageIngested:
			ingested++
			if p.DocumentID == nil {
				t.Fatalf("Ingested page %s has no document", p.URL)
			}
		case types.PageSkippedDuplicate:
			skipped++
			dupNote = p.ErrorMessage
		default:
			t.Fatalf("Page %s finished as %s: %s", p.URL, p.Status, p.ErrorMessage)
		}
	}
	if ingested != 1 || skipped != 1 {
		t.Fatalf("Crawl produced %d ingested and %d duplicate pages, expected 1 and 1", ingested, skipped)
	}
	if !strings.Contains(dupNote, "identical content") {
		t.Fatalf("Duplicate page note %q does not name the identical content", dupNote)
	}

	docs, total, err := owner.ListFiles(ctx, domain.ID, "", 0, 0)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if total != 1 || len(docs) != 1 {
		t.Fatalf("Domain holds %d documents after the crawl, expected 1", total)
	}
	if docs[0].Source != types.SourceWeb {
		t.Fatalf("Crawled document has source %s, expected %s", docs[0].Source, types.SourceWeb)
	}
	if docs[0].Status != types.DocumentReady {
		t.Fatalf("Crawled document is %s, expected %s", docs[0].Status, types.DocumentReady)
	}

	// The crawled content is immediately searchable.
	results, err := owner.Search(ctx, client.SearchRequest{
		Query: "upload limits and quotas", DomainID: domain.ID, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("Search found nothing from the crawled document")
	}
}

// TestCrawlHonorsRobots serves a robots.txt that fences off a subtree and
// expects the crawler to record the blocked link without ever fetching it.
func TestCrawlHonorsRobots(t *testing.T) {
	_, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	site := framework.NewSite(map[string]framework.SitePage{
		"/handbook": {
			Title: "Support handbook",
			Body: "Support requests arrive through the shared inbox and are triaged twice a day. " +
				"Anything marked urgent pages the on-call engineer directly, while routine " +
				"questions wait for the next triage pass and a reply within one business day.",
			Links: []string{"/handbook/escalation", "/private/roadmap"},
		},
		"/handbook/escalation": {
			Title: "Escalation guide",
			Body: "An escalation needs a severity, a customer impact statement, and the steps " +
				"already tried. Incomplete escalations bounce back to the reporter, which in " +
				"practice costs more time than filling the template out properly up front.",
		},
		"/private/roadmap": {
			Title: "Internal roadmap",
			Body:  "Unannounced plans that must never leave the building.",
		},
	})
	defer site.Close()
	site.SetRobots("User-agent: *\nDisallow: /private/\n")

	domain, err := owner.CreateDomain(ctx, "docs")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	conn, err := owner.CreateWebConnector(ctx, domain.ID, "handbook-site", map[string]any{
		"seed_urls":         []string{site.URL("/handbook")},
		"max_depth":         2,
		"max_pages":         10,
		"host_concurrency":  1,
		"base_delay_ms":     1,
		"quality_threshold": 0.05,
	})
	if err != nil {
		t.Fatalf("Failed to create connector: %v", err)
	}

	if _, err := owner.TriggerSync(ctx, conn.ID); err != nil {
		t.Fatalf("Failed to trigger sync: %v", err)
	}
	job, err := waiter.WaitForSync(ctx, owner, conn.ID)
	if err != nil {
		t.Fatalf("Sync never finished: %v", err)
	}
	if job.Status != types.SyncSuccess {
		t.Fatalf("Sync finished as %s: %s", job.Status, job.ErrorMessage)
	}
	if job.DocumentsCreated != 2 {
		t.Fatalf("Sync created %d documents, expected 2", job.DocumentsCreated)
	}

	pages, _, err := owner.CrawledPages(ctx, conn.ID, "", 0, 0)
	if err != nil {
		t.Fatalf("Failed to list crawled pages: %v", err)
	}
	var blocked *types.CrawledPage
	for _, p := range pages {
		if p.URL == site.URL("/private/roadmap") {
			blocked = p
		} else if p.Status != types.PageIngested {
			t.Fatalf("Page %s finished as %s: %s", p.URL, p.Status, p.ErrorMessage)
		}
	}
	if blocked == nil {
		t.Fatalf("The disallowed URL was never recorded")
	}
	if blocked.Status != types.PageBlocked {
		t.Fatalf("Disallowed URL finished as %s, expected %s", blocked.Status, types.PageBlocked)
	}
	if !strings.Contains(blocked.ErrorMessage, "robots") {
		t.Fatalf("Blocked page note %q does not mention robots.txt", blocked.ErrorMessage)
	}

	if hits := site.Hits("/private/roadmap"); hits != 0 {
		t.Fatalf("Disallowed URL was fetched %d times", hits)
	}
	if site.Hits("/robots.txt") == 0 {
		t.Fatalf("The crawler never read robots.txt")
	}
	if site.Hits("/handbook") == 0 {
		t.Fatalf("The seed page was never fetched")
	}

	if _, total, err := owner.ListFiles(ctx, domain.ID, "", 0, 0); err != nil || total != 2 {
		t.Fatalf("Domain holds %d documents after the crawl (err %v), expected 2", total, err)
	}
}
