package connector

import (
	"context"
	"fmt"

	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/types"
)

// Web drives the crawl engine. Discovery, politeness, extraction, quality
// scoring, dedup, and ingestion all happen inside the engine; the variant
// translates configs into crawl options and accounts the run.
type Web struct {
	crawler Crawler
}

// NewWeb creates the web variant around a crawl engine.
func NewWeb(crawler Crawler) *Web {
	return &Web{crawler: crawler}
}

func (w *Web) Type() types.ConnectorType { return types.ConnectorWeb }

func (w *Web) Capabilities() []Capability {
	return []Capability{CapTest, CapPreview, CapSync, CapDiscover, CapScrape}
}

// Test fetches the first seed and runs it through extraction, proving the
// site is reachable and serves parseable pages before anything is stored.
func (w *Web) Test(ctx context.Context, cfg map[string]any) error {
	var view WebConfig
	if err := decodeConfig(types.ConnectorWeb, cfg, false, &view); err != nil {
		return err
	}
	if err := view.validate(); err != nil {
		return err
	}
	opts, err := scraper.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := w.crawler.Preview(ctx, opts.SeedURLs[0], opts); err != nil {
		return fmt.Errorf("seed url %s: %w", opts.SeedURLs[0], err)
	}
	return nil
}

// Preview runs the discovery phase only and reports the fetchable URLs a
// crawl would visit, with the skipped classes summarised.
func (w *Web) Preview(ctx context.Context, cfg map[string]any) (*Preview, error) {
	conn, opts, err := w.prepare(cfg)
	if err != nil {
		return nil, err
	}
	discovered, err := w.crawler.DiscoverURLs(ctx, conn, opts)
	if err != nil {
		return nil, err
	}

	pv := &Preview{Total: len(discovered)}
	skipped := map[scraper.Classification]int{}
	for _, d := range discovered {
		if d.Classification != scraper.ClassCrawlable {
			skipped[d.Classification]++
			continue
		}
		title := d.Anchor
		if title == "" {
			title = d.URL
		}
		pv.Items = append(pv.Items, PreviewItem{Title: title, URL: d.URL, Kind: "page"})
	}
	if len(skipped) > 0 {
		pv.Notes = fmt.Sprintf("%d of %d discovered urls will be fetched (%d blocked by robots, %d by patterns, %d external, %d assets)",
			len(pv.Items), len(discovered),
			skipped[scraper.ClassBlockedRobots], skipped[scraper.ClassBlockedPattern],
			skipped[scraper.ClassExternal], skipped[scraper.ClassAllowed])
	}
	return pv, nil
}

// Sync runs a full crawl and maps its stats onto the job counters.
func (w *Web) Sync(ctx context.Context, sc *SyncContext) error {
	opts, err := scraper.OptionsFromConfig(sc.Config)
	if err != nil {
		return err
	}
	stats, err := w.crawler.Crawl(ctx, sc.Connector, opts)
	sc.AddPages(stats.PagesProcessed)
	sc.AddDocuments(stats.PagesSucceeded)
	return err
}

// prepare builds the transient connector row discovery runs against when
// previewing a config that may not be persisted yet.
func (w *Web) prepare(cfg map[string]any) (*types.Connector, scraper.Options, error) {
	var view WebConfig
	if err := decodeConfig(types.ConnectorWeb, cfg, false, &view); err != nil {
		return nil, scraper.Options{}, err
	}
	if err := view.validate(); err != nil {
		return nil, scraper.Options{}, err
	}
	opts, err := scraper.OptionsFromConfig(cfg)
	if err != nil {
		return nil, scraper.Options{}, err
	}
	return &types.Connector{Type: types.ConnectorWeb, Config: cfg}, opts, nil
}
