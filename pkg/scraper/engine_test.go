package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// stubIngestor satisfies Ingestor, minting one document per distinct URL.
type stubIngestor struct {
	mu         sync.Mutex
	created    map[string]uuid.UUID // page URL -> minted document ID
	reingested map[uuid.UUID]int
	failWith   error
}

func newStubIngestor() *stubIngestor {
	return &stubIngestor{
		created:    make(map[string]uuid.UUID),
		reingested: make(map[uuid.UUID]int),
	}
}

func (si *stubIngestor) IngestWeb(_ context.Context, page ingest.WebPage) (*types.Document, bool, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.failWith != nil {
		return nil, false, si.failWith
	}
	id, existed := si.created[page.URL]
	if !existed {
		id = uuid.New()
		si.created[page.URL] = id
	}
	return &types.Document{ID: id, OrgID: page.OrgID, DomainID: page.DomainID, Filename: page.Title}, !existed, nil
}

func (si *stubIngestor) Reingest(_ context.Context, documentID uuid.UUID, _ []byte) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.failWith != nil {
		return si.failWith
	}
	si.reingested[documentID]++
	return nil
}

func (si *stubIngestor) createdCount() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return len(si.created)
}

func (si *stubIngestor) documentFor(url string) (uuid.UUID, bool) {
	si.mu.Lock()
	defer si.mu.Unlock()
	id, ok := si.created[url]
	return id, ok
}

func (si *stubIngestor) reingestCount(id uuid.UUID) int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.reingested[id]
}

func newTestEngine(st store.Store, ing Ingestor, broker *events.Broker) *Engine {
	cfg := config.Default().Scraper
	cfg.BaseDelay = time.Millisecond
	return NewEngine(st, ing, broker, cfg)
}

func webConnector() *types.Connector {
	return &types.Connector{
		ID:       uuid.New(),
		OrgID:    uuid.New(),
		DomainID: uuid.New(),
		Name:     "docs site",
		Type:     types.ConnectorWeb,
		Enabled:  true,
	}
}

const rootHTML = `<html><head><title>Acme Telemetry Platform</title></head><body>
<article>
<h1>Acme Telemetry Platform</h1>
<p>Acme collects metrics, traces, and logs from every service in your fleet and stores them in one queryable timeline. Teams use the timeline to spot regressions before customers notice them.</p>
<h2>Where to go next</h2>
<ul>
<li><a href="/docs/guide">Getting started with your first agent</a> walks through installation.</li>
<li><a href="/docs/setup">Configuration reference</a> lists every setting the agent accepts.</li>
<li><a href="/thin">Release notes</a> for the current version.</li>
<li><a href="/login">Sign in</a> to manage your account.</li>
<li><a href="/private/reports">Internal reports</a> for staff.</li>
<li><a href="https://status.example.com/acme">Status page</a> hosted elsewhere.</li>
<li><a href="/logo.png">Logo</a> assets for press kits.</li>
</ul>
<h2>How collection works</h2>
<p>An agent runs beside each workload and batches samples into compressed envelopes. Envelopes ship over the wire every few seconds, and the platform acknowledges each batch so the agent can trim its buffer. When the network drops, the agent keeps a bounded spool on disk and replays it once connectivity returns.</p>
<p>Dashboards read from the same timeline the alerting engine evaluates, so a chart and an alert can never disagree about what happened. Retention is configurable per project and defaults to thirty days.</p>
</article>
</body></html>`

const guideHTML = `<html><head><title>Getting Started</title></head><body><article>
<h1>Getting started with the agent</h1>
<p>This guide installs the collection agent on one host, points it at your project, and verifies that samples arrive. Allow ten minutes end to end.</p>
<h2>Install the package</h2>
<p>Download the package for your distribution and install it with your package manager. The service registers itself with systemd and starts on boot.</p>
<ul>
<li>Debian and Ubuntu hosts use the apt repository.</li>
<li>Red Hat and Fedora hosts use the yum repository.</li>
<li>Container platforms pull the published image instead.</li>
</ul>
<h2>Point the agent at your project</h2>
<p>Open the agent configuration file and set the project key from your settings page. Restart the service and watch the journal until the first batch is acknowledged. If the journal shows an authentication error, regenerate the key and restart once more.</p>
</article></body></html>`

const setupHTML = `<html><head><title>Configuration Reference</title></head><body><article>
<h1>Configuration reference</h1>
<p>Every setting lives in one file and can be overridden by environment variables. Unknown keys fail validation at startup so typos surface immediately rather than being silently ignored.</p>
<h2>Core settings</h2>
<ul>
<li>project_key identifies the tenant that owns uploaded samples.</li>
<li>flush_interval controls how often batches leave the host.</li>
<li>spool_size caps how much disk the offline buffer may use.</li>
<li>log_level accepts debug, info, warn, and error.</li>
</ul>
<h2>Validation rules</h2>
<p>Intervals accept plain durations such as 5s or 2m. Sizes accept unit suffixes up to gigabytes. The loader rejects a spool smaller than one megabyte because replay would thrash the disk. Changes take effect on restart, and a reload signal applies everything except the project key.</p>
</article></body></html>`

// thinPageHTML is a placeholder page padded with script so its text barely
// registers against the markup.
func thinPageHTML() string {
	return "<html><head><title>Release notes</title></head><body><p>Release notes are coming soon.</p><script>" +
		strings.Repeat("window.__pad = (window.__pad || 0) + 1;", 60) + "</script></body></html>"
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}
}

// docsSite is a small site with one of everything discovery can meet: rich
// pages, a thin page, a robots-disallowed path, a login page, an external
// link, and an image asset.
func docsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/docs/guide", serveHTML(guideHTML))
	mux.HandleFunc("/docs/setup", serveHTML(setupHTML))
	mux.HandleFunc("/thin", serveHTML(thinPageHTML()))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, rootHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// slowSite serves an index linking n identical article pages, each taking a
// beat to respond, so tests can observe a crawl mid-flight.
func slowSite(t *testing.T, n int) *httptest.Server {
	t.Helper()
	var links strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&links, `<li><a href="/p/%d">Entry %d</a></li>`, i, i)
	}
	index := "<html><head><title>Index</title></head><body><ul>" + links.String() + "</ul></body></html>"

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/" {
			fmt.Fprint(w, index)
			return
		}
		time.Sleep(25 * time.Millisecond)
		fmt.Fprint(w, guideHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlEndToEnd(t *testing.T) {
	srv := docsSite(t)
	st := store.NewMemory()
	ing := newStubIngestor()
	eng := newTestEngine(st, ing, nil)
	conn := webConnector()
	ctx := context.Background()

	stats, err := eng.Crawl(ctx, conn, Options{
		SeedURLs:        []string{srv.URL},
		ExcludePatterns: []string{`/login`},
		HostConcurrency: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, types.CrawlCompleted, stats.State)
	assert.Equal(t, 4, stats.PagesDiscovered)
	assert.Equal(t, 4, stats.PagesProcessed)
	assert.Equal(t, 3, stats.PagesSucceeded)
	assert.Equal(t, 1, stats.PagesSkipped)
	assert.Zero(t, stats.PagesFailed)
	assert.Greater(t, stats.BytesFetched, int64(0))

	pages, total, err := st.ListCrawledPages(ctx, conn.OrgID, conn.ID, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 6, total)

	byURL := make(map[string]*types.CrawledPage, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}

	for _, u := range []string{srv.URL + "/", srv.URL + "/docs/guide", srv.URL + "/docs/setup"} {
		page := byURL[u]
		require.NotNil(t, page, "expected a record for %s", u)
		assert.Equal(t, types.PageIngested, page.Status)
		require.NotNil(t, page.DocumentID)
		docID, ok := ing.documentFor(u)
		require.True(t, ok, "expected an ingested document for %s", u)
		assert.Equal(t, docID, *page.DocumentID)
		assert.NotEmpty(t, page.ContentHash)
		assert.GreaterOrEqual(t, page.Quality.Overall, 0.5)
	}

	thin := byURL[srv.URL+"/thin"]
	require.NotNil(t, thin)
	assert.Equal(t, types.PageSkippedQuality, thin.Status)
	assert.Nil(t, thin.DocumentID)
	assert.Contains(t, thin.ErrorMessage, "below threshold")

	login := byURL[srv.URL+"/login"]
	require.NotNil(t, login)
	assert.Equal(t, types.PageBlocked, login.Status)
	assert.Contains(t, login.ErrorMessage, "exclude pattern")

	private := byURL[srv.URL+"/private/reports"]
	require.NotNil(t, private)
	assert.Equal(t, types.PageBlocked, private.Status)
	assert.Contains(t, private.ErrorMessage, "robots.txt")

	for u := range byURL {
		assert.NotContains(t, u, "status.example.com", "external links must never be recorded")
	}
	assert.Equal(t, 3, ing.createdCount())

	// The finished session stays addressable for stats; cancel no longer applies.
	after, err := eng.SessionStats(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CrawlCompleted, after.State)
	assert.ErrorIs(t, eng.CancelCrawl(conn.ID), errdefs.ErrNotFound)
}

func TestCrawlDeduplicatesIdenticalPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dup-a", serveHTML(guideHTML))
	mux.HandleFunc("/dup-b", serveHTML(guideHTML))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	ing := newStubIngestor()
	eng := newTestEngine(st, ing, nil)
	conn := webConnector()
	ctx := context.Background()

	stats, err := eng.Crawl(ctx, conn, Options{
		SeedURLs:        []string{srv.URL + "/dup-a", srv.URL + "/dup-b"},
		HostConcurrency: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PagesProcessed)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, 1, stats.PagesSkipped)

	a, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/dup-a")
	require.NoError(t, err)
	b, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/dup-b")
	require.NoError(t, err)

	assert.Equal(t, types.PageIngested, a.Status)
	require.NotNil(t, a.DocumentID)
	assert.Equal(t, types.PageSkippedDuplicate, b.Status)
	assert.Nil(t, b.DocumentID)
	assert.Contains(t, b.ErrorMessage, "identical content")
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, 1, ing.createdCount())
}

func TestCrawlSkipsNearDuplicates(t *testing.T) {
	intro := "<p>The export pipeline writes one archive per project every night. Archives land in the bucket you configured during setup.</p>"
	schedule := "<h2>Scheduling exports</h2><p>Exports run from a cron entry that the installer creates. Operators can trigger an extra run whenever an auditor asks for fresh data.</p>"
	retention := "<h2>Retention of archives</h2><p>Old archives expire after ninety days unless a legal hold pins them. Holds are reviewed monthly by the compliance owner.</p>"
	pageA := "<html><head><title>Exports</title></head><body><article><h1>Exports</h1>" + intro + schedule + retention + "</article></body></html>"
	pageB := "<html><head><title>Exports</title></head><body><article><h1>Exports</h1>" + intro + retention + schedule + "</article></body></html>"

	mux := http.NewServeMux()
	mux.HandleFunc("/near-a", serveHTML(pageA))
	mux.HandleFunc("/near-b", serveHTML(pageB))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	ing := newStubIngestor()
	eng := newTestEngine(st, ing, nil)
	conn := webConnector()
	ctx := context.Background()

	_, err := eng.Crawl(ctx, conn, Options{
		SeedURLs:        []string{srv.URL + "/near-a", srv.URL + "/near-b"},
		HostConcurrency: 1,
	})
	require.NoError(t, err)

	a, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/near-a")
	require.NoError(t, err)
	b, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/near-b")
	require.NoError(t, err)

	assert.Equal(t, types.PageIngested, a.Status)
	assert.Equal(t, types.PageSkippedDuplicate, b.Status)
	assert.Contains(t, b.ErrorMessage, "near-duplicate of")
	assert.NotEqual(t, a.ContentHash, b.ContentHash, "reordered sections must not hash identically")
	assert.Equal(t, 1, ing.createdCount())
}

func TestCrawlRecrawlReingestsChangedPages(t *testing.T) {
	var body atomic.Value
	body.Store(guideHTML)
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body.Load().(string))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	ing := newStubIngestor()
	eng := newTestEngine(st, ing, nil)
	conn := webConnector()
	opts := Options{SeedURLs: []string{srv.URL + "/page"}, HostConcurrency: 1}
	ctx := context.Background()

	_, err := eng.Crawl(ctx, conn, opts)
	require.NoError(t, err)
	docID, ok := ing.documentFor(srv.URL + "/page")
	require.True(t, ok)

	first, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/page")
	require.NoError(t, err)

	// Unchanged content refreshes the record without touching ingestion.
	stats, err := eng.Crawl(ctx, conn, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, 1, ing.createdCount())
	assert.Zero(t, ing.reingestCount(docID))

	// Changed content re-ingests into the existing document.
	body.Store(setupHTML)
	stats, err = eng.Crawl(ctx, conn, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, 1, ing.createdCount(), "a changed page must not mint a new document")
	assert.Equal(t, 1, ing.reingestCount(docID))

	after, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/page")
	require.NoError(t, err)
	require.NotNil(t, after.DocumentID)
	assert.Equal(t, docID, *after.DocumentID)
	assert.NotEqual(t, first.ContentHash, after.ContentHash)
	assert.Equal(t, types.PageIngested, after.Status)
}

func TestCrawlRecordsFailedPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", serveHTML(guideHTML))
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nothing here", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	eng := newTestEngine(st, newStubIngestor(), nil)
	conn := webConnector()
	ctx := context.Background()

	stats, err := eng.Crawl(ctx, conn, Options{
		SeedURLs:        []string{srv.URL + "/gone", srv.URL + "/ok"},
		HostConcurrency: 1,
	})
	require.NoError(t, err, "page failures must not fail the crawl")
	assert.Equal(t, types.CrawlCompleted, stats.State)
	assert.Equal(t, 2, stats.PagesProcessed)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, 1, stats.PagesFailed)

	gone, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/gone")
	require.NoError(t, err)
	assert.Equal(t, types.PageFailed, gone.Status)
	assert.Contains(t, gone.ErrorMessage, "404")
	assert.Nil(t, gone.DocumentID)
}

func TestCrawlRecordsIngestFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", serveHTML(guideHTML))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	ing := newStubIngestor()
	ing.failWith = errors.New("embedding service is down")
	eng := newTestEngine(st, ing, nil)
	conn := webConnector()
	ctx := context.Background()

	stats, err := eng.Crawl(ctx, conn, Options{SeedURLs: []string{srv.URL + "/doc"}, HostConcurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesFailed)
	assert.Zero(t, stats.PagesSucceeded)

	page, err := st.GetPageByURL(ctx, conn.ID, srv.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, types.PageFailed, page.Status)
	assert.Contains(t, page.ErrorMessage, "embedding service is down")
}

func TestCrawlFailsWhenSiteUnreachable(t *testing.T) {
	mux := http.NewServeMux() // every path, robots.txt included, 404s
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)
	conn := webConnector()

	stats, err := eng.Crawl(context.Background(), conn, Options{
		SeedURLs:        []string{srv.URL},
		HostConcurrency: 1,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsRetryable(err), "a dead site is worth retrying later")
	assert.Equal(t, types.CrawlFailed, stats.State)
	assert.Zero(t, stats.PagesProcessed)
}

func TestCrawlCancellation(t *testing.T) {
	srv := slowSite(t, 40)
	st := store.NewMemory()
	eng := newTestEngine(st, newStubIngestor(), nil)
	conn := webConnector()

	type result struct {
		stats types.CrawlStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := eng.Crawl(context.Background(), conn, Options{
			SeedURLs:        []string{srv.URL},
			MaxDepth:        1,
			HostConcurrency: 1,
		})
		done <- result{stats, err}
	}()

	require.Eventually(t, func() bool {
		stats, err := eng.SessionStats(conn.ID)
		return err == nil && stats.PagesProcessed >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, eng.CancelCrawl(conn.ID))

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, errdefs.ErrCancelled)
		assert.Equal(t, types.CrawlCancelled, res.stats.State)
		assert.Less(t, res.stats.PagesProcessed, 41)
		assert.Greater(t, res.stats.PagesPerMinute, 0.0)
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not stop after cancellation")
	}
}

func TestCrawlConflict(t *testing.T) {
	srv := slowSite(t, 40)
	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)
	conn := webConnector()
	opts := Options{SeedURLs: []string{srv.URL}, MaxDepth: 1, HostConcurrency: 1}

	done := make(chan error, 1)
	go func() {
		_, err := eng.Crawl(context.Background(), conn, opts)
		done <- err
	}()

	require.Eventually(t, func() bool {
		stats, err := eng.SessionStats(conn.ID)
		return err == nil && stats.PagesProcessed >= 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := eng.Crawl(context.Background(), conn, opts)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	require.NoError(t, eng.CancelCrawl(conn.ID))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first crawl did not stop after cancellation")
	}
}

func TestCrawlPublishesEvents(t *testing.T) {
	srv := docsSite(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	eng := newTestEngine(store.NewMemory(), newStubIngestor(), broker)
	conn := webConnector()

	_, err := eng.Crawl(context.Background(), conn, Options{
		SeedURLs:        []string{srv.URL},
		ExcludePatterns: []string{`/login`},
		HostConcurrency: 1,
	})
	require.NoError(t, err)

	var got []*events.Event
	deadline := time.After(2 * time.Second)
	for {
		var ev *events.Event
		select {
		case ev = <-sub:
		case <-deadline:
			t.Fatal("timed out waiting for crawl events")
		}
		got = append(got, ev)
		if ev.Type == events.EventCrawlCompleted {
			break
		}
	}

	assert.Equal(t, events.EventCrawlStarted, got[0].Type)
	last := got[len(got)-1]
	assert.Equal(t, events.EventCrawlCompleted, last.Type)
	assert.Equal(t, conn.OrgID, last.OrgID)
	assert.Equal(t, conn.ID.String(), last.Metadata["connector_id"])
	assert.Equal(t, string(types.CrawlCompleted), last.Metadata["state"])
}

func TestDiscoverURLs(t *testing.T) {
	srv := docsSite(t)
	st := store.NewMemory()
	eng := newTestEngine(st, newStubIngestor(), nil)
	conn := webConnector()
	ctx := context.Background()

	found, err := eng.DiscoverURLs(ctx, conn, Options{
		SeedURLs:        []string{srv.URL},
		ExcludePatterns: []string{`/login`},
	})
	require.NoError(t, err)

	byURL := make(map[string]DiscoveredURL, len(found))
	for _, d := range found {
		byURL[d.URL] = d
	}

	assert.Equal(t, ClassCrawlable, byURL[srv.URL+"/"].Classification)
	assert.Equal(t, ClassCrawlable, byURL[srv.URL+"/docs/guide"].Classification)
	assert.Equal(t, ClassBlockedPattern, byURL[srv.URL+"/login"].Classification)
	assert.Equal(t, ClassBlockedRobots, byURL[srv.URL+"/private/reports"].Classification)
	assert.Equal(t, ClassExternal, byURL["https://status.example.com/acme"].Classification)
	assert.Equal(t, ClassAllowed, byURL[srv.URL+"/logo.png"].Classification)

	guide := byURL[srv.URL+"/docs/guide"]
	assert.Equal(t, 1, guide.Depth)
	assert.Greater(t, guide.Priority, byURL[srv.URL+"/"].Priority, "documentation paths outrank the root")

	// Discovery alone persists nothing and mints no documents.
	_, total, err := st.ListCrawledPages(ctx, conn.OrgID, conn.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPreview(t *testing.T) {
	srv := docsSite(t)
	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)

	p, err := eng.Preview(context.Background(), srv.URL+"/docs/guide", Options{})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/docs/guide", p.URL)
	assert.NotEmpty(t, p.Title)
	assert.Greater(t, p.WordCount, 50)
	assert.GreaterOrEqual(t, p.Quality.Overall, 0.5)
	assert.NotEmpty(t, p.Excerpt)
	assert.LessOrEqual(t, len([]rune(p.Excerpt)), previewChars)
}

func TestPreviewRejectsNonPageContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)
	_, err := eng.Preview(context.Background(), srv.URL+"/logo.png", Options{})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedType)
}

func TestSessionLifecycleErrors(t *testing.T) {
	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)
	_, err := eng.SessionStats(uuid.New())
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.ErrorIs(t, eng.CancelCrawl(uuid.New()), errdefs.ErrNotFound)
}

func TestCrawlRejectsBadOptions(t *testing.T) {
	eng := newTestEngine(store.NewMemory(), newStubIngestor(), nil)
	conn := webConnector()
	ctx := context.Background()

	_, err := eng.Crawl(ctx, conn, Options{})
	assert.ErrorIs(t, err, errdefs.ErrBadRequest)

	_, err = eng.Crawl(ctx, conn, Options{SeedURLs: []string{"ftp://old.example.com/files"}})
	assert.ErrorIs(t, err, errdefs.ErrBadRequest)

	_, err = eng.Crawl(ctx, conn, Options{
		SeedURLs:        []string{"https://docs.example.com"},
		ExcludePatterns: []string{"(["},
	})
	assert.ErrorIs(t, err, errdefs.ErrRegexInvalid)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(map[string]any{
		"seed_urls":                []any{"https://docs.example.com"},
		"exclude_patterns":         []any{`/login`},
		"max_depth":                2,
		"max_pages":                50,
		"host_concurrency":         1,
		"base_delay_ms":            250,
		"quality_threshold":        0.4,
		"near_duplicate_threshold": 0.95,
		"render_js":                true,
		"label":                    "ignored by the crawler",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.example.com"}, opts.SeedURLs)
	assert.Equal(t, []string{"/login"}, opts.ExcludePatterns)
	assert.Equal(t, 2, opts.MaxDepth)
	assert.Equal(t, 50, opts.MaxPages)
	assert.Equal(t, 1, opts.HostConcurrency)
	assert.Equal(t, 250*time.Millisecond, opts.BaseDelay)
	assert.InDelta(t, 0.4, opts.QualityThreshold, 1e-9)
	assert.InDelta(t, 0.95, opts.NearDupThreshold, 1e-9)
	assert.True(t, opts.RenderJS)
}

func TestOptionsFromConfigRejectsWrongShape(t *testing.T) {
	_, err := OptionsFromConfig(map[string]any{"seed_urls": "not-a-list"})
	assert.ErrorIs(t, err, errdefs.ErrBadRequest)
}

func TestOptionsWithDefaults(t *testing.T) {
	cfg := config.Default().Scraper
	got := Options{}.withDefaults(cfg)
	assert.Equal(t, cfg.MaxDepth, got.MaxDepth)
	assert.Equal(t, cfg.MaxPages, got.MaxPages)
	assert.Equal(t, cfg.HostConcurrency, got.HostConcurrency)
	assert.Equal(t, cfg.BaseDelay, got.BaseDelay)
	assert.InDelta(t, defaultQualityThreshold, got.QualityThreshold, 1e-9)
	assert.InDelta(t, defaultNearDupThreshold, got.NearDupThreshold, 1e-9)

	explicit := Options{MaxDepth: 5, QualityThreshold: 0.2}.withDefaults(cfg)
	assert.Equal(t, 5, explicit.MaxDepth)
	assert.InDelta(t, 0.2, explicit.QualityThreshold, 1e-9)
}
