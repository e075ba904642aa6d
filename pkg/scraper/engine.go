package scraper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

const (
	defaultQualityThreshold = 0.5
	defaultNearDupThreshold = 0.9
	dupeWindowSize          = 50
	progressEvery           = 10
	previewChars            = 280
	errMessageCap           = 500
)

// Ingestor is the slice of the ingestion service the crawler feeds.
type Ingestor interface {
	IngestWeb(ctx context.Context, page ingest.WebPage) (*types.Document, bool, error)
	Reingest(ctx context.Context, documentID uuid.UUID, data []byte) error
}

// Options bounds one crawl run. Zero values fall back to the server-wide
// scraper configuration, and the quality and near-duplicate thresholds to
// package defaults.
type Options struct {
	SeedURLs         []string
	ExcludePatterns  []string
	MaxDepth         int
	MaxPages         int
	HostConcurrency  int
	BaseDelay        time.Duration
	QualityThreshold float64
	NearDupThreshold float64
	RenderJS         bool
}

// OptionsFromConfig reads crawl options out of a web connector's free-form
// config map. Unknown keys are tolerated; the connector layer rejects them
// on write.
func OptionsFromConfig(raw map[string]any) (Options, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Options{}, fmt.Errorf("connector config is not serializable: %w", errdefs.ErrBadRequest)
	}
	var view struct {
		SeedURLs         []string `json:"seed_urls"`
		ExcludePatterns  []string `json:"exclude_patterns"`
		MaxDepth         int      `json:"max_depth"`
		MaxPages         int      `json:"max_pages"`
		HostConcurrency  int      `json:"host_concurrency"`
		BaseDelayMS      int      `json:"base_delay_ms"`
		QualityThreshold float64  `json:"quality_threshold"`
		NearDupThreshold float64  `json:"near_duplicate_threshold"`
		RenderJS         bool     `json:"render_js"`
	}
	if err := json.Unmarshal(data, &view); err != nil {
		return Options{}, fmt.Errorf("invalid web connector config: %v: %w", err, errdefs.ErrBadRequest)
	}
	return Options{
		SeedURLs:         view.SeedURLs,
		ExcludePatterns:  view.ExcludePatterns,
		MaxDepth:         view.MaxDepth,
		MaxPages:         view.MaxPages,
		HostConcurrency:  view.HostConcurrency,
		BaseDelay:        time.Duration(view.BaseDelayMS) * time.Millisecond,
		QualityThreshold: view.QualityThreshold,
		NearDupThreshold: view.NearDupThreshold,
		RenderJS:         view.RenderJS,
	}, nil
}

func (o Options) withDefaults(cfg config.ScraperConfig) Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = cfg.MaxDepth
	}
	if o.MaxPages <= 0 {
		o.MaxPages = cfg.MaxPages
	}
	if o.HostConcurrency <= 0 {
		o.HostConcurrency = cfg.HostConcurrency
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = cfg.BaseDelay
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = defaultQualityThreshold
	}
	if o.NearDupThreshold <= 0 {
		o.NearDupThreshold = defaultNearDupThreshold
	}
	return o
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %v: %w", p, err, errdefs.ErrRegexInvalid)
		}
		out = append(out, re)
	}
	return out, nil
}

// Engine runs crawl sessions for web connectors. One session per connector
// at a time; the most recent session, running or finished, stays
// addressable for stats and cancellation.
type Engine struct {
	store  store.Store
	ingest Ingestor
	broker *events.Broker
	cfg    config.ScraperConfig
	client *http.Client
	robots *RobotsCache
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewEngine creates a crawl engine. The broker may be nil.
func NewEngine(st store.Store, ing Ingestor, broker *events.Broker, cfg config.ScraperConfig) *Engine {
	client := &http.Client{Timeout: 20 * time.Second}
	return &Engine{
		store:    st,
		ingest:   ing,
		broker:   broker,
		cfg:      cfg,
		client:   client,
		robots:   NewRobotsCache(client, cfg.UserAgent, cfg.RobotsCacheTTL),
		sessions: make(map[uuid.UUID]*Session),
		logger:   log.WithComponent("scraper"),
	}
}

// Crawl runs a full two-phase crawl for the connector and blocks until it
// finishes. A second crawl for the same connector while one is running
// returns ErrConflict.
func (e *Engine) Crawl(ctx context.Context, conn *types.Connector, opts Options) (types.CrawlStats, error) {
	sess, err := e.newSession(conn, opts, false)
	if err != nil {
		return types.CrawlStats{}, err
	}
	if err := e.register(sess); err != nil {
		return types.CrawlStats{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	defer cancel()
	return sess.run(ctx)
}

// ScrapeURLs fetches and ingests exactly the given pages for the connector,
// with no link expansion. It shares Crawl's session machinery, so the same
// one-session-per-connector rule applies.
func (e *Engine) ScrapeURLs(ctx context.Context, conn *types.Connector, urls []string, opts Options) (types.CrawlStats, error) {
	if len(urls) == 0 {
		return types.CrawlStats{}, fmt.Errorf("no urls to scrape: %w", errdefs.ErrBadRequest)
	}
	opts.SeedURLs = urls
	opts.MaxPages = len(urls)
	sess, err := e.newSession(conn, opts, false)
	if err != nil {
		return types.CrawlStats{}, err
	}
	sess.noExpand = true
	if err := e.register(sess); err != nil {
		return types.CrawlStats{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	defer cancel()
	return sess.run(ctx)
}

// DiscoverURLs runs the discovery phase only and returns every classified
// URL, without persisting pages or touching ingestion.
func (e *Engine) DiscoverURLs(ctx context.Context, conn *types.Connector, opts Options) ([]DiscoveredURL, error) {
	sess, err := e.newSession(conn, opts, true)
	if err != nil {
		return nil, err
	}
	sess.setState(types.CrawlDiscovering)
	if _, err := sess.discoverPhase(ctx); err != nil {
		return nil, err
	}
	return sess.Discoveries(), nil
}

// PagePreview reports what ingestion would see for one URL.
type PagePreview struct {
	URL       string               `json:"url"`
	Title     string               `json:"title"`
	WordCount int                  `json:"word_count"`
	Quality   types.QualityMetrics `json:"quality_metrics"`
	Excerpt   string               `json:"excerpt"`
}

// Preview fetches a single page and runs extraction and quality scoring on
// it without recording anything.
func (e *Engine) Preview(ctx context.Context, pageURL string, opts Options) (*PagePreview, error) {
	opts = opts.withDefaults(e.cfg)
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", pageURL, errdefs.ErrBadRequest)
	}
	u := normalizeURL(parsed)
	if u == nil {
		return nil, fmt.Errorf("url %q is not http(s): %w", pageURL, errdefs.ErrBadRequest)
	}

	fetcher := NewFetcher(e.client, e.cfg.UserAgent, 0, 1, opts.RenderJS, e.robots)
	res, err := fetcher.Fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if !isHTML(res.ContentType) {
		return nil, fmt.Errorf("content type %q is not a page: %w", res.ContentType, errdefs.ErrUnsupportedType)
	}

	title, markdown := extractContent(u.String(), res.Body)
	if title == "" {
		title, _ = parsePage(u, res.Body)
	}
	return &PagePreview{
		URL:       u.String(),
		Title:     title,
		WordCount: len(strings.Fields(markdown)),
		Quality:   scoreQuality(res.Body, markdown, res.LastModified, time.Now()),
		Excerpt:   preview(markdown),
	}, nil
}

// SessionStats returns the live (or final) stats of the connector's most
// recent crawl session.
func (e *Engine) SessionStats(connectorID uuid.UUID) (types.CrawlStats, error) {
	e.mu.Lock()
	sess, ok := e.sessions[connectorID]
	e.mu.Unlock()
	if !ok {
		return types.CrawlStats{}, fmt.Errorf("no crawl session for connector %s: %w", connectorID, errdefs.ErrNotFound)
	}
	return sess.Stats(), nil
}

// CancelCrawl stops the connector's running session. The session winds down
// at its next loop iteration and finishes in state cancelled.
func (e *Engine) CancelCrawl(connectorID uuid.UUID) error {
	e.mu.Lock()
	sess, ok := e.sessions[connectorID]
	e.mu.Unlock()
	if !ok || !sess.running() || sess.cancel == nil {
		return fmt.Errorf("no running crawl for connector %s: %w", connectorID, errdefs.ErrNotFound)
	}
	sess.cancel()
	return nil
}

func (e *Engine) register(sess *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[sess.conn.ID]; ok && cur.running() {
		return fmt.Errorf("connector %s already has a crawl in progress: %w", sess.conn.ID, errdefs.ErrConflict)
	}
	e.sessions[sess.conn.ID] = sess
	return nil
}

func (e *Engine) newSession(conn *types.Connector, opts Options, dryRun bool) (*Session, error) {
	opts = opts.withDefaults(e.cfg)
	if len(opts.SeedURLs) == 0 {
		return nil, fmt.Errorf("web connector has no seed urls: %w", errdefs.ErrBadRequest)
	}
	excludes, err := compilePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string]bool)
	for _, raw := range opts.SeedURLs {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if u := normalizeURL(parsed); u != nil {
			hosts[u.Host] = true
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("web connector has no usable seed urls: %w", errdefs.ErrBadRequest)
	}

	return &Session{
		engine:   e,
		conn:     conn,
		opts:     opts,
		excludes: excludes,
		hosts:    hosts,
		robots:   e.robots,
		fetcher:  NewFetcher(e.client, e.cfg.UserAgent, opts.BaseDelay, opts.HostConcurrency, opts.RenderJS, e.robots),
		dupes:    newDupeWindow(dupeWindowSize),
		dryRun:   dryRun,
		logger:   e.logger.With().Str("connector", conn.ID.String()).Logger(),
		stats:    types.CrawlStats{State: types.CrawlIdle, StartedAt: time.Now()},
	}, nil
}

// Session is one crawl run for one connector.
type Session struct {
	engine   *Engine
	conn     *types.Connector
	opts     Options
	excludes []*regexp.Regexp
	hosts    map[string]bool
	robots   *RobotsCache
	fetcher  *Fetcher
	dupes    *dupeWindow
	dryRun   bool
	noExpand bool
	cancel   context.CancelFunc
	logger   zerolog.Logger

	mu          sync.Mutex
	stats       types.CrawlStats
	discoveries []DiscoveredURL
}

func (s *Session) run(ctx context.Context) (types.CrawlStats, error) {
	s.setState(types.CrawlDiscovering)
	s.publish(events.EventCrawlStarted, fmt.Sprintf("crawl started from %d seed urls", len(s.opts.SeedURLs)))
	s.logger.Info().
		Int("seeds", len(s.opts.SeedURLs)).
		Int("max_depth", s.opts.MaxDepth).
		Int("max_pages", s.opts.MaxPages).
		Msg("Starting crawl")

	frontier, err := s.discoverPhase(ctx)
	if err != nil {
		state := types.CrawlFailed
		if ctx.Err() != nil {
			state = types.CrawlCancelled
			err = fmt.Errorf("crawl cancelled during discovery: %w", errdefs.ErrCancelled)
		}
		s.setState(state)
		s.publish(events.EventCrawlCompleted, "crawl "+string(state))
		s.logger.Error().Err(err).Msg("Crawl ended during discovery")
		return s.Stats(), err
	}

	s.setState(types.CrawlFetching)
	s.fetchPhase(ctx, frontier)

	final := types.CrawlCompleted
	if ctx.Err() != nil {
		final = types.CrawlCancelled
	}
	s.setState(final)

	stats := s.Stats()
	s.publish(events.EventCrawlCompleted, fmt.Sprintf("crawl %s: %d pages processed, %d ingested",
		final, stats.PagesProcessed, stats.PagesSucceeded))
	s.logger.Info().
		Str("state", string(final)).
		Int("processed", stats.PagesProcessed).
		Int("succeeded", stats.PagesSucceeded).
		Int("failed", stats.PagesFailed).
		Int("skipped", stats.PagesSkipped).
		Int64("bytes", stats.BytesFetched).
		Msg("Crawl finished")

	if final == types.CrawlCancelled {
		return stats, fmt.Errorf("crawl cancelled: %w", errdefs.ErrCancelled)
	}
	return stats, nil
}

// fetchPhase drains the frontier best-first with a small worker pool.
// Workers observe cancellation between pages; a page failure never fails
// the phase.
func (s *Session) fetchPhase(ctx context.Context, frontier *Frontier) {
	candidates := frontier.Drain()
	s.setDiscovered(len(candidates))
	if len(candidates) == 0 {
		return
	}

	var popMu sync.Mutex
	next := 0
	pop := func() (Candidate, bool) {
		popMu.Lock()
		defer popMu.Unlock()
		if next >= len(candidates) {
			return Candidate{}, false
		}
		c := candidates[next]
		next++
		return c, true
	}

	workers := s.opts.HostConcurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				cand, ok := pop()
				if !ok {
					return
				}
				s.processPage(ctx, cand)
			}
		}()
	}
	wg.Wait()
}

// pageRecord carries one fetch outcome into stats, metrics, and the store.
type pageRecord struct {
	cand       Candidate
	status     types.PageStatus
	errMsg     string
	title      string
	words      int
	hash       string
	quality    types.QualityMetrics
	preview    string
	documentID *uuid.UUID
}

// processPage runs the per-page pipeline: fetch, extract, score, dedup,
// ingest. Every outcome is recorded as a CrawledPage.
func (s *Session) processPage(ctx context.Context, cand Candidate) {
	res, err := s.fetcher.Fetch(ctx, cand.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordPage(ctx, pageRecord{cand: cand, status: types.PageFailed, errMsg: trimErr(err)})
		return
	}
	s.addBytes(res.Bytes)

	if !isHTML(res.ContentType) {
		s.recordPage(ctx, pageRecord{cand: cand, status: types.PageFailed,
			errMsg: fmt.Sprintf("content type %q is not a page", res.ContentType)})
		return
	}

	title, markdown := extractContent(cand.URL, res.Body)
	if title == "" {
		if base, perr := url.Parse(cand.URL); perr == nil {
			title, _ = parsePage(base, res.Body)
		}
	}

	rec := pageRecord{
		cand:    cand,
		title:   title,
		words:   len(strings.Fields(markdown)),
		hash:    contentHash(markdown),
		quality: scoreQuality(res.Body, markdown, res.LastModified, time.Now()),
		preview: preview(markdown),
	}
	tokens := tokenSet(markdown)

	prior := s.priorPage(ctx, cand.URL)
	if prior != nil && prior.ContentHash == rec.hash && prior.DocumentID != nil && prior.Status == types.PageIngested {
		// Unchanged since the last crawl; refresh the record, skip the pipeline.
		rec.status = types.PageIngested
		rec.documentID = prior.DocumentID
		s.dupes.add(cand.URL, tokens)
		s.recordPage(ctx, rec)
		return
	}

	if dupURL := s.exactDuplicate(ctx, cand.URL, rec.hash); dupURL != "" {
		rec.status = types.PageSkippedDuplicate
		rec.errMsg = "identical content already crawled at " + dupURL
		s.recordPage(ctx, rec)
		return
	}

	if nearURL, sim := s.dupes.nearest(tokens); sim >= s.opts.NearDupThreshold {
		rec.status = types.PageSkippedDuplicate
		rec.errMsg = fmt.Sprintf("near-duplicate of %s (%.0f%% token overlap)", nearURL, sim*100)
		s.recordPage(ctx, rec)
		return
	}

	if rec.quality.Overall < s.opts.QualityThreshold {
		rec.status = types.PageSkippedQuality
		rec.errMsg = fmt.Sprintf("quality %.2f below threshold %.2f", rec.quality.Overall, s.opts.QualityThreshold)
		s.recordPage(ctx, rec)
		return
	}

	if s.dryRun {
		rec.status = types.PageIngested
		s.dupes.add(cand.URL, tokens)
		s.recordPage(ctx, rec)
		return
	}

	docID, err := s.ingestPage(ctx, prior, cand, title, markdown)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		rec.status = types.PageFailed
		rec.errMsg = trimErr(err)
		s.recordPage(ctx, rec)
		return
	}
	rec.status = types.PageIngested
	rec.documentID = docID
	s.dupes.add(cand.URL, tokens)
	s.recordPage(ctx, rec)
}

// ingestPage hands accepted content to ingestion. Re-crawled pages whose
// content changed re-ingest into their existing document; if that document
// is gone, the page falls back to a fresh one.
func (s *Session) ingestPage(ctx context.Context, prior *types.CrawledPage, cand Candidate, title, markdown string) (*uuid.UUID, error) {
	if prior != nil && prior.DocumentID != nil {
		err := s.engine.ingest.Reingest(ctx, *prior.DocumentID, []byte(markdown))
		if err == nil {
			return prior.DocumentID, nil
		}
		if !errors.Is(err, errdefs.ErrNotFound) {
			return nil, err
		}
	}

	doc, _, err := s.engine.ingest.IngestWeb(ctx, ingest.WebPage{
		OrgID:       s.conn.OrgID,
		DomainID:    s.conn.DomainID,
		ConnectorID: s.conn.ID,
		URL:         cand.URL,
		Title:       title,
		Markdown:    markdown,
	})
	if err != nil {
		return nil, err
	}
	return &doc.ID, nil
}

func (s *Session) recordPage(ctx context.Context, rec pageRecord) {
	metrics.ScrapePagesTotal.WithLabelValues(string(rec.status)).Inc()
	s.bumpStats(rec.status)

	if !s.dryRun {
		page := &types.CrawledPage{
			ConnectorID:    s.conn.ID,
			OrgID:          s.conn.OrgID,
			DomainID:       s.conn.DomainID,
			URL:            rec.cand.URL,
			Title:          rec.title,
			Status:         rec.status,
			ErrorMessage:   rec.errMsg,
			WordCount:      rec.words,
			ContentHash:    rec.hash,
			Depth:          rec.cand.Depth,
			Quality:        rec.quality,
			ContentPreview: rec.preview,
			DocumentID:     rec.documentID,
			LastCrawled:    time.Now(),
		}
		if err := s.engine.store.UpsertCrawledPage(ctx, page); err != nil {
			s.logger.Error().Err(err).Str("url", rec.cand.URL).Msg("Failed to record crawled page")
		}
	}

	s.logger.Debug().
		Str("url", rec.cand.URL).
		Str("status", string(rec.status)).
		Int("words", rec.words).
		Float64("quality", rec.quality.Overall).
		Msg("Page processed")

	if st := s.Stats(); st.PagesProcessed%progressEvery == 0 {
		s.publish(events.EventCrawlProgress, fmt.Sprintf("crawled %d of %d pages", st.PagesProcessed, st.PagesDiscovered))
	}
}

// recordBlocked persists a URL that classification rejected so operators
// can see why it never became a document.
func (s *Session) recordBlocked(ctx context.Context, u *url.URL, depth int, reason string) {
	metrics.ScrapePagesTotal.WithLabelValues(string(types.PageBlocked)).Inc()
	if s.dryRun {
		return
	}
	page := &types.CrawledPage{
		ConnectorID:  s.conn.ID,
		OrgID:        s.conn.OrgID,
		DomainID:     s.conn.DomainID,
		URL:          u.String(),
		Status:       types.PageBlocked,
		ErrorMessage: reason,
		Depth:        depth,
		LastCrawled:  time.Now(),
	}
	if err := s.engine.store.UpsertCrawledPage(ctx, page); err != nil {
		s.logger.Error().Err(err).Str("url", u.String()).Msg("Failed to record blocked page")
	}
}

func (s *Session) recordDiscovery(ctx context.Context, u *url.URL, class Classification, depth int, anchor string) {
	s.mu.Lock()
	if len(s.discoveries) < maxDiscoveryReport {
		s.discoveries = append(s.discoveries, DiscoveredURL{
			URL:            u.String(),
			Classification: class,
			Depth:          depth,
			Priority:       scorePriority(u, depth, anchor, s.excludes),
			Anchor:         anchor,
		})
	}
	s.mu.Unlock()

	switch class {
	case ClassBlockedRobots:
		s.recordBlocked(ctx, u, depth, "robots.txt disallows this path")
	case ClassBlockedPattern:
		s.recordBlocked(ctx, u, depth, "matches an exclude pattern")
	}
}

func (s *Session) priorPage(ctx context.Context, pageURL string) *types.CrawledPage {
	page, err := s.engine.store.GetPageByURL(ctx, s.conn.ID, pageURL)
	if err != nil {
		return nil
	}
	return page
}

// exactDuplicate returns the URL already holding this content hash in the
// same domain, if any.
func (s *Session) exactDuplicate(ctx context.Context, pageURL, hash string) string {
	page, err := s.engine.store.GetPageByHash(ctx, s.conn.OrgID, s.conn.DomainID, hash)
	if err != nil || page.URL == pageURL {
		return ""
	}
	return page.URL
}

// Discoveries returns the classified URLs seen so far, capped at
// maxDiscoveryReport.
func (s *Session) Discoveries() []DiscoveredURL {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DiscoveredURL, len(s.discoveries))
	copy(out, s.discoveries)
	return out
}

// Stats returns a snapshot with the throughput rate and estimated
// completion computed on read.
func (s *Session) Stats() types.CrawlStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	if elapsed := time.Since(st.StartedAt); st.PagesProcessed > 0 && elapsed > 0 {
		st.PagesPerMinute = float64(st.PagesProcessed) / elapsed.Minutes()
	}
	if remaining := st.PagesDiscovered - st.PagesProcessed; remaining > 0 && st.PagesPerMinute > 0 && st.State == types.CrawlFetching {
		eta := time.Now().Add(time.Duration(float64(remaining) / st.PagesPerMinute * float64(time.Minute)))
		st.EstimatedDoneAt = &eta
	}
	return st
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stats.State {
	case types.CrawlCompleted, types.CrawlFailed, types.CrawlCancelled:
		return false
	}
	return true
}

func (s *Session) setState(state types.CrawlState) {
	s.mu.Lock()
	s.stats.State = state
	s.mu.Unlock()
}

func (s *Session) setDiscovered(n int) {
	s.mu.Lock()
	if n > s.stats.PagesDiscovered {
		s.stats.PagesDiscovered = n
	}
	s.mu.Unlock()
}

func (s *Session) addBytes(n int64) {
	s.mu.Lock()
	s.stats.BytesFetched += n
	s.mu.Unlock()
}

func (s *Session) bumpStats(status types.PageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PagesProcessed++
	switch status {
	case types.PageIngested:
		s.stats.PagesSucceeded++
	case types.PageFailed:
		s.stats.PagesFailed++
	case types.PageSkippedDuplicate, types.PageSkippedQuality:
		s.stats.PagesSkipped++
	}
}

func (s *Session) publish(eventType events.EventType, message string) {
	if s.engine.broker == nil || s.dryRun {
		return
	}
	st := s.Stats()
	s.engine.broker.Publish(&events.Event{
		Type:    eventType,
		OrgID:   s.conn.OrgID,
		Message: message,
		Metadata: map[string]string{
			"connector_id":     s.conn.ID.String(),
			"domain_id":        s.conn.DomainID.String(),
			"state":            string(st.State),
			"pages_discovered": strconv.Itoa(st.PagesDiscovered),
			"pages_processed":  strconv.Itoa(st.PagesProcessed),
		},
	})
}

// extractContent reduces a page to its main content as markdown. When
// readability finds nothing it falls back to converting the full markup
// and lets quality scoring sort it out.
func extractContent(pageURL string, body []byte) (title, markdown string) {
	base, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), base)
	content := strings.TrimSpace(article.Content)
	title = strings.TrimSpace(article.Title)
	if err != nil || content == "" {
		content = string(body)
	}

	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return title, ""
	}
	return title, strings.TrimSpace(md)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func preview(markdown string) string {
	text := strings.Join(strings.Fields(markdown), " ")
	r := []rune(text)
	if len(r) <= previewChars {
		return text
	}
	return string(r[:previewChars])
}

func trimErr(err error) string {
	msg := err.Error()
	if len(msg) > errMessageCap {
		msg = msg[:errMessageCap]
	}
	return msg
}
