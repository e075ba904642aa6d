package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
)

const (
	fetchMaxBytes  = 4 << 20
	fetchMaxTries  = 3
	renderTimeout  = 30 * time.Second
	slowResponse   = 2 * time.Second
	maxDelayFactor = 16
)

// FetchResult is one successfully fetched page.
type FetchResult struct {
	Body         []byte
	ContentType  string
	StatusCode   int
	Bytes        int64
	Elapsed      time.Duration
	LastModified time.Time
}

// hostState is the politeness state for one remote host: a slot channel
// bounding concurrent requests and a rate limiter spacing them out. The
// delay adapts between base and base*maxDelayFactor as the host's health
// changes.
type hostState struct {
	slots   chan struct{}
	limiter *rate.Limiter

	mu         sync.Mutex
	delay      time.Duration
	base       time.Duration
	respTime   time.Duration
	errStreak  int
	goodStreak int
}

func newHostState(base time.Duration, concurrency int) *hostState {
	if concurrency < 1 {
		concurrency = 1
	}
	return &hostState{
		slots:   make(chan struct{}, concurrency),
		limiter: rate.NewLimiter(limitFor(base), 1),
		delay:   base,
		base:    base,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// observe feeds one request outcome into the adaptive delay. Slow or
// failing hosts are backed off multiplicatively; the delay shrinks again
// only after a sustained run of fast, clean responses.
func (h *hostState) observe(elapsed time.Duration, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.respTime == 0 {
		h.respTime = elapsed
	} else {
		h.respTime = (3*h.respTime + elapsed) / 4
	}

	if failed {
		h.errStreak++
		h.goodStreak = 0
	} else if h.respTime > slowResponse {
		h.goodStreak = 0
	} else {
		h.errStreak = 0
		h.goodStreak++
	}

	before := h.delay
	switch {
	case h.errStreak >= 2 || h.respTime > slowResponse:
		h.delay = h.grow()
	case h.goodStreak >= 5 && h.delay > h.base:
		h.delay = h.shrink()
		h.goodStreak = 0
	}
	if h.delay != before {
		h.limiter.SetLimit(limitFor(h.delay))
	}
}

func (h *hostState) grow() time.Duration {
	next := h.delay + h.delay/2
	if next == 0 {
		return 0
	}
	if ceiling := h.base * maxDelayFactor; next > ceiling {
		return ceiling
	}
	return next
}

func (h *hostState) shrink() time.Duration {
	next := h.delay * 9 / 10
	if next < h.base {
		return h.base
	}
	return next
}

func (h *hostState) currentDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delay
}

// Fetcher downloads pages with per-host politeness: at most `concurrency`
// in-flight requests per host, spaced by an adaptive delay seeded from the
// configured base (or the host's robots crawl-delay when that is longer).
// Transport errors and 5xx responses are retried with backoff; 4xx are
// terminal.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	baseDelay   time.Duration
	concurrency int
	renderJS    bool
	robots      *RobotsCache

	mu     sync.Mutex
	hosts  map[string]*hostState
	logger zerolog.Logger
}

// NewFetcher creates a fetcher. The robots cache supplies per-host
// crawl-delay floors and may be nil.
func NewFetcher(client *http.Client, userAgent string, baseDelay time.Duration, concurrency int, renderJS bool, robots *RobotsCache) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{
		client:      client,
		userAgent:   userAgent,
		baseDelay:   baseDelay,
		concurrency: concurrency,
		renderJS:    renderJS,
		robots:      robots,
		hosts:       make(map[string]*hostState),
		logger:      log.WithComponent("fetcher"),
	}
}

func (f *Fetcher) hostFor(u *url.URL) *hostState {
	f.mu.Lock()
	h, ok := f.hosts[u.Host]
	f.mu.Unlock()
	if ok {
		return h
	}

	// Resolve the robots crawl-delay outside the lock; it may fetch.
	base := f.baseDelay
	if f.robots != nil {
		if declared := f.robots.CrawlDelay(u); declared > base {
			base = declared
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.hosts[u.Host]; ok {
		return existing
	}
	h = newHostState(base, f.concurrency)
	f.hosts[u.Host] = h
	return h
}

// Fetch downloads one page, honoring the host's politeness budget. The
// returned error is terminal: retryable failures have already been retried.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*FetchResult, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", pageURL, errdefs.ErrBadRequest)
	}

	host := f.hostFor(u)
	select {
	case host.slots <- struct{}{}:
		defer func() { <-host.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := host.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	permanent := false
	operation := func() (*FetchResult, error) {
		res, err := f.doFetch(ctx, pageURL)
		if ctx.Err() == nil {
			host.observe(elapsedOf(res), err != nil)
		}
		if err != nil {
			var terminal *terminalFetchError
			if errors.As(err, &terminal) {
				permanent = true
				return nil, backoff.Permanent(terminal.err)
			}
			return nil, err
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(fetchMaxTries),
	)
	if err != nil {
		return nil, errdefs.Scrape(fmt.Errorf("fetch %s: %w", pageURL, err), !permanent)
	}

	if f.renderJS && isHTML(res.ContentType) {
		if rendered, rerr := f.render(ctx, pageURL); rerr == nil {
			res.Body = rendered
		} else {
			f.logger.Warn().Err(rerr).Str("url", pageURL).Msg("Headless render failed, keeping raw markup")
		}
	}
	return res, nil
}

// terminalFetchError marks a response that retrying cannot fix.
type terminalFetchError struct {
	err error
}

func (e *terminalFetchError) Error() string { return e.err.Error() }

func (f *Fetcher) doFetch(ctx context.Context, pageURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &terminalFetchError{err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	metrics.ScrapeFetchDuration.Observe(elapsed.Seconds())

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &terminalFetchError{err: fmt.Errorf("client error %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	res := &FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		Bytes:       int64(len(body)),
		Elapsed:     elapsed,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			res.LastModified = t
		}
	}
	return res, nil
}

// render loads the page in headless Chrome and returns the DOM after
// scripts have run. The plain HTTP response still supplies status and
// headers; only the body is replaced.
func (f *Fetcher) render(ctx context.Context, pageURL string) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, renderTimeout)
	defer cancelTimeout()

	var out string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &out, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", pageURL, err)
	}
	return []byte(out), nil
}

func isHTML(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mt == "" || mt == "text/html" || mt == "application/xhtml+xml"
}

func elapsedOf(res *FetchResult) time.Duration {
	if res == nil {
		return slowResponse
	}
	return res.Elapsed
}
