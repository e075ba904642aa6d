package scraper

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/tomehq/tome/pkg/log"
)

const robotsMaxBytes = 512 << 10

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache fetches each host's robots.txt once and answers path checks
// from the parsed result until the entry expires. A missing file (4xx)
// allows everything; a server error or unreachable host disallows
// everything until the next refresh, which is the conventional reading.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu      sync.RWMutex
	entries map[string]robotsEntry
	flight  singleflight.Group
	logger  zerolog.Logger
}

// NewRobotsCache creates a cache whose entries expire after ttl.
func NewRobotsCache(client *http.Client, userAgent string, ttl time.Duration) *RobotsCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		entries:   make(map[string]robotsEntry),
		logger:    log.WithComponent("robots"),
	}
}

// Allowed reports whether the host's robots.txt permits fetching u.
func (rc *RobotsCache) Allowed(u *url.URL) bool {
	data := rc.lookup(u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), rc.userAgent)
}

// CrawlDelay returns the delay the host's robots.txt declares for our
// agent, or zero when it declares none.
func (rc *RobotsCache) CrawlDelay(u *url.URL) time.Duration {
	data := rc.lookup(u)
	if data == nil {
		return 0
	}
	if group := data.FindGroup(rc.userAgent); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (rc *RobotsCache) lookup(u *url.URL) *robotstxt.RobotsData {
	host := u.Host

	rc.mu.RLock()
	entry, ok := rc.entries[host]
	rc.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < rc.ttl {
		return entry.data
	}

	// Concurrent lookups for the same host share one fetch.
	v, _, _ := rc.flight.Do(host, func() (any, error) {
		data := rc.fetch(u)
		rc.mu.Lock()
		rc.entries[host] = robotsEntry{data: data, fetchedAt: time.Now()}
		rc.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (rc *RobotsCache) fetch(u *url.URL) *robotstxt.RobotsData {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequest(http.MethodGet, robotsURL, nil)
	if err != nil {
		return mustRobots(http.StatusNotFound)
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		rc.logger.Warn().Err(err).Str("host", u.Host).Msg("Robots fetch failed, treating host as disallowed")
		return mustRobots(http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		rc.logger.Warn().Err(err).Str("host", u.Host).Msg("Robots read failed, treating host as disallowed")
		return mustRobots(http.StatusServiceUnavailable)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		rc.logger.Warn().Err(err).Str("host", u.Host).Msg("Robots parse failed, treating host as open")
		return mustRobots(http.StatusNotFound)
	}
	return data
}

// mustRobots synthesizes an allow-all (4xx) or disallow-all (5xx) ruleset.
func mustRobots(status int) *robotstxt.RobotsData {
	data, err := robotstxt.FromStatusAndBytes(status, nil)
	if err != nil || data == nil {
		return &robotstxt.RobotsData{}
	}
	return data
}
