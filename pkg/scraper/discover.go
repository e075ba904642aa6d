package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/tomehq/tome/pkg/errdefs"
)

const (
	// discoveryFanout bounds the visited set relative to max_pages so a
	// link-dense site cannot keep discovery walking forever.
	discoveryFanout = 10

	// maxDiscoveryReport caps the classified-URL list kept for operators.
	maxDiscoveryReport = 1000
)

// pageLink is one anchor extracted from a fetched page.
type pageLink struct {
	target *url.URL
	anchor string
}

// assetExts marks URL extensions that are permitted but not page content.
var assetExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".css": true, ".js": true, ".mjs": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".rar": true,
	".exe": true, ".dmg": true, ".pkg": true, ".deb": true, ".rpm": true,
	".mp3": true, ".mp4": true, ".webm": true, ".avi": true, ".mov": true,
	".pdf": true, ".xml": true, ".rss": true, ".atom": true,
}

// parsePage pulls the title and every resolvable anchor out of an HTML
// page. Fragment-only, mailto, javascript, and unparseable hrefs are
// dropped.
func parsePage(base *url.URL, body []byte) (title string, links []pageLink) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", nil
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = strings.TrimSpace(nodeText(n))
				}
			case "a":
				if l, ok := linkFrom(base, n); ok {
					links = append(links, l)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, links
}

func linkFrom(base *url.URL, n *html.Node) (pageLink, bool) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") {
		return pageLink{}, false
	}
	if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
		return pageLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return pageLink{}, false
	}
	target := normalizeURL(base.ResolveReference(ref))
	if target == nil {
		return pageLink{}, false
	}
	return pageLink{target: target, anchor: strings.TrimSpace(nodeText(n))}, true
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// normalizeURL canonicalizes a URL for dedup: lowercased scheme and host,
// no fragment, no trailing slash on non-root paths. Returns nil for
// anything that is not plain http(s).
func normalizeURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	if c.Scheme != "http" && c.Scheme != "https" {
		return nil
	}
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	if len(c.Path) > 1 {
		c.Path = strings.TrimSuffix(c.Path, "/")
	}
	return &c
}

// classify decides what discovery does with one URL. Only crawlable URLs
// are queued; blocked ones are recorded so operators can see why a page
// never appeared.
func (s *Session) classify(u *url.URL) Classification {
	if !s.hosts[u.Host] {
		return ClassExternal
	}
	full := u.String()
	for _, re := range s.excludes {
		if re.MatchString(full) {
			return ClassBlockedPattern
		}
	}
	if !s.robots.Allowed(u) {
		return ClassBlockedRobots
	}
	if assetExts[strings.ToLower(path.Ext(u.Path))] {
		return ClassAllowed
	}
	return ClassCrawlable
}

type queuedPage struct {
	u     *url.URL
	depth int
}

// discoverPhase walks the site breadth-first from the seeds, classifying
// every URL it sees and filling the frontier with crawlable ones. Pages at
// max depth are queued for fetching but not expanded. Cancellation is
// checked before each discovery fetch.
func (s *Session) discoverPhase(ctx context.Context) (*Frontier, error) {
	frontier := NewFrontier(s.opts.MaxPages)
	visited := make(map[string]bool)
	visitCap := s.opts.MaxPages * discoveryFanout

	var queue []queuedPage
	usableSeeds := 0
	for _, raw := range s.opts.SeedURLs {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			s.logger.Warn().Str("url", raw).Msg("Skipping unparseable seed URL")
			continue
		}
		u := normalizeURL(parsed)
		if u == nil || visited[u.String()] {
			continue
		}
		visited[u.String()] = true
		usableSeeds++

		class := s.classify(u)
		s.recordDiscovery(ctx, u, class, 0, "")
		if class != ClassCrawlable {
			continue
		}
		frontier.Push(Candidate{URL: u.String(), Depth: 0, Priority: scorePriority(u, 0, "", s.excludes)})
		queue = append(queue, queuedPage{u: u, depth: 0})
	}
	if usableSeeds == 0 {
		return nil, fmt.Errorf("web connector has no usable seed urls: %w", errdefs.ErrBadRequest)
	}
	s.setDiscovered(frontier.Len())

	// Targeted scrapes fetch exactly the pages they were given.
	if s.noExpand {
		return frontier, nil
	}

	budget := s.opts.MaxPages
	fetched, fetchFailures := 0, 0
	for len(queue) > 0 && budget > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]
		if item.depth >= s.opts.MaxDepth {
			continue
		}
		budget--

		res, err := s.fetcher.Fetch(ctx, item.u.String())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fetchFailures++
			s.logger.Debug().Err(err).Str("url", item.u.String()).Msg("Discovery fetch failed")
			continue
		}
		fetched++
		s.addBytes(res.Bytes)
		if !isHTML(res.ContentType) {
			continue
		}

		_, links := parsePage(item.u, res.Body)
		for _, l := range links {
			key := l.target.String()
			if visited[key] {
				continue
			}
			if len(visited) >= visitCap {
				s.logger.Warn().Int("visited", len(visited)).Msg("Discovery visit cap reached, stopping link expansion")
				queue = nil
				break
			}
			visited[key] = true

			depth := item.depth + 1
			class := s.classify(l.target)
			s.recordDiscovery(ctx, l.target, class, depth, l.anchor)
			if class != ClassCrawlable {
				continue
			}
			admitted := frontier.Push(Candidate{
				URL:      key,
				Depth:    depth,
				Anchor:   l.anchor,
				Priority: scorePriority(l.target, depth, l.anchor, s.excludes),
			})
			if admitted && depth < s.opts.MaxDepth {
				queue = append(queue, queuedPage{u: l.target, depth: depth})
			}
		}
		s.setDiscovered(frontier.Len())
	}

	// A site where no page at all could be fetched fails the crawl outright
	// instead of limping into a fetch phase against a dead server.
	if fetched == 0 && fetchFailures > 0 {
		return nil, errdefs.Scrape(fmt.Errorf("discovery could not fetch any of %d reachable seed pages", fetchFailures), true)
	}
	return frontier, nil
}
