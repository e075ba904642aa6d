package framework

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// SitePage is one page served by a stub site.
type SitePage struct {
	Title string
	// Body is the main content; blank lines split paragraphs.
	Body string
	// Links are site-relative paths rendered as anchors, e.g. "/docs/a".
	Links []string
}

// Site is a stub website for crawl tests: a loopback HTTP server with a
// fixed page map, an optional robots.txt, and a per-path hit counter so
// tests can assert which URLs were actually fetched.
type Site struct {
	mu     sync.Mutex
	pages  map[string]SitePage
	robots string
	hits   map[string]int
	srv    *httptest.Server
}

// NewSite starts a site serving the given pages, keyed by path.
func NewSite(pages map[string]SitePage) *Site {
	s := &Site{
		pages: pages,
		hits:  map[string]int{},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// SetRobots installs a robots.txt body. Without one the site serves 404
// for it, which crawlers read as allow-all.
func (s *Site) SetRobots(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robots = body
}

// URL returns the absolute URL of a path on the site.
func (s *Site) URL(path string) string {
	return s.srv.URL + path
}

// Hits reports how many times a path was fetched.
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Close shuts the site down.
func (s *Site) Close() {
	s.srv.Close()
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	page, ok := s.pages[r.URL.Path]
	robots := s.robots
	s.mu.Unlock()

	if r.URL.Path == "/robots.txt" {
		if robots == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, robots)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head><title>")
	sb.WriteString(html.EscapeString(page.Title))
	sb.WriteString("</title></head>\n<body>\n<article>\n<h1>")
	sb.WriteString(html.EscapeString(page.Title))
	sb.WriteString("</h1>\n")
	for _, para := range strings.Split(page.Body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(para))
		sb.WriteString("</p>\n")
	}
	if len(page.Links) > 0 {
		sb.WriteString("<ul>\n")
		for _, link := range page.Links {
			fmt.Fprintf(&sb, `<li><a href="%s">%s</a></li>`+"\n",
				html.EscapeString(link), html.EscapeString(strings.Trim(link, "/")))
		}
		sb.WriteString("</ul>\n")
	}
	sb.WriteString("</article>\n</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, sb.String())
}
