package scraper

import (
	"container/heap"
	"net/url"
	"regexp"
	"sort"
)

// Classification is the verdict discovery reaches for one URL. Only
// crawlable URLs enter the frontier; allowed URLs are permitted by every
// rule but point at non-page assets we do not fetch.
type Classification string

const (
	ClassCrawlable      Classification = "crawlable"
	ClassAllowed        Classification = "allowed"
	ClassExternal       Classification = "external"
	ClassBlockedPattern Classification = "blocked_by_pattern"
	ClassBlockedRobots  Classification = "blocked_by_robots"
)

// DiscoveredURL is one classified URL from the discovery walk.
type DiscoveredURL struct {
	URL            string         `json:"url"`
	Classification Classification `json:"classification"`
	Depth          int            `json:"depth"`
	Priority       float64        `json:"priority"`
	Anchor         string         `json:"anchor,omitempty"`
}

// Candidate is one URL queued for the fetch phase.
type Candidate struct {
	URL      string
	Depth    int
	Anchor   string
	Priority float64
}

// better orders candidates for fetching: higher priority first, ties to the
// shallower page, then lexicographic URL so runs are deterministic.
func better(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.URL < b.URL
}

// Frontier is a bounded priority queue of fetch candidates. When full, a
// better candidate evicts the current worst, so discovery can keep walking
// a large site while only the strongest max_pages URLs survive to fetch.
type Frontier struct {
	limit int
	items candidateHeap
	seen  map[string]bool
}

// NewFrontier creates a frontier holding at most limit candidates.
func NewFrontier(limit int) *Frontier {
	if limit <= 0 {
		limit = 1
	}
	return &Frontier{limit: limit, seen: make(map[string]bool)}
}

// Push offers a candidate and reports whether it was admitted. URLs already
// offered are rejected, as is anything worse than the current worst once
// the frontier is full.
func (f *Frontier) Push(c Candidate) bool {
	if f.seen[c.URL] {
		return false
	}
	f.seen[c.URL] = true

	if f.items.Len() < f.limit {
		heap.Push(&f.items, c)
		return true
	}
	if better(f.items[0], c) {
		return false
	}
	f.items[0] = c
	heap.Fix(&f.items, 0)
	return true
}

// Len returns the number of queued candidates.
func (f *Frontier) Len() int { return f.items.Len() }

// Drain empties the frontier and returns its candidates best-first.
func (f *Frontier) Drain() []Candidate {
	out := make([]Candidate, len(f.items))
	copy(out, f.items)
	f.items = nil
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// candidateHeap is a min-heap with the worst candidate at the root, which
// makes capped eviction a root replacement.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// URL priority scoring. Documentation-shaped paths outrank generic pages,
// which outrank blog posts and dated archives; anchor text that reads like
// an onboarding link boosts its target.
var (
	docPathRe    = regexp.MustCompile(`(?i)/(docs?|documentation|guides?|tutorials?|api|help|faq|reference|manual|kb|knowledge-?base|support)(/|$)`)
	blogPathRe   = regexp.MustCompile(`(?i)/(blog|news|press|changelog|archive)(/|$)`)
	datedPathRe  = regexp.MustCompile(`/(19|20)\d{2}/(0?[1-9]|1[0-2])(/|$)`)
	anchorHintRe = regexp.MustCompile(`(?i)getting started|quick\s?start|how to|install|set\s?up|user guide|tutorial|first steps`)
)

const (
	scoreBase         = 0.5
	scoreDocBoost     = 0.3
	scoreAnchorBoost  = 0.1
	scoreBlogPenalty  = 0.2
	scoreDatedPenalty = 0.15
	scoreDepthStep    = 0.02
	scoreExcluded     = -1.0
)

// scorePriority ranks a URL for fetch order. Exclude-pattern matches score
// below everything that could ever be fetched.
func scorePriority(u *url.URL, depth int, anchor string, excludes []*regexp.Regexp) float64 {
	full := u.String()
	for _, re := range excludes {
		if re.MatchString(full) {
			return scoreExcluded
		}
	}

	s := scoreBase
	if docPathRe.MatchString(u.Path) {
		s += scoreDocBoost
	}
	if blogPathRe.MatchString(u.Path) {
		s -= scoreBlogPenalty
	}
	if datedPathRe.MatchString(u.Path) {
		s -= scoreDatedPenalty
	}
	if anchor != "" && anchorHintRe.MatchString(anchor) {
		s += scoreAnchorBoost
	}
	return s - float64(depth)*scoreDepthStep
}
