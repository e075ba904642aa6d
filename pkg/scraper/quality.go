package scraper

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tomehq/tome/pkg/types"
)

// Quality scoring weights. The blend favors readable prose over raw size,
// so a short well-structured troubleshooting page outranks a long page of
// navigation soup.
const (
	weightReadability = 0.30
	weightDensity     = 0.20
	weightSemantic    = 0.15
	weightInfo        = 0.20
	weightFreshness   = 0.15
)

var (
	sentenceEndRe = regexp.MustCompile(`[.!?](\s|$)`)
	mdHeadingRe   = regexp.MustCompile(`(?m)^#{1,6}\s`)
	mdListRe      = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s`)
	mdFenceRe     = regexp.MustCompile("(?m)^```")
	wordRe        = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

// scoreQuality rates extracted page content in [0,1] per dimension plus an
// overall blend. rawHTML is the markup the content came from; markdown is
// the extracted main content.
func scoreQuality(rawHTML []byte, markdown string, lastModified time.Time, now time.Time) types.QualityMetrics {
	words := wordRe.FindAllString(markdown, -1)
	q := types.QualityMetrics{
		Readability:      scoreReadability(markdown, len(words)),
		ContentDensity:   scoreDensity(len(markdown), len(rawHTML)),
		SemanticRichness: scoreSemantic(markdown, len(words)),
		InfoDensity:      scoreInfo(words),
		Freshness:        scoreFreshness(lastModified, now),
	}
	q.Overall = clamp01(weightReadability*q.Readability +
		weightDensity*q.ContentDensity +
		weightSemantic*q.SemanticRichness +
		weightInfo*q.InfoDensity +
		weightFreshness*q.Freshness)
	return q
}

// scoreReadability blends how much prose there is with sentence shape:
// average sentence length around 8-25 words scores best, telegraphic link
// lists and run-on walls score low.
func scoreReadability(markdown string, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	volume := clamp01(float64(wordCount) / 300)

	sentences := len(sentenceEndRe.FindAllString(markdown, -1))
	if sentences == 0 {
		return 0.4 * volume
	}
	avg := float64(wordCount) / float64(sentences)
	shape := 1 - abs(avg-16.5)/16.5
	return clamp01(0.6*volume + 0.4*clamp01(shape))
}

// scoreDensity is the text-to-markup ratio. Content pages sit around
// 0.1-0.3; chrome-heavy pages fall well below that.
func scoreDensity(textLen, htmlLen int) float64 {
	if htmlLen == 0 || textLen == 0 {
		return 0
	}
	return clamp01(float64(textLen) / float64(htmlLen) * 4)
}

// scoreSemantic rewards heading and list structure proportional to the
// text it organizes.
func scoreSemantic(markdown string, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	structural := float64(len(mdHeadingRe.FindAllString(markdown, -1))) +
		float64(len(mdListRe.FindAllString(markdown, -1)))/2 +
		float64(len(mdFenceRe.FindAllString(markdown, -1)))/2
	expected := float64(wordCount) / 150
	if expected < 1 {
		expected = 1
	}
	return clamp01(structural / expected)
}

// scoreInfo is the unique-term ratio; boilerplate repeats itself.
func scoreInfo(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
	}
	return clamp01(float64(len(unique)) / float64(len(words)) * 1.5)
}

// scoreFreshness decays with document age; pages without a date signal
// score neutral.
func scoreFreshness(lastModified, now time.Time) float64 {
	if lastModified.IsZero() {
		return 0.5
	}
	age := now.Sub(lastModified)
	if age < 0 {
		age = 0
	}
	const horizon = 2 * 365 * 24 * time.Hour
	return clamp01(1 - 0.9*float64(age)/float64(horizon))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Near-duplicate detection. Token sets are normalized (lowercase, alnum
// runs of three or more characters) and compared with Jaccard similarity,
// which shrugs off reordered sections and template noise.

var dupTokenRe = regexp.MustCompile(`[a-z0-9]{3,}`)

func tokenSet(text string) map[string]struct{} {
	tokens := dupTokenRe.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

type dupeEntry struct {
	url    string
	tokens map[string]struct{}
}

// dupeWindow keeps token sets of the most recently accepted pages so a
// crawl can spot near-duplicates without holding the whole site in memory.
type dupeWindow struct {
	limit int

	mu      sync.Mutex
	entries []dupeEntry
}

func newDupeWindow(limit int) *dupeWindow {
	if limit <= 0 {
		limit = 50
	}
	return &dupeWindow{limit: limit}
}

// nearest returns the window entry most similar to tokens.
func (w *dupeWindow) nearest(tokens map[string]struct{}) (string, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	bestURL, bestSim := "", 0.0
	for _, e := range w.entries {
		if sim := jaccard(tokens, e.tokens); sim > bestSim {
			bestURL, bestSim = e.url, sim
		}
	}
	return bestURL, bestSim
}

// add records an accepted page, evicting the oldest entry once full.
func (w *dupeWindow) add(url string, tokens map[string]struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) >= w.limit {
		w.entries = w.entries[1:]
	}
	w.entries = append(w.entries, dupeEntry{url: url, tokens: tokens})
}
