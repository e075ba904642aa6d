package query

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/tomehq/tome/pkg/cache"
	"github.com/tomehq/tome/pkg/types"
)

// Rule scores one intent. Keywords are matched word-aligned against the
// normalised query (lower-cased, punctuation stripped; write them in that
// form); patterns run against the raw text and carry more weight.
type Rule struct {
	Intent   types.Intent
	Keywords []string
	Patterns []*regexp.Regexp
}

// Verdict is the classifier's output for one query.
type Verdict struct {
	Intent     types.Intent `json:"intent"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
}

// Scoring: every keyword hit and pattern hit adds to the rule's score; the
// best-scoring rule wins and its score maps onto a confidence band. A query
// hitting nothing falls through to general_query.
const (
	keywordWeight      = 0.15
	patternWeight      = 0.25
	baseConfidence     = 0.30
	maxConfidence      = 0.95
	fallbackConfidence = 0.30
)

// defaultRules is the built-in intent table. Order matters: on a score tie
// the earlier rule wins. Contractions ("doesn't", "can't") are covered by
// patterns because normalisation splits them.
var defaultRules = []Rule{
	{
		Intent: types.IntentBugReport,
		Keywords: []string{
			"error", "bug", "crash", "crashes", "crashed", "broken", "breaks",
			"fails", "failed", "failure", "exception", "freezes", "frozen",
			"stuck", "not working", "stopped working", "no longer works",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(crash|fail|break|hang|freeze)\w*\b.{0,40}\bwhen\b`),
			regexp.MustCompile(`(?i)\b(doesn'?t|won'?t|can'?t|isn'?t) (work|load|start|open|save|connect)`),
			regexp.MustCompile(`(?i)\bsteps to reproduce\b`),
			regexp.MustCompile(`(?i)\berror (code|message|\d{3})\b`),
			regexp.MustCompile(`(?i)\b(stack ?trace|segfault|panic|timed? ?out)\b`),
		},
	},
	{
		Intent: types.IntentFeatureRequest,
		Keywords: []string{
			"feature", "enhancement", "roadmap", "missing", "lacks",
			"please add", "add support", "would be nice", "would love",
			"feature request", "any plans",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(could|can|would) (you|we) (please )?(add|support|include|implement)\b`),
			regexp.MustCompile(`(?i)\bit would be (nice|great|helpful|useful)\b`),
			regexp.MustCompile(`(?i)\b(wish|hope) (it|you|there)\b`),
			regexp.MustCompile(`(?i)\bis there a way to\b.{0,60}\b(instead|without)\b`),
		},
	},
	{
		Intent: types.IntentTraining,
		Keywords: []string{
			"how to", "how do i", "how can i", "tutorial", "guide",
			"walkthrough", "getting started", "step by step", "configure",
			"install", "set up", "setup", "instructions",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(how|where) (do|can|would|should) (i|we|you)\b`),
			regexp.MustCompile(`(?i)\bshow me how\b`),
			regexp.MustCompile(`(?i)\bwhat('s| is) the (best |right )?way to\b`),
			regexp.MustCompile(`(?i)\bwalk me through\b`),
		},
	},
}

// Classifier routes queries to intents with a transparent scoring table.
// It is deliberately not a model call: classification sits on the hot path
// of every query and must stay fast, cheap, and explainable.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier. With no rules given the built-in
// table is used; passing rules replaces it entirely.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = defaultRules
	}
	return &Classifier{rules: rules}
}

// Classify scores the query against every rule and returns the winner.
// Queries matching no rule are general_query at fallback confidence.
func (c *Classifier) Classify(query string) Verdict {
	norm := " " + cache.NormalizeQuery(query) + " "

	best := Verdict{
		Intent:     types.IntentGeneralQuery,
		Confidence: fallbackConfidence,
		Reasoning:  "no intent signals matched",
	}
	bestScore := 0.0
	for _, rule := range c.rules {
		score, hits := rule.match(query, norm)
		if score > bestScore {
			bestScore = score
			best = Verdict{
				Intent:     rule.Intent,
				Confidence: math.Min(maxConfidence, baseConfidence+score),
				Reasoning:  strings.Join(hits, ", "),
			}
		}
	}
	return best
}

func (r Rule) match(raw, norm string) (float64, []string) {
	var score float64
	var hits []string
	for _, kw := range r.Keywords {
		if strings.Contains(norm, " "+kw+" ") {
			score += keywordWeight
			hits = append(hits, fmt.Sprintf("keyword %q", kw))
		}
	}
	for _, p := range r.Patterns {
		if p.MatchString(raw) {
			score += patternWeight
			hits = append(hits, fmt.Sprintf("pattern %q", p.String()))
		}
	}
	return score, hits
}
