package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/tomehq/tome/pkg/types"
)

// citationRe matches the [n] markers the model is instructed to emit.
var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// ExtractCitations resolves an answer's [n] markers against the sources the
// model was actually shown. Markers pointing outside the source list are
// fabricated and get stripped; surviving markers become citations, one per
// source, ordered by index. The flag reports factual-looking sentences that
// carry no citation at all.
func ExtractCitations(answer string, sources []types.RetrievalResult) (string, []types.Citation, bool) {
	seen := map[int]bool{}
	var citations []types.Citation

	cleaned := citationRe.ReplaceAllStringFunc(answer, func(marker string) string {
		n, err := strconv.Atoi(marker[1 : len(marker)-1])
		if err != nil || n < 1 || n > len(sources) {
			return ""
		}
		if !seen[n] {
			seen[n] = true
			src := sources[n-1]
			citations = append(citations, types.Citation{
				Index:      n,
				DocumentID: src.DocumentID,
				ChunkID:    src.ChunkID,
				ChunkIndex: src.ChunkIndex,
				Title:      src.Title,
				Snippet:    src.Snippet,
				Score:      src.Score,
			})
		}
		return marker
	})

	sort.Slice(citations, func(i, j int) bool { return citations[i].Index < citations[j].Index })
	return cleaned, citations, hasUncitedClaims(cleaned)
}

// sentenceRe splits prose into rough sentences, keeping the terminator so
// questions stay recognisable.
var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

// hasUncitedClaims reports whether any factual-looking sentence lacks a
// citation marker. The heuristic is deliberately coarse: declarative, and
// either long enough to assert something specific or carrying a number.
func hasUncitedClaims(answer string) bool {
	for _, sentence := range sentenceRe.FindAllString(answer, -1) {
		if citationRe.MatchString(sentence) {
			continue
		}
		if isFactual(sentence) {
			return true
		}
	}
	return false
}

const minFactualWords = 8

// conversationalLeads open sentences that are padding, not claims.
var conversationalLeads = map[string]bool{
	"sure": true, "sorry": true, "thanks": true, "thank": true,
	"hello": true, "hi": true, "yes": true, "no": true, "okay": true,
	"unfortunately": true, "certainly": true, "great": true,
}

func isFactual(sentence string) bool {
	s := strings.TrimSpace(sentence)
	if s == "" || strings.HasSuffix(s, "?") {
		return false
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return false
	}
	lead := strings.ToLower(strings.TrimFunc(words[0], unicode.IsPunct))
	if conversationalLeads[lead] {
		return false
	}
	if len(words) >= minFactualWords {
		return true
	}
	// Short sentences count only when they pin a concrete figure.
	return len(words) >= 4 && strings.ContainsFunc(s, unicode.IsDigit)
}
