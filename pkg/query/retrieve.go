package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/ai"
	"github.com/tomehq/tome/pkg/cache"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
)

const (
	// minKeep is the result count under which the search widens once.
	minKeep = 3

	// widenFactor multiplies k on the second attempt. Widening only helps
	// in hybrid mode, where keyword blending can lift a deep candidate
	// over the floor; in pure vector mode deeper results score lower.
	widenFactor = 2

	// snippetChars bounds the preview text carried on each result.
	snippetChars = 200

	// maxSearchKeywords caps the hybrid keyword list per query.
	maxSearchKeywords = 8
)

// Retrieval is the outcome of the retrieve stage.
type Retrieval struct {
	Results  []types.RetrievalResult
	Widened  bool
	EmbedMS  int64
	SearchMS int64
}

// Retriever embeds a query and searches one tenant's slice of the vector
// index, resolving hits into results a prompt can number.
type Retriever struct {
	embedder ai.Embedder
	index    vectorindex.Index
	docs     store.DocumentStore
	k        int
	logger   zerolog.Logger
}

// NewRetriever creates a retriever. k is the first-pass result count; zero
// or negative falls back to 20.
func NewRetriever(embedder ai.Embedder, index vectorindex.Index, docs store.DocumentStore, k int) *Retriever {
	if k <= 0 {
		k = 20
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		docs:     docs,
		k:        k,
		logger:   log.WithComponent("query"),
	}
}

// Retrieve embeds the query and returns the chunks above the similarity
// floor, best first. When fewer than minKeep survive and the index had
// more to give, the search widens once. Hybrid mode blends keyword
// presence into the score.
func (r *Retriever) Retrieve(ctx context.Context, orgID, domainID uuid.UUID, query string, floor float64, mode types.SearchMode) (*Retrieval, error) {
	embedStart := time.Now()
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	out := &Retrieval{EmbedMS: time.Since(embedStart).Milliseconds()}

	var filter *vectorindex.Filter
	if mode != types.SearchVector {
		if kws := searchKeywords(query); len(kws) > 0 {
			filter = &vectorindex.Filter{Keywords: kws}
		}
	}

	searchStart := time.Now()
	hits, err := r.index.Search(ctx, orgID, domainID, vectors[0], r.k, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	kept := aboveFloor(hits, floor)
	if len(kept) < minKeep && len(hits) == r.k {
		hits, err = r.index.Search(ctx, orgID, domainID, vectors[0], r.k*widenFactor, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to widen search: %w", err)
		}
		kept = aboveFloor(hits, floor)
		out.Widened = true
	}
	out.SearchMS = time.Since(searchStart).Milliseconds()

	out.Results = r.resolve(ctx, kept)
	return out, nil
}

func aboveFloor(hits []vectorindex.Result, floor float64) []vectorindex.Result {
	out := make([]vectorindex.Result, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= floor {
			out = append(out, h)
		}
	}
	return out
}

// resolve converts index hits into retrieval results, looking up document
// titles once per document. A hit whose document vanished mid-flight keeps
// an empty title rather than failing the query.
func (r *Retriever) resolve(ctx context.Context, hits []vectorindex.Result) []types.RetrievalResult {
	titles := make(map[uuid.UUID]string, len(hits))
	out := make([]types.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		title, ok := titles[h.Item.DocumentID]
		if !ok {
			title = r.documentTitle(ctx, h.Item.OrgID, h.Item.DocumentID)
			titles[h.Item.DocumentID] = title
		}
		out = append(out, types.RetrievalResult{
			DocumentID: h.Item.DocumentID,
			ChunkID:    h.Item.ID,
			ChunkIndex: h.Item.ChunkIndex,
			Title:      title,
			Snippet:    snippet(h.Item.Content),
			Content:    h.Item.Content,
			Score:      h.Similarity,
			Metadata:   resultMetadata(h.Item.Metadata),
		})
	}
	return out
}

func (r *Retriever) documentTitle(ctx context.Context, orgID, docID uuid.UUID) string {
	doc, err := r.docs.GetDocument(ctx, orgID, docID)
	if err != nil {
		r.logger.Debug().Err(err).Str("document_id", docID.String()).Msg("Result document not resolvable")
		return ""
	}
	return doc.Filename
}

func resultMetadata(m types.ChunkMetadata) map[string]any {
	out := map[string]any{}
	if m.Page > 0 {
		out["page"] = m.Page
	}
	if m.Anchor != "" {
		out["anchor"] = m.Anchor
	}
	if m.Heading != "" {
		out["heading"] = m.Heading
	}
	if len(m.Steps) > 0 {
		out["steps"] = m.Steps
	}
	if len(m.Images) > 0 {
		out["images"] = m.Images
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// snippet trims content to a word-aligned preview.
func snippet(content string) string {
	return truncate(strings.Join(strings.Fields(content), " "), snippetChars)
}

// truncate cuts s at a word boundary near limit runes, appending an
// ellipsis when anything was dropped.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// stopwords are excluded from hybrid search keywords.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "how": true, "what": true, "when": true, "where": true,
	"which": true, "with": true, "this": true, "that": true, "does": true,
	"doesnt": true, "dont": true, "cant": true, "wont": true, "why": true,
	"who": true, "will": true, "would": true, "could": true, "should": true,
	"there": true, "their": true, "about": true, "after": true, "before": true,
	"from": true, "into": true, "some": true, "them": true, "then": true,
	"than": true, "please": true, "its": true, "any": true, "also": true,
}

// searchKeywords extracts the query terms worth keyword-matching: normalised
// tokens of three or more characters, stopwords dropped, first occurrence
// order, capped.
func searchKeywords(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range strings.Fields(cache.NormalizeQuery(query)) {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == maxSearchKeywords {
			break
		}
	}
	return out
}

// defaultContextTokens is the synthesis budget when the config leaves it
// unset.
const defaultContextTokens = 3000

// BuildContext orders results for the prompt: highest score first, with
// adjacent chunks of the same document pulled together in reading order,
// filled greedily until roughly budgetTokens of content. The first chunk
// is always admitted so a single oversized chunk still yields context.
func BuildContext(results []types.RetrievalResult, budgetTokens int) []types.RetrievalResult {
	if len(results) == 0 {
		return nil
	}
	if budgetTokens <= 0 {
		budgetTokens = defaultContextTokens
	}

	sorted := make([]types.RetrievalResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	// Position lookup per document for adjacency sweeps.
	byDoc := make(map[uuid.UUID]map[int]int)
	for i, res := range sorted {
		chunks := byDoc[res.DocumentID]
		if chunks == nil {
			chunks = make(map[int]int)
			byDoc[res.DocumentID] = chunks
		}
		chunks[res.ChunkIndex] = i
	}

	// Each unvisited result anchors a group and sweeps its contiguous
	// chunk-index neighbours in. The anchor is the group's best score, so
	// groups come out already ordered by relevance.
	used := make([]bool, len(sorted))
	var groups [][]types.RetrievalResult
	for i, res := range sorted {
		if used[i] {
			continue
		}
		used[i] = true
		members := []types.RetrievalResult{res}
		for idx := res.ChunkIndex - 1; ; idx-- {
			j, ok := byDoc[res.DocumentID][idx]
			if !ok || used[j] {
				break
			}
			used[j] = true
			members = append([]types.RetrievalResult{sorted[j]}, members...)
		}
		for idx := res.ChunkIndex + 1; ; idx++ {
			j, ok := byDoc[res.DocumentID][idx]
			if !ok || used[j] {
				break
			}
			used[j] = true
			members = append(members, sorted[j])
		}
		groups = append(groups, members)
	}

	out := make([]types.RetrievalResult, 0, len(sorted))
	remaining := budgetTokens
	for _, members := range groups {
		for _, m := range members {
			cost := estimateTokens(m.Content)
			if cost > remaining && len(out) > 0 {
				continue
			}
			out = append(out, m)
			remaining -= cost
		}
		if remaining <= 0 {
			break
		}
	}
	return out
}

// estimateTokens mirrors the chunker's rough chars-per-token ratio so the
// context budget and chunk sizes speak the same unit.
func estimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
