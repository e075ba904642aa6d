package vectorindex

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/types"
)

// Item is one indexed vector together with the payload returned at search
// time. OrgID and DomainID travel with the item so scope can be verified
// inside the index, not only by the caller.
type Item struct {
	ID         uuid.UUID           `json:"id"`
	DocumentID uuid.UUID           `json:"document_id"`
	OrgID      uuid.UUID           `json:"organization_id"`
	DomainID   uuid.UUID           `json:"domain_id"`
	ChunkIndex int                 `json:"chunk_index"`
	Content    string              `json:"content"`
	Metadata   types.ChunkMetadata `json:"metadata"`
	Vector     []float32           `json:"vector"`
}

// Filter narrows a search or delete to a subset of a tenant's vectors.
// Keywords switches Search into hybrid mode: candidates are also scored by
// keyword presence and the two scores are blended.
type Filter struct {
	DocumentIDs []uuid.UUID
	Keywords    []string
}

// Result is one search hit. Similarity is cosine similarity in [-1, 1] for
// pure vector search; in hybrid mode it is the blended score.
type Result struct {
	Item       Item
	Similarity float64
}

// Stats describes one tenant's slice of the index
type Stats struct {
	VectorCount int       `json:"vector_count"`
	Dimension   int       `json:"dimension"`
	LastUpdated time.Time `json:"last_updated"`
}

// Weights blends vector and keyword scores in hybrid mode
type Weights struct {
	Vector  float64
	Keyword float64
}

// DefaultWeights is the hybrid blend used when the config does not override
var DefaultWeights = Weights{Vector: 0.7, Keyword: 0.3}

// Index is the vector index contract. One logical index exists per
// (org, domain) pair; every call is scoped to exactly one pair and never
// observes another tenant's vectors.
type Index interface {
	// Upsert inserts or replaces items by ID. The batch is atomic: a
	// dimension mismatch on any item rejects the whole batch.
	Upsert(ctx context.Context, orgID, domainID uuid.UUID, items []Item) error

	// Delete removes items matching the filter; an empty filter removes the
	// tenant's entire slice. Returns the number removed.
	Delete(ctx context.Context, orgID, domainID uuid.UUID, filter Filter) (int, error)

	// Search returns the top-k items by cosine similarity, descending, ties
	// broken by insertion order.
	Search(ctx context.Context, orgID, domainID uuid.UUID, vector []float32, k int, filter *Filter) ([]Result, error)

	// Stats reports the tenant's vector count and freshness
	Stats(ctx context.Context, orgID, domainID uuid.UUID) (Stats, error)
}

// ItemFromChunk converts a persisted chunk into its index representation
func ItemFromChunk(c *types.Chunk) Item {
	return Item{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		OrgID:      c.OrgID,
		DomainID:   c.DomainID,
		ChunkIndex: c.Index,
		Content:    c.Content,
		Metadata:   c.Metadata,
		Vector:     c.Embedding,
	}
}

// Normalize returns a unit-length copy of v. A zero vector normalizes to a
// zero vector, which scores 0 against everything.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineSimilarity computes the cosine of the angle between a and b without
// assuming either is normalised. Mismatched lengths score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// dotProduct assumes both vectors are already normalised
func dotProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// keywordScore is the fraction of keywords present in content,
// case-insensitive substring match
func keywordScore(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
