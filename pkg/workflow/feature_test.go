package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

func TestCategorize(t *testing.T) {
	scored := func(scores ...float64) []types.RetrievalResult {
		out := make([]types.RetrievalResult, len(scores))
		for i, s := range scores {
			out[i] = types.RetrievalResult{Score: s}
		}
		return out
	}

	cases := []struct {
		name    string
		results []types.RetrievalResult
		want    featureCategory
	}{
		{"strong hit means it exists", scored(0.3, 0.9), featureExisting},
		{"existing boundary", scored(existingScore), featureExisting},
		{"middling hit is a workaround", scored(0.6), featureWorkaround},
		{"workaround boundary", scored(workaroundScore), featureWorkaround},
		{"weak hits are new", scored(0.2, 0.1), featureNew},
		{"no hits are new", nil, featureNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, categorize(tc.results))
		})
	}
}

func TestFeaturePostRecordsNewCandidate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	feature := NewFeature(st)
	orgID, domainID := uuid.New(), uuid.New()

	resp := &Response{
		OrgID: orgID, DomainID: domainID,
		Query:      "Please add support for exporting to CSV",
		Results:    []types.RetrievalResult{{Score: 0.2}},
		Confidence: 0.3, Threshold: 0.5,
	}
	require.NoError(t, feature.Post(ctx, resp))

	assert.True(t, resp.Handoff)
	assert.Equal(t, "new", resp.Structured["category"])

	candidates, err := st.ListFeatureCandidates(ctx, orgID, domainID, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, resp.Query, candidates[0].Title)
	assert.Equal(t, resp.Query, candidates[0].Description)
	assert.Equal(t, "new", candidates[0].Status)
	assert.Equal(t, candidates[0].ID.String(), resp.Structured["feature_candidate_id"])
}

func TestFeaturePostSkipsDocumentedCapabilities(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	feature := NewFeature(st)
	orgID, domainID := uuid.New(), uuid.New()

	resp := &Response{
		OrgID: orgID, DomainID: domainID,
		Query:      "Can you add CSV export?",
		Results:    []types.RetrievalResult{{Score: 0.8}},
		Confidence: 0.8, Threshold: 0.5,
	}
	require.NoError(t, feature.Post(ctx, resp))

	assert.Equal(t, "existing", resp.Structured["category"])
	assert.NotContains(t, resp.Structured, "feature_candidate_id")

	candidates, err := st.ListFeatureCandidates(ctx, orgID, domainID, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates, "documented capabilities are not logged as candidates")
}

func TestFeaturePostSkipsDegradedAnswers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	feature := NewFeature(st)
	orgID, domainID := uuid.New(), uuid.New()

	resp := &Response{
		OrgID: orgID, DomainID: domainID,
		Query: "Add dark mode", LLMFailed: true,
		Results: []types.RetrievalResult{{Score: 0.1}},
	}
	require.NoError(t, feature.Post(ctx, resp))

	assert.Equal(t, "new", resp.Structured["category"], "the category is still surfaced")
	candidates, err := st.ListFeatureCandidates(ctx, orgID, domainID, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates, "degraded runs do not log candidates")
}

func TestCandidateTitleTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	assert.Len(t, []rune(candidateTitle(long)), candidateTitleChars)
	assert.Equal(t, "short ask", candidateTitle("short ask"))
}
