package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// featureCategory is the workflow's judgement of a request.
type featureCategory string

const (
	featureExisting   featureCategory = "existing"
	featureWorkaround featureCategory = "workaround"
	featureNew        featureCategory = "new"
)

// Categorisation thresholds on the best retrieval score: a strong hit
// means the capability is documented, a middling one means something close
// enough to work around with.
const (
	existingScore   = 0.75
	workaroundScore = 0.50
)

// candidateTitleChars bounds the logged candidate's title.
const candidateTitleChars = 80

const featureInstructions = "The user is asking for a capability. Answer according to what the sources show: " +
	"if it exists, point them at it; if something close exists, describe the workaround honestly; " +
	"if nothing matches, say so plainly and note that the request has been logged for the product team."

// Feature categorises the request against what the corpus already covers
// and records genuinely new asks for triage.
type Feature struct {
	store  store.RecordStore
	logger zerolog.Logger
}

// NewFeature creates the feature-request workflow.
func NewFeature(st store.RecordStore) *Feature {
	return &Feature{store: st, logger: log.WithComponent("workflow")}
}

func (f *Feature) Prepare(ctx context.Context, req *Request) (*PromptPlan, error) {
	return &PromptPlan{Instructions: featureInstructions}, nil
}

// Post records a feature candidate when nothing in the corpus came close,
// and surfaces the category either way.
func (f *Feature) Post(ctx context.Context, resp *Response) error {
	applyHandoff(resp)

	category := categorize(resp.Results)
	resp.Structured = map[string]any{"category": string(category)}
	if category != featureNew || resp.LLMFailed {
		return nil
	}

	candidate := &types.FeatureCandidate{
		ID:          uuid.New(),
		OrgID:       resp.OrgID,
		DomainID:    resp.DomainID,
		Title:       candidateTitle(resp.Query),
		Description: resp.Query,
		Query:       resp.Query,
		Status:      "new",
		CreatedAt:   time.Now(),
	}
	if err := f.store.CreateFeatureCandidate(ctx, candidate); err != nil {
		f.logger.Warn().Err(err).Str("domain_id", resp.DomainID.String()).Msg("Failed to record feature candidate")
		return nil
	}
	resp.Structured["feature_candidate_id"] = candidate.ID.String()
	return nil
}

// categorize grades the request by the strongest retrieval hit. No hits at
// all means the corpus has nothing: a new candidate.
func categorize(results []types.RetrievalResult) featureCategory {
	top := 0.0
	for _, r := range results {
		if r.Score > top {
			top = r.Score
		}
	}
	switch {
	case top >= existingScore:
		return featureExisting
	case top >= workaroundScore:
		return featureWorkaround
	default:
		return featureNew
	}
}

func candidateTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= candidateTitleChars {
		return query
	}
	return string(runes[:candidateTitleChars])
}
