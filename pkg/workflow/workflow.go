package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/cache"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// Request is what a workflow sees before synthesis: the classified query
// and the context chunks selected for the prompt.
type Request struct {
	OrgID      uuid.UUID
	DomainID   uuid.UUID
	Query      string
	Intent     types.Intent
	Confidence float64
	Results    []types.RetrievalResult
}

// PromptPlan shapes the synthesis call for one intent.
type PromptPlan struct {
	// Instructions are appended to the system prompt.
	Instructions string
	// Preamble is injected ahead of the numbered sources, e.g. a matched
	// known issue with its stored resolution.
	Preamble string
}

// Response is the post-synthesis hook's working set. Post may rewrite
// Answer, attach structured sections, and raise Handoff; the pipeline
// carries all three into the final answer.
type Response struct {
	OrgID      uuid.UUID
	DomainID   uuid.UUID
	Query      string
	Intent     types.Intent
	Answer     string
	Confidence float64
	Threshold  float64
	Results    []types.RetrievalResult
	LLMFailed  bool
	Handoff    bool
	Structured map[string]any
}

// Workflow shapes one intent's prompt and post-processing. Implementations
// must tolerate partial context: Prepare may see zero results and Post may
// see a degraded answer.
type Workflow interface {
	Prepare(ctx context.Context, req *Request) (*PromptPlan, error)
	Post(ctx context.Context, resp *Response) error
}

// Router maps intents to workflows, falling back to general pass-through
// for anything unrouted.
type Router struct {
	workflows map[types.Intent]Workflow
	general   Workflow
}

// NewRouter wires the built-in workflows against the record store.
func NewRouter(st store.RecordStore) *Router {
	return &Router{
		workflows: map[types.Intent]Workflow{
			types.IntentBugReport:      NewBug(st),
			types.IntentFeatureRequest: NewFeature(st),
			types.IntentTraining:       Training{},
		},
		general: General{},
	}
}

// For returns the workflow handling the intent.
func (r *Router) For(intent types.Intent) Workflow {
	if wf, ok := r.workflows[intent]; ok {
		return wf
	}
	return r.general
}

// General is the pass-through workflow: no prompt shaping, no structure,
// just the handoff check every intent shares.
type General struct{}

func (General) Prepare(ctx context.Context, req *Request) (*PromptPlan, error) {
	return &PromptPlan{}, nil
}

func (General) Post(ctx context.Context, resp *Response) error {
	applyHandoff(resp)
	return nil
}

// applyHandoff raises the handoff flag when the answer's confidence falls
// below the domain threshold. A zero threshold disables handoff.
func applyHandoff(resp *Response) {
	if resp.Threshold > 0 && resp.Confidence < resp.Threshold {
		resp.Handoff = true
	}
}

// tokenSet normalises text into its significant word set for the overlap
// measures the bug and feature workflows run.
func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(cache.NormalizeQuery(text)) {
		if len(tok) >= 3 {
			set[tok] = true
		}
	}
	return set
}

// overlapCoefficient measures |a ∩ b| / min(|a|, |b|), which stays robust
// when one side is much wordier than the other.
func overlapCoefficient(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	hits := 0
	for tok := range small {
		if large[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(small))
}

// asStrings tolerates both in-process []string metadata and the []any
// shape it takes after a JSON round-trip.
func asStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
