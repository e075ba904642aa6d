package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

func TestRouterRoutesIntents(t *testing.T) {
	r := NewRouter(store.NewMemory())

	assert.IsType(t, &Bug{}, r.For(types.IntentBugReport))
	assert.IsType(t, &Feature{}, r.For(types.IntentFeatureRequest))
	assert.IsType(t, Training{}, r.For(types.IntentTraining))
	assert.IsType(t, General{}, r.For(types.IntentGeneralQuery))
	assert.IsType(t, General{}, r.For(types.Intent("unheard-of")), "unknown intents fall back to pass-through")
}

func TestGeneralPassThrough(t *testing.T) {
	ctx := context.Background()

	plan, err := General{}.Prepare(ctx, &Request{Query: "anything"})
	assert.NoError(t, err)
	assert.Empty(t, plan.Instructions)
	assert.Empty(t, plan.Preamble)

	resp := &Response{Confidence: 0.9, Threshold: 0.5}
	assert.NoError(t, General{}.Post(ctx, resp))
	assert.False(t, resp.Handoff)
	assert.Nil(t, resp.Structured)
}

func TestApplyHandoff(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		threshold  float64
		want       bool
	}{
		{"below threshold", 0.3, 0.5, true},
		{"above threshold", 0.7, 0.5, false},
		{"exactly at threshold", 0.5, 0.5, false},
		{"zero threshold disables", 0.0, 0.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &Response{Confidence: tc.confidence, Threshold: tc.threshold}
			applyHandoff(resp)
			assert.Equal(t, tc.want, resp.Handoff)
		})
	}
}

func TestTokenSet(t *testing.T) {
	set := tokenSet("The export CRASHES, doesn't it?")
	assert.True(t, set["the"])
	assert.True(t, set["export"])
	assert.True(t, set["crashes"], "tokens are lower-cased")
	assert.False(t, set["it"], "short tokens drop")
	assert.False(t, set["doesn't"], "punctuation splits before tokenising")
	assert.Empty(t, tokenSet(""))
}

func TestOverlapCoefficient(t *testing.T) {
	a := tokenSet("export crashes timeout")
	b := tokenSet("export crashes timeout")
	assert.InDelta(t, 1.0, overlapCoefficient(a, b), 1e-9)

	c := tokenSet("billing invoice quarterly")
	assert.Zero(t, overlapCoefficient(a, c))

	// A subset scores 1 against its superset: the smaller side is the
	// denominator.
	small := tokenSet("export crashes")
	large := tokenSet("export crashes timeout large document")
	assert.InDelta(t, 1.0, overlapCoefficient(small, large), 1e-9)

	assert.Zero(t, overlapCoefficient(nil, a))
}

func TestAsStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, asStrings([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, asStrings([]any{"a", "b", 7}), "non-strings drop")
	assert.Nil(t, asStrings("not a list"))
	assert.Nil(t, asStrings(nil))
}
