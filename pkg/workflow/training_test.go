package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/types"
)

func TestExtractSteps(t *testing.T) {
	answer := strings.Join([]string{
		"To reset the connector:",
		"1. Open settings [1]",
		"2) Click reset",
		"Step 3: Confirm the dialog",
		"- Wait for the restart",
		"That is all it takes.",
	}, "\n")

	got := extractSteps(answer)
	assert.Equal(t, []string{
		"Open settings",
		"Click reset",
		"Confirm the dialog",
		"Wait for the restart",
	}, got)
}

func TestExtractStepsCapped(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= maxTrainingSteps+5; i++ {
		fmt.Fprintf(&sb, "%d. step number %d\n", i, i)
	}
	assert.Len(t, extractSteps(sb.String()), maxTrainingSteps)
}

func TestExtractStepsPlainProse(t *testing.T) {
	assert.Empty(t, extractSteps("Open settings and click reset, then confirm."))
}

func TestMetadataSteps(t *testing.T) {
	results := []types.RetrievalResult{
		{Metadata: map[string]any{"steps": []string{"Open settings", "Click reset"}}},
		{Metadata: nil},
		// The JSON round-trip shape, overlapping with the first chunk.
		{Metadata: map[string]any{"steps": []any{"Click reset", "Confirm the dialog"}}},
	}

	got := metadataSteps(results)
	assert.Equal(t, []string{"Open settings", "Click reset", "Confirm the dialog"}, got)
}

func TestVisualRefs(t *testing.T) {
	results := []types.RetrievalResult{
		{Title: "guide.md", Metadata: map[string]any{"images": []string{"a.png", "b.png"}}},
		{Title: "faq.md"},
		{Title: "appendix.md", Metadata: map[string]any{"images": []string{"c.png", "d.png", "e.png"}}},
	}

	refs := visualRefs(results)
	require.Len(t, refs, 2)

	assert.Equal(t, 1, refs[0]["source_index"])
	assert.Equal(t, "guide.md", refs[0]["title"])
	assert.Equal(t, []string{"a.png", "b.png"}, refs[0]["images"])

	// The third source's list is cut to fit the overall cap.
	assert.Equal(t, 3, refs[1]["source_index"])
	assert.Equal(t, []string{"c.png", "d.png"}, refs[1]["images"])
}

func TestTrainingPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("documented steps lead the prompt", func(t *testing.T) {
		plan, err := Training{}.Prepare(ctx, &Request{Results: []types.RetrievalResult{
			{Metadata: map[string]any{"steps": []string{"Open settings", "Click reset"}}},
		}})
		require.NoError(t, err)
		assert.Equal(t, trainingInstructions, plan.Instructions)
		assert.Equal(t, "Documented procedure steps:\n- Open settings\n- Click reset", plan.Preamble)
	})

	t.Run("no step metadata", func(t *testing.T) {
		plan, err := Training{}.Prepare(ctx, &Request{Results: []types.RetrievalResult{{Content: "prose"}}})
		require.NoError(t, err)
		assert.Empty(t, plan.Preamble)
	})
}

func TestTrainingPost(t *testing.T) {
	ctx := context.Background()

	t.Run("answer list wins over metadata", func(t *testing.T) {
		resp := &Response{
			Answer: "1. From the answer",
			Results: []types.RetrievalResult{
				{Metadata: map[string]any{"steps": []string{"From the metadata"}}},
			},
			Confidence: 0.8, Threshold: 0.5,
		}
		require.NoError(t, Training{}.Post(ctx, resp))
		require.NotNil(t, resp.Structured)
		assert.Equal(t, []string{"From the answer"}, resp.Structured["steps"])
	})

	t.Run("metadata fills in for prose answers", func(t *testing.T) {
		resp := &Response{
			Answer: "Just open settings and reset from there.",
			Results: []types.RetrievalResult{
				{Title: "guide.md", Metadata: map[string]any{
					"steps":  []string{"Open settings", "Click reset"},
					"images": []string{"reset.png"},
				}},
			},
		}
		require.NoError(t, Training{}.Post(ctx, resp))
		require.NotNil(t, resp.Structured)
		assert.Equal(t, []string{"Open settings", "Click reset"}, resp.Structured["steps"])
		refs, ok := resp.Structured["visual_references"].([]map[string]any)
		require.True(t, ok)
		require.Len(t, refs, 1)
		assert.Equal(t, []string{"reset.png"}, refs[0]["images"])
	})

	t.Run("degraded answer keeps handoff only", func(t *testing.T) {
		resp := &Response{Answer: "1. anything", LLMFailed: true, Confidence: 0.2, Threshold: 0.5}
		require.NoError(t, Training{}.Post(ctx, resp))
		assert.Nil(t, resp.Structured)
		assert.True(t, resp.Handoff)
	})

	t.Run("nothing to structure", func(t *testing.T) {
		resp := &Response{Answer: "Plain prose with no lists at all."}
		require.NoError(t, Training{}.Post(ctx, resp))
		assert.Nil(t, resp.Structured)
	})
}
