package workflow

import (
	"context"
	"regexp"
	"strings"

	"github.com/tomehq/tome/pkg/types"
)

const trainingInstructions = "The user wants to learn a procedure. Answer as a numbered step list in " +
	"execution order, one action per step, in the order the sources document it. Mention the relevant " +
	"screenshots where the sources include them."

// Step-list bounds for the structured section.
const (
	maxTrainingSteps = 15
	maxVisualRefs    = 4
)

// trainingStepRe matches numbered and bulleted list lines, tolerating a
// "Step N:" prefix.
var trainingStepRe = regexp.MustCompile(`^\s*(?:[Ss]tep\s+\d{1,2}\s*[:.)]|\d{1,2}[.)]|[-*•])\s+(.+?)\s*$`)

// Training turns procedural answers into explicit step lists, reusing the
// step structure extracted at ingest time when the chunks carry it.
type Training struct{}

// Prepare surfaces documented procedure steps ahead of the sources so the
// model keeps the canonical order.
func (Training) Prepare(ctx context.Context, req *Request) (*PromptPlan, error) {
	plan := &PromptPlan{Instructions: trainingInstructions}
	if steps := metadataSteps(req.Results); len(steps) > 0 {
		var sb strings.Builder
		sb.WriteString("Documented procedure steps:\n")
		for _, step := range steps {
			sb.WriteString("- ")
			sb.WriteString(step)
			sb.WriteString("\n")
		}
		plan.Preamble = strings.TrimRight(sb.String(), "\n")
	}
	return plan, nil
}

// Post extracts the final step list, from the answer itself or else from
// chunk metadata, and attaches visual references where the sources carry
// images.
func (Training) Post(ctx context.Context, resp *Response) error {
	applyHandoff(resp)
	if resp.LLMFailed {
		return nil
	}

	steps := extractSteps(resp.Answer)
	if len(steps) == 0 {
		steps = metadataSteps(resp.Results)
	}
	visuals := visualRefs(resp.Results)

	if len(steps) == 0 && len(visuals) == 0 {
		return nil
	}
	structured := map[string]any{}
	if len(steps) > 0 {
		structured["steps"] = steps
	}
	if len(visuals) > 0 {
		structured["visual_references"] = visuals
	}
	resp.Structured = structured
	return nil
}

// extractSteps collects the answer's list items in order.
func extractSteps(answer string) []string {
	var steps []string
	for _, line := range strings.Split(answer, "\n") {
		m := trainingStepRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		steps = append(steps, stripMarkers(m[1]))
		if len(steps) == maxTrainingSteps {
			break
		}
	}
	return steps
}

// metadataSteps merges the step lists the chunker extracted at ingest
// time, deduplicated, in result order.
func metadataSteps(results []types.RetrievalResult) []string {
	var steps []string
	seen := map[string]bool{}
	for _, r := range results {
		if r.Metadata == nil {
			continue
		}
		for _, step := range asStrings(r.Metadata["steps"]) {
			if seen[step] {
				continue
			}
			seen[step] = true
			steps = append(steps, step)
			if len(steps) == maxTrainingSteps {
				return steps
			}
		}
	}
	return steps
}

// visualRefs collects image references from the results, capped. Each ref
// names its source so the answer can point at the right screenshot.
func visualRefs(results []types.RetrievalResult) []map[string]any {
	var refs []map[string]any
	total := 0
	for i, r := range results {
		if r.Metadata == nil {
			continue
		}
		images := asStrings(r.Metadata["images"])
		if len(images) == 0 {
			continue
		}
		if total+len(images) > maxVisualRefs {
			images = images[:maxVisualRefs-total]
		}
		refs = append(refs, map[string]any{
			"source_index": i + 1,
			"title":        r.Title,
			"images":       images,
		})
		total += len(images)
		if total >= maxVisualRefs {
			break
		}
	}
	return refs
}
