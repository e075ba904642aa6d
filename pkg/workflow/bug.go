package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// issueMatchThreshold is the minimum token overlap between the report and
// a known issue's title+symptoms for the issue to count as the probable
// cause.
const issueMatchThreshold = 0.35

// probeResults is how many top chunks join the query when matching known
// issues; they ground the report in the corpus vocabulary.
const probeResults = 2

const bugInstructions = "The user is reporting a problem. Structure the answer as a diagnosis: " +
	"open with the probable cause under a 'Probable cause:' line, then numbered suggested steps. " +
	"When a matched known issue is given, prefer its stored resolution over speculation."

// Bug cross-references the report against the domain's known-issues table
// and steers the model toward a structured diagnosis.
type Bug struct {
	store  store.RecordStore
	logger zerolog.Logger
}

// NewBug creates the bug-report workflow.
func NewBug(st store.RecordStore) *Bug {
	return &Bug{store: st, logger: log.WithComponent("workflow")}
}

// Prepare loads the domain's known issues and, when one overlaps the
// report strongly enough, prepends it with its stored resolution. A
// failing issue lookup degrades to plain diagnosis instructions.
func (b *Bug) Prepare(ctx context.Context, req *Request) (*PromptPlan, error) {
	plan := &PromptPlan{Instructions: bugInstructions}

	issues, err := b.store.ListKnownIssues(ctx, req.OrgID, req.DomainID)
	if err != nil {
		b.logger.Warn().Err(err).Str("domain_id", req.DomainID.String()).Msg("Failed to load known issues")
		return plan, nil
	}
	if issue, score := matchIssue(req.Query, req.Results, issues); issue != nil {
		b.logger.Debug().Str("issue", issue.Title).Float64("score", score).Msg("Matched known issue")
		plan.Preamble = fmt.Sprintf("Matched known issue: %s\nSymptoms: %s\nStored resolution: %s",
			issue.Title, issue.Symptoms, issue.Resolution)
	}
	return plan, nil
}

// Post parses the diagnosis structure out of the answer and applies the
// handoff check.
func (b *Bug) Post(ctx context.Context, resp *Response) error {
	applyHandoff(resp)
	if resp.LLMFailed {
		return nil
	}
	cause, steps := parseDiagnosis(resp.Answer)
	if cause == "" && len(steps) == 0 {
		return nil
	}
	structured := map[string]any{}
	if cause != "" {
		structured["probable_cause"] = cause
	}
	if len(steps) > 0 {
		structured["suggested_steps"] = steps
	}
	resp.Structured = structured
	return nil
}

// matchIssue returns the best-overlapping known issue above the threshold.
// The probe is the query's tokens joined with the top chunks', so a terse
// report still matches an issue phrased in the docs' vocabulary.
func matchIssue(query string, results []types.RetrievalResult, issues []*types.KnownIssue) (*types.KnownIssue, float64) {
	if len(issues) == 0 {
		return nil, 0
	}
	probe := tokenSet(query)
	for i, r := range results {
		if i == probeResults {
			break
		}
		for tok := range tokenSet(r.Snippet) {
			probe[tok] = true
		}
	}

	var best *types.KnownIssue
	bestScore := 0.0
	for _, issue := range issues {
		score := overlapCoefficient(probe, tokenSet(issue.Title+" "+issue.Symptoms))
		if score > bestScore {
			bestScore = score
			best = issue
		}
	}
	if bestScore < issueMatchThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

var (
	causeLineRe = regexp.MustCompile(`(?i)^#{0,3}\s*\**probable cause\**\s*[:.]?\s*(.*)$`)
	stepLineRe  = regexp.MustCompile(`^\s*(?:\d{1,2}[.)]|[-*•])\s+(.+?)\s*$`)
)

// maxDiagnosisSteps bounds how much list the structured section repeats.
const maxDiagnosisSteps = 10

// parseDiagnosis pulls the probable cause and suggested steps out of a
// diagnosis-shaped answer. Best effort: an answer the model shaped some
// other way yields empty results, not an error.
func parseDiagnosis(answer string) (string, []string) {
	var cause string
	var steps []string

	lines := strings.Split(answer, "\n")
	for i, line := range lines {
		if cause == "" {
			if m := causeLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				cause = strings.TrimSpace(m[1])
				if cause == "" {
					// Heading form: the cause is the next non-empty line.
					for _, next := range lines[i+1:] {
						next = strings.TrimSpace(next)
						if next == "" {
							continue
						}
						if !stepLineRe.MatchString(next) {
							cause = next
						}
						break
					}
				}
				continue
			}
		}
		if m := stepLineRe.FindStringSubmatch(line); m != nil && len(steps) < maxDiagnosisSteps {
			steps = append(steps, stripMarkers(m[1]))
		}
	}
	return stripMarkers(cause), steps
}

// stripMarkers drops citation markers from extracted structure; the
// citations list already carries them.
func stripMarkers(s string) string {
	return strings.TrimSpace(citationMarkerRe.ReplaceAllString(s, ""))
}

var citationMarkerRe = regexp.MustCompile(`\s*\[\d{1,3}\]`)
