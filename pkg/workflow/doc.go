// Package workflow shapes answers per intent: each workflow adjusts the
// synthesis prompt before the model runs and post-processes what comes
// back.
//
// # Overview
//
//	intent ──▶ Router.For ──▶ Workflow
//	                            │ Prepare: instructions + preamble
//	                            ▼
//	                        synthesis (pkg/query)
//	                            │ Post: structure, records, handoff
//	                            ▼
//	                          answer
//
// Bug cross-references the report against the domain's known-issues table
// and parses a probable-cause/suggested-steps structure out of the answer.
// Feature grades the request against the strongest retrieval hit
// (existing, workaround, new) and logs new asks as feature candidates.
// Training renders procedures as explicit step lists, reusing the steps
// and screenshots the chunker extracted at ingest time. Everything else
// passes through General.
//
// Every workflow applies the same handoff rule: an answer whose confidence
// falls below the domain's threshold is flagged for a human instead of
// silently shipped.
//
// # Integration Points
//
//   - pkg/query: calls Prepare around synthesis and Post after citation
//   - pkg/store: known issues, feature candidates (RecordStore)
//   - pkg/api: structured sections and the handoff flag ride the answer
package workflow
