// Package query answers questions against a domain's knowledge base.
//
// # Overview
//
// One call to Pipeline.Answer runs the whole path:
//
//	            ┌───────────┐               ┌───────────────┐
//	 query ───▶ │ authorise │──▶ classify ─▶│ cache ∥ embed │
//	            └───────────┘               │       +search │
//	                                        └──────┬────────┘
//	                           hit ◀───────────────┤
//	                            │                  ▼
//	                            │        floor ▸ widen ▸ pack
//	                            │                  ▼
//	                            │        workflow ▸ synthesise
//	                            │                  ▼
//	                            └──────────▶ cite ▸ persist
//
// Authorisation checks chat:write against the domain's access mode.
// Classification is a rule table of keywords and patterns; its intent
// keys the answer cache, which is probed in parallel with embed+search so
// a miss costs nothing. Retrieval drops hits below the domain's
// similarity floor and widens the search once when too few survive, then
// the best chunks are regrouped in document order and packed into the
// synthesis token budget. The intent workflow shapes the prompt before
// the LLM call and structures the answer after it; [n] markers in the
// answer resolve against the numbered sources into citations.
//
// # Failure semantics
//
// Failure degrades rather than erroring. Zero retrieval yields a fixed
// answer at confidence zero. A failed LLM call yields a listing of the
// retrieved sources with llm_failed set. A client disconnect cancels
// synthesis, but the classification and execution records are written
// regardless, so the audit trail never depends on the client staying
// connected.
//
// # Integration Points
//
//   - pkg/vectorindex: tenant-scoped similarity search, hybrid by default
//   - pkg/ai: query embedding and chat completion
//   - pkg/workflow: per-intent prompt shaping and post-processing
//   - pkg/cache: intent-aware answer cache
//   - pkg/store: sessions, messages, classification and execution records
//   - pkg/api: the chat endpoints and websocket feed call Pipeline.Answer
package query
