// Package ai provides clients for the embedding and chat models behind
// ingestion and query answering.
//
// # Overview
//
// Two small interfaces decouple the rest of the system from any provider:
//
//   - Embedder: text -> fixed-dimension vectors (document chunks, queries)
//   - Chatter: conversation -> completion (answer synthesis, workflows)
//
// The shipped implementations speak the OpenAI wire protocol, which most
// hosted and self-hosted model servers expose. Pointing BaseURL at Azure,
// vLLM or Ollama requires no code changes.
//
// # Reliability
//
// Every call runs under the caller's context and retries transient failures
// (rate limits, 5xx, transport errors) with exponential backoff. Auth and
// validation failures are permanent and fail fast. Failures surface as
// external errors so callers can distinguish "their service is down" from
// local bugs.
//
// The embedder validates every returned vector against the pinned dimension
// from configuration. A mismatch means the account's model no longer matches
// what the indexes were built with, and ingestion must stop rather than mix
// incompatible vectors.
//
// # Usage
//
//	embedder := ai.NewOpenAIEmbedder(cfg.Embedding)
//	vectors, err := embedder.Embed(ctx, []string{"chunk one", "chunk two"})
//
//	chat := ai.NewOpenAIChat(cfg.LLM)
//	answer, err := chat.Complete(ctx, ai.ChatRequest{
//		System:   prompt,
//		Messages: history,
//	})
//
// # Integration Points
//
//   - pkg/ingest: embeds chunk batches during document processing
//   - pkg/query: embeds queries and generates cited answers
//   - pkg/workflow: generates intent-specific responses
//   - pkg/cache: stores embeddings keyed by (model, content hash)
package ai
