package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
)

// Embedder turns text into fixed-dimension vectors. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the embedding model; cached vectors are keyed by it.
	Model() string

	// Dimension is the vector length the model produces.
	Dimension() int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Requests
// are batched by the caller (pkg/ingest batches chunks); each call is
// retried with exponential backoff on retryable failures.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	maxTries  uint
}

// NewOpenAIEmbedder creates an embedder from configuration. BaseURL may
// point at any OpenAI-compatible server (Azure, vLLM, Ollama).
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		maxTries:  4,
	}
}

// Model returns the configured model id.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimension returns the pinned vector dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Embed embeds texts in one request. Vectors are validated against the
// pinned dimension; a mismatch means the configuration is wrong and is not
// retryable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	operation := func() ([][]float32, error) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if !isRetryableAPIError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(resp.Data) != len(texts) {
			return nil, backoff.Permanent(fmt.Errorf("embedding service returned %d vectors for %d inputs", len(resp.Data), len(texts)))
		}

		vectors := make([][]float32, len(texts))
		for _, d := range resp.Data {
			v := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				v[i] = float32(f)
			}
			if len(v) != e.dimension {
				return nil, backoff.Permanent(fmt.Errorf("model %s produced %d-dimensional vector, config pins %d: %w",
					e.model, len(v), e.dimension, errdefs.ErrIntegrity))
			}
			vectors[d.Index] = v
		}
		return vectors, nil
	}

	vectors, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.maxTries),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		if errors.Is(err, errdefs.ErrIntegrity) {
			return nil, err
		}
		return nil, errdefs.Embedding(err, isRetryableAPIError(err))
	}
	return vectors, nil
}

// isRetryableAPIError reports whether an OpenAI API error is transient.
// Rate limits and server errors are; auth and validation errors are not.
func isRetryableAPIError(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	// Transport-level failures (connection reset, timeout) have no status
	// and are worth retrying unless the context is done.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
