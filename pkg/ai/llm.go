package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation sent to the model.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest describes a single completion call. Model, Temperature and
// MaxTokens override the client defaults when set, which lets each domain
// carry its own generation settings.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Chatter produces a completion for a conversation. Implementations must be
// safe for concurrent use.
type Chatter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// StreamChatter is a Chatter that can also deliver the completion
// incrementally. onDelta is called once per content fragment in order; the
// returned string is the full assistant text, so callers persist the same
// content whether or not they streamed it.
type StreamChatter interface {
	Chatter
	CompleteStream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error)
}

// OpenAIChat calls an OpenAI-compatible chat completions endpoint.
type OpenAIChat struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	maxTries    uint
}

// NewOpenAIChat creates a chat client from configuration.
func NewOpenAIChat(cfg config.LLMConfig) *OpenAIChat {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIChat{
		client:      openai.NewClient(opts...),
		model:       cfg.DefaultModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxTries:    3,
	}
}

// params resolves request overrides against the client defaults and converts
// the conversation into the SDK's message union.
func (c *OpenAIChat) params(req ChatRequest) openai.ChatCompletionNewParams {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	temperature := c.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
}

// Complete sends the conversation and returns the assistant text. Transient
// failures are retried; the caller's context bounds the whole attempt.
func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	params := c.params(req)

	operation := func() (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if !isRetryableAPIError(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", errors.New("model returned empty completion")
		}
		return content, nil
	}

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(90*time.Second),
	)
	if err != nil {
		return "", errdefs.LLM(err, isRetryableAPIError(err))
	}
	return content, nil
}

// CompleteStream sends the conversation and forwards content fragments to
// onDelta as they arrive. Connection failures before the first fragment are
// retried like Complete; once output has reached the caller a retry would
// duplicate it, so mid-stream errors are returned as-is.
func (c *OpenAIChat) CompleteStream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error) {
	params := c.params(req)

	var sent bool
	operation := func() (string, error) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			sent = true
			if err := onDelta(delta); err != nil {
				return "", backoff.Permanent(err)
			}
		}
		if err := stream.Err(); err != nil {
			if sent || !isRetryableAPIError(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if len(acc.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		content := strings.TrimSpace(acc.Choices[0].Message.Content)
		if content == "" {
			return "", errors.New("model returned empty completion")
		}
		return content, nil
	}

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(90*time.Second),
	)
	if err != nil {
		return "", errdefs.LLM(err, isRetryableAPIError(err))
	}
	return content, nil
}
