package framework

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomehq/tome/pkg/ai"
)

// StubEmbedder maps every text to the same unit vector, so anything in the
// index matches any query with similarity one. Retrieval tests then assert
// on tenancy and ranking mechanics rather than embedding quality.
type StubEmbedder struct{ dim int }

// NewStubEmbedder creates a stub embedder of the given dimension.
func NewStubEmbedder(dim int) *StubEmbedder { return &StubEmbedder{dim: dim} }

func (e *StubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (e *StubEmbedder) Model() string { return "stub-embed-1" }

func (e *StubEmbedder) Dimension() int { return e.dim }

// StubChatter plays a scripted reply for every completion call and records
// the requests it saw. FailWith switches it into an outage until the next
// SetReply, which is how the degraded-answer path is exercised end to end.
type StubChatter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []ai.ChatRequest
}

// NewStubChatter creates a chatter scripted with the given reply.
func NewStubChatter(reply string) *StubChatter {
	return &StubChatter{reply: reply}
}

// SetReply scripts the next answers and clears any scripted failure.
func (c *StubChatter) SetReply(reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = reply
	c.err = nil
}

// FailWith makes every completion call return err until SetReply is called.
func (c *StubChatter) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls reports how many completion calls the chatter has served.
func (c *StubChatter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// LastRequest returns the most recent completion request, or false when the
// chatter was never called. Tests use it to assert on prompt contents.
func (c *StubChatter) LastRequest() (ai.ChatRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ai.ChatRequest{}, false
	}
	return c.requests[len(c.requests)-1], true
}

func (c *StubChatter) Complete(_ context.Context, req ai.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// CompleteStream emits the scripted reply in two fragments before returning
// the whole text, matching the contract real streaming backends honour.
func (c *StubChatter) CompleteStream(_ context.Context, req ai.ChatRequest, onDelta func(string) error) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	reply, err := c.reply, c.err
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	half := len(reply) / 2
	for _, part := range []string{reply[:half], reply[half:]} {
		if part == "" {
			continue
		}
		if err := onDelta(part); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// StubObjects is an in-memory object store standing in for the blob layer.
type StubObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewStubObjects creates an empty in-memory object store.
func NewStubObjects() *StubObjects {
	return &StubObjects{objects: map[string][]byte{}}
}

func (b *StubObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *StubObjects) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (b *StubObjects) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// Len reports how many objects are stored.
func (b *StubObjects) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
