package framework

import (
	"context"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// SessionOrdered asserts that the messages form a strict user/assistant
// alternation with strictly increasing sequence numbers. Interleavings
// like user, user, assistant, assistant fail.
func (a *Assertions) SessionOrdered(msgs []*types.Message) {
	a.t.Helper()

	if len(msgs)%2 != 0 {
		a.t.Fatalf("Session holds %d messages, expected user/assistant pairs", len(msgs))
	}
	lastSeq := 0
	for i, msg := range msgs {
		if msg.Seq <= lastSeq {
			a.t.Fatalf("Message %d has seq %d after seq %d, order is not strict", i, msg.Seq, lastSeq)
		}
		lastSeq = msg.Seq

		want := types.MessageUser
		if i%2 == 1 {
			want = types.MessageAssistant
		}
		if msg.Type != want {
			a.t.Fatalf("Message %d (seq %d) is %s, expected %s", i, msg.Seq, msg.Type, want)
		}
	}
}

// CitationsResolve asserts that every citation in the answer points at a
// source the pipeline actually retrieved for it.
func (a *Assertions) CitationsResolve(ans *query.Answer) {
	a.t.Helper()

	sources := map[uuid.UUID]bool{}
	for _, src := range ans.Sources {
		sources[src.ChunkID] = true
	}
	for _, cit := range ans.Citations {
		if cit.Index < 1 || cit.Index > len(ans.Sources) {
			a.t.Fatalf("Citation [%d] is out of range, answer has %d sources", cit.Index, len(ans.Sources))
		}
		if !sources[cit.ChunkID] {
			a.t.Fatalf("Citation [%d] references chunk %s the pipeline never retrieved", cit.Index, cit.ChunkID)
		}
	}
}

// FileListedOnce asserts the document appears exactly once in its domain's
// file listing.
func (a *Assertions) FileListedOnce(ctx context.Context, c *Client, domainID, docID uuid.UUID) {
	a.t.Helper()

	docs, _, err := c.ListFiles(ctx, domainID, "", 0, 0)
	if err != nil {
		a.t.Fatalf("Failed to list files in domain %s: %v", domainID, err)
	}
	seen := 0
	for _, doc := range docs {
		if doc.ID == docID {
			seen++
		}
	}
	if seen != 1 {
		a.t.Fatalf("Document %s appears %d times in the listing, expected exactly once", docID, seen)
	}
}
