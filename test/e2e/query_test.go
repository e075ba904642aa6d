package e2e

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/test/framework"
)

const uploadRunbook = `# Upload limits

File uploads pass through the ingestion gateway, which enforces a
30 second request timeout by default. Large files often need longer
than that on slow links, so the timeout is configurable per workspace.

To raise the limit, open the workspace settings and set the upload
timeout to 120 seconds. Uploads interrupted by the timeout are safe to
retry; partially written objects are discarded on failure.`

// TestBugReportWorkflow sends a symptom description through chat and
// expects the bug workflow to classify it, surface the matching known
// issue in the prompt, and return a cited answer with a structured
// diagnosis.
func TestBugReportWorkflow(t *testing.T) {
	env, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "support")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	doc, err := owner.UploadText(ctx, domain.ID, "uploads.md", uploadRunbook)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := waiter.WaitForDocument(ctx, owner, doc.ID, types.DocumentReady); err != nil {
		t.Fatalf("Document never became ready: %v", err)
	}

	issue := &types.KnownIssue{
		ID:         uuid.New(),
		OrgID:      owner.Org.ID,
		DomainID:   domain.ID,
		Title:      "File upload timeout",
		Symptoms:   "Large file uploads fail after 30 seconds",
		Resolution: "Increase the upload timeout to 120 seconds in the workspace settings",
	}
	if err := env.Store.CreateKnownIssue(ctx, issue); err != nil {
		t.Fatalf("Failed to seed known issue: %v", err)
	}

	env.Chatter.SetReply("Your uploads stop at the 30 second mark because the gateway cuts the request there [1].\n\n" +
		"Probable cause: the workspace upload timeout is lower than large transfers need [1].\n\n" +
		"1. Open the workspace settings and raise the upload timeout to 120 seconds [1].\n" +
		"2. Retry the upload once the new limit is active [1].")

	ans, err := owner.Chat(ctx, domain.ID, uuid.Nil, "My large uploads time out after 30 seconds")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if ans.Intent != types.IntentBugReport {
		t.Fatalf("Query classified as %s, expected %s", ans.Intent, types.IntentBugReport)
	}
	if ans.Confidence < 0.5 {
		t.Fatalf("Answer confidence %.2f, expected at least 0.5", ans.Confidence)
	}
	if len(ans.Citations) == 0 {
		t.Fatalf("Answer carries no citations")
	}
	assert.CitationsResolve(ans)

	cause, ok := ans.Structured["probable_cause"].(string)
	if !ok || cause == "" {
		t.Fatalf("Answer carries no probable cause, structured fields: %#v", ans.Structured)
	}
	if !strings.Contains(strings.ToLower(cause), "timeout") {
		t.Fatalf("Probable cause %q does not mention the timeout", cause)
	}
	steps, ok := ans.Structured["suggested_steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("Expected 2 suggested steps, structured fields: %#v", ans.Structured)
	}

	// The known issue must have reached the model, not just the store.
	req, ok := env.Chatter.LastRequest()
	if !ok {
		t.Fatalf("The model was never called")
	}
	prompt := req.System
	for _, m := range req.Messages {
		prompt += "\n" + m.Content
	}
	if !strings.Contains(prompt, "Matched known issue: File upload timeout") {
		t.Fatalf("Prompt does not reference the matched known issue")
	}
	if !strings.Contains(prompt, issue.Resolution) {
		t.Fatalf("Prompt does not carry the stored resolution")
	}
}

// TestSessionOrderingUnderConcurrency fires chat turns at one session in
// parallel and verifies the transcript stays strictly alternating with
// no interleaved pairs.
func TestSessionOrderingUnderConcurrency(t *testing.T) {
	_, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	doc, err := owner.UploadText(ctx, domain.ID, "billing.md", billingGuide)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := waiter.WaitForDocument(ctx, owner, doc.ID, types.DocumentReady); err != nil {
		t.Fatalf("Document never became ready: %v", err)
	}

	first, err := owner.Chat(ctx, domain.ID, uuid.Nil, "When are invoices issued?")
	if err != nil {
		t.Fatalf("First chat failed: %v", err)
	}
	session := first.SessionID
	if session == uuid.Nil {
		t.Fatalf("First chat did not open a session")
	}

	questions := []string{
		"What happens when a payment fails?",
		"How does annual billing renew?",
	}
	errs := make(chan error, len(questions))
	for _, q := range questions {
		go func(q string) {
			_, err := owner.Chat(ctx, domain.ID, session, q)
			errs <- err
		}(q)
	}
	for range questions {
		if err := <-errs; err != nil {
			t.Fatalf("Concurrent chat failed: %v", err)
		}
	}

	msgs, err := owner.ListMessages(ctx, session, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("Session holds %d messages, expected 6", len(msgs))
	}
	assert.SessionOrdered(msgs)

	asked := map[string]bool{}
	for _, m := range msgs {
		if m.Type == types.MessageUser {
			asked[m.Content] = true
		}
	}
	for _, q := range append([]string{"When are invoices issued?"}, questions...) {
		if !asked[q] {
			t.Fatalf("User turn %q was dropped from the transcript", q)
		}
	}

	sessions, err := owner.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	var found *types.ChatSession
	for _, s := range sessions {
		if s.ID == session {
			found = s
		}
	}
	if found == nil {
		t.Fatalf("Session %s missing from the listing", session)
	}
	if found.MessageCount != 6 {
		t.Fatalf("Session counter reads %d, expected 6", found.MessageCount)
	}
}

// TestGracefulLLMFailure takes the model down and expects chat to keep
// answering with retrieved sources at zero confidence instead of
// returning an error.
func TestGracefulLLMFailure(t *testing.T) {
	env, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	doc, err := owner.UploadText(ctx, domain.ID, "billing.md", billingGuide)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := waiter.WaitForDocument(ctx, owner, doc.ID, types.DocumentReady); err != nil {
		t.Fatalf("Document never became ready: %v", err)
	}

	env.Chatter.FailWith(errors.New("model overloaded"))

	ans, err := owner.Chat(ctx, domain.ID, uuid.Nil, "When are invoices issued?")
	if err != nil {
		t.Fatalf("Chat should degrade on model failure, got error: %v", err)
	}
	if !ans.LLMFailed {
		t.Fatalf("Answer does not report the model failure")
	}
	if ans.Confidence != 0 {
		t.Fatalf("Degraded answer confidence %.2f, expected 0", ans.Confidence)
	}
	if len(ans.Sources) == 0 {
		t.Fatalf("Degraded answer lost its sources")
	}
	if !strings.Contains(ans.Content, "unavailable") {
		t.Fatalf("Degraded answer %q does not say the model is unavailable", ans.Content)
	}
	if len(ans.Citations) == 0 {
		t.Fatalf("Degraded answer carries no citations")
	}
	assert.CitationsResolve(ans)

	execs, err := env.Store.ListExecutions(ctx, owner.Org.ID, domain.ID, 10)
	if err != nil {
		t.Fatalf("Failed to list executions: %v", err)
	}
	var rec *types.RAGExecution
	for _, e := range execs {
		if e.LLMFailed {
			rec = e
		}
	}
	if rec == nil {
		t.Fatalf("No execution record marks the model failure")
	}
	if rec.Confidence != 0 {
		t.Fatalf("Execution record confidence %.2f, expected 0", rec.Confidence)
	}

	// The model comes back and the same session keeps working.
	env.Chatter.SetReply("Invoices are issued on the first day of each billing cycle [1].")
	again, err := owner.Chat(ctx, domain.ID, ans.SessionID, "When are invoices issued?")
	if err != nil {
		t.Fatalf("Chat after recovery failed: %v", err)
	}
	if again.LLMFailed {
		t.Fatalf("Answer still reports a model failure after recovery")
	}
	if again.Confidence <= 0 {
		t.Fatalf("Recovered answer confidence %.2f, expected above 0", again.Confidence)
	}

	msgs, err := owner.ListMessages(ctx, ans.SessionID, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("Session holds %d messages, expected 4", len(msgs))
	}
	assert.SessionOrdered(msgs)
}

// TestStreamedChatMatchesFinal consumes a chat over the websocket and
// checks the concatenated deltas equal the final answer frame.
func TestStreamedChatMatchesFinal(t *testing.T) {
	_, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	doc, err := owner.UploadText(ctx, domain.ID, "billing.md", billingGuide)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := waiter.WaitForDocument(ctx, owner, doc.ID, types.DocumentReady); err != nil {
		t.Fatalf("Document never became ready: %v", err)
	}

	first, err := owner.Chat(ctx, domain.ID, uuid.Nil, "When are invoices issued?")
	if err != nil {
		t.Fatalf("First chat failed: %v", err)
	}
	session := first.SessionID

	var deltas []string
	final, err := owner.StreamChat(ctx, session, "What is the grace period for failed payments?", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Streamed chat failed: %v", err)
	}
	if len(deltas) < 2 {
		t.Fatalf("Stream arrived in %d fragments, expected at least 2", len(deltas))
	}
	if streamed := strings.Join(deltas, ""); streamed != final.Content {
		t.Fatalf("Streamed text %q does not match the final answer %q", streamed, final.Content)
	}
	if len(final.Citations) == 0 {
		t.Fatalf("Streamed answer carries no citations")
	}
	assert.CitationsResolve(final)

	msgs, err := owner.ListMessages(ctx, session, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("Session holds %d messages, expected 4", len(msgs))
	}
	assert.SessionOrdered(msgs)
	if last := msgs[len(msgs)-1]; last.Content != final.Content {
		t.Fatalf("Persisted assistant turn %q does not match the streamed answer %q", last.Content, final.Content)
	}
}
