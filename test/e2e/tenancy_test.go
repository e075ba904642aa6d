package e2e

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/test/framework"
)

const billingGuide = `# Billing cycles

Invoices are issued on the first day of each billing cycle and cover the
previous month of usage. Payment is collected automatically from the card
on file three days after the invoice is issued.

If a payment fails, the account enters a seven day grace period. During the
grace period all features keep working and the platform retries the charge
once per day. After the grace period the workspace is downgraded to the
free plan until the outstanding invoice is settled.

Annual plans are invoiced once per year and renew automatically. You can
switch between monthly and annual billing at any time; the unused balance
is prorated and credited against the next invoice.`

// TestDuplicateUpload uploads the same bytes twice into one domain and
// expects the second attempt to be rejected as a duplicate while the
// listing keeps exactly one document.
func TestDuplicateUpload(t *testing.T) {
	_, owner := startEnv(t)
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}

	doc, err := owner.UploadText(ctx, domain.ID, "billing.md", billingGuide)
	if err != nil {
		t.Fatalf("First upload failed: %v", err)
	}

	// Same bytes under a different filename still dedupe on content hash.
	_, err = owner.UploadText(ctx, domain.ID, "billing-copy.md", billingGuide)
	if err == nil {
		t.Fatalf("Second upload of identical bytes succeeded, expected a duplicate rejection")
	}
	if !errdefs.IsDuplicate(err) {
		t.Fatalf("Second upload failed with %v, expected a duplicate_hash error", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Second upload error %v does not carry the HTTP status", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Fatalf("Duplicate upload returned HTTP %d, expected 409", apiErr.Status)
	}
	if !strings.Contains(apiErr.Detail, doc.ID.String()) {
		t.Fatalf("Duplicate rejection %q does not name the existing document %s", apiErr.Detail, doc.ID)
	}

	assert.FileListedOnce(ctx, owner, domain.ID, doc.ID)
}

// TestCrossTenantLeakage uploads a document in one organization and
// verifies another organization can neither read it by id (404, not 403)
// nor surface it through search.
func TestCrossTenantLeakage(t *testing.T) {
	env, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "support")
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

	// The owner's own search sees the content.
	results, err := owner.Search(ctx, client.SearchRequest{
		Query: "when are invoices issued", DomainID: domain.ID, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Owner search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("Owner search found nothing, the document should be indexed")
	}
	found := false
	for _, r := range results {
		if r.DocumentID == doc.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("Owner search results do not include the uploaded document")
	}

	intruder, err := env.Signup(ctx, framework.UniqueEmail("intruder"), "sturdy-passphrase")
	if err != nil {
		t.Fatalf("Failed to sign up intruder: %v", err)
	}

	// Direct read: the document must not exist as far as the intruder can
	// tell. A 403 would confirm the id is real.
	_, err = intruder.GetFile(ctx, doc.ID)
	if err == nil {
		t.Fatalf("Intruder read a foreign document")
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("Foreign document read failed with %v, expected HTTP 404", err)
	}

	// Search in the intruder's own workspace for the same content.
	theirDomain, err := intruder.CreateDomain(ctx, "support")
	if err != nil {
		t.Fatalf("Failed to create intruder domain: %v", err)
	}
	results, err = intruder.Search(ctx, client.SearchRequest{
		Query: "when are invoices issued", DomainID: theirDomain.ID, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Intruder search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Intruder search returned %d results from a foreign tenant", len(results))
	}
}

// TestTenantIsolationSweep builds a populated workspace and then runs an
// adversarial sweep: every read and mutation endpoint is called with the
// owner's resource ids from a foreign organization, and each must answer
// not-found. A sibling domain in the same organization must not see the
// content either.
func TestTenantIsolationSweep(t *testing.T) {
	env, owner := startEnv(t)
	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	domain, err := owner.CreateDomain(ctx, "support")
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
	conn, err := owner.CreateWebConnector(ctx, domain.ID, "docs-site", map[string]any{
		"seed_urls": []string{"http://docs.internal.example/start"},
	})
	if err != nil {
		t.Fatalf("Failed to create connector: %v", err)
	}
	answer, err := owner.Chat(ctx, domain.ID, uuid.Nil, "How do failed payments get retried?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	session := answer.SessionID

	intruder, err := env.Signup(ctx, framework.UniqueEmail("intruder"), "sturdy-passphrase")
	if err != nil {
		t.Fatalf("Failed to sign up intruder: %v", err)
	}

	t.Run("ForeignOrgReads", func(t *testing.T) {
		attempts := []struct {
			name string
			call func() error
		}{
			{"get file", func() error { _, err := intruder.GetFile(ctx, doc.ID); return err }},
			{"delete file", func() error { return intruder.DeleteFile(ctx, doc.ID) }},
			{"list files in domain", func() error { _, _, err := intruder.ListFiles(ctx, domain.ID, "", 0, 0); return err }},
			{"get domain", func() error { _, err := intruder.GetDomain(ctx, domain.ID); return err }},
			{"delete domain", func() error { return intruder.DeleteDomain(ctx, domain.ID) }},
			{"get connector", func() error { _, err := intruder.GetConnector(ctx, conn.ID); return err }},
			{"trigger sync", func() error { _, err := intruder.TriggerSync(ctx, conn.ID); return err }},
			{"list crawled pages", func() error { _, _, err := intruder.CrawledPages(ctx, conn.ID, "", 0, 0); return err }},
			{"list session messages", func() error { _, err := intruder.ListMessages(ctx, session, 0, 0); return err }},
			{"chat in domain", func() error { _, err := intruder.Chat(ctx, domain.ID, uuid.Nil, "hello"); return err }},
			{"search domain", func() error {
				_, err := intruder.Search(ctx, client.SearchRequest{Query: "invoices", DomainID: domain.ID})
				return err
			}},
		}
		for _, attempt := range attempts {
			err := attempt.call()
			if err == nil {
				t.Fatalf("%s: cross-tenant call succeeded", attempt.name)
			}
			if !errdefs.IsNotFound(err) {
				t.Fatalf("%s: failed with %v, expected not found", attempt.name, err)
			}
		}
	})

	t.Run("SiblingDomainScoping", func(t *testing.T) {
		sibling, err := owner.CreateDomain(ctx, "internal")
		if err != nil {
			t.Fatalf("Failed to create sibling domain: %v", err)
		}
		results, err := owner.Search(ctx, client.SearchRequest{
			Query: "when are invoices issued", DomainID: sibling.ID, Limit: 10,
		})
		if err != nil {
			t.Fatalf("Sibling search failed: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("Sibling domain search returned %d results from another domain", len(results))
		}
		docs, _, err := owner.ListFiles(ctx, sibling.ID, "", 0, 0)
		if err != nil {
			t.Fatalf("Sibling file listing failed: %v", err)
		}
		if len(docs) != 0 {
			t.Fatalf("Sibling domain lists %d foreign documents", len(docs))
		}
	})

	// Nothing in the sweep destroyed the owner's data.
	assert.FileListedOnce(ctx, owner, domain.ID, doc.ID)
	if _, err := owner.GetDomain(ctx, domain.ID); err != nil {
		t.Fatalf("Owner domain vanished after the sweep: %v", err)
	}
}
