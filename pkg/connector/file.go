package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// requeueBatch pages the failed-document listing during a file sync.
const requeueBatch = 100

// File covers manually uploaded documents. There is no remote system to
// pull from, so its sync cycle is a repair pass: documents stuck in the
// failed state are re-queued for processing, which replays transient
// outages (embedding provider down, object store hiccup) without anyone
// re-uploading.
type File struct {
	store store.Store
}

// NewFile creates the file variant.
func NewFile(st store.Store) *File {
	return &File{store: st}
}

func (f *File) Type() types.ConnectorType { return types.ConnectorFile }

func (f *File) Capabilities() []Capability {
	return []Capability{CapTest, CapSync}
}

// Test accepts any validated config; there is nothing remote to reach.
func (f *File) Test(ctx context.Context, cfg map[string]any) error {
	var view FileConfig
	return decodeConfig(types.ConnectorFile, cfg, false, &view)
}

// Preview is not supported; file connectors do not advertise the
// capability.
func (f *File) Preview(ctx context.Context, cfg map[string]any) (*Preview, error) {
	return nil, fmt.Errorf("file connectors do not support preview")
}

// Sync re-queues the domain's failed documents. Each re-queued document
// counts as a processed item; nothing new is created here, the worker
// pool reprocesses them through the normal ingest path.
func (f *File) Sync(ctx context.Context, sc *SyncContext) error {
	conn := sc.Connector
	for offset := 0; ; offset += requeueBatch {
		docs, total, err := f.store.ListDocuments(ctx, conn.OrgID, conn.DomainID, types.DocumentFailed, requeueBatch, offset)
		if err != nil {
			return fmt.Errorf("failed to list failed documents: %w", err)
		}
		for _, doc := range docs {
			if err := f.requeue(ctx, doc); err != nil {
				return err
			}
			sc.AddPages(1)
		}
		if len(docs) == 0 || offset+len(docs) >= total {
			return nil
		}
	}
}

func (f *File) requeue(ctx context.Context, doc *types.Document) error {
	payload, err := json.Marshal(types.IngestPayload{DocumentID: doc.ID})
	if err != nil {
		return fmt.Errorf("failed to encode ingest payload: %w", err)
	}
	job := &types.Job{
		Kind:    types.JobIngestDocument,
		OrgID:   doc.OrgID,
		Payload: payload,
	}
	if err := f.store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to re-queue document %s: %w", doc.ID, err)
	}
	return nil
}
