/*
Package blob stores document payloads in an S3-compatible object store.

Uploaded files are written here once at ingest time and read back by the
background pipeline for extraction; downloads are served to clients through
presigned URLs so document bytes never stream through the API process.

# Keyspace

Every object key is tenant-scoped:

	{org_slug}/{domain_name}/{document_id}/{safe_filename}

The document id segment makes keys collision-free even when two uploads share
a filename, and the per-org prefix means cascade deletes reduce to a prefix
removal. Client-supplied filenames are sanitised (SafeFilename) before they
reach a key; the original name survives on the document row only.

# Presigned Downloads

GET /files/{id}/download returns {download_url, expires_in}. Expiry is
clamped to one hour (MaxPresignExpiry) regardless of what the caller asks
for.

# Usage

	store, err := blob.New(cfg.Blob)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	key := blob.ObjectKey(org.Slug, domain.Name, doc.ID, doc.Filename)
	if err := store.Put(ctx, key, data, doc.ContentType); err != nil {
		return err
	}

# Integration Points

  - pkg/ingest: writes blobs on upload, reads them in the pipeline
  - pkg/api: presigned download URLs for GET /files/{id}/download
  - pkg/health: bucket reachability check
*/
package blob
