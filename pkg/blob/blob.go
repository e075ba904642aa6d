package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
)

// MaxPresignExpiry bounds presigned download URLs. Longer requests are
// clamped, never honoured.
const MaxPresignExpiry = time.Hour

// Store wraps the object-store client. Every object lives under a
// per-tenant keyspace {org_slug}/{domain_name}/{document_id}/{filename} so
// bucket listings never mix tenants.
type Store struct {
	client *minio.Client
	bucket string
}

// New creates an object store client from configuration.
func New(cfg config.BlobConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet. Called once at
// startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errdefs.Storage(fmt.Errorf("failed to check bucket %s: %w", s.bucket, err), true)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errdefs.Storage(fmt.Errorf("failed to create bucket %s: %w", s.bucket, err), true)
	}
	return nil
}

// Ping reports whether the object store is reachable and the bucket
// still exists; the health checker calls it.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Put writes data under key and returns the key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errdefs.Storage(fmt.Errorf("failed to store object %s: %w", key, err), true)
	}
	return nil
}

// Get reads the full object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errdefs.Storage(fmt.Errorf("failed to fetch object %s: %w", key, err), true)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, errdefs.ErrNotFound)
		}
		return nil, errdefs.Storage(fmt.Errorf("failed to read object %s: %w", key, err), true)
	}
	return data, nil
}

// Delete removes the object at key. Deleting a missing object is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errdefs.Storage(fmt.Errorf("failed to delete object %s: %w", key, err), true)
	}
	return nil
}

// DeletePrefix removes every object under prefix. Used when a document,
// domain, or organization is deleted.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return errdefs.Storage(fmt.Errorf("failed to list objects under %s: %w", prefix, obj.Err), true)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errdefs.Storage(fmt.Errorf("failed to delete object %s: %w", obj.Key, err), true)
		}
	}
	return nil
}

// PresignedGet returns a time-limited download URL for key. Expiry is
// clamped to MaxPresignExpiry.
func (s *Store) PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, time.Duration, error) {
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return nil, 0, errdefs.Storage(fmt.Errorf("failed to presign object %s: %w", key, err), true)
	}
	return u, expiry, nil
}

// ObjectKey builds the canonical object key for a document blob.
func ObjectKey(orgSlug, domainName string, documentID uuid.UUID, filename string) string {
	return path.Join(orgSlug, domainName, documentID.String(), SafeFilename(filename))
}

// SafeFilename reduces a client-supplied filename to a key-safe form: path
// components stripped, control and separator characters replaced, length
// capped. The original name is preserved on the document row; the key only
// has to be unambiguous.
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	safe := strings.Trim(b.String(), "._")
	if safe == "" {
		safe = "file"
	}
	if len(safe) > 128 {
		ext := path.Ext(safe)
		if len(ext) > 16 {
			ext = ""
		}
		safe = safe[:128-len(ext)] + ext
	}
	return safe
}
