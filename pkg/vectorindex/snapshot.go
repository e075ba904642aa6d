package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// snapshotValue is the single key inside each tenant bucket
var snapshotValue = []byte("snapshot")

// snapshot is one tenant's durable state. TakenAt is the replay watermark:
// chunks created after it are re-read from the relational store on restart.
type snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Items   []Item    `json:"items"`
}

// SnapshotStore persists tenant slices to a local BoltDB file, one bucket
// per (org, domain) pair
type SnapshotStore struct {
	db *bolt.DB
}

// OpenSnapshots opens (creating if needed) the snapshot database at path
func OpenSnapshots(path string) (*SnapshotStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close closes the database
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) save(key tenantKey, snap snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(key.String()))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", key, err)
		}
		return b.Put(snapshotValue, data)
	})
}

func (s *SnapshotStore) load() (map[tenantKey]snapshot, error) {
	out := make(map[tenantKey]snapshot)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			key, err := parseTenantKey(string(name))
			if err != nil {
				// Not one of ours; leave it alone.
				return nil
			}
			data := b.Get(snapshotValue)
			if data == nil {
				return nil
			}
			var snap snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
			}
			out[key] = snap
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SnapshotStore) drop(key tenantKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(key.String()))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func parseTenantKey(name string) (tenantKey, error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return tenantKey{}, fmt.Errorf("malformed tenant key %q", name)
	}
	org, err := uuid.Parse(parts[0])
	if err != nil {
		return tenantKey{}, fmt.Errorf("malformed tenant key %q: %w", name, err)
	}
	domain, err := uuid.Parse(parts[1])
	if err != nil {
		return tenantKey{}, fmt.Errorf("malformed tenant key %q: %w", name, err)
	}
	return tenantKey{org: org, domain: domain}, nil
}
