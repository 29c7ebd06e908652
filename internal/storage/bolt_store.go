package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

const bucketPrefix = "ids:"

// boltStore keeps one bucket of identifiers per source. Identifiers are the keys; values are empty.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Backend.
func openBolt(path string) (Backend, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	return &boltStore{db: db}, nil
}

func bucketName(src sources.Source) []byte {
	return []byte(bucketPrefix + src.Name)
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// LoadIDs returns every identifier stored for src.
func (b *boltStore) LoadIDs(src sources.Source) ([]string, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(src))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read identifiers for %s: %w", src.Name, err)
	}
	return ids, nil
}

// SaveIDs adds ids to the source bucket. Saving a known id again is a no-op.
func (b *boltStore) SaveIDs(src sources.Source, ids []string) error {
	if b == nil || b.db == nil {
		return nil
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(src))
		if err != nil {
			return fmt.Errorf("init bucket: %w", err)
		}
		for _, id := range ids {
			if id == "" {
				continue
			}
			if err := bucket.Put([]byte(id), []byte{}); err != nil {
				return fmt.Errorf("put %q: %w", id, err)
			}
		}
		return nil
	})
}
