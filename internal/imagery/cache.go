package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// ErrCacheMiss is returned by Cache.GetImage when no entry exists for a fingerprint
var ErrCacheMiss = errors.New("image cache miss")

// CacheEntry records the last resolution for a query fingerprint.
// An empty LocalPath is a negative entry: resolution was attempted and failed.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Query       string    `json:"query"`
	LocalPath   string    `json:"local_path,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	CachedAt    time.Time `json:"cached_at"`
}

// Cache persists image resolutions keyed by fingerprint
type Cache interface {
	// GetImage returns the entry for fingerprint or ErrCacheMiss
	GetImage(ctx context.Context, fingerprint string) (*CacheEntry, error)

	// PutImage inserts or replaces the entry for entry.Fingerprint
	PutImage(ctx context.Context, entry *CacheEntry) error

	// DeleteImage removes the entry; deleting a missing entry is not an error
	DeleteImage(ctx context.Context, fingerprint string) error
}

const imageCacheBucket = "image_cache"

// BoltCache implements Cache in its own BoltDB file, keeping cache writes
// out of the inventory database altogether.
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens (or creates) the cache file at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(imageCacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// GetImage retrieves an entry by fingerprint
func (b *BoltCache) GetImage(_ context.Context, fingerprint string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(imageCacheBucket)).Get([]byte(fingerprint))
		if data == nil {
			return ErrCacheMiss
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PutImage inserts or replaces an entry
func (b *BoltCache) PutImage(_ context.Context, entry *CacheEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling cache entry: %w", err)
		}
		return tx.Bucket([]byte(imageCacheBucket)).Put([]byte(entry.Fingerprint), data)
	})
}

// DeleteImage removes an entry
func (b *BoltCache) DeleteImage(_ context.Context, fingerprint string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(imageCacheBucket)).Delete([]byte(fingerprint))
	})
}

// Close closes the cache file
func (b *BoltCache) Close() error {
	return b.db.Close()
}
