package vuln

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	bucketQueries = "osv-queries"
	bucketVulns   = "osv-vulns"
)

// Store persists raw API responses between runs. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value and the time it was stored.
	Get(bucket, key string) (value []byte, storedAt time.Time, ok bool)
	Put(bucket, key string, value []byte, storedAt time.Time) error
}

// BoltStore is a Store backed by a bbolt database file. Keys are hashed
// with xxh3 so arbitrary package names are safe.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{bucketQueries, bucketVulns} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func storeKey(key string) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxh3.HashString(key))
	return b[:]
}

// Get implements Store. Values are stored as an 8-byte unix-nano timestamp
// followed by the payload.
func (s *BoltStore) Get(bucket, key string) ([]byte, time.Time, bool) {
	var value []byte
	var storedAt time.Time
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		raw := b.Get(storeKey(key))
		if len(raw) < 8 {
			return nil
		}
		storedAt = time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
		// raw is only valid inside the transaction
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	return value, storedAt, value != nil
}

// Put implements Store.
func (s *BoltStore) Put(bucket, key string, value []byte, storedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		raw := make([]byte, 8+len(value))
		binary.BigEndian.PutUint64(raw[:8], uint64(storedAt.UnixNano()))
		copy(raw[8:], value)
		return b.Put(storeKey(key), raw)
	})
}

// ttlCache is an in-memory cache whose entries expire after ttl. Failed
// fetches are never stored, so a later call retries.
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value    V
	storedAt time.Time
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	return &ttlCache[V]{ttl: ttl, now: now, entries: make(map[string]ttlEntry[V])}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, storedAt: c.now()}
}
