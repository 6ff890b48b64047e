package kv

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenBolt opens or creates a bbolt database file.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return db, nil
}

// BoltBucket is a persistent bucket backed by a top-level bbolt bucket.
type BoltBucket struct {
	db   *bolt.DB
	name string
}

// NewBoltBucket creates the bbolt bucket if needed and wraps it.
func NewBoltBucket(db *bolt.DB, name string) (*BoltBucket, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", name, err)
	}
	return &BoltBucket{db: db, name: name}, nil
}

// Name returns the bucket name.
func (b *BoltBucket) Name() string {
	return b.name
}

// IsPersistent returns true.
func (b *BoltBucket) IsPersistent() bool {
	return true
}

// Store saves a value with the given key.
func (b *BoltBucket) Store(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.name))
		if bk == nil {
			return fmt.Errorf("bucket %q not found", b.name)
		}
		return bk.Put([]byte(key), value)
	})
}

// Get retrieves a value by key. The returned slice is a copy.
func (b *BoltBucket) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.name))
		if bk == nil {
			return fmt.Errorf("bucket %q not found", b.name)
		}
		if data := bk.Get([]byte(key)); data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out, err
}

// Delete removes a key from the bucket.
func (b *BoltBucket) Delete(key string) (bool, error) {
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.name))
		if bk == nil {
			return fmt.Errorf("bucket %q not found", b.name)
		}
		existed = bk.Get([]byte(key)) != nil
		return bk.Delete([]byte(key))
	})
	return existed, err
}

// Keys returns all keys in byte order.
func (b *BoltBucket) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.name))
		if bk == nil {
			return fmt.Errorf("bucket %q not found", b.name)
		}
		return bk.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Clear removes all keys by recreating the bucket.
func (b *BoltBucket) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(b.name)) != nil {
			if err := tx.DeleteBucket([]byte(b.name)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(b.name))
		return err
	})
}
