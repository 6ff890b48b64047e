package kv

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Manager manages bucket lifecycle for one backend.
type Manager struct {
	driver  string
	db      *sql.DB
	bdb     *bolt.DB
	buckets map[string]Bucket
	mu      sync.Mutex
}

// NewSQLiteManager creates a manager storing buckets in the kv_store table of db.
func NewSQLiteManager(db *sql.DB) *Manager {
	return &Manager{driver: DriverSQLite, db: db, buckets: make(map[string]Bucket)}
}

// NewBoltManager opens path and creates a manager storing one bbolt bucket per name.
func NewBoltManager(path string) (*Manager, error) {
	bdb, err := OpenBolt(path)
	if err != nil {
		return nil, err
	}
	return &Manager{driver: DriverBolt, bdb: bdb, buckets: make(map[string]Bucket)}, nil
}

// NewMemoryManager creates a manager whose buckets live only in memory.
func NewMemoryManager() *Manager {
	return &Manager{driver: DriverMemory, buckets: make(map[string]Bucket)}
}

// Driver returns the backend driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Bucket returns a bucket by name, creating it if it doesn't exist.
func (m *Manager) Bucket(name string) (Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.buckets[name]; ok {
		return bucket, nil
	}

	var bucket Bucket
	switch m.driver {
	case DriverSQLite:
		bucket = NewSQLiteBucket(m.db, name)
	case DriverBolt:
		if m.bdb == nil {
			return nil, ErrClosed
		}
		b, err := NewBoltBucket(m.bdb, name)
		if err != nil {
			return nil, err
		}
		bucket = b
	default:
		bucket = NewMemoryBucket(name)
	}

	m.buckets[name] = bucket
	log.Debug().
		Str("bucket", name).
		Str("driver", m.driver).
		Msg("Opened KV bucket")

	return bucket, nil
}

// List returns all bucket names known to the backend, sorted.
func (m *Manager) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for name := range m.buckets {
		seen[name] = true
	}

	switch m.driver {
	case DriverSQLite:
		rows, err := m.db.Query(`SELECT DISTINCT bucket FROM kv_store`)
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("failed to scan bucket name: %w", err)
			}
			seen[name] = true
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	case DriverBolt:
		err := m.bdb.View(func(tx *bolt.Tx) error {
			return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				seen[string(name)] = true
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the bbolt file if this manager owns one.
// The SQLite handle belongs to the caller and is left open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bdb != nil {
		err := m.bdb.Close()
		m.bdb = nil
		return err
	}
	return nil
}
