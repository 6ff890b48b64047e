// Package db provides the shared SQLite connection and schema for huebridge.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Fire history - append-only record of rule and schedule firings
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fire_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bridge TEXT NOT NULL,
			kind TEXT NOT NULL,
			source_id TEXT NOT NULL,
			method TEXT NOT NULL,
			address TEXT NOT NULL,
			body TEXT,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fire_history_bridge_ts ON fire_history(bridge, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create fire_history table: %w", err)
	}

	// KV store - one bucket per bridge instance holding serialized collections
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_kv_bucket ON kv_store(bucket);
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
