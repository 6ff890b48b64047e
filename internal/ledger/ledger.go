// Package ledger provides an append-only history of rule and schedule firings.
package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

// Kind is what fired.
type Kind string

const (
	KindRule     Kind = "rule"
	KindSchedule Kind = "schedule"
)

// Entry is one recorded firing.
type Entry struct {
	ID        int64
	Bridge    string
	Kind      Kind
	SourceID  string
	Method    string
	Address   string
	Body      string
	Timestamp time.Time
}

// Ledger appends firings to the fire_history table
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append records one firing.
func (l *Ledger) Append(bridge string, kind Kind, sourceID, method, address string, body []byte) error {
	_, err := l.db.Exec(
		`INSERT INTO fire_history (bridge, kind, source_id, method, address, body, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bridge, string(kind), sourceID, method, address, string(body), l.now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append fire history: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first. An empty bridge matches every bridge.
func (l *Ledger) Recent(bridge string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, bridge, kind, source_id, method, address, body, timestamp
		FROM fire_history
		WHERE ? = '' OR bridge = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, bridge, bridge, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, bridge, kind, source_id, method, address, body, timestamp
		FROM fire_history
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the given duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM fire_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var kind string
		var body sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.Bridge, &kind, &entry.SourceID, &entry.Method, &entry.Address, &body, &timestamp,
		)
		if err != nil {
			return nil, err
		}
		entry.Kind = Kind(kind)
		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if body.Valid {
			entry.Body = body.String
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
