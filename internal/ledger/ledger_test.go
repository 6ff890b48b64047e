package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/huebridge/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.Append("BRIDGE1", KindRule, "1", "put", "/api/u/lights/1/state", []byte(`{"on":true}`)); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Minute)
	if err := l.Append("BRIDGE1", KindSchedule, "2", "put", "/api/u/groups/0/action", nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("BRIDGE2", KindRule, "1", "put", "/api/u/lights/2/state", nil); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Recent("BRIDGE1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(BRIDGE1) returned %d entries, want 2", len(entries))
	}
	if entries[0].Kind != KindSchedule || entries[0].SourceID != "2" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[1].Body != `{"on":true}` {
		t.Errorf("Body = %q", entries[1].Body)
	}

	all, err := l.Recent("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(all) returned %d entries, want 3", len(all))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Append("B", KindRule, "1", "put", "/a", nil)
	now = now.Add(48 * time.Hour)
	l.Append("B", KindRule, "2", "put", "/b", nil)

	n, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DeleteOlderThan removed %d rows, want 1", n)
	}
	entries, _ := l.GetByTimeRange(now.Add(-time.Hour), now, 10)
	if len(entries) != 1 || entries[0].SourceID != "2" {
		t.Errorf("remaining = %+v", entries)
	}
}
