package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/sunddc/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_SessionHistory(t *testing.T) {
	l := openLedger(t)

	if err := l.Append(EventTransitionStarted, "s1", "trigger", map[string]any{"direction": "brightening"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(EventTransitionStarted, "s2", "trigger", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(EventTransitionCompleted, "s1", "engine", map[string]any{"steps": 3}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.Session("s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Session returned %d entries, want 2", len(entries))
	}
	if entries[0].EventType != EventTransitionStarted || entries[1].EventType != EventTransitionCompleted {
		t.Errorf("order = %s, %s", entries[0].EventType, entries[1].EventType)
	}
	if entries[0].Payload["direction"] != "brightening" {
		t.Errorf("payload = %v", entries[0].Payload)
	}
	// JSON numbers decode as float64
	if entries[1].Payload["steps"] != float64(3) {
		t.Errorf("payload = %v", entries[1].Payload)
	}

	started, err := l.GetByType(EventTransitionStarted, 10)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if len(started) != 2 {
		t.Errorf("GetByType returned %d entries, want 2", len(started))
	}
	if started[0].SessionID != "s2" {
		t.Errorf("newest first: got %s", started[0].SessionID)
	}
	if started[1].Payload == nil || started[0].Payload != nil {
		t.Errorf("nil payload should stay nil: %v / %v", started[0].Payload, started[1].Payload)
	}
}

func TestLedger_Recent(t *testing.T) {
	l := openLedger(t)
	for i := 0; i < 5; i++ {
		_ = l.Append(EventSunTimesRefreshed, "", "refresher", nil)
	}

	entries, err := l.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Recent(3) returned %d", len(entries))
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)
	_, err := l.db.Exec(`INSERT INTO event_ledger (event_type, timestamp) VALUES (?, ?)`,
		string(EventTransitionAborted), time.Now().Add(-48*time.Hour).Unix())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = l.Append(EventTransitionStarted, "fresh", "", nil)

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, _ := l.Recent(10)
	if len(entries) != 1 || entries[0].SessionID != "fresh" {
		t.Errorf("remaining = %v", entries)
	}
}
