package audit

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "nested", "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := db.Recent(10); err != nil {
		t.Fatalf("Recent() on empty db error: %v", err)
	}
}

func TestLogAndRecent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if err := db.Log("10.0.0.1:4070", EventAccepted, ""); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	if err := db.Log("10.0.0.1:4070", EventAdmitted, ""); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	if err := db.Log("10.0.0.2:4070", EventRejectedSecret, "bad secret"); err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	events, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Recent orders newest first.
	if events[0].EventType != EventRejectedSecret {
		t.Errorf("events[0].EventType = %q, want %q", events[0].EventType, EventRejectedSecret)
	}

	count, err := db.CountByType(EventAccepted)
	if err != nil {
		t.Fatalf("CountByType() error: %v", err)
	}
	if count != 1 {
		t.Errorf("CountByType(accepted) = %d, want 1", count)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	for i := 0; i < 5; i++ {
		if err := db.Log("127.0.0.1:1234", EventTerminated, ""); err != nil {
			t.Fatalf("Log() error: %v", err)
		}
	}

	events, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}
