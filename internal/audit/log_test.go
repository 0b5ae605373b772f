package audit

import (
	"path/filepath"
	"testing"
)

func TestLogEventAndRecent(t *testing.T) {
	logger := NewLogger(filepath.Join(t.TempDir(), "audit", "audit.sqlite"))

	types := []string{EventKPIImported, EventAssigneeScoreSubmitted, EventCreatorScoreSubmitted, EventDiscrepancyCreated}
	for _, typ := range types {
		if err := logger.LogEvent("alice", typ, map[string]any{"deliverable_id": "d-1"}); err != nil {
			t.Fatalf("LogEvent(%s): %v", typ, err)
		}
	}

	events, err := logger.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventCreatorScoreSubmitted || events[1].Type != EventDiscrepancyCreated {
		t.Fatalf("unexpected order: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ID >= events[1].ID {
		t.Fatalf("expected oldest first, got ids %d, %d", events[0].ID, events[1].ID)
	}

	var payload map[string]string
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["deliverable_id"] != "d-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if events[1].Actor != "alice" {
		t.Fatalf("unexpected actor %q", events[1].Actor)
	}
}

func TestRecentEmptyLog(t *testing.T) {
	logger := NewLogger(filepath.Join(t.TempDir(), "audit.sqlite"))
	events, err := logger.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
