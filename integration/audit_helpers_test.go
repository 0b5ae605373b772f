package integration_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"kpiboard/internal/audit"
)

// auditEvent is an audit row with its payload decoded.
type auditEvent struct {
	Actor   string
	Type    string
	Payload map[string]any
}

func loadAuditEvents(t *testing.T, dbPath string) []auditEvent {
	t.Helper()
	events, err := audit.NewLogger(dbPath).Recent(1000)
	if err != nil {
		t.Fatalf("read audit log %s: %v", dbPath, err)
	}
	out := make([]auditEvent, 0, len(events))
	for _, ev := range events {
		decoded := auditEvent{Actor: ev.Actor, Type: ev.Type}
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &decoded.Payload); err != nil {
				t.Fatalf("decode %s payload %s: %v", ev.Type, ev.Payload, err)
			}
		}
		out = append(out, decoded)
	}
	return out
}

func requireAuditEvents(t *testing.T, dbPath string, want ...string) {
	t.Helper()
	seen := make(map[string]bool)
	for _, ev := range loadAuditEvents(t, dbPath) {
		seen[ev.Type] = true
	}
	for _, eventType := range want {
		if !seen[eventType] {
			t.Fatalf("missing audit event %s in %s", eventType, dbPath)
		}
	}
}

// requireAuditPayload returns the first eventType event whose payload holds
// every field in want. JSON numbers decode as float64.
func requireAuditPayload(t *testing.T, dbPath, eventType string, want map[string]any) auditEvent {
	t.Helper()
	var candidates []map[string]any
	for _, ev := range loadAuditEvents(t, dbPath) {
		if ev.Type != eventType {
			continue
		}
		if payloadHas(ev.Payload, want) {
			return ev
		}
		candidates = append(candidates, ev.Payload)
	}
	t.Fatalf("no %s event with %v; saw %v", eventType, want, candidates)
	return auditEvent{}
}

func payloadHas(payload, want map[string]any) bool {
	for k, v := range want {
		got, ok := payload[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}
