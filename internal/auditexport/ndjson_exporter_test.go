package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
)

func TestNDJSONExporter_OneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewNDJSONExporter(&buf)

	occurred := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []auditlog.StoredEvent{
		{EventID: 1, OccurredAt: occurred, Actor: "mgr-1", Action: "approval.approved", ResourceType: "approval", ResourceID: "AP1", IntegritySHA256: "aa"},
		{EventID: 2, OccurredAt: occurred.Add(time.Minute), Actor: "sweeper", Action: "approval.expired", ResourceType: "approval", ResourceID: "AP2", IntegritySHA256: "bb",
			Payload: map[string]any{"reason": "deadline"}},
	}
	for _, ev := range events {
		if err := exporter.Export(context.Background(), ev); err != nil {
			t.Fatalf("Export() err=%v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first["event_id"] != float64(1) || first["action"] != "approval.approved" {
		t.Fatalf("first line=%v", first)
	}
	if first["occurred_at"] != "2025-03-10T09:00:00Z" {
		t.Fatalf("occurred_at=%v", first["occurred_at"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode second line: %v", err)
	}
	payload, ok := second["payload"].(map[string]any)
	if !ok || payload["reason"] != "deadline" {
		t.Fatalf("second payload=%v", second["payload"])
	}
}
