package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
	"paykiosk.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{AccountID: "acc-42", Permission: ledger.PermissionAdmin})

	if err := LogEvent(ctx, "account.limit_changed", map[string]any{"limit": "5.00"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "account.limit_changed" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "acc-42" || entry["actor_permission"] != "admin" {
		t.Fatalf("unexpected actor: %v / %v", entry["actor_id"], entry["actor_permission"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["limit"] != "5.00" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}
