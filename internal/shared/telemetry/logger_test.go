package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestInfoWritesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Info("diagnosis.transition", map[string]any{
		"device_id":         "MOCK-001",
		"status_transition": "idle->recording",
		"err":               errors.New("boom"),
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "diagnosis.transition" {
		t.Fatalf("expected msg, got %v", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Fatalf("expected INFO level, got %v", entry["level"])
	}
	if entry["device_id"] != "MOCK-001" {
		t.Fatalf("expected device_id field, got %v", entry["device_id"])
	}
	if entry["err"] != "boom" {
		t.Fatalf("expected error rendered as string, got %v", entry["err"])
	}
}
