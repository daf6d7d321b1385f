package util

import "testing"

func TestNamespaceKey(t *testing.T) {
	id := "MOCK-001"
	got := NamespaceKey(id)
	if got != NamespaceKey(id) {
		t.Fatalf("expected stable key, got %s", got)
	}
	if got == NamespaceKey("MOCK-002") {
		t.Fatalf("expected distinct keys for distinct devices")
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("key contains non-hex character: %c", ch)
		}
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(got))
	}
}
