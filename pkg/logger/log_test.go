package logger

import (
	"net/http/httptest"
	"testing"
)

func TestSafeHeadersRedactsSensitiveValues(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhook/whatsapp", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("X-Api-Key", "backend-key")
	req.Header.Set("X-Hub-Signature-256", "sha256=abcdef")
	req.Header.Set("Content-Type", "application/json")

	h := SafeHeaders(req)
	for _, k := range []string{"Authorization", "X-Api-Key", "X-Hub-Signature-256"} {
		if h[k] != "<redacted>" {
			t.Fatalf("expected %s redacted, got %q", k, h[k])
		}
	}
	if h["Content-Type"] != "application/json" {
		t.Fatalf("non-sensitive header must pass through, got %q", h["Content-Type"])
	}
}
