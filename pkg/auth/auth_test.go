package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAPIKey(t *testing.T) {
	cfg := SecConfig{
		RPS:         1000,
		Burst:       1000,
		BackendKeys: map[string]struct{}{"good-key": {}},
	}
	h := RequireAPIKey(cfg)(okHandler())

	cases := []struct {
		name   string
		header func(r *http.Request)
		code   int
	}{
		{"no key", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "bad") }, http.StatusUnauthorized},
		{"header key", func(r *http.Request) { r.Header.Set("X-API-Key", "good-key") }, http.StatusOK},
		{"bearer key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-key") }, http.StatusOK},
		{"bearer wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			tc.header(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
		})
	}
}

func TestRequireAPIKeyRateLimits(t *testing.T) {
	cfg := SecConfig{
		RPS:         1,
		Burst:       2,
		BackendKeys: map[string]struct{}{"k": {}},
	}
	h := RequireAPIKey(cfg)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the burst, got %v", codes)
	}
}

func TestRateLimitByIPKeysOnClient(t *testing.T) {
	cfg := SecConfig{RPS: 1, Burst: 1}
	h := RateLimitByIP(cfg)(okHandler())

	send := func(addr, fwd string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", nil)
		req.RemoteAddr = addr
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("10.0.0.1:1234", "") != http.StatusOK {
		t.Fatalf("first request should pass")
	}
	if send("10.0.0.1:5678", "") != http.StatusTooManyRequests {
		t.Fatalf("same IP past burst should be limited")
	}
	// a different client still has budget
	if send("10.0.0.2:1234", "") != http.StatusOK {
		t.Fatalf("distinct IP should pass")
	}
	// X-Forwarded-For identifies the client behind a proxy
	if send("10.0.0.3:1111", "203.0.113.9") != http.StatusOK {
		t.Fatalf("forwarded client should pass")
	}
	if send("10.0.0.4:2222", "203.0.113.9, 10.0.0.4") != http.StatusTooManyRequests {
		t.Fatalf("forwarded client past burst should be limited")
	}
}
