package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"formflow/pkg/auth"
	"formflow/pkg/models"
	"formflow/pkg/queue"
	"formflow/pkg/store"
)

const (
	testVerifyToken = "verify-me"
	testSecret      = "webhook-secret"
	testAPIKey      = "backend-key-1"
)

func newTestAPI(t *testing.T) (*API, *queue.Memory) {
	t.Helper()
	q := queue.NewMemory()
	t.Cleanup(func() { q.Close() })
	sec := auth.SecConfig{
		RPS:         1000,
		Burst:       1000,
		BackendKeys: map[string]struct{}{testAPIKey: {}},
	}
	return New(q, nil, testVerifyToken, testSecret, sec), q
}

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func adminReq(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func envelope(from, msgID, text string) []byte {
	payload := fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"contacts": [{"profile": {"name": "Ada"}, "wa_id": %q}],
			"messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
		}}]}]
	}`, from, from, msgID, text)
	return []byte(payload)
}

func TestWebhookVerifyHandshake(t *testing.T) {
	a, _ := newTestAPI(t)
	router := a.Router()

	cases := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345", http.StatusOK, "12345"},
		{"bad token", "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", http.StatusForbidden, ""},
		{"bad mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1", http.StatusBadRequest, ""},
		{"no challenge", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?"+tc.query, nil))
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected challenge echoed, got %q", rec.Body.String())
			}
		})
	}
}

func TestWebhookVerifyUnconfiguredToken(t *testing.T) {
	a, _ := newTestAPI(t)
	a.VerifyToken = ""
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.challenge=1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when token unset, got %d", rec.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	a, q := newTestAPI(t)
	router := a.Router()
	body := envelope("1555", "wamid.1", "hello")

	for _, sig := range []string{"", "sha256=deadbeef", "md5=abc"} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set("X-Hub-Signature-256", sig)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for signature %q, got %d", sig, rec.Code)
		}
	}
	if n, _ := q.Len(); n != 0 {
		t.Fatalf("rejected payloads must not be queued, got %d", n)
	}
}

func TestWebhookEnqueuesMessages(t *testing.T) {
	a, q := newTestAPI(t)
	router := a.Router()
	body := envelope("1555", "wamid.1", "START:demo")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	raw, err := q.Pop()
	if err != nil {
		t.Fatalf("expected queued message: %v", err)
	}
	var msg models.QueuedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("queued record not decodable: %v", err)
	}
	if msg.MessageID != "wamid.1" || msg.From != "1555" || msg.Text != "START:demo" {
		t.Fatalf("unexpected queued message: %+v", msg)
	}
	if msg.ContactName != "Ada" || msg.Status != "pending" || msg.QueuedAt == "" {
		t.Fatalf("message not normalized: %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Fatalf("expected millisecond timestamp, got %d", msg.Timestamp)
	}
}

func TestWebhookExtractsInteractiveReplies(t *testing.T) {
	a, q := newTestAPI(t)
	body := []byte(`{"entry": [{"changes": [{"value": {"messages": [
		{"from": "1555", "id": "wamid.2", "timestamp": "1700000000", "type": "interactive",
		 "interactive": {"type": "list_reply", "list_reply": {"id": "opt_b", "title": "Beta"}}}
	]}}]}]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	raw, _ := q.Pop()
	var msg models.QueuedMessage
	json.Unmarshal(raw, &msg)
	if msg.InteractiveReplyID != "opt_b" || msg.InteractiveReplyTitle != "Beta" {
		t.Fatalf("interactive reply not extracted: %+v", msg)
	}
}

func TestWebhookAcksUnparseablePayload(t *testing.T) {
	a, q := newTestAPI(t)
	body := []byte("this is not json")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verified but unparseable payloads must still be acked, got %d", rec.Code)
	}
	if n, _ := q.Len(); n != 0 {
		t.Fatalf("expected nothing queued, got %d", n)
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	a, _ := newTestAPI(t)
	router := a.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer key, got %d", rec.Code)
	}
}

func TestQueueStatsAndDeadLetters(t *testing.T) {
	a, q := newTestAPI(t)
	router := a.Router()
	q.PushBack([]byte(`{"message_id":"m1"}`))
	q.PushDead([]byte(`{"message_id":"m2","error":"boom"}`))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/queue/stats", nil))
	var stats struct {
		Running     bool `json:"running"`
		Depth       int  `json:"depth"`
		DeadLetters int  `json:"dead_letters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("bad stats body: %v", err)
	}
	if stats.Running || stats.Depth != 1 || stats.DeadLetters != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/queue/dead-letters", nil))
	var listing struct {
		DeadLetters []json.RawMessage `json:"dead_letters"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if len(listing.DeadLetters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(listing.DeadLetters))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/queue/dead-letters?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodDelete, "/admin/queue/dead-letters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("purge failed: %d", rec.Code)
	}
	if n, _ := q.DeadLen(); n != 0 {
		t.Fatalf("expected purged sink, got %d", n)
	}
}

func TestCreateAndListForms(t *testing.T) {
	openStore(t)
	a, _ := newTestAPI(t)
	router := a.Router()

	for _, bad := range []string{
		`{"title": "no key", "fields": [{"label": "X", "type": "text"}]}`,
		`{"key": "nofields", "fields": []}`,
		`not json`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, adminReq(http.MethodPost, "/admin/forms", []byte(bad)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", bad, rec.Code)
		}
	}

	body := []byte(`{"key": "survey", "title": "Survey", "is_published": true, "fields": [
		{"label": "Name", "type": "text", "is_required": true, "order_idx": 0},
		{"label": "Score", "type": "rating", "order_idx": 1}
	]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodPost, "/admin/forms", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/forms", nil))
	var listing struct {
		Forms []models.Form `json:"forms"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if len(listing.Forms) != 1 || listing.Forms[0].Key != "survey" || listing.Forms[0].FieldCount != 2 {
		t.Fatalf("unexpected forms listing: %+v", listing.Forms)
	}
}

func TestStatsSummarizesSessions(t *testing.T) {
	openStore(t)
	a, _ := newTestAPI(t)
	router := a.Router()

	store.SaveForm(models.Form{Key: "survey", Published: true}, []models.Field{
		{ID: "f0", Label: "Name", Kind: models.KindShortText, OrderIdx: 0},
	})
	done, _ := store.CreateSession("survey", "1551", "")
	store.CompleteSession(done.ID)
	gone, _ := store.CreateSession("survey", "1552", "")
	store.AbandonSession(gone.ID)
	store.CreateSession("survey", "1553", "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/stats?period=24h", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Total          int     `json:"total"`
		Completed      int     `json:"completed"`
		Abandoned      int     `json:"abandoned"`
		InProgress     int     `json:"in_progress"`
		CompletionRate float64 `json:"completion_rate"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Total != 3 || out.Completed != 1 || out.Abandoned != 1 || out.InProgress != 1 {
		t.Fatalf("unexpected stats: %+v", out)
	}
	if out.CompletionRate < 0.33 || out.CompletionRate > 0.34 {
		t.Fatalf("unexpected completion rate: %v", out.CompletionRate)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodGet, "/admin/stats?period=yearly", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown period, got %d", rec.Code)
	}
}

func TestSimulateMessage(t *testing.T) {
	a, q := newTestAPI(t)
	router := a.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodPost, "/admin/simulate-message", []byte(`{"text": "hi"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without from, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminReq(http.MethodPost, "/admin/simulate-message", []byte(`{"from": "1555", "text": "START:demo"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	raw, err := q.Pop()
	if err != nil {
		t.Fatalf("expected queued message: %v", err)
	}
	var msg models.QueuedMessage
	json.Unmarshal(raw, &msg)
	if msg.From != "1555" || msg.Text != "START:demo" || msg.Status != "pending" {
		t.Fatalf("unexpected simulated message: %+v", msg)
	}
}

func TestHealthAndReady(t *testing.T) {
	openStore(t)
	a, _ := newTestAPI(t)
	router := a.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz failed: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz failed: %d", rec.Code)
	}
}
