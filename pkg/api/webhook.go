package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/utils"
)

// defaultMaxBody bounds the request body read; provider payloads are
// small, anything larger is abuse.
const defaultMaxBody = 1 << 20

// webhookVerify answers Meta's subscription handshake: echo
// hub.challenge when hub.verify_token matches.
func (a *API) webhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if a.VerifyToken == "" {
		logger.Error("webhook_verify_token_unset")
		http.Error(w, "webhook token not configured", http.StatusInternalServerError)
		return
	}
	if token != a.VerifyToken {
		logger.Warn("webhook_verify_bad_token", "remote", r.RemoteAddr)
		http.Error(w, "invalid verification token", http.StatusForbidden)
		return
	}
	if mode != "subscribe" {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	if challenge == "" {
		http.Error(w, "missing hub.challenge", http.StatusBadRequest)
		return
	}
	logger.Info("webhook_verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// webhookReceive verifies the payload signature, extracts the inbound
// messages and enqueues each one. After the signature check it always
// answers 200: the provider must never be driven into redelivery by our
// internal failures, the dead-letter path owns those.
func (a *API) webhookReceive(w http.ResponseWriter, r *http.Request) {
	maxBody := a.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		logger.Warn("webhook_body_read_failed", "error", err)
		a.ok(w)
		return
	}

	if !a.signatureValid(body, r.Header.Get("X-Hub-Signature-256")) {
		logger.Warn("webhook_invalid_signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msgs := extractMessages(body)
	queuedAt := a.Now().UTC().Format(time.RFC3339)
	for i := range msgs {
		msgs[i].QueuedAt = queuedAt
		msgs[i].Status = "pending"
		raw, merr := json.Marshal(&msgs[i])
		if merr != nil {
			logger.Error("webhook_marshal_failed", "message", msgs[i].MessageID, "error", merr)
			continue
		}
		if qerr := a.Queue.PushBack(raw); qerr != nil {
			logger.Error("webhook_enqueue_failed", "message", msgs[i].MessageID, "error", qerr)
			continue
		}
		logger.Info("webhook_message_queued", "message", msgs[i].MessageID, "from", msgs[i].From)
	}
	a.ok(w)
}

func (a *API) ok(w http.ResponseWriter) { utils.JSONOK(w) }

// signatureValid checks X-Hub-Signature-256 ("sha256=<hex>") over the
// raw body with the shared secret, in constant time.
func (a *API) signatureValid(body []byte, header string) bool {
	if a.WebhookSecret == "" || header == "" {
		return false
	}
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}

// Webhook payload shapes, per the WhatsApp Cloud API.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Messages         []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Button *struct {
						Text    string `json:"text"`
						Payload string `json:"payload"`
					} `json:"button"`
					Interactive *struct {
						Type        string `json:"type"`
						ButtonReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
						ListReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"list_reply"`
					} `json:"interactive"`
				} `json:"messages"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// extractMessages flattens the provider envelope into queue records.
// Unparseable payloads yield an empty slice, not an error: the webhook
// acks everything it can and ignores the rest.
func extractMessages(body []byte) []models.QueuedMessage {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		logger.Warn("webhook_payload_unparseable", "error", err)
		return nil
	}
	var out []models.QueuedMessage
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			contactName := ""
			if len(ch.Value.Contacts) > 0 {
				contactName = ch.Value.Contacts[0].Profile.Name
			}
			for _, m := range ch.Value.Messages {
				qm := models.QueuedMessage{
					MessageID:   m.ID,
					From:        m.From,
					Type:        m.Type,
					ContactName: contactName,
				}
				if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					qm.Timestamp = ts * 1000
				}
				if m.Text != nil {
					qm.Text = m.Text.Body
				}
				if m.Button != nil && qm.Text == "" {
					qm.Text = m.Button.Payload
				}
				if m.Interactive != nil {
					if br := m.Interactive.ButtonReply; br != nil {
						qm.InteractiveReplyID = br.ID
						qm.InteractiveReplyTitle = br.Title
					} else if lr := m.Interactive.ListReply; lr != nil {
						qm.InteractiveReplyID = lr.ID
						qm.InteractiveReplyTitle = lr.Title
					}
				}
				out = append(out, qm)
			}
		}
	}
	return out
}
