// Package gateway sends outbound WhatsApp messages through the Cloud API.
//
// The client speaks the Graph messages endpoint
// (POST /<version>/<phone_number_id>/messages) and knows three payload
// shapes: plain text, interactive button (up to 3 choices) and
// interactive list. Transient failures (network errors, 429 and 5xx
// responses) are retried a fixed number of times with linear backoff.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/telemetry"
)

// Sender is the outbound message surface the session engine depends on.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Option) error
	SendList(ctx context.Context, to, body, buttonLabel string, options []models.Option) error
}

const (
	defaultBaseURL    = "https://graph.facebook.com/v18.0"
	defaultTimeout    = 10 * time.Second
	maxRetries        = 2
	backoffStep       = time.Second
	maxButtonRows     = 3
	maxRowTitleLen    = 24
	maxButtonTitleLen = 20
)

// Client sends messages via the WhatsApp Cloud API over fasthttp.
type Client struct {
	baseURL       string
	phoneNumberID string
	token         string
	http          *fasthttp.Client
	limiter       *rate.Limiter
	timeout       time.Duration
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	Timeout       time.Duration
	// RatePerSec caps outbound sends; 0 disables limiting.
	RatePerSec float64
}

// New returns a Client for the given Cloud API credentials.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	to := opts.Timeout
	if to <= 0 {
		to = defaultTimeout
	}
	var lim *rate.Limiter
	if opts.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1)
	}
	return &Client{
		baseURL:       base,
		phoneNumberID: opts.PhoneNumberID,
		token:         opts.Token,
		http: &fasthttp.Client{
			ReadTimeout:  to,
			WriteTimeout: to,
		},
		limiter: lim,
		timeout: to,
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type interactivePayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Interactive      interactive `json:"interactive"`
}

type interactive struct {
	Type   string       `json:"type"`
	Body   bodyText     `json:"body"`
	Action *action      `json:"action,omitempty"`
	Footer *footerText  `json:"footer,omitempty"`
	Header *headerBlock `json:"header,omitempty"`
}

type bodyText struct {
	Text string `json:"text"`
}

type footerText struct {
	Text string `json:"text"`
}

type headerBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type action struct {
	Button   string       `json:"button,omitempty"`
	Buttons  []replyBtn   `json:"buttons,omitempty"`
	Sections []sectionDef `json:"sections,omitempty"`
}

type replyBtn struct {
	Type  string `json:"type"`
	Reply reply  `json:"reply"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sectionDef struct {
	Title string   `json:"title,omitempty"`
	Rows  []rowDef `json:"rows"`
}

type rowDef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	p := textPayload{MessagingProduct: "whatsapp", To: to, Type: "text"}
	p.Text.Body = body
	return c.post(ctx, p)
}

// SendButtons sends an interactive reply-button message. At most three
// buttons are allowed by the Cloud API; extra options are an error and
// the caller should use SendList instead.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []models.Option) error {
	if len(buttons) == 0 || len(buttons) > maxButtonRows {
		return fmt.Errorf("gateway: button count %d out of range [1,%d]", len(buttons), maxButtonRows)
	}
	btns := make([]replyBtn, 0, len(buttons))
	for _, o := range buttons {
		btns = append(btns, replyBtn{Type: "reply", Reply: reply{ID: o.ID, Title: truncate(o.Label, maxButtonTitleLen)}})
	}
	p := interactivePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "interactive",
		Interactive: interactive{
			Type:   "button",
			Body:   bodyText{Text: body},
			Action: &action{Buttons: btns},
		},
	}
	return c.post(ctx, p)
}

// SendList sends an interactive list message for choice sets too large
// for reply buttons.
func (c *Client) SendList(ctx context.Context, to, body, buttonLabel string, options []models.Option) error {
	if len(options) == 0 {
		return fmt.Errorf("gateway: empty option list")
	}
	rows := make([]rowDef, 0, len(options))
	for _, o := range options {
		rows = append(rows, rowDef{ID: o.ID, Title: truncate(o.Label, maxRowTitleLen)})
	}
	if buttonLabel == "" {
		buttonLabel = "Options"
	}
	p := interactivePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "interactive",
		Interactive: interactive{
			Type:   "list",
			Body:   bodyText{Text: body},
			Action: &action{Button: truncate(buttonLabel, maxButtonTitleLen), Sections: []sectionDef{{Rows: rows}}},
		},
	}
	return c.post(ctx, p)
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// linear backoff: 1s after first failure, 2s after second
			delay := time.Duration(attempt) * backoffStep
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		status, rbody, err := c.do(url, body)
		if err != nil {
			lastErr = fmt.Errorf("gateway: send: %w", err)
			logger.Warn("gateway_send_retry", "attempt", attempt, "error", err)
			continue
		}
		if status >= 200 && status < 300 {
			telemetry.GatewaySends.WithLabelValues("ok").Inc()
			return nil
		}
		lastErr = fmt.Errorf("gateway: send: status %d: %s", status, truncate(string(rbody), 200))
		if status == fasthttp.StatusTooManyRequests || status >= 500 {
			logger.Warn("gateway_send_retry", "attempt", attempt, "status", status)
			continue
		}
		// 4xx other than 429 will not improve with retries
		telemetry.GatewaySends.WithLabelValues("error").Inc()
		return lastErr
	}
	telemetry.GatewaySends.WithLabelValues("error").Inc()
	return lastErr
}

func (c *Client) do(url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return 0, nil, err
	}
	out := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
