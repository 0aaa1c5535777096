// Package engine drives conversational form sessions. Each inbound
// message either starts a session (START:<key>), answers the field the
// session is currently waiting on, or is ignored. All session state is
// read fresh from the store per message, so redelivered messages
// re-validate against the current field instead of corrupting state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"formflow/pkg/gateway"
	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/store"
	"formflow/pkg/validate"
)

// Outcome classifies what a processed message did to its session.
type Outcome int

const (
	// OutcomeIgnored: no session was touched (no active session, unknown
	// or unpublished form key, or a message for a finished session).
	OutcomeIgnored Outcome = iota
	// OutcomeStarted: a session was created or resumed and its current
	// field prompted.
	OutcomeStarted
	// OutcomeAdvanced: an answer was accepted and the next field prompted.
	OutcomeAdvanced
	// OutcomeCompleted: the final answer was accepted and the session closed.
	OutcomeCompleted
	// OutcomeRejected: validation failed; the respondent was re-prompted
	// and the session did not move.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeCompleted:
		return "completed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "ignored"
	}
}

var startRe = regexp.MustCompile(`^START:([A-Za-z0-9]+)$`)

const (
	replyNoSession    = "Please use the link provided to start a form."
	replyFormUnknown  = "Sorry, that form is not available."
	replyCompleted    = "✅ Thank you! Your response has been submitted."
	listButtonLabel   = "Choose"
	defaultMaxButtons = 3
)

// Engine processes queued messages against the session store and sends
// replies through the injected gateway.
type Engine struct {
	sender     gateway.Sender
	maxButtons int
	now        func() time.Time
}

// Options tunes an Engine; zero values take defaults.
type Options struct {
	// MaxButtons is the provider's reply-button cap (3 for WhatsApp).
	MaxButtons int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New returns an Engine sending replies through s.
func New(s gateway.Sender, opts Options) *Engine {
	mb := opts.MaxButtons
	if mb <= 0 {
		mb = defaultMaxButtons
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{sender: s, maxButtons: mb, now: now}
}

// Process handles one inbound message. The returned error is non-nil
// only for infrastructure failures (store, gateway); everything a
// respondent can cause is expressed as an Outcome and is never retried.
func (e *Engine) Process(ctx context.Context, msg *models.QueuedMessage) (Outcome, error) {
	text := strings.TrimSpace(msg.Text)
	if m := startRe.FindStringSubmatch(text); m != nil {
		return e.start(ctx, msg, m[1])
	}

	sess, err := store.ActiveSessionByPhone(msg.From)
	if errors.Is(err, store.ErrNotFound) {
		if serr := e.sender.SendText(ctx, msg.From, replyNoSession); serr != nil {
			return OutcomeIgnored, serr
		}
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}
	return e.answer(ctx, sess, msg)
}

func (e *Engine) start(ctx context.Context, msg *models.QueuedMessage, key string) (Outcome, error) {
	form, err := store.GetForm(key)
	if errors.Is(err, store.ErrNotFound) {
		return e.rejectStart(ctx, msg.From, key)
	}
	if err != nil {
		return OutcomeIgnored, err
	}
	if !form.Published {
		return e.rejectStart(ctx, msg.From, key)
	}

	fields, err := store.ListFields(key)
	if err != nil {
		return OutcomeIgnored, err
	}
	if len(fields) == 0 {
		return OutcomeIgnored, fmt.Errorf("engine: form %s has no fields", key)
	}

	sess, err := store.ActiveSession(key, msg.From)
	switch {
	case err == nil:
		// resume: re-prompt whatever field the session is waiting on
		idx := fieldIndex(fields, sess.CurrentField)
		if idx < 0 {
			idx = 0
		}
		logger.Info("session_resumed", "session", sess.ID, "form", key, "field", fields[idx].ID)
		if serr := e.prompt(ctx, msg.From, fields[idx], idx+1, len(fields)); serr != nil {
			return OutcomeIgnored, serr
		}
		return OutcomeStarted, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return OutcomeIgnored, err
	}

	sess, err = store.CreateSession(key, msg.From, msg.ContactName)
	if err != nil {
		return OutcomeIgnored, err
	}
	if err := store.SetCurrentField(sess.ID, fields[0].ID); err != nil {
		return OutcomeIgnored, err
	}
	logger.Info("session_started", "session", sess.ID, "form", key, "phone", msg.From)
	if serr := e.prompt(ctx, msg.From, fields[0], 1, len(fields)); serr != nil {
		return OutcomeIgnored, serr
	}
	return OutcomeStarted, nil
}

func (e *Engine) rejectStart(ctx context.Context, phone, key string) (Outcome, error) {
	logger.Warn("start_rejected", "form", key, "phone", phone)
	if err := e.sender.SendText(ctx, phone, replyFormUnknown); err != nil {
		return OutcomeIgnored, err
	}
	return OutcomeIgnored, nil
}

func (e *Engine) answer(ctx context.Context, sess models.Session, msg *models.QueuedMessage) (Outcome, error) {
	if sess.Status != models.StatusInProgress {
		return OutcomeIgnored, nil
	}
	fields, err := store.ListFields(sess.FormKey)
	if err != nil {
		return OutcomeIgnored, err
	}
	idx := fieldIndex(fields, sess.CurrentField)
	if idx < 0 {
		return OutcomeIgnored, fmt.Errorf("engine: session %s points at unknown field %q", sess.ID, sess.CurrentField)
	}
	field := fields[idx]

	raw := msg.Text
	if msg.InteractiveReplyID != "" {
		raw = msg.InteractiveReplyID
	}
	res := validate.Field(raw, field)
	if !res.OK {
		if serr := e.sender.SendText(ctx, msg.From, res.Err); serr != nil {
			return OutcomeRejected, serr
		}
		return OutcomeRejected, nil
	}

	if err := store.UpsertAnswer(sess.ID, field.ID, res.Value); err != nil {
		return OutcomeRejected, err
	}

	next := idx + 1
	if next >= len(fields) {
		if err := store.CompleteSession(sess.ID); err != nil {
			return OutcomeCompleted, err
		}
		logger.Info("session_completed", "session", sess.ID, "form", sess.FormKey)
		if serr := e.sender.SendText(ctx, msg.From, replyCompleted); serr != nil {
			return OutcomeCompleted, serr
		}
		return OutcomeCompleted, nil
	}

	if err := store.SetCurrentField(sess.ID, fields[next].ID); err != nil {
		return OutcomeAdvanced, err
	}
	if serr := e.prompt(ctx, msg.From, fields[next], next+1, len(fields)); serr != nil {
		return OutcomeAdvanced, serr
	}
	return OutcomeAdvanced, nil
}

// prompt sends the question for a field, shaped by its kind: selects
// go out as reply buttons (truncated to the provider max), large
// multiselects as a list, everything else as plain text.
func (e *Engine) prompt(ctx context.Context, phone string, f models.Field, num, total int) error {
	header := fmt.Sprintf("%s (%d/%d)", f.Label, num, total)

	switch {
	case f.Kind == models.KindSelect && len(f.Meta.Options) > 0:
		opts := f.Meta.Options
		if len(opts) > e.maxButtons {
			opts = opts[:e.maxButtons]
		}
		return e.sender.SendButtons(ctx, phone, header, opts)
	case f.Kind == models.KindMultiSelect && len(f.Meta.Options) > e.maxButtons:
		return e.sender.SendList(ctx, phone, header, listButtonLabel, f.Meta.Options)
	default:
		return e.sender.SendText(ctx, phone, header)
	}
}

func fieldIndex(fields []models.Field, id string) int {
	for i, f := range fields {
		if f.ID == id {
			return i
		}
	}
	return -1
}
