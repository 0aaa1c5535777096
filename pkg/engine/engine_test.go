package engine

import (
	"context"
	"strings"
	"testing"

	"formflow/pkg/models"
	"formflow/pkg/store"
)

// sent records one outbound message for assertions.
type sent struct {
	kind  string // "text", "buttons", "list"
	to    string
	body  string
	items []models.Option
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{kind: "text", to: to, body: body})
	return nil
}

func (f *fakeSender) SendButtons(ctx context.Context, to, body string, options []models.Option) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{kind: "buttons", to: to, body: body, items: options})
	return nil
}

func (f *fakeSender) SendList(ctx context.Context, to, body, button string, options []models.Option) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{kind: "list", to: to, body: body, items: options})
	return nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("expected a reply to have been sent")
	}
	return f.sent[len(f.sent)-1]
}

func setup(t *testing.T, fields []models.Field) (*Engine, *fakeSender) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SaveForm(models.Form{Key: "demo", Title: "Demo", Published: true}, fields); err != nil {
		t.Fatalf("failed to save form: %v", err)
	}
	fs := &fakeSender{}
	return New(fs, Options{}), fs
}

func textFields() []models.Field {
	return []models.Field{
		{ID: "f0", Label: "Name", Kind: models.KindShortText, Required: true, OrderIdx: 0},
		{ID: "f1", Label: "Email", Kind: models.KindEmail, Required: true, OrderIdx: 1},
	}
}

func msg(from, text string) *models.QueuedMessage {
	return &models.QueuedMessage{MessageID: "m1", From: from, Type: "text", Text: text}
}

func TestStartCreatesSessionAndPrompts(t *testing.T) {
	eng, fs := setup(t, textFields())
	out, err := eng.Process(context.Background(), msg("1555", "START:demo"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeStarted {
		t.Fatalf("expected started, got %v", out)
	}
	if got := fs.last(t); got.kind != "text" || got.body != "Name (1/2)" {
		t.Fatalf("unexpected prompt: %+v", got)
	}
	sess, err := store.ActiveSession("demo", "1555")
	if err != nil {
		t.Fatalf("no active session: %v", err)
	}
	if sess.CurrentField != "f0" {
		t.Fatalf("expected pointer at first field, got %q", sess.CurrentField)
	}
}

func TestStartUnknownOrUnpublishedForm(t *testing.T) {
	eng, fs := setup(t, textFields())
	store.SaveForm(models.Form{Key: "draft", Published: false}, textFields())

	for _, text := range []string{"START:nosuch", "START:draft"} {
		out, err := eng.Process(context.Background(), msg("1555", text))
		if err != nil {
			t.Fatalf("process failed for %q: %v", text, err)
		}
		if out != OutcomeIgnored {
			t.Fatalf("expected ignored for %q, got %v", text, out)
		}
		if got := fs.last(t); got.body != "Sorry, that form is not available." {
			t.Fatalf("unexpected reply: %q", got.body)
		}
	}
}

func TestStartResumesExistingSession(t *testing.T) {
	eng, fs := setup(t, textFields())
	ctx := context.Background()
	eng.Process(ctx, msg("1555", "START:demo"))
	eng.Process(ctx, msg("1555", "Ada"))

	out, err := eng.Process(ctx, msg("1555", "START:demo"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeStarted {
		t.Fatalf("expected started on resume, got %v", out)
	}
	if got := fs.last(t); got.body != "Email (2/2)" {
		t.Fatalf("expected re-prompt of current field, got %q", got.body)
	}
	sessions, _ := store.ListSessions("")
	if len(sessions) != 1 {
		t.Fatalf("resume must not create a second session, got %d", len(sessions))
	}
}

func TestAnswerAdvancesAndCompletes(t *testing.T) {
	eng, fs := setup(t, textFields())
	ctx := context.Background()
	eng.Process(ctx, msg("1555", "START:demo"))

	out, err := eng.Process(ctx, msg("1555", "Ada Lovelace"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeAdvanced {
		t.Fatalf("expected advanced, got %v", out)
	}
	if got := fs.last(t); got.body != "Email (2/2)" {
		t.Fatalf("unexpected prompt: %q", got.body)
	}

	out, err = eng.Process(ctx, msg("1555", "ada@example.com"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", out)
	}
	if got := fs.last(t); !strings.Contains(got.body, "Thank you") {
		t.Fatalf("unexpected completion reply: %q", got.body)
	}

	sessions, _ := store.ListSessions(models.StatusCompleted)
	if len(sessions) != 1 {
		t.Fatalf("expected completed session, got %d", len(sessions))
	}
	answers, _ := store.ListAnswers(sessions[0].ID)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
}

func TestInvalidAnswerRejectsWithoutAdvancing(t *testing.T) {
	eng, fs := setup(t, textFields())
	ctx := context.Background()
	eng.Process(ctx, msg("1555", "START:demo"))
	eng.Process(ctx, msg("1555", "Ada"))

	out, err := eng.Process(ctx, msg("1555", "not-an-email"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeRejected {
		t.Fatalf("expected rejected, got %v", out)
	}
	if got := fs.last(t); got.body != "Email must be a valid email address" {
		t.Fatalf("unexpected rejection: %q", got.body)
	}
	sess, _ := store.ActiveSession("demo", "1555")
	if sess.CurrentField != "f1" {
		t.Fatalf("pointer must not move on rejection, got %q", sess.CurrentField)
	}
}

func TestRedeliveredMessageDoesNotCorruptState(t *testing.T) {
	eng, _ := setup(t, textFields())
	ctx := context.Background()
	eng.Process(ctx, msg("1555", "START:demo"))
	eng.Process(ctx, msg("1555", "Ada"))

	// redelivery while still on the email field: re-validated against the
	// current field, so the name is rejected and nothing moves
	out, err := eng.Process(ctx, msg("1555", "Ada"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeRejected {
		t.Fatalf("expected rejected on redelivery, got %v", out)
	}

	if out, _ = eng.Process(ctx, msg("1555", "ada@example.com")); out != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", out)
	}

	// redelivery after completion is a harmless noop
	out, err = eng.Process(ctx, msg("1555", "ada@example.com"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeIgnored {
		t.Fatalf("expected ignored after completion, got %v", out)
	}
	sessions, _ := store.ListSessions("")
	if len(sessions) != 1 {
		t.Fatalf("expected a single session, got %d", len(sessions))
	}
	answers, _ := store.ListAnswers(sessions[0].ID)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
}

func TestEmailThenRatingFlow(t *testing.T) {
	fields := []models.Field{
		{ID: "f0", Label: "Email", Kind: models.KindEmail, Required: true, OrderIdx: 0},
		{ID: "f1", Label: "Rating", Kind: models.KindRating, Required: true, OrderIdx: 1},
	}
	eng, fs := setup(t, fields)
	ctx := context.Background()

	steps := []struct {
		text string
		out  Outcome
	}{
		{"START:demo", OutcomeStarted},
		{"not-an-email", OutcomeRejected},
		{"a@b.com", OutcomeAdvanced},
		{"7", OutcomeRejected},
		{"4", OutcomeCompleted},
	}
	for _, s := range steps {
		out, err := eng.Process(ctx, msg("2348011111111", s.text))
		if err != nil {
			t.Fatalf("process %q failed: %v", s.text, err)
		}
		if out != s.out {
			t.Fatalf("message %q: expected %v, got %v (last reply %q)", s.text, s.out, out, fs.last(t).body)
		}
	}

	sessions, _ := store.ListSessions(models.StatusCompleted)
	if len(sessions) != 1 {
		t.Fatalf("expected completed session, got %d", len(sessions))
	}
	answers, _ := store.ListAnswers(sessions[0].ID)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	for _, a := range answers {
		if a.FieldID == "f1" && a.Value != "4" {
			t.Fatalf("expected normalized rating 4, got %q", a.Value)
		}
	}
}

func TestMessageWithoutSessionIsIgnored(t *testing.T) {
	eng, fs := setup(t, textFields())
	out, err := eng.Process(context.Background(), msg("1555", "hello"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeIgnored {
		t.Fatalf("expected ignored, got %v", out)
	}
	if got := fs.last(t); got.body != "Please use the link provided to start a form." {
		t.Fatalf("unexpected reply: %q", got.body)
	}
}

func TestInteractiveReplyTakesPrecedence(t *testing.T) {
	opts := []models.Option{{ID: "a", Label: "Alpha"}, {ID: "b", Label: "Beta"}}
	fields := []models.Field{
		{ID: "f0", Label: "Pick", Kind: models.KindSelect, Required: true, OrderIdx: 0, Meta: models.FieldMeta{Options: opts}},
	}
	eng, fs := setup(t, fields)
	ctx := context.Background()
	eng.Process(ctx, msg("1555", "START:demo"))
	if got := fs.last(t); got.kind != "buttons" || len(got.items) != 2 {
		t.Fatalf("expected reply buttons, got %+v", got)
	}

	m := msg("1555", "some stray text")
	m.InteractiveReplyID = "b"
	out, err := eng.Process(ctx, m)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", out)
	}
	sessions, _ := store.ListSessions(models.StatusCompleted)
	answers, _ := store.ListAnswers(sessions[0].ID)
	if len(answers) != 1 || answers[0].Value != "b" {
		t.Fatalf("expected option ID recorded, got %+v", answers)
	}
}

func TestSelectOverButtonMaxTruncates(t *testing.T) {
	opts := []models.Option{
		{ID: "a", Label: "A"}, {ID: "b", Label: "B"},
		{ID: "c", Label: "C"}, {ID: "d", Label: "D"},
	}
	fields := []models.Field{
		{ID: "f0", Label: "Pick", Kind: models.KindSelect, Required: true, OrderIdx: 0, Meta: models.FieldMeta{Options: opts}},
	}
	eng, fs := setup(t, fields)
	eng.Process(context.Background(), msg("1555", "START:demo"))
	got := fs.last(t)
	if got.kind != "buttons" || len(got.items) != 3 {
		t.Fatalf("select with 4 options must send the first 3 as buttons, got %+v", got)
	}
	if got.items[0].ID != "a" || got.items[2].ID != "c" {
		t.Fatalf("expected options truncated in order, got %+v", got.items)
	}
}

func TestMultiSelectOverButtonMaxUsesList(t *testing.T) {
	opts := []models.Option{
		{ID: "a", Label: "A"}, {ID: "b", Label: "B"},
		{ID: "c", Label: "C"}, {ID: "d", Label: "D"},
	}
	fields := []models.Field{
		{ID: "f0", Label: "Pick", Kind: models.KindMultiSelect, Required: true, OrderIdx: 0, Meta: models.FieldMeta{Options: opts}},
	}
	eng, fs := setup(t, fields)
	eng.Process(context.Background(), msg("1555", "START:demo"))
	if got := fs.last(t); got.kind != "list" || len(got.items) != 4 {
		t.Fatalf("expected list message for multiselect with >3 options, got %+v", got)
	}
}

func TestStartPatternIsStrict(t *testing.T) {
	eng, fs := setup(t, textFields())
	ctx := context.Background()
	// trailing text after the key must not be treated as a start
	out, _ := eng.Process(ctx, msg("1555", "START:demo please"))
	if out != OutcomeIgnored {
		t.Fatalf("expected ignored, got %v", out)
	}
	if got := fs.last(t); got.body != "Please use the link provided to start a form." {
		t.Fatalf("unexpected reply: %q", got.body)
	}
}
