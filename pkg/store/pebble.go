// Package store is the durable access layer for forms, sessions and
// answers, backed by a single Pebble database. The session engine is the
// only writer of sessions and answers; forms are written by the admin
// surface and read-only to the engine.
//
// Key schema:
//
//	form:<key>:meta                Form JSON
//	form:<key>:field:<%05d order>  Field JSON
//	session:<id>:meta              Session JSON
//	session:<id>:answer:<fieldID>  Answer JSON
//	active:<phone>:<formKey>       session ID (in_progress index)
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"formflow/pkg/logger"
	"formflow/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) the Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

func notOpen() error { return fmt.Errorf("pebble not opened; call store.Open first") }

func formKey(key string) []byte { return []byte("form:" + key + ":meta") }

func fieldKey(key string, order int) []byte {
	return []byte(fmt.Sprintf("form:%s:field:%05d", key, order))
}

func sessionKey(id string) []byte { return []byte("session:" + id + ":meta") }

func answerKey(sid, fid string) []byte {
	return []byte("session:" + sid + ":answer:" + fid)
}

func activeKey(phone, form string) []byte { return []byte("active:" + phone + ":" + form) }

func getJSON(key []byte, out any) error {
	if db == nil {
		return notOpen()
	}
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(v, out)
}

func setJSON(key []byte, v any) error {
	if db == nil {
		return notOpen()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return db.Set(key, b, pebble.Sync)
}

// SaveForm stores the form metadata and its full field sequence. Existing
// fields for the key are replaced so order indices stay a total order.
func SaveForm(form models.Form, fields []models.Field) error {
	if db == nil {
		return notOpen()
	}
	if form.Key == "" {
		return fmt.Errorf("form key required")
	}
	if err := deletePrefix([]byte("form:" + form.Key + ":field:")); err != nil {
		return err
	}
	form.FieldCount = len(fields)
	if form.CreatedTS == 0 {
		form.CreatedTS = time.Now().UTC().UnixNano()
	}
	if err := setJSON(formKey(form.Key), form); err != nil {
		logger.Error("save_form_failed", "form", form.Key, "error", err)
		return err
	}
	for _, f := range fields {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.FormKey = form.Key
		if err := setJSON(fieldKey(form.Key, f.OrderIdx), f); err != nil {
			return err
		}
	}
	logger.Info("form_saved", "form", form.Key, "fields", len(fields))
	return nil
}

// GetForm returns the form metadata for a key.
func GetForm(key string) (models.Form, error) {
	var f models.Form
	err := getJSON(formKey(key), &f)
	return f, err
}

// ListFields returns the form's fields ordered by order index.
func ListFields(formKeyStr string) ([]models.Field, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("form:" + formKeyStr + ":field:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Field
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var f models.Field
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("invalid field record %q: %w", iter.Key(), err)
		}
		out = append(out, f)
	}
	return out, iter.Error()
}

// CreateSession creates a fresh in_progress session for (form, phone) and
// indexes it as the active session for that pair. Callers must have checked
// for an existing active session first; resume-or-create is the only
// session creation path.
func CreateSession(formKeyStr, phone, contactName string) (models.Session, error) {
	now := time.Now().UTC().UnixNano()
	s := models.Session{
		ID:             uuid.NewString(),
		FormKey:        formKeyStr,
		Phone:          phone,
		ContactName:    contactName,
		Status:         models.StatusInProgress,
		CreatedTS:      now,
		LastActivityTS: now,
	}
	if err := setJSON(sessionKey(s.ID), s); err != nil {
		logger.Error("create_session_failed", "form", formKeyStr, "phone", phone, "error", err)
		return models.Session{}, err
	}
	if err := db.Set(activeKey(phone, formKeyStr), []byte(s.ID), pebble.Sync); err != nil {
		return models.Session{}, err
	}
	logger.Info("session_created", "session", s.ID, "form", formKeyStr, "phone", phone)
	return s, nil
}

// GetSession returns a session by ID.
func GetSession(id string) (models.Session, error) {
	var s models.Session
	err := getJSON(sessionKey(id), &s)
	return s, err
}

// ActiveSession returns the in_progress session for (form, phone), or
// ErrNotFound.
func ActiveSession(formKeyStr, phone string) (models.Session, error) {
	if db == nil {
		return models.Session{}, notOpen()
	}
	v, closer, err := db.Get(activeKey(phone, formKeyStr))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, err
	}
	id := string(v)
	closer.Close()
	return GetSession(id)
}

// ActiveSessionByPhone returns the respondent's most-recently-active
// in_progress session across all forms, or ErrNotFound. Continuation
// messages carry no form reference, so this lookup ignores form.
func ActiveSessionByPhone(phone string) (models.Session, error) {
	if db == nil {
		return models.Session{}, notOpen()
	}
	prefix := []byte("active:" + phone + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return models.Session{}, err
	}
	defer iter.Close()
	var best models.Session
	found := false
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		s, err := GetSession(string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return models.Session{}, err
		}
		if !found || s.LastActivityTS > best.LastActivityTS {
			best = s
			found = true
		}
	}
	if err := iter.Error(); err != nil {
		return models.Session{}, err
	}
	if !found {
		return models.Session{}, ErrNotFound
	}
	return best, nil
}

// SetCurrentField advances the session's field pointer and touches
// LastActivityTS. The pointer never moves backward; callers drive it
// strictly along the order index.
func SetCurrentField(sessionID, fieldID string) error {
	s, err := GetSession(sessionID)
	if err != nil {
		return err
	}
	s.CurrentField = fieldID
	s.LastActivityTS = time.Now().UTC().UnixNano()
	if err := setJSON(sessionKey(sessionID), s); err != nil {
		logger.Error("set_current_field_failed", "session", sessionID, "error", err)
		return err
	}
	return nil
}

// UpsertAnswer records the normalized value for (session, field),
// overwriting any earlier value for the same pair.
func UpsertAnswer(sessionID, fieldID, value string) error {
	a := models.Answer{
		SessionID: sessionID,
		FieldID:   fieldID,
		Value:     value,
		TS:        time.Now().UTC().UnixNano(),
	}
	if err := setJSON(answerKey(sessionID, fieldID), a); err != nil {
		logger.Error("upsert_answer_failed", "session", sessionID, "field", fieldID, "error", err)
		return err
	}
	return nil
}

// ListAnswers returns all answers recorded for a session.
func ListAnswers(sessionID string) ([]models.Answer, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("session:" + sessionID + ":answer:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Answer
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var a models.Answer
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, fmt.Errorf("invalid answer record %q: %w", iter.Key(), err)
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// CompleteSession marks the session completed, clears the active index and
// records CompletedTS plus the whole-second completion time. The elapsed
// value is computed here, once; repeat calls on a completed session are
// no-ops.
func CompleteSession(sessionID string) error {
	s, err := GetSession(sessionID)
	if err != nil {
		return err
	}
	if s.Status == models.StatusCompleted {
		return nil
	}
	now := time.Now().UTC()
	s.Status = models.StatusCompleted
	s.CurrentField = ""
	s.CompletedTS = now.UnixNano()
	s.CompletionSecs = (s.CompletedTS - s.CreatedTS) / int64(time.Second)
	s.LastActivityTS = s.CompletedTS
	if err := setJSON(sessionKey(sessionID), s); err != nil {
		logger.Error("complete_session_failed", "session", sessionID, "error", err)
		return err
	}
	if err := db.Delete(activeKey(s.Phone, s.FormKey), pebble.Sync); err != nil {
		return err
	}
	logger.Info("session_completed", "session", sessionID, "secs", s.CompletionSecs)
	return nil
}

// AbandonSession marks an idle session abandoned and clears its active
// index entry.
func AbandonSession(sessionID string) error {
	s, err := GetSession(sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.StatusInProgress {
		return nil
	}
	s.Status = models.StatusAbandoned
	if err := setJSON(sessionKey(sessionID), s); err != nil {
		return err
	}
	if err := db.Delete(activeKey(s.Phone, s.FormKey), pebble.Sync); err != nil {
		return err
	}
	logger.Info("session_abandoned", "session", sessionID)
	return nil
}

// ListSessions returns all sessions, optionally filtered by status
// ("" matches everything). Used by the admin stats and the retention
// sweeper; session volume is bounded by form traffic, not DB size.
func ListSessions(status string) ([]models.Session, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var s models.Session
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			return nil, fmt.Errorf("invalid session record %q: %w", iter.Key(), err)
		}
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	return out, iter.Error()
}

// ListForms returns all stored forms.
func ListForms() ([]models.Form, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("form:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Form
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var f models.Form
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("invalid form record %q: %w", iter.Key(), err)
		}
		out = append(out, f)
	}
	return out, iter.Error()
}

// GetMeta reads a system metadata key. It returns an empty string when the
// key is absent.
func GetMeta(key string) (string, error) {
	if db == nil {
		return "", notOpen()
	}
	v, closer, err := db.Get([]byte("system:" + key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	out := string(v)
	closer.Close()
	return out, nil
}

// SetMeta writes a system metadata key.
func SetMeta(key, value string) error {
	if db == nil {
		return notOpen()
	}
	return db.Set([]byte("system:"+key), []byte(value), pebble.Sync)
}

// DeleteMeta removes a system metadata key.
func DeleteMeta(key string) error {
	if db == nil {
		return notOpen()
	}
	return db.Delete([]byte("system:"+key), pebble.Sync)
}

func deletePrefix(prefix []byte) error {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}
