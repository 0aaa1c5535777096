package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/store"
	"formflow/pkg/utils"
)

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	depth, err := a.Queue.Len()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dead, err := a.Queue.DeadLen()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	running := a.Worker != nil && a.Worker.Running()
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Running     bool `json:"running"`
		Depth       int  `json:"depth"`
		DeadLetters int  `json:"dead_letters"`
	}{Running: running, Depth: depth, DeadLetters: dead})
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records, err := a.Queue.ListDead(limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, json.RawMessage(rec))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		DeadLetters []json.RawMessage `json:"dead_letters"`
	}{DeadLetters: out})
}

func (a *API) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.PurgeDead(); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("dead_letters_purged")
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "purged"})
}

var statsPeriods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// stats summarizes session activity within a trailing period.
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "24h"
	}
	d, ok := statsPeriods[period]
	if !ok {
		utils.JSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid period %q", period))
		return
	}
	cutoff := a.Now().Add(-d).UnixNano()

	sessions, err := store.ListSessions("")
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var total, completed, abandoned, inProgress int
	var secsSum int64
	for _, s := range sessions {
		if s.CreatedTS < cutoff {
			continue
		}
		total++
		switch s.Status {
		case models.StatusCompleted:
			completed++
			secsSum += s.CompletionSecs
		case models.StatusAbandoned:
			abandoned++
		case models.StatusInProgress:
			inProgress++
		}
	}
	var rate float64
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	var avgSecs float64
	if completed > 0 {
		avgSecs = float64(secsSum) / float64(completed)
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Period         string  `json:"period"`
		Total          int     `json:"total"`
		Completed      int     `json:"completed"`
		Abandoned      int     `json:"abandoned"`
		InProgress     int     `json:"in_progress"`
		CompletionRate float64 `json:"completion_rate"`
		AvgCompletionS float64 `json:"avg_completion_seconds"`
	}{
		Period:         period,
		Total:          total,
		Completed:      completed,
		Abandoned:      abandoned,
		InProgress:     inProgress,
		CompletionRate: rate,
		AvgCompletionS: avgSecs,
	})
}

type createFormRequest struct {
	Key       string         `json:"key"`
	Title     string         `json:"title"`
	Published bool           `json:"is_published"`
	Fields    []models.Field `json:"fields"`
}

func (a *API) createForm(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Key == "" {
		utils.JSONError(w, http.StatusBadRequest, "key is required")
		return
	}
	if len(req.Fields) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "at least one field is required")
		return
	}
	form := models.Form{
		Key:        req.Key,
		Title:      req.Title,
		Published:  req.Published,
		FieldCount: len(req.Fields),
		CreatedTS:  a.Now().UnixNano(),
	}
	if err := store.SaveForm(form, req.Fields); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("form_saved", "form", form.Key, "fields", len(req.Fields))
	_ = utils.JSONWrite(w, http.StatusCreated, form)
}

func (a *API) listForms(w http.ResponseWriter, r *http.Request) {
	forms, err := store.ListForms()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Forms []models.Form `json:"forms"`
	}{Forms: forms})
}

type simulateRequest struct {
	From               string `json:"from"`
	Text               string `json:"text"`
	InteractiveReplyID string `json:"interactive_reply_id,omitempty"`
	ContactName        string `json:"contact_name,omitempty"`
}

// simulateMessage injects a message as if the webhook had received it,
// for testing flows without a provider round trip.
func (a *API) simulateMessage(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.From == "" {
		utils.JSONError(w, http.StatusBadRequest, "from is required")
		return
	}
	now := a.Now()
	msg := models.QueuedMessage{
		MessageID:          fmt.Sprintf("sim-%d", now.UnixNano()),
		From:               req.From,
		Timestamp:          now.UnixMilli(),
		Type:               "text",
		Text:               req.Text,
		InteractiveReplyID: req.InteractiveReplyID,
		ContactName:        req.ContactName,
		QueuedAt:           now.UTC().Format(time.RFC3339),
		Status:             "pending",
	}
	raw, err := json.Marshal(&msg)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.Queue.PushBack(raw); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("message_simulated", "message", msg.MessageID, "from", msg.From)
	_ = utils.JSONWrite(w, http.StatusAccepted, msg)
}
