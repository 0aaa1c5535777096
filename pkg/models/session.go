package models

// Session lifecycle states.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

// Session is one respondent's pass through one form. At most one
// in_progress session exists per (form, phone) pair; CurrentField only
// ever moves forward through the field sequence.
type Session struct {
	ID          string `json:"id"`
	FormKey     string `json:"form_key"`
	Phone       string `json:"phone"`
	ContactName string `json:"contact_name,omitempty"`
	Status      string `json:"status"`
	// CurrentField is the ID of the field awaiting an answer, or "" when
	// the session has not started or is complete.
	CurrentField string `json:"current_field,omitempty"`
	// Timestamps (ns)
	CreatedTS      int64 `json:"created_ts"`
	LastActivityTS int64 `json:"last_activity_ts"`
	CompletedTS    int64 `json:"completed_ts,omitempty"`
	// CompletionSecs is set exactly once, at completion: whole seconds
	// between creation and completion.
	CompletionSecs int64 `json:"completion_secs,omitempty"`
}

// Answer is the normalized value recorded for one (session, field) pair.
// Re-answering before the pointer advances overwrites the previous value.
type Answer struct {
	SessionID string `json:"session_id"`
	FieldID   string `json:"field_id"`
	Value     string `json:"value"`
	TS        int64  `json:"ts"`
}
