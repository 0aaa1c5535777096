package models

// Form is the read-only form definition the engine consumes. Forms are
// authored elsewhere; only published forms accept sessions.
type Form struct {
	Key        string `json:"key"`
	Title      string `json:"title,omitempty"`
	Published  bool   `json:"is_published"`
	FieldCount int    `json:"field_count"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
}
