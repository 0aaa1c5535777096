package models

// QueuedMessage is the JSON record held in the inbound queue between
// webhook receipt and processing.
type QueuedMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	// Timestamp is the provider receipt time in unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	// InteractiveReplyID is set when the respondent tapped a button or a
	// list row; it carries the option ID and takes precedence over Text.
	InteractiveReplyID    string `json:"interactive_reply_id,omitempty"`
	InteractiveReplyTitle string `json:"interactive_reply_title,omitempty"`
	ContactName           string `json:"contact_name,omitempty"`
	QueuedAt              string `json:"queued_at"`
	Status                string `json:"status"`
	RetryCount            int    `json:"retry_count,omitempty"`
	// RetryAt is RFC3339; a retried message is not eligible for
	// redelivery before this instant.
	RetryAt string `json:"retry_at,omitempty"`
}

// DeadLetter wraps a message that exhausted its retries, for manual
// inspection.
type DeadLetter struct {
	QueuedMessage
	FailedAt string `json:"failed_at"`
	Error    string `json:"error"`
}
