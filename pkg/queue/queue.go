// Package queue provides the durable inbound message queue that decouples
// webhook receipt from processing. The queue is FIFO (push to head, pop
// from tail), at-least-once, and carries a dead-letter sink for messages
// that exhaust their retries.
package queue

import "errors"

// ErrEmpty is returned by Pop when no message is waiting.
var ErrEmpty = errors.New("queue empty")

// ErrClosed is returned when operations are attempted after Close.
var ErrClosed = errors.New("queue closed")

// Queue is the injected queue dependency. Implementations must be safe
// for concurrent producers; the worker is the single consumer. Records
// are opaque JSON-serialized bytes.
type Queue interface {
	// PushBack appends a new record at the back (normal ingestion).
	PushBack(record []byte) error
	// PushFront inserts a record at the front so it is the next pop
	// (retry re-enqueue).
	PushFront(record []byte) error
	// Pop removes and returns the oldest record. Pop is destructive:
	// a successfully popped record is gone from the queue.
	Pop() ([]byte, error)
	// Len reports the number of waiting records.
	Len() (int, error)

	// PushDead moves a record into the dead-letter sink.
	PushDead(record []byte) error
	// DeadLen reports the number of dead-lettered records.
	DeadLen() (int, error)
	// ListDead returns up to limit dead-lettered records, oldest first.
	ListDead(limit int) ([][]byte, error)
	// PurgeDead deletes all dead-lettered records.
	PurgeDead() error

	Close() error
}
