// Package worker runs the single queue consumer. It polls the inbound
// queue on a fixed interval, hands each record to the processing
// handler under a bounded timeout, and owns the retry and dead-letter
// policy: failed messages go back to the front of the queue with an
// incremented retry count and a not-before instant; messages that
// exhaust their retries, or that cannot even be decoded, are
// dead-lettered.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/queue"
	"formflow/pkg/telemetry"
)

// Handler processes one decoded message. A non-nil error marks the
// message as failed and subject to the retry policy.
type Handler func(ctx context.Context, msg *models.QueuedMessage) error

// ErrAlreadyStarted is returned by Start when the worker is running.
var ErrAlreadyStarted = errors.New("worker already started")

const (
	defaultPollInterval   = 2 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelay     = 10 * time.Second
	defaultProcessTimeout = 30 * time.Second
)

// Options tunes a Worker; zero values take defaults.
type Options struct {
	PollInterval   time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Worker is an explicit lifecycle around the poll loop. Exactly one
// goroutine consumes the queue; Start may be called once per Worker.
type Worker struct {
	q       queue.Queue
	handler Handler
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a stopped Worker consuming q through handler.
func New(q queue.Queue, handler Handler, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = defaultProcessTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{q: q, handler: handler, opts: opts, now: now}
}

// Start launches the poll loop. The loop exits when ctx is cancelled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	cctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.run(cctx)
	logger.Info("worker_started", "poll_interval", w.opts.PollInterval.String())
	return nil
}

// Stop cancels the poll loop and waits for it to drain the message in
// flight. Safe to call on a stopped worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.started = false
	w.mu.Unlock()
	logger.Info("worker_stopped")
}

// Running reports whether the poll loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

// tick drains the records available at poll time, one at a time. A
// record whose retry_at lies in the future goes back to the front and
// ends the tick, since everything behind it would just cycle through.
func (w *Worker) tick(ctx context.Context) {
	depth, err := w.q.Len()
	if err != nil {
		logger.Error("worker_len_failed", "error", err)
		return
	}
	telemetry.QueueDepth.Set(float64(depth))

	for i := 0; i < depth; i++ {
		if ctx.Err() != nil {
			return
		}
		raw, err := w.q.Pop()
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		if err != nil {
			logger.Error("worker_pop_failed", "error", err)
			return
		}

		var msg models.QueuedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Error("worker_malformed_record", "error", err)
			w.deadLetterRaw(raw, fmt.Sprintf("malformed record: %v", err))
			continue
		}

		if !w.eligible(&msg) {
			// not due yet; put it back and stop the tick
			if err := w.q.PushFront(raw); err != nil {
				logger.Error("worker_requeue_failed", "message", msg.MessageID, "error", err)
			}
			return
		}

		w.process(ctx, &msg)
	}
}

// eligible reports whether a retried message has passed its retry_at.
func (w *Worker) eligible(msg *models.QueuedMessage) bool {
	if msg.RetryAt == "" {
		return true
	}
	at, err := time.Parse(time.RFC3339, msg.RetryAt)
	if err != nil {
		return true
	}
	return !w.now().Before(at)
}

func (w *Worker) process(ctx context.Context, msg *models.QueuedMessage) {
	start := w.now()
	pctx, cancel := context.WithTimeout(ctx, w.opts.ProcessTimeout)
	err := w.handler(pctx, msg)
	cancel()
	telemetry.ProcessingSeconds.Observe(w.now().Sub(start).Seconds())

	if err == nil {
		return
	}
	logger.Warn("worker_process_failed", "message", msg.MessageID, "retries", msg.RetryCount, "error", err)

	if msg.RetryCount < w.opts.MaxRetries {
		msg.RetryCount++
		msg.RetryAt = w.now().Add(w.opts.RetryDelay).UTC().Format(time.RFC3339)
		raw, merr := json.Marshal(msg)
		if merr != nil {
			w.deadLetter(msg, fmt.Sprintf("marshal for retry: %v", merr))
			return
		}
		if qerr := w.q.PushFront(raw); qerr != nil {
			logger.Error("worker_retry_enqueue_failed", "message", msg.MessageID, "error", qerr)
			return
		}
		telemetry.MessageRetries.Inc()
		logger.Info("worker_message_retry", "message", msg.MessageID, "attempt", msg.RetryCount, "retry_at", msg.RetryAt)
		return
	}
	w.deadLetter(msg, err.Error())
}

func (w *Worker) deadLetter(msg *models.QueuedMessage, reason string) {
	dl := models.DeadLetter{
		QueuedMessage: *msg,
		FailedAt:      w.now().UTC().Format(time.RFC3339),
		Error:         reason,
	}
	raw, err := json.Marshal(dl)
	if err != nil {
		logger.Error("worker_dead_letter_marshal_failed", "message", msg.MessageID, "error", err)
		return
	}
	if err := w.q.PushDead(raw); err != nil {
		logger.Error("worker_dead_letter_failed", "message", msg.MessageID, "error", err)
		return
	}
	telemetry.DeadLetters.Inc()
	logger.Warn("worker_message_dead_lettered", "message", msg.MessageID, "reason", reason)
}

// deadLetterRaw preserves a record that could not be decoded.
func (w *Worker) deadLetterRaw(raw []byte, reason string) {
	dl := struct {
		Raw      string `json:"raw"`
		FailedAt string `json:"failed_at"`
		Error    string `json:"error"`
	}{
		Raw:      string(raw),
		FailedAt: w.now().UTC().Format(time.RFC3339),
		Error:    reason,
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return
	}
	if err := w.q.PushDead(b); err != nil {
		logger.Error("worker_dead_letter_failed", "error", err)
		return
	}
	telemetry.DeadLetters.Inc()
}
