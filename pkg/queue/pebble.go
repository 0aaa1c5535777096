package queue

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"formflow/pkg/logger"
)

const (
	queuePrefix = "q:"
	deadPrefix  = "dl:"
	// seqBase sits at the middle of the uint64 range so PushFront can
	// allocate keys below the current head without wrapping.
	seqBase = uint64(1) << 62
)

// Pebble is the durable queue implementation. Records survive process
// restarts; ordering is by key sequence, zero-padded so lexicographic
// iteration matches numeric order.
type Pebble struct {
	mu      sync.Mutex
	db      *pebble.DB
	head    uint64 // key of the oldest record, valid when count > 0
	tail    uint64 // next PushBack key
	count   int
	deadSeq uint64
	closed  bool
}

// OpenPebble opens (or creates) a durable queue at dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue db: %w", err)
	}
	q := &Pebble{db: db, head: seqBase, tail: seqBase}
	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("queue_opened", "dir", dir, "depth", q.count)
	return q, nil
}

// recover rebuilds head/tail/count from existing keys after a restart.
func (q *Pebble) recover() error {
	iter, err := q.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	prefix := []byte(queuePrefix)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		seq, err := parseSeq(iter.Key())
		if err != nil {
			return err
		}
		if q.count == 0 {
			q.head = seq
		}
		q.tail = seq + 1
		q.count++
	}
	dead := []byte(deadPrefix)
	for iter.SeekGE(dead); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), dead) {
			break
		}
		var seq uint64
		if _, err := fmt.Sscanf(string(iter.Key()[len(deadPrefix):]), "%d", &seq); err == nil {
			q.deadSeq = seq + 1
		}
	}
	return iter.Error()
}

func queueKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", queuePrefix, seq))
}

func parseSeq(key []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(queuePrefix):]), "%d", &seq); err != nil {
		return 0, fmt.Errorf("invalid queue key %q: %w", key, err)
	}
	return seq, nil
}

func (q *Pebble) PushBack(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if err := q.db.Set(queueKey(q.tail), record, pebble.Sync); err != nil {
		return err
	}
	q.tail++
	q.count++
	return nil
}

func (q *Pebble) PushFront(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	seq := q.head
	if q.count > 0 {
		seq = q.head - 1
	}
	if err := q.db.Set(queueKey(seq), record, pebble.Sync); err != nil {
		return err
	}
	q.head = seq
	if q.count == 0 {
		q.tail = seq + 1
	}
	q.count++
	return nil
}

func (q *Pebble) Pop() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if q.count == 0 {
		return nil, ErrEmpty
	}
	key := queueKey(q.head)
	v, closer, err := q.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			// head drifted (should not happen); resync from disk
			return nil, q.resyncLocked()
		}
		return nil, err
	}
	record := append([]byte(nil), v...)
	closer.Close()
	if err := q.db.Delete(key, pebble.Sync); err != nil {
		return nil, err
	}
	q.head++
	q.count--
	return record, nil
}

// resyncLocked rescans the queue keyspace when in-memory counters and the
// DB disagree, then reports ErrEmpty for this pop.
func (q *Pebble) resyncLocked() error {
	q.head, q.tail, q.count = seqBase, seqBase, 0
	if err := q.recover(); err != nil {
		return err
	}
	return ErrEmpty
}

func (q *Pebble) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return q.count, nil
}

func (q *Pebble) PushDead(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	key := []byte(fmt.Sprintf("%s%020d", deadPrefix, q.deadSeq))
	if err := q.db.Set(key, record, pebble.Sync); err != nil {
		return err
	}
	q.deadSeq++
	return nil
}

func (q *Pebble) DeadLen() (int, error) {
	dead, err := q.ListDead(0)
	if err != nil {
		return 0, err
	}
	return len(dead), nil
}

func (q *Pebble) ListDead(limit int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	iter, err := q.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := []byte(deadPrefix)
	var out [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

func (q *Pebble) PurgeDead() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	iter, err := q.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	prefix := []byte(deadPrefix)
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	iter.Close()
	for _, k := range keys {
		if err := q.db.Delete(k, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

func (q *Pebble) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}
