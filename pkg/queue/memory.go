package queue

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Memory is the in-memory queue implementation used by tests and by dev
// mode where durability is not needed. Records are copied into pooled
// buffers on push and released on pop.
type Memory struct {
	mu     sync.Mutex
	items  []*bytebufferpool.ByteBuffer
	dead   [][]byte
	closed bool
}

func NewMemory() *Memory { return &Memory{} }

func pooledCopy(record []byte) *bytebufferpool.ByteBuffer {
	bb := bytebufferpool.Get()
	bb.B = append(bb.B[:0], record...)
	return bb
}

func (q *Memory) PushBack(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, pooledCopy(record))
	return nil
}

func (q *Memory) PushFront(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append([]*bytebufferpool.ByteBuffer{pooledCopy(record)}, q.items...)
	return nil
}

func (q *Memory) Pop() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if len(q.items) == 0 {
		return nil, ErrEmpty
	}
	bb := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	record := append([]byte(nil), bb.B...)
	bytebufferpool.Put(bb)
	return record, nil
}

func (q *Memory) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.items), nil
}

func (q *Memory) PushDead(record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.dead = append(q.dead, append([]byte(nil), record...))
	return nil
}

func (q *Memory) DeadLen() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.dead), nil
}

func (q *Memory) ListDead(limit int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	n := len(q.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), q.dead[i]...)
	}
	return out, nil
}

func (q *Memory) PurgeDead() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.dead = nil
	return nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, bb := range q.items {
		if bb != nil {
			bytebufferpool.Put(bb)
		}
	}
	q.items = nil
	return nil
}
