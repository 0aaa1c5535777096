package queue

import (
	"fmt"
	"testing"
)

// implementations under test; pebble queues get a fresh temp dir each.
func openQueues(t *testing.T) map[string]Queue {
	t.Helper()
	pq, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble queue: %v", err)
	}
	return map[string]Queue{"memory": NewMemory(), "pebble": pq}
}

func TestFIFOOrdering(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			defer q.Close()
			for i := 0; i < 5; i++ {
				if err := q.PushBack([]byte(fmt.Sprintf("msg-%d", i))); err != nil {
					t.Fatalf("push failed: %v", err)
				}
			}
			if n, _ := q.Len(); n != 5 {
				t.Fatalf("expected depth 5, got %d", n)
			}
			for i := 0; i < 5; i++ {
				rec, err := q.Pop()
				if err != nil {
					t.Fatalf("pop failed: %v", err)
				}
				if want := fmt.Sprintf("msg-%d", i); string(rec) != want {
					t.Fatalf("expected %q, got %q", want, rec)
				}
			}
			if _, err := q.Pop(); err != ErrEmpty {
				t.Fatalf("expected ErrEmpty on drained queue, got %v", err)
			}
		})
	}
}

func TestPushFrontIsNextPop(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			defer q.Close()
			q.PushBack([]byte("first"))
			q.PushBack([]byte("second"))
			if err := q.PushFront([]byte("retry")); err != nil {
				t.Fatalf("push front failed: %v", err)
			}
			for _, want := range []string{"retry", "first", "second"} {
				rec, err := q.Pop()
				if err != nil {
					t.Fatalf("pop failed: %v", err)
				}
				if string(rec) != want {
					t.Fatalf("expected %q, got %q", want, rec)
				}
			}
		})
	}
}

func TestDeadLetters(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			defer q.Close()
			q.PushDead([]byte("dead-1"))
			q.PushDead([]byte("dead-2"))
			q.PushDead([]byte("dead-3"))
			if n, _ := q.DeadLen(); n != 3 {
				t.Fatalf("expected 3 dead letters, got %d", n)
			}
			recs, err := q.ListDead(2)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(recs) != 2 || string(recs[0]) != "dead-1" || string(recs[1]) != "dead-2" {
				t.Fatalf("expected oldest-first limited listing, got %q", recs)
			}
			if err := q.PurgeDead(); err != nil {
				t.Fatalf("purge failed: %v", err)
			}
			if n, _ := q.DeadLen(); n != 0 {
				t.Fatalf("expected empty dead-letter sink after purge, got %d", n)
			}
		})
	}
}

func TestClosedQueueRejectsOperations(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			q.PushBack([]byte("pending"))
			if err := q.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}
			if err := q.PushBack([]byte("late")); err != ErrClosed {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
			if _, err := q.Pop(); err != ErrClosed {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
		})
	}
}

func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	q.PushBack([]byte("a"))
	q.PushBack([]byte("b"))
	q.PushFront([]byte("front"))
	q.PushDead([]byte("dead"))
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	q2, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("failed to reopen queue: %v", err)
	}
	defer q2.Close()
	if n, _ := q2.Len(); n != 3 {
		t.Fatalf("expected depth 3 after reopen, got %d", n)
	}
	if n, _ := q2.DeadLen(); n != 1 {
		t.Fatalf("expected 1 dead letter after reopen, got %d", n)
	}
	for _, want := range []string{"front", "a", "b"} {
		rec, err := q2.Pop()
		if err != nil {
			t.Fatalf("pop failed: %v", err)
		}
		if string(rec) != want {
			t.Fatalf("expected %q, got %q", want, rec)
		}
	}
}
