package announce

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a", true)
	q.Enqueue("b", false)
	q.Enqueue("c", true)

	ctx := context.Background()
	for _, want := range []Entry{{"a", true}, {"b", false}, {"c", true}} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue = %+v, want %+v", got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
}

func TestQueueDuplicateEntries(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a", true)
	q.Enqueue("a", true)
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2 (duplicates permitted)", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan Entry, 1)
	go func() {
		entry, err := q.Dequeue(context.Background())
		if err != nil {
			return
		}
		got <- entry
	}()

	// Give the consumer a moment to park, then feed it.
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("late", true)

	select {
	case entry := <-got:
		if entry.EventID != "late" {
			t.Fatalf("entry = %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestDequeueCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe cancellation")
	}
}

func TestDrainDiscardsAll(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a", true)
	q.Enqueue("b", true)

	if n := q.Drain(); n != 2 {
		t.Fatalf("drain = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain = %d, want 0", q.Len())
	}
	if n := q.Drain(); n != 0 {
		t.Fatalf("second drain = %d, want 0", n)
	}
}

func TestDepthObserver(t *testing.T) {
	q := NewQueue()
	var depths []int
	q.SetDepthFunc(func(n int) { depths = append(depths, n) })

	q.Enqueue("a", true)
	q.Enqueue("b", true)
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	q.Drain()

	want := []int{1, 2, 1, 0}
	if len(depths) != len(want) {
		t.Fatalf("depths = %v, want %v", depths, want)
	}
	for i := range want {
		if depths[i] != want[i] {
			t.Fatalf("depths = %v, want %v", depths, want)
		}
	}
}
