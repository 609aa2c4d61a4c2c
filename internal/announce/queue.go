// Package announce sequences eligible chat events into an ordered playback
// queue consumed by a single background processor.
package announce

import (
	"context"
	"sync"
)

// Entry is one queued playback request. MarkRead records whether the event's
// read flag should flip after playback completes.
type Entry struct {
	EventID  string
	MarkRead bool
}

// Queue is an unbounded FIFO of playback entries. Enqueue never blocks;
// Dequeue blocks until an entry is available or ctx is cancelled. Duplicate
// entries for the same event id are permitted; the consumer plays whatever it
// dequeues.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	wake    chan struct{}
	onDepth func(int)
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// SetDepthFunc installs an observer called with the queue depth after every
// mutation, used to feed the queue-depth gauge.
func (q *Queue) SetDepthFunc(fn func(int)) {
	q.mu.Lock()
	q.onDepth = fn
	q.mu.Unlock()
}

// Enqueue appends an entry and wakes the consumer.
func (q *Queue) Enqueue(eventID string, markRead bool) {
	q.mu.Lock()
	q.entries = append(q.entries, Entry{EventID: eventID, MarkRead: markRead})
	q.notifyDepthLocked()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest entry, blocking until one exists.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			entry := q.entries[0]
			q.entries = q.entries[1:]
			q.notifyDepthLocked()
			q.mu.Unlock()
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Drain discards all queued entries and returns how many were removed.
// Entries are dropped without any read-state change.
func (q *Queue) Drain() int {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = nil
	q.notifyDepthLocked()
	q.mu.Unlock()
	return n
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) notifyDepthLocked() {
	if q.onDepth != nil {
		q.onDepth(len(q.entries))
	}
}
