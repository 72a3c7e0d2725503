package engine

import (
	"sync"

	"github.com/elevatehq/elevate/internal/gateway"
)

// WriteOp distinguishes pending remote write kinds.
type WriteOp string

const (
	OpUpsert WriteOp = "upsert"
	OpDelete WriteOp = "delete"
)

// pendingWrite is one queued remote write. Exactly one row pointer is set
// for an upsert, matching Table; a delete carries only ID (the row id, or
// the date key for date-keyed tables).
//
// Epoch records the session the write was issued under: a write enqueued
// before sign-out must not land under the next session.
type pendingWrite struct {
	Seq    int64
	Epoch  int64
	UserID string
	Table  string
	Op     WriteOp

	Goal     *gateway.GoalRow
	Event    *gateway.EventRow
	Settings *gateway.SettingsRow
	Entry    *gateway.EntryRow
	Score    *gateway.ScoreRow

	ID string
}

// writeQueue is a thread-safe FIFO of pending remote writes.
//
// The queue is unbounded so a burst of local edits never blocks the UI
// path; the single Run loop drains it in issue order, which preserves the
// relative ordering of writes to the same row.
//
// A buffered signal channel (size 1) coalesces wakeups and lets the Run
// loop select against context cancellation.
type writeQueue struct {
	mu     sync.Mutex
	writes []pendingWrite
	closed bool
	signal chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{
		writes: make([]pendingWrite, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a write to the back of the queue.
// Returns false if the queue is closed.
func (q *writeQueue) Enqueue(w pendingWrite) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.writes = append(q.writes, w)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *writeQueue) TryDequeue() (pendingWrite, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.writes) == 0 {
		return pendingWrite{}, false
	}
	w := q.writes[0]

	// Nil out the slot so the backing array releases the row pointers.
	q.writes[0] = pendingWrite{}
	if len(q.writes) == 1 {
		q.writes = q.writes[:0]
	} else {
		q.writes = q.writes[1:]
	}
	return w, true
}

// Wait returns a channel that signals when writes may be available.
// The channel closes when the queue is closed.
func (q *writeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *writeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes)
}

// Close signals that no more writes will be enqueued and wakes waiters.
func (q *writeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
