// Package queue holds the pending-playback queue and the played-history
// stack for the playback engine. Neither structure locks internally; the
// engine serializes all access.
package queue

import "github.com/google/uuid"

// Entry wraps a queued item with a unique slot ID. Two enqueuings of the
// same item get distinct slot IDs.
type Entry[T any] struct {
	SlotID string
	Item   T
}

func newEntry[T any](item T) Entry[T] {
	return Entry[T]{SlotID: uuid.NewString(), Item: item}
}

// Queue is the ordered pending-playback list. The front entry plays next.
type Queue[T any] struct {
	entries []Entry[T]
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Replace atomically swaps the queue contents for the given items.
func (q *Queue[T]) Replace(items ...T) {
	q.entries = q.entries[:0]
	for _, item := range items {
		q.entries = append(q.entries, newEntry(item))
	}
}

// Enqueue appends a single item to the back of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.entries = append(q.entries, newEntry(item))
}

// EnqueueNext prepends a single item, making it the next to play.
func (q *Queue[T]) EnqueueNext(item T) {
	q.entries = append([]Entry[T]{newEntry(item)}, q.entries...)
}

// EnqueueAll appends items to the back of the queue, preserving order.
func (q *Queue[T]) EnqueueAll(items ...T) {
	for _, item := range items {
		q.entries = append(q.entries, newEntry(item))
	}
}

// DequeueFront removes and returns the front entry.
// Returns false if the queue is empty.
func (q *Queue[T]) DequeueFront() (Entry[T], bool) {
	if len(q.entries) == 0 {
		var zero Entry[T]
		return zero, false
	}
	front := q.entries[0]
	q.entries = q.entries[1:]
	return front, true
}

// Front returns the front entry without removing it.
// Returns false if the queue is empty.
func (q *Queue[T]) Front() (Entry[T], bool) {
	if len(q.entries) == 0 {
		var zero Entry[T]
		return zero, false
	}
	return q.entries[0], true
}

// Clear removes all entries.
func (q *Queue[T]) Clear() {
	q.entries = nil
}

// Entries returns a snapshot copy of all entries in play order.
func (q *Queue[T]) Entries() []Entry[T] {
	snapshot := make([]Entry[T], len(q.entries))
	copy(snapshot, q.entries)
	return snapshot
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	return len(q.entries)
}

// IsEmpty returns true if the queue has no entries.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.entries) == 0
}
