// Package pqueue is a minimal binary min-heap keyed by a uint64 priority.
// Equal priorities come out in no particular order.
package pqueue

import "container/heap"

type item[T any] struct {
	priority uint64
	value    T
}

type items[T any] []item[T]

func (h items[T]) Len() int           { return len(h) }
func (h items[T]) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h items[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *items[T]) Push(x any) { *h = append(*h, x.(item[T])) }

func (h *items[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	// release the reference held by the backing array
	old[n-1] = item[T]{}
	*h = old[:n-1]
	return it
}

// Queue is not safe for concurrent use.
type Queue[T any] struct {
	h items[T]
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Insert adds v with the given priority. O(log n).
func (q *Queue[T]) Insert(priority uint64, v T) {
	heap.Push(&q.h, item[T]{priority: priority, value: v})
}

// PeekPriority returns the minimum priority. The boolean is false when the
// queue is empty.
func (q *Queue[T]) PeekPriority() (uint64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].priority, true
}

// Peek returns the value with the minimum priority without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	return q.h[0].value, true
}

// Remove pops the value with the minimum priority. O(log n).
func (q *Queue[T]) Remove() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(&q.h).(item[T])
	return it.value, true
}

func (q *Queue[T]) Len() int {
	return len(q.h)
}

// Clear empties the queue and drops every retained value.
func (q *Queue[T]) Clear() {
	clear(q.h)
	q.h = q.h[:0]
}
