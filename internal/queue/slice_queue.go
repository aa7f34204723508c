package queue

// sliceQueue implements Queue on a slice. When capacity is positive the
// queue is bounded: enqueueing into a full queue evicts the head.
type sliceQueue[T any] struct {
	items    []T
	capacity int
}

// NewSliceQueue creates an unbounded queue with prealloc reserved slots.
func NewSliceQueue[T any](prealloc int) Queue[T] {
	return &sliceQueue[T]{items: make([]T, 0, prealloc)}
}

// NewBoundedQueue creates a queue holding at most capacity items.
// A capacity below 1 is treated as 1.
func NewBoundedQueue[T any](capacity int) Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &sliceQueue[T]{items: make([]T, 0, capacity), capacity: capacity}
}

func (q *sliceQueue[T]) Enqueue(item T) {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.Dequeue()
	}
	q.items = append(q.items, item)
}

func (q *sliceQueue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

func (q *sliceQueue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	return q.items[0], true
}

func (q *sliceQueue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)

	return out
}

func (q *sliceQueue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *sliceQueue[T]) Length() int {
	return len(q.items)
}
