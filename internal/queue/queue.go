// Package queue provides the FIFO used to keep observer history.
package queue

// Queue is a FIFO of T. It is not safe for concurrent use.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false when the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (item T, ok bool)
	// Items returns a copy of the queued items, head first.
	Items() []T
	// Reset empties the queue.
	Reset()
	// Length returns the number of queued items.
	Length() int
}
