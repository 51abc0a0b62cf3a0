package queue

import (
	"sync"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// Queue is a double-ended queue that is safe for concurrent use. Pops block while the queue is
// empty until a value is pushed or the queue is closed.
type Queue[T any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	items  *doublylinkedlist.List
	closed bool
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		items: doublylinkedlist.New(),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *Queue[T]) PushFront(value T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items.Prepend(value)
	q.cond.Signal()
}

func (q *Queue[T]) PushBack(value T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items.Append(value)
	q.cond.Signal()
}

// PopFront removes and returns the value at the front, waiting for one if the queue is empty. It
// returns false once the queue is closed and drained.
func (q *Queue[T]) PopFront() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.waitForItems()
	return q.popAt(0)
}

// PopBack removes and returns the value at the back, waiting for one if the queue is empty. It
// returns false once the queue is closed and drained.
func (q *Queue[T]) PopBack() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.waitForItems()
	return q.popAt(q.items.Size() - 1)
}

// TryPopFront removes and returns the value at the front without waiting
func (q *Queue[T]) TryPopFront() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.popAt(0)
}

// TryPopBack removes and returns the value at the back without waiting
func (q *Queue[T]) TryPopBack() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.popAt(q.items.Size() - 1)
}

func (q *Queue[T]) waitForItems() {
	for q.items.Empty() && !q.closed {
		q.cond.Wait()
	}
}

func (q *Queue[T]) popAt(index int) (T, bool) {
	var zero T
	if q.items.Empty() {
		return zero, false
	}

	value, ok := q.items.Get(index)
	if !ok {
		return zero, false
	}
	q.items.Remove(index)

	return value.(T), true
}

func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.items.Size()
}

func (q *Queue[T]) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items.Clear()
}

// Close wakes every waiting pop. Values still queued can be drained; pushes after Close are kept
// but blocked pops no longer wait for them.
func (q *Queue[T]) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
