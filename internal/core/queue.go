package core

import "sync"

// DefaultQueueCapacity is the number of messages buffered between receivers and the router.
const DefaultQueueCapacity = 10

// Queue is a bounded FIFO shared by every receiver goroutine (producers) and the router
// (consumer). A full queue blocks producers, which is the bus's only flow control.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf    []Message
	head   int
	size   int
	closed bool
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	q := &Queue{buf: make([]Message, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends msg, blocking while the queue is full.
func (q *Queue) Push(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == len(q.buf) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.buf[(q.head+q.size)%len(q.buf)] = msg
	q.size++
	q.notEmpty.Signal()
	return nil
}

// Pop removes the oldest message, blocking while the queue is empty.
// It returns false once the queue is closed and drained.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		return Message{}, false
	}

	msg := q.buf[q.head]
	q.buf[q.head] = Message{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	q.notFull.Signal()
	return msg, true
}

// Close wakes every blocked producer and consumer. Messages already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}
