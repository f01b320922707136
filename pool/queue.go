package pool

import (
	"sync"
)

// popStatus tells a worker why pop returned.
type popStatus int

const (
	popTask popStatus = iota
	popClosed
	popRetired
)

// queue is an unbounded FIFO of pending tasks.
//
// Waiters park on notify, a one-slot channel that acts as a wakeup token.
// A push deposits a token; a pop that leaves work behind re-deposits one so
// the next parked worker wakes up too. closed is closed exactly once, at
// shutdown, and wakes every parked worker at the same time.
type queue struct {
	mu       sync.Mutex
	items    []Task
	isClosed bool

	notify chan struct{}
	closed chan struct{}
}

func newQueue() *queue {
	return &queue{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// push appends t to the tail and wakes one waiter.
// It returns ErrPoolClosed once close has been called.
func (q *queue) push(t Task) error {
	q.mu.Lock()
	if q.isClosed {
		q.mu.Unlock()
		return ErrPoolClosed
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	q.signal()
	return nil
}

// pop blocks until a task is available, the queue is closed and empty, or
// retire fires while the caller is parked. Remaining tasks are still handed
// out after close so nothing accepted is lost.
func (q *queue) pop(retire <-chan struct{}) (Task, popStatus) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return t, popTask
		}
		closed := q.isClosed
		q.mu.Unlock()

		if closed {
			return nil, popClosed
		}

		select {
		case <-retire:
			return nil, popRetired
		default:
		}

		select {
		case <-retire:
			return nil, popRetired
		case <-q.notify:
		case <-q.closed:
		}
	}
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close latches the queue shut and wakes every waiter. Safe to call twice.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed {
		return
	}
	q.isClosed = true
	close(q.closed)
}

// drain removes and returns every task still queued.
func (q *queue) drain() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	left := q.items
	q.items = nil
	return left
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
