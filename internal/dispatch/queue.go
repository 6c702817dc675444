// Package dispatch provides the single execution context on which every
// consumer-facing notification of a Scanner and its Devices is delivered.
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/groutine"
)

// Queue runs posted functions one at a time, in posting order, on one
// goroutine. Posting never blocks; the backlog is unbounded.
type Queue struct {
	name   string
	logger *logrus.Logger

	mu     sync.Mutex
	items  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New starts a queue whose goroutine is labelled name.
func New(name string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	q := &Queue{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	groutine.Go(context.Background(), name, q.run)
	return q
}

// Post appends fn to the queue. It reports false, and drops fn, once the
// queue has been closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	q.signal()
	return true
}

// Flush blocks until everything posted before the call has run.
// Must not be called from the queue's own goroutine.
func (q *Queue) Flush() {
	ran := make(chan struct{})
	if !q.Post(func() { close(ran) }) {
		<-q.done
		return
	}
	select {
	case <-ran:
	case <-q.done:
	}
}

// Close stops accepting work. Already queued functions still run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Done is closed once the queue is closed and drained.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len reports the number of functions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.invoke(fn)
	}
}

func (q *Queue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"queue": q.name,
				"panic": r,
			}).Error("Queued function panicked (recovered)")
		}
	}()
	fn()
}
