// Package queue funnels closures through a single worker goroutine. Tasks
// run strictly in submission order, so callers never observe a half-applied
// effect from a task submitted before theirs.
package queue

import (
	"errors"
	"sync"
)

// ErrorNotStarted is returned by a Queue that was never created with New.
var ErrorNotStarted = errors.New("queue not started")

type task struct {
	fn   func() error
	err  error
	done chan struct{}
}

// Queue is a single-consumer task queue. Create it with New; the zero value
// rejects every submission.
type Queue struct {
	closedError error

	tasks   chan *task
	mu      sync.RWMutex // serializes submission against shutdown
	closing bool
	wg      sync.WaitGroup
}

// New starts the worker. closedError is what Do and Shutdown return once the
// queue has shut down.
func New(buffer int, closedError error) *Queue {
	q := &Queue{
		closedError: closedError,
		tasks:       make(chan *task, buffer),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		t.err = t.fn()
		close(t.done)
	}
}

// Do submits fn and blocks until it has run, returning fn's error. After
// Shutdown begins, Do fails fast with the configured closed error.
func (q *Queue) Do(fn func() error) error {
	if q == nil || q.tasks == nil {
		return ErrorNotStarted
	}

	t := &task{fn: fn, done: make(chan struct{})}

	q.mu.RLock()
	if q.closing {
		q.mu.RUnlock()
		return q.closedError
	}
	q.tasks <- t
	q.mu.RUnlock()

	<-t.done
	return t.err
}

// Shutdown runs final as one more queued task, then stops the worker. Tasks
// already submitted complete first. The call returns final's error; once
// shut down, further calls return the closed error.
func (q *Queue) Shutdown(final func() error) error {
	if q == nil || q.tasks == nil {
		return ErrorNotStarted
	}

	err := q.Do(final)

	q.mu.Lock()
	first := !q.closing
	if first {
		q.closing = true
		close(q.tasks)
	}
	q.mu.Unlock()

	if first {
		q.wg.Wait()
	}
	return err
}
