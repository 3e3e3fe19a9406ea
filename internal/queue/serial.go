// Package queue provides the serialized execution contexts subsystems use to
// own their state: each Serial runs submitted tasks one at a time, in order,
// on a single goroutine. Submitting never blocks the caller.
package queue

import (
	"log/slog"
	"sync"
)

// Serial is an unbounded FIFO task queue drained by one goroutine.
type Serial struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerial starts a queue. name only appears in logs.
func NewSerial(name string, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Serial{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues task. Returns false if the queue is closed.
func (q *Serial) Submit(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every task submitted before the call has run.
// Must not be called from a task running on the same queue.
func (q *Serial) Flush() {
	ran := make(chan struct{})
	if !q.Submit(func() { close(ran) }) {
		<-q.done
		return
	}
	<-ran
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Serial) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Serial) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.exec(task)
	}
}

// exec isolates task panics so one bad task cannot stop the queue.
func (q *Serial) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "queue", q.name, "panic", r)
		}
	}()
	task()
}
