// Package deferq holds back callbacks while a consistency-sensitive
// operation is underway and delivers them, in order, once released.
//
// A Queue starts plugged: Push buffers calls. Unplug delivers the buffered
// calls in insertion order and switches to pass-through, where Push invokes
// the callback immediately. Wrap adapts a callback into an event handler
// that goes through the queue.
package deferq

import "sync"

// Action is a deferred callback. Arguments are delivered exactly as pushed.
type Action func(args ...any)

type event struct {
	fn   Action
	args []any
}

type Queue struct {
	mu       sync.Mutex
	plugged  bool
	draining bool
	events   []event
}

func New() *Queue {
	return &Queue{plugged: true}
}

func (q *Queue) Push(fn Action, args ...any) {
	q.mu.Lock()
	if q.plugged {
		q.events = append(q.events, event{fn: fn, args: args})
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	fn(args...)
}

// Wrap returns a handler equivalent to calling Push(fn, args...).
func (q *Queue) Wrap(fn Action) Action {
	return func(args ...any) {
		q.Push(fn, args...)
	}
}

// Unplug delivers buffered events and switches to pass-through. Events
// pushed while the buffer is being delivered are delivered after it, before
// Unplug returns.
func (q *Queue) Unplug() {
	q.mu.Lock()
	if !q.plugged || q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for {
		events := q.events
		q.events = nil
		if len(events) == 0 {
			q.plugged = false
			q.draining = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		for _, ev := range events {
			ev.fn(ev.args...)
		}
		q.mu.Lock()
	}
}

// Plug resumes buffering.
func (q *Queue) Plug() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.plugged = true
}

func (q *Queue) Plugged() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.plugged
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
