package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"tabstash/api/internal/detach"
)

// observerQueue hands committed passes to one observer in commit order.
// At most one drain task per observer is in flight.
type observerQueue struct {
	observer Observer

	mu       sync.Mutex
	pending  []PassResult
	draining bool
}

func newObserverQueues(observers []Observer) []*observerQueue {
	queues := make([]*observerQueue, 0, len(observers))
	for _, o := range observers {
		queues = append(queues, &observerQueue{observer: o})
	}
	return queues
}

func (q *observerQueue) push(runner *detach.Runner, pass PassResult) {
	q.mu.Lock()
	q.pending = append(q.pending, pass)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	runner.Go("reconcile: "+q.observer.Name(), q.drain)
}

func (q *observerQueue) drain(ctx context.Context) error {
	var errs []error
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return errors.Join(errs...)
		}
		pass := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.observe(ctx, pass); err != nil {
			errs = append(errs, fmt.Errorf("pass %s: %w", pass.ID, err))
		}
	}
}

func (q *observerQueue) observe(ctx context.Context, pass PassResult) (err error) {
	if recovered := panics.Try(func() { err = q.observer.Observe(ctx, pass) }); recovered != nil {
		return recovered.AsError()
	}
	return err
}
