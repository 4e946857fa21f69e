// Package reconcile closes hidden tabs whose stash entry has gone away.
//
// Tree change notifications do not describe every leaf lost when a whole
// group is deleted, so each pass re-reads the tree and diffs its URLs
// against the set committed by the previous pass.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tabstash/api/internal/changes"
	"tabstash/api/internal/coalesce"
	"tabstash/api/internal/detach"
	"tabstash/api/internal/tabs"
	"tabstash/api/internal/tree"
	"tabstash/api/internal/util"
)

// TreeStore is the subset of the backing store the engine needs.
type TreeStore interface {
	GetTree(ctx context.Context) (tree.Snapshot, error)
	RemoveContainer(ctx context.Context, id string) error
}

// PassResult describes one committed pass.
type PassResult struct {
	ID                string        `json:"id"`
	StartedAt         time.Time     `json:"startedAt"`
	FinishedAt        time.Time     `json:"finishedAt"`
	Snapshot          tree.Snapshot `json:"-"`
	Managed           int           `json:"managed"`
	Removed           []string      `json:"removed"`
	Closed            []string      `json:"closed"`
	ContainersRemoved []string      `json:"containersRemoved"`
}

// Observer is notified in the background after each committed pass. Each
// observer sees passes one at a time in commit order.
type Observer interface {
	Name() string
	Observe(ctx context.Context, pass PassResult) error
}

type Engine struct {
	store     TreeStore
	tabs      tabs.Controller
	managed   *ManagedSet
	runner    *detach.Runner
	observers []Observer
	queues    []*observerQueue
	logger    *log.Logger
	now       func() time.Time

	coalescer *coalesce.Coalescer

	mu   sync.RWMutex
	last *PassResult
}

type Option func(*Engine)

func WithObservers(observers ...Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, observers...) }
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store TreeStore, controller tabs.Controller, managed *ManagedSet, runner *detach.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		tabs:    controller,
		managed: managed,
		runner:  runner,
		logger:  log.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queues = newObserverQueues(e.observers)
	e.coalescer = coalesce.New("reconcile", func(ctx context.Context) error {
		_, err := e.Reconcile(ctx)
		return err
	}, e.logger)
	return e
}

// Init seeds the managed set from the current tree.
func (e *Engine) Init(ctx context.Context) error {
	snapshot, err := e.store.GetTree(ctx)
	if err != nil {
		return fmt.Errorf("load initial tree: %w", err)
	}
	e.managed.Replace(tree.NewLocatorSet(snapshot.Leaves()), e.now())
	e.logger.Printf("reconcile: tracking %d stashed urls", e.managed.Len())
	return nil
}

// Trigger requests a coalesced pass.
func (e *Engine) Trigger(ctx context.Context) <-chan struct{} {
	return e.coalescer.Trigger(ctx)
}

// Handler adapts the engine to a change feed. Only removals, edits and
// moves trigger a pass; the event payload is ignored.
func (e *Engine) Handler(ctx context.Context) changes.Handler {
	return func(ev changes.Event) {
		if ev.Relevant() {
			e.Trigger(ctx)
		}
	}
}

func (e *Engine) State() coalesce.State {
	return e.coalescer.State()
}

func (e *Engine) Runs() int64 {
	return e.coalescer.Runs()
}

func (e *Engine) Managed() *ManagedSet {
	return e.managed
}

// Last returns the most recent committed pass, if any.
func (e *Engine) Last() (PassResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return PassResult{}, false
	}
	return *e.last, true
}

// Reconcile runs one pass. On failure the managed set is left as it was so
// the next pass diffs against the same baseline. Use Trigger outside tests.
func (e *Engine) Reconcile(ctx context.Context) (PassResult, error) {
	result := PassResult{
		ID:                util.NewID("pass"),
		StartedAt:         e.now(),
		Removed:           []string{},
		Closed:            []string{},
		ContainersRemoved: []string{},
	}

	snapshot, err := e.store.GetTree(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("get tree: %w", err)
	}
	result.Snapshot = snapshot

	for _, node := range snapshot.TopLevel() {
		if !tree.IsAutoNamed(node) || len(node.Children) > 0 {
			continue
		}
		id := node.ID
		result.ContainersRemoved = append(result.ContainersRemoved, id)
		e.runner.Go("reconcile: remove empty group "+id, func(ctx context.Context) error {
			return e.store.RemoveContainer(ctx, id)
		})
	}

	next := tree.NewLocatorSet(snapshot.Leaves())
	removed := tree.Difference(e.managed.Snapshot(), next)
	result.Removed = removed.Sorted()

	if removed.Len() > 0 {
		windows, err := e.tabs.ListWindows(ctx, tabs.WindowFilter{Types: []tabs.WindowType{tabs.WindowNormal}})
		if err != nil {
			return PassResult{}, fmt.Errorf("list windows: %w", err)
		}
		for _, w := range windows {
			for _, tab := range w.Tabs {
				if tab.Hidden && removed.Has(tab.URL) {
					result.Closed = append(result.Closed, tab.ID)
				}
			}
		}
		if len(result.Closed) > 0 {
			if err := e.tabs.CloseTabs(ctx, result.Closed); err != nil {
				return PassResult{}, fmt.Errorf("close orphaned tabs: %w", err)
			}
			e.logger.Printf("reconcile: closed %d hidden tabs no longer stashed", len(result.Closed))
		}
	}

	result.FinishedAt = e.now()
	e.managed.Replace(next, result.FinishedAt)
	result.Managed = next.Len()
	e.record(result)

	for _, q := range e.queues {
		q.push(e.runner, result)
	}
	return result, nil
}

func (e *Engine) record(result PassResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &result
}
