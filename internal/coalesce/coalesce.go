// Package coalesce runs a background task at most once at a time, folding
// trigger requests that arrive during a run into a single follow-up run.
package coalesce

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

type State int

const (
	Idle State = iota
	Running
	RunningWithPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RunningWithPending:
		return "running_with_pending"
	default:
		return "unknown"
	}
}

// Task is the work being coalesced. Its error is logged, never returned to
// the caller of Trigger.
type Task func(ctx context.Context) error

// Coalescer wraps a Task. The zero value is not usable; call New.
type Coalescer struct {
	name   string
	task   Task
	logger *log.Logger

	mu      sync.Mutex
	state   State
	current chan struct{}
	next    chan struct{}
	nextCtx context.Context

	runs     atomic.Int64
	failures atomic.Int64
}

func New(name string, task Task, logger *log.Logger) *Coalescer {
	if logger == nil {
		logger = log.Default()
	}
	return &Coalescer{name: name, task: task, logger: logger}
}

// Trigger requests a run. The returned channel is closed once the run that
// will observe this request has finished. The run does not inherit ctx's
// cancellation.
func (c *Coalescer) Trigger(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle:
		c.state = Running
		c.current = make(chan struct{})
		go c.loop(context.WithoutCancel(ctx), c.current)
		return c.current
	case Running:
		c.state = RunningWithPending
		c.next = make(chan struct{})
		c.nextCtx = context.WithoutCancel(ctx)
		return c.next
	default:
		return c.next
	}
}

// Run triggers a run and blocks until it completes or ctx is done.
func (c *Coalescer) Run(ctx context.Context) error {
	select {
	case <-c.Trigger(ctx):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Runs reports how many times the task has started.
func (c *Coalescer) Runs() int64 {
	return c.runs.Load()
}

// Failures reports how many runs ended in an error or panic.
func (c *Coalescer) Failures() int64 {
	return c.failures.Load()
}

func (c *Coalescer) loop(ctx context.Context, done chan struct{}) {
	for {
		c.execute(ctx)

		c.mu.Lock()
		close(done)
		if c.state != RunningWithPending {
			c.state = Idle
			c.current = nil
			c.mu.Unlock()
			return
		}
		c.state = Running
		done = c.next
		ctx = c.nextCtx
		c.current = done
		c.next = nil
		c.nextCtx = nil
		c.mu.Unlock()
	}
}

func (c *Coalescer) execute(ctx context.Context) {
	c.runs.Add(1)
	var err error
	recovered := panics.Try(func() {
		err = c.task(ctx)
	})
	if recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.Printf("%s: %v", c.name, err)
	}
}
