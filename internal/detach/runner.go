// Package detach runs fire-and-forget work without losing its failures.
// Every submission is tracked so shutdown can wait for it, and every error
// or panic is logged.
package detach

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

type Runner struct {
	ctx    context.Context
	logger *log.Logger
	wg     conc.WaitGroup

	submitted atomic.Int64
	failed    atomic.Int64
}

// New returns a Runner whose tasks receive a context derived from ctx with
// cancellation removed.
func New(ctx context.Context, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{ctx: context.WithoutCancel(ctx), logger: logger}
}

// Go starts fn in the background. name prefixes any logged failure.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.submitted.Add(1)
	r.wg.Go(func() {
		var err error
		if recovered := panics.Try(func() { err = fn(r.ctx) }); recovered != nil {
			err = recovered.AsError()
		}
		if err != nil {
			r.failed.Add(1)
			r.logger.Printf("%s: %v", name, err)
		}
	})
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) Submitted() int64 {
	return r.submitted.Load()
}

func (r *Runner) Failed() int64 {
	return r.failed.Load()
}
