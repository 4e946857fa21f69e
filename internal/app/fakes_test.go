package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabstash/api/internal/coalesce"
	"tabstash/api/internal/config"
	"tabstash/api/internal/evict"
	"tabstash/api/internal/journal"
	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/search"
	"tabstash/api/internal/stash"
	"tabstash/api/internal/tree"
)

type fakePinger struct {
	pingFn func(context.Context) error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeEngine struct {
	mu       sync.Mutex
	triggers int
	last     *reconcile.PassResult
	managed  *reconcile.ManagedSet
	block    chan struct{}
	// fail leaves last untouched, as a failed pass does.
	fail bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{managed: reconcile.NewManagedSet()}
}

func (f *fakeEngine) Trigger(context.Context) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.block != nil {
		return f.block
	}
	if !f.fail {
		f.last = &reconcile.PassResult{ID: fmt.Sprintf("pass_%d", f.triggers), StartedAt: time.Now(), Removed: []string{}}
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeEngine) State() coalesce.State { return coalesce.Idle }

func (f *fakeEngine) Runs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.triggers)
}

func (f *fakeEngine) Last() (reconcile.PassResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return reconcile.PassResult{}, false
	}
	return *f.last, true
}

func (f *fakeEngine) Managed() *reconcile.ManagedSet { return f.managed }

type fakeEvictor struct {
	triggers int
	last     *evict.Result
	fail     bool
	// discardErr is recorded on the result of each scan.
	discardErr string
}

func (f *fakeEvictor) Trigger(context.Context) <-chan struct{} {
	f.triggers++
	if !f.fail {
		f.last = &evict.Result{StartedAt: time.Now(), Discarded: []string{}, Error: f.discardErr}
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeEvictor) Last() (evict.Result, bool) {
	if f.last == nil {
		return evict.Result{}, false
	}
	return *f.last, true
}

func (f *fakeEvictor) Policy() evict.Policy { return evict.DefaultPolicy() }

type fakeStasher struct {
	requests []stash.Request
	restored [][]string
	err      error
}

func (f *fakeStasher) Stash(_ context.Context, req stash.Request) (stash.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return stash.Result{}, f.err
	}
	return stash.Result{GroupID: "node_1", GroupTitle: "saved-x", Saved: []string{"https://a"}, Hidden: req.TabIDs}, nil
}

func (f *fakeStasher) Restore(_ context.Context, urls []string) (stash.RestoreResult, error) {
	f.restored = append(f.restored, urls)
	return stash.RestoreResult{Shown: []string{"tab_1"}, Opened: []string{}}, f.err
}

type fakeSearch struct {
	queries []search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{URL: "https://go.dev"}}, Total: 1, Query: q.Text}
}

type fakeJournal struct {
	entries []journal.Entry
	root    *tree.Node
}

func (f *fakeJournal) History(limit int) ([]journal.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeJournal) Snapshot(string) (*tree.Node, error) {
	return f.root, nil
}

type testDeps struct {
	store    *fakePinger
	registry *fakePinger
	engine   *fakeEngine
	evictor  *fakeEvictor
	stash    *fakeStasher
	search   *fakeSearch
	journal  *fakeJournal
}

func newTestDeps() *testDeps {
	return &testDeps{
		store:    &fakePinger{},
		registry: &fakePinger{},
		engine:   newFakeEngine(),
		evictor:  &fakeEvictor{},
		stash:    &fakeStasher{},
		search:   &fakeSearch{},
		journal: &fakeJournal{entries: []journal.Entry{
			{Hash: "abc1234", Message: "Reconcile pass pass_2", Author: "tabstash", CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
			{Hash: "def5678", Message: "Reconcile pass pass_1", Author: "tabstash", CreatedAt: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
		}},
	}
}

func (d *testDeps) service() *Service {
	return New(config.Config{}, Components{
		Store:    d.store,
		Registry: d.registry,
		Engine:   d.engine,
		Evictor:  d.evictor,
		Stash:    d.stash,
		Search:   d.search,
		Journal:  d.journal,
	})
}
