package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tabstash/api/internal/coalesce"
	"tabstash/api/internal/config"
	"tabstash/api/internal/detach"
	"tabstash/api/internal/evict"
	"tabstash/api/internal/journal"
	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/search"
	"tabstash/api/internal/stash"
	"tabstash/api/internal/tree"
)

type pinger interface {
	Ping(context.Context) error
}

type reconciler interface {
	Trigger(context.Context) <-chan struct{}
	State() coalesce.State
	Runs() int64
	Last() (reconcile.PassResult, bool)
	Managed() *reconcile.ManagedSet
}

type evictor interface {
	Trigger(context.Context) <-chan struct{}
	Last() (evict.Result, bool)
	Policy() evict.Policy
}

type stasher interface {
	Stash(context.Context, stash.Request) (stash.Result, error)
	Restore(context.Context, []string) (stash.RestoreResult, error)
}

type searcher interface {
	Search(search.Query) search.Response
}

type historian interface {
	History(limit int) ([]journal.Entry, error)
	Snapshot(hash string) (*tree.Node, error)
}

// Components are the collaborators the control API drives. Journal and
// Search may be nil when not configured.
type Components struct {
	Store    pinger
	Registry pinger
	Engine   reconciler
	Evictor  evictor
	Stash    stasher
	Search   searcher
	Journal  historian
	Detached *detach.Runner
}

type Service struct {
	cfg      config.Config
	store    pinger
	registry pinger
	engine   reconciler
	evictor  evictor
	stash    stasher
	search   searcher
	journal  historian
	detached *detach.Runner
}

func New(cfg config.Config, c Components) *Service {
	return &Service{
		cfg:      cfg,
		store:    c.Store,
		registry: c.Registry,
		engine:   c.Engine,
		evictor:  c.Evictor,
		stash:    c.Stash,
		search:   c.Search,
		journal:  c.Journal,
		detached: c.Detached,
	}
}

type ReconcileStatus struct {
	State            string                `json:"state"`
	Runs             int64                 `json:"runs"`
	Managed          int                   `json:"managed"`
	ManagedUpdatedAt *time.Time            `json:"managedUpdatedAt"`
	Last             *reconcile.PassResult `json:"last"`
}

type EvictStatus struct {
	MinKeep          int           `json:"minKeep"`
	TargetCount      int           `json:"targetCount"`
	TargetAgeSeconds int64         `json:"targetAgeSeconds"`
	IntervalSeconds  int64         `json:"intervalSeconds"`
	Last             *evict.Result `json:"last"`
}

type DetachedStatus struct {
	Submitted int64 `json:"submitted"`
	Failed    int64 `json:"failed"`
}

type Status struct {
	Reconcile ReconcileStatus `json:"reconcile"`
	Evict     EvictStatus     `json:"evict"`
	Detached  DetachedStatus  `json:"detached"`
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingRegistry(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	return s.registry.Ping(ctx)
}

func (s *Service) Status() Status {
	managed := s.engine.Managed()
	status := Status{
		Reconcile: ReconcileStatus{
			State:   s.engine.State().String(),
			Runs:    s.engine.Runs(),
			Managed: managed.Len(),
		},
	}
	if at := managed.UpdatedAt(); !at.IsZero() {
		status.Reconcile.ManagedUpdatedAt = &at
	}
	if last, ok := s.engine.Last(); ok {
		status.Reconcile.Last = &last
	}

	policy := s.evictor.Policy()
	status.Evict = EvictStatus{
		MinKeep:          policy.MinKeep,
		TargetCount:      policy.TargetCount,
		TargetAgeSeconds: int64(policy.TargetAge / time.Second),
		IntervalSeconds:  int64(policy.Interval() / time.Second),
	}
	if last, ok := s.evictor.Last(); ok {
		status.Evict.Last = &last
	}

	if s.detached != nil {
		status.Detached = DetachedStatus{Submitted: s.detached.Submitted(), Failed: s.detached.Failed()}
	}
	return status
}

// Reconcile requests a pass. With wait set it blocks until the pass that
// observes the request has finished or ctx is done.
// Failed runs are not recorded, so a last pass that started before the
// request means the covering pass failed.
func (s *Service) Reconcile(ctx context.Context, wait bool) (*reconcile.PassResult, error) {
	requested := time.Now()
	done := s.engine.Trigger(ctx)
	if !wait {
		return nil, nil
	}
	if err := await(ctx, done); err != nil {
		return nil, err
	}
	last, ok := s.engine.Last()
	if !ok || last.StartedAt.Before(requested) {
		return nil, errReconcileFailed
	}
	return &last, nil
}

func (s *Service) Evict(ctx context.Context, wait bool) (*evict.Result, error) {
	requested := time.Now()
	done := s.evictor.Trigger(ctx)
	if !wait {
		return nil, nil
	}
	if err := await(ctx, done); err != nil {
		return nil, err
	}
	last, ok := s.evictor.Last()
	if !ok || last.StartedAt.Before(requested) {
		return nil, errEvictFailed
	}
	if last.Error != "" {
		return nil, domainError(errEvictFailed.Status, errEvictFailed.Code, errEvictFailed.Message, last)
	}
	return &last, nil
}

// Stash saves tabs and schedules a pass so the new entries join the managed
// set.
func (s *Service) Stash(ctx context.Context, req stash.Request) (stash.Result, error) {
	switch req.Target {
	case "":
		req.Target = stash.TargetNew
	case stash.TargetNew, stash.TargetRecent:
	default:
		return stash.Result{}, validationError("target must be new or recent")
	}
	result, err := s.stash.Stash(ctx, req)
	if err != nil {
		return result, err
	}
	s.engine.Trigger(ctx)
	return result, nil
}

func (s *Service) Restore(ctx context.Context, urls []string) (stash.RestoreResult, error) {
	cleaned := make([]string, 0, len(urls))
	for _, url := range urls {
		if url = strings.TrimSpace(url); url != "" {
			cleaned = append(cleaned, url)
		}
	}
	if len(cleaned) == 0 {
		return stash.RestoreResult{}, validationError("urls is required")
	}
	return s.stash.Restore(ctx, cleaned)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil || strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) History(limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, errJournalDisabled
	}
	return s.journal.History(limit)
}

func (s *Service) HistorySnapshot(hash string) (*tree.Node, error) {
	if s.journal == nil {
		return nil, errJournalDisabled
	}
	return s.journal.Snapshot(hash)
}

var (
	errJournalDisabled = domainError(http.StatusNotFound, "JOURNAL_DISABLED", "Stash journal is not configured", nil)
	errReconcileFailed = domainError(http.StatusBadGateway, "RECONCILE_FAILED", "Reconcile pass failed, see daemon log", nil)
	errEvictFailed     = domainError(http.StatusBadGateway, "EVICT_FAILED", "Eviction scan failed, see daemon log", nil)
)

func await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
