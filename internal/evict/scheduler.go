// Package evict discards idle hidden tabs so that memory use stays bounded
// while short-lived stashes stay loaded.
package evict

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"tabstash/api/internal/coalesce"
	"tabstash/api/internal/tabs"
)

type Result struct {
	StartedAt  time.Time `json:"startedAt"`
	TabCount   int       `json:"tabCount"`
	Candidates int       `json:"candidates"`
	Discarded  []string  `json:"discarded"`
	// Error is set when the scan stopped on a failed discard.
	Error string `json:"error,omitempty"`
}

type Scheduler struct {
	tabs   tabs.Controller
	policy Policy
	now    func() time.Time
	logger *log.Logger

	runner *coalesce.Coalescer

	mu   sync.RWMutex
	last *Result
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func New(controller tabs.Controller, policy Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		tabs:   controller,
		policy: policy,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runner = coalesce.New("evict", func(ctx context.Context) error {
		_, err := s.Evict(ctx)
		return err
	}, s.logger)
	return s
}

// Trigger requests a coalesced eviction run.
func (s *Scheduler) Trigger(ctx context.Context) <-chan struct{} {
	return s.runner.Trigger(ctx)
}

// Run triggers an eviction every policy interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Evict performs one scan. Callers outside tests should use Trigger so runs
// never overlap.
func (s *Scheduler) Evict(ctx context.Context) (Result, error) {
	now := s.now()
	loaded, err := s.tabs.QueryTabs(ctx, tabs.Query{Discarded: tabs.Bool(false)})
	if err != nil {
		return Result{}, fmt.Errorf("query loaded tabs: %w", err)
	}

	result := Result{StartedAt: now, TabCount: len(loaded), Discarded: []string{}}
	tabCount := len(loaded)

	// Newest first, so the oldest candidate is popped from the end.
	candidates := make([]tabs.Tab, 0, len(loaded))
	for _, tab := range loaded {
		if tab.Hidden {
			candidates = append(candidates, tab)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastAccessed.After(candidates[j].LastAccessed)
	})
	result.Candidates = len(candidates)

	for tabCount > s.policy.MinKeep {
		cutoff, _ := s.policy.Cutoff(tabCount)
		if len(candidates) == 0 {
			break
		}
		oldest := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		if now.Sub(oldest.LastAccessed) <= cutoff {
			break
		}
		if err := s.tabs.DiscardTabs(ctx, []string{oldest.ID}); err != nil {
			err = fmt.Errorf("discard tab %s: %w", oldest.ID, err)
			result.Error = err.Error()
			s.record(result)
			return result, err
		}
		tabCount--
		result.Discarded = append(result.Discarded, oldest.ID)
	}

	if len(result.Discarded) > 0 {
		s.logger.Printf("evict: discarded %d idle hidden tabs (%d loaded)", len(result.Discarded), result.TabCount)
	}
	s.record(result)
	return result, nil
}

// Last returns the most recent completed scan, if any.
func (s *Scheduler) Last() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

func (s *Scheduler) record(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &result
}
