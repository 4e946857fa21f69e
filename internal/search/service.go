package search

import (
	"context"
	"log"

	"tabstash/api/internal/reconcile"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts Searcher) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) Name() string {
	return "search"
}

// Observe brings the Meilisearch index in line with a committed pass. It is
// a no-op while Meilisearch is unavailable; the fallback reads the store
// directly.
func (s *Service) Observe(_ context.Context, pass reconcile.PassResult) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	if err := s.meili.IndexEntries(RecordsFrom(pass.Snapshot.Root)); err != nil {
		return err
	}
	for _, url := range pass.Removed {
		if err := s.meili.DeleteEntry(url); err != nil {
			log.Printf("search: delete entry %s: %v", url, err)
		}
	}
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
