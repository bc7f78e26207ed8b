package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"askverse/internal/domain"
)

// Backend is one searchable document source.
type Backend struct {
	Name     string
	Searcher domain.DocumentSearcher
	// Limit overrides the caller's limit for this backend when > 0.
	Limit int
}

// DocumentSearch fans a query out to several backends and merges the hits.
// A failing backend is logged and skipped; only when every backend fails
// does Search return an error.
type DocumentSearch struct {
	backends []Backend
	logger   *slog.Logger
}

// NewDocumentSearch creates a DocumentSearch over the non-nil backends.
func NewDocumentSearch(logger *slog.Logger, backends ...Backend) *DocumentSearch {
	kept := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Searcher != nil {
			kept = append(kept, b)
		}
	}
	return &DocumentSearch{backends: kept, logger: logger}
}

// Search queries every backend concurrently. Hits are ordered by descending
// relevance; a document found by several backends keeps its best score.
func (s *DocumentSearch) Search(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	if len(s.backends) == 0 {
		return nil, nil
	}
	hits := make([][]domain.ScoredDocument, len(s.backends))
	errs := make([]error, len(s.backends))

	var g errgroup.Group
	for i, b := range s.backends {
		n := limit
		if b.Limit > 0 {
			n = b.Limit
		}
		g.Go(func() error {
			hits[i], errs[i] = b.Searcher.Search(ctx, query, n)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	byID := make(map[string]int)
	var merged []domain.ScoredDocument
	for i, b := range s.backends {
		if errs[i] != nil {
			err := fmt.Errorf("%w: %s search: %w", domain.ErrCandidateFailure, b.Name, errs[i])
			s.logger.Warn("document backend failed", "backend", b.Name, "error", err)
			failed = append(failed, err)
			continue
		}
		for _, h := range hits[i] {
			if j, ok := byID[h.ID]; ok {
				if h.Relevance > merged[j].Relevance {
					merged[j] = h
				}
				continue
			}
			byID[h.ID] = len(merged)
			merged = append(merged, h)
		}
	}
	if len(failed) == len(s.backends) {
		return nil, errors.Join(failed...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})
	return merged, nil
}

var _ domain.DocumentSearcher = (*DocumentSearch)(nil)
