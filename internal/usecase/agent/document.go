package agent

import (
	"context"
	"fmt"

	"askverse/internal/domain"
	"askverse/internal/usecase/reasoning"
)

// DefaultTopK is the number of hits requested from each document backend.
const DefaultTopK = 5

type documentSource struct {
	searcher domain.DocumentSearcher
	topK     int
	deps     Deps
}

// NewDocumentAgent answers from documentation search hits.
func NewDocumentAgent(searcher domain.DocumentSearcher, topK int, deps Deps) *Runner {
	if topK <= 0 {
		topK = DefaultTopK
	}
	src := &documentSource{searcher: searcher, topK: topK, deps: deps}
	return NewRunner(src, deps.Scorer, deps.Masker, deps.Logger)
}

func (s *documentSource) Kind() domain.AgentKind { return domain.AgentDocument }

func (s *documentSource) Messages() Messages {
	return Messages{
		Empty:     "No relevant documents found for this query.",
		AllFailed: "Unable to retrieve any documents.",
	}
}

func (s *documentSource) Gather(ctx context.Context, query string, _ map[string]any) ([]Candidate, error) {
	hits, err := s.searcher.Search(ctx, query, s.topK)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ID: h.ID, Value: h}
	}
	return out, nil
}

// Act is the identity: a search hit is already evidence.
func (s *documentSource) Act(_ context.Context, _ string, _ map[string]any, c Candidate) (any, error) {
	doc, ok := c.Value.(domain.ScoredDocument)
	if !ok {
		return nil, fmt.Errorf("candidate %s: unexpected type %T", c.ID, c.Value)
	}
	return doc, nil
}

func (s *documentSource) Synthesize(ctx context.Context, query string, qctx map[string]any, outcomes []Outcome) (string, map[string]any, error) {
	share := s.deps.evidenceShare(len(outcomes))
	docs := make([]domain.ScoredDocument, 0, len(outcomes))
	refs := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		doc := o.Result.(domain.ScoredDocument)
		refs = append(refs, map[string]any{
			"title":           doc.Title,
			"url":             doc.URL,
			"relevance_score": doc.Relevance,
			"source":          doc.Source,
		})
		if share > 0 {
			doc.Content = s.deps.Budget.Truncate(doc.Content, share)
		}
		docs = append(docs, doc)
	}

	answer, err := s.deps.Engine.Complete(ctx, reasoning.PromptDocumentAnswer, map[string]any{
		"Query":     query,
		"Context":   qctx,
		"Documents": docs,
	})
	if err != nil {
		return "", nil, err
	}
	return answer, map[string]any{"documents": refs}, nil
}
