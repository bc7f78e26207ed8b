package agent

import (
	"context"
	"fmt"
	"maps"

	"askverse/internal/domain"
	"askverse/internal/usecase/reasoning"
)

type dataSource struct {
	deps Deps
}

// NewDataAgent combines the data sources found in qctx["data_sources"]. The
// orchestrator uses the same agent as its aggregator.
func NewDataAgent(deps Deps) *Runner {
	return NewRunner(&dataSource{deps: deps}, deps.Scorer, deps.Masker, deps.Logger)
}

func (s *dataSource) Kind() domain.AgentKind { return domain.AgentData }

func (s *dataSource) Messages() Messages {
	return Messages{
		Empty:     "No data sources provided for processing.",
		AllFailed: "Unable to process any data sources.",
	}
}

// Gather reads the data sources. Entries that are not objects are a
// structural error: the caller built the context wrong.
func (s *dataSource) Gather(_ context.Context, _ string, qctx map[string]any) ([]Candidate, error) {
	sources, err := DataSources(qctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(sources))
	for i, src := range sources {
		id := fmt.Sprintf("source[%d]", i)
		if task, ok := src["task"].(string); ok && task != "" {
			id = task
		}
		out[i] = Candidate{ID: id, Value: src}
	}
	return out, nil
}

// Act runs the transform prompt over sources flagged needs_transform and
// passes the others through unchanged.
func (s *dataSource) Act(ctx context.Context, _ string, _ map[string]any, c Candidate) (any, error) {
	src := maps.Clone(c.Value.(map[string]any))
	if transform, _ := src["needs_transform"].(bool); !transform {
		return src, nil
	}
	requirements := src["requirements"]
	if requirements == nil {
		requirements = map[string]any{}
	}
	out, err := s.deps.Engine.Complete(ctx, reasoning.PromptTransform, map[string]any{
		"Data":         src["data"],
		"Requirements": requirements,
	})
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	src["data"] = out
	return src, nil
}

func (s *dataSource) Synthesize(ctx context.Context, query string, qctx map[string]any, outcomes []Outcome) (string, map[string]any, error) {
	processed := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		processed[i] = o.Result.(map[string]any)
	}

	// The sources are rendered on their own; keep them out of the context.
	promptCtx := maps.Clone(qctx)
	delete(promptCtx, domain.CtxDataSources)

	answer, err := s.deps.Engine.Complete(ctx, reasoning.PromptAggregate, map[string]any{
		"Sources": processed,
		"Query":   query,
		"Context": promptCtx,
	})
	if err != nil {
		return "", nil, err
	}
	return answer, map[string]any{"processed_sources": processed}, nil
}

// DataSources extracts qctx["data_sources"]. A missing key is an empty list.
func DataSources(qctx map[string]any) ([]map[string]any, error) {
	raw, ok := qctx[domain.CtxDataSources]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, domain.NewDomainError("agent.data", domain.ErrInvalidInput,
					fmt.Sprintf("data_sources[%d] is %T, want object", i, item))
			}
			out[i] = m
		}
		return out, nil
	default:
		return nil, domain.NewDomainError("agent.data", domain.ErrInvalidInput,
			fmt.Sprintf("data_sources is %T, want list", raw))
	}
}
