package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"askverse/internal/domain"
	"askverse/internal/usecase/reasoning"
)

// ParamValidator checks and coerces LLM-extracted parameters for ep.
type ParamValidator func(ep domain.Endpoint, params map[string]any) (map[string]any, error)

type apiSource struct {
	directory domain.EndpointDirectory
	invoker   domain.EndpointInvoker
	validate  ParamValidator
	deps      Deps
}

// apiCall is the evidence produced by one endpoint invocation.
type apiCall struct {
	Endpoint domain.Endpoint
	Status   int
	Body     any
}

// NewAPIAgent answers by calling endpoints from the directory. A nil
// validate accepts whatever parameters the LLM extracts.
func NewAPIAgent(dir domain.EndpointDirectory, inv domain.EndpointInvoker, validate ParamValidator, deps Deps) *Runner {
	src := &apiSource{directory: dir, invoker: inv, validate: validate, deps: deps}
	return NewRunner(src, deps.Scorer, deps.Masker, deps.Logger)
}

func (s *apiSource) Kind() domain.AgentKind { return domain.AgentAPI }

func (s *apiSource) Messages() Messages {
	return Messages{
		Empty:     "No relevant APIs found for this query.",
		AllFailed: "Unable to get responses from any APIs.",
	}
}

func (s *apiSource) Gather(_ context.Context, query string, _ map[string]any) ([]Candidate, error) {
	eps := s.directory.FindEndpoints(query)
	out := make([]Candidate, len(eps))
	for i, ep := range eps {
		out[i] = Candidate{ID: ep.Method + " " + ep.URL, Value: ep}
	}
	return out, nil
}

// Act extracts parameters with the LLM and calls the endpoint.
func (s *apiSource) Act(ctx context.Context, query string, _ map[string]any, c Candidate) (any, error) {
	ep, ok := c.Value.(domain.Endpoint)
	if !ok {
		return nil, fmt.Errorf("candidate %s: unexpected type %T", c.ID, c.Value)
	}

	params := map[string]any{}
	err := s.deps.Engine.CompleteJSON(ctx, reasoning.PromptAPIParams, map[string]any{
		"Query":      query,
		"Endpoint":   ep,
		"Parameters": ep.Parameters,
	}, reasoning.ParamsSchema, &params)
	if err != nil {
		return nil, fmt.Errorf("extract params: %w", err)
	}
	if s.validate != nil {
		if params, err = s.validate(ep, params); err != nil {
			return nil, err
		}
	}

	resp, err := s.invoker.Invoke(ctx, ep, params)
	if err != nil {
		return nil, err
	}
	return apiCall{Endpoint: ep, Status: resp.Status, Body: resp.Body}, nil
}

func (s *apiSource) Synthesize(ctx context.Context, query string, qctx map[string]any, outcomes []Outcome) (string, map[string]any, error) {
	share := s.deps.evidenceShare(len(outcomes))
	responses := make([]map[string]any, 0, len(outcomes))
	calls := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		call := o.Result.(apiCall)
		calls = append(calls, map[string]any{
			"endpoint": call.Endpoint.Path,
			"method":   call.Endpoint.Method,
			"url":      call.Endpoint.URL,
			"status":   call.Status,
		})
		responses = append(responses, map[string]any{
			"Method": call.Endpoint.Method,
			"URL":    call.Endpoint.URL,
			"Status": call.Status,
			"Body":   s.deps.Budget.Truncate(bodyText(call.Body), share),
		})
	}

	answer, err := s.deps.Engine.Complete(ctx, reasoning.PromptAPIAnswer, map[string]any{
		"Query":     query,
		"Context":   qctx,
		"Responses": responses,
	})
	if err != nil {
		return "", nil, err
	}
	return answer, map[string]any{"api_calls": calls}, nil
}

func bodyText(body any) string {
	if s, ok := body.(string); ok {
		return s
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf("%v", body)
	}
	return string(data)
}
