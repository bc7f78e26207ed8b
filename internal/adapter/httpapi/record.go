package httpapi

import (
	"context"
	"fmt"

	"askverse/internal/domain"
	"askverse/internal/usecase/auth"
	"askverse/internal/usecase/orchestrator"
)

// answer runs the query, persists it and returns the result with its
// stored id. Persistence failures are logged and never fail the query.
func (s *Server) answer(ctx context.Context, req QueryRequest, p *auth.Principal, obs orchestrator.Observer) *domain.OrchestrationResult {
	if obs != nil {
		ctx = orchestrator.WithObserver(ctx, obs)
	}
	res := s.deps.Queries.Process(ctx, req.Query, req.Context)
	s.metrics.QueriesTotal.Add(1)
	if !res.Success {
		s.metrics.QueriesFailed.Add(1)
	}

	userID := ""
	if p != nil {
		userID = p.User.ID
	}
	rec := queryRecord(req, userID, res)
	if err := s.deps.Repo.SaveQuery(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("save query failed", "error", err)
		return res
	}
	res.QueryID = rec.ID
	return res
}

// queryRecord converts a result into its stored form. Sources come from
// the documents and API calls that sub-tasks reported.
func queryRecord(req QueryRequest, userID string, res *domain.OrchestrationResult) *domain.QueryRecord {
	rec := &domain.QueryRecord{
		QueryText:      req.Query,
		ResponseText:   res.ResponseText(),
		Confidence:     res.Confidence,
		ProcessingTime: res.Duration,
		Success:        res.Success,
		UserID:         userID,
		Metadata:       map[string]any{},
	}
	if res.Error != "" {
		rec.Metadata["error"] = res.Error
	}
	if len(req.Context) > 0 {
		rec.Metadata["context"] = req.Context
	}
	agents := make([]string, 0, len(res.SubTaskResults))
	for _, st := range res.SubTaskResults {
		agents = append(agents, string(st.AgentKind))
		rec.Sources = append(rec.Sources, sourcesOf(st)...)
	}
	rec.Metadata["agents"] = agents
	if len(res.Skipped) > 0 {
		skipped := make([]map[string]any, len(res.Skipped))
		for i, sk := range res.Skipped {
			skipped[i] = map[string]any{"task": sk.Task.Description, "agent": string(sk.Task.Kind), "reason": sk.Reason}
		}
		rec.Metadata["skipped"] = skipped
	}
	return rec
}

func sourcesOf(st domain.SubTaskResult) []domain.QuerySource {
	var out []domain.QuerySource
	for _, d := range asMaps(st.Payload["documents"]) {
		id := str(d["url"])
		if id == "" {
			id = str(d["title"])
		}
		typ := str(d["source"])
		if typ == "" {
			typ = string(domain.AgentDocument)
		}
		rel, ok := d["relevance_score"].(float64)
		if !ok {
			rel = st.Confidence
		}
		out = append(out, domain.QuerySource{SourceType: typ, SourceID: id, Relevance: rel, Content: str(d["title"])})
	}
	for _, c := range asMaps(st.Payload["api_calls"]) {
		out = append(out, domain.QuerySource{
			SourceType: domain.SourceAPI,
			SourceID:   fmt.Sprintf("%s %s", str(c["method"]), str(c["url"])),
			Relevance:  st.Confidence,
			Content:    fmt.Sprintf("status %v", c["status"]),
		})
	}
	return out
}

// asMaps accepts both in-process and JSON-decoded lists of objects.
func asMaps(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
