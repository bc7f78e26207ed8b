package domain

import "context"

// Agent turns a query and its context into a partial answer.
//
// Process never returns an error: structural failures are reported as a
// failed AgentResult.
type Agent interface {
	Kind() AgentKind
	Process(ctx context.Context, query string, qctx map[string]any) AgentResult
}

// Context keys understood by agents.
const (
	CtxDataSources   = "data_sources"
	CtxOriginalQuery = "original_query"
	CtxContext       = "context"
	CtxSubTask       = "sub_task"
)
