// Package orchestrator answers a query by decomposing it into sub-tasks,
// dispatching them to agents in parallel and aggregating the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"askverse/internal/domain"
	"askverse/internal/infra/tracer"
	"askverse/internal/usecase/reasoning"
)

// NoDataMessage answers a query for which no sub-task produced a result.
const NoDataMessage = "No data sources provided for processing."

// Skip reasons recorded in OrchestrationResult.Skipped.
const (
	ReasonUnknownAgent = "unknown agent kind"
	reasonAgentFailed  = "agent failed: "
)

// Config tunes dispatch.
type Config struct {
	MaxParallel  int
	AgentTimeout time.Duration
}

// Orchestrator coordinates the agents. It is safe for concurrent use.
type Orchestrator struct {
	engine     *reasoning.Engine
	agents     map[domain.AgentKind]domain.Agent
	aggregator domain.Agent
	cfg        Config
	logger     *slog.Logger
}

// New builds an Orchestrator over agents, keyed by their Kind. The data
// agent is required: it also aggregates the sub-task results.
func New(engine *reasoning.Engine, agents []domain.Agent, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 60 * time.Second
	}
	registry := make(map[domain.AgentKind]domain.Agent, len(agents))
	for _, a := range agents {
		if _, dup := registry[a.Kind()]; dup {
			return nil, domain.NewDomainError("orchestrator.New", domain.ErrDuplicate, "agent "+string(a.Kind()))
		}
		registry[a.Kind()] = a
	}
	aggregator, ok := registry[domain.AgentData]
	if !ok {
		return nil, domain.NewDomainError("orchestrator.New", domain.ErrInvalidInput, "a data agent is required")
	}
	return &Orchestrator{
		engine:     engine,
		agents:     registry,
		aggregator: aggregator,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Kinds lists the registered agent kinds.
func (o *Orchestrator) Kinds() []domain.AgentKind {
	out := make([]domain.AgentKind, 0, len(o.agents))
	for k := range o.agents {
		out = append(out, k)
	}
	return out
}

type decomposition struct {
	SubTasks []domain.Task `json:"sub_tasks"`
}

// Decompose asks the LLM to split query into sub-tasks, ordered by
// ascending priority. An empty list is a valid answer.
func (o *Orchestrator) Decompose(ctx context.Context, query string, qctx map[string]any) ([]domain.Task, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.decompose")
	defer span.End()

	var out decomposition
	err := o.engine.CompleteJSON(ctx, reasoning.PromptDecompose, map[string]any{
		"Query":   query,
		"Context": qctx,
	}, reasoning.DecompositionSchema, &out)
	if err != nil {
		err = domain.WrapOp("orchestrator.decompose", fmt.Errorf("%w: %w", domain.ErrDecomposition, err))
		tracer.RecordError(span, err)
		return nil, err
	}

	tasks := out.SubTasks
	if tasks == nil {
		tasks = []domain.Task{}
	}
	domain.SortTasks(tasks)
	span.SetAttributes(tracer.IntAttr("orchestrator.tasks", len(tasks)))
	tracer.SetOK(span)
	return tasks, nil
}

// Dispatched is the outcome of one sub-task.
type Dispatched struct {
	Task   domain.Task
	Result domain.AgentResult
	// Skipped explains why the task contributes nothing to aggregation.
	Skipped string
}

// OK reports whether the task produced a usable result.
func (d Dispatched) OK() bool { return d.Skipped == "" }

// Dispatch runs every task whose kind has a registered agent, at most
// MaxParallel at a time. Each agent receives the original query and a copy
// of qctx carrying the task description under "sub_task". The returned
// slice is in task order regardless of completion order.
func (o *Orchestrator) Dispatch(ctx context.Context, tasks []domain.Task, query string, qctx map[string]any) []Dispatched {
	notify := observerFrom(ctx)
	out := make([]Dispatched, len(tasks))

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallel)
	for i, task := range tasks {
		out[i].Task = task
		agent, ok := o.agents[task.Kind]
		if !ok {
			out[i].Skipped = ReasonUnknownAgent
			o.logger.Warn("skipping task with unknown agent kind", "agent", string(task.Kind), "task", task.Description)
			continue
		}
		g.Go(func() error {
			notify(Event{Type: EventTaskStarted, Index: i, Task: &task})
			res := o.invoke(ctx, agent, task, query, qctx)
			out[i].Result = res
			if !res.Success {
				out[i].Skipped = reasonAgentFailed + res.Error
				o.logger.Warn("agent failed", "agent", string(task.Kind), "task", task.Description, "error", res.Error)
			}
			notify(Event{Type: EventTaskDone, Index: i, Task: &task,
				Success: res.Success, Confidence: res.Confidence, Error: res.Error})
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// invoke runs one agent under the per-call timeout and converts panics and
// timeouts into failed results.
func (o *Orchestrator) invoke(ctx context.Context, agent domain.Agent, task domain.Task, query string, qctx map[string]any) domain.AgentResult {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	sub := maps.Clone(qctx)
	if sub == nil {
		sub = make(map[string]any, 1)
	}
	sub[domain.CtxSubTask] = task.Description

	done := make(chan domain.AgentResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("agent panicked", "agent", string(task.Kind), "panic", p)
				done <- domain.Failed(fmt.Errorf("%w: panic: %v", domain.ErrAgentProcess, p))
			}
		}()
		done <- agent.Process(ctx, query, sub)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewSubSystemError("agent", "orchestrator.dispatch", domain.ErrTimeout,
				fmt.Sprintf("%s agent exceeded %s", task.Kind, o.cfg.AgentTimeout))
		}
		return domain.Failed(fmt.Errorf("%w: %w", domain.ErrAgentProcess, err))
	}
}

// Aggregate combines the successful sub-task results through the data
// agent. Failed and unknown tasks are reported in Skipped.
func (o *Orchestrator) Aggregate(ctx context.Context, dispatched []Dispatched, query string, qctx map[string]any) (*domain.OrchestrationResult, error) {
	result := &domain.OrchestrationResult{SubTaskResults: []domain.SubTaskResult{}}
	sources := make([]map[string]any, 0, len(dispatched))
	for _, d := range dispatched {
		if !d.OK() {
			result.Skipped = append(result.Skipped, domain.SkippedTask{Task: d.Task, Reason: d.Skipped})
			continue
		}
		result.SubTaskResults = append(result.SubTaskResults, domain.SubTaskResult{
			Task:       d.Task.Description,
			AgentKind:  d.Task.Kind,
			Payload:    d.Result.Payload,
			Confidence: d.Result.Confidence,
		})
		sources = append(sources, map[string]any{
			"task":       d.Task.Description,
			"agent":      string(d.Task.Kind),
			"response":   d.Result.Payload,
			"confidence": d.Result.Confidence,
		})
	}

	if len(sources) == 0 {
		msg := NoDataMessage
		result.Success = true
		result.Response = &msg
		result.Confidence = 1.0
		return result, nil
	}

	if qctx == nil {
		qctx = map[string]any{}
	}
	res := o.aggregator.Process(ctx, query, map[string]any{
		domain.CtxDataSources:   sources,
		domain.CtxOriginalQuery: query,
		domain.CtxContext:       qctx,
	})
	if !res.Success {
		return nil, domain.NewDomainError("orchestrator.aggregate", domain.ErrAggregation, res.Error)
	}
	text, ok := res.Response()
	if !ok {
		return nil, domain.NewDomainError("orchestrator.aggregate", domain.ErrAggregation, "aggregator returned no response text")
	}
	result.Success = true
	result.Response = &text
	result.Confidence = res.Confidence
	return result, nil
}

// Process answers query. It never returns nil and never panics: any
// failure yields a result with Success false, zero confidence and an empty
// sub-task list.
func (o *Orchestrator) Process(ctx context.Context, query string, qctx map[string]any) (result *domain.OrchestrationResult) {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "orchestrator.process",
		trace.WithAttributes(tracer.IntAttr("query.length", len(query))),
	)
	defer span.End()

	fail := func(err error) *domain.OrchestrationResult {
		tracer.RecordError(span, err)
		o.logger.Error("query failed", "error", err, "code", string(domain.ErrorCodeOf(err)))
		return domain.FailedOrchestration(err)
	}
	defer func() {
		if p := recover(); p != nil {
			result = fail(fmt.Errorf("orchestrator.process: panic: %v", p))
		}
		result.Duration = time.Since(start)
	}()

	if strings.TrimSpace(query) == "" {
		return fail(domain.NewDomainError("orchestrator.process", domain.ErrInvalidInput, "empty query"))
	}
	notify := observerFrom(ctx)

	tasks, err := o.Decompose(ctx, query, qctx)
	if err != nil {
		return fail(err)
	}
	notify(Event{Type: EventDecomposed, Tasks: tasks})

	dispatched := o.Dispatch(ctx, tasks, query, qctx)

	result, err = o.Aggregate(ctx, dispatched, query, qctx)
	if err != nil {
		return fail(err)
	}
	notify(Event{Type: EventAggregated, Success: true, Confidence: result.Confidence})

	span.SetAttributes(
		tracer.IntAttr("orchestrator.sub_tasks", len(result.SubTaskResults)),
		tracer.IntAttr("orchestrator.skipped", len(result.Skipped)),
		tracer.Float64Attr("orchestrator.confidence", result.Confidence),
	)
	tracer.SetOK(span)
	o.logger.Info("query answered",
		"sub_tasks", len(result.SubTaskResults),
		"skipped", len(result.Skipped),
		"confidence", result.Confidence,
		"duration", time.Since(start),
	)
	return result
}
