package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
	"askverse/internal/usecase/reasoning"
	"askverse/internal/usecase/reasoning/reasoningtest"
)

// funcAgent adapts a function to domain.Agent.
type funcAgent struct {
	kind  domain.AgentKind
	fn    func(ctx context.Context, query string, qctx map[string]any) domain.AgentResult
	calls atomic.Int32
}

func (a *funcAgent) Kind() domain.AgentKind { return a.kind }
func (a *funcAgent) Process(ctx context.Context, query string, qctx map[string]any) domain.AgentResult {
	a.calls.Add(1)
	return a.fn(ctx, query, qctx)
}

func answering(kind domain.AgentKind, text string, conf float64) *funcAgent {
	return &funcAgent{kind: kind, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		return domain.Succeeded(map[string]any{"response": text}, conf)
	}}
}

// recordingAggregator captures the context it was given.
type recordingAggregator struct {
	mu   sync.Mutex
	qctx map[string]any
	res  domain.AgentResult
}

func (r *recordingAggregator) Kind() domain.AgentKind { return domain.AgentData }
func (r *recordingAggregator) Process(_ context.Context, _ string, qctx map[string]any) domain.AgentResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qctx = qctx
	return r.res
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func decomposeReply(t *testing.T, tasks ...domain.Task) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"sub_tasks": tasks})
	require.NoError(t, err)
	return string(data)
}

func newOrchestrator(t *testing.T, p *reasoningtest.Provider, cfg Config, agents ...domain.Agent) *Orchestrator {
	t.Helper()
	engine, err := reasoning.NewEngine(p, reasoning.Config{}, discard())
	require.NoError(t, err)
	o, err := New(engine, agents, cfg, discard())
	require.NoError(t, err)
	return o
}

func TestNewRequiresDataAgent(t *testing.T) {
	_, err := New(nil, []domain.Agent{answering(domain.AgentAPI, "x", 1)}, Config{}, discard())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewRejectsDuplicateKinds(t *testing.T) {
	_, err := New(nil, []domain.Agent{answering(domain.AgentData, "x", 1), answering(domain.AgentData, "y", 1)}, Config{}, discard())
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

// --- Decompose ---

func TestDecomposeSortsByPriorityStable(t *testing.T) {
	p := reasoningtest.New()
	p.Default = decomposeReply(t,
		domain.Task{Description: "c", Kind: "data", Priority: 3},
		domain.Task{Description: "a1", Kind: "api", Priority: 1},
		domain.Task{Description: "b", Kind: "document", Priority: 2},
		domain.Task{Description: "a2", Kind: "document", Priority: 1},
	)
	o := newOrchestrator(t, p, Config{}, answering(domain.AgentData, "x", 1))

	tasks, err := o.Decompose(context.Background(), "q", nil)
	require.NoError(t, err)
	var got []string
	for _, task := range tasks {
		got = append(got, task.Description)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, got)
}

func TestDecomposeEmpty(t *testing.T) {
	p := reasoningtest.New()
	p.Default = `{"sub_tasks": []}`
	o := newOrchestrator(t, p, Config{}, answering(domain.AgentData, "x", 1))
	tasks, err := o.Decompose(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestDecomposeInvalid(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":     "Let me think about it.",
		"no tasks":  `{"steps": []}`,
		"bad entry": `{"sub_tasks": [{"task": "t"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := reasoningtest.New()
			p.Default = reply
			o := newOrchestrator(t, p, Config{}, answering(domain.AgentData, "x", 1))
			_, err := o.Decompose(context.Background(), "q", nil)
			assert.ErrorIs(t, err, domain.ErrDecomposition)
			assert.Equal(t, domain.CodeDecomposition, domain.ErrorCodeOf(err))
		})
	}
}

// --- Dispatch ---

func TestDispatchPassesOriginalQueryAndSubTask(t *testing.T) {
	var gotQuery string
	var gotCtx map[string]any
	doc := &funcAgent{kind: domain.AgentDocument, fn: func(_ context.Context, q string, qctx map[string]any) domain.AgentResult {
		gotQuery, gotCtx = q, qctx
		return domain.Succeeded(map[string]any{"response": "r"}, 0.9)
	}}
	o := newOrchestrator(t, reasoningtest.New(), Config{}, doc, answering(domain.AgentData, "x", 1))

	qctx := map[string]any{"user": "u1"}
	out := o.Dispatch(context.Background(), []domain.Task{{Description: "find docs", Kind: domain.AgentDocument}}, "original?", qctx)
	require.Len(t, out, 1)
	assert.True(t, out[0].OK())
	assert.Equal(t, "original?", gotQuery)
	assert.Equal(t, "find docs", gotCtx[domain.CtxSubTask])
	assert.Equal(t, "u1", gotCtx["user"])
	assert.NotContains(t, qctx, domain.CtxSubTask)
}

func TestDispatchUnknownKindSkipped(t *testing.T) {
	o := newOrchestrator(t, reasoningtest.New(), Config{}, answering(domain.AgentData, "x", 1))
	out := o.Dispatch(context.Background(), []domain.Task{{Description: "t", Kind: "search"}}, "q", nil)
	require.Len(t, out, 1)
	assert.False(t, out[0].OK())
	assert.Equal(t, ReasonUnknownAgent, out[0].Skipped)
}

func TestDispatchKeepsTaskOrder(t *testing.T) {
	slow := &funcAgent{kind: domain.AgentDocument, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		time.Sleep(50 * time.Millisecond)
		return domain.Succeeded(map[string]any{"response": "slow"}, 1)
	}}
	fast := answering(domain.AgentAPI, "fast", 1)
	o := newOrchestrator(t, reasoningtest.New(), Config{MaxParallel: 2}, slow, fast, answering(domain.AgentData, "x", 1))

	out := o.Dispatch(context.Background(), []domain.Task{
		{Description: "first", Kind: domain.AgentDocument, Priority: 1},
		{Description: "second", Kind: domain.AgentAPI, Priority: 2},
	}, "q", nil)
	require.Len(t, out, 2)
	assert.Equal(t, "slow", out[0].Result.Payload["response"])
	assert.Equal(t, "fast", out[1].Result.Payload["response"])
}

func TestDispatchRespectsMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	busy := &funcAgent{kind: domain.AgentAPI, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return domain.Succeeded(nil, 1)
	}}
	o := newOrchestrator(t, reasoningtest.New(), Config{MaxParallel: 2}, busy, answering(domain.AgentData, "x", 1))

	tasks := make([]domain.Task, 6)
	for i := range tasks {
		tasks[i] = domain.Task{Description: "t", Kind: domain.AgentAPI}
	}
	o.Dispatch(context.Background(), tasks, "q", nil)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(6), busy.calls.Load())
}

func TestDispatchConvertsPanicAndTimeout(t *testing.T) {
	panicky := &funcAgent{kind: domain.AgentDocument, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		panic("nil map")
	}}
	stuck := &funcAgent{kind: domain.AgentAPI, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		time.Sleep(time.Second)
		return domain.Succeeded(nil, 1)
	}}
	o := newOrchestrator(t, reasoningtest.New(), Config{AgentTimeout: 20 * time.Millisecond},
		panicky, stuck, answering(domain.AgentData, "x", 1))

	out := o.Dispatch(context.Background(), []domain.Task{
		{Description: "p", Kind: domain.AgentDocument},
		{Description: "s", Kind: domain.AgentAPI},
	}, "q", nil)
	require.Len(t, out, 2)
	for _, d := range out {
		assert.False(t, d.OK())
		assert.False(t, d.Result.Success)
		assert.Zero(t, d.Result.Confidence)
		assert.Contains(t, d.Result.Error, domain.ErrAgentProcess.Error())
	}
	assert.Contains(t, out[0].Result.Error, "panic")
	assert.Contains(t, out[1].Result.Error, domain.ErrTimeout.Error())
}

// --- Aggregate ---

func TestAggregateNoResultsSkipsDataAgent(t *testing.T) {
	agg := &recordingAggregator{}
	o := newOrchestrator(t, reasoningtest.New(), Config{}, agg)

	res, err := o.Aggregate(context.Background(), []Dispatched{
		{Task: domain.Task{Description: "t", Kind: "x"}, Skipped: ReasonUnknownAgent},
	}, "q", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, NoDataMessage, res.ResponseText())
	assert.Equal(t, 1.0, res.Confidence)
	assert.NotNil(t, res.SubTaskResults)
	assert.Empty(t, res.SubTaskResults)
	assert.Len(t, res.Skipped, 1)
	assert.Nil(t, agg.qctx)
}

func TestAggregateBuildsDataSources(t *testing.T) {
	agg := &recordingAggregator{res: domain.Succeeded(map[string]any{"response": "final"}, 0.42)}
	o := newOrchestrator(t, reasoningtest.New(), Config{}, agg)

	res, err := o.Aggregate(context.Background(), []Dispatched{
		{Task: domain.Task{Description: "docs", Kind: domain.AgentDocument}, Result: domain.Succeeded(map[string]any{"response": "d"}, 0.9)},
		{Task: domain.Task{Description: "api", Kind: domain.AgentAPI}, Result: domain.Failed(domain.ErrTimeout), Skipped: "agent failed: x"},
	}, "q?", map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, "final", res.ResponseText())
	assert.Equal(t, 0.42, res.Confidence)
	require.Len(t, res.SubTaskResults, 1)
	assert.Equal(t, "docs", res.SubTaskResults[0].Task)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "api", res.Skipped[0].Task.Description)

	sources := agg.qctx[domain.CtxDataSources].([]map[string]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "docs", sources[0]["task"])
	assert.Equal(t, "document", sources[0]["agent"])
	assert.Equal(t, 0.9, sources[0]["confidence"])
	assert.Equal(t, map[string]any{"response": "d"}, sources[0]["response"])
	assert.Equal(t, "q?", agg.qctx[domain.CtxOriginalQuery])
	assert.Equal(t, map[string]any{"lang": "en"}, agg.qctx[domain.CtxContext])
}

func TestAggregateFailures(t *testing.T) {
	ok := []Dispatched{{Task: domain.Task{Description: "d", Kind: domain.AgentDocument}, Result: domain.Succeeded(map[string]any{"response": "d"}, 1)}}
	for name, res := range map[string]domain.AgentResult{
		"failed":      domain.Failed(domain.ErrAgentProcess),
		"no response": domain.Succeeded(map[string]any{"other": 1}, 1),
	} {
		t.Run(name, func(t *testing.T) {
			o := newOrchestrator(t, reasoningtest.New(), Config{}, &recordingAggregator{res: res})
			_, err := o.Aggregate(context.Background(), ok, "q", nil)
			assert.ErrorIs(t, err, domain.ErrAggregation)
		})
	}
}

// --- Process ---

func TestProcessEndToEnd(t *testing.T) {
	p := reasoningtest.New()
	p.Default = decomposeReply(t,
		domain.Task{Description: "call weather api", Kind: domain.AgentAPI, Priority: 2},
		domain.Task{Description: "find docs", Kind: domain.AgentDocument, Priority: 1},
		domain.Task{Description: "ask the oracle", Kind: "oracle", Priority: 3},
	)
	agg := &recordingAggregator{res: domain.Succeeded(map[string]any{"response": "It is sunny."}, 0.77)}
	o := newOrchestrator(t, p, Config{},
		answering(domain.AgentDocument, "docs say sunny", 0.6),
		answering(domain.AgentAPI, "21C", 0.9),
		agg,
	)

	var mu sync.Mutex
	var events []EventType
	ctx := WithObserver(context.Background(), func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	})

	res := o.Process(ctx, "Weather in Paris?", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "It is sunny.", res.ResponseText())
	assert.Equal(t, 0.77, res.Confidence)
	require.Len(t, res.SubTaskResults, 2)
	assert.Equal(t, "find docs", res.SubTaskResults[0].Task)
	assert.Equal(t, "call weather api", res.SubTaskResults[1].Task)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonUnknownAgent, res.Skipped[0].Reason)
	assert.Positive(t, res.Duration)

	assert.Equal(t, EventDecomposed, events[0])
	assert.Equal(t, EventAggregated, events[len(events)-1])
	assert.Len(t, events, 6)
}

func TestProcessFailureShape(t *testing.T) {
	tests := map[string]struct {
		query string
		reply string
		want  string
	}{
		"empty query":   {query: "  ", reply: `{"sub_tasks": []}`, want: domain.ErrInvalidInput.Error()},
		"bad decompose": {query: "q", reply: "no idea", want: domain.ErrDecomposition.Error()},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := reasoningtest.New()
			p.Default = tt.reply
			o := newOrchestrator(t, p, Config{}, answering(domain.AgentData, "x", 1))
			res := o.Process(context.Background(), tt.query, nil)
			assert.False(t, res.Success)
			assert.Zero(t, res.Confidence)
			assert.Contains(t, res.Error, tt.want)
			assert.Nil(t, res.Response)
			assert.NotNil(t, res.SubTaskResults)
			assert.Empty(t, res.SubTaskResults)
		})
	}
}

func TestProcessAggregationFailure(t *testing.T) {
	p := reasoningtest.New()
	p.Default = decomposeReply(t, domain.Task{Description: "d", Kind: domain.AgentDocument, Priority: 1})
	o := newOrchestrator(t, p, Config{},
		answering(domain.AgentDocument, "doc", 1),
		&recordingAggregator{res: domain.Failed(domain.ErrLLMResponse)},
	)
	res := o.Process(context.Background(), "q", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, domain.ErrAggregation.Error())
	assert.Empty(t, res.SubTaskResults)
}

func TestProcessRecoversPanickingAggregator(t *testing.T) {
	p := reasoningtest.New()
	p.Default = decomposeReply(t, domain.Task{Description: "d", Kind: domain.AgentDocument, Priority: 1})
	boom := &funcAgent{kind: domain.AgentData, fn: func(context.Context, string, map[string]any) domain.AgentResult {
		panic("aggregator exploded")
	}}
	o := newOrchestrator(t, p, Config{}, answering(domain.AgentDocument, "doc", 1), boom)
	res := o.Process(context.Background(), "q", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	assert.NotNil(t, res.SubTaskResults)
}

func TestProcessNoTasks(t *testing.T) {
	p := reasoningtest.New()
	p.Default = `{"sub_tasks": []}`
	agg := &recordingAggregator{}
	o := newOrchestrator(t, p, Config{}, agg)
	res := o.Process(context.Background(), "hello", nil)
	assert.True(t, res.Success)
	assert.Equal(t, NoDataMessage, res.ResponseText())
	assert.Equal(t, 1.0, res.Confidence)
}
