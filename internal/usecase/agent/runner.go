// Package agent implements the document, API and data agents on top of a
// shared Runner that absorbs failures in two tiers: a failing candidate is
// logged and skipped, a structural failure becomes a failed AgentResult.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel/trace"

	"askverse/internal/domain"
	"askverse/internal/infra/tracer"
)

// AllFailedConfidence is reported when every candidate failed.
const AllFailedConfidence = 0.5

// Candidate is one unit of evidence an agent may act on.
type Candidate struct {
	ID    string
	Value any
}

// Outcome pairs a candidate with what acting on it produced.
type Outcome struct {
	Candidate Candidate
	Result    any
}

// Messages are the fixed answers for the degenerate cases.
type Messages struct {
	Empty     string
	AllFailed string
}

// Source supplies the variant-specific steps of an agent.
type Source interface {
	Kind() domain.AgentKind
	Messages() Messages
	Gather(ctx context.Context, query string, qctx map[string]any) ([]Candidate, error)
	Act(ctx context.Context, query string, qctx map[string]any, c Candidate) (any, error)
	// Synthesize returns the answer plus extra payload entries.
	Synthesize(ctx context.Context, query string, qctx map[string]any, outcomes []Outcome) (string, map[string]any, error)
}

// Scorer rates an answer in [0,1].
type Scorer interface {
	Estimate(ctx context.Context, answer string, qctx map[string]any) float64
}

// Redactor strips PII from an answer.
type Redactor interface {
	Mask(ctx context.Context, text string) (string, error)
}

// Runner turns a Source into a domain.Agent.
type Runner struct {
	source Source
	scorer Scorer
	masker Redactor
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(source Source, scorer Scorer, masker Redactor, logger *slog.Logger) *Runner {
	return &Runner{
		source: source,
		scorer: scorer,
		masker: masker,
		logger: logger.With("agent", string(source.Kind())),
	}
}

func (r *Runner) Kind() domain.AgentKind { return r.source.Kind() }

// Process gathers candidates, acts on each, then synthesizes, scores and
// masks the answer. It never panics and never returns a result that breaks
// the AgentResult invariant.
func (r *Runner) Process(ctx context.Context, query string, qctx map[string]any) (res domain.AgentResult) {
	ctx, span := tracer.StartSpan(ctx, "agent.process",
		trace.WithAttributes(tracer.StringAttr("agent.kind", string(r.source.Kind()))),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			res = r.fail(span, "panic", fmt.Errorf("panic: %v", p))
		}
	}()

	msgs := r.source.Messages()

	candidates, err := r.source.Gather(ctx, query, qctx)
	if err != nil {
		return r.fail(span, "gather", err)
	}
	span.SetAttributes(tracer.IntAttr("agent.candidates", len(candidates)))
	if len(candidates) == 0 {
		tracer.SetOK(span)
		return domain.Succeeded(map[string]any{"response": msgs.Empty}, 1.0)
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return r.fail(span, "act", err)
		}
		v, err := r.source.Act(ctx, query, qctx, c)
		if err != nil {
			r.logger.Warn("candidate skipped",
				"candidate", c.ID,
				"error", fmt.Errorf("%w: %w", domain.ErrCandidateFailure, err),
			)
			continue
		}
		outcomes = append(outcomes, Outcome{Candidate: c, Result: v})
	}
	if len(outcomes) == 0 {
		tracer.SetOK(span)
		return domain.Succeeded(map[string]any{"response": msgs.AllFailed}, AllFailedConfidence)
	}

	answer, extra, err := r.source.Synthesize(ctx, query, qctx, outcomes)
	if err != nil {
		return r.fail(span, "synthesize", err)
	}

	confidence := r.scorer.Estimate(ctx, answer, qctx)

	masked, err := r.masker.Mask(ctx, answer)
	if err != nil {
		return r.fail(span, "mask", err)
	}

	payload := make(map[string]any, len(extra)+2)
	maps.Copy(payload, extra)
	payload["response"] = masked
	payload["confidence"] = confidence

	span.SetAttributes(tracer.Float64Attr("agent.confidence", confidence))
	tracer.SetOK(span)
	r.logger.Debug("agent done", "candidates", len(candidates), "used", len(outcomes), "confidence", confidence)
	return domain.Succeeded(payload, confidence)
}

func (r *Runner) fail(span trace.Span, stage string, err error) domain.AgentResult {
	err = domain.NewDomainError("agent."+string(r.source.Kind())+"."+stage,
		fmt.Errorf("%w: %w", domain.ErrAgentProcess, err), "")
	tracer.RecordError(span, err)
	r.logger.Error("agent failed", "stage", stage, "error", err)
	return domain.Failed(err)
}

var _ domain.Agent = (*Runner)(nil)
