package orchestrator

import (
	"context"

	"askverse/internal/domain"
)

// EventType names a progress event.
type EventType string

const (
	EventDecomposed  EventType = "decomposed"
	EventTaskStarted EventType = "task_started"
	EventTaskDone    EventType = "task_done"
	EventAggregated  EventType = "aggregated"
)

// Event reports orchestration progress. Fields not relevant to Type are zero.
type Event struct {
	Type       EventType     `json:"event"`
	Tasks      []domain.Task `json:"tasks,omitempty"`
	Index      int           `json:"index"`
	Task       *domain.Task  `json:"task,omitempty"`
	Success    bool          `json:"success,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Observer receives progress events. Task events may arrive concurrently.
type Observer func(Event)

type observerKey struct{}

// WithObserver returns a context whose Process calls report to obs.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

func observerFrom(ctx context.Context) Observer {
	if obs, ok := ctx.Value(observerKey{}).(Observer); ok && obs != nil {
		return obs
	}
	return func(Event) {}
}
