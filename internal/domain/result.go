package domain

import (
	"math"
	"time"
)

// AgentResult is the outcome of one Agent.Process call.
//
// A failed result always has zero confidence and a non-empty Error; a
// successful one has an empty Error. Build values with Succeeded and Failed.
type AgentResult struct {
	Success    bool           `json:"success"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
	Error      string         `json:"error,omitempty"`
}

// Succeeded returns a successful result with confidence clamped to [0,1].
func Succeeded(payload map[string]any, confidence float64) AgentResult {
	if payload == nil {
		payload = map[string]any{}
	}
	return AgentResult{Success: true, Payload: payload, Confidence: ClampConfidence(confidence)}
}

// Failed returns a failed result carrying err's message.
func Failed(err error) AgentResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return AgentResult{Success: false, Payload: map[string]any{}, Confidence: 0, Error: msg}
}

// Response returns the "response" payload entry when it is a string.
func (r AgentResult) Response() (string, bool) {
	s, ok := r.Payload["response"].(string)
	return s, ok
}

// ClampConfidence bounds c to [0,1]. NaN maps to 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

// SubTaskResult records one successful sub-task in an OrchestrationResult.
type SubTaskResult struct {
	Task       string         `json:"task"`
	AgentKind  AgentKind      `json:"agent"`
	Payload    map[string]any `json:"response"`
	Confidence float64        `json:"confidence"`
}

// SkippedTask is a diagnostic for a sub-task that did not reach aggregation.
type SkippedTask struct {
	Task   Task   `json:"task"`
	Reason string `json:"reason"`
}

// OrchestrationResult is the final answer to one query.
type OrchestrationResult struct {
	QueryID        string          `json:"query_id,omitempty"`
	Success        bool            `json:"success"`
	Response       *string         `json:"response"`
	Confidence     float64         `json:"confidence"`
	SubTaskResults []SubTaskResult `json:"sub_tasks"`
	Skipped        []SkippedTask   `json:"skipped,omitempty"`
	Error          string          `json:"error,omitempty"`
	Duration       time.Duration   `json:"-"`
}

// ResponseText returns the response or "" when none was produced.
func (r *OrchestrationResult) ResponseText() string {
	if r == nil || r.Response == nil {
		return ""
	}
	return *r.Response
}

// FailedOrchestration returns the total-failure result: no response, zero
// confidence and an empty sub-task list.
func FailedOrchestration(err error) *OrchestrationResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &OrchestrationResult{
		Success:        false,
		Error:          msg,
		Confidence:     0,
		SubTaskResults: []SubTaskResult{},
	}
}
