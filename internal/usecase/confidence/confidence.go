// Package confidence scores an answer through the LLM.
package confidence

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"askverse/internal/domain"
	"askverse/internal/usecase/reasoning"
)

// Default is returned whenever a score cannot be obtained.
const Default = 0.5

// Estimator asks the LLM to rate an answer.
type Estimator struct {
	engine *reasoning.Engine
	logger *slog.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(engine *reasoning.Engine, logger *slog.Logger) *Estimator {
	return &Estimator{engine: engine, logger: logger}
}

// Estimate returns a score in [0,1] for answer. LLM and parse failures are
// logged and yield Default.
func (e *Estimator) Estimate(ctx context.Context, answer string, qctx map[string]any) float64 {
	reply, err := e.engine.Complete(ctx, reasoning.PromptConfidence, map[string]any{
		"Response": answer,
		"Context":  qctx,
	})
	if err != nil {
		e.logger.Warn("confidence estimate failed", "error", err)
		return Default
	}
	score, ok := parse(reply)
	if !ok {
		e.logger.Warn("confidence reply not numeric", "reply", reply)
		return Default
	}
	return score
}

// Parse converts an LLM reply to a score clamped to [0,1]. Replies that are
// not a finite number yield Default.
func Parse(text string) float64 {
	score, ok := parse(text)
	if !ok {
		return Default
	}
	return score
}

func parse(text string) (float64, bool) {
	s := reasoning.StripCodeFences(text)
	if strings.HasPrefix(s, "{") {
		var obj struct {
			Confidence json.RawMessage `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil || len(obj.Confidence) == 0 {
			return 0, false
		}
		s = strings.Trim(string(obj.Confidence), `"`)
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return domain.ClampConfidence(v), true
}
