package agent

import (
	"log/slog"

	"askverse/internal/usecase/reasoning"
)

// Deps are the collaborators every agent variant shares.
type Deps struct {
	Engine *reasoning.Engine
	Budget *reasoning.Budget // nil disables evidence truncation
	Scorer Scorer
	Masker Redactor
	Logger *slog.Logger
	// MaxEvidenceTokens caps the evidence rendered into one synthesis prompt.
	MaxEvidenceTokens int
}

// evidenceShare splits the evidence budget evenly across n items.
func (d Deps) evidenceShare(n int) int {
	if d.MaxEvidenceTokens <= 0 || n <= 0 {
		return 0
	}
	return max(d.MaxEvidenceTokens/n, 1)
}
