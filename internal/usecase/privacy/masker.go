// Package privacy redacts personally identifiable information from answers
// before they leave an agent.
package privacy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"askverse/internal/usecase/reasoning"
)

type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

// Ordered: card numbers before phone numbers so long digit runs are not
// split into phone-shaped pieces.
var patterns = []pattern{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`), "[CARD]"},
	{regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), "[IP]"},
	{regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{2,4}\)|\b\d{2,4})[ .\-]\d{3,4}[ .\-]\d{3,4}\b`), "[PHONE]"},
}

// Redact replaces emails, card-like digit runs, IPv4 addresses and phone
// numbers with placeholders.
func Redact(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}

// Masker redacts PII with the regex pass and, when enabled, a second LLM
// pass for what patterns cannot catch (names, addresses).
type Masker struct {
	engine  *reasoning.Engine
	llmPass bool
	logger  *slog.Logger
}

// NewMasker creates a Masker. A nil engine disables the LLM pass.
func NewMasker(engine *reasoning.Engine, llmPass bool, logger *slog.Logger) *Masker {
	return &Masker{engine: engine, llmPass: llmPass && engine != nil, logger: logger}
}

// Mask returns text with PII removed. An LLM failure is returned as an
// error; an empty LLM reply keeps the regex output.
func (m *Masker) Mask(ctx context.Context, text string) (string, error) {
	masked := Redact(text)
	if !m.llmPass || strings.TrimSpace(masked) == "" {
		return masked, nil
	}
	out, err := m.engine.Complete(ctx, reasoning.PromptMaskPII, map[string]any{"Text": masked})
	if err != nil {
		return "", fmt.Errorf("mask pii: %w", err)
	}
	if out == "" {
		m.logger.Warn("pii mask returned empty text, keeping pattern redaction")
		return masked, nil
	}
	return out, nil
}
