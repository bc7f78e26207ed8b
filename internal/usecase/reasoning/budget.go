package reasoning

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// runesPerToken approximates the tokenizer when no encoding is available.
const runesPerToken = 4

const truncatedMarker = " ...[truncated]"

// Budget caps how much evidence text goes into a prompt.
type Budget struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewBudget returns a Budget using the named tiktoken encoding (for example
// "cl100k_base"). The encoding is loaded on first use; when it cannot be
// loaded the Budget falls back to a rune estimate. An empty name always uses
// the estimate.
func NewBudget(encoding string, logger *slog.Logger) *Budget {
	return &Budget{encoding: encoding, logger: logger}
}

func (b *Budget) encoder() *tiktoken.Tiktoken {
	b.once.Do(func() {
		if b.encoding == "" {
			return
		}
		enc, err := tiktoken.GetEncoding(b.encoding)
		if err != nil {
			b.logger.Warn("tiktoken unavailable, using rune estimate", "encoding", b.encoding, "error", err)
			return
		}
		b.enc = enc
	})
	return b.enc
}

// Count returns the token count of text.
func (b *Budget) Count(text string) int {
	if b == nil {
		return 0
	}
	if enc := b.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + runesPerToken - 1) / runesPerToken
}

// Truncate returns text cut to at most maxTokens tokens. A nil Budget or a
// non-positive maxTokens returns text unchanged.
func (b *Budget) Truncate(text string, maxTokens int) string {
	if b == nil || maxTokens <= 0 {
		return text
	}
	if enc := b.encoder(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + truncatedMarker
	}
	maxRunes := maxTokens * runesPerToken
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + truncatedMarker
}
