// Package reasoningtest provides a scripted LLM provider for tests.
package reasoningtest

import (
	"context"
	"strings"
	"sync"

	"askverse/internal/domain"
)

// Rule answers any request whose user message contains Match.
type Rule struct {
	Match string
	Reply string
	Err   error
	// Reply may instead be computed from the user message.
	ReplyFunc func(user string) string
}

// Provider is a domain.LLMProvider that answers from a list of rules. The
// first matching rule wins; requests matching no rule get Default.
type Provider struct {
	mu      sync.Mutex
	rules   []Rule
	Default string
	calls   []domain.ChatRequest
}

// New returns a Provider with the given rules.
func New(rules ...Rule) *Provider {
	return &Provider{rules: rules}
}

// On appends a rule and returns p for chaining.
func (p *Provider) On(match, reply string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, Rule{Match: match, Reply: reply})
	return p
}

// Fail appends a rule that returns err.
func (p *Provider) Fail(match string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, Rule{Match: match, Err: err})
	return p
}

func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user := lastUser(req.Messages)

	p.mu.Lock()
	p.calls = append(p.calls, req)
	rules := p.rules
	def := p.Default
	p.mu.Unlock()

	for _, r := range rules {
		if !strings.Contains(user, r.Match) {
			continue
		}
		if r.Err != nil {
			return nil, r.Err
		}
		reply := r.Reply
		if r.ReplyFunc != nil {
			reply = r.ReplyFunc(user)
		}
		return respond(reply), nil
	}
	return respond(def), nil
}

func (p *Provider) Name() string { return "scripted" }

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatRequest(nil), p.calls...)
}

// CallsMatching counts requests whose user message contains s.
func (p *Provider) CallsMatching(s string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.Contains(lastUser(c.Messages), s) {
			n++
		}
	}
	return n
}

func respond(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Model:   "scripted",
		Message: domain.Message{Role: domain.RoleAssistant, Content: content},
	}
}

func lastUser(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
