package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/persona"
)

// DefaultDecisionTimeout bounds one routing model call.
const DefaultDecisionTimeout = 60 * time.Second

// LLMStrategy asks a model for a structured JSON decision over the whole
// catalog.
type LLMStrategy struct {
	provider llm.Provider
	store    *persona.Store
	model    string
	timeout  time.Duration
}

// NewLLMStrategy creates the LLM-structured-decision strategy.
func NewLLMStrategy(provider llm.Provider, store *persona.Store, model string) *LLMStrategy {
	return &LLMStrategy{
		provider: provider,
		store:    store,
		model:    model,
		timeout:  DefaultDecisionTimeout,
	}
}

// WithTimeout returns the strategy with a different per-call timeout.
func (s *LLMStrategy) WithTimeout(d time.Duration) *LLMStrategy {
	s.timeout = d
	return s
}

// Name implements Strategy.
func (s *LLMStrategy) Name() string {
	return string(PathLLM)
}

// Propose implements Strategy. A reply without a decodable JSON object fails
// with ErrMalformedDecision; it is not retried.
func (s *LLMStrategy) Propose(ctx context.Context, query string, _ []llm.Message) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.provider.Chat(ctx, &llm.ChatRequest{
		Model:       s.model,
		Messages:    llm.UserMessage(BuildRoutingPrompt(s.store, query)),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("routing model: %w", err)
	}

	d, err := ParseDecision(resp.Content)
	if err != nil {
		return nil, err
	}

	return &Proposal{
		Persona:    d.Target(),
		Function:   strings.TrimSpace(d.Function),
		Parameters: d.Parameters,
		Path:       PathLLM,
		Confidence: 1.0,
	}, nil
}

// TargetResolver recovers a diagnostics target from a free-form query.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, query string) (string, error)
}

// ToolSelector asks the decider model which diagnostics tool fits a query and
// with which target, using the tool:/parameters: answer format.
type ToolSelector struct {
	provider llm.Provider
	model    string
}

// NewToolSelector creates a ToolSelector.
func NewToolSelector(provider llm.Provider, model string) *ToolSelector {
	return &ToolSelector{provider: provider, model: model}
}

// Select returns the tool name (without any "bytefix_" prefix) and its
// parameters.
func (t *ToolSelector) Select(ctx context.Context, query string) (string, map[string]any, error) {
	resp, err := t.provider.Chat(ctx, &llm.ChatRequest{
		Model:    t.model,
		Messages: llm.UserMessage(BuildToolSelectionPrompt(query)),
	})
	if err != nil {
		return "", nil, fmt.Errorf("tool selection: %w", err)
	}

	tool, params, err := ParseToolSelection(strings.TrimSpace(resp.Content))
	if err != nil {
		return "", nil, err
	}
	return strings.TrimPrefix(tool, "bytefix_"), params, nil
}

// ResolveTarget implements TargetResolver.
func (t *ToolSelector) ResolveTarget(ctx context.Context, query string) (string, error) {
	_, params, err := t.Select(ctx, query)
	if err != nil {
		return "", err
	}
	target, _ := params["target"].(string)
	target = strings.TrimSpace(target)
	if target == "" || strings.HasPrefix(target, "<") {
		return "", fmt.Errorf("tool selection returned no target")
	}
	return target, nil
}

var (
	hostPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}\b`)
	ipPattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// ExtractTarget finds the first IPv4 address or hostname in text.
func ExtractTarget(text string) (string, bool) {
	if m := ipPattern.FindString(text); m != "" {
		return m, true
	}
	if m := hostPattern.FindString(text); m != "" {
		return strings.ToLower(m), true
	}
	return "", false
}
