package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/persona"
)

const (
	// DefaultKeywordThreshold is the minimum keyword confidence accepted when
	// the tool-calling model gives no answer.
	DefaultKeywordThreshold = 0.5

	// DefaultClassifierModel is the small tool-calling model.
	DefaultClassifierModel = "llama3.2:1b"
)

// ClassifierStrategy offers every capability as a native tool to a small
// model and maps the first tool call back to its owning persona. When the
// model is unavailable or calls no tool, weighted keyword patterns decide.
type ClassifierStrategy struct {
	provider  llm.ToolCallingProvider
	store     *persona.Store
	keywords  *KeywordClassifier
	model     string
	threshold float64
	timeout   time.Duration
	log       *logging.Logger
}

// ClassifierOption configures a ClassifierStrategy.
type ClassifierOption func(*ClassifierStrategy)

// WithKeywordThreshold sets the minimum accepted keyword confidence.
func WithKeywordThreshold(threshold float64) ClassifierOption {
	return func(s *ClassifierStrategy) {
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

// WithClassifierModel overrides the tool-calling model name.
func WithClassifierModel(model string) ClassifierOption {
	return func(s *ClassifierStrategy) {
		if model != "" {
			s.model = model
		}
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(log *logging.Logger) ClassifierOption {
	return func(s *ClassifierStrategy) {
		s.log = log
	}
}

// NewClassifierStrategy creates the classifier strategy. A nil provider
// leaves only the keyword path.
func NewClassifierStrategy(provider llm.ToolCallingProvider, store *persona.Store, opts ...ClassifierOption) *ClassifierStrategy {
	s := &ClassifierStrategy{
		provider:  provider,
		store:     store,
		keywords:  NewKeywordClassifier(),
		model:     DefaultClassifierModel,
		threshold: DefaultKeywordThreshold,
		timeout:   DefaultDecisionTimeout,
		log:       logging.Global().WithComponent("router"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Strategy.
func (s *ClassifierStrategy) Name() string {
	return string(PathClassifier)
}

// Propose implements Strategy. It never fails: with no tool call and no
// confident keyword match it returns an empty proposal.
func (s *ClassifierStrategy) Propose(ctx context.Context, query string, _ []llm.Message) (*Proposal, error) {
	if s.provider != nil {
		p, err := s.proposeWithTools(ctx, query)
		if err != nil {
			s.log.Warn("tool-calling classifier unavailable, using keywords: %v", err)
		} else if p != nil {
			return p, nil
		}
	}

	key, confidence := s.keywords.Classify(query)
	if key == "" || confidence < s.threshold {
		return &Proposal{
			Path:       PathKeyword,
			Confidence: confidence,
			Reason:     ReasonLowConfidence,
		}, nil
	}
	return &Proposal{
		Persona:    key,
		Path:       PathKeyword,
		Confidence: confidence,
	}, nil
}

// proposeWithTools returns nil without error when the model calls no known tool.
func (s *ClassifierStrategy) proposeWithTools(ctx context.Context, query string) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.provider.ChatWithTools(ctx, &llm.ChatRequest{
		Model:    s.model,
		Messages: llm.UserMessage(query),
	}, ToolDefs(s.store))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	for _, call := range resp.ToolCalls {
		owner, ok := s.store.Owner(call.Name)
		if !ok {
			s.log.Debug("classifier called unknown tool %q", call.Name)
			continue
		}
		params := map[string]any{}
		if strings.TrimSpace(call.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
				s.log.Debug("classifier tool %s: undecodable arguments %q", call.Name, call.Arguments)
				params = map[string]any{}
			}
		}
		return &Proposal{
			Persona:    owner.Key,
			Function:   call.Name,
			Parameters: params,
			Path:       PathClassifier,
			Confidence: 1.0,
		}, nil
	}
	return nil, nil
}

// ToolDefs renders every catalog capability as a tool definition.
func ToolDefs(store *persona.Store) []llm.ToolDef {
	caps := store.Capabilities()
	defs := make([]llm.ToolDef, 0, len(caps))
	for _, c := range caps {
		defs = append(defs, llm.ToolDef{
			Name:        c.Name,
			Description: c.Description,
			Parameters:  c.JSONSchema(),
		})
	}
	return defs
}
