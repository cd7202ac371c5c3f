// Package router decides which persona answers a query and which of its
// capabilities, if any, runs first.
//
// Two strategies exist. The LLM strategy asks a model for a JSON decision
// over the whole persona catalog. The classifier strategy offers every
// capability as a native tool to a small model and falls back to weighted
// keyword patterns. Both honor a leading @persona mention, and every
// decision that cannot be placed resolves to the default persona.
package router

import (
	"context"
	"time"

	"github.com/normanking/netbot/internal/llm"
)

// Path records how a decision was reached.
type Path string

const (
	PathLLM        Path = "llm"
	PathClassifier Path = "classifier"
	PathKeyword    Path = "keyword"
	PathMention    Path = "mention"
	PathFallback   Path = "fallback"
)

// Fallback reasons, used as metric labels.
const (
	ReasonUnknownPersona  = "unknown_persona"
	ReasonUnknownFunction = "unknown_function"
	ReasonMissingFunction = "missing_function"
	ReasonLowConfidence   = "low_confidence"
)

// Decision is the outcome of routing one query.
type Decision struct {
	// Persona is the catalog key of the persona that answers.
	Persona string `json:"persona"`
	// Function is the capability to run first; empty means none, or for
	// the default persona, let retrieval pick a dataset.
	Function string `json:"function,omitempty"`
	// Parameters are passed to Function by name.
	Parameters map[string]any `json:"parameters"`

	// Query is the text downstream stages see, with any @mention removed.
	Query string `json:"query"`

	Path       Path          `json:"path"`
	Fallback   bool          `json:"fallback"`
	Reason     string        `json:"reason,omitempty"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration"`
}

// Proposal is a strategy's unvalidated answer. Persona may be any spelling
// of a key, display name or alias; an empty Persona means the strategy had
// no answer.
type Proposal struct {
	Persona    string
	Function   string
	Parameters map[string]any
	Path       Path
	Confidence float64
	Reason     string
}

// Strategy proposes a persona and capability for a query.
type Strategy interface {
	Name() string
	Propose(ctx context.Context, query string, history []llm.Message) (*Proposal, error)
}

// Stats holds routing counters.
type Stats struct {
	TotalRequests       int64            `json:"total_requests"`
	Failures            int64            `json:"failures"`
	Fallbacks           int64            `json:"fallbacks"`
	PathCounts          map[Path]int64   `json:"path_counts"`
	PersonaDistribution map[string]int64 `json:"persona_distribution"`
	AverageConfidence   float64          `json:"average_confidence"`
}

// FallbackRatio returns the share of routed requests that fell back.
func (s Stats) FallbackRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Fallbacks) / float64(s.TotalRequests)
}
