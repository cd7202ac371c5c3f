package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
	"github.com/normanking/netbot/internal/persona"
)

// DefaultPersona answers every query that cannot be placed.
const DefaultPersona = "fixie"

// Router validates strategy proposals against the persona catalog and turns
// them into decisions. It is safe for concurrent use.
type Router struct {
	store          *persona.Store
	strategy       Strategy
	resolver       TargetResolver
	defaultPersona string
	log            *logging.Logger

	// Statistics (thread-safe)
	stats Stats
	mu    sync.RWMutex
}

// Option is a functional option for configuring Router.
type Option func(*Router)

// WithDefaultPersona sets the fallback persona key.
func WithDefaultPersona(key string) Option {
	return func(r *Router) {
		if key != "" {
			r.defaultPersona = persona.NormalizeKey(key)
		}
	}
}

// WithTargetResolver sets the model-backed recovery for a missing
// diagnostics target.
func WithTargetResolver(resolver TargetResolver) Option {
	return func(r *Router) {
		r.resolver = resolver
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

// New creates a Router. The default persona must exist in the store.
func New(store *persona.Store, strategy Strategy, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("router: persona store is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("router: strategy is required")
	}

	r := &Router{
		store:          store,
		strategy:       strategy,
		defaultPersona: DefaultPersona,
		log:            logging.Global().WithComponent("router"),
		stats:          newStats(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, ok := store.Get(r.defaultPersona); !ok {
		return nil, fmt.Errorf("router: default persona %q not in catalog", r.defaultPersona)
	}
	return r, nil
}

// DefaultPersonaKey returns the fallback persona key.
func (r *Router) DefaultPersonaKey() string {
	return r.defaultPersona
}

// Strategy returns the name of the active strategy.
func (r *Router) Strategy() string {
	return r.strategy.Name()
}

// Route decides which persona answers query and which capability, if any,
// runs first. Strategy errors (a malformed LLM decision, a failed model
// call) are returned; anything that merely cannot be placed resolves to the
// default persona.
func (r *Router) Route(ctx context.Context, query string, history []llm.Message) (*Decision, error) {
	start := time.Now()

	// 1. Explicit @mention
	if mention, remaining := ExtractMention(query); mention != "" {
		if p, ok := r.store.Get(mention); ok {
			if remaining == "" {
				// A bare mention keeps the full input as the query.
				remaining = strings.TrimSpace(query)
			}
			d := &Decision{
				Persona:    p.Key,
				Query:      remaining,
				Path:       PathMention,
				Confidence: 1.0,
			}
			r.suggest(ctx, p, d)
			return r.finish(d, start), nil
		}
		r.log.Debug("unknown mention @%s, routing the full query", mention)
	}

	// 2. Strategy proposal
	proposal, err := r.strategy.Propose(ctx, query, history)
	if err != nil {
		r.recordFailure()
		r.log.Error("routing failed (%s): %v", r.strategy.Name(), err)
		return nil, fmt.Errorf("route: %w", err)
	}

	// 3. Validate against the catalog
	d := r.resolve(ctx, query, proposal)
	return r.finish(d, start), nil
}

// resolve turns a proposal into a decision, falling back to the default
// persona when the proposal names something the catalog cannot serve.
func (r *Router) resolve(ctx context.Context, query string, prop *Proposal) *Decision {
	if prop == nil || strings.TrimSpace(prop.Persona) == "" {
		reason := ReasonLowConfidence
		if prop != nil && prop.Reason != "" {
			reason = prop.Reason
		}
		return r.fallback(query, prop, reason, "no persona proposed")
	}

	p, ok := r.store.Get(prop.Persona)
	if !ok {
		return r.fallback(query, prop, ReasonUnknownPersona, fmt.Sprintf("unknown persona %q", prop.Persona))
	}

	d := &Decision{
		Persona:    p.Key,
		Function:   strings.TrimSpace(prop.Function),
		Parameters: cloneParams(prop.Parameters),
		Query:      query,
		Path:       prop.Path,
		Confidence: prop.Confidence,
	}

	switch {
	case !p.HasCapabilities():
		// Tool-less personas go straight to generation.
		d.Function = ""

	case d.Function == "" && prop.Path == PathKeyword:
		r.suggest(ctx, p, d)

	case d.Function == "":
		if p.Key != r.defaultPersona {
			return r.fallback(query, prop, ReasonMissingFunction,
				fmt.Sprintf("persona %q proposed without a function", p.Key))
		}

	default:
		if _, owned := p.Capability(d.Function); !owned {
			return r.fallback(query, prop, ReasonUnknownFunction,
				fmt.Sprintf("function %q does not belong to persona %q", d.Function, p.Key))
		}
		r.recoverTarget(ctx, d)
	}

	return d
}

// suggest picks a capability for paths that name only a persona: a persona
// with a single capability gets it, with parameters recovered from the
// query. Personas with several capabilities leave the choice to retrieval
// dataset selection.
func (r *Router) suggest(ctx context.Context, p *persona.Persona, d *Decision) {
	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}
	if len(p.Capabilities) != 1 {
		return
	}
	c := p.Capabilities[0]
	d.Function = c.Name
	for _, name := range c.RequiredParameters() {
		if _, ok := d.Parameters[name]; ok || name == "target" {
			continue
		}
		d.Parameters[name] = d.Query
	}
	r.recoverTarget(ctx, d)
}

// recoverTarget fills a missing "target" parameter for capabilities that
// require one: first from a hostname or IP in the query, then by asking the
// tool-selection model.
func (r *Router) recoverTarget(ctx context.Context, d *Decision) {
	c, ok := r.store.Capability(d.Function)
	if !ok || !requires(c, "target") {
		return
	}
	if t, _ := d.Parameters["target"].(string); strings.TrimSpace(t) != "" {
		return
	}

	if t, ok := ExtractTarget(d.Query); ok {
		d.Parameters["target"] = t
		return
	}
	if r.resolver == nil {
		return
	}

	t, err := r.resolver.ResolveTarget(ctx, d.Query)
	if err != nil {
		r.log.Warn("could not recover target for %s: %v", d.Function, err)
		return
	}
	d.Parameters["target"] = t
}

func (r *Router) fallback(query string, prop *Proposal, reason, detail string) *Decision {
	r.log.Warn("routing fallback to %s (%s): %s", r.defaultPersona, reason, detail)
	metrics.RoutingFallbacks.WithLabelValues(reason).Inc()

	d := &Decision{
		Persona:    r.defaultPersona,
		Parameters: map[string]any{},
		Query:      query,
		Path:       PathFallback,
		Fallback:   true,
		Reason:     reason,
	}
	if prop != nil {
		d.Confidence = prop.Confidence
	}
	return d
}

// finish stamps the duration and records statistics.
func (r *Router) finish(d *Decision, start time.Time) *Decision {
	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}
	d.Duration = time.Since(start)

	r.mu.Lock()
	r.stats.TotalRequests++
	if d.Fallback {
		r.stats.Fallbacks++
	}
	r.stats.PathCounts[d.Path]++
	r.stats.PersonaDistribution[d.Persona]++
	// Update running average confidence
	total := float64(r.stats.TotalRequests)
	r.stats.AverageConfidence = (r.stats.AverageConfidence*(total-1) + d.Confidence) / total
	ratio := r.stats.FallbackRatio()
	r.mu.Unlock()

	metrics.RoutingFallbackRatio.Set(ratio)

	metrics.RoutingDecisions.WithLabelValues(d.Persona, string(d.Path)).Inc()

	r.log.Debug("routed to %s function=%q path=%s confidence=%.2f in %v",
		d.Persona, d.Function, d.Path, d.Confidence, d.Duration)
	return d
}

func (r *Router) recordFailure() {
	r.mu.Lock()
	r.stats.Failures++
	r.mu.Unlock()
	metrics.RoutingFailures.Inc()
}

// Stats returns a copy of the current routing statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	s.PathCounts = make(map[Path]int64, len(r.stats.PathCounts))
	for k, v := range r.stats.PathCounts {
		s.PathCounts[k] = v
	}
	s.PersonaDistribution = make(map[string]int64, len(r.stats.PersonaDistribution))
	for k, v := range r.stats.PersonaDistribution {
		s.PersonaDistribution[k] = v
	}
	return s
}

// ResetStats clears all statistics.
func (r *Router) ResetStats() {
	r.mu.Lock()
	r.stats = newStats()
	r.mu.Unlock()
	metrics.RoutingFallbackRatio.Set(0)
}

func newStats() Stats {
	return Stats{
		PathCounts:          make(map[Path]int64),
		PersonaDistribution: make(map[string]int64),
	}
}

func requires(c *persona.Capability, name string) bool {
	for _, p := range c.RequiredParameters() {
		if p == name {
			return true
		}
	}
	return false
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
