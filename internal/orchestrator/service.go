// Package orchestrator is the conversation boundary: it takes one user turn,
// routes it, runs the chosen capability or retrieval step and hands the
// result to the composer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/netbot/internal/composer"
	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/retrieval"
	"github.com/normanking/netbot/internal/router"
)

// ErrEmptyQuery is returned for a turn without query text.
var ErrEmptyQuery = errors.New("empty query")

// Router decides who answers a query.
type Router interface {
	Route(ctx context.Context, query string, history []llm.Message) (*router.Decision, error)
}

// Executor runs a capability. Retrieval capabilities resolve to the
// persona's bound retrieval agent.
type Executor interface {
	Execute(ctx context.Context, personaKey, function string, params map[string]any) (map[string]any, error)
}

// Generator writes the final answer.
type Generator interface {
	Generate(ctx context.Context, req composer.Request) *composer.Stream
}

// TurnRecorder persists finished turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, t *data.Turn) error
}

// HistoryLoader returns a session's newest logged turns, oldest first.
type HistoryLoader interface {
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]*data.Turn, error)
}

// DefaultHistoryTurns is how many logged turns are loaded for a session.
const DefaultHistoryTurns = 3

// Turn is one user query with its conversation context.
type Turn struct {
	SessionID  string
	Query      string
	History    []llm.Message
	Language   string
	RemoteAddr string
}

// Reply is the outcome of a turn. Stream must be consumed to the end or
// closed; the turn is recorded and the session released when it finishes.
type Reply struct {
	SessionID  string
	Persona    *persona.Persona
	Decision   *router.Decision
	Capability string
	ToolResult map[string]any
	Stream     *composer.Stream
}

// Config wires a Service.
type Config struct {
	Store    *persona.Store
	Router   Router
	Executor Executor
	Composer Generator
	// Turns is optional; without it finished turns are only logged.
	Turns TurnRecorder
	// History fills the conversation tail of turns that arrive without one.
	History      HistoryLoader
	HistoryTurns int
	// DefaultPersona gets retrieval when routing named no capability.
	DefaultPersona string
	Logger         *logging.Logger
}

// Service runs conversation turns.
type Service struct {
	store          *persona.Store
	router         Router
	executor       Executor
	composer       Generator
	turns          TurnRecorder
	history        HistoryLoader
	historyTurns   int
	defaultPersona string
	log            *logging.Logger

	sessions *sessionLocks
	pending  sync.WaitGroup
}

// New creates a conversation service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("orchestrator: persona store is required")
	case cfg.Router == nil:
		return nil, fmt.Errorf("orchestrator: router is required")
	case cfg.Executor == nil:
		return nil, fmt.Errorf("orchestrator: executor is required")
	case cfg.Composer == nil:
		return nil, fmt.Errorf("orchestrator: composer is required")
	}

	s := &Service{
		store:          cfg.Store,
		router:         cfg.Router,
		executor:       cfg.Executor,
		composer:       cfg.Composer,
		turns:          cfg.Turns,
		history:        cfg.History,
		historyTurns:   cfg.HistoryTurns,
		defaultPersona: cfg.DefaultPersona,
		log:            cfg.Logger,
		sessions:       newSessionLocks(),
	}
	if s.defaultPersona == "" {
		s.defaultPersona = router.DefaultPersona
	}
	if s.historyTurns <= 0 {
		s.historyTurns = DefaultHistoryTurns
	}
	if s.log == nil {
		s.log = logging.Global().WithComponent("orchestrator")
	}
	return s, nil
}

// Store returns the persona catalog.
func (s *Service) Store() *persona.Store {
	return s.store
}

// Handle runs one turn up to the start of generation. Turns of the same
// session run one at a time; a second turn waits until the first one's
// stream has finished and its record is written. A turn of a known session
// without history gets the session's logged turns as its history.
func (s *Service) Handle(ctx context.Context, turn Turn) (*Reply, error) {
	query := strings.TrimSpace(turn.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	known := turn.SessionID != ""
	if !known {
		turn.SessionID = uuid.NewString()
	}
	ctx = logging.WithSession(ctx, turn.SessionID)
	log := s.log.ForContext(ctx)

	release, err := s.sessions.acquire(ctx, turn.SessionID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	metrics.ActiveSessions.Inc()

	if known && len(turn.History) == 0 {
		turn.History = s.loadHistory(ctx, turn.SessionID)
	}

	reply, err := s.prepare(ctx, turn, query)
	if err != nil {
		metrics.ActiveSessions.Dec()
		release()
		log.Warn("turn aborted: %v", err)
		return nil, err
	}

	reply.Stream.OnFinish(func(text string, failed bool) {
		duration := time.Since(start)
		metrics.TurnDuration.Observe(duration.Seconds())
		metrics.ActiveSessions.Dec()

		s.record(ctx, release, &data.Turn{
			SessionID:  turn.SessionID,
			Persona:    reply.Persona.Key,
			Capability: reply.Capability,
			Query:      query,
			Response:   text,
			Path:       string(reply.Decision.Path),
			Fallback:   reply.Decision.Fallback,
			Failed:     failed,
			RemoteAddr: turn.RemoteAddr,
			Duration:   duration,
		})
	})
	return reply, nil
}

// prepare routes the turn, runs its capability and starts generation.
func (s *Service) prepare(ctx context.Context, turn Turn, query string) (*Reply, error) {
	decision, err := s.router.Route(ctx, query, turn.History)
	if err != nil {
		return nil, err
	}

	p, ok := s.store.Get(decision.Persona)
	if !ok {
		return nil, fmt.Errorf("routed to unknown persona %q", decision.Persona)
	}

	reply := &Reply{
		SessionID: turn.SessionID,
		Persona:   p,
		Decision:  decision,
	}

	var results any
	switch {
	case !p.HasCapabilities():
		// Tool-less personas answer from the prompt alone.

	case s.isRetrieval(p, decision):
		out, err := s.retrieve(ctx, p, decision)
		if err != nil {
			return nil, err
		}
		for capability := range out {
			reply.Capability = capability
		}
		reply.ToolResult = out
		results = out

	case decision.Function != "":
		out, err := s.executor.Execute(ctx, p.Key, decision.Function, decision.Parameters)
		if err != nil {
			return nil, err
		}
		reply.Capability = decision.Function
		reply.ToolResult = out
		results = out
	}

	s.log.ForContext(ctx).Info("turn routed to %s (path: %s, capability: %q, fallback: %v)",
		p.Name, decision.Path, reply.Capability, decision.Fallback)

	reply.Stream = s.composer.Generate(ctx, composer.Request{
		Persona:  p,
		Query:    decision.Query,
		Context:  results,
		History:  turn.History,
		Language: turn.Language,
	})
	return reply, nil
}

// isRetrieval reports whether the decision is answered from a dataset: a
// retrieval capability, or the default persona without a capability.
func (s *Service) isRetrieval(p *persona.Persona, d *router.Decision) bool {
	if d.Function == "" {
		return p.Key == s.defaultPersona
	}
	c, ok := p.Capability(d.Function)
	return ok && c.IsRetrieval()
}

// retrieve runs a retrieval capability through the executor. Without a
// routed capability the persona's first retrieval capability runs with an
// empty hint, so the dataset is classified from the query.
func (s *Service) retrieve(ctx context.Context, p *persona.Persona, d *router.Decision) (map[string]any, error) {
	params := make(map[string]any, len(d.Parameters)+2)
	for k, v := range d.Parameters {
		params[k] = v
	}
	if q, ok := params["query"].(string); !ok || strings.TrimSpace(q) == "" {
		params["query"] = d.Query
	}

	function := d.Function
	if function == "" {
		for _, c := range p.Capabilities {
			if c.IsRetrieval() {
				function = c.Name
				break
			}
		}
		if function == "" {
			return nil, nil
		}
		params[retrieval.HintParam] = ""
	}
	return s.executor.Execute(ctx, p.Key, function, params)
}

// loadHistory turns the session's logged turns into chat messages. Failures
// only cost the turn its context.
func (s *Service) loadHistory(ctx context.Context, sessionID string) []llm.Message {
	if s.history == nil {
		return nil
	}
	turns, err := s.history.SessionTurns(ctx, sessionID, s.historyTurns)
	if err != nil {
		s.log.ForContext(ctx).Warn("failed to load session history: %v", err)
		return nil
	}

	var messages []llm.Message
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: "user", Content: t.Query})
		if t.Response != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: t.Response})
		}
	}
	return messages
}

// record writes the turn log entry in the background and releases the
// session once it is written.
func (s *Service) record(ctx context.Context, release func(), t *data.Turn) {
	log := s.log.ForContext(ctx)
	log.Info("turn finished: persona=%s capability=%q failed=%v in %v", t.Persona, t.Capability, t.Failed, t.Duration)
	if s.turns == nil {
		release()
		return
	}

	recordCtx, cancel := logging.DetachContextWithTimeout(ctx, 10*time.Second)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer release()
		defer cancel()
		if err := s.turns.RecordTurn(recordCtx, t); err != nil {
			log.Warn("failed to record turn: %v", err)
		}
	}()
}

// Wait blocks until background turn records are written.
func (s *Service) Wait() {
	s.pending.Wait()
}
