package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
)

// Executor runs capabilities resolved through a Registry.
type Executor struct {
	registry    *Registry
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	log         *logging.Logger

	mu    sync.Mutex
	stats ExecStats
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithRetry retries errors marked Transient up to maxAttempts total attempts,
// sleeping backoff, 2*backoff, ... between them.
func WithRetry(maxAttempts int, backoff time.Duration) ExecutorOption {
	return func(e *Executor) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		e.maxAttempts = maxAttempts
		e.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor creates an executor with a 90s timeout and no retries.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		timeout:     90 * time.Second,
		maxAttempts: 1,
		log:         logging.Global().WithComponent("executor"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute resolves and invokes a capability and returns its result as a map.
// A non-map result v is returned as {function: v}.
func (e *Executor) Execute(ctx context.Context, personaKey, function string, params map[string]any) (map[string]any, error) {
	start := time.Now()

	fn, err := e.registry.Resolve(personaKey, function)
	if err != nil {
		e.record(func(s *ExecStats) { s.NotFound++ })
		metrics.CapabilityExecutions.WithLabelValues(personaKey, function, "not_found").Inc()
		e.log.Error("capability %s not found for persona %s", function, personaKey)
		return nil, err
	}

	p, _ := e.registry.Store().Get(personaKey)
	personaKey = p.Key

	if params == nil {
		params = map[string]any{}
	}
	args := Params(params)

	if descriptor, ok := p.Capability(function); ok {
		for _, name := range descriptor.RequiredParameters() {
			if _, ok := args.String(name); !ok {
				metrics.CapabilityExecutions.WithLabelValues(personaKey, function, "invalid").Inc()
				return nil, &ParameterError{
					Persona:   personaKey,
					Function:  function,
					Parameter: name,
					Err:       ErrMissingParameter,
				}
			}
		}
	}

	e.log.Info("executing %s.%s with parameters %v", personaKey, function, params)

	var (
		result   any
		attempts int
	)
	err = backoff.RetryNotify(func() error {
		attempts++
		var callErr error
		result, callErr = e.invoke(ctx, fn, args)
		if callErr != nil && !IsTransient(callErr) {
			return backoff.Permanent(callErr)
		}
		return callErr
	}, e.retryPolicy(ctx), func(err error, wait time.Duration) {
		e.record(func(s *ExecStats) { s.Retries++ })
		e.log.Warn("%s.%s attempt %d failed, retrying in %v: %v", personaKey, function, attempts, wait, err)
	})

	elapsed := time.Since(start)
	metrics.CapabilityDuration.WithLabelValues(function).Observe(elapsed.Seconds())
	e.record(func(s *ExecStats) {
		s.Executions++
		s.TotalNanos += elapsed.Nanoseconds()
		if err != nil {
			s.Failures++
		}
	})

	if err != nil {
		metrics.CapabilityExecutions.WithLabelValues(personaKey, function, "error").Inc()
		var pe *ParameterError
		if errors.As(err, &pe) {
			if pe.Persona == "" {
				pe.Persona = personaKey
			}
			if pe.Function == "" {
				pe.Function = function
			}
			return nil, pe
		}
		return nil, &ExecutionError{Persona: personaKey, Function: function, Attempts: attempts, Err: err}
	}

	metrics.CapabilityExecutions.WithLabelValues(personaKey, function, "ok").Inc()
	e.log.Debug("%s.%s finished in %v", personaKey, function, elapsed)

	return Normalize(function, result), nil
}

// retryPolicy doubles the configured backoff after every transient failure
// and stops after maxAttempts attempts or when ctx is done.
func (e *Executor) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.backoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.maxAttempts-1)), ctx)
}

func (e *Executor) invoke(ctx context.Context, fn Func, args Params) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(callCtx, args)
}

func (e *Executor) record(update func(*ExecStats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.stats)
}

// Stats returns a copy of the execution counters.
func (e *Executor) Stats() ExecStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// AvgDuration returns the average execution duration.
func (s ExecStats) AvgDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return time.Duration(s.TotalNanos / s.Executions)
}

// Normalize turns a callable's result into a map. Maps pass through, a string
// holding a JSON object is decoded, anything else is wrapped as {function: v}.
func Normalize(function string, v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") {
			var m map[string]any
			if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
				return m
			}
		}
	}
	return map[string]any{function: v}
}
