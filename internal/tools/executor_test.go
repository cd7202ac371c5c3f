package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/persona"
)

// ===========================================================================
// HELPERS
// ===========================================================================

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := persona.DefaultStore()
	require.NoError(t, err)
	return NewRegistry(store)
}

type retrievalStub struct {
	calls atomic.Int32
}

func (r *retrievalStub) Capabilities() map[string]Func {
	return map[string]Func{
		"fixie_check_common_issues": func(ctx context.Context, p Params) (any, error) {
			r.calls.Add(1)
			q, _ := p.String("query")
			return "passages for " + q, nil
		},
	}
}

type badInstance struct{}

func (badInstance) Capabilities() map[string]Func {
	return map[string]Func{"run_speed_test": func(context.Context, Params) (any, error) { return nil, nil }}
}

// ===========================================================================
// REGISTRY TESTS
// ===========================================================================

func TestRegistry_BindGlobalRejectsUndeclared(t *testing.T) {
	r := newTestRegistry(t)

	err := r.BindGlobal("format_disk", func(context.Context, Params) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotDeclared)

	fn := func(context.Context, Params) (any, error) { return "ok", nil }
	require.NoError(t, r.BindGlobal("draw_topology_diagram", fn))
	assert.Error(t, r.BindGlobal("draw_topology_diagram", fn), "duplicate binding must fail")
}

func TestRegistry_BindInstanceChecksPersona(t *testing.T) {
	r := newTestRegistry(t)

	err := r.BindInstance("fixie", badInstance{})
	assert.ErrorIs(t, err, ErrNotDeclared)

	assert.Error(t, r.BindInstance("nobody", &retrievalStub{}))
	require.NoError(t, r.BindInstance("Fixie", &retrievalStub{}))
}

func TestRegistry_ResolveOrder(t *testing.T) {
	r := newTestRegistry(t)
	stub := &retrievalStub{}
	require.NoError(t, r.BindInstance("fixie", stub))
	require.NoError(t, r.BindGlobal("fixie_check_common_issues", func(context.Context, Params) (any, error) {
		return "global", nil
	}))
	require.NoError(t, r.BindGlobal("fixie_check_router_troubleshooting", func(context.Context, Params) (any, error) {
		return "global", nil
	}))

	fn, err := r.Resolve("fixie", "fixie_check_common_issues")
	require.NoError(t, err)
	out, err := fn(context.Background(), Params{"query": "wifi"})
	require.NoError(t, err)
	assert.Equal(t, "passages for wifi", out, "instance method wins over global")

	fn, err = r.Resolve("fixie", "fixie_check_router_troubleshooting")
	require.NoError(t, err)
	out, _ = fn(context.Background(), nil)
	assert.Equal(t, "global", out)

	// Declared for fixie only; bytefix cannot reach it.
	_, err = r.Resolve("bytefix", "fixie_check_router_troubleshooting")
	var nf *CapabilityNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bytefix", nf.Persona)
	assert.Equal(t, "fixie_check_router_troubleshooting", nf.Function)
}

func TestRegistry_Validate(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bytefix.run_network_diagnostics")

	require.NoError(t, r.BindInstance("fixie", allRetrieval{}))
	require.NoError(t, Builtins{
		Diagnostics: NewDiagnostics(&fakeRunner{}),
		SpeedTest:   NewSpeedTest(&fakeTester{}),
	}.Bind(r))
	assert.NoError(t, r.Validate())
}

type allRetrieval struct{}

func (allRetrieval) Capabilities() map[string]Func {
	noop := func(context.Context, Params) (any, error) { return "", nil }
	return map[string]Func{
		"fixie_check_common_issues":          noop,
		"fixie_check_router_troubleshooting": noop,
	}
}

// ===========================================================================
// EXECUTOR TESTS
// ===========================================================================

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *Registry) {
	t.Helper()
	r := newTestRegistry(t)
	opts = append([]ExecutorOption{WithLogger(logging.Nop())}, opts...)
	return NewExecutor(r, opts...), r
}

func TestExecutor_WrapsNonMapResults(t *testing.T) {
	e, r := newTestExecutor(t)
	require.NoError(t, r.BindGlobal("draw_topology_diagram", Topology))

	out, err := e.Execute(context.Background(), "professor_ping", "draw_topology_diagram", map[string]any{"scenario": "star"})
	require.NoError(t, err)
	require.Contains(t, out, "draw_topology_diagram")
	assert.Contains(t, out["draw_topology_diagram"], "[Hub]")
}

func TestExecutor_DecodesJSONObjectResults(t *testing.T) {
	e, r := newTestExecutor(t)
	require.NoError(t, r.BindGlobal("run_network_diagnostics", func(context.Context, Params) (any, error) {
		return `{"ping": "p", "traceroute": "t", "nslookup": "n"}`, nil
	}))

	out, err := e.Execute(context.Background(), "bytefix", "run_network_diagnostics", map[string]any{"target": "google.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ping": "p", "traceroute": "t", "nslookup": "n"}, out)
}

func TestExecutor_CapabilityNotFound(t *testing.T) {
	e, _ := newTestExecutor(t)

	tests := []struct {
		persona  string
		function string
	}{
		{"bytefix", "run_network_diagnostics"}, // declared but unbound
		{"bytefix", "reboot_router"},
		{"nobody", "run_speed_test"},
	}

	for _, tt := range tests {
		t.Run(tt.persona+"/"+tt.function, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.persona, tt.function, nil)
			assert.ErrorIs(t, err, ErrCapabilityNotFound)
		})
	}
	assert.Equal(t, int64(3), e.Stats().NotFound)
}

func TestExecutor_MissingRequiredParameter(t *testing.T) {
	e, r := newTestExecutor(t)
	called := false
	require.NoError(t, r.BindGlobal("run_network_diagnostics", func(context.Context, Params) (any, error) {
		called = true
		return nil, nil
	}))

	_, err := e.Execute(context.Background(), "bytefix", "run_network_diagnostics", map[string]any{"host": "x"})
	require.ErrorIs(t, err, ErrMissingParameter)
	var pe *ParameterError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "target", pe.Parameter)
	assert.Equal(t, "bytefix", pe.Persona)
	assert.False(t, called)
}

func TestExecutor_FullDescriptorParametersAccepted(t *testing.T) {
	e, r := newTestExecutor(t)
	require.NoError(t, r.BindInstance("fixie", allRetrieval{}))
	require.NoError(t, Builtins{
		Diagnostics: NewDiagnostics(&fakeRunner{}),
		SpeedTest:   NewSpeedTest(&fakeTester{}),
	}.Bind(r))

	for _, c := range r.Store().Capabilities() {
		params := map[string]any{}
		for _, p := range c.Parameters {
			params[p.Name] = "google.com"
		}
		_, err := e.Execute(context.Background(), c.Persona(), c.Name, params)
		assert.NotErrorIs(t, err, ErrMissingParameter, c.Name)
		assert.NoError(t, err, c.Name)
	}
}

func TestExecutor_CallableParameterErrorIsWrapped(t *testing.T) {
	e, r := newTestExecutor(t)
	require.NoError(t, r.BindGlobal("run_network_diagnostics", NewDiagnostics(&fakeRunner{}).Run))

	_, err := e.Execute(context.Background(), "bytefix", "run_network_diagnostics", map[string]any{"target": "-rf /"})
	var pe *ParameterError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bytefix", pe.Persona)
	assert.Equal(t, "run_network_diagnostics", pe.Function)
}

func TestExecutor_RetriesTransientErrors(t *testing.T) {
	e, r := newTestExecutor(t, WithRetry(3, time.Millisecond))
	var calls atomic.Int32
	require.NoError(t, r.BindGlobal("run_speed_test", func(context.Context, Params) (any, error) {
		if calls.Add(1) < 3 {
			return nil, Transient(errors.New("server busy"))
		}
		return "fast", nil
	}))

	out, err := e.Execute(context.Background(), "hypernet", "run_speed_test", map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"run_speed_test": "fast"}, out)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), e.Stats().Retries)
}

func TestExecutor_FailFastByDefault(t *testing.T) {
	e, r := newTestExecutor(t)
	var calls atomic.Int32
	require.NoError(t, r.BindGlobal("run_speed_test", func(context.Context, Params) (any, error) {
		calls.Add(1)
		return nil, Transient(errors.New("server busy"))
	}))

	_, err := e.Execute(context.Background(), "hypernet", "run_speed_test", map[string]any{"query": "q"})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), e.Stats().Failures)
}

func TestExecutor_RetryPolicyDoublesBackoff(t *testing.T) {
	e, _ := newTestExecutor(t, WithRetry(3, 10*time.Millisecond))
	policy := e.retryPolicy(context.Background())

	assert.Equal(t, 10*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, backoff.Stop, policy.NextBackOff(), "three attempts allow two waits")
}

func TestExecutor_RetryStopsWhenContextEnds(t *testing.T) {
	e, r := newTestExecutor(t, WithRetry(5, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, r.BindGlobal("run_speed_test", func(context.Context, Params) (any, error) {
		calls.Add(1)
		cancel()
		return nil, Transient(errors.New("server busy"))
	}))

	_, err := e.Execute(ctx, "hypernet", "run_speed_test", map[string]any{"query": "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, e.Stats().Retries)
}

func TestExecutor_NonTransientErrorsAreNotRetried(t *testing.T) {
	e, r := newTestExecutor(t, WithRetry(5, time.Millisecond))
	var calls atomic.Int32
	require.NoError(t, r.BindGlobal("run_speed_test", func(context.Context, Params) (any, error) {
		calls.Add(1)
		return nil, errors.New("broken")
	}))

	_, err := e.Execute(context.Background(), "hypernet", "run_speed_test", map[string]any{"query": "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_Timeout(t *testing.T) {
	e, r := newTestExecutor(t, WithTimeout(20*time.Millisecond))
	require.NoError(t, r.BindGlobal("run_speed_test", func(ctx context.Context, _ Params) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := e.Execute(context.Background(), "hypernet", "run_speed_test", map[string]any{"query": "q"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want map[string]any
	}{
		{"map", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"string map", map[string]string{"a": "b"}, map[string]any{"a": "b"}},
		{"json object", `{"error": "x"}`, map[string]any{"error": "x"}},
		{"plain string", "hello", map[string]any{"fn": "hello"}},
		{"broken json", "{nope", map[string]any{"fn": "{nope"}},
		{"number", 42, map[string]any{"fn": 42}},
		{"nil", nil, map[string]any{"fn": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize("fn", tt.in))
		})
	}
}

func TestParamsString(t *testing.T) {
	p := Params{"a": " x ", "n": 3, "empty": "  ", "nil": nil}

	v, ok := p.String("a")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = p.String("n")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = p.String("empty")
	assert.False(t, ok)
	_, ok = p.String("nil")
	assert.False(t, ok)
	_, ok = p.String("missing")
	assert.False(t, ok)
}
