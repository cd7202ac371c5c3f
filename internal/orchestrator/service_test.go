package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/netbot/internal/composer"
	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/retrieval"
	"github.com/normanking/netbot/internal/router"
	"github.com/normanking/netbot/internal/tools"
)

// ============================================================================
// Fakes
// ============================================================================

// routingModel answers the routing prompt with the decision of the first
// rule whose key occurs in its query line.
type routingModel struct {
	rules []routingRule
	err   error
	calls atomic.Int32
}

type routingRule struct {
	contains string
	decision string
}

func (m *routingModel) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Query: ") {
			prompt = line
			break
		}
	}
	for _, r := range m.rules {
		if strings.Contains(prompt, r.contains) {
			return &llm.ChatResponse{Content: r.decision}, nil
		}
	}
	return &llm.ChatResponse{Content: `{"agent": "fixie", "function": "", "parameters": {}}`}, nil
}

func (m *routingModel) Name() string   { return "routing" }
func (m *routingModel) Available() bool { return true }

// echoModel writes a fixed answer.
type echoModel struct {
	mu       sync.Mutex
	calls    int
	messages []llm.Message
}

func (m *echoModel) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.messages = append([]llm.Message(nil), req.Messages...)
	m.mu.Unlock()
	return &llm.ChatResponse{Content: "Answer: restart the modem."}, nil
}

func (m *echoModel) Name() string   { return "echo" }
func (m *echoModel) Available() bool { return true }

func (m *echoModel) LastMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages
}

func (m *echoModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return name + " " + strings.Join(args, " ") + ": ok", nil
}

type fakeSpeed struct {
	err error
}

func (f fakeSpeed) Measure(context.Context) (*tools.SpeedResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tools.SpeedResult{DownloadMbps: 94.2, UploadMbps: 38.5, Ping: 12 * time.Millisecond}, nil
}

// countingExecutor records every call that reaches the executor.
type countingExecutor struct {
	inner Executor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, personaKey, function string, params map[string]any) (map[string]any, error) {
	c.calls.Add(1)
	return c.inner.Execute(ctx, personaKey, function, params)
}

type memoryTurns struct {
	mu    sync.Mutex
	turns []*data.Turn
	err   error
}

func (m *memoryTurns) RecordTurn(_ context.Context, t *data.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.turns = append(m.turns, t)
	return nil
}

func (m *memoryTurns) SessionTurns(_ context.Context, sessionID string, limit int) ([]*data.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.Turn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryTurns) all() []*data.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*data.Turn(nil), m.turns...)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

type staticDatasets []string

func (s staticDatasets) DatasetIDs(context.Context) ([]string, error) { return s, nil }

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	svc       *Service
	store     *persona.Store
	executor  *countingExecutor
	decider   *routingModel
	generator *echoModel
	turns     *memoryTurns
}

type harnessOptions struct {
	routing      *routingModel
	speed        tools.SpeedTester
	skipBuiltins bool
	datasets     []string
	// selection is the decider's dataset classification answer.
	selection string
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	log := logging.Nop()

	store, err := persona.DefaultStore()
	require.NoError(t, err)

	// Retrieval over in-memory datasets; unless told otherwise the decider
	// answers with names that do not exist.
	loader := retrieval.LoaderFunc(func(_ context.Context, dataset string) (*retrieval.Index, error) {
		return retrieval.NewIndex(dataset, []data.Chunk{
			{ChunkID: 0, Source: dataset + ".txt", Text: "Restart the modem and wait two minutes.", Embedding: []float32{0, 0, 0}},
			{ChunkID: 1, Source: dataset + ".txt", Text: "Check that the DSL light is steady.", Embedding: []float32{1, 0, 0}},
		})
	})
	cache, err := retrieval.NewIndexCache(loader, 2)
	require.NoError(t, err)

	datasets := opts.datasets
	if datasets == nil {
		datasets = []string{"network_troubleshooting", "common_home_network_problems"}
	}
	decider := &routingModel{rules: []routingRule{{contains: "", decision: opts.selection}}}
	if opts.selection == "" {
		decider.rules[0].decision = "dataset: unknown_set\ntool: unknown_tool"
	}
	helper := retrieval.NewHelper(store, cache, fakeEmbedder{}, staticDatasets(datasets),
		retrieval.WithDecider(decider, "decider"),
		retrieval.WithHelperLogger(log),
	)

	registry := tools.NewRegistry(store)
	if !opts.skipBuiltins {
		speed := opts.speed
		if speed == nil {
			speed = fakeSpeed{}
		}
		require.NoError(t, tools.Builtins{
			Diagnostics: tools.NewDiagnostics(fakeRunner{}),
			SpeedTest:   tools.NewSpeedTest(speed),
		}.Bind(registry))
	}
	fixie, _ := store.Get("fixie")
	require.NoError(t, registry.BindInstance("fixie", retrieval.NewAgent(helper, fixie)))
	executor := &countingExecutor{inner: tools.NewExecutor(registry, tools.WithLogger(log))}

	routing := opts.routing
	if routing == nil {
		routing = scenarioRouting()
	}
	r, err := router.New(store, router.NewLLMStrategy(routing, store, "router"), router.WithLogger(log))
	require.NoError(t, err)

	generator := &echoModel{}
	turns := &memoryTurns{}
	svc, err := New(Config{
		Store:    store,
		Router:   r,
		Executor: executor,
		Composer: composer.New(generator, composer.WithLogger(log)),
		Turns:    turns,
		History:  turns,
		Logger:   log,
	})
	require.NoError(t, err)

	return &harness{svc: svc, store: store, executor: executor, decider: decider, generator: generator, turns: turns}
}

func scenarioRouting() *routingModel {
	return &routingModel{rules: []routingRule{
		{contains: "kesilip", decision: "```json\n{\"agent\": \"fixie\", \"function\": \"\", \"parameters\": {}}\n```"},
		{contains: "WAN", decision: `{"agent": "fixie", "function": "fixie_check_router_troubleshooting", "parameters": {"query": "WAN ışığı yanmıyor"}}`},
		{contains: "google.com", decision: `{"agent": "bytefix", "function": "run_network_diagnostics", "parameters": {"target": "google.com"}}`},
		{contains: "hız testi", decision: `{"agent": "hypernet", "function": "run_speed_test", "parameters": {"query": "internet hız testi yapabilir misin"}}`},
		{contains: "topoloji", decision: `{"agent": "professor_ping", "function": "draw_topology_diagram", "parameters": {"scenario": "home"}}`},
		{contains: "OSI", decision: `{"agent": "routerx", "function": "", "parameters": {}}`},
		{contains: "kötü hedef", decision: `{"agent": "bytefix", "function": "run_network_diagnostics", "parameters": {"target": "-rf /"}}`},
	}}
}

func (h *harness) run(t *testing.T, turn Turn) (*Reply, string) {
	t.Helper()
	reply, err := h.svc.Handle(context.Background(), turn)
	require.NoError(t, err)
	text := reply.Stream.Collect()
	h.svc.Wait()
	return reply, text
}

// ============================================================================
// Scenarios
// ============================================================================

func TestHandle_ScenarioA_GeneralTroubleshooting(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, text := h.run(t, Turn{SessionID: "s1", Query: "bağlantım kesilip duruyor"})

	assert.Equal(t, "fixie", reply.Persona.Key)
	assert.NotEmpty(t, text)
	// Invalid dataset classification falls back to the first catalog pair
	// whose dataset exists.
	assert.Equal(t, "fixie_check_common_issues", reply.Capability)
	require.Contains(t, reply.ToolResult, "fixie_check_common_issues")
	assert.Contains(t, reply.ToolResult["fixie_check_common_issues"], "Restart the modem")
	// The bound retrieval agent answers through the executor.
	assert.Equal(t, int32(1), h.executor.calls.Load())
	assert.Equal(t, int32(1), h.decider.calls.Load(), "fallback classifies the dataset")
}

func TestHandle_RetrievalCapabilityUsesBoundAgent(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, text := h.run(t, Turn{SessionID: "s1", Query: "WAN ışığı yanmıyor"})

	assert.Equal(t, "fixie", reply.Persona.Key)
	assert.False(t, reply.Decision.Fallback)
	assert.Equal(t, "fixie_check_router_troubleshooting", reply.Capability)
	assert.Contains(t, reply.ToolResult["fixie_check_router_troubleshooting"], "Restart the modem")
	assert.Equal(t, int32(1), h.executor.calls.Load())
	assert.Zero(t, h.decider.calls.Load(), "a routed capability selects its own dataset")
	assert.NotEmpty(t, text)
}

func TestHandle_ScenarioB_Diagnostics(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, text := h.run(t, Turn{SessionID: "s1", Query: "google.com için ağ tanılama testi yapabilir misin"})

	assert.Equal(t, "bytefix", reply.Persona.Key)
	assert.Equal(t, "run_network_diagnostics", reply.Decision.Function)
	assert.Equal(t, "google.com", reply.Decision.Parameters["target"])
	for _, key := range []string{"ping", "traceroute", "nslookup"} {
		assert.Contains(t, reply.ToolResult, key)
	}
	assert.NotEmpty(t, text)
}

func TestHandle_ScenarioC_SpeedTest(t *testing.T) {
	t.Run("measured", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		reply, text := h.run(t, Turn{SessionID: "s1", Query: "internet hız testi yapabilir misin"})

		assert.Equal(t, "hypernet", reply.Persona.Key)
		assert.Contains(t, reply.ToolResult["run_speed_test"], "94.20 Mbps")
		assert.NotEmpty(t, text)
	})

	t.Run("failed measurement is in-band", func(t *testing.T) {
		h := newHarness(t, harnessOptions{speed: fakeSpeed{err: errors.New("no servers")}})
		reply, text := h.run(t, Turn{SessionID: "s1", Query: "internet hız testi yapabilir misin"})

		assert.Equal(t, tools.SpeedFailedMessage, reply.ToolResult["run_speed_test"])
		assert.NotEmpty(t, text)
	})
}

func TestHandle_ScenarioD_InvalidClassificationFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		datasets   []string
		capability string
	}{
		{"first catalog pair", []string{"network_troubleshooting", "common_home_network_problems"}, "fixie_check_common_issues"},
		{"skips unavailable datasets", []string{"network_troubleshooting"}, "fixie_check_router_troubleshooting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{
				datasets:  tt.datasets,
				selection: "dataset: unknown_set\ntool: unknown_tool",
			})

			reply, text := h.run(t, Turn{SessionID: "s1", Query: "bağlantım kesilip duruyor"})

			assert.Equal(t, int32(1), h.decider.calls.Load())
			assert.Equal(t, tt.capability, reply.Capability)
			assert.Contains(t, reply.ToolResult[tt.capability], "Restart the modem")
			assert.NotEmpty(t, text)
		})
	}
}

func TestHandle_NoDatasetsStopsTurn(t *testing.T) {
	h := newHarness(t, harnessOptions{datasets: []string{}})

	_, err := h.svc.Handle(context.Background(), Turn{SessionID: "s1", Query: "bağlantım kesilip duruyor"})
	assert.ErrorIs(t, err, retrieval.ErrNoDatasetsAvailable)
	assert.Zero(t, h.generator.Calls())
}

// ============================================================================
// Properties
// ============================================================================

func TestHandle_ToolLessPersonaNeverExecutes(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, text := h.run(t, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})

	assert.Equal(t, "routerx", reply.Persona.Key)
	assert.Nil(t, reply.ToolResult)
	assert.Empty(t, reply.Capability)
	assert.Zero(t, h.executor.calls.Load())
	assert.Contains(t, text, "Answer: ")
}

func TestHandle_UnregisteredCapabilityStopsTurn(t *testing.T) {
	h := newHarness(t, harnessOptions{skipBuiltins: true})

	_, err := h.svc.Handle(context.Background(), Turn{SessionID: "s1", Query: "internet hız testi yapabilir misin"})
	assert.ErrorIs(t, err, tools.ErrCapabilityNotFound)
	assert.Zero(t, h.generator.Calls(), "no generation after a failed capability")
}

func TestHandle_InvalidParameterStopsTurn(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.svc.Handle(context.Background(), Turn{SessionID: "s1", Query: "kötü hedef"})
	var pe *tools.ParameterError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "target", pe.Parameter)
	assert.Zero(t, h.generator.Calls())
}

func TestHandle_RoutingFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{routing: &routingModel{rules: []routingRule{{contains: "", decision: "I cannot decide"}}}})

	_, err := h.svc.Handle(context.Background(), Turn{SessionID: "s1", Query: "hello"})
	assert.ErrorIs(t, err, router.ErrMalformedDecision)

	// The session is released after a failed turn.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.svc.Handle(ctx, Turn{SessionID: "s1", Query: "hello again"})
	assert.ErrorIs(t, err, router.ErrMalformedDecision)
	assert.Zero(t, h.svc.sessions.active())
}

func TestHandle_EmptyQuery(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.svc.Handle(context.Background(), Turn{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestHandle_RecordsTurn(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, text := h.run(t, Turn{SessionID: "s1", Query: "@professor topoloji çizer misin", RemoteAddr: "10.0.0.7"})
	assert.Equal(t, "professor_ping", reply.Persona.Key)
	assert.Equal(t, router.PathMention, reply.Decision.Path)

	turns := h.turns.all()
	require.Len(t, turns, 1)
	rec := turns[0]
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "professor_ping", rec.Persona)
	assert.Equal(t, "draw_topology_diagram", rec.Capability)
	assert.Equal(t, "@professor topoloji çizer misin", rec.Query)
	assert.Equal(t, text, rec.Response)
	assert.Equal(t, "mention", rec.Path)
	assert.Equal(t, "10.0.0.7", rec.RemoteAddr)
	assert.False(t, rec.Failed)
}

func TestHandle_GeneratesSessionID(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	reply, _ := h.run(t, Turn{Query: "OSI modelini anlatır mısın"})
	assert.NotEmpty(t, reply.SessionID)
	require.Len(t, h.turns.all(), 1)
	assert.Equal(t, reply.SessionID, h.turns.all()[0].SessionID)
}

func TestHandle_SerializesSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	first, err := h.svc.Handle(ctx, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})
	require.NoError(t, err)

	// A second turn of the same session waits for the first stream.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = h.svc.Handle(waitCtx, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other sessions are not blocked.
	other, err := h.svc.Handle(ctx, Turn{SessionID: "s2", Query: "OSI modelini anlatır mısın"})
	require.NoError(t, err)
	other.Stream.Close()

	first.Stream.Collect()
	second, err := h.svc.Handle(ctx, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})
	require.NoError(t, err)
	second.Stream.Collect()

	h.svc.Wait()
	assert.Zero(t, h.svc.sessions.active())
	assert.Len(t, h.turns.all(), 3)
}

func TestHandle_LoadsSessionHistory(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, first := h.run(t, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})
	h.run(t, Turn{SessionID: "s1", Query: "OSI katmanlarını tekrar say"})

	messages := h.generator.LastMessages()
	assert.Contains(t, messages, llm.Message{Role: "user", Content: "OSI modelini anlatır mısın"})
	assert.Contains(t, messages, llm.Message{Role: "assistant", Content: first})

	// A turn that brings its own history keeps it.
	own := []llm.Message{{Role: "user", Content: "önceki soru"}}
	h.run(t, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın", History: own})
	messages = h.generator.LastMessages()
	assert.Contains(t, messages, own[0])
	assert.NotContains(t, messages, llm.Message{Role: "assistant", Content: first})

	// A new session starts without history.
	h.run(t, Turn{Query: "OSI modelini anlatır mısın"})
	assert.NotContains(t, h.generator.LastMessages(), llm.Message{Role: "user", Content: "OSI katmanlarını tekrar say"})
}

func TestHandle_RecordFailureIsOnlyLogged(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.turns.err = errors.New("database is locked")

	_, text := h.run(t, Turn{SessionID: "s1", Query: "OSI modelini anlatır mısın"})
	assert.NotEmpty(t, text)
	assert.Empty(t, h.turns.all())
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
