package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
)

// MetricsProvider wraps an LLM provider with timing and metrics collection.
// It forwards the optional capabilities of the wrapped provider; calls to a
// capability the backend lacks return ErrNotSupported.
type MetricsProvider struct {
	provider Provider
	name     string
	log      *logging.Logger

	totalCalls        int64
	totalErrors       int64
	totalInputTokens  int64
	totalOutputTokens int64

	mu           sync.RWMutex
	totalLatency time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
}

// ProviderStats is a snapshot of a MetricsProvider's counters.
type ProviderStats struct {
	Provider     string        `json:"provider"`
	Calls        int64         `json:"calls"`
	Errors       int64         `json:"errors"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	AvgLatency   time.Duration `json:"avg_latency"`
	MinLatency   time.Duration `json:"min_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
}

// NewMetricsProvider wraps a provider with metrics collection.
func NewMetricsProvider(provider Provider) *MetricsProvider {
	return &MetricsProvider{
		provider: provider,
		name:     provider.Name(),
		log:      logging.Global().WithComponent("llm"),
	}
}

func (m *MetricsProvider) observe(op, model string, start time.Time, resp *ChatResponse, err error) {
	latency := time.Since(start)

	atomic.AddInt64(&m.totalCalls, 1)
	status := "ok"
	if err != nil {
		atomic.AddInt64(&m.totalErrors, 1)
		status = "error"
	}
	metrics.LLMRequests.WithLabelValues(m.name, status).Inc()
	metrics.LLMLatency.WithLabelValues(m.name).Observe(latency.Seconds())

	m.mu.Lock()
	m.totalLatency += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.mu.Unlock()

	if resp != nil {
		atomic.AddInt64(&m.totalInputTokens, int64(resp.PromptTokens))
		atomic.AddInt64(&m.totalOutputTokens, int64(resp.CompletionTokens))
	}

	if err != nil {
		m.log.Warn("[LLM-Metrics] %s/%s %s FAILED after %v: %v", m.name, model, op, latency, err)
		return
	}
	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	m.log.Debug("[LLM-Metrics] %s/%s %s completed in %v (%d tokens)", m.name, model, op, latency, tokens)
}

// Chat implements Provider interface with metrics.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := m.provider.Chat(ctx, req)
	m.observe("chat", req.Model, start, resp, err)
	return resp, err
}

// ChatStream forwards to the wrapped provider's streaming call.
func (m *MetricsProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (string, error) {
	sp, ok := m.provider.(StreamingProvider)
	if !ok {
		return "", ErrNotSupported
	}
	start := time.Now()
	out, err := sp.ChatStream(ctx, req, onToken)
	m.observe("stream", req.Model, start, nil, err)
	return out, err
}

// ChatWithTools forwards to the wrapped provider's tool-calling call.
func (m *MetricsProvider) ChatWithTools(ctx context.Context, req *ChatRequest, tools []ToolDef) (*ChatResponse, error) {
	tp, ok := m.provider.(ToolCallingProvider)
	if !ok {
		return nil, ErrNotSupported
	}
	start := time.Now()
	resp, err := tp.ChatWithTools(ctx, req, tools)
	m.observe("tools", req.Model, start, resp, err)
	return resp, err
}

// Embed forwards to the wrapped provider's embedder.
func (m *MetricsProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, ok := m.provider.(Embedder)
	if !ok {
		return nil, ErrNotSupported
	}
	start := time.Now()
	out, err := e.Embed(ctx, texts)
	m.observe("embed", "", start, nil, err)
	return out, err
}

// Name implements Provider interface.
func (m *MetricsProvider) Name() string {
	return m.name
}

// Available implements Provider interface.
func (m *MetricsProvider) Available() bool {
	return m.provider.Available()
}

// Stats returns current counters.
func (m *MetricsProvider) Stats() ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := atomic.LoadInt64(&m.totalCalls)
	s := ProviderStats{
		Provider:     m.name,
		Calls:        calls,
		Errors:       atomic.LoadInt64(&m.totalErrors),
		InputTokens:  atomic.LoadInt64(&m.totalInputTokens),
		OutputTokens: atomic.LoadInt64(&m.totalOutputTokens),
		MinLatency:   m.minLatency,
		MaxLatency:   m.maxLatency,
	}
	if calls > 0 {
		s.AvgLatency = m.totalLatency / time.Duration(calls)
	}
	return s
}

// Unwrap returns the underlying provider.
func (m *MetricsProvider) Unwrap() Provider {
	return m.provider
}
