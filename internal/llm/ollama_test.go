package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// streamServer answers /api/chat with one NDJSON chunk per token.
func streamServer(t *testing.T, tokens []string, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		for i, token := range tokens {
			chunk := ollamaChatResponse{
				Model:           "test-model",
				Message:         ollamaMessage{Role: "assistant", Content: token},
				Done:            i == len(tokens)-1,
				PromptEvalCount: 10,
				EvalCount:       len(tokens),
			}
			if err := json.NewEncoder(w).Encode(chunk); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			if delay > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(delay):
				}
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testProvider(endpoint string, opts ...OllamaOption) *OllamaProvider {
	return NewOllamaProvider(&ProviderConfig{Endpoint: endpoint, Model: "test-model"}, opts...)
}

func repeatTokens(token string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = token
	}
	return out
}

func testRequest() *ChatRequest {
	return &ChatRequest{Messages: UserMessage("test")}
}

func TestOllamaStreamingNormalCompletion(t *testing.T) {
	server := streamServer(t, []string{"Hello", " ", "world", "!"}, 0)
	provider := testProvider(server.URL)

	resp, err := provider.Chat(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "Hello world!", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, 14, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOllamaChatStreamDeliversTokensInOrder(t *testing.T) {
	server := streamServer(t, []string{"a", "b", "c"}, 5*time.Millisecond)
	provider := testProvider(server.URL)

	var got []string
	full, err := provider.ChatStream(context.Background(), testRequest(), func(token string) {
		got = append(got, token)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, "abc", full)
}

func TestOllamaRequestShape(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaChatResponse{Model: "m", Done: true})
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	_, err := provider.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		MaxTokens:    64,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-model", captured.Model)
	assert.True(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "be brief", captured.Messages[0].Content)
	assert.Equal(t, 64, captured.Options.NumPredict)
}

func TestOllamaChatWithTools(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: "llama3.2:1b",
			Message: ollamaMessage{
				Role: "assistant",
				ToolCalls: []OllamaToolCall{{
					Function: OllamaFunctionCall{
						Name:      "run_network_diagnostics",
						Arguments: json.RawMessage(`{"target":"google.com"}`),
					},
				}},
			},
			Done: true,
		})
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	resp, err := provider.ChatWithTools(context.Background(), testRequest(), []ToolDef{{
		Name:        "run_network_diagnostics",
		Description: "ping",
		Parameters:  map[string]any{"type": "object"},
	}})
	require.NoError(t, err)

	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	assert.Equal(t, "run_network_diagnostics", captured.Tools[0].Function.Name)

	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "run_network_diagnostics", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"target":"google.com"}`, resp.ToolCalls[0].Arguments)
}

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, EmbedModel: "nomic-embed-text"})
	vecs, err := provider.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)

	vecs, err = provider.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testProvider(server.URL).Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaStreamingContextCancellation(t *testing.T) {
	server := streamServer(t, repeatTokens("token ", 10), 50*time.Millisecond)
	provider := testProvider(server.URL)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := provider.Chat(ctx, testRequest())
		done <- err
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	case <-time.After(2 * time.Second):
		t.Fatal("Chat() did not return after context cancellation")
	}
}

func TestOllamaStreamingNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			json.NewEncoder(w).Encode(ollamaChatResponse{
				Model:   "test-model",
				Message: ollamaMessage{Role: "assistant", Content: "token "},
				Done:    i == 4,
			})
		}
	}))
	provider := testProvider(server.URL)

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, _ = provider.Chat(ctx, testRequest())
		cancel()
	}

	provider.client.CloseIdleConnections()
	server.Close()
}

func TestOllamaStreamingErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "token"},
		})
		io.WriteString(w, "{invalid json\n")
	}))
	defer server.Close()

	_, err := testProvider(server.URL).Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode stream chunk")
}

func TestOllamaFirstTokenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := testProvider(server.URL, WithFirstTokenTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for first token")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOllamaStreamIdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "first "},
		})
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := testProvider(server.URL, WithStreamIdleTimeout(100*time.Millisecond))

	start := time.Now()
	resp, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "stream idle timeout")
	assert.Less(t, time.Since(start), time.Second)
}

func TestOllamaTimeoutConfigOptions(t *testing.T) {
	provider := testProvider("http://127.0.0.1:11434",
		WithConnectionTimeout(5*time.Second),
		WithFirstTokenTimeout(10*time.Second),
		WithStreamIdleTimeout(15*time.Second),
	)
	assert.Equal(t, 5*time.Second, provider.timeoutConfig.ConnectionTimeout)
	assert.Equal(t, 10*time.Second, provider.timeoutConfig.FirstTokenTimeout)
	assert.Equal(t, 15*time.Second, provider.timeoutConfig.StreamIdleTimeout)

	remote := testProvider("http://gpu-box.lan:11434")
	assert.Equal(t, RemoteTimeoutConfig(), remote.timeoutConfig)
}

func TestIsRemoteEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		remote   bool
	}{
		{"http://localhost:11434", false},
		{"http://127.0.0.1:11434", false},
		{"http://[::1]:11434", false},
		{"http://host.docker.internal:11434", false},
		{"http://192.168.1.20:11434", true},
		{"https://ollama.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.remote, isRemoteEndpoint(tt.endpoint))
		})
	}
}

func TestMetricsProviderForwardsCapabilities(t *testing.T) {
	server := streamServer(t, []string{"x", "y"}, 0)
	wrapped := NewMetricsProvider(testProvider(server.URL))

	sp, ok := AsStreaming(wrapped)
	require.True(t, ok)
	out, err := sp.ChatStream(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "xy", out)

	_, ok = AsToolCalling(wrapped)
	assert.True(t, ok)
	_, ok = AsEmbedder(wrapped)
	assert.True(t, ok)

	stats := wrapped.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(0), stats.Errors)
}

type chatOnly struct{}

func (chatOnly) Chat(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok"}, nil
}
func (chatOnly) Name() string    { return "chat-only" }
func (chatOnly) Available() bool { return true }

func TestMetricsProviderHidesMissingCapabilities(t *testing.T) {
	wrapped := NewMetricsProvider(chatOnly{})

	_, ok := AsStreaming(wrapped)
	assert.False(t, ok)
	_, ok = AsEmbedder(wrapped)
	assert.False(t, ok)

	_, err := wrapped.ChatStream(context.Background(), testRequest(), nil)
	assert.ErrorIs(t, err, ErrNotSupported)
}
