// Package llm provides the language model backends used by netbot:
// Ollama (local, over HTTP), Google Gemini and Anthropic Claude.
//
// Every backend implements Provider. Streaming, native tool calling and
// embeddings are optional capabilities expressed as separate interfaces;
// use AsStreaming, AsToolCalling and AsEmbedder to check for them so that
// wrapped providers report what the underlying backend supports.
package llm

import (
	"context"
	"errors"
	"io"
	"time"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB)
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// ErrNotSupported is returned when a backend lacks an optional capability.
var ErrNotSupported = errors.New("operation not supported by provider")

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a message and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool
}

// StreamingProvider extends Provider with streaming support.
type StreamingProvider interface {
	Provider
	// ChatStream is like Chat but calls onToken for each token as it's generated.
	// Returns the complete response when done.
	ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (string, error)
}

// ToolCallingProvider extends Provider with native tool calling.
type ToolCallingProvider interface {
	Provider
	ChatWithTools(ctx context.Context, req *ChatRequest, tools []ToolDef) (*ChatResponse, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the AI's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// UserMessage builds a single-turn request body.
func UserMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string           `json:"content"`
	Model            string           `json:"model"`
	TokensUsed       int              `json:"tokens_used,omitempty"`
	PromptTokens     int              `json:"prompt_tokens,omitempty"`
	CompletionTokens int              `json:"completion_tokens,omitempty"`
	Duration         time.Duration    `json:"duration"`
	FinishReason     string           `json:"finish_reason,omitempty"`
	ToolCalls        []ToolCallResult `json:"tool_calls,omitempty"`
}

// ToolCallResult is one tool invocation requested by the model.
// Arguments holds the raw JSON object.
type ToolCallResult struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a callable tool offered to the model.
// Parameters is a JSON Schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (ollama, anthropic, gemini).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// EmbedModel is used by Embed when set; otherwise Model.
	EmbedModel string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for non-streaming API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "llama3.2",
			EmbedModel:  "nomic-embed-text",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "anthropic":
		return &ProviderConfig{
			Name:        "anthropic",
			Model:       "claude-3-5-haiku-latest",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "gemini":
		return &ProviderConfig{
			Name:        "gemini",
			Model:       "gemini-2.0-flash",
			EmbedModel:  "text-embedding-004",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// applyDefaults fills zero fields of cfg from DefaultConfig(name).
func applyDefaults(cfg *ProviderConfig, name string) *ProviderConfig {
	defaults := DefaultConfig(name)
	if cfg == nil {
		return defaults
	}

	out := *cfg
	out.Name = name
	if out.Endpoint == "" {
		out.Endpoint = defaults.Endpoint
	}
	if out.Model == "" {
		out.Model = defaults.Model
	}
	if out.EmbedModel == "" {
		out.EmbedModel = defaults.EmbedModel
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = defaults.Temperature
	}
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	return &out
}

// unwrapper is implemented by providers that decorate another provider.
type unwrapper interface {
	Unwrap() Provider
}

func innermost(p Provider) Provider {
	for {
		u, ok := p.(unwrapper)
		if !ok {
			return p
		}
		p = u.Unwrap()
	}
}

// AsStreaming returns p as a StreamingProvider if the underlying backend
// streams.
func AsStreaming(p Provider) (StreamingProvider, bool) {
	if _, ok := innermost(p).(StreamingProvider); !ok {
		return nil, false
	}
	sp, ok := p.(StreamingProvider)
	return sp, ok
}

// AsToolCalling returns p as a ToolCallingProvider if the underlying backend
// supports native tool calling.
func AsToolCalling(p Provider) (ToolCallingProvider, bool) {
	if _, ok := innermost(p).(ToolCallingProvider); !ok {
		return nil, false
	}
	tp, ok := p.(ToolCallingProvider)
	return tp, ok
}

// AsEmbedder returns p as an Embedder if the underlying backend embeds.
func AsEmbedder(p Provider) (Embedder, bool) {
	if _, ok := innermost(p).(Embedder); !ok {
		return nil, false
	}
	e, ok := p.(Embedder)
	return e, ok
}
