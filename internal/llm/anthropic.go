package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider, StreamingProvider and
// ToolCallingProvider for Anthropic Claude.
type AnthropicProvider struct {
	config *ProviderConfig
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg *ProviderConfig) *AnthropicProvider {
	cfg = applyDefaults(cfg, "anthropic")

	opts := []option.RequestOption{option.WithRequestTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicProvider{
		config: cfg,
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Available checks if the API key is configured.
func (p *AnthropicProvider) Available() bool {
	return p.config.APIKey != ""
}

func (p *AnthropicProvider) params(req *ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

// Chat sends a chat request to Anthropic.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.send(ctx, p.params(req))
}

// ChatWithTools sends a chat request with tool definitions attached.
func (p *AnthropicProvider) ChatWithTools(ctx context.Context, req *ChatRequest, tools []ToolDef) (*ChatResponse, error) {
	params := p.params(req)
	for _, t := range tools {
		required, _ := t.Parameters["required"].([]string)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Parameters["properties"],
					Required:   required,
				},
			},
		})
	}
	return p.send(ctx, params)
}

func (p *AnthropicProvider) send(ctx context.Context, params anthropic.MessageNewParams) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	out := &ChatResponse{
		Model:            string(resp.Model),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TokensUsed:       int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Duration:         time.Since(start),
		FinishReason:     string(resp.StopReason),
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCallResult{
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// ChatStream streams text deltas as they arrive.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (string, error) {
	if p.config.APIKey == "" {
		return "", fmt.Errorf("Anthropic API key not configured")
	}

	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		full.WriteString(text.Text)
		if onToken != nil {
			onToken(text.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), fmt.Errorf("anthropic stream: %w", err)
	}
	return full.String(), nil
}
