package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider, StreamingProvider, ToolCallingProvider
// and Embedder for Google Gemini through the genai SDK.
type GeminiProvider struct {
	config *ProviderConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. The SDK client is created
// on first use.
func NewGeminiProvider(cfg *ProviderConfig) *GeminiProvider {
	return &GeminiProvider{config: applyDefaults(cfg, "gemini")}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Available checks if the API key is configured.
func (p *GeminiProvider) Available() bool {
	return p.config.APIKey != ""
}

func (p *GeminiProvider) sdk(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *GeminiProvider) prepare(req *ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		// Gemini uses "user" and "model" instead of "assistant"
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return model, contents, cfg
}

// Chat sends a chat request to Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.generate(ctx, req, nil)
}

// ChatWithTools offers tools as function declarations.
func (p *GeminiProvider) ChatWithTools(ctx context.Context, req *ChatRequest, tools []ToolDef) (*ChatResponse, error) {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		}
	}
	return p.generate(ctx, req, []*genai.Tool{{FunctionDeclarations: decls}})
}

func (p *GeminiProvider) generate(ctx context.Context, req *ChatRequest, tools []*genai.Tool) (*ChatResponse, error) {
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	model, contents, cfg := p.prepare(req)
	cfg.Tools = tools

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := client.Models.GenerateContent(callCtx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	out := &ChatResponse{
		Content:      resp.Text(),
		Model:        model,
		Duration:     time.Since(start),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.TokensUsed = out.PromptTokens + out.CompletionTokens
	}
	for _, call := range resp.FunctionCalls() {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("encode function call arguments: %w", err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCallResult{Name: call.Name, Arguments: string(args)})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

// ChatStream streams text fragments as Gemini produces them.
func (p *GeminiProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (string, error) {
	client, err := p.sdk(ctx)
	if err != nil {
		return "", err
	}

	model, contents, cfg := p.prepare(req)

	var full strings.Builder
	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return full.String(), fmt.Errorf("Gemini stream: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if full.Len()+len(text) > MaxStreamedResponseSize {
			return full.String(), fmt.Errorf("response size exceeded limit (%d bytes)", MaxStreamedResponseSize)
		}
		full.WriteString(text)
		if onToken != nil {
			onToken(text)
		}
	}
	return full.String(), nil
}

// Embed returns one vector per text using the configured embedding model.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := client.Models.EmbedContent(ctx, p.config.EmbedModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
