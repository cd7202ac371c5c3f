// Package composer turns a routed query and its tool or retrieval output into
// a persona-styled answer from the generation backend.
package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
	"github.com/normanking/netbot/internal/persona"
)

// HistoryNote precedes the user prompt when prior messages are sent.
const HistoryNote = "Previous messages provided as only context for chat history."

// DefaultHistoryTail is the number of prior messages kept.
const DefaultHistoryTail = 6

// Request is one generation.
type Request struct {
	Persona *persona.Persona
	Query   string
	// Context is the tool or retrieval output: a string, a map or nil.
	Context  any
	History  []llm.Message
	Language string
}

// Composer builds persona-conditioned prompts and runs them on the generation
// backend.
type Composer struct {
	provider    llm.Provider
	model       string
	stream      bool
	single      bool
	historyTail int
	language    string
	maxTokens   int
	temperature float64
	log         *logging.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithModel overrides the backend's default model.
func WithModel(model string) Option {
	return func(c *Composer) { c.model = model }
}

// WithStreaming enables token streaming when the backend supports it.
func WithStreaming(enabled bool) Option {
	return func(c *Composer) { c.stream = enabled }
}

// WithSinglePrompt sends the whole prompt, style block included, as one user
// message for models that ignore system prompts.
func WithSinglePrompt(enabled bool) Option {
	return func(c *Composer) { c.single = enabled }
}

// WithHistoryTail sets how many prior messages are sent. Zero sends none.
func WithHistoryTail(n int) Option {
	return func(c *Composer) {
		if n >= 0 {
			c.historyTail = n
		}
	}
}

// WithLanguage sets the language mode used when a request names none.
func WithLanguage(language string) Option {
	return func(c *Composer) { c.language = language }
}

// WithMaxTokens limits the answer length.
func WithMaxTokens(n int) Option {
	return func(c *Composer) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Composer) { c.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Composer) { c.log = log }
}

// New creates a composer over a generation backend.
func New(provider llm.Provider, opts ...Option) *Composer {
	c := &Composer{
		provider:    provider,
		stream:      true,
		historyTail: DefaultHistoryTail,
		language:    persona.DefaultLanguage,
		log:         logging.Global().WithComponent("composer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate starts generating the answer for req. The returned stream is never
// nil; backend failures are reported inside it.
func (c *Composer) Generate(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)

	language := req.Language
	if language == "" {
		language = c.language
	}

	chat := c.chatRequest(req, language)

	go func() {
		defer close(s.ch)

		var err error
		if sp, ok := llm.AsStreaming(c.provider); ok && c.stream {
			_, err = sp.ChatStream(ctx, chat, func(token string) {
				s.send(ctx, token)
			})
		} else {
			var resp *llm.ChatResponse
			resp, err = c.provider.Chat(ctx, chat)
			if err == nil {
				s.send(ctx, resp.Content)
			}
		}

		if err != nil {
			s.err = err
			s.failed = true
			metrics.GenerationFailures.Inc()
			c.log.Error("generation failed for %s: %v", personaName(req.Persona), err)
			s.send(ctx, FailureNotice(language, err))
		}
	}()

	return s
}

// chatRequest splits the prompt into the persona style block, the history
// tail and the user prompt.
func (c *Composer) chatRequest(req Request, language string) *llm.ChatRequest {
	var messages []llm.Message
	if tail := c.tail(req.History); len(tail) > 0 {
		messages = append(messages, tail...)
		messages = append(messages, llm.Message{Role: "system", Content: HistoryNote})
	}

	system := styleBlock(req.Persona, language)
	prompt := UserPrompt(req.Query, req.Context)
	if c.single {
		system = ""
		prompt = BuildPrompt(req.Persona, language, req.Query, req.Context)
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	return &llm.ChatRequest{
		Model:        c.model,
		SystemPrompt: system,
		Messages:     messages,
		MaxTokens:    c.maxTokens,
		Temperature:  c.temperature,
	}
}

func (c *Composer) tail(history []llm.Message) []llm.Message {
	var kept []llm.Message
	for _, m := range history {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) > c.historyTail {
		kept = kept[len(kept)-c.historyTail:]
	}
	return kept
}

// BuildPrompt renders the whole prompt as a single string.
func BuildPrompt(p *persona.Persona, language, query string, results any) string {
	return styleBlock(p, language) + "\n" + UserPrompt(query, results)
}

// UserPrompt renders the query and the serialized results.
func UserPrompt(query string, results any) string {
	return fmt.Sprintf("The user asked: \"%s\"\n\nHere are the results of the diagnostics:\n%s\n\nNow, write a response to the user.",
		query, SerializeContext(results))
}

// SerializeContext renders tool or retrieval output for the prompt: strings
// as-is, nil as {}, anything else as indented JSON with sorted keys and
// non-ASCII text preserved.
func SerializeContext(v any) string {
	switch t := v.(type) {
	case nil:
		return "{}"
	case string:
		return t
	case map[string]any:
		if t == nil {
			return "{}"
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// FailureNotice is the fragment appended when generation fails.
func FailureNotice(language string, err error) string {
	if language == "en" {
		return fmt.Sprintf("\n\n[Response generation failed: %v]", err)
	}
	return fmt.Sprintf("\n\n[Yanıt oluşturulamadı: %v]", err)
}

func styleBlock(p *persona.Persona, language string) string {
	if p == nil {
		return persona.SystemPrompt(language)
	}
	return p.StyleBlock(language)
}

func personaName(p *persona.Persona) string {
	if p == nil {
		return "unknown persona"
	}
	return p.Name
}
