// Package a2a exposes netbot to other agents over the A2A protocol v0.3
// using the official a2a-go SDK.
//
// Supported features:
//   - Agent Card discovery (/.well-known/agent-card.json)
//   - JSON-RPC 2.0 transport (HTTP POST)
//   - Streaming status updates via SSE
//   - One answer artifact per task, with routing metadata as a data part
package a2a

import (
	"context"
	"encoding/gob"
	"fmt"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/orchestrator"
)

func init() {
	// Task state is gob-encoded; data parts carry nested maps.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Metadata keys read from incoming messages.
const (
	MetaSessionID = "sessionId"
	MetaLanguage  = "language"
)

// TurnHandler runs conversation turns.
type TurnHandler interface {
	Handle(ctx context.Context, turn orchestrator.Turn) (*orchestrator.Reply, error)
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR (implements a2asrv.AgentExecutor)
// ═══════════════════════════════════════════════════════════════════════════════

// Executor answers A2A tasks with conversation turns.
type Executor struct {
	turns TurnHandler
	log   *logging.Logger
}

// NewExecutor creates an executor over the conversation service.
func NewExecutor(turns TurnHandler, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.Global().WithComponent("a2a")
	}
	return &Executor{turns: turns, log: log}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.respond(ctx, reqCtx, func(ev a2a.Event) error {
		return queue.Write(ctx, ev)
	})
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	e.log.Info("cancel: taskID=%s", reqCtx.TaskID)

	cancelEvent := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	cancelEvent.Final = true
	return queue.Write(ctx, cancelEvent)
}

// respond runs one task and emits its events in order: working, the answer
// artifact, then a final completed or failed status.
func (e *Executor) respond(ctx context.Context, reqCtx *a2asrv.RequestContext, emit func(a2a.Event) error) error {
	start := time.Now()
	e.log.Info("execute: taskID=%s", reqCtx.TaskID)

	if err := emit(a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return fmt.Errorf("failed to write state working: %w", err)
	}

	turn := orchestrator.Turn{
		SessionID: metadataString(reqCtx.Message, MetaSessionID),
		Query:     extractText(reqCtx.Message),
		Language:  metadataString(reqCtx.Message, MetaLanguage),
	}
	if turn.SessionID == "" {
		turn.SessionID = string(reqCtx.TaskID)
	}
	if reqCtx.StoredTask != nil {
		turn.History = taskHistory(reqCtx.StoredTask.History, reqCtx.Message)
	}

	reply, err := e.turns.Handle(ctx, turn)
	if err != nil {
		e.log.Warn("execute: taskID=%s failed: %v", reqCtx.TaskID, err)
		errorMsg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: fmt.Sprintf("Error: %v", err)})
		failEvent := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, errorMsg)
		failEvent.Final = true
		return emit(failEvent)
	}

	text := reply.Stream.Collect()
	meta := replyMetadata(reply)

	answer := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: text}, a2a.DataPart{Data: meta})
	answer.Artifact.Name = "answer"
	answer.Artifact.Description = fmt.Sprintf("Answer from %s", reply.Persona.Name)
	if err := emit(answer); err != nil {
		e.log.Warn("failed to write answer artifact: %v", err)
	}

	state := a2a.TaskStateCompleted
	if reply.Stream.Failed() {
		state = a2a.TaskStateFailed
	}
	responseMsg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text}, a2a.DataPart{Data: meta})
	final := a2a.NewStatusUpdateEvent(reqCtx, state, responseMsg)
	final.Final = true
	if err := emit(final); err != nil {
		return fmt.Errorf("failed to write state %s: %w", state, err)
	}

	e.log.Info("execute: taskID=%s %s by %s in %v", reqCtx.TaskID, state, reply.Persona.Key, time.Since(start))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func replyMetadata(reply *orchestrator.Reply) map[string]any {
	meta := map[string]any{
		"sessionId": reply.SessionID,
		"persona":   reply.Persona.Key,
		"function":  reply.Capability,
	}
	if d := reply.Decision; d != nil {
		meta["path"] = string(d.Path)
		meta["fallback"] = d.Fallback
	}
	return meta
}

func extractText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			parts = append(parts, p.Text)
		case *a2a.TextPart:
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// taskHistory converts a continued task's earlier messages to chat history.
// Without one the conversation service falls back to the session's turn log.
func taskHistory(history []*a2a.Message, current *a2a.Message) []llm.Message {
	var out []llm.Message
	for _, m := range history {
		if m == nil || (current != nil && m.ID == current.ID) {
			continue
		}
		text := extractText(m)
		if text == "" {
			continue
		}
		role := "user"
		if m.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: text})
	}
	return out
}

func metadataString(msg *a2a.Message, key string) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	s, _ := msg.Metadata[key].(string)
	return strings.TrimSpace(s)
}
