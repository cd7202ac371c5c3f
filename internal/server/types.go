// Package server is the HTTP surface of `netbot serve`: the websocket chat
// stream, the persona and dataset listings, health and metrics.
package server

import (
	"time"

	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/router"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8090)
	Addr string

	// APIKeyHash is a bcrypt hash; when set, requests need "Authorization: Bearer <key>".
	APIKeyHash string

	// Version is reported by /healthz.
	Version string

	// ShutdownTimeout is the graceful shutdown timeout (default: 5s)
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the server.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "127.0.0.1:8090",
		Version:         "dev",
		ShutdownTimeout: 5 * time.Second,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// API RESPONSE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
	Database  string    `json:"database,omitempty"`
}

// CapabilityResponse describes one persona capability.
type CapabilityResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Dataset     string         `json:"dataset,omitempty"`
}

// PersonaResponse is the JSON form of a persona.
type PersonaResponse struct {
	Key          string               `json:"key"`
	Name         string               `json:"name"`
	Title        string               `json:"title,omitempty"`
	Role         string               `json:"role"`
	Aliases      []string             `json:"aliases,omitempty"`
	Capabilities []CapabilityResponse `json:"capabilities"`
}

// PersonasListResponse is returned by GET /api/v1/personas.
type PersonasListResponse struct {
	Personas []PersonaResponse `json:"personas"`
	Total    int               `json:"total"`
}

// DatasetsListResponse is returned by GET /api/v1/datasets.
type DatasetsListResponse struct {
	Datasets []*data.Dataset `json:"datasets"`
	Total    int             `json:"total"`
}

// LLMMetricsResponse is returned by GET /api/v1/metrics/llm.
type LLMMetricsResponse struct {
	Timestamp string              `json:"timestamp"`
	Providers []llm.ProviderStats `json:"providers"`
}

// RouterMetricsResponse is returned by GET /api/v1/metrics/router.
type RouterMetricsResponse struct {
	Timestamp     string       `json:"timestamp"`
	Stats         router.Stats `json:"stats"`
	FallbackRatio float64      `json:"fallback_ratio"`
}

// TurnsListResponse is returned by GET /api/v1/turns.
type TurnsListResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	Turns     []*data.Turn `json:"turns"`
	Total     int          `json:"total"`
}

// PersonaCountsResponse is returned by GET /api/v1/turns/personas.
type PersonaCountsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT SOCKET MESSAGES
// ═══════════════════════════════════════════════════════════════════════════════

// ChatRequest is one turn sent by a websocket client.
type ChatRequest struct {
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	History   []llm.Message `json:"history,omitempty"`
	Language  string        `json:"language,omitempty"`
}

// ChatEventType identifies a server message on the chat socket.
type ChatEventType string

const (
	EventPersona  ChatEventType = "persona"
	EventFragment ChatEventType = "fragment"
	EventDone     ChatEventType = "done"
	EventError    ChatEventType = "error"
)

// ChatEvent is one server message on the chat socket.
type ChatEvent struct {
	Type      ChatEventType `json:"type"`
	SessionID string        `json:"session_id,omitempty"`

	// persona
	Persona     string `json:"persona,omitempty"`
	PersonaName string `json:"persona_name,omitempty"`
	Function    string `json:"function,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`

	// fragment
	Text string `json:"text,omitempty"`

	// done
	Failed bool `json:"failed,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func personaResponse(p *persona.Persona) PersonaResponse {
	resp := PersonaResponse{
		Key:          p.Key,
		Name:         p.Name,
		Title:        p.Title,
		Role:         p.Role,
		Aliases:      p.Aliases,
		Capabilities: make([]CapabilityResponse, 0, len(p.Capabilities)),
	}
	for _, c := range p.Capabilities {
		resp.Capabilities = append(resp.Capabilities, CapabilityResponse{
			Name:        c.Name,
			Description: c.Description,
			Parameters:  c.JSONSchema(),
			Dataset:     c.Dataset,
		})
	}
	return resp
}
