package a2a

import (
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/normanking/netbot/internal/persona"
)

// CardConfig describes the advertised agent.
type CardConfig struct {
	Name        string
	Description string
	Version     string
	// URL is the public JSON-RPC endpoint, e.g. http://localhost:8090/
	URL string
}

// AgentCard builds the agent card. Every persona is advertised as a skill.
func AgentCard(store *persona.Store, cfg CardConfig) *a2a.AgentCard {
	if cfg.Name == "" {
		cfg.Name = "netbot"
	}
	if cfg.Description == "" {
		cfg.Description = "Home network troubleshooting assistant with specialist personas for diagnostics, speed tests, topology and router advice."
	}

	card := &a2a.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		Version:            cfg.Version,
		ProtocolVersion:    "0.3",
		URL:                cfg.URL,
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "application/json"},
	}

	for _, p := range store.All() {
		tags := []string{"network"}
		tags = append(tags, p.CapabilityNames()...)

		description := p.Role
		if p.Title != "" {
			description = p.Title + ". " + description
		}

		card.Skills = append(card.Skills, a2a.AgentSkill{
			ID:          p.Key,
			Name:        p.Name,
			Description: strings.TrimSpace(description),
			Tags:        tags,
			InputModes:  []string{"text"},
			OutputModes: []string{"text", "application/json"},
		})
	}
	return card
}

// Mounter accepts route registrations; *http.ServeMux and the HTTP server
// both satisfy it.
type Mounter interface {
	Handle(pattern string, h http.Handler)
}

// Mount registers the JSON-RPC endpoint and both agent card paths.
func Mount(m Mounter, executor *Executor, card *a2a.AgentCard) {
	handler := a2asrv.NewHandler(executor)
	cardHandler := a2asrv.NewStaticAgentCardHandler(card)

	m.Handle("POST /", a2asrv.NewJSONRPCHandler(handler))
	m.Handle("GET "+a2asrv.WellKnownAgentCardPath, cardHandler)
	m.Handle("GET /.well-known/agent.json", cardHandler)
}
