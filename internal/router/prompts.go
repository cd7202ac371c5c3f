package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normanking/netbot/internal/persona"
)

// BuildRoutingPrompt renders the routing prompt for the LLM strategy:
// the query, every persona with its role and capabilities, and the JSON
// answer shape. Personas without capabilities are listed first and marked
// as having no tools.
func BuildRoutingPrompt(store *persona.Store, query string) string {
	var b strings.Builder

	b.WriteString("\nYou are a router for technical support agents. Based on the following user query, choose the best agent and function to handle it.\n\n")
	fmt.Fprintf(&b, "Query: %q\n\n", query)
	b.WriteString("Available Agents and their roles:\n")

	var toolless, tooled []*persona.Persona
	for _, p := range store.All() {
		if p.HasCapabilities() {
			tooled = append(tooled, p)
		} else {
			toolless = append(toolless, p)
		}
	}

	for _, p := range toolless {
		fmt.Fprintf(&b, "- **%s:** %s **Has NO tools.**\n", p.Name, p.Role)
	}
	for _, p := range tooled {
		fmt.Fprintf(&b, "- **%s:** %s %s\n", p.Name, p.Role, describeTools(p))
	}

	b.WriteString(`
Respond in JSON format (no explanation, just the JSON): {
    "agent": "agent_name",
    "function": "function_name",
    "parameters": {"param1": "value", ...}
}
`)
	return b.String()
}

// describeTools lists a persona's capabilities with name, description and
// parameter schema.
func describeTools(p *persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nAgent: %s", p.Key)
	for _, c := range p.Capabilities {
		schema, err := json.Marshal(c.JSONSchema())
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "\n  Function: %s\n    Description: %s\n    Parameters: %s", c.Name, c.Description, schema)
	}
	return b.String()
}

// BuildToolSelectionPrompt renders the prompt that asks the decider model for
// a diagnostics target, answered in the tool:/parameters: format.
func BuildToolSelectionPrompt(query string) string {
	return fmt.Sprintf(`
Kullanıcı sorusu: %s

Mevcut Bytefix araçları:
- bytefix_run_network_diagnostics: Ping, traceroute ve nslookup çalıştırarak bir hedefe (hostname veya IP) karşı ağ teşhisi yapar.
    - parameters: target (str): Hedef hostname (.com gibi uzantı ile biten bir link) veya IP adresi. (örnek github.com, facebook.com, google.com etc.)

Soru hangi Bytefix aracıyla en alakalı? Yanıtı TAM OLARAK şu formatta döndür:
tool: <tool_name>
parameters: {"target": "<hedef_hostname_veya_IP>"}
`, query)
}
