// Package persona holds the persona catalog: who can answer, how each persona
// speaks, and which capabilities it owns.
//
// The catalog is loaded once at process start and never mutated afterwards.
// Values returned by a Store are shared and must be treated as read-only.
package persona

import (
	"sort"
	"strings"
)

// Persona is a named specialization with its own style prompt and an
// optional set of capabilities.
type Persona struct {
	Key          string        `yaml:"key" json:"key"`
	Name         string        `yaml:"name" json:"name"`
	Title        string        `yaml:"title,omitempty" json:"title,omitempty"`
	Role         string        `yaml:"role" json:"role"`
	Prompt       string        `yaml:"prompt" json:"-"`
	Aliases      []string      `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Capabilities []*Capability `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Capability describes one operation a persona may invoke.
type Capability struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Dataset marks a retrieval capability and names the dataset it reads.
	Dataset string `yaml:"dataset,omitempty" json:"dataset,omitempty"`
	// Source overrides the source tag used to filter passages (defaults to Dataset).
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Prefix is prepended to the query before embedding.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	persona string
}

// Parameter is one named argument of a capability.
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
}

// HasCapabilities reports whether the persona owns any capability.
// Personas without capabilities go straight to response generation.
func (p *Persona) HasCapabilities() bool {
	return len(p.Capabilities) > 0
}

// Capability returns the persona's capability with the given name.
func (p *Persona) Capability(name string) (*Capability, bool) {
	for _, c := range p.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// CapabilityNames lists the persona's capability names in catalog order.
func (p *Persona) CapabilityNames() []string {
	names := make([]string, len(p.Capabilities))
	for i, c := range p.Capabilities {
		names[i] = c.Name
	}
	return names
}

// Persona returns the key of the persona that owns the capability.
func (c *Capability) Persona() string {
	return c.persona
}

// IsRetrieval reports whether the capability reads from a dataset.
func (c *Capability) IsRetrieval() bool {
	return c.Dataset != ""
}

// SourceTag is the substring a passage's source must contain to be kept.
func (c *Capability) SourceTag() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Dataset
}

// RequiredParameters lists the names of required parameters.
func (c *Capability) RequiredParameters() []string {
	var names []string
	for _, p := range c.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// JSONSchema renders the parameters as a JSON Schema object, the shape
// expected by tool-calling backends.
func (c *Capability) JSONSchema() map[string]any {
	props := make(map[string]any, len(c.Parameters))
	for _, p := range c.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
	}
	required := c.RequiredParameters()
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store is the immutable, indexed form of a Catalog.
type Store struct {
	personas []*Persona
	byKey    map[string]*Persona
	byCap    map[string]*Capability
}

// NewStore validates a catalog and indexes it.
func NewStore(c *Catalog) (*Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		personas: make([]*Persona, 0, len(c.Personas)),
		byKey:    make(map[string]*Persona),
		byCap:    make(map[string]*Capability),
	}
	for _, p := range c.Personas {
		p.Key = NormalizeKey(p.Key)
		s.personas = append(s.personas, p)
		s.byKey[p.Key] = p
		for _, a := range p.Aliases {
			s.byKey[NormalizeKey(a)] = p
		}
		for _, capability := range p.Capabilities {
			capability.persona = p.Key
			s.byCap[capability.Name] = capability
		}
	}
	return s, nil
}

// NormalizeKey maps display names to persona keys:
// "Professor Ping" and "professor-ping" both become "professor_ping".
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

// Get looks a persona up by key, display name or alias.
func (s *Store) Get(key string) (*Persona, bool) {
	p, ok := s.byKey[NormalizeKey(key)]
	return p, ok
}

// All returns every persona in catalog order.
func (s *Store) All() []*Persona {
	out := make([]*Persona, len(s.personas))
	copy(out, s.personas)
	return out
}

// Keys returns every persona key in catalog order.
func (s *Store) Keys() []string {
	keys := make([]string, len(s.personas))
	for i, p := range s.personas {
		keys[i] = p.Key
	}
	return keys
}

// Capability looks up a capability by its global name.
func (s *Store) Capability(name string) (*Capability, bool) {
	c, ok := s.byCap[name]
	return c, ok
}

// Owner returns the persona that owns a capability.
func (s *Store) Owner(capability string) (*Persona, bool) {
	c, ok := s.byCap[capability]
	if !ok {
		return nil, false
	}
	return s.byKey[c.persona], true
}

// Capabilities returns every capability in catalog order.
func (s *Store) Capabilities() []*Capability {
	var out []*Capability
	for _, p := range s.personas {
		out = append(out, p.Capabilities...)
	}
	return out
}

// RetrievalCapabilities returns the retrieval capabilities in catalog order.
func (s *Store) RetrievalCapabilities() []*Capability {
	var out []*Capability
	for _, c := range s.Capabilities() {
		if c.IsRetrieval() {
			out = append(out, c)
		}
	}
	return out
}

// Datasets returns the distinct datasets referenced by the catalog, sorted.
func (s *Store) Datasets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range s.RetrievalCapabilities() {
		if !seen[c.Dataset] {
			seen[c.Dataset] = true
			out = append(out, c.Dataset)
		}
	}
	sort.Strings(out)
	return out
}
