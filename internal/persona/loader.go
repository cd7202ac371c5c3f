package persona

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the on-disk form of the persona set.
type Catalog struct {
	Personas []*Persona `yaml:"personas"`
}

// LoadCatalog loads a catalog from a YAML file. An empty path returns the
// embedded default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona catalog: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog parses and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona catalog: %w", err)
	}

	return &c, nil
}

// DefaultStore returns a Store over the embedded catalog.
func DefaultStore() (*Store, error) {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return NewStore(c)
}

// Validate checks keys and capability names for uniqueness and required fields.
func (c *Catalog) Validate() error {
	if len(c.Personas) == 0 {
		return fmt.Errorf("catalog has no personas")
	}

	keys := make(map[string]string)
	caps := make(map[string]string)
	for i, p := range c.Personas {
		if p == nil {
			return fmt.Errorf("personas[%d] is empty", i)
		}
		key := NormalizeKey(p.Key)
		if key == "" {
			return fmt.Errorf("personas[%d].key is required", i)
		}
		if p.Name == "" {
			return fmt.Errorf("persona %s: name is required", key)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("persona %s: prompt is required", key)
		}

		names := append([]string{key}, p.Aliases...)
		for _, n := range names {
			n = NormalizeKey(n)
			if owner, dup := keys[n]; dup {
				return fmt.Errorf("persona %s: key or alias %q already used by %s", key, n, owner)
			}
			keys[n] = key
		}

		for j, capability := range p.Capabilities {
			if capability == nil || capability.Name == "" {
				return fmt.Errorf("persona %s: capabilities[%d].name is required", key, j)
			}
			if owner, dup := caps[capability.Name]; dup {
				return fmt.Errorf("capability %s declared by both %s and %s", capability.Name, owner, key)
			}
			caps[capability.Name] = key

			params := make(map[string]bool)
			for _, param := range capability.Parameters {
				if param.Name == "" {
					return fmt.Errorf("capability %s: parameter without a name", capability.Name)
				}
				if params[param.Name] {
					return fmt.Errorf("capability %s: duplicate parameter %s", capability.Name, param.Name)
				}
				params[param.Name] = true
			}
		}
	}

	return nil
}
