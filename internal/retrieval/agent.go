package retrieval

import (
	"context"

	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/tools"
)

// HintParam overrides the dataset selection hint of a retrieval call. An
// empty hint makes the helper classify the query instead of trusting the
// capability's own binding.
const HintParam = "hint"

// Agent is the stateful handler behind a persona's retrieval capabilities.
// Each capability selects a dataset, using its own binding as the hint, and
// retrieves passages for the "query" parameter. The result maps the
// capability that was finally used to its passages.
type Agent struct {
	helper *Helper
	names  []string
}

// NewAgent creates the retrieval agent for a persona's retrieval capabilities.
func NewAgent(helper *Helper, p *persona.Persona) *Agent {
	a := &Agent{helper: helper}
	for _, c := range p.Capabilities {
		if c.IsRetrieval() {
			a.names = append(a.names, c.Name)
		}
	}
	return a
}

// Capabilities implements tools.Instance.
func (a *Agent) Capabilities() map[string]tools.Func {
	table := make(map[string]tools.Func, len(a.names))
	for _, name := range a.names {
		table[name] = a.capability(name)
	}
	return table
}

func (a *Agent) capability(name string) tools.Func {
	return func(ctx context.Context, params tools.Params) (any, error) {
		query, ok := params.String("query")
		if !ok {
			return nil, tools.MissingParameter("query")
		}

		hint := name
		if h, ok := params[HintParam].(string); ok {
			hint = h
		}

		dataset, selected, err := a.helper.SelectDataset(ctx, query, hint)
		if err != nil {
			return nil, err
		}
		return map[string]any{selected: a.helper.Retrieve(ctx, selected, query, dataset, 0)}, nil
	}
}
