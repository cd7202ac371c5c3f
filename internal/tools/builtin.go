package tools

import "fmt"

// Builtins are the free functions shipped with netbot.
type Builtins struct {
	Diagnostics *Diagnostics
	SpeedTest   *SpeedTest
}

// Bind registers every builtin whose name the catalog declares.
func (b Builtins) Bind(r *Registry) error {
	bindings := []struct {
		name string
		fn   Func
	}{
		{"run_network_diagnostics", b.Diagnostics.Run},
		{"run_speed_test", b.SpeedTest.Run},
		{"draw_topology_diagram", Topology},
	}

	for _, binding := range bindings {
		if _, declared := r.Store().Capability(binding.name); !declared {
			continue
		}
		if err := r.BindGlobal(binding.name, binding.fn); err != nil {
			return fmt.Errorf("bind builtins: %w", err)
		}
	}
	return nil
}
