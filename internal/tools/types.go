// Package tools binds persona capabilities to callables and runs them.
//
// A Registry maps (persona, capability) to a Func, either through a persona's
// stateful Instance or through a global binding. The Executor resolves a
// routing decision against the Registry, checks declared parameters, applies
// the timeout and retry policy, and normalizes the result to a map.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Params are the named arguments of one capability call.
type Params map[string]any

// String returns a parameter as a trimmed string. Non-string values are
// formatted with %v.
func (p Params) String(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Func is a bound capability. Callables that do asynchronous work block until
// it completes or ctx is done.
type Func func(ctx context.Context, params Params) (any, error)

// Instance is a persona's stateful handler. Its table is consulted before
// global bindings.
type Instance interface {
	Capabilities() map[string]Func
}

// ExecStats is a snapshot of Executor counters.
type ExecStats struct {
	Executions int64
	Failures   int64
	Retries    int64
	NotFound   int64
	TotalNanos int64
}
