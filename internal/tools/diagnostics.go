package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/platform"
)

// validTarget accepts hostnames, IPv4 and IPv6 literals. It keeps flags and
// shell metacharacters away from ping/traceroute/nslookup.
var validTarget = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9.\-:]{0,252})$`)

// Diagnostics runs ping, traceroute and nslookup against a target.
type Diagnostics struct {
	Runner    CommandRunner
	Platform  platform.Platform
	PingCount int
	MaxHops   int
	log       *logging.Logger
}

// NewDiagnostics creates a Diagnostics for the host platform with 4 pings
// and at most 15 traceroute hops.
func NewDiagnostics(runner CommandRunner) *Diagnostics {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Diagnostics{
		Runner:    runner,
		Platform:  platform.Current(),
		PingCount: 4,
		MaxHops:   15,
		log:       logging.Global().WithComponent("diagnostics"),
	}
}

// Run executes the three commands concurrently. The result is a JSON object
// with ping, traceroute and nslookup keys, or a single error key when any
// command fails. Command failures are reported in-band; only an invalid
// target is returned as an error.
func (d *Diagnostics) Run(ctx context.Context, params Params) (any, error) {
	target, ok := params.String("target")
	if !ok {
		return nil, MissingParameter("target")
	}
	if !validTarget.MatchString(target) {
		return nil, &ParameterError{Parameter: "target", Err: fmt.Errorf("invalid host %q", target)}
	}

	pingCmd := d.Platform.Ping(d.PingCount, target)
	traceCmd := d.Platform.Trace(d.MaxHops, target)
	lookupCmd := d.Platform.Lookup(target)

	var ping, trace, lookup string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ping, err = d.Runner.Run(gctx, pingCmd.Name, pingCmd.Args...)
		if err == nil {
			d.log.Info("ping result is ready for %s", target)
		}
		return err
	})
	g.Go(func() (err error) {
		trace, err = d.Runner.Run(gctx, traceCmd.Name, traceCmd.Args...)
		if err == nil {
			d.log.Info("traceroute result is ready for %s", target)
		}
		return err
	})
	g.Go(func() (err error) {
		lookup, err = d.Runner.Run(gctx, lookupCmd.Name, lookupCmd.Args...)
		if err == nil {
			d.log.Info("nslookup result is ready for %s", target)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		d.log.Warn("diagnostics for %s failed: %v", target, err)
		return encodeJSON(map[string]string{"error": describeCommandError(err)}), nil
	}

	return encodeJSON(map[string]string{
		"ping":       ping,
		"traceroute": trace,
		"nslookup":   lookup,
	}), nil
}

func describeCommandError(err error) string {
	if errors.Is(err, exec.ErrNotFound) {
		return "Command not found: " + err.Error()
	}
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return "Command failed: " + cerr.Error()
	}
	return err.Error()
}

func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return strings.TrimRight(buf.String(), "\n")
}
