package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedDecision is returned when a model's routing answer holds no
// decodable JSON object.
var ErrMalformedDecision = errors.New("malformed routing decision")

// DecisionError carries the raw model output of a malformed decision.
type DecisionError struct {
	Raw string
	Err error
}

func (e *DecisionError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %v (raw: %q)", ErrMalformedDecision, e.Err, raw)
	}
	return fmt.Sprintf("%v (raw: %q)", ErrMalformedDecision, raw)
}

func (e *DecisionError) Is(target error) bool {
	return target == ErrMalformedDecision
}

func (e *DecisionError) Unwrap() error {
	return e.Err
}

// RawDecision is the JSON object a routing model answers with.
type RawDecision struct {
	Agent      string         `json:"agent"`
	Persona    string         `json:"persona"`
	Function   string         `json:"function"`
	Parameters map[string]any `json:"parameters"`
}

// Target returns the persona named by the decision; "persona" wins over
// "agent".
func (d *RawDecision) Target() string {
	if strings.TrimSpace(d.Persona) != "" {
		return d.Persona
	}
	return d.Agent
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseDecision extracts a routing decision from model output. It tries a
// fenced ```json block, then the whole trimmed text, then the first balanced
// JSON object in the text.
func ParseDecision(text string) (*RawDecision, error) {
	trimmed := strings.TrimSpace(text)

	var candidates []string
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, m[1])
	}
	if strings.HasPrefix(trimmed, "{") {
		candidates = append(candidates, trimmed)
	}
	if obj, ok := firstObject(trimmed); ok {
		candidates = append(candidates, obj)
	}

	lastErr := errors.New("no JSON object found")
	for _, c := range candidates {
		var d RawDecision
		if err := json.Unmarshal([]byte(c), &d); err != nil {
			lastErr = err
			continue
		}
		if d.Parameters == nil {
			d.Parameters = map[string]any{}
		}
		return &d, nil
	}
	return nil, &DecisionError{Raw: text, Err: lastErr}
}

// firstObject returns the first balanced {...} span of s, skipping braces
// inside JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	selectionTool   = regexp.MustCompile(`(?i)tool:\s*(\w+)`)
	selectionParams = regexp.MustCompile(`(?is)parameters:\s*(\{.*?\}|\S+)`)
	selectionPairs  = regexp.MustCompile(`(\w+):\s*([^,\n]+)`)
)

// ParseToolSelection parses the two-line answer
//
//	tool: <name>
//	parameters: {"target": "..."} | <bare value>
//
// A bare value becomes {"target": value}; "k: v" pairs become a map. Missing
// parameters yield a nil map. An answer without a tool line is an error.
func ParseToolSelection(text string) (string, map[string]any, error) {
	m := selectionTool.FindStringSubmatch(text)
	if m == nil {
		return "", nil, fmt.Errorf("no tool line in selection: %q", strings.TrimSpace(text))
	}
	tool := m[1]

	pm := selectionParams.FindStringSubmatch(text)
	if pm == nil {
		return tool, nil, nil
	}
	raw := strings.TrimSpace(pm[1])

	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err == nil {
			return tool, params, nil
		}
		return tool, map[string]any{"target": strings.Trim(raw, "{}\"' ")}, nil
	}

	params := map[string]any{"target": strings.Trim(raw, "\"'")}
	if pairs := selectionPairs.FindAllStringSubmatch(raw, -1); len(pairs) > 0 {
		params = make(map[string]any, len(pairs))
		for _, p := range pairs {
			params[strings.TrimSpace(p[1])] = strings.TrimSpace(p[2])
		}
	}
	return tool, params, nil
}
