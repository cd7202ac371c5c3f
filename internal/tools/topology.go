package tools

import (
	"context"
	"strings"
)

// InvalidScenarioMessage is returned for an empty scenario.
const InvalidScenarioMessage = "Invalid or empty scenario description."

type topology struct {
	keywords []string
	diagram  string
}

// Checked in order; the first topology with a keyword contained in the
// scenario wins.
var topologies = []topology{
	{[]string{"star", "yıldız"},
		"      [Hub]       \n" +
			"   / /  |  \\     \n" +
			"[A] [B] [C] [D]  "},
	{[]string{"bus", "omurga"},
		"[A]---[B]---[C]---[D]---[E]"},
	{[]string{"ring", "halka"},
		"   [A]       [B]    \n" +
			"  /   \\     /   \\  \n" +
			"[E]   [C]---[D]    \n" +
			"  \\         /      \n" +
			"   \\-------/       "},
	{[]string{"mesh", "örgü"},
		"[A]-----[B]     \n" +
			"| \\   / |      \n" +
			"|  [C]  |      \n" +
			"| /   \\ |      \n" +
			"[D]-----[E]     "},
	{[]string{"tree", "ağaç"},
		"        [Root]         \n" +
			"       /     \\        \n" +
			"    [C1]     [C2]     \n" +
			"    /  \\       \\     \n" +
			"[L1] [L2]    [L3]    "},
	{[]string{"hybrid", "karma"},
		"      [Hub]          \n" +
			"    /  |  \\         \n" +
			"[A] [B] [Switch]---[C]\n" +
			"            |         \n" +
			"           [D]        "},
	{[]string{"full", "fully connected", "tam"},
		"  [A]---[B]         \n" +
			"   | \\ / |          \n" +
			"   |  X  |          \n" +
			"   | / \\ |          \n" +
			"  [C]---[D]         "},
}

var pointToPoint = topology{[]string{"point-to-point"}, "[A]-----------[B]"}

// DrawTopology renders an ASCII diagram for the first topology keyword
// (English or Turkish) found in the scenario. Unknown scenarios get a
// two-node link.
func DrawTopology(scenario string) string {
	s := strings.ToLower(strings.TrimSpace(scenario))
	if s == "" {
		return InvalidScenarioMessage
	}

	selected := pointToPoint
	for _, t := range topologies {
		if containsAny(s, t.keywords) {
			selected = t
			break
		}
	}

	return "Scenario: " + strings.Join(selected.keywords, "/") + "\n\n" + selected.diagram
}

// Topology is the draw_topology_diagram capability.
func Topology(_ context.Context, params Params) (any, error) {
	scenario, _ := params.String("scenario")
	return DrawTopology(scenario), nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
