package sandbox

import (
	"sort"
	"strings"
)

const (
	minInputArea      = 400
	minInputDimension = 10
)

// inputRule is one row of the detection table. Lower priority tests first.
type inputRule struct {
	name       string
	priority   int
	confidence float64
	inputType  string
	testable   bool
	matches    func(n Node) bool
}

func hasAttr(n Node, name string) bool {
	_, ok := n.Attributes[name]
	return ok
}

var inputRules = []inputRule{
	{
		name: "native button", priority: 1, confidence: 0.95, inputType: "button", testable: true,
		matches: func(n Node) bool {
			if n.Tag == "button" {
				return true
			}
			t := n.Attributes["type"]
			return n.Tag == "input" && (t == "button" || t == "submit")
		},
	},
	{
		name: "aria button", priority: 1, confidence: 0.9, inputType: "button", testable: true,
		matches: func(n Node) bool { return n.Attributes["role"] == "button" },
	},
	{
		name: "data hook", priority: 2, confidence: 0.9, inputType: "data-hook", testable: true,
		matches: func(n Node) bool {
			for _, hook := range []string{"data-option", "data-submit", "data-start", "data-restart"} {
				if hasAttr(n, hook) {
					return true
				}
			}
			return false
		},
	},
	{
		name: "form control", priority: 2, confidence: 0.85, inputType: "form", testable: true,
		matches: func(n Node) bool {
			if n.Tag == "select" {
				return true
			}
			t := n.Attributes["type"]
			return n.Tag == "input" && (t == "radio" || t == "checkbox")
		},
	},
	{
		name: "aria state", priority: 3, confidence: 0.7, inputType: "toggle", testable: true,
		matches: func(n Node) bool {
			for _, a := range []string{"aria-pressed", "aria-expanded", "aria-checked", "aria-selected"} {
				if hasAttr(n, a) {
					return true
				}
			}
			return false
		},
	},
	{
		// Links navigate away; they are recorded but never clicked.
		name: "link", priority: 3, confidence: 0.8, inputType: "link", testable: false,
		matches: func(n Node) bool { return n.Tag == "a" && hasAttr(n, "href") },
	},
	{
		name: "onclick", priority: 3, confidence: 0.8, inputType: "scripted", testable: true,
		matches: func(n Node) bool { return hasAttr(n, "onclick") },
	},
	{
		name: "label for", priority: 4, confidence: 0.6, inputType: "label", testable: true,
		matches: func(n Node) bool { return n.Tag == "label" && hasAttr(n, "for") },
	},
	{
		name: "pointer cursor", priority: 4, confidence: 0.6, inputType: "pointer", testable: true,
		matches: func(n Node) bool { return n.Attributes["cursor"] == "pointer" },
	},
}

// displayOnlyMarkers mark widgets that change on their own (clocks, charts)
// and are excluded from interaction testing.
var displayOnlyMarkers = []string{"clock", "weather", "chart", "graph", "ticker", "countdown"}

func isDisplayOnly(n Node) bool {
	probe := strings.ToLower(n.Selector + " " + n.Attributes["data-testid"] + " " + n.Attributes["role"])
	for _, marker := range displayOnlyMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}

// eligible applies the geometric filter: visible, inside the viewport,
// minimum footprint, not disabled.
func eligible(n Node, viewportW, viewportH int) bool {
	if !n.Visible || hasAttr(n, "disabled") {
		return false
	}
	if n.Box.W < minInputDimension || n.Box.H < minInputDimension || n.Box.Area() < minInputArea {
		return false
	}
	if n.Box.X+n.Box.W < 0 || n.Box.Y+n.Box.H < 0 {
		return false
	}
	return n.Box.X < float64(viewportW) && n.Box.Y < float64(viewportH)
}

// DetectInputs applies the rule table to the scene graph and returns the
// candidates ordered by (priority ascending, confidence descending),
// truncated to maxInputs. Children delegating to a common event owner fold
// into one candidate carrying the children as interaction units.
func DetectInputs(scene *SceneGraph, maxInputs int) []InputCandidate {
	if maxInputs <= 0 {
		maxInputs = 10
	}

	byOwner := make(map[string][]string)
	seen := make(map[string]bool)
	var out []InputCandidate

	for _, n := range scene.Nodes {
		if !eligible(n, scene.ViewportW, scene.ViewportH) {
			continue
		}
		for _, rule := range inputRules {
			if !rule.matches(n) {
				continue
			}
			if n.EventOwner != "" {
				byOwner[n.EventOwner] = append(byOwner[n.EventOwner], n.Selector)
				break
			}
			if seen[n.Selector] {
				break
			}
			seen[n.Selector] = true
			out = append(out, InputCandidate{
				Selector:   n.Selector,
				Node:       n,
				Confidence: rule.confidence,
				InputType:  rule.inputType,
				Priority:   rule.priority,
				Testable:   rule.testable && !isDisplayOnly(n),
				Category:   rule.name,
			})
			break
		}
	}

	for owner, units := range byOwner {
		if seen[owner] {
			// The owner matched a rule itself; attach the units.
			for i := range out {
				if out[i].Selector == owner {
					out[i].Units = append(out[i].Units, units...)
				}
			}
			continue
		}
		cand := InputCandidate{
			Selector:   owner,
			Confidence: 0.75,
			InputType:  "delegated",
			Priority:   2,
			Sources:    units,
			Units:      units,
			Testable:   true,
			Category:   "event delegation",
		}
		if n := scene.FindBySelector(owner); n != nil {
			cand.Node = *n
			cand.Testable = !isDisplayOnly(*n)
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})

	if len(out) > maxInputs {
		out = out[:maxInputs]
	}
	return out
}
