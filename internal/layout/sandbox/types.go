// Package sandbox validates generated HTML in a headless browser: it
// renders the page, screenshots it, extracts a geometric scene graph,
// detects interactive inputs, clicks each one measuring the visual delta,
// and aggregates everything into a scored result.
package sandbox

import "time"

// NodeType classifies a scene-graph node.
type NodeType string

const (
	NodeText      NodeType = "text"
	NodeButton    NodeType = "button"
	NodeInput     NodeType = "input"
	NodeContainer NodeType = "container"
	NodeImage     NodeType = "image"
	NodeUnknown   NodeType = "unknown"
)

// Box is a viewport-relative bounding box.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 { return b.W * b.H }

// Node is one rendered element in the scene graph.
type Node struct {
	Selector   string            `json:"selector"`
	Tag        string            `json:"tag"`
	Type       NodeType          `json:"node_type"`
	Box        Box               `json:"bounding_box"`
	Visible    bool              `json:"visible"`
	ZIndex     int               `json:"z_index"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// EventOwner is set when a child inherits clickability from a parent
	// via delegation; it names the parent proposed as the true owner.
	EventOwner string `json:"event_owner_candidate,omitempty"`
}

// SceneGraph is the geometric summary of the rendered DOM.
type SceneGraph struct {
	Nodes         []Node `json:"nodes"`
	ViewportW     int    `json:"viewport_w"`
	ViewportH     int    `json:"viewport_h"`
	CaptureTimeMS int64  `json:"capture_time_ms"`
}

// VisibleNodes returns the visible subset.
func (s *SceneGraph) VisibleNodes() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Visible {
			out = append(out, n)
		}
	}
	return out
}

// InteractiveNodes returns visible buttons and inputs.
func (s *SceneGraph) InteractiveNodes() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Visible && (n.Type == NodeButton || n.Type == NodeInput) {
			out = append(out, n)
		}
	}
	return out
}

// FindBySelector returns the node with the given selector, or nil.
func (s *SceneGraph) FindBySelector(selector string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].Selector == selector {
			return &s.Nodes[i]
		}
	}
	return nil
}

// InputCandidate is an element picked for interaction testing.
type InputCandidate struct {
	Selector   string   `json:"selector"`
	Node       Node     `json:"node"`
	Confidence float64  `json:"confidence"`
	InputType  string   `json:"input_type"`
	Priority   int      `json:"priority"`
	Sources    []string `json:"source_elements,omitempty"`
	Testable   bool     `json:"testable"`
	Category   string   `json:"interaction_category,omitempty"`

	// Units are finer-grained clickable sub-regions within a single
	// candidate (e.g. options under a delegated parent).
	Units []string `json:"interaction_units,omitempty"`
}

// FailureType classifies an interaction outcome.
type FailureType string

const (
	FailurePassed         FailureType = "passed"
	FailureNoChange       FailureType = "no_change"
	FailureUnderThreshold FailureType = "under_threshold"
	FailureError          FailureType = "error"
)

// InteractionResult is the outcome of testing one candidate (or unit).
type InteractionResult struct {
	Selector         string       `json:"selector"`
	Action           string       `json:"action"`
	Delta            *VisualDelta `json:"visual_delta,omitempty"`
	SceneBefore      *SceneGraph  `json:"-"`
	SceneAfter       *SceneGraph  `json:"-"`
	Responsive       bool         `json:"responsive"`
	Error            string       `json:"error,omitempty"`
	DurationMS       int64        `json:"duration_ms"`
	ScreenshotBefore []byte       `json:"-"`
	ScreenshotAfter  []byte       `json:"-"`
	CascadeLevel     int          `json:"cascade_level"`
	CascadeTrigger   string       `json:"cascade_trigger,omitempty"`
}

// Failure derives the failure classification.
func (r InteractionResult) Failure() FailureType {
	switch {
	case r.Error != "":
		return FailureError
	case r.Responsive:
		return FailurePassed
	case r.Delta != nil && r.Delta.PixelDiffRatio > 0:
		return FailureUnderThreshold
	default:
		return FailureNoChange
	}
}

// Validation phases.
const (
	PhaseRender      = 1
	PhaseVisual      = 2
	PhaseSceneGraph  = 3
	PhaseInputs      = 4
	PhaseInteraction = 5
	PhaseAggregate   = 6
)

// PhaseResult is the outcome of one validation phase.
type PhaseResult struct {
	Phase      int            `json:"phase"`
	Name       string         `json:"name"`
	Passed     bool           `json:"passed"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Result is the aggregated validation outcome.
type Result struct {
	Valid             bool                `json:"valid"`
	Phases            []PhaseResult       `json:"phases"`
	InputsTested      int                 `json:"inputs_tested"`
	InputsResponsive  int                 `json:"inputs_responsive"`
	Confidence        float64             `json:"confidence"`
	LayoutType        string              `json:"layout_type"`
	TotalDurationMS   int64               `json:"total_duration_ms"`
	FailureSummary    string              `json:"failure_summary,omitempty"`
	Interactions      []InteractionResult `json:"interaction_results,omitempty"`
	PageScreenshot    []byte              `json:"-"`
	InvisibleElements int                 `json:"invisible_elements_count"`

	// BrowserUnavailable marks a Phase-1 failure caused by the browser
	// itself; the pipeline then skips validation instead of repairing.
	BrowserUnavailable bool `json:"browser_unavailable,omitempty"`
}

// phaseTimer measures a phase duration.
type phaseTimer struct{ start time.Time }

func startPhase() phaseTimer        { return phaseTimer{start: time.Now()} }
func (t phaseTimer) elapsed() int64 { return time.Since(t.start).Milliseconds() }
