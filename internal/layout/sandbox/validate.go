package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lumen/internal/logging"
)

// Early-stop bounds for the interaction phase. Five responsive elements are
// proof enough; eight total keeps slow pages bounded; twelve is the hard cap
// once cascade testing has opened overlays.
const (
	earlyStopResponsive = 5
	earlyStopTotal      = 8
	earlyStopCascading  = 12
)

// Minimum scene-graph movement that counts as a reaction when the pixel
// diff stays under threshold.
const sceneShiftPx = 10

// Validate renders the HTML in a sandboxed browser and runs the phase
// sequence: render, visual, scene graph, input detection, interaction,
// aggregation. It never returns an error; failures are encoded in the
// Result so callers can decide between repair and skip.
func (v *Validator) Validate(ctx context.Context, html, layoutType string) Result {
	log := logging.S(logging.CategorySandbox)
	start := time.Now()
	res := Result{LayoutType: layoutType}

	if err := v.sem.Acquire(ctx, 1); err != nil {
		res.BrowserUnavailable = true
		res.Phases = append(res.Phases, PhaseResult{
			Phase: PhaseRender, Name: "render", Passed: false,
			Error: fmt.Sprintf("validation slot: %v", err),
		})
		res.FailureSummary = "validation cancelled before a browser slot opened"
		res.TotalDurationMS = time.Since(start).Milliseconds()
		return res
	}
	defer v.sem.Release(1)

	sess, err := v.launch(ctx)
	if err != nil {
		log.Warnw("browser unavailable", "error", err)
		res.BrowserUnavailable = true
		res.Phases = append(res.Phases, PhaseResult{
			Phase: PhaseRender, Name: "render", Passed: false, Error: err.Error(),
		})
		res.FailureSummary = "browser unavailable: " + err.Error()
		res.TotalDurationMS = time.Since(start).Milliseconds()
		return res
	}
	defer sess.close()

	if !v.phaseRender(sess, html, &res) {
		v.aggregate(sess, &res, start)
		return res
	}

	baseline := v.phaseVisual(sess, &res)
	if baseline == nil {
		v.aggregate(sess, &res, start)
		return res
	}

	scene := v.phaseSceneGraph(sess, &res)
	if scene == nil {
		v.aggregate(sess, &res, start)
		return res
	}

	candidates := v.phaseInputs(sess, scene, &res)

	if layoutType != "static" && len(candidates) > 0 {
		v.phaseInteraction(sess, html, scene, candidates, &res)
	}

	v.aggregate(sess, &res, start)
	return res
}

// phaseRender loads the document and checks for signs of life: no page
// errors and a body with text or visibly sized children.
func (v *Validator) phaseRender(sess *session, html string, res *Result) bool {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseRender, Name: "render"}

	if err := v.setContent(sess, html); err != nil {
		pr.Error = err.Error()
		pr.DurationMS = t.elapsed()
		res.Phases = append(res.Phases, pr)
		return false
	}

	var health struct {
		Children int  `json:"children"`
		HasText  bool `json:"has_text"`
		Sized    int  `json:"sized"`
	}
	if err := v.eval(sess, renderHealthJS, &health); err != nil {
		pr.Error = err.Error()
		pr.DurationMS = t.elapsed()
		res.Phases = append(res.Phases, pr)
		return false
	}

	jsErrs := sess.errors()
	pr.Details = map[string]any{
		"children":  health.Children,
		"has_text":  health.HasText,
		"sized":     health.Sized,
		"js_errors": len(jsErrs),
	}
	pr.Passed = len(jsErrs) == 0 && health.Children > 0 && (health.HasText || health.Sized > 0)
	if !pr.Passed {
		if len(jsErrs) > 0 {
			pr.Error = "page errors during render: " + strings.Join(jsErrs, "; ")
		} else {
			pr.Error = "body rendered without text or sized elements"
		}
	}
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
	return pr.Passed
}

// phaseVisual screenshots the page and rejects visually blank output.
func (v *Validator) phaseVisual(sess *session, res *Result) *VisualSnapshot {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseVisual, Name: "visual"}

	snap, err := v.screenshot(sess, "baseline")
	if err != nil {
		pr.Error = err.Error()
		pr.DurationMS = t.elapsed()
		res.Phases = append(res.Phases, pr)
		return nil
	}
	res.PageScreenshot = snap.PNG

	pr.Details = map[string]any{
		"mean":                 snap.Mean,
		"variance":             snap.Variance,
		"non_background_ratio": snap.NonBackgroundRatio,
	}
	if snap.IsBlank(v.cfg.BlankPageThreshold) {
		pr.Error = "page is visually blank"
		pr.DurationMS = t.elapsed()
		res.Phases = append(res.Phases, pr)
		return nil
	}
	pr.Passed = true
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
	return snap
}

// phaseSceneGraph extracts the geometric DOM summary.
func (v *Validator) phaseSceneGraph(sess *session, res *Result) *SceneGraph {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseSceneGraph, Name: "scene_graph"}

	scene, err := v.captureScene(sess)
	if err != nil {
		pr.Error = err.Error()
		pr.DurationMS = t.elapsed()
		res.Phases = append(res.Phases, pr)
		return nil
	}
	scene.CaptureTimeMS = t.elapsed()

	pr.Details = map[string]any{
		"nodes":   len(scene.Nodes),
		"visible": len(scene.VisibleNodes()),
	}
	pr.Passed = len(scene.VisibleNodes()) > 0
	if !pr.Passed {
		pr.Error = "no visible elements in scene graph"
	}
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
	if !pr.Passed {
		return nil
	}
	return scene
}

func (v *Validator) captureScene(sess *session) (*SceneGraph, error) {
	var scene SceneGraph
	if err := v.eval(sess, sceneGraphJS, &scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

// phaseInputs runs the detection rules and probes the declared interactive
// elements that rendered with no footprint.
func (v *Validator) phaseInputs(sess *session, scene *SceneGraph, res *Result) []InputCandidate {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseInputs, Name: "inputs"}

	candidates := DetectInputs(scene, v.cfg.MaxInputsToTest)

	selectors := make([]string, 0, len(candidates))
	for _, c := range candidates {
		selectors = append(selectors, c.Selector)
	}
	var invisible int
	if len(selectors) > 0 {
		if err := v.eval(sess, invisibleProbeJS, &invisible, selectors); err != nil {
			logging.S(logging.CategorySandbox).Warnw("invisible probe failed", "error", err)
		}
	}
	res.InvisibleElements = invisible

	pr.Details = map[string]any{
		"candidates": len(candidates),
		"invisible":  invisible,
	}
	// Detection never fails the page on its own: a static layout simply
	// has nothing to click.
	pr.Passed = true
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
	return candidates
}

// interactionState threads the counters and stop conditions through the
// interaction phase including cascade recursion.
type interactionState struct {
	tested     int
	responsive int
	cascading  bool
	results    []InteractionResult
	seen       map[string]bool
}

func (st *interactionState) stop() bool {
	limit := earlyStopTotal
	if st.cascading {
		limit = earlyStopCascading
	}
	return st.responsive >= earlyStopResponsive || st.tested >= limit
}

// phaseInteraction clicks each testable candidate serially, measuring the
// visual delta at three scales and falling back to scene-graph movement.
// Any page error raised while testing fails the phase.
func (v *Validator) phaseInteraction(sess *session, html string, scene *SceneGraph, candidates []InputCandidate, res *Result) {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseInteraction, Name: "interaction"}
	errsBefore := len(sess.errors())

	if err := v.eval(sess, pauseAnimationsJS, nil); err != nil {
		logging.S(logging.CategorySandbox).Warnw("failed to pause animations", "error", err)
	}

	st := &interactionState{seen: make(map[string]bool)}
	for _, c := range scene.Nodes {
		st.seen[c.Selector] = true
	}

	for _, cand := range candidates {
		if st.stop() {
			break
		}
		if !cand.Testable {
			continue
		}
		targets := []string{cand.Selector}
		if len(cand.Units) > 0 {
			targets = cand.Units
		}
		for _, target := range targets {
			if st.stop() {
				break
			}
			v.testOne(sess, html, target, cand, 0, "", st)
		}
	}

	res.Interactions = st.results
	res.InputsTested = st.tested
	res.InputsResponsive = st.responsive

	jsErrs := sess.errors()[errsBefore:]
	pr.Details = map[string]any{
		"tested":     st.tested,
		"responsive": st.responsive,
		"js_errors":  len(jsErrs),
		"cascading":  st.cascading,
	}
	pr.Passed = len(jsErrs) == 0
	if !pr.Passed {
		pr.Error = "page errors during interaction: " + strings.Join(jsErrs, "; ")
	}
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
}

// testOne clicks a single target and records the outcome. A large delta is
// treated as an opened overlay and triggers bounded cascade testing.
func (v *Validator) testOne(sess *session, html, target string, cand InputCandidate, level int, trigger string, st *interactionState) {
	log := logging.S(logging.CategorySandbox)
	started := time.Now()
	ir := InteractionResult{
		Selector:       target,
		Action:         "click",
		CascadeLevel:   level,
		CascadeTrigger: trigger,
	}

	before, err := v.screenshot(sess, "before")
	if err != nil {
		ir.Error = err.Error()
		ir.DurationMS = time.Since(started).Milliseconds()
		st.results = append(st.results, ir)
		st.tested++
		return
	}
	beforeScene, _ := v.captureScene(sess)

	skip, err := v.click(sess, target)
	if err != nil {
		ir.Error = err.Error()
		ir.DurationMS = time.Since(started).Milliseconds()
		st.results = append(st.results, ir)
		st.tested++
		return
	}
	if skip != "" {
		ir.Error = skip
		ir.DurationMS = time.Since(started).Milliseconds()
		st.results = append(st.results, ir)
		st.tested++
		return
	}

	time.Sleep(v.cfg.Stabilization())

	after, err := v.screenshot(sess, "after")
	if err != nil {
		ir.Error = err.Error()
		ir.DurationMS = time.Since(started).Milliseconds()
		st.results = append(st.results, ir)
		st.tested++
		return
	}
	afterScene, _ := v.captureScene(sess)

	delta := v.threeScaleDiff(before, after, cand.Node.Box)
	ir.Delta = delta
	ir.ScreenshotBefore = before.PNG
	ir.ScreenshotAfter = after.PNG
	ir.SceneBefore = beforeScene
	ir.SceneAfter = afterScene

	ir.Responsive = delta.HasVisibleChange(v.cfg.VisualChangeThreshold, v.cfg.ElementDiffThreshold)
	if !ir.Responsive && beforeScene != nil && afterScene != nil {
		ir.Responsive = sceneReacted(beforeScene, afterScene)
	}

	ir.DurationMS = time.Since(started).Milliseconds()
	st.results = append(st.results, ir)
	st.tested++
	if ir.Responsive {
		st.responsive++
	}

	log.Debugw("interaction tested",
		"selector", target,
		"responsive", ir.Responsive,
		"diff_ratio", delta.PixelDiffRatio,
		"cascade_level", level)

	// Overlay detection: a viewport-scale change or a burst of new visible
	// nodes means the click opened something worth testing in turn.
	if level < v.cfg.MaxCascadeDepth && afterScene != nil {
		full := Diff(before, after, nil)
		newNodes := countNewNodes(st.seen, afterScene)
		if full.PixelDiffRatio >= v.cfg.ModalOpenThreshold || newNodes >= 5 {
			v.testCascade(sess, html, before, afterScene, target, level+1, st)
		}
	}
}

// testCascade tests elements that appeared after an overlay opened, then
// restores the page.
func (v *Validator) testCascade(sess *session, html string, preOpen *VisualSnapshot, opened *SceneGraph, trigger string, level int, st *interactionState) {
	st.cascading = true

	fresh := make([]InputCandidate, 0, v.cfg.MaxCascadeElements)
	for _, cand := range DetectInputs(opened, v.cfg.MaxInputsToTest) {
		if st.seen[cand.Selector] || !cand.Testable {
			continue
		}
		fresh = append(fresh, cand)
		if len(fresh) >= v.cfg.MaxCascadeElements {
			break
		}
	}
	for _, n := range opened.Nodes {
		st.seen[n.Selector] = true
	}

	for _, cand := range fresh {
		if st.stop() {
			break
		}
		v.testOne(sess, html, cand.Selector, cand, level, trigger, st)
	}

	v.restore(sess, html, preOpen)
}

// restore dismisses an overlay: close button, then Escape, then a full
// content reload when the page still looks different.
func (v *Validator) restore(sess *session, html string, preOpen *VisualSnapshot) {
	for _, sel := range []string{"[data-close]", `[aria-label="Close"]`, `[aria-label="close"]`, ".close"} {
		if skip, err := v.click(sess, sel); err == nil && skip == "" {
			break
		}
	}
	v.pressEscape(sess)
	time.Sleep(v.cfg.Stabilization())

	now, err := v.screenshot(sess, "restore")
	if err != nil || Diff(preOpen, now, nil).PixelDiffRatio >= v.cfg.ModalOpenThreshold {
		if err := v.setContent(sess, html); err != nil {
			logging.S(logging.CategorySandbox).Warnw("content reload during restore failed", "error", err)
		}
		_ = v.eval(sess, pauseAnimationsJS, nil)
	}
}

// threeScaleDiff compares at tight crop, loose crop, and full frame, and
// keeps whichever scale saw the most change. Subtle feedback confined to the
// element survives; large layout shifts still register at full frame.
func (v *Validator) threeScaleDiff(before, after *VisualSnapshot, box Box) *VisualDelta {
	tight := padBox(box, 20)
	loose := padBox(box, 100)

	best := Diff(before, after, &tight)
	if d := Diff(before, after, &loose); d.PixelDiffRatio > best.PixelDiffRatio {
		best = d
	}
	if d := Diff(before, after, nil); d.PixelDiffRatio > best.PixelDiffRatio {
		// Keep the element-region reading from the tighter scales.
		d.ElementPixels = best.ElementPixels
		d.ElementDiffRatio = best.ElementDiffRatio
		best = d
	}
	return best
}

func padBox(b Box, pad float64) Box {
	return Box{X: b.X - pad, Y: b.Y - pad, W: b.W + 2*pad, H: b.H + 2*pad}
}

// sceneReacted reports structural movement: at least two visible nodes
// added or removed, or any shared visible node shifted more than the
// movement floor. Invisible nodes are ignored on both sides, so a node
// flipping its visibility counts as an add or a remove.
func sceneReacted(before, after *SceneGraph) bool {
	prev := make(map[string]Box, len(before.Nodes))
	for _, n := range before.Nodes {
		if !n.Visible {
			continue
		}
		prev[n.Selector] = n.Box
	}

	added := 0
	for _, n := range after.Nodes {
		if !n.Visible {
			continue
		}
		box, ok := prev[n.Selector]
		if !ok {
			added++
			continue
		}
		if abs(box.X-n.Box.X) > sceneShiftPx || abs(box.Y-n.Box.Y) > sceneShiftPx {
			return true
		}
		delete(prev, n.Selector)
	}
	removed := len(prev)
	return added+removed >= 2
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func countNewNodes(seen map[string]bool, scene *SceneGraph) int {
	count := 0
	for _, n := range scene.Nodes {
		if n.Visible && !seen[n.Selector] {
			count++
		}
	}
	return count
}

// aggregate computes validity and confidence from the phase results.
// Phases 1-4 are critical; when inputs were tested, at least one must have
// responded and the responsive ratio must clear the floor.
func (v *Validator) aggregate(sess *session, res *Result, start time.Time) {
	t := startPhase()
	pr := PhaseResult{Phase: PhaseAggregate, Name: "aggregate", Passed: true}

	valid := true
	var failures []string
	for _, p := range res.Phases {
		if p.Phase <= PhaseInputs && !p.Passed {
			valid = false
			failures = append(failures, fmt.Sprintf("phase %d (%s): %s", p.Phase, p.Name, p.Error))
		}
		if p.Phase == PhaseInteraction && !p.Passed {
			valid = false
			failures = append(failures, fmt.Sprintf("phase %d (%s): %s", p.Phase, p.Name, p.Error))
		}
	}

	ratio := 0.0
	if res.InputsTested > 0 {
		ratio = float64(res.InputsResponsive) / float64(res.InputsTested)
		if res.InputsResponsive == 0 {
			valid = false
			failures = append(failures, "no tested element responded")
		} else if ratio < v.cfg.MinResponsiveRatio {
			valid = false
			failures = append(failures,
				fmt.Sprintf("responsive ratio %.2f below %.2f", ratio, v.cfg.MinResponsiveRatio))
		}
	}

	confidence := 0.9
	if res.InputsTested > 0 {
		confidence = 0.5 + 0.5*ratio
	}

	warnings := 0
	if sess != nil {
		warnings = sess.warnings()
	}
	if res.InvisibleElements > 0 {
		warnings++
	}
	penalty := 0.05 * float64(warnings)
	if penalty > 0.20 {
		penalty = 0.20
	}
	confidence -= penalty
	if confidence < 0 {
		confidence = 0
	}

	res.Valid = valid
	res.Confidence = confidence
	res.FailureSummary = strings.Join(failures, "; ")
	res.TotalDurationMS = time.Since(start).Milliseconds()

	pr.Details = map[string]any{
		"valid":      valid,
		"confidence": confidence,
		"warnings":   warnings,
	}
	pr.Passed = valid
	pr.DurationMS = t.elapsed()
	res.Phases = append(res.Phases, pr)
}
