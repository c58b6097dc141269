// Package pipeline chains generation, browser validation, and the repair
// ladder into the custom-layout flow: generate once, then cycle through
// patch repair and vision repair until the page validates or the cycle
// budget runs out, always keeping the best document seen.
package pipeline

import (
	"context"
	"strings"
	"time"

	"lumen/internal/intent"
	"lumen/internal/layout/fixer"
	"lumen/internal/layout/generator"
	"lumen/internal/layout/sandbox"
	"lumen/internal/layout/vision"
	"lumen/internal/logging"
)

// Generator produces the initial document.
type Generator interface {
	Generate(ctx context.Context, request string, cctx *intent.Context) generator.Result
}

// Validator renders and scores a document.
type Validator interface {
	Validate(ctx context.Context, html, layoutType string) sandbox.Result
}

// Fixer applies deterministic and model-produced patches.
type Fixer interface {
	Fix(ctx context.Context, doc string, res sandbox.Result) fixer.FixResult
}

// VisionRepairer rewrites a document from its rendered appearance.
type VisionRepairer interface {
	Repair(ctx context.Context, doc string, screenshot []byte, failureSummary string, history []vision.FailedAttempt) vision.Result
}

// Result is the pipeline outcome.
type Result struct {
	OK                bool              `json:"ok"`
	HTML              string            `json:"-"`
	Generation        generator.Result  `json:"generation"`
	Validation        *sandbox.Result   `json:"validation,omitempty"`
	ValidationSkipped bool              `json:"validation_skipped,omitempty"`
	RepairCycles      int               `json:"repair_cycles"`
	TotalLatencyMS    int64             `json:"total_latency_ms"`
	TotalTokens       int               `json:"total_tokens"`
	FinalScore        float64           `json:"final_score"`
	Error             string            `json:"error,omitempty"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	gen       Generator
	validator Validator
	fixer     Fixer
	vision    VisionRepairer
	maxCycles int
	validate  bool
}

// New builds a Pipeline. A nil validator or validate=false skips browser
// validation entirely; nil fixer or vision simply removes that rung of the
// repair ladder.
func New(gen Generator, validator Validator, fix Fixer, vis VisionRepairer, maxCycles int, validate bool) *Pipeline {
	if maxCycles <= 0 {
		maxCycles = 2
	}
	return &Pipeline{
		gen:       gen,
		validator: validator,
		fixer:     fix,
		vision:    vis,
		maxCycles: maxCycles,
		validate:  validate,
	}
}

// Run generates a layout and drives it through validation and repair.
// Exhausting the cycle budget is not a failure: the best-scoring document
// is returned with the last validation attached for diagnostics.
func (p *Pipeline) Run(ctx context.Context, request, layoutType string, cctx *intent.Context) Result {
	log := logging.S(logging.CategoryPipeline)
	start := time.Now()
	res := Result{}

	gen := p.gen.Generate(ctx, request, cctx)
	res.Generation = gen
	res.TotalTokens = gen.Tokens
	if !gen.OK {
		res.Error = gen.Error
		res.TotalLatencyMS = time.Since(start).Milliseconds()
		return res
	}

	current := gen.HTML
	if !p.validate || p.validator == nil {
		res.OK = true
		res.HTML = current
		res.ValidationSkipped = true
		res.TotalLatencyMS = time.Since(start).Milliseconds()
		return res
	}

	tracker := &BestResultTracker{}
	var history []vision.FailedAttempt
	lastScore := -1.0
	stalled := 0

	for cycle := 0; ; cycle++ {
		val := p.validator.Validate(ctx, current, layoutType)
		res.Validation = &val
		res.RepairCycles = cycle

		if val.BrowserUnavailable {
			log.Warnw("browser unavailable, returning unvalidated layout")
			res.OK = true
			res.HTML = current
			res.ValidationSkipped = true
			res.TotalLatencyMS = time.Since(start).Milliseconds()
			return res
		}

		tracker.Offer(current, val.Confidence)

		if val.Valid {
			res.OK = true
			res.HTML = current
			res.FinalScore = val.Confidence
			res.TotalLatencyMS = time.Since(start).Milliseconds()
			return res
		}

		if cycle >= p.maxCycles {
			break
		}
		if val.Confidence == lastScore {
			stalled++
			if stalled >= 2 {
				log.Infow("score stalled, stopping repair", "score", val.Confidence)
				break
			}
		} else {
			stalled = 0
		}
		lastScore = val.Confidence

		repaired, attempt, ok := p.repair(ctx, current, val, cycle+1, history)
		if !ok || repaired == current {
			if attempt != nil {
				history = append(history, *attempt)
			}
			log.Infow("repair made no progress, stopping", "cycle", cycle+1)
			break
		}
		if attempt != nil {
			history = append(history, *attempt)
		}
		current = repaired
	}

	// Budget exhausted: ship the best we saw rather than nothing.
	best, score, ok := tracker.Best()
	if !ok {
		best, score = current, 0
	}
	res.OK = true
	res.HTML = best
	res.FinalScore = score
	res.TotalLatencyMS = time.Since(start).Milliseconds()
	return res
}

// repair runs one rung of the ladder: patch repair first, vision repair
// when patching cannot help or did not change the document. Patches edit
// single elements in place; a vision pass rewrites the whole document, so
// the narrower rung always gets the first try even when a screenshot is
// available.
func (p *Pipeline) repair(ctx context.Context, current string, val sandbox.Result, cycle int, history []vision.FailedAttempt) (string, *vision.FailedAttempt, bool) {
	attempt := &vision.FailedAttempt{
		Phase:         failingPhase(val),
		Cycle:         cycle,
		FailureReason: val.FailureSummary,
	}

	if p.fixer != nil {
		fix := p.fixer.Fix(ctx, current, val)
		if fix.OK && fix.HTML != current {
			for _, cp := range fix.ClassPatches {
				attempt.CSSRulesTried = append(attempt.CSSRulesTried, cp.AddClasses...)
			}
			return fix.HTML, attempt, true
		}
	}

	if p.vision != nil {
		rep := p.vision.Repair(ctx, current, val.PageScreenshot, val.FailureSummary, history)
		if rep.OK && rep.HTML != current {
			return rep.HTML, attempt, true
		}
	}

	return current, attempt, false
}

func failingPhase(val sandbox.Result) string {
	for _, p := range val.Phases {
		if !p.Passed {
			return p.Name
		}
	}
	if val.FailureSummary != "" {
		return "aggregate"
	}
	return "unknown"
}

func truncateRequest(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
