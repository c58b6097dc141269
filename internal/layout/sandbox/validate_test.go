package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lumen/internal/config"
)

func testValidator() *Validator {
	return NewValidator(config.Default().Sandbox, "")
}

func passedPhases(n int) []PhaseResult {
	out := make([]PhaseResult, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, PhaseResult{Phase: i, Passed: true})
	}
	return out
}

func TestAggregateInteractiveValid(t *testing.T) {
	v := testValidator()
	res := &Result{
		Phases:           passedPhases(5),
		InputsTested:     8,
		InputsResponsive: 7,
	}
	v.aggregate(nil, res, time.Now())

	assert.True(t, res.Valid)
	assert.InDelta(t, 0.5+0.5*(7.0/8.0), res.Confidence, 1e-9)
	assert.Empty(t, res.FailureSummary)
}

func TestAggregateResponsiveRatioFloor(t *testing.T) {
	v := testValidator()
	res := &Result{
		Phases:           passedPhases(5),
		InputsTested:     8,
		InputsResponsive: 5, // 0.625 < 0.70
	}
	v.aggregate(nil, res, time.Now())

	assert.False(t, res.Valid)
	assert.Contains(t, res.FailureSummary, "responsive ratio")
	assert.InDelta(t, 0.5+0.5*0.625, res.Confidence, 1e-9)
}

func TestAggregateNothingResponded(t *testing.T) {
	v := testValidator()
	res := &Result{
		Phases:           passedPhases(5),
		InputsTested:     4,
		InputsResponsive: 0,
	}
	v.aggregate(nil, res, time.Now())

	assert.False(t, res.Valid)
	assert.Contains(t, res.FailureSummary, "no tested element responded")
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestAggregateStaticPassesByConvention(t *testing.T) {
	v := testValidator()
	res := &Result{Phases: passedPhases(4), LayoutType: "static"}
	v.aggregate(nil, res, time.Now())

	assert.True(t, res.Valid)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestAggregateCriticalPhaseFailure(t *testing.T) {
	v := testValidator()
	res := &Result{Phases: []PhaseResult{
		{Phase: PhaseRender, Name: "render", Passed: true},
		{Phase: PhaseVisual, Name: "visual", Passed: false, Error: "page is visually blank"},
	}}
	v.aggregate(nil, res, time.Now())

	assert.False(t, res.Valid)
	assert.Contains(t, res.FailureSummary, "visually blank")
}

func TestAggregateInteractionErrorsFailEvenWhenResponsive(t *testing.T) {
	v := testValidator()
	res := &Result{
		Phases: append(passedPhases(4), PhaseResult{
			Phase: PhaseInteraction, Name: "interaction", Passed: false,
			Error: "page errors during interaction: ReferenceError",
		}),
		InputsTested:     6,
		InputsResponsive: 6,
	}
	v.aggregate(nil, res, time.Now())

	assert.False(t, res.Valid)
	assert.Contains(t, res.FailureSummary, "ReferenceError")
}

func TestAggregateWarningPenaltyCapped(t *testing.T) {
	v := testValidator()

	res := &Result{Phases: passedPhases(4), InvisibleElements: 2}
	v.aggregate(nil, res, time.Now())
	assert.InDelta(t, 0.85, res.Confidence, 1e-9, "one warning costs five points")

	sess := &session{consoleWn: 9}
	res = &Result{Phases: passedPhases(4), InvisibleElements: 1}
	v.aggregate(sess, res, time.Now())
	assert.InDelta(t, 0.70, res.Confidence, 1e-9, "penalty caps at twenty points")
}

func TestAggregateCountsInvariant(t *testing.T) {
	v := testValidator()
	res := &Result{
		Phases:           passedPhases(5),
		InputsTested:     10,
		InputsResponsive: 10,
	}
	v.aggregate(nil, res, time.Now())

	assert.GreaterOrEqual(t, res.InputsTested, res.InputsResponsive)
	assert.LessOrEqual(t, res.InputsTested, v.cfg.MaxInputsToTest)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}
