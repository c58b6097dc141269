package fixer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/layout/sandbox"
	"lumen/internal/prompts"
	"lumen/internal/provider"
	"lumen/internal/provider/providertest"
)

func newTestFixer(t *testing.T, coder provider.Client) *Fixer {
	t.Helper()
	store, err := prompts.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	cheap := providertest.New(provider.TierCheap, "cheap-model")
	repairer := provider.NewRepairer(cheap, false, 0, "", "")
	return New(coder, repairer, store, 2)
}

func failedInteraction(selector string) sandbox.Result {
	return sandbox.Result{
		Phases: []sandbox.PhaseResult{
			{Phase: sandbox.PhaseInteraction, Name: "interaction", Passed: true},
		},
		InputsTested: 1,
		Interactions: []sandbox.InteractionResult{
			{Selector: selector, Action: "click", Delta: &sandbox.VisualDelta{}},
		},
	}
}

func TestFixDeterministicHiddenElement(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button id="go" class="hidden bg-blue-500">Go</button>
</body></html>`

	coder := providertest.New(provider.TierCoder, "coder-model")
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, failedInteraction("#go"))
	require.True(t, out.OK)
	assert.True(t, out.Deterministic)
	assert.Empty(t, coder.Calls(), "recognized failures repair without the model")
	assert.NotContains(t, classesOf(t, out.HTML, "#go"), "hidden")
	assert.Contains(t, classesOf(t, out.HTML, "#go"), "bg-blue-500")
}

func TestFixModelClassPatch(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button id="go" class="bg-blue-500">Go</button>
</body></html>`

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[{"selector": "#go", "add_classes": ["relative", "z-10"], "reason": "covered by sibling"}]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, failedInteraction("#go"))
	require.True(t, out.OK)
	assert.False(t, out.Deterministic)
	require.Len(t, out.ClassPatches, 1)
	assert.Contains(t, classesOf(t, out.HTML, "#go"), "z-10")

	require.Len(t, coder.Requests, 1)
	assert.Contains(t, coder.Requests[0].Prompt, "#go")
	assert.Contains(t, coder.Requests[0].Prompt, "no_change")
}

func TestFixRetryCarriesRejectedPatches(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button id="go" class="bg-blue-500">Go</button>
</body></html>`

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[{"selector": "#ghost", "add_classes": ["block"]}]`).
		Reply(`[{"selector": "#go", "add_classes": ["z-10"]}]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, failedInteraction("#go"))
	require.True(t, out.OK)
	require.Len(t, coder.Requests, 2)
	assert.Contains(t, coder.Requests[1].Prompt, "#ghost",
		"the retry prompt names the rejected patch")
	assert.Contains(t, classesOf(t, out.HTML, "#go"), "z-10")
}

func TestFixScriptRepair(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<p id="score">0</p>
<button id="go" onclick="bump()">Go</button>
<script>broken(</script>
</body></html>`

	res := sandbox.Result{
		Phases: []sandbox.PhaseResult{
			{Phase: sandbox.PhaseInteraction, Name: "interaction", Passed: false,
				Error: "page errors during interaction: ReferenceError: bump is not defined"},
		},
	}

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[{"type": "fix_syntax", "code": "function bump() { const el = document.getElementById('score'); el.textContent = String(Number(el.textContent) + 1); }", "confidence": 0.9, "reason": "bump was never defined"}]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, res)
	require.True(t, out.OK)
	require.Len(t, out.JSPatches, 1)
	assert.Equal(t, JSPatchFixSyntax, out.JSPatches[0].Type)
	assert.Contains(t, out.HTML, "function bump()")
	assert.NotContains(t, out.HTML, "broken(")

	require.Len(t, coder.Requests, 1)
	assert.Contains(t, coder.Requests[0].Prompt, "ReferenceError")
	assert.Contains(t, coder.Requests[0].Prompt, "bump",
		"the prompt names the missing function")
}

func TestFixScriptRepairTargetedPatches(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<p id="score">0</p>
<button id="go" onclick="bump()">Go</button>
<script>function bump() { document.getElementById('points').textContent = '1'; }</script>
</body></html>`

	res := sandbox.Result{
		Phases: []sandbox.PhaseResult{
			{Phase: sandbox.PhaseInteraction, Passed: false,
				Error: "page errors during interaction: TypeError: Cannot set properties of null"},
		},
	}

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[
{"type": "fix_dom_reference", "old_reference": "points", "new_reference": "score", "confidence": 0.9, "reason": "no element has id points"},
{"type": "add_function", "function_name": "render", "code": "function render() {}", "confidence": 0.8, "reason": "called from reset"}
]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, res)
	require.True(t, out.OK)
	require.Len(t, out.JSPatches, 2)
	assert.Equal(t, JSPatchFixDOMReference, out.JSPatches[0].Type)
	assert.Contains(t, out.HTML, "getElementById('score')")
	assert.NotContains(t, out.HTML, "'points'")
	assert.Contains(t, out.HTML, "function render()")
	assert.Contains(t, out.HTML, "function bump()", "untouched code survives")
}

func TestFixScriptRepairRetryCarriesRejectedPatch(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<p id="score">0</p>
<button id="go" onclick="bump()">Go</button>
<script>x(</script>
</body></html>`

	res := sandbox.Result{
		Phases: []sandbox.PhaseResult{
			{Phase: sandbox.PhaseInteraction, Passed: false, Error: "page errors during interaction: boom"},
		},
	}

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[{"type": "fix_dom_reference", "old_reference": "score", "new_reference": "tally", "confidence": 0.9}]`).
		Reply(`[{"type": "fix_syntax", "code": "function bump() {}", "confidence": 0.9}]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, res)
	require.True(t, out.OK)
	require.Len(t, coder.Requests, 2)
	assert.Contains(t, coder.Requests[1].Prompt, "fix_dom_reference",
		"the retry prompt names the rejected patch")
	assert.Contains(t, coder.Requests[1].Prompt, "tally")
	assert.Contains(t, out.HTML, "function bump()")
}

func TestFixUnsafeScriptRejected(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button id="go" onclick="bump()">Go</button>
<script>x(</script>
</body></html>`

	res := sandbox.Result{
		Phases: []sandbox.PhaseResult{
			{Phase: sandbox.PhaseInteraction, Passed: false, Error: "page errors during interaction: boom"},
		},
	}

	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`[{"type": "fix_syntax", "code": "fetch('/steal')", "confidence": 0.9}]`).
		Reply(`[{"type": "fix_syntax", "code": "fetch('/steal-again')", "confidence": 0.9}]`)
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, res)
	assert.False(t, out.OK)
	assert.Empty(t, out.JSPatches)
	assert.Equal(t, "no applicable patch", out.Error)
	assert.Len(t, coder.Requests, 2, "both retries were spent")
}

func TestFixNothingToDo(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body><p>static</p></body></html>`
	coder := providertest.New(provider.TierCoder, "coder-model")
	f := newTestFixer(t, coder)

	out := f.Fix(context.Background(), doc, sandbox.Result{})
	assert.False(t, out.OK)
	assert.Equal(t, doc, out.HTML)
	assert.Empty(t, coder.Calls())
}

func TestCollectFailuresResolvesClasses(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button id="go" class="hidden z-0">Go</button>
</body></html>`

	failures := CollectFailures(doc, failedInteraction("#go"))
	require.Len(t, failures, 1)
	assert.Equal(t, []string{"hidden", "z-0"}, failures[0].Classes)
	assert.Equal(t, sandbox.FailureNoChange, failures[0].Failure)
}

func TestAnalyzeScriptsFindsMissingFunctions(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<button onclick="start()">Start</button>
<script>
function reset() { render(); }
const render = () => {};
</script>
</body></html>`

	sc := analyzeScripts(doc)
	assert.ElementsMatch(t, []string{"reset", "render"}, sc.Defined)
	assert.Contains(t, sc.Missing, "start")
	assert.NotContains(t, sc.Missing, "render")
}
