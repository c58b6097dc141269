package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const safetyDoc = `<!DOCTYPE html>
<html><head></head><body>
<div id="board" class="grid"></div>
<button id="reset" class="hidden">Reset</button>
</body></html>`

func TestVerifyClassPatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   ClassPatch
		wantErr string
	}{
		{
			name:  "valid",
			patch: ClassPatch{Selector: "#reset", RemoveClasses: []string{"hidden"}},
		},
		{
			name:  "state variant and arbitrary value",
			patch: ClassPatch{Selector: "#board", AddClasses: []string{"hover:bg-slate-800", "md:grid-cols-3", "w-[42rem]", "-translate-y-1/2"}},
		},
		{
			name:    "unresolvable selector",
			patch:   ClassPatch{Selector: "#ghost", AddClasses: []string{"block"}},
			wantErr: "resolves to nothing",
		},
		{
			name:    "empty selector",
			patch:   ClassPatch{AddClasses: []string{"block"}},
			wantErr: "empty selector",
		},
		{
			name:    "no-op patch",
			patch:   ClassPatch{Selector: "#board"},
			wantErr: "changes nothing",
		},
		{
			name:    "script in class token",
			patch:   ClassPatch{Selector: "#board", AddClasses: []string{`"><script>`}},
			wantErr: "token grammar",
		},
		{
			name:    "whitespace smuggling",
			patch:   ClassPatch{Selector: "#board", AddClasses: []string{"block onload=x"}},
			wantErr: "token grammar",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyClassPatch(safetyDoc, tt.patch)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// fixSyntax wraps a script in the whole-script variant at full confidence
// so the remaining checks are what the test exercises.
func fixSyntax(script string) JSPatch {
	return JSPatch{Type: JSPatchFixSyntax, Code: script, Confidence: 1}
}

func TestVerifyJSPatchForbiddenAPIs(t *testing.T) {
	for _, script := range []string{
		`eval("x")`,
		`fetch('/data')`,
		`new WebSocket('ws://x')`,
		`localStorage.setItem('a', 1)`,
		`document.write('<p>')`,
		`new XMLHttpRequest()`,
	} {
		err := VerifyJSPatch(safetyDoc, fixSyntax(script))
		require.Error(t, err, script)
		assert.Contains(t, err.Error(), "forbidden API")
	}
}

func TestVerifyJSPatchBalance(t *testing.T) {
	assert.NoError(t, VerifyJSPatch(safetyDoc,
		fixSyntax(`function go() { const a = [1, 2]; return a.map(x => (x * 2)); }`)))

	err := VerifyJSPatch(safetyDoc, fixSyntax(`function go() { if (true) { }`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed")

	// Delimiters inside strings and comments do not count.
	assert.NoError(t, VerifyJSPatch(safetyDoc, fixSyntax(`const s = "not a brace {"; // also not: (
const r = /* { [ */ 1;`)))
}

func TestVerifyJSPatchDOMReferences(t *testing.T) {
	assert.NoError(t, VerifyJSPatch(safetyDoc,
		fixSyntax(`document.getElementById('board').textContent = 'x';`)))

	err := VerifyJSPatch(safetyDoc, fixSyntax(`document.getElementById('ghost').remove();`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing element id "ghost"`)

	err = VerifyJSPatch(safetyDoc, fixSyntax(`document.querySelector('#nope').remove();`))
	require.Error(t, err)
}

func TestVerifyJSPatchConfidenceGate(t *testing.T) {
	patch := fixSyntax(`const ok = 1;`)
	patch.Confidence = 0.4
	err := VerifyJSPatch(safetyDoc, patch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")

	patch.Confidence = 0.5
	assert.NoError(t, VerifyJSPatch(safetyDoc, patch))
}

func TestVerifyJSPatchVariants(t *testing.T) {
	doc := `<!DOCTYPE html><html><head></head><body>
<p id="score">0</p>
<button id="go" onclick="bump()">Go</button>
<script>function bump() { render(); }</script>
</body></html>`

	tests := []struct {
		name    string
		patch   JSPatch
		wantErr string
	}{
		{
			name: "add_function valid",
			patch: JSPatch{Type: JSPatchAddFunction, FunctionName: "render",
				Code: "function render() {}", Confidence: 0.9},
		},
		{
			name: "add_function code does not define the name",
			patch: JSPatch{Type: JSPatchAddFunction, FunctionName: "render",
				Code: "function other() {}", Confidence: 0.9},
			wantErr: `does not define "render"`,
		},
		{
			name: "replace_function valid",
			patch: JSPatch{Type: JSPatchReplaceFunction, FunctionName: "bump",
				Code: "function bump() {}", Confidence: 0.9},
		},
		{
			name: "replace_function target not declared",
			patch: JSPatch{Type: JSPatchReplaceFunction, FunctionName: "ghost",
				Code: "function ghost() {}", Confidence: 0.9},
			wantErr: "not declared",
		},
		{
			name: "fix_dom_reference valid",
			patch: JSPatch{Type: JSPatchFixDOMReference, OldReference: "points",
				NewReference: "score", Confidence: 0.9},
		},
		{
			name: "fix_dom_reference new reference missing",
			patch: JSPatch{Type: JSPatchFixDOMReference, OldReference: "points",
				NewReference: "tally", Confidence: 0.9},
			wantErr: `new reference "tally" does not exist`,
		},
		{
			name: "add_variable valid",
			patch: JSPatch{Type: JSPatchAddVariable, VariableName: "limit",
				Code: "const limit = 10;", Confidence: 0.9},
		},
		{
			name: "add_variable code does not declare the name",
			patch: JSPatch{Type: JSPatchAddVariable, VariableName: "limit",
				Code: "const cap = 10;", Confidence: 0.9},
			wantErr: `does not declare "limit"`,
		},
		{
			name: "modify_handler valid",
			patch: JSPatch{Type: JSPatchModifyHandler, Selector: "#go",
				Handler: "onclick", Code: "bump(); bump()", Confidence: 0.9},
		},
		{
			name: "modify_handler non-handler attribute",
			patch: JSPatch{Type: JSPatchModifyHandler, Selector: "#go",
				Handler: "href", Code: "x()", Confidence: 0.9},
			wantErr: "not an event-handler attribute",
		},
		{
			name: "modify_handler unresolvable selector",
			patch: JSPatch{Type: JSPatchModifyHandler, Selector: "#ghost",
				Handler: "onclick", Code: "bump()", Confidence: 0.9},
			wantErr: "resolves to nothing",
		},
		{
			name:    "unknown type",
			patch:   JSPatch{Type: "rewrite_everything", Code: "x()", Confidence: 0.9},
			wantErr: "unknown patch type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyJSPatch(doc, tt.patch)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDeterministicRegistry(t *testing.T) {
	patch, ok := DeterministicPatch(ErrorHiddenElement, "#reset")
	require.True(t, ok)
	assert.Equal(t, []string{"hidden", "invisible", "opacity-0"}, patch.RemoveClasses)

	_, ok = DeterministicPatch(ErrorUnknownFailure, "#reset")
	assert.False(t, ok)

	_, ok = DeterministicPatch(ErrorHiddenElement, "")
	assert.False(t, ok)
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, ErrorHiddenElement, ClassifyFailure([]string{"bg-red-500", "hidden"}))
	assert.Equal(t, ErrorHiddenElement, ClassifyFailure([]string{"opacity-0"}))
	assert.Equal(t, ErrorPointerEvents, ClassifyFailure([]string{"pointer-events-none"}))
	assert.Equal(t, ErrorZOrder, ClassifyFailure([]string{"-z-10"}))
	assert.Equal(t, ErrorUnknownFailure, ClassifyFailure([]string{"flex", "gap-4"}))
}
