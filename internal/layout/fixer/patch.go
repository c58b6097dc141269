// Package fixer repairs generated layouts that failed validation. Known
// failure shapes get deterministic class patches; everything else goes
// through the model, whose patches are safety-checked before they touch the
// document.
package fixer

import "strings"

// ClassPatch adjusts the class list of every element a selector resolves
// to. Additions win over removals of the same token.
type ClassPatch struct {
	Selector      string   `json:"selector"`
	AddClasses    []string `json:"add_classes,omitempty"`
	RemoveClasses []string `json:"remove_classes,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// JSPatchType discriminates the script repair variants.
type JSPatchType string

const (
	JSPatchAddFunction     JSPatchType = "add_function"
	JSPatchReplaceFunction JSPatchType = "replace_function"
	JSPatchFixSyntax       JSPatchType = "fix_syntax"
	JSPatchFixDOMReference JSPatchType = "fix_dom_reference"
	JSPatchAddVariable     JSPatchType = "add_variable"
	JSPatchModifyHandler   JSPatchType = "modify_handler"
)

// JSPatch is one targeted script repair. Type selects which fields are
// meaningful; Confidence gates application: script edits are not reversible
// the way class edits are, so low-confidence patches are dropped.
//
//   - add_function: Code defines FunctionName; appended to the page script.
//   - replace_function: Code replaces the declaration of FunctionName.
//   - fix_syntax: Code is the full corrected script, swapped in whole.
//   - fix_dom_reference: occurrences of element id OldReference in scripts
//     are rewritten to NewReference, which must exist in the document.
//   - add_variable: Code declares VariableName; prepended to the page script.
//   - modify_handler: the Handler attribute of Selector's elements is set
//     to Code.
type JSPatch struct {
	Type         JSPatchType `json:"type"`
	FunctionName string      `json:"function_name,omitempty"`
	VariableName string      `json:"variable_name,omitempty"`
	OldReference string      `json:"old_reference,omitempty"`
	NewReference string      `json:"new_reference,omitempty"`
	Selector     string      `json:"selector,omitempty"`
	Handler      string      `json:"handler,omitempty"`
	Code         string      `json:"code,omitempty"`
	Confidence   float64     `json:"confidence"`
	Reason       string      `json:"reason,omitempty"`
}

// ErrorType names a failure shape with a known deterministic fix.
type ErrorType string

const (
	ErrorHiddenElement  ErrorType = "hidden_element"
	ErrorZOrder         ErrorType = "z_order"
	ErrorPointerEvents  ErrorType = "pointer_events"
	ErrorTransformTrap  ErrorType = "transform_trap"
	ErrorUnknownFailure ErrorType = "unknown"
)

// registry maps each known failure shape to the class patch that repairs
// it, parameterized by the failing selector.
var registry = map[ErrorType]func(selector string) ClassPatch{
	ErrorHiddenElement: func(sel string) ClassPatch {
		return ClassPatch{
			Selector:      sel,
			RemoveClasses: []string{"hidden", "invisible", "opacity-0"},
			Reason:        "restore visibility",
		}
	},
	ErrorZOrder: func(sel string) ClassPatch {
		return ClassPatch{
			Selector:   sel,
			AddClasses: []string{"relative", "z-10"},
			Reason:     "raise above overlapping siblings",
		}
	},
	ErrorPointerEvents: func(sel string) ClassPatch {
		return ClassPatch{
			Selector:      sel,
			AddClasses:    []string{"pointer-events-auto"},
			RemoveClasses: []string{"pointer-events-none"},
			Reason:        "re-enable pointer events",
		}
	},
	ErrorTransformTrap: func(sel string) ClassPatch {
		return ClassPatch{
			Selector:      sel,
			AddClasses:    []string{"transform-none"},
			RemoveClasses: []string{"perspective-dramatic", "transform-3d"},
			Reason:        "flatten 3D transform intercepting clicks",
		}
	},
}

// DeterministicPatch returns the registry patch for a failure shape, or
// false when the shape has no known fix.
func DeterministicPatch(kind ErrorType, selector string) (ClassPatch, bool) {
	build, ok := registry[kind]
	if !ok || selector == "" {
		return ClassPatch{}, false
	}
	return build(selector), true
}

// ClassifyFailure guesses the failure shape of an unresponsive element from
// the classes it currently carries.
func ClassifyFailure(classes []string) ErrorType {
	joined := " " + strings.Join(classes, " ") + " "
	switch {
	case strings.Contains(joined, " hidden ") ||
		strings.Contains(joined, " invisible ") ||
		strings.Contains(joined, " opacity-0 "):
		return ErrorHiddenElement
	case strings.Contains(joined, " pointer-events-none "):
		return ErrorPointerEvents
	case strings.Contains(joined, " -z-") || strings.Contains(joined, " z-0 "):
		return ErrorZOrder
	default:
		return ErrorUnknownFailure
	}
}
