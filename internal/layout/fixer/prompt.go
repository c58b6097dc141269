package fixer

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"lumen/internal/layout/sandbox"
)

// FailedElement describes one unresponsive element for the repair prompt.
type FailedElement struct {
	Selector  string
	Classes   []string
	Failure   sandbox.FailureType
	DiffRatio float64
	Error     string
}

// CollectFailures extracts the failing interactions from a validation
// result, resolving each element's current classes from the document.
func CollectFailures(doc string, res sandbox.Result) []FailedElement {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		root = nil
	}

	var out []FailedElement
	for _, ir := range res.Interactions {
		if ir.Responsive {
			continue
		}
		fe := FailedElement{
			Selector: ir.Selector,
			Failure:  ir.Failure(),
			Error:    ir.Error,
		}
		if ir.Delta != nil {
			fe.DiffRatio = ir.Delta.PixelDiffRatio
		}
		if root != nil {
			if nodes := findAll(root, ir.Selector); len(nodes) > 0 {
				raw, _ := attrValue(nodes[0], "class")
				fe.Classes = strings.Fields(raw)
			}
		}
		out = append(out, fe)
	}
	return out
}

func describeFailures(failures []FailedElement) string {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "- %s: %s", f.Selector, f.Failure)
		if f.DiffRatio > 0 {
			fmt.Fprintf(&b, " (pixel diff %.4f)", f.DiffRatio)
		}
		if f.Error != "" {
			fmt.Fprintf(&b, " error: %s", f.Error)
		}
		if len(f.Classes) > 0 {
			fmt.Fprintf(&b, "\n  classes: %s", strings.Join(f.Classes, " "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// describeRejected renders previously rejected patches as negative context
// so a retry does not repeat them.
func describeRejected(rejected []ClassPatch) string {
	if len(rejected) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, p := range rejected {
		fmt.Fprintf(&b, "- selector %q add [%s] remove [%s]\n",
			p.Selector, strings.Join(p.AddClasses, " "), strings.Join(p.RemoveClasses, " "))
	}
	return b.String()
}

func describeRejectedJS(rejected []JSPatch) string {
	if len(rejected) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, p := range rejected {
		fmt.Fprintf(&b, "- %s", p.Type)
		switch {
		case p.FunctionName != "":
			fmt.Fprintf(&b, " %s", p.FunctionName)
		case p.VariableName != "":
			fmt.Fprintf(&b, " %s", p.VariableName)
		case p.OldReference != "":
			fmt.Fprintf(&b, " %s -> %s", p.OldReference, p.NewReference)
		case p.Selector != "":
			fmt.Fprintf(&b, " %s %s", p.Selector, p.Handler)
		}
		if p.Code != "" {
			fmt.Fprintf(&b, ": %s", truncateCode(p.Code, 120))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func truncateCode(code string, n int) string {
	code = strings.Join(strings.Fields(code), " ")
	if len(code) <= n {
		return code
	}
	return code[:n] + "..."
}

// scriptContext summarizes the document's scripted surface for the JS
// repair prompt: inline scripts, handler attributes, ids, and any function
// that is called but never defined.
type scriptContext struct {
	Scripts  []string
	Handlers []string
	IDs      []string
	Defined  []string
	Called   []string
	Missing  []string
}

var (
	funcDeclRe   = regexp.MustCompile(`function\s+([A-Za-z_$][\w$]*)\s*\(`)
	funcAssignRe = regexp.MustCompile(`(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:function\b|\()`)
	callRe       = regexp.MustCompile(`(?:^|[^.\w$])([A-Za-z_$][\w$]*)\s*\(`)
)

// jsBuiltins are callables a page script may use without defining.
var jsBuiltins = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "typeof": true,
	"setInterval": true, "setTimeout": true, "clearInterval": true, "clearTimeout": true,
	"requestAnimationFrame": true, "alert": true, "parseInt": true, "parseFloat": true,
	"String": true, "Number": true, "Boolean": true, "Array": true, "Object": true,
	"Date": true, "Math": true, "JSON": true, "Promise": true, "RegExp": true, "Error": true,
	"isNaN": true, "encodeURIComponent": true, "decodeURIComponent": true,
}

func analyzeScripts(doc string) scriptContext {
	sc := scriptContext{}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return sc
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "script" {
				if _, external := attrValue(n, "src"); !external && n.FirstChild != nil {
					sc.Scripts = append(sc.Scripts, n.FirstChild.Data)
				}
			}
			for _, a := range n.Attr {
				if strings.HasPrefix(a.Key, "on") {
					sc.Handlers = append(sc.Handlers, fmt.Sprintf("%s %s=%q", n.Data, a.Key, a.Val))
				}
				if a.Key == "id" {
					sc.IDs = append(sc.IDs, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	defined := make(map[string]bool)
	for _, script := range sc.Scripts {
		for _, m := range funcDeclRe.FindAllStringSubmatch(script, -1) {
			defined[m[1]] = true
		}
		for _, m := range funcAssignRe.FindAllStringSubmatch(script, -1) {
			defined[m[1]] = true
		}
	}
	for name := range defined {
		sc.Defined = append(sc.Defined, name)
	}

	called := make(map[string]bool)
	sources := append([]string{}, sc.Scripts...)
	sources = append(sources, sc.Handlers...)
	for _, src := range sources {
		for _, m := range callRe.FindAllStringSubmatch(src, -1) {
			called[m[1]] = true
		}
	}
	for name := range called {
		sc.Called = append(sc.Called, name)
		if !defined[name] && !jsBuiltins[name] {
			sc.Missing = append(sc.Missing, name)
		}
	}
	return sc
}

func (sc scriptContext) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Inline scripts: %d\n", len(sc.Scripts))
	if len(sc.Handlers) > 0 {
		fmt.Fprintf(&b, "Handler attributes:\n")
		for _, h := range sc.Handlers {
			fmt.Fprintf(&b, "  %s\n", h)
		}
	}
	if len(sc.IDs) > 0 {
		fmt.Fprintf(&b, "Element ids: %s\n", strings.Join(sc.IDs, ", "))
	}
	if len(sc.Defined) > 0 {
		fmt.Fprintf(&b, "Defined functions: %s\n", strings.Join(sc.Defined, ", "))
	}
	if len(sc.Missing) > 0 {
		fmt.Fprintf(&b, "Called but never defined: %s\n", strings.Join(sc.Missing, ", "))
	}
	return b.String()
}
