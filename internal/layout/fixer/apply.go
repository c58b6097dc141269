package fixer

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ApplyReport records the outcome of a patch batch. A patch that fails
// never aborts the batch; the remaining patches still apply.
type ApplyReport struct {
	Applied []ClassPatch `json:"applied,omitempty"`
	Failed  []ClassPatch `json:"failed,omitempty"`
}

var zIndexTokenRe = regexp.MustCompile(`^-?z-(?:\d+|auto|\[[^\]]+\])$`)

// ApplyClassPatches parses the document once, applies every patch, and
// re-renders. Tokens in both add and remove lists stay (add wins); adding a
// z-index token replaces any existing one.
func ApplyClassPatches(doc string, patches []ClassPatch) (string, ApplyReport, error) {
	report := ApplyReport{}
	if len(patches) == 0 {
		return doc, report, nil
	}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, report, fmt.Errorf("parse document: %w", err)
	}

	for _, p := range patches {
		nodes := findAll(root, p.Selector)
		if len(nodes) == 0 {
			report.Failed = append(report.Failed, p)
			continue
		}
		for _, n := range nodes {
			patchClasses(n, p)
		}
		report.Applied = append(report.Applied, p)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return doc, report, fmt.Errorf("render document: %w", err)
	}
	return buf.String(), report, nil
}

func patchClasses(n *html.Node, p ClassPatch) {
	adding := make(map[string]bool, len(p.AddClasses))
	addsZ := false
	for _, c := range p.AddClasses {
		adding[c] = true
		if zIndexTokenRe.MatchString(c) {
			addsZ = true
		}
	}
	removing := make(map[string]bool, len(p.RemoveClasses))
	for _, c := range p.RemoveClasses {
		if !adding[c] {
			removing[c] = true
		}
	}

	raw, _ := attrValue(n, "class")
	var kept []string
	present := make(map[string]bool)
	for _, c := range strings.Fields(raw) {
		if removing[c] {
			continue
		}
		if addsZ && zIndexTokenRe.MatchString(c) && !adding[c] {
			continue
		}
		if present[c] {
			continue
		}
		present[c] = true
		kept = append(kept, c)
	}
	for _, c := range p.AddClasses {
		if !present[c] {
			present[c] = true
			kept = append(kept, c)
		}
	}

	setAttr(n, "class", strings.Join(kept, " "))
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// ApplyJSPatch applies one script patch according to its variant.
func ApplyJSPatch(doc string, p JSPatch) (string, error) {
	switch p.Type {
	case JSPatchFixSyntax:
		return replaceWholeScript(doc, p.Code)
	case JSPatchAddFunction:
		return extendScript(doc, p.Code, false)
	case JSPatchAddVariable:
		// Declarations go first so later script code can see them.
		return extendScript(doc, p.Code, true)
	case JSPatchReplaceFunction:
		return replaceFunction(doc, p.FunctionName, p.Code)
	case JSPatchFixDOMReference:
		return rewriteDOMReference(doc, p.OldReference, p.NewReference)
	case JSPatchModifyHandler:
		return setHandler(doc, p.Selector, p.Handler, p.Code)
	default:
		return doc, fmt.Errorf("unknown patch type %q", p.Type)
	}
}

// ApplyJSPatches applies script patches in order. A patch that fails leaves
// the document as the previous patch left it; the rest still apply.
func ApplyJSPatches(doc string, patches []JSPatch) (string, []JSPatch) {
	var applied []JSPatch
	for _, p := range patches {
		next, err := ApplyJSPatch(doc, p)
		if err != nil {
			continue
		}
		doc = next
		applied = append(applied, p)
	}
	return doc, applied
}

// scriptNodes finds the document body and its inline scripts.
func scriptNodes(root *html.Node) (body *html.Node, inline []*html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "body":
				body = n
			case "script":
				if _, external := attrValue(n, "src"); !external {
					inline = append(inline, n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return body, inline
}

func setScriptText(script *html.Node, text string) {
	for c := script.FirstChild; c != nil; {
		next := c.NextSibling
		script.RemoveChild(c)
		c = next
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func renderDoc(root *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return buf.String(), nil
}

// replaceWholeScript swaps the body of the last inline script for the
// corrected one, or appends a new script before </body> when none exists.
func replaceWholeScript(doc, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return doc, fmt.Errorf("empty script patch")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, fmt.Errorf("parse document: %w", err)
	}
	body, inline := scriptNodes(root)
	switch {
	case len(inline) > 0:
		setScriptText(inline[len(inline)-1], code)
	case body != nil:
		script := &html.Node{Type: html.ElementNode, Data: "script"}
		script.AppendChild(&html.Node{Type: html.TextNode, Data: code})
		body.AppendChild(script)
	default:
		return doc, fmt.Errorf("document has no body")
	}
	return renderDoc(root)
}

// extendScript adds code to the last inline script without disturbing what
// is already there, creating the script element when the page has none.
func extendScript(doc, code string, prepend bool) (string, error) {
	if strings.TrimSpace(code) == "" {
		return doc, fmt.Errorf("empty script patch")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, fmt.Errorf("parse document: %w", err)
	}
	body, inline := scriptNodes(root)
	switch {
	case len(inline) > 0:
		script := inline[len(inline)-1]
		existing := ""
		if script.FirstChild != nil {
			existing = script.FirstChild.Data
		}
		if prepend {
			setScriptText(script, code+"\n"+existing)
		} else {
			setScriptText(script, existing+"\n"+code)
		}
	case body != nil:
		script := &html.Node{Type: html.ElementNode, Data: "script"}
		script.AppendChild(&html.Node{Type: html.TextNode, Data: code})
		body.AppendChild(script)
	default:
		return doc, fmt.Errorf("document has no body")
	}
	return renderDoc(root)
}

// replaceFunction swaps the declaration of one named function for new code,
// leaving the rest of the script untouched.
func replaceFunction(doc, name, code string) (string, error) {
	if name == "" || strings.TrimSpace(code) == "" {
		return doc, fmt.Errorf("replace_function needs a function name and code")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, fmt.Errorf("parse document: %w", err)
	}
	_, inline := scriptNodes(root)
	declRe := regexp.MustCompile(`\bfunction\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	for _, script := range inline {
		if script.FirstChild == nil {
			continue
		}
		text := script.FirstChild.Data
		loc := declRe.FindStringIndex(text)
		if loc == nil {
			continue
		}
		end, err := functionEnd(text, loc[0])
		if err != nil {
			return doc, err
		}
		setScriptText(script, text[:loc[0]]+code+text[end:])
		return renderDoc(root)
	}
	return doc, fmt.Errorf("function %q is not declared in any inline script", name)
}

// functionEnd scans from a `function` keyword to the closing brace of its
// body, skipping string literals and comments.
func functionEnd(text string, start int) (int, error) {
	depth := 0
	opened := false
	inString := byte(0)
	inLineComment, inBlockComment := false, false

	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if c == '*' && i+1 < len(text) && text[i+1] == '/' {
				inBlockComment = false
				i++
			}
		case inString != 0:
			if c == '\\' {
				i++
			} else if c == inString {
				inString = 0
			}
		default:
			switch c {
			case '\'', '"', '`':
				inString = c
			case '/':
				if i+1 < len(text) {
					switch text[i+1] {
					case '/':
						inLineComment = true
						i++
					case '*':
						inBlockComment = true
						i++
					}
				}
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return i + 1, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("function body never closes")
}

var domRefPatterns = []string{
	`(getElementById\(\s*['"])%s(['"]\s*\))`,
	`(querySelector(?:All)?\(\s*['"]#)%s(['"]\s*\))`,
}

// rewriteDOMReference renames an element id inside every inline script and
// handler attribute lookup.
func rewriteDOMReference(doc, oldID, newID string) (string, error) {
	if oldID == "" || newID == "" {
		return doc, fmt.Errorf("fix_dom_reference needs both references")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, fmt.Errorf("parse document: %w", err)
	}

	var res []*regexp.Regexp
	for _, pat := range domRefPatterns {
		res = append(res, regexp.MustCompile(fmt.Sprintf(pat, regexp.QuoteMeta(oldID))))
	}
	rewrite := func(text string) (string, bool) {
		changed := false
		for _, re := range res {
			if re.MatchString(text) {
				text = re.ReplaceAllString(text, "${1}"+newID+"${2}")
				changed = true
			}
		}
		return text, changed
	}

	any := false
	_, inline := scriptNodes(root)
	for _, script := range inline {
		if script.FirstChild == nil {
			continue
		}
		if text, changed := rewrite(script.FirstChild.Data); changed {
			setScriptText(script, text)
			any = true
		}
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i := range n.Attr {
				if !strings.HasPrefix(n.Attr[i].Key, "on") {
					continue
				}
				if text, changed := rewrite(n.Attr[i].Val); changed {
					n.Attr[i].Val = text
					any = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if !any {
		return doc, fmt.Errorf("no script references element id %q", oldID)
	}
	return renderDoc(root)
}

// setHandler rewrites an event-handler attribute on every element the
// selector resolves to.
func setHandler(doc, selector, handler, code string) (string, error) {
	if selector == "" || handler == "" {
		return doc, fmt.Errorf("modify_handler needs a selector and a handler name")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, fmt.Errorf("parse document: %w", err)
	}
	nodes := findAll(root, selector)
	if len(nodes) == 0 {
		return doc, fmt.Errorf("selector %q resolves to nothing", selector)
	}
	for _, n := range nodes {
		setAttr(n, handler, code)
	}
	return renderDoc(root)
}
