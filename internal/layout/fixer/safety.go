package fixer

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// classTokenRe accepts utility-class grammar: optional state variants
// (hover:, md:, focus-visible:), an optional leading minus, and optional
// arbitrary values in brackets.
var classTokenRe = regexp.MustCompile(
	`^(?:[a-z][a-z0-9-]*:)*-?[a-z][a-z0-9./-]*(?:\[[^\[\]\s]+\])?$`)

// forbiddenJS lists API substrings a script patch may never use: code
// execution, network, storage, and document rewriting.
var forbiddenJS = []string{
	"eval(",
	"Function(",
	"document.write",
	"fetch(",
	"XMLHttpRequest",
	"WebSocket",
	"localStorage",
	"sessionStorage",
	"indexedDB",
	"importScripts",
}

// VerifyClassPatch checks a model-produced class patch against the
// document: the selector must resolve and every token must fit the class
// grammar.
func VerifyClassPatch(doc string, p ClassPatch) error {
	if strings.TrimSpace(p.Selector) == "" {
		return fmt.Errorf("empty selector")
	}
	for _, c := range append(append([]string{}, p.AddClasses...), p.RemoveClasses...) {
		if !classTokenRe.MatchString(c) {
			return fmt.Errorf("class %q fails the token grammar", c)
		}
	}
	if len(p.AddClasses) == 0 && len(p.RemoveClasses) == 0 {
		return fmt.Errorf("patch changes nothing")
	}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if len(findAll(root, p.Selector)) == 0 {
		return fmt.Errorf("selector %q resolves to nothing", p.Selector)
	}
	return nil
}

var (
	getByIDRe  = regexp.MustCompile(`getElementById\(\s*['"]([^'"]+)['"]\s*\)`)
	querySelRe = regexp.MustCompile(`querySelector(?:All)?\(\s*['"]#([A-Za-z][-\w]*)['"]\s*\)`)
)

// minScriptConfidence drops script patches the model itself is unsure of.
const minScriptConfidence = 0.5

// VerifyJSPatch checks a script patch before it touches the document: the
// variant's required fields must be present, any code must avoid forbidden
// APIs with balanced delimiters, and every DOM id it references must exist.
func VerifyJSPatch(doc string, p JSPatch) error {
	if p.Confidence < minScriptConfidence {
		return fmt.Errorf("confidence %.2f below %.2f", p.Confidence, minScriptConfidence)
	}
	switch p.Type {
	case JSPatchFixSyntax:
		return verifyScriptText(doc, p.Code)
	case JSPatchAddFunction:
		if p.FunctionName == "" {
			return fmt.Errorf("add_function without a function name")
		}
		if !definesFunction(p.Code, p.FunctionName) {
			return fmt.Errorf("code does not define %q", p.FunctionName)
		}
		return verifyScriptText(doc, p.Code)
	case JSPatchReplaceFunction:
		if p.FunctionName == "" {
			return fmt.Errorf("replace_function without a function name")
		}
		if !definesFunction(p.Code, p.FunctionName) {
			return fmt.Errorf("code does not define %q", p.FunctionName)
		}
		if !declRegexp(p.FunctionName).MatchString(strings.Join(analyzeScripts(doc).Scripts, "\n")) {
			return fmt.Errorf("function %q is not declared in the document", p.FunctionName)
		}
		return verifyScriptText(doc, p.Code)
	case JSPatchFixDOMReference:
		if p.OldReference == "" || p.NewReference == "" {
			return fmt.Errorf("fix_dom_reference needs both references")
		}
		if !documentIDs(doc)[p.NewReference] {
			return fmt.Errorf("new reference %q does not exist in the document", p.NewReference)
		}
		return nil
	case JSPatchAddVariable:
		if p.VariableName == "" {
			return fmt.Errorf("add_variable without a variable name")
		}
		if !declaresVariable(p.Code, p.VariableName) {
			return fmt.Errorf("code does not declare %q", p.VariableName)
		}
		return verifyScriptText(doc, p.Code)
	case JSPatchModifyHandler:
		if !strings.HasPrefix(p.Handler, "on") {
			return fmt.Errorf("%q is not an event-handler attribute", p.Handler)
		}
		root, err := html.Parse(strings.NewReader(doc))
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}
		if len(findAll(root, p.Selector)) == 0 {
			return fmt.Errorf("selector %q resolves to nothing", p.Selector)
		}
		return verifyScriptText(doc, p.Code)
	default:
		return fmt.Errorf("unknown patch type %q", p.Type)
	}
}

func declRegexp(name string) *regexp.Regexp {
	return regexp.MustCompile(`\bfunction\s+` + regexp.QuoteMeta(name) + `\s*\(`)
}

func definesFunction(code, name string) bool {
	if declRegexp(name).MatchString(code) {
		return true
	}
	return regexp.MustCompile(`(?:const|let|var)\s+` + regexp.QuoteMeta(name) + `\s*=`).MatchString(code)
}

func declaresVariable(code, name string) bool {
	return regexp.MustCompile(`(?:const|let|var)\s+` + regexp.QuoteMeta(name) + `\b`).MatchString(code)
}

// verifyScriptText checks one piece of script: no forbidden APIs, balanced
// delimiters, and every DOM id it references exists in the document.
func verifyScriptText(doc, script string) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("empty script")
	}
	for _, bad := range forbiddenJS {
		if strings.Contains(script, bad) {
			return fmt.Errorf("script uses forbidden API %q", strings.TrimSuffix(bad, "("))
		}
	}
	if err := checkBalanced(script); err != nil {
		return err
	}

	ids := documentIDs(doc)
	for _, m := range getByIDRe.FindAllStringSubmatch(script, -1) {
		if !ids[m[1]] {
			return fmt.Errorf("script references missing element id %q", m[1])
		}
	}
	for _, m := range querySelRe.FindAllStringSubmatch(script, -1) {
		if !ids[m[1]] {
			return fmt.Errorf("script references missing element id %q", m[1])
		}
	}
	return nil
}

// checkBalanced verifies braces, brackets, and parens pair up, skipping
// string literals and comments.
func checkBalanced(script string) error {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	inString := byte(0)
	inLineComment, inBlockComment := false, false

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if c == '*' && i+1 < len(script) && script[i+1] == '/' {
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
				if i+1 < len(script) {
					switch script[i+1] {
					case '/':
						inLineComment = true
						i++
					case '*':
						inBlockComment = true
						i++
					}
				}
			case '(', '[', '{':
				stack = append(stack, c)
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
					return fmt.Errorf("unbalanced %q at offset %d", string(c), i)
				}
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}

// VerifyDocumentScripts runs the script safety checks over every inline
// script in a document. Used on whole-document rewrites where no single
// patch exists to verify.
func VerifyDocumentScripts(doc string) error {
	for i, script := range analyzeScripts(doc).Scripts {
		if err := verifyScriptText(doc, script); err != nil {
			return fmt.Errorf("inline script %d: %w", i+1, err)
		}
	}
	return nil
}

func documentIDs(doc string) map[string]bool {
	ids := make(map[string]bool)
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ids
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id, ok := attrValue(n, "id"); ok {
				ids[id] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return ids
}
