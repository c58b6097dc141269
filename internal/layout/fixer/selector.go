package fixer

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// simpleSelector is one compound step of a selector chain: optional tag,
// id, class, attribute test, and nth-of-type index.
type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
	attrEq  bool
	nth     int // 0 means not constrained
	invalid bool
}

var selectorTokenRe = regexp.MustCompile(
	`^(?:([a-zA-Z][a-zA-Z0-9-]*)|\*)?` + // tag
		`(?:#([^.\[:\s]+))?` + // id
		`(?:\.([^.\[:\s]+))?` + // first class
		`(?:\[([a-zA-Z-]+)(?:="([^"]*)")?\])?` + // attribute
		`(?::nth-of-type\((\d+)\))?$`) // nth-of-type

func parseSimple(token string) simpleSelector {
	m := selectorTokenRe.FindStringSubmatch(token)
	if m == nil {
		return simpleSelector{invalid: true}
	}
	sel := simpleSelector{
		tag:     strings.ToLower(m[1]),
		id:      m[2],
		class:   m[3],
		attrKey: m[4],
		attrVal: m[5],
	}
	if m[4] != "" {
		sel.attrEq = strings.Contains(token, "=")
	}
	if m[6] != "" {
		sel.nth, _ = strconv.Atoi(m[6])
	}
	if sel.tag == "" && sel.id == "" && sel.class == "" && sel.attrKey == "" {
		sel.invalid = true
	}
	return sel
}

// parseSelector splits a selector into compound steps. Both child (">") and
// descendant (space) combinators are treated as ancestry constraints.
func parseSelector(s string) []simpleSelector {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ">", " ")
	var out []simpleSelector
	for _, token := range strings.Fields(s) {
		out = append(out, parseSimple(token))
	}
	return out
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	raw, _ := attrValue(n, "class")
	for _, c := range strings.Fields(raw) {
		if c == class {
			return true
		}
	}
	return false
}

func nthOfType(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	return idx
}

func matchSimple(n *html.Node, sel simpleSelector) bool {
	if sel.invalid || n.Type != html.ElementNode {
		return false
	}
	if sel.tag != "" && n.Data != sel.tag {
		return false
	}
	if sel.id != "" {
		id, ok := attrValue(n, "id")
		if !ok || id != sel.id {
			return false
		}
	}
	if sel.class != "" && !hasClass(n, sel.class) {
		return false
	}
	if sel.attrKey != "" {
		val, ok := attrValue(n, sel.attrKey)
		if !ok {
			return false
		}
		if sel.attrEq && val != sel.attrVal {
			return false
		}
	}
	if sel.nth > 0 && nthOfType(n) != sel.nth {
		return false
	}
	return true
}

// matchChain checks the final step against the node and every earlier step
// against some ancestor, in order.
func matchChain(n *html.Node, chain []simpleSelector) bool {
	if len(chain) == 0 {
		return false
	}
	if !matchSimple(n, chain[len(chain)-1]) {
		return false
	}
	remaining := chain[:len(chain)-1]
	anc := n.Parent
	for len(remaining) > 0 && anc != nil {
		if matchSimple(anc, remaining[len(remaining)-1]) {
			remaining = remaining[:len(remaining)-1]
		}
		anc = anc.Parent
	}
	return len(remaining) == 0
}

// findAll returns every element in the document matching the selector.
// Unsupported selector syntax matches nothing.
func findAll(root *html.Node, selector string) []*html.Node {
	chain := parseSelector(selector)
	if len(chain) == 0 {
		return nil
	}
	for _, step := range chain {
		if step.invalid {
			return nil
		}
	}

	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && matchChain(n, chain) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
