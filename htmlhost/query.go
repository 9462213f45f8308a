package htmlhost

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/liuxd6825/tabpilot/host"
)

// unsupportedEngineError is raised for selector engines a document can't
// evaluate.
type unsupportedEngineError struct {
	engine string
}

func (e *unsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported selector engine %q", e.engine)
}

func unquote(s string) (string, bool) {
	if len(s) > 1 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return s, false
}

func textMatches(n *html.Node, body string) bool {
	text, exact := unquote(body)
	t := elementText(n)
	if exact {
		return t == text
	}
	return strings.Contains(strings.ToLower(t), strings.ToLower(text))
}

// query evaluates sel from root. Matches are unique and in the order the
// engines produced them. root itself is never returned.
func (d *document) query(w *world, root *html.Node, sel host.SelectorArg) ([]*html.Node, error) {
	current := []*html.Node{root}
	for i, part := range sel.Parts {
		next, err := d.queryPart(w, current, part)
		if err != nil {
			return nil, err
		}
		if sel.Capture != nil && *sel.Capture == i {
			rest := host.SelectorArg{Parts: sel.Parts[i+1:]}
			var captured []*html.Node
			for _, n := range next {
				found, err := d.query(w, n, rest)
				if err != nil {
					return nil, err
				}
				if len(rest.Parts) == 0 || len(found) > 0 {
					captured = append(captured, n)
				}
			}
			return captured, nil
		}
		current = next
	}
	if len(sel.Parts) == 0 {
		return current, nil
	}
	return slices.DeleteFunc(current, func(n *html.Node) bool { return n == root }), nil
}

func (d *document) queryPart(w *world, roots []*html.Node, part host.SelectorPart) ([]*html.Node, error) {
	var out []*html.Node
	push := func(n *html.Node) {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	filter := func(keep func(*html.Node) bool) []*html.Node {
		for _, n := range roots {
			if keep(n) {
				out = append(out, n)
			}
		}
		return out
	}

	switch part.Name {
	case "css":
		m, err := cascadia.Compile(part.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid css selector %q: %w", part.Body, err)
		}
		for _, r := range roots {
			for _, n := range cascadia.QueryAll(r, m) {
				push(n)
			}
		}
	case "xpath":
		for _, r := range roots {
			for _, n := range evaluateXPath(r, part.Body) {
				push(n)
			}
		}
	case "text":
		for _, r := range roots {
			walkElements(r, func(n *html.Node) {
				if !isVisible(n) || !textMatches(n, part.Body) {
					return
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if isElement(c) && isVisible(c) && textMatches(c, part.Body) {
						return
					}
				}
				push(n)
			})
		}
	case "id":
		for _, r := range roots {
			walkElements(r, func(n *html.Node) {
				if v, _ := getAttr(n, "id"); v == part.Body {
					push(n)
				}
			})
		}
	case "internal:testid", "data-testid":
		id, _ := unquote(part.Body)
		for _, r := range roots {
			walkElements(r, func(n *html.Node) {
				if v, ok := getAttr(n, "data-testid"); ok && v == id {
					push(n)
				}
			})
		}
	case "nth":
		i, err := strconv.Atoi(strings.TrimSpace(part.Body))
		if err != nil {
			return nil, fmt.Errorf("invalid nth index %q", part.Body)
		}
		if i < 0 {
			i += len(roots)
		}
		if i >= 0 && i < len(roots) {
			out = append(out, roots[i])
		}
	case "internal:has-text":
		return filter(func(n *html.Node) bool { return textMatches(n, part.Body) }), nil
	case "internal:has-not-text":
		return filter(func(n *html.Node) bool { return !textMatches(n, part.Body) }), nil
	case "internal:has", "internal:has-not":
		var nested host.SelectorArg
		if err := json.Unmarshal([]byte(part.Body), &nested); err != nil {
			return nil, fmt.Errorf("invalid nested selector %q: %w", part.Body, err)
		}
		var qerr error
		res := filter(func(n *html.Node) bool {
			found, err := d.query(w, n, nested)
			if err != nil {
				qerr = err
			}
			return (len(found) > 0) == (part.Name == "internal:has")
		})
		return res, qerr
	case "visible":
		return filter(func(n *html.Node) bool { return isVisible(n) == (part.Body == "true") }), nil
	case "aria-ref":
		if n, ok := w.refs[part.Body]; ok && isConnected(n, d.root) {
			out = append(out, n)
		}
	default:
		return nil, &unsupportedEngineError{engine: part.Name}
	}
	return out, nil
}

// evaluateXPath evaluates the subset of XPath made of // and / steps with
// tag names, * and [n], [@attr] or [@attr='v'] predicates.
func evaluateXPath(root *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)
	if xpath == "" || xpath == "." {
		return nil
	}
	current := []*html.Node{root}
	for xpath != "" {
		descendant := false
		switch {
		case strings.HasPrefix(xpath, ".//"):
			descendant, xpath = true, xpath[3:]
		case strings.HasPrefix(xpath, "//"):
			descendant, xpath = true, xpath[2:]
		case strings.HasPrefix(xpath, "./"):
			xpath = xpath[2:]
		case strings.HasPrefix(xpath, "/"):
			xpath = xpath[1:]
		}
		step := xpath
		if i := strings.IndexByte(xpath, '/'); i >= 0 {
			step, xpath = xpath[:i], xpath[i:]
		} else {
			xpath = ""
		}
		tag, pred := parseXPathStep(step)

		var next []*html.Node
		for _, parent := range current {
			visit := func(n *html.Node) {
				if matchesXPathStep(n, tag, pred) && !slices.Contains(next, n) {
					next = append(next, n)
				}
			}
			if descendant {
				walkElements(parent, visit)
				continue
			}
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				visit(c)
			}
		}
		current = next
	}
	return current
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	position  int // 1-based
}

// parseXPathStep parses "div", "div[@class='x']" and "div[2]".
func parseXPathStep(step string) (string, *xpathPredicate) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 {
		return step, nil
	}

	tag := step[:idx]
	predStr := strings.TrimRight(step[idx+1:], "]")
	pred := &xpathPredicate{}

	if n, err := strconv.Atoi(predStr); err == nil {
		pred.position = n
		return tag, pred
	}
	if strings.HasPrefix(predStr, "@") {
		attrExpr := predStr[1:]
		if eqIdx := strings.IndexByte(attrExpr, '='); eqIdx >= 0 {
			pred.attrName = attrExpr[:eqIdx]
			pred.attrValue = strings.Trim(attrExpr[eqIdx+1:], `'"`)
		} else {
			pred.attrName = attrExpr
		}
		return tag, pred
	}
	return tag, nil
}

func matchesXPathStep(n *html.Node, tag string, pred *xpathPredicate) bool {
	if !isElement(n) {
		return false
	}
	if tag != "*" && n.Data != strings.ToLower(tag) {
		return false
	}
	if pred == nil {
		return true
	}
	if pred.attrName != "" {
		val, ok := getAttr(n, pred.attrName)
		if pred.attrValue != "" {
			return val == pred.attrValue
		}
		return ok
	}
	if pred.position > 0 && n.Parent != nil {
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if isElement(s) && s.Data == n.Data {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}
	return true
}
