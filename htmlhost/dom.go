package htmlhost

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// rowHeight is the height of the synthetic layout rows elements without a
// data-box attribute are placed in.
const rowHeight = 20

func isElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

func selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// tagName returns the upper case tag name of an element, like nodeName.
func tagName(n *html.Node) string {
	switch n.Type {
	case html.DocumentNode:
		return "#document"
	case html.TextNode:
		return "#text"
	}
	return strings.ToUpper(n.Data)
}

func describe(n *html.Node) string {
	if !isElement(n) {
		return tagName(n)
	}
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, k := range []string{"id", "class", "name", "type"} {
		if v, ok := getAttr(n, k); ok && v != "" {
			b.WriteString(" " + k + `="` + v + `"`)
		}
	}
	b.WriteString(">")
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textContent(n *html.Node) string {
	return selection(n).Text()
}

// innerText is the text of the visible descendants of n.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch {
		case c.Type == html.TextNode:
			b.WriteString(c.Data)
		case isElement(c) && !isVisible(c):
			return
		case isElement(c) && c.DataAtom == atom.Br:
			b.WriteString("\n")
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func elementText(n *html.Node) string {
	return collapseSpace(innerText(n))
}

func innerHTML(n *html.Node) string {
	s, err := selection(n).Html()
	if err != nil {
		return ""
	}
	return s
}

var invisibleTags = map[atom.Atom]bool{ //nolint:gochecknoglobals
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Title:    true,
	atom.Meta:     true,
	atom.Link:     true,
	atom.Template: true,
	atom.Noscript: true,
}

func styleHides(n *html.Node) bool {
	style, ok := getAttr(n, "style")
	if !ok {
		return false
	}
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// isVisible reports whether n would render with a non-empty box: it and
// its ancestors are neither hidden nor display:none.
func isVisible(n *html.Node) bool {
	if !isElement(n) {
		return false
	}
	if n.DataAtom == atom.Input {
		if t, _ := getAttr(n, "type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}
	for a := n; isElement(a); a = a.Parent {
		if invisibleTags[a.DataAtom] || hasAttr(a, "hidden") || styleHides(a) {
			return false
		}
	}
	return true
}

func isEnabled(n *html.Node) bool {
	if hasAttr(n, "disabled") {
		return false
	}
	for a := n.Parent; isElement(a); a = a.Parent {
		if a.DataAtom == atom.Fieldset && hasAttr(a, "disabled") {
			return false
		}
	}
	return true
}

func isContentEditable(n *html.Node) bool {
	v, ok := getAttr(n, "contenteditable")
	return ok && v != "false"
}

func isReadOnly(n *html.Node) bool {
	return hasAttr(n, "readonly")
}

func inputType(n *html.Node) string {
	t, _ := getAttr(n, "type")
	if t == "" {
		return "text"
	}
	return strings.ToLower(t)
}

func isEditable(n *html.Node) bool {
	if !isEnabled(n) {
		return false
	}
	if isContentEditable(n) {
		return true
	}
	switch n.DataAtom {
	case atom.Textarea, atom.Select:
		return !isReadOnly(n)
	case atom.Input:
		return !isReadOnly(n)
	}
	return false
}

func isCheckable(n *html.Node) bool {
	if n.DataAtom == atom.Input {
		t := inputType(n)
		if t == "checkbox" || t == "radio" {
			return true
		}
	}
	role, _ := getAttr(n, "role")
	return role == "checkbox" || role == "radio"
}

func isChecked(n *html.Node) bool {
	if n.DataAtom == atom.Input {
		return hasAttr(n, "checked")
	}
	v, _ := getAttr(n, "aria-checked")
	return v == "true"
}

func setChecked(n *html.Node, checked bool) {
	if n.DataAtom != atom.Input {
		setAttr(n, "aria-checked", strconv.FormatBool(checked))
		return
	}
	if !checked {
		removeAttr(n, "checked")
		return
	}
	if inputType(n) == "radio" {
		if name, ok := getAttr(n, "name"); ok {
			root := n
			for root.Parent != nil {
				root = root.Parent
			}
			selection(root).Find(`input[type="radio"]`).Each(func(_ int, s *goquery.Selection) {
				if other, _ := s.Attr("name"); other == name {
					removeAttr(s.Get(0), "checked")
				}
			})
		}
	}
	setAttr(n, "checked", "")
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

// inputValue returns the value of a form control.
func inputValue(n *html.Node) string {
	switch n.DataAtom {
	case atom.Textarea:
		return textContent(n)
	case atom.Select:
		var v string
		options(n).EachWithBreak(func(i int, s *goquery.Selection) bool {
			if i == 0 {
				v = optionValue(s.Get(0))
			}
			if _, ok := s.Attr("selected"); ok {
				v = optionValue(s.Get(0))
				return false
			}
			return true
		})
		return v
	}
	v, _ := getAttr(n, "value")
	return v
}

func setInputValue(n *html.Node, v string) {
	if n.DataAtom == atom.Textarea || isContentEditable(n) {
		setText(n, v)
		return
	}
	setAttr(n, "value", v)
}

func options(n *html.Node) *goquery.Selection {
	return selection(n).Find("option")
}

func optionValue(n *html.Node) string {
	if v, ok := getAttr(n, "value"); ok {
		return v
	}
	return collapseSpace(textContent(n))
}

func optionLabel(n *html.Node) string {
	if v, ok := getAttr(n, "label"); ok {
		return v
	}
	return collapseSpace(textContent(n))
}

// isConnected reports whether n is still part of the tree of root.
func isConnected(n, root *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if a == root {
			return true
		}
	}
	return false
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	if isElement(root) && root.DataAtom == a {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, a); n != nil {
			return n
		}
	}
	return nil
}

// closest returns the nearest inclusive ancestor of n with tag a.
func closest(n *html.Node, a atom.Atom) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if isElement(p) && p.DataAtom == a {
			return p
		}
	}
	return nil
}

func walkElements(root *html.Node, fn func(*html.Node)) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c) {
			fn(c)
		}
		walkElements(c, fn)
	}
}
