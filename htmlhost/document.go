/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package htmlhost

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/liuxd6825/tabpilot/host"
)

// Ready states of a document, as document.readyState reports them.
const (
	readyStateLoading     = "loading"
	readyStateInteractive = "interactive"
	readyStateComplete    = "complete"
)

type tab struct {
	id        host.TargetID
	frames    map[host.FrameID]*frame
	nextFrame host.FrameID

	history []*url.URL
	histIdx int
}

type frame struct {
	id     host.FrameID
	parent host.FrameID
	// owner is the iframe element of the frame in the parent document.
	owner *html.Node
	doc   *document
}

// world is the state one page script keeps in a document.
type world struct {
	registry *host.Registry[html.Node]
	refs     map[string]*html.Node
}

type document struct {
	id         string
	url        *url.URL
	root       *html.Node
	worlds     map[host.World]*world
	readyState string

	scrollX, scrollY float64
	viewport         Viewport

	focused *html.Node
	files   map[*html.Node][]host.FilePayload
	events  []string
}

func newDocument(id string, u *url.URL, root *html.Node, vp Viewport) *document {
	d := &document{
		id:         id,
		url:        u,
		root:       root,
		readyState: readyStateLoading,
		viewport:   vp,
		files:      make(map[*html.Node][]host.FilePayload),
	}
	attached := func(n *html.Node) bool { return isConnected(n, d.root) }
	d.worlds = map[host.World]*world{
		host.MainWorld:    {registry: host.NewRegistry("m", attached), refs: map[string]*html.Node{}},
		host.UtilityWorld: {registry: host.NewRegistry("u", attached), refs: map[string]*html.Node{}},
	}
	return d
}

func (d *document) record(typ string, n *html.Node) {
	d.events = append(d.events, typ+" "+describe(n))
}

func (d *document) title() string {
	if t := findFirst(d.root, atom.Title); t != nil {
		return collapseSpace(textContent(t))
	}
	return ""
}

func (d *document) content() string {
	var b bytes.Buffer
	if err := html.Render(&b, d.root); err != nil {
		return ""
	}
	return b.String()
}

// iframes returns the frame owner elements of the document in order.
func (d *document) iframes() []*html.Node {
	var out []*html.Node
	walkElements(d.root, func(n *html.Node) {
		if n.DataAtom == atom.Iframe || n.DataAtom == atom.Frame {
			out = append(out, n)
		}
	})
	return out
}

// size returns the scrollable size of the document: the data-size="WxH"
// attribute of the body, or what the laid out elements need.
func (d *document) size() (int, int) {
	if body := findFirst(d.root, atom.Body); body != nil {
		if v, ok := getAttr(body, "data-size"); ok {
			if w, h, ok := parseSize(v); ok {
				return max(w, d.viewport.Width), max(h, d.viewport.Height)
			}
		}
	}
	w, h := d.viewport.Width, d.viewport.Height
	for _, r := range d.layout() {
		w = max(w, int(r.X+r.Width))
		h = max(h, int(r.Y+r.Height))
	}
	return w, h
}

func parseSize(s string) (int, int, bool) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	return w, h, err1 == nil && err2 == nil
}

func parseBox(s string) (host.Rect, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return host.Rect{}, false
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return host.Rect{}, false
		}
		v[i] = f
	}
	return host.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, true
}

// layout places the visible elements of the document. Elements with a
// data-box="x,y,w,h" attribute get that box, the others a full width row
// each, in document order.
func (d *document) layout() map[*html.Node]host.Rect {
	boxes := make(map[*html.Node]host.Rect)
	row := 0
	walkElements(d.root, func(n *html.Node) {
		if !isVisible(n) || n.DataAtom == atom.Html || n.DataAtom == atom.Body {
			return
		}
		if v, ok := getAttr(n, "data-box"); ok {
			if r, ok := parseBox(v); ok {
				boxes[n] = r
				return
			}
		}
		boxes[n] = host.Rect{X: 0, Y: float64(row * rowHeight), Width: float64(d.viewport.Width), Height: rowHeight}
		row++
	})
	return boxes
}

// box returns the box of n in document coordinates. Invisible elements
// have an empty box.
func (d *document) box(n *html.Node) host.Rect {
	if !isVisible(n) {
		return host.Rect{}
	}
	if n.DataAtom == atom.Html || n.DataAtom == atom.Body {
		w, h := d.size()
		return host.Rect{Width: float64(w), Height: float64(h)}
	}
	return d.layout()[n]
}

func (d *document) scrollTo(x, y float64) host.Point {
	w, h := d.size()
	d.scrollX = min(max(0, x), float64(max(0, w-d.viewport.Width)))
	d.scrollY = min(max(0, y), float64(max(0, h-d.viewport.Height)))
	return host.Point{X: d.scrollX, Y: d.scrollY}
}

func (d *document) metrics() host.PageMetrics {
	w, h := d.size()
	return host.PageMetrics{
		ScrollWidth:      w,
		ScrollHeight:     h,
		ViewportWidth:    d.viewport.Width,
		ViewportHeight:   d.viewport.Height,
		DevicePixelRatio: d.viewport.DevicePixelRatio,
		ScrollX:          d.scrollX,
		ScrollY:          d.scrollY,
	}
}

// snapshot outlines the interactive elements of the document and records
// their refs in w.
func (d *document) snapshot(w *world, refPrefix string) string {
	w.refs = make(map[string]*html.Node)
	n := 0
	var lines []string
	var walk func(el *html.Node, depth int)
	walk = func(el *html.Node, depth int) {
		for c := el.FirstChild; c != nil; c = c.NextSibling {
			if !isElement(c) || !isVisible(c) {
				continue
			}
			role, _ := getAttr(c, "role")
			if !snapshotted(c) && role == "" {
				walk(c, depth)
				continue
			}
			n++
			ref := "e" + strconv.Itoa(n)
			w.refs[ref] = c
			name, _ := getAttr(c, "aria-label")
			if name == "" {
				name = elementText(c)
			}
			if name == "" {
				name, _ = getAttr(c, "placeholder")
			}
			if r := []rune(name); len(r) > 80 {
				name = string(r[:80])
			}
			if role == "" {
				role = c.Data
			}
			lines = append(lines, fmt.Sprintf(`%s- %s "%s" [ref=%s%s]`, strings.Repeat("  ", depth), role, name, refPrefix, ref))
			walk(c, depth+1)
		}
	}
	if de := findFirst(d.root, atom.Html); de != nil {
		walk(de, 0)
	}
	return strings.Join(lines, "\n")
}

func snapshotted(n *html.Node) bool {
	switch n.DataAtom {
	case atom.A, atom.Button, atom.Input, atom.Select, atom.Textarea, atom.Iframe, atom.Frame,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

// formSubmission returns the URL submitting the form of n navigates to, or
// nil if n isn't in a form.
func (d *document) formSubmission(n *html.Node) *url.URL {
	form := closest(n, atom.Form)
	if form == nil {
		return nil
	}
	action, _ := getAttr(form, "action")
	u, err := d.url.Parse(action)
	if err != nil {
		return nil
	}
	q := url.Values{}
	walkElements(form, func(c *html.Node) {
		name, ok := getAttr(c, "name")
		if !ok || name == "" || !isEnabled(c) {
			return
		}
		switch c.DataAtom {
		case atom.Input:
			switch inputType(c) {
			case "checkbox", "radio":
				if isChecked(c) {
					v, ok := getAttr(c, "value")
					if !ok {
						v = "on"
					}
					q.Add(name, v)
				}
			case "submit", "button", "reset", "image", "file":
			default:
				q.Add(name, inputValue(c))
			}
		case atom.Textarea, atom.Select:
			q.Add(name, inputValue(c))
		}
	})
	u.RawQuery = q.Encode()
	return u
}

func isSubmitter(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		t, ok := getAttr(n, "type")
		return !ok || strings.EqualFold(t, "submit")
	case atom.Input:
		t := inputType(n)
		return t == "submit" || t == "image"
	}
	return false
}
