package htmlhost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/liuxd6825/tabpilot/host"
)

// call is an injected call being answered in a world of a document.
type call struct {
	*host.WireCall
	t *tab
	f *frame
	d *document
	w *world
}

// Inject answers a page function call the way the page script would.
func (h *Host) Inject(ctx context.Context, target host.ScriptTarget, c host.Call) (*host.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !target.World.Valid() {
		return nil, fmt.Errorf("unknown world %q", target.World)
	}
	wc, err := host.DecodeCall(c)
	if err != nil {
		return nil, err
	}
	if !wc.Function.Valid() {
		return nil, fmt.Errorf("unknown page function %q", wc.Function)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, f, err := h.frameLocked(target.Target, target.Frame)
	if err != nil {
		return nil, err
	}
	cl := &call{WireCall: wc, t: t, f: f, d: f.doc, w: f.doc.worlds[target.World]}

	res, err := h.dispatchLocked(cl)
	var uerr *unsupportedEngineError
	if errors.As(err, &uerr) {
		return host.ValueResult("error:unsupportedengine:" + uerr.engine)
	}
	return res, err
}

func value(v any) (*host.Result, error) {
	return host.ValueResult(v)
}

func done() (*host.Result, error) {
	return host.ValueResult("done")
}

func domError(s string) (*host.Result, error) {
	return host.ValueResult("error:" + s)
}

func (c *call) handle(n *html.Node) *host.Result {
	return &host.Result{Handle: c.w.registry.HandleFor(n)}
}

// node resolves the node argument i. It returns nil for unknown, released
// and detached handles.
func (c *call) node(i int) (*html.Node, error) {
	ref, err := c.HandleArg(i)
	if err != nil || ref == "" {
		return nil, err
	}
	n, ok := c.w.registry.NodeFor(ref)
	if !ok {
		return nil, nil
	}
	return n, nil
}

// root resolves the optional query root argument i, defaulting to the
// document.
func (c *call) root(i int) (*html.Node, bool, error) {
	ref, err := c.HandleArg(i)
	if err != nil {
		return nil, false, err
	}
	if ref == "" {
		return c.d.root, true, nil
	}
	n, ok := c.w.registry.NodeFor(ref)
	return n, ok, nil
}

func (c *call) str(i int) (string, error) {
	var s string
	err := c.Arg(i, &s)
	return s, err
}

func (h *Host) dispatchLocked(c *call) (*host.Result, error) { //nolint:gocyclo,cyclop,funlen
	switch c.Function {
	case host.OpPing:
		return value(true)
	case host.OpAnnounce:
		h.publishReady(c.t, c.f, c.d)
		return done()
	case host.OpDocument:
		return c.handle(c.d.root), nil
	case host.OpQuerySelector:
		return h.querySelector(c)
	case host.OpQuerySelectorAll:
		root, ok, err := c.root(0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return domError("notconnected")
		}
		var sel host.SelectorArg
		if err := c.Arg(1, &sel); err != nil {
			return nil, err
		}
		found, err := c.d.query(c.w, root, sel)
		if err != nil {
			return nil, err
		}
		res := &host.Result{Handles: make([]string, 0, len(found))}
		for _, n := range found {
			res.Handles = append(res.Handles, c.w.registry.HandleFor(n))
		}
		return res, nil
	case host.OpQueryCount:
		root, ok, err := c.root(0)
		if err != nil || !ok {
			return value(0)
		}
		var sel host.SelectorArg
		if err := c.Arg(1, &sel); err != nil {
			return nil, err
		}
		found, err := c.d.query(c.w, root, sel)
		if err != nil {
			return nil, err
		}
		return value(len(found))
	case host.OpRelease:
		ref, err := c.str(0)
		if err != nil {
			return nil, err
		}
		return value(c.w.registry.Release(ref))
	case host.OpBoundingBox:
		n, err := c.node(0)
		if err != nil || n == nil {
			return value(nil)
		}
		r := c.d.box(n)
		r.X -= c.d.scrollX
		r.Y -= c.d.scrollY
		return value(r)
	case host.OpContentFrame:
		n, err := c.node(0)
		if err != nil || n == nil {
			return value(nil)
		}
		if f := h.frameOfOwnerLocked(c.t, n); f != nil {
			return value(host.ContentFrame{FrameID: f.id})
		}
		return value(nil)
	case host.OpNavigate:
		raw, err := c.str(0)
		if err != nil {
			return nil, err
		}
		u, err := c.d.url.Parse(raw)
		if err != nil {
			return domError("invalidurl")
		}
		h.navigateLocked(c.t, c.f, u, true)
		return done()
	case host.OpReload:
		h.loadLocked(c.t, c.f, c.d.url)
		return done()
	case host.OpHistoryBack, host.OpHistoryForward:
		step := -1
		if c.Function == host.OpHistoryForward {
			step = 1
		}
		i := c.t.histIdx + step
		if c.f.id != host.MainFrameID || i < 0 || i >= len(c.t.history) {
			return domError("nohistory")
		}
		c.t.histIdx = i
		main := c.t.frames[host.MainFrameID]
		h.navigateLocked(c.t, main, c.t.history[i], false)
		return done()
	case host.OpPageMetrics:
		return value(c.d.metrics())
	case host.OpScrollTo:
		var x, y float64
		if err := c.Arg(0, &x); err != nil {
			return nil, err
		}
		if err := c.Arg(1, &y); err != nil {
			return nil, err
		}
		return value(c.d.scrollTo(x, y))
	case host.OpContent:
		return value(c.d.content())
	case host.OpTitle:
		return value(c.d.title())
	case host.OpURL:
		return value(c.d.url.String())
	case host.OpSnapshot:
		prefix, err := c.str(0)
		if err != nil {
			return nil, err
		}
		return value(c.d.snapshot(c.w, prefix))
	}

	n, err := c.node(0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return domError("notconnected")
	}
	return h.nodeOpLocked(c, n)
}

func (h *Host) querySelector(c *call) (*host.Result, error) {
	root, ok, err := c.root(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return domError("notconnected")
	}
	var sel host.SelectorArg
	if err := c.Arg(1, &sel); err != nil {
		return nil, err
	}
	var strict bool
	if err := c.Arg(2, &strict); err != nil {
		return nil, err
	}
	found, err := c.d.query(c.w, root, sel)
	if err != nil {
		return nil, err
	}
	if strict && len(found) > 1 {
		return domError(fmt.Sprintf("strictmodeviolation:%d", len(found)))
	}
	if len(found) == 0 {
		return value(nil)
	}
	return c.handle(found[0]), nil
}

// nodeOpLocked answers the page functions taking a node as first argument.
func (h *Host) nodeOpLocked(c *call, n *html.Node) (*host.Result, error) { //nolint:gocyclo,cyclop,funlen
	d := c.d
	switch c.Function {
	case host.OpDescribe:
		return value(host.NodeDescription{TagName: tagName(n), Preview: describe(n)})
	case host.OpCheckElementState:
		state, err := c.str(1)
		if err != nil {
			return nil, err
		}
		return checkState(n, state)
	case host.OpScrollIntoView:
		if !isVisible(n) {
			return domError("notvisible")
		}
		r := d.box(n)
		d.scrollTo(r.X+r.Width/2-float64(d.viewport.Width)/2, r.Y+r.Height/2-float64(d.viewport.Height)/2)
		return done()
	case host.OpClick:
		var arg host.ClickArg
		if err := c.Arg(1, &arg); err != nil {
			return nil, err
		}
		count := max(arg.ClickCount, 1)
		for range count {
			h.clickLocked(c, n)
			if d != c.f.doc {
				// The click navigated away.
				return done()
			}
		}
		if count == 2 {
			d.record("dblclick", n)
		}
		return done()
	case host.OpHover:
		d.record("mouseover", n)
		d.record("mouseenter", n)
		return done()
	case host.OpFocus:
		d.focused = n
		d.record("focus", n)
		return done()
	case host.OpFill:
		v, err := c.str(1)
		if err != nil {
			return nil, err
		}
		if !fillable(n) {
			return domError("notfillableelement")
		}
		setInputValue(n, v)
		d.record("input", n)
		d.record("change", n)
		return done()
	case host.OpType:
		v, err := c.str(1)
		if err != nil {
			return nil, err
		}
		switch {
		case isContentEditable(n), n.DataAtom == atom.Textarea:
			setText(n, textContent(n)+v)
		case n.DataAtom == atom.Input:
			setAttr(n, "value", inputValue(n)+v)
		default:
			return domError("notfillableelement")
		}
		d.record("input", n)
		return done()
	case host.OpPress:
		key, err := c.str(1)
		if err != nil {
			return nil, err
		}
		d.record("keydown:"+key, n)
		d.record("keyup:"+key, n)
		if key == "Enter" && n.DataAtom == atom.Input {
			if u := d.formSubmission(n); u != nil {
				h.navigateLocked(c.t, c.f, u, true)
			}
		}
		return done()
	case host.OpSetChecked:
		var checked bool
		if err := c.Arg(1, &checked); err != nil {
			return nil, err
		}
		if !isCheckable(n) {
			return domError("notcheckbox")
		}
		if isChecked(n) != checked {
			h.clickLocked(c, n)
		}
		return done()
	case host.OpSelectOption:
		var values []string
		if err := c.Arg(1, &values); err != nil {
			return nil, err
		}
		if n.DataAtom != atom.Select {
			return domError("notselect")
		}
		selected := []string{}
		for _, o := range options(n).Nodes {
			if slices.Contains(values, optionValue(o)) || slices.Contains(values, optionLabel(o)) {
				setAttr(o, "selected", "")
				selected = append(selected, optionValue(o))
			} else {
				removeAttr(o, "selected")
			}
		}
		d.record("input", n)
		d.record("change", n)
		return value(selected)
	case host.OpSetInputFiles:
		var files []host.FilePayload
		if err := c.Arg(1, &files); err != nil {
			return nil, err
		}
		if n.DataAtom != atom.Input || inputType(n) != "file" {
			return domError("notfileinput")
		}
		if len(files) > 1 && !hasAttr(n, "multiple") {
			return domError("nonmultiple")
		}
		for _, f := range files {
			if _, err := base64.StdEncoding.DecodeString(f.Buffer); err != nil {
				return nil, fmt.Errorf("decoding file %q: %w", f.Name, err)
			}
		}
		d.files[n] = files
		d.record("input", n)
		d.record("change", n)
		return done()
	case host.OpDispatchEvent:
		typ, err := c.str(1)
		if err != nil {
			return nil, err
		}
		d.record(typ, n)
		return done()
	case host.OpGetAttribute:
		name, err := c.str(1)
		if err != nil {
			return nil, err
		}
		if v, ok := getAttr(n, name); ok {
			return value(v)
		}
		return value(nil)
	case host.OpTextContent:
		if n.Type == html.DocumentNode {
			return value(nil)
		}
		return value(textContent(n))
	case host.OpInnerText:
		return value(innerText(n))
	case host.OpInnerHTML:
		return value(innerHTML(n))
	case host.OpInputValue:
		switch n.DataAtom {
		case atom.Input:
			if files := d.files[n]; len(files) > 0 {
				return value(`C:\fakepath\` + files[0].Name)
			}
			return value(inputValue(n))
		case atom.Textarea, atom.Select:
			return value(inputValue(n))
		}
		return domError("notinput")
	}
	return nil, fmt.Errorf("page function %q isn't implemented", c.Function)
}

func checkState(n *html.Node, state string) (*host.Result, error) {
	switch state {
	case "attached":
		return value(true)
	case "detached":
		return value(false)
	case "visible":
		return value(isVisible(n))
	case "hidden":
		return value(!isVisible(n))
	case "enabled":
		return value(isEnabled(n))
	case "disabled":
		return value(!isEnabled(n))
	case "editable":
		return value(isEditable(n))
	case "stable":
		return value(true)
	case "checked", "unchecked":
		if !isCheckable(n) {
			return domError("notcheckbox")
		}
		return value(isChecked(n) == (state == "checked"))
	}
	return domError("unknownstate:" + state)
}

func fillable(n *html.Node) bool {
	if isContentEditable(n) || n.DataAtom == atom.Textarea {
		return true
	}
	if n.DataAtom != atom.Input {
		return false
	}
	switch inputType(n) {
	case "checkbox", "radio", "file", "button", "submit", "reset", "image":
		return false
	}
	return true
}

// clickLocked runs the activation behavior of n: toggling checkboxes,
// following links and submitting forms.
func (h *Host) clickLocked(c *call, n *html.Node) {
	d := c.d
	d.record("click", n)
	if !isEnabled(n) {
		return
	}
	if n.DataAtom == atom.Input && isCheckable(n) {
		if inputType(n) == "radio" {
			setChecked(n, true)
		} else {
			setChecked(n, !isChecked(n))
		}
		d.record("input", n)
		d.record("change", n)
		return
	}
	if a := closest(n, atom.A); a != nil {
		href, ok := getAttr(a, "href")
		if !ok {
			return
		}
		u, err := d.url.Parse(href)
		if err != nil {
			return
		}
		if hasAttr(a, "download") {
			h.downloadLocked(u)
			return
		}
		h.navigateLocked(c.t, c.f, u, true)
		return
	}
	if isSubmitter(n) {
		if u := d.formSubmission(n); u != nil {
			h.navigateLocked(c.t, c.f, u, true)
		}
	}
}

// String describes the targets and frames of the host, for debugging.
func (h *Host) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	for _, id := range slices.Sorted(maps.Keys(h.tabs)) {
		t := h.tabs[id]
		fmt.Fprintf(&b, "target %d\n", id)
		for _, fid := range slices.Sorted(maps.Keys(t.frames)) {
			f := t.frames[fid]
			fmt.Fprintf(&b, "  frame %d parent:%d doc:%s url:%s\n", f.id, f.parent, f.doc.id, f.doc.url)
		}
	}
	return b.String()
}
