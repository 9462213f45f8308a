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

package common

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
	"github.com/liuxd6825/tabpilot/trace"
)

// Ensure frame implements the Frame interface.
var _ api.Frame = &Frame{}

var errDocumentChanged = errors.New("document changed")

// DocumentInfo identifies a document committed in a frame.
type DocumentInfo struct {
	documentID string
	url        string
}

// Frame represents a frame in an HTML document.
type Frame struct {
	BaseEventEmitter

	ctx     context.Context
	cancel  context.CancelCauseFunc
	page    *Page
	manager *FrameManager

	parentFrame *Frame

	childFramesMu sync.RWMutex
	childFrames   map[*Frame]bool

	id     host.FrameID
	logger *log.Logger

	mu              sync.RWMutex
	url             string
	currentDocument *DocumentInfo
	lifecycle       lifecycleSet
	detached        bool
	contexts        map[host.World]*ExecutionContext

	contextGroup singleflight.Group
}

// NewFrame creates a new HTML document frame.
func NewFrame(ctx context.Context, m *FrameManager, parentFrame *Frame, frameID host.FrameID, logger *log.Logger) *Frame {
	logger.Debugf("NewFrame", "tid:%d fid:%d pfid:%d", m.page.targetID, frameID, parentFrameID(parentFrame))

	parentCtx := ctx
	if parentFrame != nil {
		parentCtx = parentFrame.ctx
	}
	fctx, cancel := context.WithCancelCause(parentCtx)

	return &Frame{
		BaseEventEmitter: NewBaseEventEmitter(fctx),
		ctx:              fctx,
		cancel:           cancel,
		page:             m.page,
		manager:          m,
		parentFrame:      parentFrame,
		childFrames:      make(map[*Frame]bool),
		id:               frameID,
		logger:           logger,
		contexts:         make(map[host.World]*ExecutionContext),
	}
}

func parentFrameID(f *Frame) host.FrameID {
	if f == nil {
		return host.NoFrame
	}
	return f.id
}

func (f *Frame) addChildFrame(child *Frame) {
	f.childFramesMu.Lock()
	defer f.childFramesMu.Unlock()
	f.childFrames[child] = true
}

func (f *Frame) removeChildFrame(child *Frame) {
	f.childFramesMu.Lock()
	defer f.childFramesMu.Unlock()
	delete(f.childFrames, child)
}

func (f *Frame) childFramesSorted() []*Frame {
	f.childFramesMu.RLock()
	children := make([]*Frame, 0, len(f.childFrames))
	for c := range f.childFrames {
		children = append(children, c)
	}
	f.childFramesMu.RUnlock()

	sort.Slice(children, func(i, j int) bool { return children[i].id < children[j].id })
	return children
}

func (f *Frame) documentID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.documentIDLocked()
}

func (f *Frame) documentIDLocked() string {
	if f.currentDocument == nil {
		return ""
	}
	return f.currentDocument.documentID
}

func (f *Frame) hasLifecycle(l LifecycleEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lifecycle.has(l)
}

// destroyContextsLocked destroys the execution contexts of the current
// document and returns the worlds they belonged to.
func (f *Frame) destroyContextsLocked() []string {
	worlds := make([]string, 0, len(f.contexts))
	for w, ec := range f.contexts {
		ec.destroy()
		worlds = append(worlds, string(w))
	}
	sort.Strings(worlds)
	f.contexts = make(map[host.World]*ExecutionContext)
	return worlds
}

// onCommit switches the frame to a new document. Contexts of the previous
// document are destroyed and a single context destroyed event is emitted
// for them.
func (f *Frame) onCommit(docID, url string) {
	f.logger.Debugf("Frame:onCommit", "fid:%d doc:%q url:%q", f.id, docID, url)

	f.mu.Lock()
	prev := f.documentIDLocked()
	doc := &DocumentInfo{documentID: docID, url: url}
	f.currentDocument = doc
	f.url = url
	f.lifecycle = 0
	worlds := f.destroyContextsLocked()
	f.mu.Unlock()

	if prev != "" {
		f.manager.metrics.ContextsDestroyed.Inc()
		f.emit(EventFrameContextDestroyed, &ContextDestroyedEvent{Frame: f, DocumentID: prev, Worlds: worlds})
	}
	f.emit(EventFrameNavigation, &FrameNavigationEvent{newDocument: doc, url: url})
}

func (f *Frame) onSameDocumentNavigation(url string) {
	f.logger.Debugf("Frame:onSameDocumentNavigation", "fid:%d url:%q", f.id, url)

	f.mu.Lock()
	f.url = url
	f.mu.Unlock()

	f.emit(EventFrameNavigation, &FrameNavigationEvent{url: url})
}

func (f *Frame) onLifecycleEvent(l LifecycleEvent) {
	f.mu.Lock()
	f.lifecycle = f.lifecycle.with(l)
	f.mu.Unlock()

	f.emit(EventFrameAddLifecycle, l)
}

// detach marks the frame as detached and aborts everything running in it
// with err.
func (f *Frame) detach(err error) {
	f.logger.Debugf("Frame:detach", "fid:%d err:%v", f.id, err)

	f.mu.Lock()
	if f.detached {
		f.mu.Unlock()
		return
	}
	f.detached = true
	f.destroyContextsLocked()
	f.mu.Unlock()

	f.emit(EventFrameDetached, f)
	f.cancel(err)
	if f.parentFrame != nil {
		f.parentFrame.removeChildFrame(f)
	}
}

// executionContext returns the bridge to world of the current document,
// creating it once the document is ready.
func (f *Frame) executionContext(p *Progress, world host.World) (*ExecutionContext, error) {
	for {
		if err := f.manager.barriers.WaitForReady(p, f.page.targetID, f.id); err != nil {
			return nil, err
		}

		f.mu.RLock()
		detached, docID, ec := f.detached, f.documentIDLocked(), f.contexts[world]
		f.mu.RUnlock()

		if detached {
			return nil, ErrFrameDetached
		}
		if ec != nil && !ec.destroyed() {
			return ec, nil
		}

		ch := f.contextGroup.DoChan(string(world)+"@"+docID, func() (any, error) {
			return f.createExecutionContext(world, docID)
		})
		res, err := Wait(p, ch)
		if err != nil {
			return nil, err
		}
		if errors.Is(res.Err, errDocumentChanged) {
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}
		ec, _ = res.Val.(*ExecutionContext)
		return ec, nil
	}
}

// createExecutionContext polls the page script of world until it answers.
// A ready document whose script never answers is a configuration error and
// isn't retried.
func (f *Frame) createExecutionContext(world host.World, docID string) (*ExecutionContext, error) {
	p := NewProgress(f.ctx, "frame.createExecutionContext", contextCreateTimeout, f.logger)
	defer p.Close()

	ec := NewExecutionContext(f.ctx, f.manager.host, f, world, docID, f.logger)
	for i := 0; i < contextPollAttempts; i++ {
		if i > 0 {
			if err := p.Sleep(contextPollInterval); err != nil {
				ec.destroy()
				return nil, err
			}
		}
		var ok bool
		err := ec.EvalInto(p, &ok, host.OpPing)
		if errors.Is(err, ErrContextDestroyed) {
			continue
		}
		if err != nil {
			ec.destroy()
			return nil, err
		}

		f.mu.Lock()
		if f.documentIDLocked() != docID || f.detached {
			f.mu.Unlock()
			ec.destroy()
			return nil, errDocumentChanged
		}
		f.contexts[world] = ec
		f.mu.Unlock()

		return ec, nil
	}
	ec.destroy()

	return nil, fmt.Errorf("%w: %s world of frame %d after %d attempts",
		ErrContextNotCreated, world, f.id, contextPollAttempts)
}

// startOp starts an operation of this frame. The returned function ends it
// and converts its error.
func (f *Frame) startOp(op string, timeout time.Duration) (*Progress, func(error) error) {
	ctx, span := f.page.browser.tracer.TraceAPICall(f.ctx, f.page.targetID, op)
	p := NewProgress(ctx, op, timeout, f.logger)

	return p, func(err error) error {
		err = p.wrap(err)
		trace.RecordError(span, err)
		span.End()
		p.Close()
		return err
	}
}

func frameCall[T any](f *Frame, op string, timeout time.Duration, fn func(*Progress) (T, error)) (T, error) {
	p, done := f.startOp(op, f.manager.timeoutSettings.timeoutOr(timeout))
	v, err := fn(p)
	return v, done(err)
}

func selectorCall[T any](
	f *Frame, op, selector string, strict bool, timeout time.Duration, fn func(*Progress, *ElementHandle) (T, error),
) (T, error) {
	return frameCall(f, op, timeout, func(p *Progress) (T, error) {
		return retryOnSelector(p, f, selector, strict, func(h *ElementHandle) (T, error) {
			return fn(p, h)
		})
	})
}

func selectorAction(
	f *Frame, op, selector string, strict bool, timeout time.Duration, fn func(*Progress, *ElementHandle) error,
) error {
	_, err := selectorCall(f, op, selector, strict, timeout, func(p *Progress, h *ElementHandle) (struct{}, error) {
		return struct{}{}, fn(p, h)
	})
	return err
}

// navigate runs action and waits for the navigation it starts. The waiter
// is registered before action runs so a fast navigation can't be missed.
func (f *Frame) navigate(p *Progress, waitUntil api.LoadState, glob string, action func() error) (*api.Navigation, error) {
	l, err := ParseLifecycleEvent(waitUntil)
	if err != nil {
		return nil, err
	}
	w, err := f.manager.tracker.newNavWaiter(f.page.targetID, f.id, NavigationWaitOptions{URL: glob, WaitUntil: l})
	if err != nil {
		return nil, err
	}
	defer w.cancel()

	if action != nil {
		// The page script unloads with the old document, so the call may
		// never answer.
		if err := action(); err != nil && !errors.Is(err, ErrContextDestroyed) {
			return nil, err
		}
	}
	ev, err := w.wait(p)
	if err != nil {
		return nil, err
	}
	p.Log("navigated to %q", ev.URL)

	return &api.Navigation{
		URL:          ev.URL,
		DocumentID:   ev.DocumentID,
		SameDocument: ev.Kind == NavigationKindSameDocument,
	}, nil
}

func (f *Frame) navigateWith(op string, opts *api.GotoOptions, call host.Op, args ...any) (*api.Navigation, error) {
	if opts == nil {
		opts = &api.GotoOptions{}
	}
	p, done := f.startOp(op, f.manager.timeoutSettings.navigationTimeoutOr(opts.Timeout))
	nav, err := f.navigate(p, opts.WaitUntil, "", func() error {
		ec, err := f.executionContext(p, host.UtilityWorld)
		if err != nil {
			return err
		}
		_, err = ec.Eval(p, call, args...)
		return err
	})
	if errors.Is(err, ErrNoHistory) {
		return nil, done(nil)
	}
	return nav, done(err)
}

func (f *Frame) waitForLoadState(p *Progress, l LifecycleEvent) error {
	if l == LifecycleEventNetworkIdle {
		return f.manager.barriers.WaitForReady(p, f.page.targetID, f.id)
	}
	if f.hasLifecycle(l) {
		return nil
	}
	return f.manager.tracker.WaitForLifecycle(p, f.page.targetID, f.id, l)
}

// ChildFrames returns a list of child frames.
func (f *Frame) ChildFrames() []api.Frame {
	children := f.childFramesSorted()
	l := make([]api.Frame, 0, len(children))
	for _, c := range children {
		l = append(l, c)
	}
	return l
}

// Content returns the HTML content of the frame.
func (f *Frame) Content() (string, error) {
	return frameCall(f, "frame.content", 0, func(p *Progress) (string, error) {
		ec, err := f.executionContext(p, host.UtilityWorld)
		if err != nil {
			return "", err
		}
		var s string
		err = ec.EvalInto(p, &s, host.OpContent)
		return s, err
	})
}

// Evaluate runs a registered page function in the main world.
func (f *Frame) Evaluate(fn host.Op, args ...any) (any, error) {
	return frameCall(f, "frame.evaluate", 0, func(p *Progress) (any, error) {
		if !fn.Valid() {
			return nil, fmt.Errorf("%w: unknown page function %q", ErrInvalidOption, fn)
		}
		ec, err := f.executionContext(p, host.MainWorld)
		if err != nil {
			return nil, err
		}
		return ec.Eval(p, fn, args...)
	})
}

// Goto navigates the frame to url and waits for the navigation to reach
// opts.WaitUntil. Only http and https URLs are allowed.
func (f *Frame) Goto(u string, opts *api.GotoOptions) (*api.Navigation, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrInvalidOption, u, err)
	}
	if pu.Scheme != "http" && pu.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrDisallowedScheme, u)
	}
	return f.navigateWith("frame.goto", opts, host.OpNavigate, u)
}

// GoBack navigates back in history. It returns nil if there's no entry to
// go back to.
func (f *Frame) GoBack(opts *api.GotoOptions) (*api.Navigation, error) {
	return f.navigateWith("frame.goBack", opts, host.OpHistoryBack)
}

// GoForward navigates forward in history. It returns nil if there's no
// entry to go forward to.
func (f *Frame) GoForward(opts *api.GotoOptions) (*api.Navigation, error) {
	return f.navigateWith("frame.goForward", opts, host.OpHistoryForward)
}

// ID returns the frame id.
func (f *Frame) ID() host.FrameID {
	return f.id
}

// IsDetached returns whether the frame is detached or not.
func (f *Frame) IsDetached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.detached
}

// Page returns page that owns frame.
func (f *Frame) Page() api.Page {
	return f.page
}

// ParentFrame returns the parent frame, if one exists.
func (f *Frame) ParentFrame() api.Frame {
	if f.parentFrame == nil {
		return nil
	}
	return f.parentFrame
}

// Reload reloads the document of the frame.
func (f *Frame) Reload(opts *api.GotoOptions) (*api.Navigation, error) {
	return f.navigateWith("frame.reload", opts, host.OpReload)
}

// Title returns the title of the frame.
func (f *Frame) Title() (string, error) {
	return frameCall(f, "frame.title", 0, func(p *Progress) (string, error) {
		ec, err := f.executionContext(p, host.UtilityWorld)
		if err != nil {
			return "", err
		}
		var s string
		err = ec.EvalInto(p, &s, host.OpTitle)
		return s, err
	})
}

// URL returns the frame URL.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

// WaitForLoadState waits for the given load state to be reached by the
// current document. It returns right away if the state, or a later one,
// was already reached.
func (f *Frame) WaitForLoadState(state api.LoadState, opts *api.WaitForLoadStateOptions) error {
	if opts == nil {
		opts = &api.WaitForLoadStateOptions{}
	}
	l, err := ParseLifecycleEvent(state)
	if err != nil {
		return err
	}
	p, done := f.startOp("frame.waitForLoadState", f.manager.timeoutSettings.navigationTimeoutOr(opts.Timeout))
	return done(f.waitForLoadState(p, l))
}

// WaitForNavigation waits for the next navigation of the frame.
func (f *Frame) WaitForNavigation(opts *api.WaitForNavigationOptions) (*api.Navigation, error) {
	if opts == nil {
		opts = &api.WaitForNavigationOptions{}
	}
	p, done := f.startOp("frame.waitForNavigation", f.manager.timeoutSettings.navigationTimeoutOr(opts.Timeout))
	nav, err := f.navigate(p, opts.WaitUntil, opts.URL, nil)
	return nav, done(err)
}

func (f *Frame) click(op, selector string, strict bool, opts *api.ClickOptions, count int) error {
	if opts == nil {
		opts = &api.ClickOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.click(p, opts, count)
	})
}

func (f *Frame) dispatchEvent(op, selector string, strict bool, typ string, opts *api.BaseOptions) error {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.dispatchEvent(p, typ)
	})
}

func (f *Frame) fill(op, selector string, strict bool, value string, opts *api.FillOptions) error {
	if opts == nil {
		opts = &api.FillOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.fill(p, value, opts)
	})
}

func (f *Frame) focus(op, selector string, strict bool, opts *api.BaseOptions) error {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.focus(p)
	})
}

func (f *Frame) getAttribute(op, selector string, strict bool, name string, opts *api.BaseOptions) (string, bool, error) {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	type attr struct {
		v  string
		ok bool
	}
	a, err := selectorCall(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) (attr, error) {
		v, ok, err := h.getAttribute(p, name)
		return attr{v, ok}, err
	})
	return a.v, a.ok, err
}

func (f *Frame) hover(op, selector string, strict bool, opts *api.HoverOptions) error {
	if opts == nil {
		opts = &api.HoverOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.hover(p, opts)
	})
}

func (f *Frame) stringProp(op, selector string, strict bool, prop host.Op, opts *api.BaseOptions) (string, error) {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	return selectorCall(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) (string, error) {
		return h.stringProp(p, prop)
	})
}

// isState checks state of the element selector resolves to. Visibility is
// checked once: an element that doesn't exist is hidden.
func (f *Frame) isState(op, selector string, strict bool, state string, opts *api.BaseOptions) (bool, error) {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	if state != "visible" && state != "hidden" {
		return selectorCall(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) (bool, error) {
			return h.checkState(p, state)
		})
	}
	return frameCall(f, op, opts.Timeout, func(p *Progress) (bool, error) {
		h, err := f.querySelector(p, selector, strict)
		if err != nil {
			return false, err
		}
		if h == nil {
			return state == "hidden", nil
		}
		defer h.release(p)
		return h.checkState(p, state)
	})
}

func (f *Frame) press(op, selector string, strict bool, key string, opts *api.PressOptions) error {
	if opts == nil {
		opts = &api.PressOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.press(p, key, opts)
	})
}

func (f *Frame) selectOption(
	op, selector string, strict bool, values []string, opts *api.SelectOptionOptions,
) ([]string, error) {
	if opts == nil {
		opts = &api.SelectOptionOptions{}
	}
	return selectorCall(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) ([]string, error) {
		return h.selectOption(p, values, opts)
	})
}

func (f *Frame) setChecked(op, selector string, strict bool, checked bool, opts *api.CheckOptions) error {
	if opts == nil {
		opts = &api.CheckOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.setChecked(p, checked, opts)
	})
}

func (f *Frame) setInputFiles(
	op, selector string, strict bool, files []api.FilePayload, opts *api.SetInputFilesOptions,
) error {
	if opts == nil {
		opts = &api.SetInputFilesOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.setInputFiles(p, files, opts)
	})
}

func (f *Frame) textContent(op, selector string, strict bool, opts *api.BaseOptions) (string, bool, error) {
	if opts == nil {
		opts = &api.BaseOptions{}
	}
	type text struct {
		v  string
		ok bool
	}
	t, err := selectorCall(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) (text, error) {
		v, ok, err := h.textContent(p)
		return text{v, ok}, err
	})
	return t.v, t.ok, err
}

func (f *Frame) typ(op, selector string, strict bool, text string, opts *api.TypeOptions) error {
	if opts == nil {
		opts = &api.TypeOptions{}
	}
	return selectorAction(f, op, selector, strict, opts.Timeout, func(p *Progress, h *ElementHandle) error {
		return h.typ(p, text, opts)
	})
}

func (f *Frame) waitFor(op, selector string, opts *api.WaitForSelectorOptions) (*ElementHandle, error) {
	if opts == nil {
		opts = &api.WaitForSelectorOptions{}
	}
	state, err := ParseDOMElementState(opts.State)
	if err != nil {
		return nil, err
	}
	return frameCall(f, op, opts.Timeout, func(p *Progress) (*ElementHandle, error) {
		return f.waitForSelector(p, selector, state, opts.Strict)
	})
}

// Check clicks the checkbox or radio matching selector unless it's checked.
func (f *Frame) Check(selector string, opts *api.CheckOptions) error {
	return f.setChecked("frame.check", selector, opts != nil && opts.Strict, true, opts)
}

// Click clicks the first element matching selector.
func (f *Frame) Click(selector string, opts *api.ClickOptions) error {
	return f.click("frame.click", selector, opts != nil && opts.Strict, opts, 1)
}

// Dblclick double clicks the first element matching selector.
func (f *Frame) Dblclick(selector string, opts *api.ClickOptions) error {
	return f.click("frame.dblclick", selector, opts != nil && opts.Strict, opts, 2)
}

// DispatchEvent dispatches an event of type typ on the first element
// matching selector.
func (f *Frame) DispatchEvent(selector, typ string, opts *api.BaseOptions) error {
	return f.dispatchEvent("frame.dispatchEvent", selector, opts != nil && opts.Strict, typ, opts)
}

// Fill fills an input element matching selector with value.
func (f *Frame) Fill(selector, value string, opts *api.FillOptions) error {
	return f.fill("frame.fill", selector, opts != nil && opts.Strict, value, opts)
}

// Focus focuses the first element matching selector.
func (f *Frame) Focus(selector string, opts *api.BaseOptions) error {
	return f.focus("frame.focus", selector, opts != nil && opts.Strict, opts)
}

// GetAttribute returns the value of attribute name of the element matching
// selector. ok is false if the attribute isn't set.
func (f *Frame) GetAttribute(selector, name string, opts *api.BaseOptions) (string, bool, error) {
	return f.getAttribute("frame.getAttribute", selector, opts != nil && opts.Strict, name, opts)
}

// Hover moves the pointer over the element matching selector.
func (f *Frame) Hover(selector string, opts *api.HoverOptions) error {
	return f.hover("frame.hover", selector, opts != nil && opts.Strict, opts)
}

func (f *Frame) InnerHTML(selector string, opts *api.BaseOptions) (string, error) {
	return f.stringProp("frame.innerHTML", selector, opts != nil && opts.Strict, host.OpInnerHTML, opts)
}

func (f *Frame) InnerText(selector string, opts *api.BaseOptions) (string, error) {
	return f.stringProp("frame.innerText", selector, opts != nil && opts.Strict, host.OpInnerText, opts)
}

func (f *Frame) InputValue(selector string, opts *api.BaseOptions) (string, error) {
	return f.stringProp("frame.inputValue", selector, opts != nil && opts.Strict, host.OpInputValue, opts)
}

func (f *Frame) IsChecked(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isChecked", selector, opts != nil && opts.Strict, "checked", opts)
}

func (f *Frame) IsDisabled(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isDisabled", selector, opts != nil && opts.Strict, "disabled", opts)
}

func (f *Frame) IsEditable(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isEditable", selector, opts != nil && opts.Strict, "editable", opts)
}

func (f *Frame) IsEnabled(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isEnabled", selector, opts != nil && opts.Strict, "enabled", opts)
}

func (f *Frame) IsHidden(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isHidden", selector, opts != nil && opts.Strict, "hidden", opts)
}

func (f *Frame) IsVisible(selector string, opts *api.BaseOptions) (bool, error) {
	return f.isState("frame.isVisible", selector, opts != nil && opts.Strict, "visible", opts)
}

// Locator creates a locator for selector in this frame.
func (f *Frame) Locator(selector string) api.Locator {
	return NewLocator(f, selector, f.logger)
}

func (f *Frame) Press(selector, key string, opts *api.PressOptions) error {
	return f.press("frame.press", selector, opts != nil && opts.Strict, key, opts)
}

// Query returns the first element matching selector, or nil.
func (f *Frame) Query(selector string) (api.ElementHandle, error) {
	h, err := frameCall(f, "frame.query", 0, func(p *Progress) (*ElementHandle, error) {
		return f.querySelector(p, selector, false)
	})
	if err != nil || h == nil {
		return nil, err
	}
	return h, nil
}

// QueryAll returns all elements matching selector.
func (f *Frame) QueryAll(selector string) ([]api.ElementHandle, error) {
	hs, err := frameCall(f, "frame.queryAll", 0, func(p *Progress) ([]*ElementHandle, error) {
		return f.querySelectorAll(p, selector)
	})
	if err != nil {
		return nil, err
	}
	out := make([]api.ElementHandle, 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out, nil
}

func (f *Frame) SelectOption(selector string, values []string, opts *api.SelectOptionOptions) ([]string, error) {
	return f.selectOption("frame.selectOption", selector, opts != nil && opts.Strict, values, opts)
}

func (f *Frame) SetChecked(selector string, checked bool, opts *api.CheckOptions) error {
	return f.setChecked("frame.setChecked", selector, opts != nil && opts.Strict, checked, opts)
}

func (f *Frame) SetInputFiles(selector string, files []api.FilePayload, opts *api.SetInputFilesOptions) error {
	return f.setInputFiles("frame.setInputFiles", selector, opts != nil && opts.Strict, files, opts)
}

// TextContent returns the text content of the element matching selector.
// ok is false if the node has no text content.
func (f *Frame) TextContent(selector string, opts *api.BaseOptions) (string, bool, error) {
	return f.textContent("frame.textContent", selector, opts != nil && opts.Strict, opts)
}

func (f *Frame) Type(selector, text string, opts *api.TypeOptions) error {
	return f.typ("frame.type", selector, opts != nil && opts.Strict, text, opts)
}

func (f *Frame) Uncheck(selector string, opts *api.CheckOptions) error {
	return f.setChecked("frame.uncheck", selector, opts != nil && opts.Strict, false, opts)
}

// WaitForSelector waits for selector to reach opts.State, visible by
// default. It returns nil for the detached and hidden states.
func (f *Frame) WaitForSelector(selector string, opts *api.WaitForSelectorOptions) (api.ElementHandle, error) {
	h, err := f.waitFor("frame.waitForSelector", selector, opts)
	if err != nil || h == nil {
		return nil, err
	}
	return h, nil
}
