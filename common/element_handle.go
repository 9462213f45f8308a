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
	"strings"
	"sync/atomic"
	"time"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

const releaseTimeout = time.Second

// Ensure ElementHandle implements the api.ElementHandle interface.
var _ api.ElementHandle = &ElementHandle{}

// ElementHandle references a node in the world of its execution context.
// It becomes unusable once the document of its frame changes.
type ElementHandle struct {
	execCtx  *ExecutionContext
	frame    *Frame
	handle   string
	logger   *log.Logger
	disposed atomic.Bool
}

func newElementHandle(ec *ExecutionContext, handle string) *ElementHandle {
	return &ElementHandle{
		execCtx: ec,
		frame:   ec.frame,
		handle:  handle,
		logger:  ec.logger,
	}
}

func (h *ElementHandle) isDisposed() bool {
	return h.disposed.Load() || h.execCtx.destroyed()
}

// release drops the node from the registry of the page script. Errors are
// ignored: the registry of a destroyed context is gone anyway.
func (h *ElementHandle) release(p *Progress) {
	if h.isDisposed() {
		return
	}
	rp := NewProgress(context.WithoutCancel(p.Context()), "elementHandle.release", releaseTimeout, h.logger)
	defer rp.Close()

	if _, err := h.execCtx.eval(rp, host.OpRelease, h.handle); err != nil {
		h.logger.Debugf("ElementHandle:release", "%s handle:%s err:%v", h.execCtx.target, h.handle, err)
	}
	h.disposed.Store(true)
}

func (h *ElementHandle) evalInto(p *Progress, dst any, op host.Op, args ...any) error {
	return h.execCtx.EvalInto(p, dst, op, append([]any{h}, args...)...)
}

func (h *ElementHandle) evalDone(p *Progress, op host.Op, args ...any) error {
	var v any
	return h.evalInto(p, &v, op, args...)
}

func (h *ElementHandle) checkState(p *Progress, state string) (bool, error) {
	var ok bool
	if err := h.evalInto(p, &ok, host.OpCheckElementState, state); err != nil {
		return false, err
	}
	return ok, nil
}

func stateError(state string) error {
	switch state {
	case "visible":
		return ErrElementNotVisible
	case "enabled":
		return ErrElementNotEnabled
	case "editable":
		return ErrElementNotEditable
	}
	return fmt.Errorf("element is not %s", state)
}

// act runs the action pipeline: check states, scroll into view, perform,
// then wait for a navigation the action may have started.
func (h *ElementHandle) act(p *Progress, name string, states []string, opts api.ActionOptions, perform func() error) error {
	if !opts.Force {
		for _, s := range states {
			ok, err := h.checkState(p, s)
			if err != nil {
				return err
			}
			if !ok {
				p.Log("element is not %s", s)
				return stateError(s)
			}
		}
	}
	if stringSliceContains(states, "visible") {
		if err := h.evalDone(p, host.OpScrollIntoView); err != nil {
			return err
		}
	}

	nb := newNavigationBarrier()
	nb.addFrameNavigation(h.frame.manager.MainFrame())

	p.Log("performing %s action", name)
	if err := perform(); err != nil {
		return err
	}
	applySlowMo(p.Context())

	if opts.NoWaitAfter {
		return nil
	}
	return nb.Wait(p)
}

func (h *ElementHandle) click(p *Progress, opts *api.ClickOptions, clickCount int) error {
	arg := host.ClickArg{Button: opts.Button, ClickCount: clickCount}
	if opts.ClickCount > 0 {
		arg.ClickCount = opts.ClickCount
	}
	return h.act(p, "click", []string{"visible", "enabled"}, opts.ActionOptions, func() error {
		return h.evalDone(p, host.OpClick, arg)
	})
}

func (h *ElementHandle) hover(p *Progress, opts *api.HoverOptions) error {
	return h.act(p, "hover", []string{"visible"}, opts.ActionOptions, func() error {
		return h.evalDone(p, host.OpHover)
	})
}

func (h *ElementHandle) fill(p *Progress, value string, opts *api.FillOptions) error {
	return h.act(p, "fill", []string{"visible", "enabled", "editable"}, opts.ActionOptions, func() error {
		return h.evalDone(p, host.OpFill, value)
	})
}

func (h *ElementHandle) focus(p *Progress) error {
	return h.evalDone(p, host.OpFocus)
}

func (h *ElementHandle) typ(p *Progress, text string, opts *api.TypeOptions) error {
	return h.act(p, "type", nil, opts.ActionOptions, func() error {
		if opts.Delay <= 0 {
			return h.evalDone(p, host.OpType, text)
		}
		for _, r := range text {
			if err := h.evalDone(p, host.OpType, string(r)); err != nil {
				return err
			}
			if err := p.Sleep(opts.Delay); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *ElementHandle) press(p *Progress, key string, opts *api.PressOptions) error {
	return h.act(p, "press", nil, opts.ActionOptions, func() error {
		if err := h.evalDone(p, host.OpPress, key); err != nil {
			return err
		}
		return p.Sleep(opts.Delay)
	})
}

func (h *ElementHandle) setChecked(p *Progress, checked bool, opts *api.CheckOptions) error {
	state, err := h.checkState(p, "checked")
	if err != nil {
		return err
	}
	if state == checked {
		return nil
	}
	err = h.act(p, "check", []string{"visible", "enabled"}, opts.ActionOptions, func() error {
		return h.evalDone(p, host.OpSetChecked, checked)
	})
	if err != nil {
		return err
	}
	// The click may have navigated away from the element.
	if state, err = h.checkState(p, "checked"); err != nil {
		if errors.Is(err, ErrContextDestroyed) {
			return nil
		}
		return err
	}
	if state != checked {
		return errors.New("clicking the checkbox did not change its state")
	}
	return nil
}

func (h *ElementHandle) selectOption(p *Progress, values []string, opts *api.SelectOptionOptions) ([]string, error) {
	var selected []string
	err := h.act(p, "select option", []string{"visible", "enabled"}, opts.ActionOptions, func() error {
		return h.evalInto(p, &selected, host.OpSelectOption, values)
	})
	return selected, err
}

func (h *ElementHandle) setInputFiles(p *Progress, files []api.FilePayload, opts *api.SetInputFilesOptions) error {
	return h.act(p, "set input files", nil, opts.ActionOptions, func() error {
		return h.evalDone(p, host.OpSetInputFiles, files)
	})
}

func (h *ElementHandle) dispatchEvent(p *Progress, typ string) error {
	return h.evalDone(p, host.OpDispatchEvent, typ)
}

func (h *ElementHandle) getAttribute(p *Progress, name string) (string, bool, error) {
	var v *string
	if err := h.evalInto(p, &v, host.OpGetAttribute, name); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (h *ElementHandle) textContent(p *Progress) (string, bool, error) {
	var v *string
	if err := h.evalInto(p, &v, host.OpTextContent); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (h *ElementHandle) stringProp(p *Progress, op host.Op) (string, error) {
	var s string
	err := h.evalInto(p, &s, op)
	return s, err
}

func (h *ElementHandle) boundingBox(p *Progress) (*api.Rect, error) {
	var r *api.Rect
	if err := h.evalInto(p, &r, host.OpBoundingBox); err != nil {
		return nil, err
	}
	return r, nil
}

// contentFrame returns the frame an iframe or frame element hosts. It fails
// with ErrNotIframe for any other element.
func (h *ElementHandle) contentFrame(p *Progress) (*Frame, error) {
	var desc host.NodeDescription
	if err := h.evalInto(p, &desc, host.OpDescribe); err != nil {
		return nil, err
	}
	if tag := strings.ToUpper(desc.TagName); tag != "IFRAME" && tag != "FRAME" {
		return nil, fmt.Errorf("%s: %w", desc.Preview, ErrNotIframe)
	}
	var cf *host.ContentFrame
	if err := h.evalInto(p, &cf, host.OpContentFrame); err != nil {
		return nil, err
	}
	if cf == nil {
		return nil, errFrameNotReady
	}
	f := h.frame.manager.getFrameByID(cf.FrameID)
	if f == nil {
		return nil, errFrameNotReady
	}
	return f, nil
}

// query runs a frame local selector relative to the element.
func (h *ElementHandle) query(p *Progress, selector string) (*host.SelectorArg, error) {
	sel, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	chunks, err := sel.splitFrames()
	if err != nil {
		return nil, err
	}
	if len(chunks) > 1 {
		return nil, fmt.Errorf("%w: %q crosses a frame boundary", ErrInvalidSelector, selector)
	}
	arg, err := sel.arg()
	if err != nil {
		return nil, err
	}
	return &arg, nil
}

// call runs fn under a new operation bounded by timeout.
func (h *ElementHandle) call(op string, timeout time.Duration, fn func(*Progress) error) error {
	p, done := h.frame.startOp(op, h.frame.manager.timeoutSettings.timeoutOr(timeout))
	return done(fn(p))
}

func handleCall[T any](h *ElementHandle, op string, fn func(*Progress) (T, error)) (T, error) {
	var v T
	err := h.call(op, 0, func(p *Progress) error {
		var err error
		v, err = fn(p)
		return err
	})
	return v, err
}

func (h *ElementHandle) isState(op, state string) (bool, error) {
	return handleCall(h, op, func(p *Progress) (bool, error) {
		return h.checkState(p, state)
	})
}

// BoundingBox returns the box of the element relative to the viewport of
// its frame, or nil if it isn't rendered.
func (h *ElementHandle) BoundingBox() (*api.Rect, error) {
	return handleCall(h, "elementHandle.boundingBox", h.boundingBox)
}

func (h *ElementHandle) Check(opts *api.CheckOptions) error {
	return h.SetChecked(true, opts)
}

func (h *ElementHandle) Click(opts *api.ClickOptions) error {
	if opts == nil {
		opts = &api.ClickOptions{}
	}
	return h.call("elementHandle.click", opts.Timeout, func(p *Progress) error {
		return h.click(p, opts, 1)
	})
}

// ContentFrame returns the frame hosted by an iframe element. It returns nil
// for other elements.
func (h *ElementHandle) ContentFrame() (api.Frame, error) {
	f, err := handleCall(h, "elementHandle.contentFrame", h.contentFrame)
	if err != nil {
		if errors.Is(err, ErrNotIframe) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (h *ElementHandle) Dblclick(opts *api.ClickOptions) error {
	if opts == nil {
		opts = &api.ClickOptions{}
	}
	return h.call("elementHandle.dblclick", opts.Timeout, func(p *Progress) error {
		return h.click(p, opts, 2)
	})
}

func (h *ElementHandle) DispatchEvent(typ string) error {
	return h.call("elementHandle.dispatchEvent", 0, func(p *Progress) error {
		return h.dispatchEvent(p, typ)
	})
}

// Dispose releases the node. Further calls fail with ErrHandleDisposed.
func (h *ElementHandle) Dispose() error {
	return h.call("elementHandle.dispose", 0, func(p *Progress) error {
		h.release(p)
		return nil
	})
}

func (h *ElementHandle) Fill(value string, opts *api.FillOptions) error {
	if opts == nil {
		opts = &api.FillOptions{}
	}
	return h.call("elementHandle.fill", opts.Timeout, func(p *Progress) error {
		return h.fill(p, value, opts)
	})
}

func (h *ElementHandle) Focus() error {
	return h.call("elementHandle.focus", 0, h.focus)
}

func (h *ElementHandle) GetAttribute(name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := h.call("elementHandle.getAttribute", 0, func(p *Progress) error {
		var err error
		v, ok, err = h.getAttribute(p, name)
		return err
	})
	return v, ok, err
}

// Handle returns the registry key of the node in its world.
func (h *ElementHandle) Handle() string {
	return h.handle
}

func (h *ElementHandle) Hover(opts *api.HoverOptions) error {
	if opts == nil {
		opts = &api.HoverOptions{}
	}
	return h.call("elementHandle.hover", opts.Timeout, func(p *Progress) error {
		return h.hover(p, opts)
	})
}

func (h *ElementHandle) InnerHTML() (string, error) {
	return handleCall(h, "elementHandle.innerHTML", func(p *Progress) (string, error) {
		return h.stringProp(p, host.OpInnerHTML)
	})
}

func (h *ElementHandle) InnerText() (string, error) {
	return handleCall(h, "elementHandle.innerText", func(p *Progress) (string, error) {
		return h.stringProp(p, host.OpInnerText)
	})
}

func (h *ElementHandle) InputValue() (string, error) {
	return handleCall(h, "elementHandle.inputValue", func(p *Progress) (string, error) {
		return h.stringProp(p, host.OpInputValue)
	})
}

func (h *ElementHandle) IsChecked() (bool, error) {
	return h.isState("elementHandle.isChecked", "checked")
}

func (h *ElementHandle) IsDisabled() (bool, error) {
	return h.isState("elementHandle.isDisabled", "disabled")
}

func (h *ElementHandle) IsEditable() (bool, error) {
	return h.isState("elementHandle.isEditable", "editable")
}

func (h *ElementHandle) IsEnabled() (bool, error) {
	return h.isState("elementHandle.isEnabled", "enabled")
}

func (h *ElementHandle) IsHidden() (bool, error) {
	return h.isState("elementHandle.isHidden", "hidden")
}

func (h *ElementHandle) IsVisible() (bool, error) {
	return h.isState("elementHandle.isVisible", "visible")
}

// OwnerFrame returns the frame the element lives in.
func (h *ElementHandle) OwnerFrame() (api.Frame, error) {
	if h.isDisposed() {
		return nil, ErrHandleDisposed
	}
	return h.frame, nil
}

func (h *ElementHandle) Press(key string, opts *api.PressOptions) error {
	if opts == nil {
		opts = &api.PressOptions{}
	}
	return h.call("elementHandle.press", opts.Timeout, func(p *Progress) error {
		return h.press(p, key, opts)
	})
}

// Query returns the first element matching selector under this element.
// It returns nil if nothing matches.
func (h *ElementHandle) Query(selector string) (api.ElementHandle, error) {
	eh, err := handleCall(h, "elementHandle.query", func(p *Progress) (*ElementHandle, error) {
		arg, err := h.query(p, selector)
		if err != nil {
			return nil, err
		}
		return h.execCtx.EvalHandle(p, host.OpQuerySelector, h, *arg, false)
	})
	if err != nil || eh == nil {
		return nil, err
	}
	return eh, nil
}

func (h *ElementHandle) QueryAll(selector string) ([]api.ElementHandle, error) {
	ehs, err := handleCall(h, "elementHandle.queryAll", func(p *Progress) ([]*ElementHandle, error) {
		arg, err := h.query(p, selector)
		if err != nil {
			return nil, err
		}
		return h.execCtx.EvalHandles(p, host.OpQuerySelectorAll, h, *arg)
	})
	if err != nil {
		return nil, err
	}
	out := make([]api.ElementHandle, 0, len(ehs))
	for _, eh := range ehs {
		out = append(out, eh)
	}
	return out, nil
}

// Screenshot captures the area of the element.
func (h *ElementHandle) Screenshot(opts *api.ScreenshotOptions) ([]byte, error) {
	if opts == nil {
		opts = &api.ScreenshotOptions{}
	}
	var buf []byte
	err := h.call("elementHandle.screenshot", opts.Timeout, func(p *Progress) error {
		var err error
		buf, err = h.frame.page.screenshotter.screenshotElement(p, h, opts)
		return err
	})
	return buf, err
}

func (h *ElementHandle) ScrollIntoViewIfNeeded() error {
	return h.call("elementHandle.scrollIntoViewIfNeeded", 0, func(p *Progress) error {
		return h.evalDone(p, host.OpScrollIntoView)
	})
}

func (h *ElementHandle) SelectOption(values []string, opts *api.SelectOptionOptions) ([]string, error) {
	if opts == nil {
		opts = &api.SelectOptionOptions{}
	}
	var selected []string
	err := h.call("elementHandle.selectOption", opts.Timeout, func(p *Progress) error {
		var err error
		selected, err = h.selectOption(p, values, opts)
		return err
	})
	return selected, err
}

func (h *ElementHandle) SetChecked(checked bool, opts *api.CheckOptions) error {
	if opts == nil {
		opts = &api.CheckOptions{}
	}
	return h.call("elementHandle.setChecked", opts.Timeout, func(p *Progress) error {
		return h.setChecked(p, checked, opts)
	})
}

func (h *ElementHandle) SetInputFiles(files []api.FilePayload, opts *api.SetInputFilesOptions) error {
	if opts == nil {
		opts = &api.SetInputFilesOptions{}
	}
	return h.call("elementHandle.setInputFiles", opts.Timeout, func(p *Progress) error {
		return h.setInputFiles(p, files, opts)
	})
}

func (h *ElementHandle) TextContent() (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := h.call("elementHandle.textContent", 0, func(p *Progress) error {
		var err error
		v, ok, err = h.textContent(p)
		return err
	})
	return v, ok, err
}

func (h *ElementHandle) Type(text string, opts *api.TypeOptions) error {
	if opts == nil {
		opts = &api.TypeOptions{}
	}
	return h.call("elementHandle.type", opts.Timeout, func(p *Progress) error {
		return h.typ(p, text, opts)
	})
}

func (h *ElementHandle) Uncheck(opts *api.CheckOptions) error {
	return h.SetChecked(false, opts)
}
