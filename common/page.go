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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Ensure page implements the EventEmitter and Page interfaces.
var (
	_ EventEmitter = &Page{}
	_ api.Page     = &Page{}
)

// Page stores Page/tab related context.
type Page struct {
	BaseEventEmitter

	ctx    context.Context
	cancel context.CancelCauseFunc

	browser  *Browser
	targetID host.TargetID

	frameManager    *FrameManager
	timeoutSettings *TimeoutSettings
	screenshotter   *screenshotter

	closedMu sync.RWMutex
	closed   bool

	snapshotMu     sync.RWMutex
	snapshotFrames []*Frame

	logger *log.Logger
}

// NewPage creates a new browser page context for target.
func NewPage(ctx context.Context, b *Browser, targetID host.TargetID, logger *log.Logger) *Page {
	logger.Debugf("NewPage", "tid:%d", targetID)

	pctx, cancel := context.WithCancelCause(ctx)
	p := Page{
		BaseEventEmitter: NewBaseEventEmitter(pctx),
		ctx:              pctx,
		cancel:           cancel,
		browser:          b,
		targetID:         targetID,
		timeoutSettings:  NewTimeoutSettings(b.timeoutSettings),
		screenshotter:    newScreenshotter(b.captureLimiter, b.opts.ScrollSettleDelay, logger),
		logger:           logger,
	}
	p.frameManager = NewFrameManager(pctx, &p, b, p.timeoutSettings, logger)
	p.frameManager.attach()

	return &p
}

// didClose tears the page down once its target is gone.
func (p *Page) didClose() {
	p.closeWith(ErrTargetClosed)
}

func (p *Page) closeWith(err error) {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return
	}
	p.closed = true
	p.closedMu.Unlock()

	p.logger.Debugf("Page:didClose", "tid:%d", p.targetID)

	p.frameManager.dispose(err)
	p.browser.barriers.RemoveTarget(p.targetID)
	p.browser.tracer.End(p.targetID)
	p.browser.downloads.forget(p)
	p.browser.removePage(p.targetID)

	p.emit(EventPageClose, p)
	p.cancel(err)
}

// snapshotFrame returns the frame recorded at index n by the last snapshot,
// or nil if there's none or it's gone.
func (p *Page) snapshotFrame(n int) *Frame {
	p.snapshotMu.RLock()
	defer p.snapshotMu.RUnlock()

	if n < 0 || n >= len(p.snapshotFrames) {
		return nil
	}
	if f := p.snapshotFrames[n]; !f.IsDetached() {
		return f
	}
	return nil
}

func (p *Page) mainFrame() *Frame {
	return p.frameManager.MainFrame()
}

// BringToFront makes the page the one new downloads are attributed to.
func (p *Page) BringToFront() {
	p.browser.downloads.activate(p)
}

// Close stops driving the page. The tab itself stays open.
func (p *Page) Close() error {
	p.didClose()
	return nil
}

func (p *Page) Check(selector string, opts *api.CheckOptions) error {
	return p.mainFrame().Check(selector, opts)
}

func (p *Page) Click(selector string, opts *api.ClickOptions) error {
	return p.mainFrame().Click(selector, opts)
}

// Content returns the HTML content of the page.
func (p *Page) Content() (string, error) {
	return p.mainFrame().Content()
}

func (p *Page) Dblclick(selector string, opts *api.ClickOptions) error {
	return p.mainFrame().Dblclick(selector, opts)
}

func (p *Page) DispatchEvent(selector, typ string, opts *api.BaseOptions) error {
	return p.mainFrame().DispatchEvent(selector, typ, opts)
}

// Evaluate runs a registered page function in the main world of the main
// frame.
func (p *Page) Evaluate(fn host.Op, args ...any) (any, error) {
	return p.mainFrame().Evaluate(fn, args...)
}

func (p *Page) Fill(selector, value string, opts *api.FillOptions) error {
	return p.mainFrame().Fill(selector, value, opts)
}

func (p *Page) Focus(selector string, opts *api.BaseOptions) error {
	return p.mainFrame().Focus(selector, opts)
}

// Frames returns the attached frames of the page, the main frame first.
func (p *Page) Frames() []api.Frame {
	frames := p.frameManager.Frames()
	l := make([]api.Frame, 0, len(frames))
	for _, f := range frames {
		l = append(l, f)
	}
	return l
}

func (p *Page) GetAttribute(selector, name string, opts *api.BaseOptions) (string, bool, error) {
	return p.mainFrame().GetAttribute(selector, name, opts)
}

func (p *Page) GoBack(opts *api.GotoOptions) (*api.Navigation, error) {
	return p.mainFrame().GoBack(opts)
}

func (p *Page) GoForward(opts *api.GotoOptions) (*api.Navigation, error) {
	return p.mainFrame().GoForward(opts)
}

// Goto will navigate the page to the specified URL and return the
// navigation once opts.WaitUntil is reached.
func (p *Page) Goto(url string, opts *api.GotoOptions) (*api.Navigation, error) {
	return p.mainFrame().Goto(url, opts)
}

func (p *Page) Hover(selector string, opts *api.HoverOptions) error {
	return p.mainFrame().Hover(selector, opts)
}

func (p *Page) InnerHTML(selector string, opts *api.BaseOptions) (string, error) {
	return p.mainFrame().InnerHTML(selector, opts)
}

func (p *Page) InnerText(selector string, opts *api.BaseOptions) (string, error) {
	return p.mainFrame().InnerText(selector, opts)
}

func (p *Page) InputValue(selector string, opts *api.BaseOptions) (string, error) {
	return p.mainFrame().InputValue(selector, opts)
}

func (p *Page) IsChecked(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsChecked(selector, opts)
}

// IsClosed returns true if the page was closed or its target removed.
func (p *Page) IsClosed() bool {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	return p.closed
}

func (p *Page) IsDisabled(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsDisabled(selector, opts)
}

func (p *Page) IsEditable(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsEditable(selector, opts)
}

func (p *Page) IsEnabled(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsEnabled(selector, opts)
}

func (p *Page) IsHidden(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsHidden(selector, opts)
}

func (p *Page) IsVisible(selector string, opts *api.BaseOptions) (bool, error) {
	return p.mainFrame().IsVisible(selector, opts)
}

// Locator creates and returns a new locator for this page (main frame).
func (p *Page) Locator(selector string) api.Locator {
	return p.mainFrame().Locator(selector)
}

// MainFrame returns the main frame on the page.
func (p *Page) MainFrame() api.Frame {
	return p.mainFrame()
}

// On registers handler for event. The handler runs on its own goroutine,
// one event at a time, until the returned function is called or the page
// closes.
func (p *Page) On(event string, handler func(any)) func() {
	ctx, cancel := context.WithCancel(p.ctx)
	ch := make(chan Event)
	p.on(ctx, []string{event}, ch)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				handler(ev.data)
			}
		}
	}()

	return cancel
}

func (p *Page) Press(selector, key string, opts *api.PressOptions) error {
	return p.mainFrame().Press(selector, key, opts)
}

func (p *Page) Query(selector string) (api.ElementHandle, error) {
	return p.mainFrame().Query(selector)
}

func (p *Page) QueryAll(selector string) ([]api.ElementHandle, error) {
	return p.mainFrame().QueryAll(selector)
}

// Reload will reload the current page.
func (p *Page) Reload(opts *api.GotoOptions) (*api.Navigation, error) {
	return p.mainFrame().Reload(opts)
}

// Screenshot will instruct the browser to capture the visible area, or the
// whole document with opts.FullPage.
func (p *Page) Screenshot(opts *api.ScreenshotOptions) ([]byte, error) {
	if opts == nil {
		opts = &api.ScreenshotOptions{}
	}
	f := p.mainFrame()
	p.browser.downloads.activate(p)
	return frameCall(f, "page.screenshot", opts.Timeout, func(prog *Progress) ([]byte, error) {
		return p.screenshotter.screenshotPage(prog, p, opts)
	})
}

func (p *Page) SelectOption(selector string, values []string, opts *api.SelectOptionOptions) ([]string, error) {
	return p.mainFrame().SelectOption(selector, values, opts)
}

func (p *Page) SetChecked(selector string, checked bool, opts *api.CheckOptions) error {
	return p.mainFrame().SetChecked(selector, checked, opts)
}

// SetDefaultNavigationTimeout sets the default navigation timeout.
func (p *Page) SetDefaultNavigationTimeout(timeout time.Duration) {
	p.timeoutSettings.setDefaultNavigationTimeout(timeout)
}

// SetDefaultTimeout sets the default maximum timeout.
func (p *Page) SetDefaultTimeout(timeout time.Duration) {
	p.timeoutSettings.setDefaultTimeout(timeout)
}

func (p *Page) SetInputFiles(selector string, files []api.FilePayload, opts *api.SetInputFilesOptions) error {
	return p.mainFrame().SetInputFiles(selector, files, opts)
}

// Snapshot outlines the interactive elements of every frame. Refs of the
// main frame look like e3, refs of the frame listed as f2 like f2e3.
// Frames whose document isn't ready yet are listed without content.
func (p *Page) Snapshot(opts *api.SnapshotOptions) (string, error) {
	if opts == nil {
		opts = &api.SnapshotOptions{}
	}
	main := p.mainFrame()
	return frameCall(main, "page.snapshot", opts.Timeout, func(prog *Progress) (string, error) {
		frames := p.frameManager.Frames()
		depths := make(map[*Frame]int, len(frames))

		var b strings.Builder
		for i, f := range frames {
			depth := 0
			if f.parentFrame != nil {
				depth = depths[f.parentFrame] + 1
			}
			depths[f] = depth
			indent := strings.Repeat("  ", depth)

			prefix := ""
			if i > 0 {
				prefix = fmt.Sprintf("f%d", i)
				fmt.Fprintf(&b, "%s- iframe [%s] %q:\n", strings.Repeat("  ", depth-1), prefix, f.URL())
			}
			if i > 0 && !p.browser.barriers.Get(p.targetID, f.id).IsReady() {
				prog.Log("frame %d isn't ready, skipping its content", f.id)
				continue
			}
			out, err := p.snapshotFrameContent(prog, f, prefix)
			if err != nil {
				if i == 0 {
					return "", err
				}
				prog.Log("snapshot of frame %d: %v", f.id, err)
				continue
			}
			for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
				if line == "" {
					continue
				}
				b.WriteString(indent)
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}

		p.snapshotMu.Lock()
		p.snapshotFrames = frames
		p.snapshotMu.Unlock()

		return b.String(), nil
	})
}

func (p *Page) snapshotFrameContent(prog *Progress, f *Frame, prefix string) (string, error) {
	ec, err := f.executionContext(prog, host.UtilityWorld)
	if err != nil {
		return "", err
	}
	var s string
	err = ec.EvalInto(prog, &s, host.OpSnapshot, prefix)
	return s, err
}

// TargetID returns the host target of the page.
func (p *Page) TargetID() host.TargetID {
	return p.targetID
}

func (p *Page) TextContent(selector string, opts *api.BaseOptions) (string, bool, error) {
	return p.mainFrame().TextContent(selector, opts)
}

// Title returns the page title.
func (p *Page) Title() (string, error) {
	return p.mainFrame().Title()
}

func (p *Page) Type(selector, text string, opts *api.TypeOptions) error {
	return p.mainFrame().Type(selector, text, opts)
}

func (p *Page) Uncheck(selector string, opts *api.CheckOptions) error {
	return p.mainFrame().Uncheck(selector, opts)
}

// URL returns the location of the page.
func (p *Page) URL() string {
	return p.mainFrame().URL()
}

// WaitForDownload waits for the next download attributed to the page.
func (p *Page) WaitForDownload(opts *api.WaitForLoadStateOptions) (api.Download, error) {
	if opts == nil {
		opts = &api.WaitForLoadStateOptions{}
	}
	d, err := frameCall(p.mainFrame(), "page.waitForDownload", opts.Timeout, func(prog *Progress) (*Download, error) {
		data, err := waitForEvent(prog, p, []string{EventPageDownload}, nil)
		if err != nil {
			return nil, err
		}
		d, _ := data.(*Download)
		return d, nil
	})
	if err != nil || d == nil {
		return nil, err
	}
	return d, nil
}

// WaitForLoadState waits for the given load state to be reached by the
// main frame. networkidle is reached once the page script of the current
// document signalled readiness.
func (p *Page) WaitForLoadState(state api.LoadState, opts *api.WaitForLoadStateOptions) error {
	return p.mainFrame().WaitForLoadState(state, opts)
}

// WaitForNavigation waits for the next navigation of the main frame.
func (p *Page) WaitForNavigation(opts *api.WaitForNavigationOptions) (*api.Navigation, error) {
	return p.mainFrame().WaitForNavigation(opts)
}

func (p *Page) WaitForSelector(selector string, opts *api.WaitForSelectorOptions) (api.ElementHandle, error) {
	return p.mainFrame().WaitForSelector(selector, opts)
}
