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

package chromium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// utilityWorldName names the isolated world holding the utility page script.
const utilityWorldName = "__tabpilot_utility"

type worldKey struct {
	frame host.FrameID
	world host.World
}

// tab maps the CDP session of one page target to host events and calls.
// CDP frame ids are strings, host frame ids are assigned in order of
// appearance with the main frame always 0.
type tab struct {
	id     host.TargetID
	cdpID  target.ID
	ctx    context.Context
	cancel context.CancelFunc
	events *host.Broadcaster
	logger *log.Logger

	// evaluate runs src in an execution context.
	evaluate func(ctx context.Context, id runtime.ExecutionContextID, src string) error

	mu        sync.Mutex
	frames    map[cdp.FrameID]host.FrameID
	cdpFrames map[host.FrameID]cdp.FrameID
	loaders   map[host.FrameID]string
	worlds    map[worldKey]runtime.ExecutionContextID
	contexts  map[runtime.ExecutionContextID]worldKey
	nextFrame host.FrameID
}

func newTab(
	id host.TargetID, cdpID target.ID, ctx context.Context, cancel context.CancelFunc,
	events *host.Broadcaster, logger *log.Logger,
) *tab {
	t := &tab{
		id:        id,
		cdpID:     cdpID,
		ctx:       ctx,
		cancel:    cancel,
		events:    events,
		logger:    logger,
		frames:    make(map[cdp.FrameID]host.FrameID),
		cdpFrames: make(map[host.FrameID]cdp.FrameID),
		loaders:   make(map[host.FrameID]string),
		worlds:    make(map[worldKey]runtime.ExecutionContextID),
		contexts:  make(map[runtime.ExecutionContextID]worldKey),
	}
	t.evaluate = t.evaluateScript
	return t
}

func (t *tab) executor(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(t.ctx).Target)
}

// attach installs the page script and starts translating events. Frames
// already loaded are reported as committed.
func (t *tab) attach(ctx context.Context) error {
	chromedp.ListenTarget(t.ctx, t.onEvent)

	exec := t.executor(ctx)
	for _, a := range []chromedp.Action{
		page.Enable(),
		runtime.Enable(),
		page.SetLifecycleEventsEnabled(true),
		runtime.AddBinding(host.SignalBinding).WithExecutionContextName(utilityWorldName),
	} {
		if err := a.Do(exec); err != nil {
			return err //nolint:wrapcheck
		}
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(host.PageScript(host.MainWorld)).Do(exec); err != nil {
		return fmt.Errorf("installing page script: %w", err)
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(host.PageScript(host.UtilityWorld)).
		WithWorldName(utilityWorldName).Do(exec); err != nil {
		return fmt.Errorf("installing utility page script: %w", err)
	}

	tree, err := page.GetFrameTree().Do(exec)
	if err != nil {
		return fmt.Errorf("getting frame tree: %w", err)
	}
	var frames []*cdp.Frame
	walkFrameTree(tree, func(f *cdp.Frame) {
		frames = append(frames, f)
		t.onFrameNavigated(f)
	})
	for _, f := range frames {
		id, err := page.CreateIsolatedWorld(f.ID).
			WithWorldName(utilityWorldName).
			WithGrantUniveralAccess(true).
			Do(exec)
		if err != nil {
			t.logger.Debugf("tab:attach", "tid:%d frame:%s creating utility world: %v", t.id, f.ID, err)
			continue
		}
		if err := t.evaluate(ctx, id, host.PageScript(host.UtilityWorld)); err != nil {
			t.logger.Debugf("tab:attach", "tid:%d frame:%s installing utility script: %v", t.id, f.ID, err)
		}
	}

	return nil
}

// walkFrameTree calls fn for every frame, parents before children.
func walkFrameTree(tree *page.FrameTree, fn func(*cdp.Frame)) {
	if tree == nil {
		return
	}
	fn(tree.Frame)
	for _, c := range tree.ChildFrames {
		walkFrameTree(c, fn)
	}
}

func (t *tab) close() {
	if t.cancel != nil {
		t.cancel()
	}
}

// onEvent runs on the chromedp event loop and must not block.
func (t *tab) onEvent(ev any) {
	switch ev := ev.(type) {
	case *page.EventFrameNavigated:
		t.onFrameNavigated(ev.Frame)
	case *page.EventLifecycleEvent:
		t.onLifecycle(ev)
	case *page.EventNavigatedWithinDocument:
		t.onSameDocument(ev)
	case *page.EventFrameDetached:
		// Swapped frames move to another session, which isn't supported.
		if ev.Reason != page.FrameDetachedReasonSwap {
			t.onFrameDetached(ev.FrameID)
		}
	case *runtime.EventExecutionContextCreated:
		t.onContextCreated(ev.Context)
	case *runtime.EventExecutionContextDestroyed:
		t.mu.Lock()
		if key, ok := t.contexts[ev.ExecutionContextID]; ok {
			delete(t.contexts, ev.ExecutionContextID)
			if t.worlds[key] == ev.ExecutionContextID {
				delete(t.worlds, key)
			}
		}
		t.mu.Unlock()
	case *runtime.EventExecutionContextsCleared:
		t.mu.Lock()
		t.worlds = make(map[worldKey]runtime.ExecutionContextID)
		t.contexts = make(map[runtime.ExecutionContextID]worldKey)
		t.mu.Unlock()
	case *runtime.EventBindingCalled:
		if ev.Name == host.SignalBinding {
			t.onSignal(ev)
		}
	}
}

// frameIDLocked returns the host id of a CDP frame, assigning one if create
// is set.
func (t *tab) frameIDLocked(id cdp.FrameID, create bool) (host.FrameID, bool) {
	if string(id) == string(t.cdpID) {
		return host.MainFrameID, true
	}
	if fid, ok := t.frames[id]; ok {
		return fid, true
	}
	if !create {
		return host.NoFrame, false
	}
	t.nextFrame++
	t.frames[id] = t.nextFrame
	t.cdpFrames[t.nextFrame] = id
	return t.nextFrame, true
}

func (t *tab) onFrameNavigated(f *cdp.Frame) {
	if f == nil {
		return
	}
	t.mu.Lock()
	fid, _ := t.frameIDLocked(f.ID, true)
	parent := host.NoFrame
	if f.ParentID != "" {
		parent, _ = t.frameIDLocked(f.ParentID, true)
	}
	t.loaders[fid] = string(f.LoaderID)
	t.mu.Unlock()

	t.events.Publish(&host.NavigationEvent{
		Kind:        host.NavigationCommitted,
		Target:      t.id,
		Frame:       fid,
		ParentFrame: parent,
		URL:         f.URL + f.URLFragment,
		DocumentID:  string(f.LoaderID),
	})
}

func (t *tab) onLifecycle(ev *page.EventLifecycleEvent) {
	var kind host.NavigationKind
	switch ev.Name {
	case "DOMContentLoaded":
		kind = host.NavigationDOMReady
	case "load":
		kind = host.NavigationCompleted
	default:
		return
	}

	t.mu.Lock()
	fid, ok := t.frameIDLocked(ev.FrameID, false)
	t.mu.Unlock()
	if !ok {
		return
	}
	t.events.Publish(&host.NavigationEvent{
		Kind:       kind,
		Target:     t.id,
		Frame:      fid,
		DocumentID: string(ev.LoaderID),
	})
}

func (t *tab) onSameDocument(ev *page.EventNavigatedWithinDocument) {
	t.mu.Lock()
	fid, ok := t.frameIDLocked(ev.FrameID, false)
	doc := t.loaders[fid]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.events.Publish(&host.NavigationEvent{
		Kind:       host.NavigationSameDocument,
		Target:     t.id,
		Frame:      fid,
		URL:        ev.URL,
		DocumentID: doc,
	})
}

func (t *tab) onFrameDetached(id cdp.FrameID) {
	t.mu.Lock()
	fid, ok := t.frameIDLocked(id, false)
	if ok && fid != host.MainFrameID {
		delete(t.frames, id)
		delete(t.cdpFrames, fid)
		delete(t.loaders, fid)
		for key, cid := range t.worlds {
			if key.frame == fid {
				delete(t.worlds, key)
				delete(t.contexts, cid)
			}
		}
	}
	t.mu.Unlock()
	if !ok || fid == host.MainFrameID {
		return
	}
	t.events.Publish(&host.FrameDetachedEvent{Target: t.id, Frame: fid})
}

func (t *tab) onContextCreated(d *runtime.ExecutionContextDescription) {
	if d == nil {
		return
	}
	aux := []byte(d.AuxData)
	var w host.World
	switch {
	case gjson.GetBytes(aux, "isDefault").Bool():
		w = host.MainWorld
	case d.Name == utilityWorldName:
		w = host.UtilityWorld
	default:
		return
	}
	frameID := gjson.GetBytes(aux, "frameId").String()
	if frameID == "" {
		return
	}

	t.mu.Lock()
	fid, _ := t.frameIDLocked(cdp.FrameID(frameID), true)
	key := worldKey{fid, w}
	t.worlds[key] = d.ID
	t.contexts[d.ID] = key
	t.mu.Unlock()

	// Documents loaded before attaching don't run the new document script.
	// Installing twice is a no-op.
	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
		defer cancel()
		if err := t.evaluate(ctx, d.ID, host.PageScript(w)); err != nil {
			t.logger.Debugf("tab:install", "tid:%d fid:%d world:%s err:%v", t.id, fid, w, err)
		}
	}()
}

// onSignal reports a message of the page script. The page script doesn't
// know its document id, ready messages get the current loader id.
func (t *tab) onSignal(ev *runtime.EventBindingCalled) {
	if !gjson.Valid(ev.Payload) {
		t.logger.Debugf("tab:onSignal", "tid:%d invalid payload %q", t.id, ev.Payload)
		return
	}
	t.mu.Lock()
	key, ok := t.contexts[ev.ExecutionContextID]
	doc := t.loaders[key.frame]
	t.mu.Unlock()
	if !ok {
		return
	}

	typ := gjson.Get(ev.Payload, "type").String()
	detail := json.RawMessage(gjson.Get(ev.Payload, "detail").Raw)
	if typ == host.MessageReady {
		var d host.ReadyDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			t.logger.Debugf("tab:onSignal", "tid:%d fid:%d decoding ready detail: %v", t.id, key.frame, err)
			return
		}
		d.DocumentID = doc
		b, err := json.Marshal(d)
		if err != nil {
			return
		}
		detail = b
	}

	t.events.Publish(&host.MessageEvent{
		Target: t.id,
		Frame:  key.frame,
		Type:   typ,
		Detail: detail,
	})
}

func (t *tab) evaluateScript(ctx context.Context, id runtime.ExecutionContextID, src string) error {
	_, exp, err := runtime.Evaluate(src).WithContextID(id).Do(t.executor(ctx))
	if err != nil {
		return err //nolint:wrapcheck
	}
	if exp != nil {
		return exp
	}
	return nil
}

func (t *tab) inject(ctx context.Context, frame host.FrameID, world host.World, call host.Call) (*host.Result, error) {
	t.mu.Lock()
	id, ok := t.worlds[worldKey{frame, world}]
	_, known := t.cdpFrames[frame]
	t.mu.Unlock()
	if !ok {
		if !known && frame != host.MainFrameID {
			return nil, host.ErrNoSuchFrame
		}
		return nil, host.ErrNotInstalled
	}

	b, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshaling call: %w", err)
	}
	var raw []byte
	err = chromedp.CallFunctionOn(host.DispatchFunction, &raw,
		func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithExecutionContextID(id)
		},
		string(b),
	).Do(t.executor(ctx))
	if err != nil {
		return nil, injectError(err)
	}

	var res host.Result
	if len(raw) == 0 {
		return &res, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding result of %s: %w", call.Function, err)
	}
	return &res, nil
}

// injectError maps the failures of a call into a world that went away with
// its document.
func injectError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	for _, s := range []string{
		"page script not installed",
		"Cannot find context with specified id",
		"Execution context was destroyed",
		"Inspected target navigated or closed",
	} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %s", host.ErrNotInstalled, msg)
		}
	}
	return err
}

func (t *tab) navigate(ctx context.Context, rawURL string) error {
	_, _, errText, _, err := page.Navigate(rawURL).Do(t.executor(ctx))
	if err != nil {
		return fmt.Errorf("navigating to %q: %w", rawURL, err)
	}
	if errText != "" {
		return fmt.Errorf("navigating to %q: %s", rawURL, errText)
	}
	return nil
}

func (t *tab) capture(ctx context.Context, opts host.CaptureOptions) (string, error) {
	format := page.CaptureScreenshotFormatPng
	if opts.Format == "jpeg" {
		format = page.CaptureScreenshotFormatJpeg
	}
	p := page.CaptureScreenshot().WithFormat(format)
	if format == page.CaptureScreenshotFormatJpeg && opts.Quality > 0 {
		p = p.WithQuality(int64(opts.Quality))
	}
	data, err := p.Do(t.executor(ctx))
	if err != nil {
		return "", fmt.Errorf("capturing target %d: %w", t.id, err)
	}
	return fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data)), nil
}
