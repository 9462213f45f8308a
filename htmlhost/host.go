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

// Package htmlhost implements a host over parsed HTML documents, running in
// process. Every frame has the two worlds of a real page, navigations emit
// the events and readiness messages a browser would, and captures render a
// synthetic image of the viewport. It backs the tests of the control plane
// and the offline mode of the command line.
package htmlhost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/html"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Viewport is the visible area of every frame.
type Viewport struct {
	Width            int
	Height           int
	DevicePixelRatio float64
}

// Options configure a Host.
type Options struct {
	Site     Site
	Viewport Viewport
	// CaptureInterval is the minimum time between two captures. Captures
	// requested sooner fail with host.ErrCaptureRateLimited.
	CaptureInterval time.Duration
	// LoadDelay postpones DOMContentLoaded and load of every document.
	LoadDelay time.Duration
	Clock     clock.Clock
	Logger    *log.Logger
}

// Host is an in-process host.Host.
type Host struct {
	opts   Options
	clock  clock.Clock
	logger *log.Logger
	events *host.Broadcaster

	mu          sync.Mutex
	tabs        map[host.TargetID]*tab
	nextTarget  host.TargetID
	docSeq      int64
	downloadSeq int64
	lastCapture time.Time
}

var (
	_ host.Host   = &Host{}
	_ host.Opener = &Host{}
)

// New returns a host without targets. Zero options take defaults: an empty
// site and a 1280x720 viewport.
func New(opts Options) *Host {
	if opts.Site == nil {
		opts.Site = NewMapSite(nil)
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport.Width, opts.Viewport.Height = 1280, 720
	}
	if opts.Viewport.DevicePixelRatio <= 0 {
		opts.Viewport.DevicePixelRatio = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	return &Host{
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger,
		events:     host.NewBroadcaster(),
		tabs:       make(map[host.TargetID]*tab),
		nextTarget: 1,
	}
}

// Subscribe streams the events of all targets published after the call.
func (h *Host) Subscribe(ctx context.Context) <-chan host.Event {
	return h.events.Subscribe(ctx)
}

// Close ends all event subscriptions.
func (h *Host) Close() {
	h.events.Close()
}

// Open creates a target and navigates it to rawURL.
func (h *Host) Open(rawURL string) (host.TargetID, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := &tab{
		id:        h.nextTarget,
		frames:    make(map[host.FrameID]*frame),
		nextFrame: host.MainFrameID + 1,
	}
	h.nextTarget++
	h.tabs[t.id] = t
	f := &frame{id: host.MainFrameID, parent: host.NoFrame}
	t.frames[f.id] = f

	h.logger.Debugf("htmlhost:Open", "tid:%d url:%q", t.id, u)
	h.navigateLocked(t, f, u, true)

	return t.id, nil
}

// Targets returns the open targets.
func (h *Host) Targets() []host.TargetID {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]host.TargetID, 0, len(h.tabs))
	for id := range h.tabs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CloseTarget closes a target.
func (h *Host) CloseTarget(target host.TargetID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.tabs[target]; !ok {
		return host.ErrNoSuchTarget
	}
	delete(h.tabs, target)
	h.events.Publish(&host.TargetRemovedEvent{Target: target})
	return nil
}

// Navigate navigates a frame as if the user did.
func (h *Host) Navigate(target host.TargetID, frameID host.FrameID, rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, f, err := h.frameLocked(target, frameID)
	if err != nil {
		return err
	}
	u, err := f.doc.url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	h.navigateLocked(t, f, u, true)
	return nil
}

// DetachFrame removes a child frame and its owner element.
func (h *Host) DetachFrame(target host.TargetID, frameID host.FrameID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, f, err := h.frameLocked(target, frameID)
	if err != nil {
		return err
	}
	if f.id == host.MainFrameID {
		return errors.New("the main frame can't be detached")
	}
	if f.owner != nil && f.owner.Parent != nil {
		f.owner.Parent.RemoveChild(f.owner)
	}
	h.detachLocked(t, f)
	return nil
}

// Events returns the DOM events dispatched in the current document of a
// frame, like "click <button id=\"go\">".
func (h *Host) Events(target host.TargetID, frameID host.FrameID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, f, err := h.frameLocked(target, frameID)
	if err != nil {
		return nil
	}
	return slices.Clone(f.doc.events)
}

// Frames returns the ids of the frames of target.
func (h *Host) Frames(target host.TargetID) []host.FrameID {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tabs[target]
	if !ok {
		return nil
	}
	ids := make([]host.FrameID, 0, len(t.frames))
	for id := range t.frames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *Host) frameLocked(target host.TargetID, frameID host.FrameID) (*tab, *frame, error) {
	t, ok := h.tabs[target]
	if !ok {
		return nil, nil, host.ErrNoSuchTarget
	}
	f, ok := t.frames[frameID]
	if !ok || f.doc == nil {
		return nil, nil, host.ErrNoSuchFrame
	}
	return t, f, nil
}

func (h *Host) fetch(u *url.URL) string {
	if u.String() == "about:blank" {
		return ""
	}
	src, err := h.opts.Site.Fetch(u)
	if err != nil {
		h.logger.Debugf("htmlhost:fetch", "url:%q err:%v", u, err)
		return notFoundDocument
	}
	return src
}

func sameDocument(a, b *url.URL) bool {
	if a == nil || b == nil || b.Fragment == "" && !strings.HasSuffix(b.String(), "#") {
		return false
	}
	ac, bc := *a, *b
	ac.Fragment, bc.Fragment = "", ""
	ac.RawFragment, bc.RawFragment = "", ""
	return ac.String() == bc.String()
}

// navigateLocked navigates f to u. URLs differing from the current one by
// their fragment only navigate within the document.
func (h *Host) navigateLocked(t *tab, f *frame, u *url.URL, pushHistory bool) {
	if pushHistory && f.id == host.MainFrameID {
		t.history = append(t.history[:min(len(t.history), t.histIdx+1)], u)
		t.histIdx = len(t.history) - 1
	}
	if f.doc != nil && sameDocument(f.doc.url, u) {
		f.doc.url = u
		h.events.Publish(&host.NavigationEvent{
			Kind:       host.NavigationSameDocument,
			Target:     t.id,
			Frame:      f.id,
			URL:        u.String(),
			DocumentID: f.doc.id,
		})
		return
	}
	h.loadLocked(t, f, u)
}

// loadLocked commits a new document in f, loads its frames and, after the
// load delay, finishes loading it.
func (h *Host) loadLocked(t *tab, f *frame, u *url.URL) {
	root, err := html.Parse(strings.NewReader(h.fetch(u)))
	if err != nil {
		root, _ = html.Parse(strings.NewReader(notFoundDocument))
	}

	for _, c := range h.childFramesLocked(t, f) {
		h.detachLocked(t, c)
	}

	h.docSeq++
	d := newDocument(fmt.Sprintf("doc-%d", h.docSeq), u, root, h.opts.Viewport)
	f.doc = d

	h.logger.Debugf("htmlhost:load", "tid:%d fid:%d doc:%q url:%q", t.id, f.id, d.id, u)
	h.events.Publish(&host.NavigationEvent{
		Kind:        host.NavigationCommitted,
		Target:      t.id,
		Frame:       f.id,
		ParentFrame: f.parent,
		URL:         u.String(),
		DocumentID:  d.id,
	})

	for _, owner := range d.iframes() {
		src, _ := getAttr(owner, "src")
		cu, err := u.Parse(src)
		if src == "" || err != nil {
			cu = &url.URL{Scheme: "about", Opaque: "blank"}
		}
		c := &frame{id: t.nextFrame, parent: f.id, owner: owner}
		t.nextFrame++
		t.frames[c.id] = c
		h.loadLocked(t, c, cu)
	}

	if h.opts.LoadDelay <= 0 {
		h.finishLoadLocked(t, f, d)
		return
	}
	h.clock.AfterFunc(h.opts.LoadDelay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if cur, ok := h.tabs[t.id]; ok && cur == t && t.frames[f.id] == f && f.doc == d {
			h.finishLoadLocked(t, f, d)
		}
	})
}

func (h *Host) finishLoadLocked(t *tab, f *frame, d *document) {
	d.readyState = readyStateInteractive
	h.events.Publish(&host.NavigationEvent{
		Kind:       host.NavigationDOMReady,
		Target:     t.id,
		Frame:      f.id,
		URL:        d.url.String(),
		DocumentID: d.id,
	})
	h.publishReady(t, f, d)

	d.readyState = readyStateComplete
	h.events.Publish(&host.NavigationEvent{
		Kind:       host.NavigationCompleted,
		Target:     t.id,
		Frame:      f.id,
		URL:        d.url.String(),
		DocumentID: d.id,
	})
}

// publishReady posts the readiness message of the page script of d.
func (h *Host) publishReady(t *tab, f *frame, d *document) {
	detail, err := host.ValueResult(host.ReadyDetail{
		DocumentID: d.id,
		URL:        d.url.String(),
		ReadyState: d.readyState,
	})
	if err != nil {
		return
	}
	h.events.Publish(&host.MessageEvent{
		Target: t.id,
		Frame:  f.id,
		Type:   host.MessageReady,
		Detail: detail.Value,
	})
}

func (h *Host) childFramesLocked(t *tab, f *frame) []*frame {
	var out []*frame
	for _, c := range t.frames {
		if c.parent == f.id {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *frame) int { return int(a.id - b.id) })
	return out
}

// detachLocked removes f and its descendants, children first.
func (h *Host) detachLocked(t *tab, f *frame) {
	for _, c := range h.childFramesLocked(t, f) {
		h.detachLocked(t, c)
	}
	delete(t.frames, f.id)
	h.events.Publish(&host.FrameDetachedEvent{Target: t.id, Frame: f.id})
}

func (h *Host) frameOfOwnerLocked(t *tab, owner *html.Node) *frame {
	for _, f := range t.frames {
		if f.owner == owner {
			return f
		}
	}
	return nil
}

// download reports a download of u, created and completed at once.
func (h *Host) downloadLocked(u *url.URL) {
	h.downloadSeq++
	id := h.downloadSeq
	h.events.Publish(&host.DownloadEvent{Kind: host.DownloadCreated, ID: id, URL: u.String(), State: host.DownloadInProgress})
	h.events.Publish(&host.DownloadEvent{Kind: host.DownloadChanged, ID: id, State: host.DownloadComplete})
}
