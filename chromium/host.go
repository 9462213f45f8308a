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

// Package chromium implements a host over the Chrome DevTools Protocol. The
// page script is installed in the main world and in an isolated world of
// every frame, CDP page, runtime and browser events are mapped to host
// events.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// ErrExecutableNotFound is returned by Launch when no browser executable is
// configured or found.
var ErrExecutableNotFound = errors.New("chromium executable not found")

// commandTimeout bounds the CDP commands a host sends on its own behalf.
const commandTimeout = 10 * time.Second

// Host drives the page targets of one browser.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc
	events *host.Broadcaster
	logger *log.Logger

	mu         sync.RWMutex
	tabs       map[host.TargetID]*tab
	byCDP      map[target.ID]host.TargetID
	nextTarget host.TargetID

	downloadsMu  sync.Mutex
	downloads    map[string]*download
	nextDownload int64

	closeOnce sync.Once
}

type download struct {
	id    int64
	state host.DownloadState
}

var (
	_ host.Host   = &Host{}
	_ host.Opener = &Host{}
)

func newHost(ctx context.Context, cancel context.CancelFunc, logger *log.Logger) *Host {
	return &Host{
		ctx:       ctx,
		cancel:    cancel,
		events:    host.NewBroadcaster(),
		logger:    logger,
		tabs:      make(map[host.TargetID]*tab),
		byCDP:     make(map[target.ID]host.TargetID),
		downloads: make(map[string]*download),
	}
}

// attach starts driving the target of the chromedp context tctx. cancel,
// when set, releases tctx once the target is gone.
func (h *Host) attach(ctx context.Context, tctx context.Context, cancel context.CancelFunc) (*tab, error) {
	c := chromedp.FromContext(tctx)
	if c == nil || c.Target == nil {
		return nil, errors.New("attaching to target: chromedp context has no target")
	}

	h.mu.Lock()
	if id, ok := h.byCDP[c.Target.TargetID]; ok {
		t := h.tabs[id]
		h.mu.Unlock()
		return t, nil
	}
	h.nextTarget++
	t := newTab(h.nextTarget, c.Target.TargetID, tctx, cancel, h.events, h.logger)
	h.tabs[t.id] = t
	h.byCDP[t.cdpID] = t.id
	h.mu.Unlock()

	h.logger.Debugf("Host:attach", "tid:%d cdp:%s", t.id, t.cdpID)
	if err := t.attach(ctx); err != nil {
		h.mu.Lock()
		delete(h.tabs, t.id)
		delete(h.byCDP, t.cdpID)
		h.mu.Unlock()
		t.close()
		return nil, fmt.Errorf("attaching to target %s: %w", t.cdpID, err)
	}

	return t, nil
}

// adopt attaches a page target the browser opened on its own, e.g. a popup.
func (h *Host) adopt(id target.ID) {
	tctx, cancel := chromedp.NewContext(h.ctx, chromedp.WithTargetID(id))
	ctx, done := context.WithTimeout(h.ctx, commandTimeout)
	defer done()

	if err := chromedp.Run(tctx); err != nil {
		cancel()
		h.logger.Debugf("Host:adopt", "cdp:%s err:%v", id, err)
		return
	}
	if _, err := h.attach(ctx, tctx, cancel); err != nil {
		h.logger.Debugf("Host:adopt", "cdp:%s err:%v", id, err)
	}
}

func (h *Host) onBrowserEvent(ev any) {
	switch ev := ev.(type) {
	case *target.EventTargetCreated:
		if ev.TargetInfo != nil && ev.TargetInfo.Type == "page" && ev.TargetInfo.OpenerID != "" {
			go h.adopt(ev.TargetInfo.TargetID)
		}
	case *target.EventTargetDestroyed:
		h.removeTab(ev.TargetID)
	case *browser.EventDownloadWillBegin:
		h.downloadsMu.Lock()
		h.nextDownload++
		d := &download{id: h.nextDownload, state: host.DownloadInProgress}
		h.downloads[ev.GUID] = d
		h.downloadsMu.Unlock()

		h.events.Publish(&host.DownloadEvent{
			Kind:  host.DownloadCreated,
			ID:    d.id,
			URL:   ev.URL,
			State: d.state,
		})
	case *browser.EventDownloadProgress:
		state := downloadState(ev.State)
		h.downloadsMu.Lock()
		d, ok := h.downloads[ev.GUID]
		if !ok || d.state == state || d.state.Terminal() {
			h.downloadsMu.Unlock()
			return
		}
		d.state = state
		if state.Terminal() {
			delete(h.downloads, ev.GUID)
		}
		h.downloadsMu.Unlock()

		h.events.Publish(&host.DownloadEvent{Kind: host.DownloadChanged, ID: d.id, State: state})
	}
}

func downloadState(s browser.DownloadProgressState) host.DownloadState {
	switch s {
	case browser.DownloadProgressStateCompleted:
		return host.DownloadComplete
	case browser.DownloadProgressStateCanceled:
		return host.DownloadInterrupted
	}
	return host.DownloadInProgress
}

func (h *Host) removeTab(id target.ID) {
	h.mu.Lock()
	tid, ok := h.byCDP[id]
	t := h.tabs[tid]
	delete(h.byCDP, id)
	delete(h.tabs, tid)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.logger.Debugf("Host:removeTab", "tid:%d cdp:%s", tid, id)
	t.close()
	h.events.Publish(&host.TargetRemovedEvent{Target: tid})
}

func (h *Host) tab(id host.TargetID) *tab {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tabs[id]
}

// Inject runs call in a world of a frame.
func (h *Host) Inject(ctx context.Context, st host.ScriptTarget, call host.Call) (*host.Result, error) {
	t := h.tab(st.Target)
	if t == nil {
		return nil, host.ErrNoSuchTarget
	}
	return t.inject(ctx, st.Frame, st.World, call)
}

// CaptureVisible captures the viewport of target.
func (h *Host) CaptureVisible(ctx context.Context, id host.TargetID, opts host.CaptureOptions) (string, error) {
	t := h.tab(id)
	if t == nil {
		return "", host.ErrNoSuchTarget
	}
	return t.capture(ctx, opts)
}

// Subscribe streams the events of all targets.
func (h *Host) Subscribe(ctx context.Context) <-chan host.Event {
	return h.events.Subscribe(ctx)
}

// Open creates a new tab showing rawURL.
func (h *Host) Open(rawURL string) (host.TargetID, error) {
	ctx, cancel := context.WithTimeout(h.ctx, commandTimeout)
	defer cancel()

	c := chromedp.FromContext(h.ctx)
	id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return 0, fmt.Errorf("creating target: %w", err)
	}
	tctx, tcancel := chromedp.NewContext(h.ctx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tctx); err != nil {
		tcancel()
		return 0, fmt.Errorf("attaching to target %s: %w", id, err)
	}
	t, err := h.attach(ctx, tctx, tcancel)
	if err != nil {
		return 0, err
	}
	if err := t.navigate(ctx, rawURL); err != nil {
		return 0, err
	}

	return t.id, nil
}

// CloseTarget closes the tab of target. Its removal is reported once the
// browser confirms it.
func (h *Host) CloseTarget(id host.TargetID) error {
	t := h.tab(id)
	if t == nil {
		return host.ErrNoSuchTarget
	}
	ctx, cancel := context.WithTimeout(h.ctx, commandTimeout)
	defer cancel()

	c := chromedp.FromContext(h.ctx)
	if err := target.CloseTarget(t.cdpID).Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
		return fmt.Errorf("closing target %d: %w", id, err)
	}
	return nil
}

// Targets returns the ids of the open tabs.
func (h *Host) Targets() []host.TargetID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]host.TargetID, 0, len(h.tabs))
	for id := range h.tabs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close shuts the browser down and ends all subscriptions.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = chromedp.Cancel(h.ctx)
		h.cancel()
		h.events.Close()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
