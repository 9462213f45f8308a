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
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
	"github.com/liuxd6825/tabpilot/trace"
)

// Browser drives the pages of one host. It owns the single event pump
// reading the host and the state shared by all pages: navigation tracker,
// readiness barriers, download tracker and capture limiter.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	host host.Host
	opts *BrowserOptions

	tracker        *NavigationTracker
	barriers       *BarrierManager
	downloads      *DownloadTracker
	captureLimiter *CaptureLimiter
	metrics        *Metrics
	tracer         *trace.Tracer

	timeoutSettings *TimeoutSettings

	newPageMu sync.Mutex
	pagesMu   sync.RWMutex
	pages     map[host.TargetID]*Page

	closeOnce sync.Once
	logger    *log.Logger
}

// NewBrowser starts driving h. A nil opts takes the defaults. The browser
// runs until ctx is done or Close is called.
func NewBrowser(ctx context.Context, h host.Host, opts *BrowserOptions, logger *log.Logger) (*Browser, error) {
	if opts == nil {
		opts = NewBrowserOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}

	ctx = WithBrowserOptions(ctx, opts)
	if GetHooks(ctx) == nil {
		ctx = WithHooks(ctx, NewHooks())
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	metrics := NewMetrics(opts.Registerer)
	barriers := NewBarrierManager(BarrierManagerOptions{
		StaleAfter:    opts.BarrierStaleAfter,
		MaxBarriers:   opts.MaxBarriers,
		SweepInterval: opts.BarrierSweepInterval,
		Clock:         opts.Clock,
	}, logger, metrics)

	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	b := Browser{
		ctx:       gctx,
		cancel:    cancel,
		group:     g,
		host:      h,
		opts:      opts,
		tracker:   NewNavigationTracker(barriers, logger, metrics, opts.Clock),
		barriers:  barriers,
		downloads: NewDownloadTracker(logger),
		captureLimiter: NewCaptureLimiter(h, CaptureLimiterOptions{
			MinInterval: opts.CaptureMinInterval,
			MaxInterval: opts.CaptureMaxInterval,
			MaxRetries:  opts.CaptureMaxRetries,
			Clock:       opts.Clock,
		}, logger, metrics),
		metrics:         metrics,
		tracer:          trace.NewTracer(tp, opts.TraceMetadata),
		timeoutSettings: NewTimeoutSettings(nil),
		pages:           make(map[host.TargetID]*Page),
		logger:          logger,
	}
	if opts.Timeout > 0 {
		b.timeoutSettings.setDefaultTimeout(opts.Timeout)
	}
	if opts.NavigationTimeout > 0 {
		b.timeoutSettings.setDefaultNavigationTimeout(opts.NavigationTimeout)
	}

	events := h.Subscribe(gctx)
	g.Go(func() error {
		return b.pump(gctx, events)
	})
	g.Go(func() error {
		return barriers.Run(gctx)
	})

	return &b, nil
}

// pump feeds the events of the host to the trackers, one at a time.
func (b *Browser) pump(ctx context.Context, events <-chan host.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				b.logger.Debugf("Browser:pump", "host event stream closed")
				b.closePages(ErrTargetClosed)
				return nil
			}
			if d, ok := ev.(*host.DownloadEvent); ok {
				b.downloads.HandleEvent(d)
				continue
			}
			b.tracker.HandleEvent(ev)
		}
	}
}

// NewPage starts driving the page of target. Its frame tree is caught up
// with the navigations seen so far and its page scripts are asked to
// announce themselves, for pages loaded before the browser started.
func (b *Browser) NewPage(target host.TargetID) (*Page, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("creating page for target %d: %w", target, ErrTargetClosed)
	}

	// pagesMu isn't held while attaching, the event pump takes it to remove
	// closed pages.
	b.newPageMu.Lock()
	defer b.newPageMu.Unlock()

	if p := b.Page(target); p != nil {
		return p, nil
	}
	p := NewPage(b.ctx, b, target, b.logger)
	b.pagesMu.Lock()
	b.pages[target] = p
	b.pagesMu.Unlock()

	b.downloads.activate(p)

	for _, f := range p.frameManager.Frames() {
		_, err := b.host.Inject(b.ctx, host.ScriptTarget{
			Target: target,
			Frame:  f.id,
			World:  host.UtilityWorld,
		}, host.Call{Function: host.OpAnnounce})
		if err != nil {
			b.logger.Debugf("Browser:NewPage", "tid:%d fid:%d announce: %v", target, f.id, err)
		}
	}

	return p, nil
}

// Page returns the page of target, or nil if it's not driven.
func (b *Browser) Page(target host.TargetID) *Page {
	b.pagesMu.RLock()
	defer b.pagesMu.RUnlock()
	return b.pages[target]
}

// Pages returns the driven pages ordered by target.
func (b *Browser) Pages() []*Page {
	b.pagesMu.RLock()
	pages := make([]*Page, 0, len(b.pages))
	for _, p := range b.pages {
		pages = append(pages, p)
	}
	b.pagesMu.RUnlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].targetID < pages[j].targetID })
	return pages
}

// Downloads returns the tracker attributing downloads to pages.
func (b *Browser) Downloads() *DownloadTracker {
	return b.downloads
}

// Metrics returns the counters of the browser.
func (b *Browser) Metrics() *Metrics {
	return b.metrics
}

func (b *Browser) removePage(target host.TargetID) {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	delete(b.pages, target)
}

func (b *Browser) closePages(err error) {
	for _, p := range b.Pages() {
		p.closeWith(err)
	}
}

// Close stops driving all pages and waits for the event pump to stop.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.group.Wait()
		b.closePages(ErrTargetClosed)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
