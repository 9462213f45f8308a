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
	"sync"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// FrameManager manages all frames in a page and their life-cycles. It
// mirrors the frame tree of the navigation tracker.
type FrameManager struct {
	ctx             context.Context
	page            *Page
	host            host.Injector
	tracker         *NavigationTracker
	barriers        *BarrierManager
	timeoutSettings *TimeoutSettings
	logger          *log.Logger
	metrics         *Metrics

	framesMu  sync.RWMutex
	frames    map[host.FrameID]*Frame
	mainFrame *Frame

	attached    chan struct{}
	unsubscribe func()
}

// NewFrameManager creates a new HTML document frame manager.
func NewFrameManager(
	ctx context.Context, p *Page, b *Browser, ts *TimeoutSettings, logger *log.Logger,
) *FrameManager {
	m := &FrameManager{
		ctx:             ctx,
		page:            p,
		host:            b.host,
		tracker:         b.tracker,
		barriers:        b.barriers,
		timeoutSettings: ts,
		logger:          logger,
		metrics:         b.metrics,
		frames:          make(map[host.FrameID]*Frame),
		attached:        make(chan struct{}),
		unsubscribe:     func() {},
	}
	m.mainFrame = NewFrame(ctx, m, nil, host.MainFrameID, logger)
	m.frames[host.MainFrameID] = m.mainFrame

	return m
}

// attach subscribes to the navigation events of the page and catches up
// with the frames the tracker already knows.
func (m *FrameManager) attach() {
	states, unsubscribe := m.tracker.attachTarget(m.page.targetID, m.onNavigationEvent)
	m.unsubscribe = unsubscribe

	for _, st := range states {
		f := m.getFrameByID(st.Frame)
		if f == nil {
			if f = m.frameAttached(st.Frame, st.ParentFrame); f == nil {
				continue
			}
		}
		f.onCommit(st.DocumentID, st.URL)
		for _, l := range st.Fired() {
			f.onLifecycleEvent(l)
		}
	}
	close(m.attached)
}

func (m *FrameManager) onNavigationEvent(ev *NavigationEvent) {
	// Events published while attach catches up wait for it, so they're
	// applied on top of the state it read.
	<-m.attached

	m.logger.Debugf("FrameManager:onNavigationEvent", "%s", ev)

	if ev.Kind == NavigationKindTargetRemoved {
		m.page.didClose()
		return
	}
	if ev.Kind == NavigationKindFrameDetached {
		m.frameDetached(ev.Frame, ErrFrameDetached)
		return
	}

	f := m.getFrameByID(ev.Frame)
	switch ev.Kind {
	case NavigationKindCommit:
		if f == nil {
			if f = m.frameAttached(ev.Frame, ev.ParentFrame); f == nil {
				return
			}
		}
		m.frameCommitted(f, ev)
	case NavigationKindLifecycle:
		if f == nil {
			return
		}
		f.onLifecycleEvent(ev.Lifecycle)
		if f != m.MainFrame() {
			return
		}
		switch ev.Lifecycle {
		case LifecycleEventDOMContentLoad:
			m.page.emit(EventPageDOMContentLoaded, nil)
		case LifecycleEventLoad:
			m.page.emit(EventPageLoad, nil)
		}
	case NavigationKindSameDocument:
		if f == nil {
			return
		}
		f.onSameDocumentNavigation(ev.URL)
		m.page.emit(EventPageFrameNavigated, f)
	}
}

func (m *FrameManager) frameAttached(frameID, parentFrameID host.FrameID) *Frame {
	m.logger.Debugf("FrameManager:frameAttached", "fid:%d pfid:%d", frameID, parentFrameID)

	parent := m.getFrameByID(parentFrameID)
	if parent == nil {
		m.logger.Debugf("FrameManager:frameAttached", "fid:%d pfid:%d unknown parent", frameID, parentFrameID)
		return nil
	}

	m.framesMu.Lock()
	if f, ok := m.frames[frameID]; ok {
		m.framesMu.Unlock()
		return f
	}
	f := NewFrame(m.ctx, m, parent, frameID, m.logger)
	m.frames[frameID] = f
	m.framesMu.Unlock()

	parent.addChildFrame(f)
	m.page.emit(EventPageFrameAttached, f)

	return f
}

// frameCommitted applies the commit of a new document. Child frames belong
// to the old document and are detached.
func (m *FrameManager) frameCommitted(f *Frame, ev *NavigationEvent) {
	for _, c := range f.childFramesSorted() {
		m.frameDetached(c.id, ErrFrameDetached)
	}
	f.onCommit(ev.DocumentID, ev.URL)
	m.page.emit(EventPageFrameNavigated, f)

	if f == m.MainFrame() {
		m.page.browser.tracer.TraceNavigation(m.ctx, m.page.targetID, ev.URL)
	}
}

// frameDetached detaches a frame and, first, all of its descendants.
func (m *FrameManager) frameDetached(frameID host.FrameID, err error) {
	f := m.getFrameByID(frameID)
	if f == nil {
		return
	}
	for _, c := range f.childFramesSorted() {
		m.frameDetached(c.id, err)
	}

	m.logger.Debugf("FrameManager:frameDetached", "fid:%d err:%v", frameID, err)

	m.framesMu.Lock()
	delete(m.frames, frameID)
	m.framesMu.Unlock()

	f.detach(err)
	m.page.emit(EventPageFrameDetached, f)
}

// dispose detaches every frame with err and stops following the tracker.
func (m *FrameManager) dispose(err error) {
	m.unsubscribe()
	m.frameDetached(host.MainFrameID, err)
}

func (m *FrameManager) getFrameByID(id host.FrameID) *Frame {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()
	return m.frames[id]
}

// Frames returns a list of frames on the page, the main frame first and
// the others depth first.
func (m *FrameManager) Frames() []*Frame {
	var frames []*Frame
	var walk func(f *Frame)
	walk = func(f *Frame) {
		if f.IsDetached() {
			return
		}
		frames = append(frames, f)
		for _, c := range f.childFramesSorted() {
			walk(c)
		}
	}
	walk(m.MainFrame())
	return frames
}

// MainFrame returns the main frame of the page.
func (m *FrameManager) MainFrame() *Frame {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()
	return m.mainFrame
}
