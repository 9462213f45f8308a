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
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Barrier tracks whether the page script of a frame's current document is
// ready. It goes back to not ready when a new document commits and is
// terminal once disposed.
type Barrier struct {
	mu       sync.Mutex
	ready    bool
	readyCh  chan struct{}
	disposed error
	created  time.Time
	lastSeen time.Time
}

func newBarrier(now time.Time) *Barrier {
	return &Barrier{
		readyCh:  make(chan struct{}),
		created:  now,
		lastSeen: now,
	}
}

// IsReady returns true if the current document signalled readiness.
func (b *Barrier) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *Barrier) markReady() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready || b.disposed != nil {
		return
	}
	b.ready = true
	close(b.readyCh)
}

// reset suspends future waiters until the next readiness signal. Waiters of
// a barrier that isn't ready keep waiting for that same signal.
func (b *Barrier) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready || b.disposed != nil {
		return
	}
	b.ready = false
	b.readyCh = make(chan struct{})
}

func (b *Barrier) dispose(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed != nil {
		return
	}
	b.disposed = err
	if !b.ready {
		close(b.readyCh)
	}
}

// Wait returns once the barrier is ready, disposed, or p ends.
func (b *Barrier) Wait(p *Progress) error {
	b.mu.Lock()
	if b.disposed != nil {
		err := b.disposed
		b.mu.Unlock()
		return err
	}
	if b.ready {
		b.mu.Unlock()
		return nil
	}
	var ch <-chan struct{} = b.readyCh
	b.mu.Unlock()

	if _, err := Wait(p, ch); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

type barrierKey struct {
	target host.TargetID
	frame  host.FrameID
}

// BarrierManagerOptions bound the number and age of tracked barriers.
type BarrierManagerOptions struct {
	StaleAfter    time.Duration
	MaxBarriers   int
	SweepInterval time.Duration
	Clock         clock.Clock
	// Alive reports whether a frame still exists. Barriers of live frames
	// are never swept, however long they go unobserved.
	Alive func(host.TargetID, host.FrameID) bool
}

// BarrierManager owns the readiness barriers of all frames of all targets.
type BarrierManager struct {
	mu       sync.Mutex
	barriers map[barrierKey]*Barrier
	opts     BarrierManagerOptions
	clock    clock.Clock
	logger   *log.Logger
	metrics  *Metrics
}

// NewBarrierManager creates an empty manager. Zero options take defaults.
func NewBarrierManager(opts BarrierManagerOptions, logger *log.Logger, metrics *Metrics) *BarrierManager {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultBarrierStaleAfter
	}
	if opts.MaxBarriers <= 0 {
		opts.MaxBarriers = DefaultMaxBarriers
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultBarrierSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &BarrierManager{
		barriers: make(map[barrierKey]*Barrier),
		opts:     opts,
		clock:    opts.Clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the barrier of a frame, creating it if needed, and marks it as
// observed.
func (m *BarrierManager) Get(target host.TargetID, frame host.FrameID) *Barrier {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getLocked(barrierKey{target, frame})
}

func (m *BarrierManager) getLocked(key barrierKey) *Barrier {
	now := m.clock.Now()
	if b, ok := m.barriers[key]; ok {
		b.mu.Lock()
		b.lastSeen = now
		b.mu.Unlock()
		return b
	}
	if len(m.barriers) >= m.opts.MaxBarriers {
		m.evictOldestLocked(len(m.barriers) - m.opts.MaxBarriers + 1)
	}
	b := newBarrier(now)
	m.barriers[key] = b
	return b
}

func (m *BarrierManager) evictOldestLocked(n int) {
	type entry struct {
		key      barrierKey
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(m.barriers))
	for k, b := range m.barriers {
		b.mu.Lock()
		entries = append(entries, entry{k, b.lastSeen})
		b.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	for _, e := range entries[:n] {
		m.logger.Debugf("BarrierManager:evict", "tid:%d fid:%d reason:capacity", e.key.target, e.key.frame)
		m.barriers[e.key].dispose(ErrBarrierEvicted)
		delete(m.barriers, e.key)
		m.metrics.BarrierEvictions.Inc()
	}
}

// MarkReady records the readiness signal of a frame's current document.
func (m *BarrierManager) MarkReady(target host.TargetID, frame host.FrameID) {
	m.logger.Debugf("BarrierManager:MarkReady", "tid:%d fid:%d", target, frame)
	m.Get(target, frame).markReady()
}

// SetAlive sets the liveness check consulted by Sweep.
func (m *BarrierManager) SetAlive(fn func(host.TargetID, host.FrameID) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Alive = fn
}

// Reset makes the barrier of a frame not ready. It's called on the commit of
// a new document, before the commit is published.
func (m *BarrierManager) Reset(target host.TargetID, frame host.FrameID) {
	m.logger.Debugf("BarrierManager:Reset", "tid:%d fid:%d", target, frame)
	m.Get(target, frame).reset()
}

// WaitForReady waits until the current document of a frame is ready.
func (m *BarrierManager) WaitForReady(p *Progress, target host.TargetID, frame host.FrameID) error {
	b := m.Get(target, frame)
	if !b.IsReady() {
		p.Log("waiting for frame %d of target %d to be ready", frame, target)
	}
	return b.Wait(p)
}

// RemoveFrame disposes the barrier of a detached frame.
func (m *BarrierManager) RemoveFrame(target host.TargetID, frame host.FrameID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := barrierKey{target, frame}
	if b, ok := m.barriers[key]; ok {
		b.dispose(ErrFrameDetached)
		delete(m.barriers, key)
	}
}

// RemoveTarget disposes all barriers of a closed target.
func (m *BarrierManager) RemoveTarget(target host.TargetID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, b := range m.barriers {
		if k.target != target {
			continue
		}
		b.dispose(ErrTargetClosed)
		delete(m.barriers, k)
	}
}

// Sweep disposes barriers of frames that are gone and were not observed
// within StaleAfter, and returns how many were disposed.
func (m *BarrierManager) Sweep() int {
	m.mu.Lock()
	now := m.clock.Now()
	alive := m.opts.Alive
	var stale []barrierKey
	for k, b := range m.barriers {
		if m.staleLocked(b, now) {
			stale = append(stale, k)
		}
	}
	m.mu.Unlock()

	// The liveness check takes the tracker's lock, which is never held while
	// calling into the manager, so it runs outside of m.mu.
	gone := stale[:0]
	for _, k := range stale {
		if alive != nil && alive(k.target, k.frame) {
			continue
		}
		gone = append(gone, k)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, k := range gone {
		b, ok := m.barriers[k]
		if !ok || !m.staleLocked(b, now) {
			continue
		}
		m.logger.Debugf("BarrierManager:Sweep", "tid:%d fid:%d reason:stale", k.target, k.frame)
		b.dispose(ErrBarrierEvicted)
		delete(m.barriers, k)
		m.metrics.BarrierEvictions.Inc()
		n++
	}
	return n
}

func (m *BarrierManager) staleLocked(b *Barrier, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen) > m.opts.StaleAfter
}

// Len returns the number of tracked barriers.
func (m *BarrierManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.barriers)
}

// Run sweeps stale barriers every SweepInterval until ctx is done.
func (m *BarrierManager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// navigationBarrier notices top level navigations that commit while an
// element action runs, so the action can wait for the new document to be
// ready before returning.
type navigationBarrier struct {
	frame *Frame
	docID string
}

func newNavigationBarrier() *navigationBarrier {
	return &navigationBarrier{}
}

// addFrameNavigation remembers the current document of frame. Only
// navigations of top level frames are tracked.
func (b *navigationBarrier) addFrameNavigation(frame *Frame) {
	if frame.parentFrame != nil {
		return
	}
	b.frame = frame
	b.docID = frame.documentID()
}

// Wait waits for the new document to be ready if one committed since
// addFrameNavigation.
func (b *navigationBarrier) Wait(p *Progress) error {
	if b.frame == nil || b.frame.documentID() == b.docID {
		return nil
	}
	p.Log("waiting for the navigation triggered by the action to finish")
	return b.frame.manager.barriers.WaitForReady(p, b.frame.page.targetID, b.frame.id)
}
