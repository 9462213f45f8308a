package common

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gobwas/glob"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// NavigationEventKind tells apart the events published by the tracker.
type NavigationEventKind int

const (
	NavigationKindCommit NavigationEventKind = iota
	NavigationKindLifecycle
	NavigationKindSameDocument
	NavigationKindFrameDetached
	NavigationKindTargetRemoved
)

func (k NavigationEventKind) String() string {
	return [...]string{"commit", "lifecycle", "samedocument", "framedetached", "targetremoved"}[k]
}

// NavigationEvent is one step of the merged navigation stream of a frame.
type NavigationEvent struct {
	Kind        NavigationEventKind
	Target      host.TargetID
	Frame       host.FrameID
	ParentFrame host.FrameID
	URL         string
	DocumentID  string

	// PreviousDocumentID is set on commits replacing a document.
	PreviousDocumentID string
	// Lifecycle is set on lifecycle events.
	Lifecycle LifecycleEvent
}

func (e *NavigationEvent) String() string {
	s := fmt.Sprintf("%s tid:%d fid:%d doc:%q url:%q", e.Kind, e.Target, e.Frame, e.DocumentID, e.URL)
	if e.Kind == NavigationKindLifecycle {
		s += " " + e.Lifecycle.String()
	}
	return s
}

// FrameState is the navigation state of a frame as seen by the tracker.
type FrameState struct {
	Frame       host.FrameID
	ParentFrame host.FrameID
	URL         string
	DocumentID  string

	fired       lifecycleSet
	committedAt time.Time
}

// Has returns true if l fired for the current document.
func (s FrameState) Has(l LifecycleEvent) bool {
	return s.fired.has(l)
}

// Fired returns the lifecycle events fired for the current document.
func (s FrameState) Fired() []LifecycleEvent {
	return s.fired.events()
}

type navSubscription struct {
	frame     host.FrameID
	all       bool
	fn        func(*NavigationEvent)
	cancelled atomic.Bool
}

// NavigationTracker merges the navigation events of the host and the
// messages of page scripts into one ordered stream per frame. It's the only
// writer of navigation state and resets readiness barriers on new document
// commits before anyone else hears about the commit.
//
// Subscribers are called synchronously, in registration order, from the
// goroutine calling HandleEvent. They must not block.
type NavigationTracker struct {
	// pubMu serializes event handling so subscribers see events in the order
	// they were received.
	pubMu sync.Mutex

	mu     sync.Mutex
	frames map[barrierKey]*FrameState
	subs   map[host.TargetID][]*navSubscription
	docSeq uint64

	barriers *BarrierManager
	logger   *log.Logger
	metrics  *Metrics
	clock    clock.Clock
}

// NewNavigationTracker creates a tracker resetting and readying barriers of
// barriers.
func NewNavigationTracker(barriers *BarrierManager, logger *log.Logger, metrics *Metrics, clk clock.Clock) *NavigationTracker {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if clk == nil {
		clk = clock.New()
	}
	t := &NavigationTracker{
		frames:   make(map[barrierKey]*FrameState),
		subs:     make(map[host.TargetID][]*navSubscription),
		barriers: barriers,
		logger:   logger,
		metrics:  metrics,
		clock:    clk,
	}
	if barriers != nil {
		barriers.SetAlive(t.knows)
	}
	return t
}

// knows reports whether the frame has committed a document and is still
// attached.
func (t *NavigationTracker) knows(target host.TargetID, frame host.FrameID) bool {
	_, ok := t.State(target, frame)
	return ok
}

// HandleEvent feeds a host event to the tracker. Events the tracker doesn't
// care about are ignored.
func (t *NavigationTracker) HandleEvent(ev host.Event) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	switch e := ev.(type) {
	case *host.NavigationEvent:
		t.onNavigation(e)
	case *host.MessageEvent:
		t.onMessage(e)
	case *host.FrameDetachedEvent:
		t.onFrameDetached(e.Target, e.Frame)
	case *host.TargetRemovedEvent:
		t.onTargetRemoved(e.Target)
	}
}

func (t *NavigationTracker) onNavigation(e *host.NavigationEvent) {
	t.logger.Debugf("NavigationTracker:onNavigation", "tid:%d fid:%d kind:%s doc:%q url:%q",
		e.Target, e.Frame, e.Kind, e.DocumentID, e.URL)

	switch e.Kind {
	case host.NavigationCommitted:
		t.commit(e.Target, e.Frame, e.ParentFrame, e.URL, e.DocumentID)
	case host.NavigationDOMReady:
		t.lifecycle(e.Target, e.Frame, e.DocumentID, LifecycleEventDOMContentLoad)
	case host.NavigationCompleted:
		t.lifecycle(e.Target, e.Frame, e.DocumentID, LifecycleEventLoad)
	case host.NavigationSameDocument:
		t.sameDocument(e.Target, e.Frame, e.URL)
	}
}

func (t *NavigationTracker) onMessage(e *host.MessageEvent) {
	switch e.Type {
	case host.MessageReady:
		var d host.ReadyDetail
		if err := json.Unmarshal(e.Detail, &d); err != nil {
			t.logger.Warnf("NavigationTracker:onMessage", "tid:%d fid:%d bad ready detail: %v", e.Target, e.Frame, err)
			return
		}
		t.ready(e.Target, e.Frame, d)
	case host.MessageNavigated:
		var d host.NavigatedDetail
		if err := json.Unmarshal(e.Detail, &d); err != nil {
			t.logger.Warnf("NavigationTracker:onMessage", "tid:%d fid:%d bad navigated detail: %v", e.Target, e.Frame, err)
			return
		}
		t.sameDocument(e.Target, e.Frame, d.URL)
	}
}

func (t *NavigationTracker) commit(target host.TargetID, frame, parent host.FrameID, url, docID string) {
	key := barrierKey{target, frame}

	t.mu.Lock()
	if docID == "" {
		t.docSeq++
		docID = fmt.Sprintf("doc-%d", t.docSeq)
	}
	st := t.frames[key]
	if st == nil {
		if frame == host.MainFrameID {
			parent = host.NoFrame
		}
		st = &FrameState{Frame: frame, ParentFrame: parent}
		t.frames[key] = st
	}
	if st.DocumentID == docID {
		st.URL = url
		t.mu.Unlock()
		return
	}
	prev := st.DocumentID
	st.DocumentID = docID
	st.URL = url
	st.fired = 0
	st.committedAt = t.clock.Now()
	parent = st.ParentFrame
	children := t.descendantsLocked(target, frame)
	for _, c := range children {
		delete(t.frames, barrierKey{target, c})
	}
	t.mu.Unlock()

	t.logger.Debugf("NavigationTracker:commit", "tid:%d fid:%d doc:%q prev:%q url:%q", target, frame, docID, prev, url)
	t.metrics.Navigations.WithLabelValues("document").Inc()

	// The barrier must be reset before anyone hears about the commit, or a
	// waiter could pass it against the page script of the old document.
	t.barriers.Reset(target, frame)

	for _, c := range children {
		t.barriers.RemoveFrame(target, c)
		t.publish(&NavigationEvent{Kind: NavigationKindFrameDetached, Target: target, Frame: c})
	}
	t.publish(&NavigationEvent{
		Kind:               NavigationKindCommit,
		Target:             target,
		Frame:              frame,
		ParentFrame:        parent,
		URL:                url,
		DocumentID:         docID,
		PreviousDocumentID: prev,
	})
	t.lifecycle(target, frame, docID, LifecycleEventCommit)
}

// lifecycle marks l, and every event it implies, as fired for the document
// docID of a frame. An empty docID means the current document. Events of
// other documents are stale and ignored.
func (t *NavigationTracker) lifecycle(target host.TargetID, frame host.FrameID, docID string, l LifecycleEvent) {
	t.mu.Lock()
	st := t.frames[barrierKey{target, frame}]
	if st == nil {
		t.mu.Unlock()
		t.logger.Debugf("NavigationTracker:lifecycle", "tid:%d fid:%d unknown frame, %s ignored", target, frame, l)
		return
	}
	if docID != "" && docID != st.DocumentID {
		cur := st.DocumentID
		t.mu.Unlock()
		t.logger.Debugf("NavigationTracker:lifecycle", "tid:%d fid:%d stale doc:%q current:%q, %s ignored",
			target, frame, docID, cur, l)
		return
	}
	old := st.fired
	st.fired = old.with(l)
	fired := st.fired
	docID, url, since := st.DocumentID, st.URL, t.clock.Since(st.committedAt)
	t.mu.Unlock()

	for _, e := range fired.events() {
		if old.has(e) {
			continue
		}
		if frame == host.MainFrameID {
			switch e {
			case LifecycleEventDOMContentLoad:
				t.metrics.DOMContentLoaded.Observe(since.Seconds())
			case LifecycleEventLoad:
				t.metrics.Loaded.Observe(since.Seconds())
			}
		}
		t.publish(&NavigationEvent{
			Kind:       NavigationKindLifecycle,
			Target:     target,
			Frame:      frame,
			URL:        url,
			DocumentID: docID,
			Lifecycle:  e,
		})
	}
}

func (t *NavigationTracker) sameDocument(target host.TargetID, frame host.FrameID, url string) {
	t.mu.Lock()
	st := t.frames[barrierKey{target, frame}]
	if st == nil || st.URL == url {
		t.mu.Unlock()
		return
	}
	st.URL = url
	docID := st.DocumentID
	t.mu.Unlock()

	t.logger.Debugf("NavigationTracker:sameDocument", "tid:%d fid:%d url:%q", target, frame, url)
	t.metrics.Navigations.WithLabelValues("same_document").Inc()
	t.publish(&NavigationEvent{
		Kind:       NavigationKindSameDocument,
		Target:     target,
		Frame:      frame,
		URL:        url,
		DocumentID: docID,
	})
}

// ready handles the readiness signal of a page script. A main frame the
// tracker never saw commit gets a commit first, as happens when attaching
// to an already loaded page.
func (t *NavigationTracker) ready(target host.TargetID, frame host.FrameID, d host.ReadyDetail) {
	t.mu.Lock()
	st := t.frames[barrierKey{target, frame}]
	var cur string
	if st != nil {
		cur = st.DocumentID
	}
	t.mu.Unlock()

	switch {
	case st == nil && frame != host.MainFrameID:
		t.logger.Debugf("NavigationTracker:ready", "tid:%d fid:%d unknown frame, ignored", target, frame)
		return
	case st == nil:
		t.commit(target, frame, host.NoFrame, d.URL, d.DocumentID)
	case d.DocumentID != "" && cur != "" && d.DocumentID != cur:
		t.logger.Debugf("NavigationTracker:ready", "tid:%d fid:%d stale doc:%q current:%q, ignored",
			target, frame, d.DocumentID, cur)
		return
	}

	t.logger.Debugf("NavigationTracker:ready", "tid:%d fid:%d readyState:%q", target, frame, d.ReadyState)
	t.barriers.MarkReady(target, frame)

	switch d.ReadyState {
	case "interactive":
		t.lifecycle(target, frame, "", LifecycleEventDOMContentLoad)
	case "complete":
		t.lifecycle(target, frame, "", LifecycleEventLoad)
	}
}

func (t *NavigationTracker) onFrameDetached(target host.TargetID, frame host.FrameID) {
	t.mu.Lock()
	if _, ok := t.frames[barrierKey{target, frame}]; !ok {
		t.mu.Unlock()
		t.barriers.RemoveFrame(target, frame)
		return
	}
	gone := append(t.descendantsLocked(target, frame), frame)
	for _, f := range gone {
		delete(t.frames, barrierKey{target, f})
	}
	t.mu.Unlock()

	for _, f := range gone {
		t.logger.Debugf("NavigationTracker:onFrameDetached", "tid:%d fid:%d", target, f)
		t.barriers.RemoveFrame(target, f)
		t.publish(&NavigationEvent{Kind: NavigationKindFrameDetached, Target: target, Frame: f})
	}
}

func (t *NavigationTracker) onTargetRemoved(target host.TargetID) {
	t.logger.Debugf("NavigationTracker:onTargetRemoved", "tid:%d", target)

	t.mu.Lock()
	for k := range t.frames {
		if k.target == target {
			delete(t.frames, k)
		}
	}
	t.mu.Unlock()

	t.barriers.RemoveTarget(target)
	t.publish(&NavigationEvent{Kind: NavigationKindTargetRemoved, Target: target, Frame: host.MainFrameID})

	t.mu.Lock()
	for _, s := range t.subs[target] {
		s.cancelled.Store(true)
	}
	delete(t.subs, target)
	t.mu.Unlock()
}

// descendantsLocked returns the frames below frame, deepest first.
func (t *NavigationTracker) descendantsLocked(target host.TargetID, frame host.FrameID) []host.FrameID {
	var out []host.FrameID
	for k, st := range t.frames {
		if k.target == target && st.ParentFrame == frame && k.frame != frame {
			out = append(out, t.descendantsLocked(target, k.frame)...)
			out = append(out, k.frame)
		}
	}
	return out
}

func (t *NavigationTracker) publish(ev *NavigationEvent) {
	t.mu.Lock()
	subs := append([]*navSubscription(nil), t.subs[ev.Target]...)
	t.mu.Unlock()

	for _, s := range subs {
		if s.cancelled.Load() || (!s.all && s.frame != ev.Frame) {
			continue
		}
		s.fn(ev)
	}
}

func (t *NavigationTracker) subscribe(target host.TargetID, s *navSubscription) func() {
	t.mu.Lock()
	t.subs[target] = append(t.subs[target], s)
	t.mu.Unlock()

	return func() {
		s.cancelled.Store(true)
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.subs[target]
		for i, o := range subs {
			if o == s {
				t.subs[target] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Subscribe calls fn with every event of a frame until the returned function
// is called.
func (t *NavigationTracker) Subscribe(target host.TargetID, frame host.FrameID, fn func(*NavigationEvent)) func() {
	return t.subscribe(target, &navSubscription{frame: frame, fn: fn})
}

// SubscribeTarget calls fn with the events of all frames of target.
func (t *NavigationTracker) SubscribeTarget(target host.TargetID, fn func(*NavigationEvent)) func() {
	return t.subscribe(target, &navSubscription{all: true, fn: fn})
}

// attachTarget subscribes fn to target and returns the state of its frames
// at that point, parents first. No event is both reflected in the returned
// state and delivered to fn. It must not be called from a subscriber.
func (t *NavigationTracker) attachTarget(target host.TargetID, fn func(*NavigationEvent)) ([]FrameState, func()) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	return t.Frames(target), t.SubscribeTarget(target, fn)
}

// State returns the navigation state of a frame.
func (t *NavigationTracker) State(target host.TargetID, frame host.FrameID) (FrameState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.frames[barrierKey{target, frame}]
	if !ok {
		return FrameState{}, false
	}
	return *st, true
}

// Frames returns the state of all known frames of target, parents before
// their children.
func (t *NavigationTracker) Frames(target host.TargetID) []FrameState {
	t.mu.Lock()
	defer t.mu.Unlock()

	depth := func(st *FrameState) int {
		d := 0
		for p := st.ParentFrame; p != host.NoFrame; d++ {
			parent, ok := t.frames[barrierKey{target, p}]
			if !ok || d > len(t.frames) {
				break
			}
			p = parent.ParentFrame
		}
		return d
	}
	var out []FrameState
	depths := make(map[host.FrameID]int)
	for k, st := range t.frames {
		if k.target == target {
			out = append(out, *st)
			depths[k.frame] = depth(st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := depths[out[i].Frame], depths[out[j].Frame]
		if di != dj {
			return di < dj
		}
		return out[i].Frame < out[j].Frame
	})
	return out
}

// NavigationWaitOptions select the navigation a waiter resolves on.
type NavigationWaitOptions struct {
	// URL is a glob the navigated URL must match. ** matches anything, *
	// anything but a slash. Empty matches every URL.
	URL       string
	WaitUntil LifecycleEvent
}

// navWaiter resolves on the first navigation of a frame matching its
// options. It's created before the action that navigates, so the
// navigation can't be missed.
type navWaiter struct {
	t      *NavigationTracker
	target host.TargetID
	frame  host.FrameID
	until  LifecycleEvent
	match  func(string) bool

	mu       sync.Mutex
	pending  *NavigationEvent
	finished bool
	res      *NavigationEvent
	err      error
	done     chan struct{}

	unsubscribe func()
}

func (t *NavigationTracker) newNavWaiter(
	target host.TargetID, frame host.FrameID, opts NavigationWaitOptions,
) (*navWaiter, error) {
	match, err := urlMatcher(opts.URL)
	if err != nil {
		return nil, err
	}
	w := &navWaiter{
		t:      t,
		target: target,
		frame:  frame,
		until:  opts.WaitUntil,
		match:  match,
		done:   make(chan struct{}),
	}
	w.unsubscribe = t.Subscribe(target, frame, w.handle)
	return w, nil
}

func (w *navWaiter) handle(ev *NavigationEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return
	}
	until := w.until
	if until == LifecycleEventNetworkIdle {
		until = LifecycleEventCommit
	}
	switch ev.Kind {
	case NavigationKindCommit:
		w.pending = nil
		if w.match(ev.URL) {
			w.pending = ev
		}
	case NavigationKindLifecycle:
		if w.pending != nil && ev.DocumentID == w.pending.DocumentID && ev.Lifecycle == until {
			w.finishLocked(w.pending, nil)
		}
	case NavigationKindSameDocument:
		if w.pending == nil && w.match(ev.URL) {
			w.finishLocked(ev, nil)
		}
	case NavigationKindFrameDetached:
		w.finishLocked(nil, ErrFrameDetached)
	case NavigationKindTargetRemoved:
		w.finishLocked(nil, ErrTargetClosed)
	}
}

func (w *navWaiter) finishLocked(ev *NavigationEvent, err error) {
	w.finished = true
	w.res, w.err = ev, err
	close(w.done)
}

// wait waits for the navigation. Network idle is reached once the page
// script of the new document signalled readiness.
func (w *navWaiter) wait(p *Progress) (*NavigationEvent, error) {
	defer w.cancel()

	var done <-chan struct{} = w.done
	if _, err := Wait(p, done); err != nil {
		return nil, err
	}
	w.mu.Lock()
	res, err := w.res, w.err
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if w.until == LifecycleEventNetworkIdle && res.Kind == NavigationKindCommit {
		if err := w.t.barriers.WaitForReady(p, w.target, w.frame); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (w *navWaiter) cancel() {
	w.unsubscribe()
}

// WaitForNavigation waits for the next navigation of a frame matching opts.
func (t *NavigationTracker) WaitForNavigation(
	p *Progress, target host.TargetID, frame host.FrameID, opts NavigationWaitOptions,
) (*NavigationEvent, error) {
	w, err := t.newNavWaiter(target, frame, opts)
	if err != nil {
		return nil, err
	}
	p.Log("waiting for navigation of frame %d to %s", frame, opts.WaitUntil)
	return w.wait(p)
}

// WaitForLifecycle waits until l fired for the current document of a frame.
// It returns right away if it already did.
func (t *NavigationTracker) WaitForLifecycle(p *Progress, target host.TargetID, frame host.FrameID, l LifecycleEvent) error {
	if l == LifecycleEventNetworkIdle {
		return t.barriers.WaitForReady(p, target, frame)
	}

	ch := make(chan error, 1)
	send := func(err error) {
		select {
		case ch <- err:
		default:
		}
	}
	unsubscribe := t.Subscribe(target, frame, func(ev *NavigationEvent) {
		switch ev.Kind {
		case NavigationKindLifecycle:
			if ev.Lifecycle == l {
				send(nil)
			}
		case NavigationKindFrameDetached:
			send(ErrFrameDetached)
		case NavigationKindTargetRemoved:
			send(ErrTargetClosed)
		}
	})
	defer unsubscribe()

	// Check again now that events can't be missed.
	if st, ok := t.State(target, frame); ok && st.Has(l) {
		return nil
	}
	p.Log("waiting for %s of frame %d", l, frame)

	var rch <-chan error = ch
	err, perr := Wait(p, rch)
	if perr != nil {
		return perr
	}
	return err
}

// urlMatcher compiles a URL glob. A single * stops at slashes, ** doesn't.
func urlMatcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	if !strings.ContainsAny(pattern, "*?") {
		return func(u string) bool { return u == pattern }, nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("%w: url glob %q: %v", ErrInvalidOption, pattern, err)
	}
	return g.Match, nil
}
