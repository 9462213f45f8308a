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

// Package relay is a host backed by a browser extension. The extension
// connects over a websocket, answers requests for injections, captures and
// tab management, and streams the navigation events of its tabs.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// DefaultRequestTimeout bounds requests whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrNotConnected is returned while no extension is connected.
	ErrNotConnected = errors.New("no extension connected")
	// ErrDisconnected is returned for requests whose connection went away
	// before they were answered.
	ErrDisconnected = errors.New("extension disconnected")
)

// Options configures a Relay.
type Options struct {
	// RequestTimeout bounds every request. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
	// Token, when set, must be passed by the extension in the token query
	// parameter.
	Token      string
	Registerer prometheus.Registerer
	Logger     *log.Logger
}

// Relay is a host whose targets are the tabs of the connected extension.
// Only one extension is served at a time, a new connection replaces the
// current one.
type Relay struct {
	opts     Options
	logger   *log.Logger
	events   *host.Broadcaster
	metrics  *metrics
	upgrader websocket.Upgrader
	msgID    int64

	mu        sync.RWMutex
	conn      *conn
	targets   map[host.TargetID]struct{}
	connected chan struct{}

	closeOnce sync.Once
}

var (
	_ host.Host   = &Relay{}
	_ host.Opener = &Relay{}
)

// New returns a relay waiting for an extension.
func New(opts Options) *Relay {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	return &Relay{
		opts:      opts,
		logger:    opts.Logger,
		events:    host.NewBroadcaster(),
		metrics:   newMetrics(opts.Registerer),
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		targets:   make(map[host.TargetID]struct{}),
		connected: make(chan struct{}),
	}
}

// Connected returns true while an extension is connected.
func (r *Relay) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil
}

// WaitConnected blocks until an extension is connected or ctx is done.
func (r *Relay) WaitConnected(ctx context.Context) error {
	for {
		r.mu.RLock()
		c, ch := r.conn, r.connected
		r.mu.RUnlock()
		if c != nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for extension: %w", ctx.Err())
		}
	}
}

// attach makes c the current connection, closing the previous one.
func (r *Relay) attach(c *conn) {
	r.mu.Lock()
	old := r.conn
	r.conn = c
	close(r.connected)
	r.connected = make(chan struct{})
	r.mu.Unlock()

	r.metrics.connections.Inc()
	if old != nil {
		r.logger.Infof("Relay:attach", "conn:%s replaces conn:%s", c.id, old.id)
		old.close(websocket.CloseNormalClosure, "replaced")
		return
	}
	r.logger.Infof("Relay:attach", "conn:%s", c.id)
}

// detach forgets c. Targets of the current connection are reported removed
// once it's gone.
func (r *Relay) detach(c *conn) {
	r.metrics.connections.Dec()

	r.mu.Lock()
	if r.conn != c {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	removed := make([]host.TargetID, 0, len(r.targets))
	for id := range r.targets {
		removed = append(removed, id)
	}
	r.targets = make(map[host.TargetID]struct{})
	r.mu.Unlock()

	r.logger.Infof("Relay:detach", "conn:%s targets:%d", c.id, len(removed))
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, id := range removed {
		r.events.Publish(&host.TargetRemovedEvent{Target: id})
	}
}

func (r *Relay) current() *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *Relay) addTarget(id host.TargetID) {
	r.mu.Lock()
	r.targets[id] = struct{}{}
	r.mu.Unlock()
}

// removeTarget returns false if id wasn't known.
func (r *Relay) removeTarget(id host.TargetID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return false
	}
	delete(r.targets, id)
	return true
}

// call sends a request over the current connection and decodes its result
// into res.
func (r *Relay) call(ctx context.Context, method string, params any, res any) (err error) {
	defer func() {
		r.metrics.observeRequest(method, err)
	}()

	c := r.current()
	if c == nil {
		return ErrNotConnected
	}

	id := atomic.AddInt64(&r.msgID, 1)
	buf, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	ch := make(chan response, 1)
	c.addPending(id, ch)
	defer c.removePending(id)

	select {
	case c.sendCh <- buf:
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return fmt.Errorf("sending %s request: %w", method, ctx.Err())
	}

	var resp response
	select {
	case resp = <-ch:
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
	}
	if resp.err != nil {
		return resp.err
	}
	if res == nil || len(resp.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.result, res); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

// Inject runs call in a world of a frame of an extension tab.
func (r *Relay) Inject(ctx context.Context, st host.ScriptTarget, call host.Call) (*host.Result, error) {
	if call.Args == nil {
		call.Args = []any{}
	}
	var res host.Result
	err := r.call(ctx, MethodInject, injectParams{ScriptTarget: st, Function: call.Function, Args: call.Args}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CaptureVisible captures the visible area of an extension tab.
func (r *Relay) CaptureVisible(ctx context.Context, id host.TargetID, opts host.CaptureOptions) (string, error) {
	var res captureResult
	params := captureParams{Target: id, Format: opts.Format, Quality: opts.Quality}
	if err := r.call(ctx, MethodCapture, params, &res); err != nil {
		return "", err
	}
	return res.DataURL, nil
}

// Subscribe streams the events of all extension tabs.
func (r *Relay) Subscribe(ctx context.Context) <-chan host.Event {
	return r.events.Subscribe(ctx)
}

// Open asks the extension for a new tab showing rawURL.
func (r *Relay) Open(rawURL string) (host.TargetID, error) {
	var res targetParams
	if err := r.call(context.Background(), MethodOpen, openParams{URL: rawURL}, &res); err != nil {
		return 0, fmt.Errorf("opening %q: %w", rawURL, err)
	}
	r.addTarget(res.Target)
	return res.Target, nil
}

// CloseTarget asks the extension to close a tab. Its removal is reported
// once the extension confirms it.
func (r *Relay) CloseTarget(id host.TargetID) error {
	if err := r.call(context.Background(), MethodClose, targetParams{Target: id}, nil); err != nil {
		return fmt.Errorf("closing target %d: %w", id, err)
	}
	return nil
}

// Targets returns the ids of the tabs known to the relay.
func (r *Relay) Targets() []host.TargetID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]host.TargetID, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// syncTargets learns the tabs the extension already has.
func (r *Relay) syncTargets(c *conn) {
	var res targetsResult
	if err := r.call(context.Background(), MethodTargets, nil, &res); err != nil {
		r.logger.Debugf("Relay:syncTargets", "conn:%s err:%v", c.id, err)
		return
	}
	for _, id := range res.Targets {
		r.addTarget(id)
	}
}

func (r *Relay) onEvent(name string, params gjson.Result) {
	ev, err := parseEvent(name, params)
	if err != nil {
		r.logger.Errorf("Relay:onEvent", "%v", err)
		return
	}
	r.metrics.events.WithLabelValues(name).Inc()

	switch ev := ev.(type) {
	case *host.NavigationEvent:
		if ev.Kind == host.NavigationCommitted && ev.Frame == host.MainFrameID {
			r.addTarget(ev.Target)
		}
	case *host.TargetRemovedEvent:
		if !r.removeTarget(ev.Target) {
			return
		}
	}
	r.events.Publish(ev)
}

// Close disconnects the extension and ends all subscriptions.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		if c := r.current(); c != nil {
			c.close(websocket.CloseGoingAway, "relay closed")
		}
		r.events.Close()
	})
}
