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
)

// Ensure BaseEventEmitter implements the EventEmitter interface
var _ EventEmitter = &BaseEventEmitter{}

const (
	// Browser
	EventBrowserPageAttached string = "pageattached"

	// Frame
	EventFrameNavigation       string = "navigation"
	EventFrameAddLifecycle     string = "addlifecycle"
	EventFrameContextDestroyed string = "contextdestroyed"
	EventFrameDetached         string = "detached"

	// Page
	EventPageClose            string = "close"
	EventPageDOMContentLoaded string = "domcontentloaded"
	EventPageDownload         string = "download"
	EventPageFrameAttached    string = "frameattached"
	EventPageFrameDetached    string = "framedetached"
	EventPageFrameNavigated   string = "framenavigated"
	EventPageLoad             string = "load"
)

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data any
}

// Type returns the name of the event.
func (e Event) Type() string { return e.typ }

// Data returns the payload of the event.
func (e Event) Data() any { return e.data }

// FrameNavigationEvent is the payload of EventFrameNavigation.
type FrameNavigationEvent struct {
	newDocument *DocumentInfo
	url         string
	err         error
}

// ContextDestroyedEvent is the payload of EventFrameContextDestroyed. It's
// emitted once per document change of a frame.
type ContextDestroyedEvent struct {
	Frame      *Frame
	DocumentID string
	Worlds     []string
}

type eventHandler struct {
	ctx context.Context
	ch  chan Event

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
}

// EventEmitter that all event emitters need to implement
type EventEmitter interface {
	emit(event string, data any)
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

// BaseEventEmitter emits events to registered handlers. Each handler gets
// events in emit order and emit never blocks on slow handlers.
type BaseEventEmitter struct {
	mu          sync.Mutex
	handlers    map[string][]*eventHandler
	handlersAll []*eventHandler
	ctx         context.Context
}

// NewBaseEventEmitter creates a new instance of a base event emitter. No
// events are delivered once ctx is done.
func NewBaseEventEmitter(ctx context.Context) BaseEventEmitter {
	return BaseEventEmitter{
		handlers: make(map[string][]*eventHandler),
		ctx:      ctx,
	}
}

// sync runs fn with exclusive access to the handlers.
func (e *BaseEventEmitter) sync(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *BaseEventEmitter) emit(event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := Event{event, data}
	e.handlers[event] = pushAll(e.handlers[event], ev)
	e.handlersAll = pushAll(e.handlersAll, ev)
}

func pushAll(handlers []*eventHandler, ev Event) []*eventHandler {
	live := handlers[:0]
	for _, h := range handlers {
		if h.ctx.Err() != nil {
			continue
		}
		h.push(ev)
		live = append(live, h)
	}
	return live
}

// on registers ch to receive the given events until ctx is done.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	h := e.newHandler(ctx, ch)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, event := range events {
		e.handlers[event] = append(e.handlers[event], h)
	}
}

// onAll registers ch to receive all events until ctx is done.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	h := e.newHandler(ctx, ch)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlersAll = append(e.handlersAll, h)
}

func (e *BaseEventEmitter) newHandler(ctx context.Context, ch chan Event) *eventHandler {
	if e.ctx != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		stop := context.AfterFunc(e.ctx, cancel)
		context.AfterFunc(ctx, func() { stop(); cancel() })
	}
	h := &eventHandler{
		ctx:  ctx,
		ch:   ch,
		wake: make(chan struct{}, 1),
	}
	go h.run()
	return h
}

func (h *eventHandler) push(ev Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *eventHandler) run() {
	for {
		h.mu.Lock()
		queue := h.queue
		h.queue = nil
		h.mu.Unlock()

		for _, ev := range queue {
			select {
			case h.ch <- ev:
			case <-h.ctx.Done():
				return
			}
		}
		if len(queue) > 0 {
			continue
		}
		select {
		case <-h.wake:
		case <-h.ctx.Done():
			return
		}
	}
}
