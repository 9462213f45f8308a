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

package host

import (
	"strconv"
	"sync"
	"weak"
)

// Registry maps opaque handles to nodes of one world of one document without
// keeping the nodes alive.
type Registry[T any] struct {
	mu       sync.Mutex
	prefix   string
	next     uint64
	attached func(*T) bool
	byHandle map[string]weak.Pointer[T]
	byNode   map[weak.Pointer[T]]string
}

// NewRegistry returns an empty registry. Handles are prefix followed by a
// counter that is never reset, so they are never reused. attached reports
// whether a node still belongs to the document; it may be nil.
func NewRegistry[T any](prefix string, attached func(*T) bool) *Registry[T] {
	return &Registry[T]{
		prefix:   prefix,
		attached: attached,
		byHandle: make(map[string]weak.Pointer[T]),
		byNode:   make(map[weak.Pointer[T]]string),
	}
}

// HandleFor returns the handle of n, allocating one the first time n is seen.
func (r *Registry[T]) HandleFor(n *T) string {
	if n == nil {
		return ""
	}
	wp := weak.Make(n)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byNode[wp]; ok {
		return h
	}
	r.next++
	h := r.prefix + strconv.FormatUint(r.next, 10)
	r.byHandle[h] = wp
	r.byNode[wp] = h

	return h
}

// NodeFor returns the node of handle h. It returns false if the handle is
// unknown, released, or its node was collected or detached.
func (r *Registry[T]) NodeFor(h string) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wp, ok := r.byHandle[h]
	if !ok {
		return nil, false
	}
	n := wp.Value()
	if n == nil || (r.attached != nil && !r.attached(n)) {
		delete(r.byHandle, h)
		delete(r.byNode, wp)
		return nil, false
	}

	return n, true
}

// Release forgets handle h. It reports whether h was known.
func (r *Registry[T]) Release(h string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wp, ok := r.byHandle[h]
	if !ok {
		return false
	}
	delete(r.byHandle, h)
	delete(r.byNode, wp)

	return true
}

// Sweep drops entries whose nodes were collected or detached and returns how
// many were dropped.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for h, wp := range r.byHandle {
		node := wp.Value()
		if node != nil && (r.attached == nil || r.attached(node)) {
			continue
		}
		delete(r.byHandle, h)
		delete(r.byNode, wp)
		n++
	}

	return n
}

// Reset forgets all handles. The counter keeps going.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byHandle = make(map[string]weak.Pointer[T])
	r.byNode = make(map[weak.Pointer[T]]string)
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byHandle)
}
