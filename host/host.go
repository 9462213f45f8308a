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

// Package host describes the primitives a browser host offers to the control
// plane: script injection into one of two worlds of a frame, visible-area
// capture and an event stream.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TargetID identifies a browsing context (a tab) on the host.
type TargetID int64

// FrameID identifies a frame inside a target. The main frame is always 0.
type FrameID int64

const (
	// MainFrameID is the id of the top level frame of every target.
	MainFrameID FrameID = 0
	// NoFrame is used as parent id of main frames.
	NoFrame FrameID = -1
)

// World is one of the two script execution sandboxes attached to a frame.
type World string

const (
	MainWorld    World = "main"
	UtilityWorld World = "utility"
)

// Valid returns true if w names a known world.
func (w World) Valid() bool {
	return w == MainWorld || w == UtilityWorld
}

func (w World) String() string {
	return string(w)
}

// ScriptTarget addresses a world of a frame of a target.
type ScriptTarget struct {
	Target TargetID `json:"target"`
	Frame  FrameID  `json:"frame"`
	World  World    `json:"world"`
}

func (t ScriptTarget) String() string {
	return fmt.Sprintf("tid:%d fid:%d world:%s", t.Target, t.Frame, t.World)
}

// Call is the only shape in which work crosses into a page: the name of a
// registered page function and JSON serializable arguments.
type Call struct {
	Function Op    `json:"function"`
	Args     []any `json:"args"`
}

// HandleRef is the argument encoding of a node reference.
type HandleRef struct {
	Handle string `json:"$handle"`
}

// Result is the outcome of an injected call. At most one of Handle, Handles
// and Value is set.
type Result struct {
	Handle  string          `json:"handle,omitempty"`
	Handles []string        `json:"handles,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// IsHandle returns true if the call returned a single node.
func (r *Result) IsHandle() bool {
	return r != nil && r.Handle != ""
}

// Decode unmarshals the value of the result into dst. A missing value is
// decoded as JSON null.
func (r *Result) Decode(dst any) error {
	if r == nil || len(r.Value) == 0 {
		return json.Unmarshal([]byte("null"), dst)
	}
	if err := json.Unmarshal(r.Value, dst); err != nil {
		return fmt.Errorf("decoding %s result: %w", strings.TrimSpace(string(r.Value)), err)
	}
	return nil
}

// StringValue returns the value of the result if it's a JSON string.
func (r *Result) StringValue() (string, bool) {
	if r == nil || len(r.Value) == 0 || r.Value[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// ValueResult marshals v into a Result.
func ValueResult(v any) (*Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Result{Value: b}, nil
}

// CaptureOptions controls the encoding of a visible area capture.
type CaptureOptions struct {
	Format  string `json:"format"`
	Quality int    `json:"quality,omitempty"`
}

var (
	// ErrCaptureRateLimited is returned by CaptureVisible when the host
	// refuses a capture because they're requested too often.
	ErrCaptureRateLimited = errors.New("capture rate limit exceeded")
	// ErrNoSuchTarget is returned for calls addressed to an unknown target.
	ErrNoSuchTarget = errors.New("no such target")
	// ErrNoSuchFrame is returned for calls addressed to an unknown frame.
	ErrNoSuchFrame = errors.New("no such frame")
	// ErrNotInstalled is returned while the page script of a world isn't
	// installed yet, e.g. in the middle of a navigation.
	ErrNotInstalled = errors.New("page script not installed")
)

// Injector runs registered page functions inside a world of a frame.
type Injector interface {
	Inject(ctx context.Context, target ScriptTarget, call Call) (*Result, error)
}

// Capturer captures the visible area of a target as a data URL.
type Capturer interface {
	CaptureVisible(ctx context.Context, target TargetID, opts CaptureOptions) (string, error)
}

// EventSource streams host events. The channel is closed once ctx is done.
type EventSource interface {
	Subscribe(ctx context.Context) <-chan Event
}

// Host is the full set of primitives the control plane consumes.
type Host interface {
	Injector
	Capturer
	EventSource
}

// Opener is implemented by hosts able to open and close targets on request.
type Opener interface {
	Open(rawURL string) (TargetID, error)
	CloseTarget(target TargetID) error
	Targets() []TargetID
}
