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

package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/tabpilot/host"
)

// Methods of the requests sent to the extension.
const (
	MethodInject  = "inject"
	MethodCapture = "capture"
	MethodOpen    = "open"
	MethodClose   = "close"
	MethodTargets = "targets"
)

// Names of the events the extension sends.
const (
	EventNavigation    = "navigation"
	EventFrameDetached = "frameDetached"
	EventTargetRemoved = "targetRemoved"
	EventMessage       = "message"
	EventDownload      = "download"
)

// Error codes of failed responses.
const (
	CodeNotInstalled       = "not_installed"
	CodeNoSuchFrame        = "no_such_frame"
	CodeNoSuchTarget       = "no_such_target"
	CodeCaptureRateLimited = "capture_rate_limited"
)

var codeErrors = map[string]error{
	CodeNotInstalled:       host.ErrNotInstalled,
	CodeNoSuchFrame:        host.ErrNoSuchFrame,
	CodeNoSuchTarget:       host.ErrNoSuchTarget,
	CodeCaptureRateLimited: host.ErrCaptureRateLimited,
}

// ErrExtension is wrapped by failures reported by the extension with an
// unknown code.
var ErrExtension = errors.New("extension error")

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *responseError) toError() error {
	if err, ok := codeErrors[e.Code]; ok {
		if e.Message == "" || e.Message == err.Error() {
			return err
		}
		return fmt.Errorf("%s: %w", e.Message, err)
	}
	return fmt.Errorf("%w %s: %s", ErrExtension, e.Code, e.Message)
}

// parseResponse reads the outcome of a request from a response envelope.
func parseResponse(msg gjson.Result) response {
	if e := msg.Get("error"); e.Exists() {
		rerr := responseError{
			Code:    e.Get("code").String(),
			Message: e.Get("message").String(),
		}
		return response{err: rerr.toError()}
	}
	r := msg.Get("result")
	if !r.Exists() {
		return response{}
	}
	return response{result: json.RawMessage(r.Raw)}
}

type injectParams struct {
	host.ScriptTarget
	Function host.Op `json:"function"`
	Args     []any   `json:"args"`
}

type captureParams struct {
	Target  host.TargetID `json:"target"`
	Format  string        `json:"format"`
	Quality int           `json:"quality,omitempty"`
}

type captureResult struct {
	DataURL string `json:"dataUrl"`
}

type openParams struct {
	URL string `json:"url"`
}

type targetParams struct {
	Target host.TargetID `json:"target"`
}

type targetsResult struct {
	Targets []host.TargetID `json:"targets"`
}

type navigationParams struct {
	Kind        string        `json:"kind"`
	Target      host.TargetID `json:"target"`
	Frame       host.FrameID  `json:"frame"`
	ParentFrame *host.FrameID `json:"parentFrame"`
	URL         string        `json:"url"`
	DocumentID  string        `json:"documentId"`
}

type frameParams struct {
	Target host.TargetID `json:"target"`
	Frame  host.FrameID  `json:"frame"`
}

type messageParams struct {
	Target host.TargetID   `json:"target"`
	Frame  host.FrameID    `json:"frame"`
	Type   string          `json:"type"`
	Detail json.RawMessage `json:"detail"`
}

type downloadParams struct {
	Kind  string             `json:"kind"`
	ID    int64              `json:"id"`
	URL   string             `json:"url"`
	State host.DownloadState `json:"state"`
}

var navigationKinds = map[string]host.NavigationKind{
	"committed":    host.NavigationCommitted,
	"domready":     host.NavigationDOMReady,
	"completed":    host.NavigationCompleted,
	"samedocument": host.NavigationSameDocument,
}

// parseEvent converts an event envelope into a host event.
func parseEvent(name string, params gjson.Result) (host.Event, error) {
	raw := []byte(params.Raw)
	if !params.IsObject() {
		return nil, fmt.Errorf("%s event without params", name)
	}

	switch name {
	case EventNavigation:
		var p navigationParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
		kind, ok := navigationKinds[p.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown navigation kind %q", p.Kind)
		}
		parent := host.NoFrame
		if p.ParentFrame != nil {
			parent = *p.ParentFrame
		}
		return &host.NavigationEvent{
			Kind:        kind,
			Target:      p.Target,
			Frame:       p.Frame,
			ParentFrame: parent,
			URL:         p.URL,
			DocumentID:  p.DocumentID,
		}, nil
	case EventFrameDetached:
		var p frameParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
		return &host.FrameDetachedEvent{Target: p.Target, Frame: p.Frame}, nil
	case EventTargetRemoved:
		var p targetParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
		return &host.TargetRemovedEvent{Target: p.Target}, nil
	case EventMessage:
		var p messageParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
		return &host.MessageEvent{Target: p.Target, Frame: p.Frame, Type: p.Type, Detail: p.Detail}, nil
	case EventDownload:
		var p downloadParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
		ev := &host.DownloadEvent{ID: p.ID, URL: p.URL, State: p.State}
		switch p.Kind {
		case "created":
			ev.Kind = host.DownloadCreated
		case "changed":
			ev.Kind = host.DownloadChanged
		default:
			return nil, fmt.Errorf("unknown download kind %q", p.Kind)
		}
		return ev, nil
	}

	return nil, fmt.Errorf("unknown event %q", name)
}
