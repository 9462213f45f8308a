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
	"encoding/json"
	"fmt"
)

// Event is the union of everything a host reports.
type Event interface {
	TargetID() TargetID
}

// NavigationKind tells apart the navigation signals of a frame.
type NavigationKind int

const (
	NavigationCommitted NavigationKind = iota
	NavigationDOMReady
	NavigationCompleted
	NavigationSameDocument
)

func (k NavigationKind) String() string {
	switch k {
	case NavigationCommitted:
		return "committed"
	case NavigationDOMReady:
		return "domready"
	case NavigationCompleted:
		return "completed"
	case NavigationSameDocument:
		return "samedocument"
	}
	return fmt.Sprintf("NavigationKind(%d)", int(k))
}

// NavigationEvent reports a navigation step of a frame. ParentFrame is only
// meaningful for committed events and lets observers learn about new child
// frames.
type NavigationEvent struct {
	Kind        NavigationKind
	Target      TargetID
	Frame       FrameID
	ParentFrame FrameID
	URL         string
	DocumentID  string
}

func (e *NavigationEvent) TargetID() TargetID { return e.Target }

// FrameDetachedEvent reports a frame removed from its parent.
type FrameDetachedEvent struct {
	Target TargetID
	Frame  FrameID
}

func (e *FrameDetachedEvent) TargetID() TargetID { return e.Target }

// TargetRemovedEvent reports a closed target.
type TargetRemovedEvent struct {
	Target TargetID
}

func (e *TargetRemovedEvent) TargetID() TargetID { return e.Target }

// In-page message types posted by the page script.
const (
	MessageReady     = "tabpilot:ready"
	MessageNavigated = "tabpilot:navigated"
)

// MessageEvent carries a message posted by the page script of a frame.
type MessageEvent struct {
	Target TargetID
	Frame  FrameID
	Type   string
	Detail json.RawMessage
}

func (e *MessageEvent) TargetID() TargetID { return e.Target }

// ReadyDetail is the detail of a MessageReady message.
type ReadyDetail struct {
	DocumentID string `json:"documentId"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

// NavigatedDetail is the detail of a MessageNavigated message.
type NavigatedDetail struct {
	URL string `json:"url"`
}

// DownloadKind tells apart download notifications.
type DownloadKind int

const (
	DownloadCreated DownloadKind = iota
	DownloadChanged
)

// DownloadState is the state of a download.
type DownloadState string

const (
	DownloadInProgress  DownloadState = "in_progress"
	DownloadInterrupted DownloadState = "interrupted"
	DownloadComplete    DownloadState = "complete"
)

// Terminal returns true once the download won't change anymore.
func (s DownloadState) Terminal() bool {
	return s == DownloadInterrupted || s == DownloadComplete
}

// DownloadEvent reports a download. Hosts don't know which target started a
// download, so Target is always zero.
type DownloadEvent struct {
	Kind  DownloadKind
	ID    int64
	URL   string
	State DownloadState
}

func (e *DownloadEvent) TargetID() TargetID { return 0 }
