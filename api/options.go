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

package api

import "time"

// LoadState is the lifecycle state a navigation waits for.
type LoadState string

const (
	LoadStateCommit           LoadState = "commit"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// ElementState is the state WaitForSelector waits for.
type ElementState string

const (
	StateAttached ElementState = "attached"
	StateDetached ElementState = "detached"
	StateVisible  ElementState = "visible"
	StateHidden   ElementState = "hidden"
)

// Rect is a box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Navigation describes a finished navigation.
type Navigation struct {
	URL          string `json:"url"`
	DocumentID   string `json:"documentId"`
	SameDocument bool   `json:"sameDocument"`
}

// FilePayload is a file for SetInputFiles.
type FilePayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Buffer   []byte `json:"buffer"`
}

// BaseOptions are accepted by every selector based call. A zero Timeout
// means the page default.
type BaseOptions struct {
	Timeout time.Duration `json:"timeout"`
	Strict  bool          `json:"strict"`
}

// ActionOptions are accepted by element actions.
type ActionOptions struct {
	BaseOptions
	// Force skips the actionability checks.
	Force       bool `json:"force"`
	NoWaitAfter bool `json:"noWaitAfter"`
}

type ClickOptions struct {
	ActionOptions
	Button     string `json:"button"`
	ClickCount int    `json:"clickCount"`
}

type HoverOptions struct {
	ActionOptions
}

type FillOptions struct {
	ActionOptions
}

type CheckOptions struct {
	ActionOptions
}

type TypeOptions struct {
	ActionOptions
	Delay time.Duration `json:"delay"`
}

type PressOptions struct {
	ActionOptions
	Delay time.Duration `json:"delay"`
}

type SelectOptionOptions struct {
	ActionOptions
}

type SetInputFilesOptions struct {
	ActionOptions
}

type GotoOptions struct {
	Timeout   time.Duration `json:"timeout"`
	WaitUntil LoadState     `json:"waitUntil"`
}

type WaitForNavigationOptions struct {
	Timeout   time.Duration `json:"timeout"`
	WaitUntil LoadState     `json:"waitUntil"`
	// URL is a glob ("**" and "*" wildcards) the committed URL must match.
	URL string `json:"url"`
}

type WaitForLoadStateOptions struct {
	Timeout time.Duration `json:"timeout"`
}

type WaitForSelectorOptions struct {
	BaseOptions
	State ElementState `json:"state"`
}

type ScreenshotOptions struct {
	Timeout  time.Duration `json:"timeout"`
	FullPage bool          `json:"fullPage"`
	Clip     *Rect         `json:"clip"`
	// Format is png or jpeg. Quality only applies to jpeg.
	Format  string `json:"type"`
	Quality int    `json:"quality"`
	Path    string `json:"path"`
}

type SnapshotOptions struct {
	Timeout time.Duration `json:"timeout"`
}
