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

// Package api declares the automation surface offered to callers.
package api

import "github.com/liuxd6825/tabpilot/host"

// SelectorActions are the selector based operations shared by frames and
// pages. Each call resolves the selector again and retries until its timeout.
type SelectorActions interface {
	Check(selector string, opts *CheckOptions) error
	Click(selector string, opts *ClickOptions) error
	Dblclick(selector string, opts *ClickOptions) error
	DispatchEvent(selector string, typ string, opts *BaseOptions) error
	Fill(selector string, value string, opts *FillOptions) error
	Focus(selector string, opts *BaseOptions) error
	GetAttribute(selector string, name string, opts *BaseOptions) (string, bool, error)
	Hover(selector string, opts *HoverOptions) error
	InnerHTML(selector string, opts *BaseOptions) (string, error)
	InnerText(selector string, opts *BaseOptions) (string, error)
	InputValue(selector string, opts *BaseOptions) (string, error)
	IsChecked(selector string, opts *BaseOptions) (bool, error)
	IsDisabled(selector string, opts *BaseOptions) (bool, error)
	IsEditable(selector string, opts *BaseOptions) (bool, error)
	IsEnabled(selector string, opts *BaseOptions) (bool, error)
	IsHidden(selector string, opts *BaseOptions) (bool, error)
	IsVisible(selector string, opts *BaseOptions) (bool, error)
	Locator(selector string) Locator
	Press(selector string, key string, opts *PressOptions) error
	Query(selector string) (ElementHandle, error)
	QueryAll(selector string) ([]ElementHandle, error)
	SelectOption(selector string, values []string, opts *SelectOptionOptions) ([]string, error)
	SetChecked(selector string, checked bool, opts *CheckOptions) error
	SetInputFiles(selector string, files []FilePayload, opts *SetInputFilesOptions) error
	TextContent(selector string, opts *BaseOptions) (string, bool, error)
	Type(selector string, text string, opts *TypeOptions) error
	Uncheck(selector string, opts *CheckOptions) error
	WaitForSelector(selector string, opts *WaitForSelectorOptions) (ElementHandle, error)
}

// Frame is a frame of a page.
type Frame interface {
	SelectorActions

	ChildFrames() []Frame
	Content() (string, error)
	Evaluate(fn host.Op, args ...any) (any, error)
	Goto(url string, opts *GotoOptions) (*Navigation, error)
	ID() host.FrameID
	IsDetached() bool
	Page() Page
	ParentFrame() Frame
	Title() (string, error)
	URL() string
	WaitForLoadState(state LoadState, opts *WaitForLoadStateOptions) error
	WaitForNavigation(opts *WaitForNavigationOptions) (*Navigation, error)
}
