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

// ElementHandle references a node in one world of one document. Its methods
// act once and never retry; use a Locator for retrying actions.
type ElementHandle interface {
	BoundingBox() (*Rect, error)
	Check(opts *CheckOptions) error
	Click(opts *ClickOptions) error
	ContentFrame() (Frame, error)
	Dblclick(opts *ClickOptions) error
	DispatchEvent(typ string) error
	Dispose() error
	Fill(value string, opts *FillOptions) error
	Focus() error
	GetAttribute(name string) (string, bool, error)
	Handle() string
	Hover(opts *HoverOptions) error
	InnerHTML() (string, error)
	InnerText() (string, error)
	InputValue() (string, error)
	IsChecked() (bool, error)
	IsDisabled() (bool, error)
	IsEditable() (bool, error)
	IsEnabled() (bool, error)
	IsHidden() (bool, error)
	IsVisible() (bool, error)
	OwnerFrame() (Frame, error)
	Press(key string, opts *PressOptions) error
	Query(selector string) (ElementHandle, error)
	QueryAll(selector string) ([]ElementHandle, error)
	Screenshot(opts *ScreenshotOptions) ([]byte, error)
	ScrollIntoViewIfNeeded() error
	SelectOption(values []string, opts *SelectOptionOptions) ([]string, error)
	SetChecked(checked bool, opts *CheckOptions) error
	SetInputFiles(files []FilePayload, opts *SetInputFilesOptions) error
	TextContent() (string, bool, error)
	Type(text string, opts *TypeOptions) error
	Uncheck(opts *CheckOptions) error
}
