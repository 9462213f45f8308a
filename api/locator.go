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

// Locator represents a way to find element(s) on a page at any moment.
type Locator interface {
	// Check element using locator's selector with strict mode on.
	Check(opts *CheckOptions) error
	// Click on an element using locator's selector with strict mode on.
	Click(opts *ClickOptions) error
	// Count returns the number of elements matching the selector.
	Count() (int, error)
	// Dblclick double clicks on an element using locator's selector with strict mode on.
	Dblclick(opts *ClickOptions) error
	DispatchEvent(typ string, opts *BaseOptions) error
	// Fill out the element using locator's selector with strict mode on.
	Fill(value string, opts *FillOptions) error
	// First narrows the locator to the first match.
	First() Locator
	Focus(opts *BaseOptions) error
	// FrameLocator descends into the iframe matched by selector.
	FrameLocator(selector string) FrameLocator
	GetAttribute(name string, opts *BaseOptions) (string, bool, error)
	Hover(opts *HoverOptions) error
	InnerHTML(opts *BaseOptions) (string, error)
	InnerText(opts *BaseOptions) (string, error)
	InputValue(opts *BaseOptions) (string, error)
	// IsChecked returns true if the element matches the locator's
	// selector and is checked. Otherwise, returns false.
	IsChecked(opts *BaseOptions) (bool, error)
	IsDisabled(opts *BaseOptions) (bool, error)
	IsEditable(opts *BaseOptions) (bool, error)
	IsEnabled(opts *BaseOptions) (bool, error)
	IsHidden(opts *BaseOptions) (bool, error)
	// IsVisible returns true if the element matches the locator's
	// selector and is visible. Otherwise, returns false.
	IsVisible(opts *BaseOptions) (bool, error)
	Last() Locator
	// Locator narrows the search to descendants matching selector.
	Locator(selector string) Locator
	Nth(index int) Locator
	Press(key string, opts *PressOptions) error
	Selector() string
	SelectOption(values []string, opts *SelectOptionOptions) ([]string, error)
	SetChecked(checked bool, opts *CheckOptions) error
	SetInputFiles(files []FilePayload, opts *SetInputFilesOptions) error
	TextContent(opts *BaseOptions) (string, bool, error)
	Type(text string, opts *TypeOptions) error
	Uncheck(opts *CheckOptions) error
	// WaitFor waits for the element to reach the given state.
	WaitFor(opts *WaitForSelectorOptions) error
}

// FrameLocator locates elements inside an iframe.
type FrameLocator interface {
	First() FrameLocator
	FrameLocator(selector string) FrameLocator
	Last() FrameLocator
	Locator(selector string) Locator
	Nth(index int) FrameLocator
}
