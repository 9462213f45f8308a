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

import (
	"time"

	"github.com/liuxd6825/tabpilot/host"
)

// Page is a target driven by the control plane. Selector based calls are
// delegated to the main frame.
type Page interface {
	SelectorActions

	BringToFront()
	Close() error
	Content() (string, error)
	Evaluate(fn host.Op, args ...any) (any, error)
	Frames() []Frame
	GoBack(opts *GotoOptions) (*Navigation, error)
	GoForward(opts *GotoOptions) (*Navigation, error)
	Goto(url string, opts *GotoOptions) (*Navigation, error)
	IsClosed() bool
	MainFrame() Frame
	// On registers handler for a page event and returns a function removing
	// it.
	On(event string, handler func(any)) func()
	Reload(opts *GotoOptions) (*Navigation, error)
	Screenshot(opts *ScreenshotOptions) ([]byte, error)
	SetDefaultNavigationTimeout(timeout time.Duration)
	SetDefaultTimeout(timeout time.Duration)
	// Snapshot returns a textual outline of the interactive elements of all
	// frames. Its refs can be used with the aria-ref selector engine.
	Snapshot(opts *SnapshotOptions) (string, error)
	TargetID() host.TargetID
	Title() (string, error)
	URL() string
	WaitForDownload(opts *WaitForLoadStateOptions) (Download, error)
	WaitForLoadState(state LoadState, opts *WaitForLoadStateOptions) error
	WaitForNavigation(opts *WaitForNavigationOptions) (*Navigation, error)
}

// Download is a file download started by a page.
type Download interface {
	ID() int64
	URL() string
	State() host.DownloadState
	// Page is the page the download is attributed to. It's the page most
	// recently activated when the download started.
	Page() Page
	WaitForFinish(timeout time.Duration) (host.DownloadState, error)
}
