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

import "time"

const (
	// Defaults

	DefaultTimeout time.Duration = 30 * time.Second

	// Readiness barrier bookkeeping

	DefaultBarrierStaleAfter    time.Duration = 5 * time.Minute
	DefaultBarrierSweepInterval time.Duration = 30 * time.Second
	DefaultMaxBarriers          int           = 1000

	// Execution context creation

	contextPollAttempts = 10
	contextPollInterval  = 50 * time.Millisecond
	contextCreateTimeout = 5 * time.Second

	// Selector polling

	waitForSelectorPollInterval = 100 * time.Millisecond

	// Screenshots

	DefaultCaptureMinInterval time.Duration = 500 * time.Millisecond
	DefaultCaptureMaxInterval time.Duration = 5 * time.Second
	DefaultCaptureMaxRetries  int           = 5
	DefaultScrollSettleDelay  time.Duration = 100 * time.Millisecond
	DefaultJPEGQuality        int           = 80
)

// locatorRetrySchedule is how long retrying operations wait before each
// attempt. The last value repeats.
var locatorRetrySchedule = []time.Duration{ //nolint:gochecknoglobals
	0,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
}
