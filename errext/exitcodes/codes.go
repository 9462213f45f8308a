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

// Package exitcodes contains the constants representing possible tabpilot
// exit error codes.
//
//nolint:golint
package exitcodes

// ExitCode is just a type representing a process exit code for tabpilot.
type ExitCode uint8

// list of exit codes used by tabpilot
const (
	GenericError     ExitCode = 1
	GenericTimeout   ExitCode = 102
	GoPanic          ExitCode = 103
	InvalidConfig    ExitCode = 104
	ExternalAbort    ExitCode = 105
	ScriptException  ExitCode = 107
	NavigationFailed ExitCode = 110
	HostUnavailable  ExitCode = 111
)
