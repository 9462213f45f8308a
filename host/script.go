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
	_ "embed"
	"fmt"
)

//go:embed js/page_script.js
var pageScript string

// SignalBinding is the global function the page script calls to post
// messages when a host exposes one.
const SignalBinding = "__tabpilotSignal"

// PageScript returns the page script source for world w.
func PageScript(w World) string {
	return fmt.Sprintf("globalThis.__tabpilotWorld = %q;\n%s", w, pageScript)
}

// DispatchFunction is the function declaration hosts call with a JSON encoded
// Call to run a page function in an installed world.
const DispatchFunction = `function(call) {
	if (!globalThis.__tabpilot) {
		throw new Error("page script not installed");
	}
	return globalThis.__tabpilot.dispatch(JSON.parse(call));
}`
