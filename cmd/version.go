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

package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/tabpilot/browser"
	"github.com/liuxd6825/tabpilot/cmd/state"
)

const commitKey = "vcs.revision"

// fullVersion returns the API version of tabpilot along with the commit it
// was built from, when known.
func fullVersion() string {
	goVersionArch := fmt.Sprintf("%s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("v%s (%s)", browser.Version, goVersionArch)
	}

	var commit string
	dirty := false
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case commitKey:
			if len(s.Value) > 10 {
				commit = s.Value[:10]
			} else {
				commit = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return fmt.Sprintf("v%s (%s)", browser.Version, goVersionArch)
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("v%s (commit/%s, %s)", browser.Version, commit, goVersionArch)
}

func getCmdVersion(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			gs.Console.Printf("tabpilot %s\n", fullVersion())
		},
	}
}
