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
	"github.com/spf13/cobra"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/cmd/state"
)

// cmdSnapshot handles the `tabpilot snapshot` sub-command
type cmdSnapshot struct {
	gs *state.GlobalState
	pageFlags

	asJSON bool
}

type snapshotOutput struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snapshot string `json:"snapshot"`
}

func (c *cmdSnapshot) run(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.gs, getConfig(cmd.Flags()))
	if err != nil {
		return err
	}
	ls, err := c.loadState()
	if err != nil {
		return err
	}

	s, err := newSession(c.gs, conf)
	if err != nil {
		return err
	}
	defer s.close()

	p, err := s.openPage(args[0], ls, conf.NavigationTimeout.TimeDuration())
	if err != nil {
		return err
	}
	snap, err := p.Snapshot(&api.SnapshotOptions{})
	if err != nil {
		return err
	}
	if !c.asJSON {
		c.gs.Console.Print(snap + "\n")
		return nil
	}

	title, err := p.Title()
	if err != nil {
		return err
	}
	return c.gs.Console.PrintJSON(snapshotOutput{URL: p.URL(), Title: title, Snapshot: snap})
}

func getCmdSnapshot(gs *state.GlobalState) *cobra.Command {
	c := &cmdSnapshot{gs: gs}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot [flags] url",
		Short: "Outline the interactive elements of a page",
		Long: `Outline the interactive elements of a page.

Every element gets a ref, e.g. e3 in the main frame and f1e3 in the first
child frame, usable as an "aria-ref=e3" selector by scripts.`,
		Example: getExampleText(gs, `  {{.}} snapshot --json https://example.com`),
		Args:    exactArgsWithMsg(1, "arg should be the url of the page"),
		RunE:    c.run,
	}
	flags := snapshotCmd.Flags()
	flags.SortFlags = false
	flags.BoolVar(&c.asJSON, "json", false, "print the url and title along with the snapshot as JSON")
	flags.AddFlagSet(c.pageFlags.flagSet())
	flags.AddFlagSet(configFlagSet())
	return snapshotCmd
}
