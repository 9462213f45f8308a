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
	"context"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/tabpilot/browser"
	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
)

// cmdRun handles the `tabpilot run` sub-command
type cmdRun struct {
	gs *state.GlobalState
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.gs, getConfig(cmd.Flags()))
	if err != nil {
		return err
	}

	src, err := c.gs.ReadFile(args[0])
	if err != nil {
		return errext.WithExitCodeIfNone(fmt.Errorf("reading script: %w", err), exitcodes.InvalidConfig)
	}

	if !c.gs.Flags.Quiet {
		printBanner(c.gs)
	}

	ctx, cancel := context.WithCancel(c.gs.Ctx)
	defer cancel()
	stopSignalHandling := handleAbortSignals(c.gs, func(sig os.Signal) {
		c.gs.Logger.WithField("sig", sig).Warn("Stopping the script in response to signal...")
		cancel()
	}, nil)
	defer stopSignalHandling()

	gs := *c.gs
	gs.Ctx = ctx
	s, err := newSession(&gs, conf)
	if err != nil {
		return err
	}
	defer s.close()

	runner, err := browser.NewRunner(ctx, s.browser, s.host, s.logger)
	if err != nil {
		return err
	}
	v, err := runner.Run(args[0], string(src))
	if err != nil {
		return err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return c.gs.Console.PrintJSON(v.Export())
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	exampleText := getExampleText(gs, `
  # Run a script against a launched headless Chromium.
  {{.}} run script.js

  # Drive the tabs of the browser the extension runs in.
  {{.}} run --relay-addr localhost:6580 script.js

  # Run against the HTML files of a directory, without any browser.
  {{.}} run --offline ./site script.js`[1:])

	runCmd := &cobra.Command{
		Use:   "run [flags] script.js",
		Short: "Run a browser automation script",
		Long: `Run a browser automation script.

The script is plain JavaScript with a global "browser" object. The value of the
last expression is printed as JSON.`,
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should either be a path to a script file"),
		RunE:    c.run,
	}
	runCmd.Flags().SortFlags = false
	runCmd.Flags().AddFlagSet(configFlagSet())
	return runCmd
}

func printBanner(gs *state.GlobalState) {
	if gs.Console.IsTTY {
		gs.Console.Print(gs.Console.Banner() + "\n\n")
	}
}
