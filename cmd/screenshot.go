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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
)

// pageFlags are shared by the commands opening a single page.
type pageFlags struct {
	waitUntil string
}

func (f *pageFlags) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(&f.waitUntil, "wait-until", string(api.LoadStateLoad),
		"load state to wait for: commit, domcontentloaded, load or networkidle")
	return flags
}

func (f *pageFlags) loadState() (api.LoadState, error) {
	switch s := api.LoadState(f.waitUntil); s {
	case api.LoadStateCommit, api.LoadStateDOMContentLoaded, api.LoadStateLoad, api.LoadStateNetworkIdle:
		return s, nil
	default:
		return "", errext.WithExitCodeIfNone(
			fmt.Errorf("invalid --wait-until %q", f.waitUntil), exitcodes.InvalidConfig)
	}
}

// cmdScreenshot handles the `tabpilot screenshot` sub-command
type cmdScreenshot struct {
	gs *state.GlobalState
	pageFlags

	output   string
	fullPage bool
	format   string
	quality  int
}

func (c *cmdScreenshot) run(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.gs, getConfig(cmd.Flags()))
	if err != nil {
		return err
	}
	ls, err := c.loadState()
	if err != nil {
		return err
	}
	if c.format != "" && c.format != "png" && c.format != "jpeg" {
		return errext.WithExitCodeIfNone(fmt.Errorf("invalid --type %q", c.format), exitcodes.InvalidConfig)
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
	buf, err := p.Screenshot(&api.ScreenshotOptions{
		FullPage: c.fullPage,
		Format:   c.format,
		Quality:  c.quality,
		Path:     c.output,
	})
	if err != nil {
		return err
	}
	if c.output == "" {
		return c.gs.Console.WriteRaw(buf)
	}
	s.logger.Infof("screenshot", "saved %d bytes to %s", len(buf), c.output)
	return nil
}

func getCmdScreenshot(gs *state.GlobalState) *cobra.Command {
	c := &cmdScreenshot{gs: gs}

	exampleText := getExampleText(gs, `
  # Capture the whole page to a file.
  {{.}} screenshot --full-page -o page.png https://example.com

  # Write a JPEG to stdout.
  {{.}} screenshot --type jpeg --quality 80 https://example.com > page.jpg`[1:])

	screenshotCmd := &cobra.Command{
		Use:   "screenshot [flags] url",
		Short: "Capture a page",
		Long: `Capture a page.

Full page captures scroll through the document and stitch the visible areas.`,
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should be the url of the page"),
		RunE:    c.run,
	}
	flags := screenshotCmd.Flags()
	flags.SortFlags = false
	flags.StringVarP(&c.output, "output", "o", "", "write the image to this `file` instead of stdout")
	flags.BoolVar(&c.fullPage, "full-page", false, "capture the whole document")
	flags.StringVar(&c.format, "type", "", "image format, png or jpeg. Inferred from --output when empty")
	flags.IntVar(&c.quality, "quality", 0, "jpeg quality, 0 to 100")
	flags.AddFlagSet(c.pageFlags.flagSet())
	flags.AddFlagSet(configFlagSet())
	return screenshotCmd
}
