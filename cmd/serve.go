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
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/relay"
)

// cmdServe handles the `tabpilot serve` sub-command
type cmdServe struct {
	gs *state.GlobalState
}

func (c *cmdServe) run(cmd *cobra.Command, _ []string) error {
	cliConf := getConfig(cmd.Flags())
	conf, err := getConsolidatedConfig(c.gs, cliConf)
	if err != nil {
		return err
	}
	addr := conf.RelayAddr.String
	if addr == "" {
		addr = defaultRelayAddr
	}
	logger, err := newLogger(c.gs, conf)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(c.gs.Ctx)
	defer cancel()
	stopSignalHandling := handleAbortSignals(c.gs, func(sig os.Signal) {
		c.gs.Logger.WithField("sig", sig).Info("Stopping the relay in response to signal...")
		cancel()
	}, nil)
	defer stopSignalHandling()

	r := relay.New(relay.Options{
		Token:      conf.RelayToken.String,
		Registerer: reg,
		Logger:     logger,
	})
	defer r.Close()

	opts, err := conf.browserOptions(reg)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	tp, err := conf.newTracerProvider(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracerProvider(tp, logger)
	opts.TracerProvider = tp
	// The browser only tracks navigations here, so its metrics are served
	// along with the ones of the relay.
	b, err := common.NewBrowser(ctx, r, opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	stop, err := serveRelay(r, addr, reg, logger)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.HostUnavailable)
	}
	defer stop()

	if !c.gs.Flags.Quiet {
		printBanner(c.gs)
		c.gs.Console.Printf("  relay: ws://%s/ws\n  metrics: http://%s/metrics\n\n",
			addr, addr)
	}

	for ev := range r.Subscribe(ctx) {
		switch ev := ev.(type) {
		case *host.NavigationEvent:
			if ev.Kind == host.NavigationCommitted && ev.Frame == host.MainFrameID {
				logger.Infof("serve", "tid:%d navigated to %s", ev.Target, ev.URL)
			}
		case *host.TargetRemovedEvent:
			logger.Infof("serve", "tid:%d removed", ev.Target)
		}
	}
	return nil
}

func getCmdServe(gs *state.GlobalState) *cobra.Command {
	c := &cmdServe{gs: gs}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extension relay",
		Long: `Serve the extension relay along with its metrics and target list.

The browser extension connects to /ws. /targets lists the tabs it reports,
/metrics exposes Prometheus metrics and /script/main the page script.`,
		Example: getExampleText(gs, `  {{.}} serve --relay-addr 0.0.0.0:6580 --relay-token secret`),
		Args:    cobra.NoArgs,
		RunE:    c.run,
	}
	serveCmd.Flags().SortFlags = false
	serveCmd.Flags().AddFlagSet(configFlagSet())
	return serveCmd
}
