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
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/chromium"
	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/htmlhost"
	"github.com/liuxd6825/tabpilot/log"
	"github.com/liuxd6825/tabpilot/relay"
)

// offlineOrigin is the origin of the pages served from the offline directory.
const offlineOrigin = "http://offline.localhost/"

const serverShutdownTimeout = 5 * time.Second

// tabHost is a host whose tabs can also be opened and closed.
type tabHost interface {
	host.Host
	host.Opener
}

// session is a browser driving one host, together with everything that has to
// be torn down with it.
type session struct {
	browser  *common.Browser
	host     tabHost
	registry *prometheus.Registry
	logger   *log.Logger
	offline  bool

	closers []func()
}

// newSession starts the host selected by conf and a browser driving it.
func newSession(gs *state.GlobalState, conf Config) (*session, error) {
	logger, err := newLogger(gs, conf)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	s := &session{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	if err := s.startHost(gs, conf); err != nil {
		s.close()
		return nil, errext.WithExitCodeIfNone(err, exitcodes.HostUnavailable)
	}

	opts, err := conf.browserOptions(s.registry)
	if err != nil {
		s.close()
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	tp, err := conf.newTracerProvider(gs.Ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	opts.TracerProvider = tp
	s.closers = append(s.closers, func() { shutdownTracerProvider(tp, logger) })
	b, err := common.NewBrowser(gs.Ctx, s.host, opts, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.browser = b
	s.closers = append(s.closers, func() {
		if err := b.Close(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("session", "closing browser: %v", err)
		}
	})
	return s, nil
}

func (s *session) startHost(gs *state.GlobalState, conf Config) error {
	switch {
	case conf.Offline.String != "":
		dir := conf.Offline.String
		fi, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("offline directory: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("offline directory: %s is not a directory", dir)
		}
		h := htmlhost.New(htmlhost.Options{
			Site:   htmlhost.NewFSSite(os.DirFS(dir)),
			Logger: s.logger,
		})
		s.host, s.offline = h, true
		s.closers = append(s.closers, h.Close)
		s.logger.Debugf("session", "serving %s as %s", dir, offlineOrigin)
		return nil

	case conf.RelayAddr.String != "":
		return s.startRelay(gs.Ctx, conf)

	case conf.ConnectURL.String != "":
		h, err := chromium.Connect(gs.Ctx, conf.ConnectURL.String, conf.launchOptions(), s.logger)
		if err != nil {
			return err
		}
		s.host = h
		s.closers = append(s.closers, func() { _ = h.Close() })
		return nil

	default:
		h, err := chromium.Launch(gs.Ctx, conf.launchOptions(), s.logger)
		if errors.Is(err, chromium.ErrExecutableNotFound) {
			return errext.WithHint(err,
				"install Chromium, set --executable-path or use --offline, --connect or --relay-addr")
		}
		if err != nil {
			return err
		}
		s.host = h
		s.closers = append(s.closers, func() { _ = h.Close() })
		return nil
	}
}

// startRelay serves the relay on conf.RelayAddr and waits for the extension
// to connect.
func (s *session) startRelay(ctx context.Context, conf Config) error {
	r := relay.New(relay.Options{
		Token:      conf.RelayToken.String,
		Registerer: s.registry,
		Logger:     s.logger,
	})
	s.host = r
	s.closers = append(s.closers, r.Close)

	stop, err := serveRelay(r, conf.RelayAddr.String, s.registry, s.logger)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, stop)

	wait := conf.RelayWait.TimeDuration()
	s.logger.Infof("session", "waiting %s for the extension to connect to ws://%s/ws", wait, conf.RelayAddr.String)
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := r.WaitConnected(wctx); err != nil {
		return errext.WithHint(
			fmt.Errorf("no extension connected to %s: %w", conf.RelayAddr.String, err),
			"check that the extension is installed and points to this address")
	}
	return nil
}

// serveRelay listens on addr before returning, so address errors are reported
// synchronously. The returned func shuts the server down.
func serveRelay(r *relay.Relay, addr string, g prometheus.Gatherer, logger *log.Logger) (func(), error) {
	srv := r.NewServer(addr, g)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay server: %w", err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("relay", "server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("relay", "shutting down server: %v", err)
		}
	}, nil
}

// resolveURL turns the file paths accepted in offline mode into page URLs.
func (s *session) resolveURL(raw string) string {
	if !s.offline || strings.Contains(raw, ":") {
		return raw
	}
	return offlineOrigin + strings.TrimPrefix(raw, "/")
}

// openPage opens rawURL in a new tab and waits for it to reach state.
func (s *session) openPage(rawURL string, state api.LoadState, timeout time.Duration) (*common.Page, error) {
	rawURL = s.resolveURL(rawURL)
	tid, err := s.host.Open(rawURL)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(fmt.Errorf("opening %q: %w", rawURL, err), exitcodes.NavigationFailed)
	}
	p, err := s.browser.NewPage(tid)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = api.LoadStateLoad
	}
	if err := p.WaitForLoadState(state, &api.WaitForLoadStateOptions{Timeout: timeout}); err != nil {
		return nil, errext.WithExitCodeIfNone(fmt.Errorf("loading %q: %w", rawURL, err), exitcodes.NavigationFailed)
	}
	return p, nil
}

// close tears the session down in reverse order of construction.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func shutdownTracerProvider(tp *tracerProvider, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warnf("session", "flushing traces: %v", err)
	}
}
