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

package chromium

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/log"
)

// DefaultLaunchTimeout bounds starting or connecting to a browser.
const DefaultLaunchTimeout = 30 * time.Second

// LaunchOptions controls how a Chromium browser is started or connected to.
type LaunchOptions struct {
	// ExecutablePath of the browser. Found on the PATH when empty.
	ExecutablePath string
	Headless       bool
	// Args are extra "name=value" or "name" command line flags.
	Args []string
	// IgnoreDefaultArgs removes default flags by name.
	IgnoreDefaultArgs []string
	Env               []string
	// DownloadDir receives downloads. Downloads are reported but denied
	// when empty.
	DownloadDir string
	Timeout     time.Duration
}

// NewLaunchOptions returns the default launch options.
func NewLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Headless: true,
		Timeout:  DefaultLaunchTimeout,
	}
}

// Launch starts a new Chromium browser process and returns a host driving it.
func Launch(ctx context.Context, opts *LaunchOptions, logger *log.Logger) (*Host, error) {
	if opts == nil {
		opts = NewLaunchOptions()
	}
	flags, err := prepareFlags(opts)
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	path := opts.ExecutablePath
	if path == "" {
		path = ExecutablePath()
	}
	if path == "" {
		return nil, fmt.Errorf("launching browser: %w", ErrExecutableNotFound)
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(path),
		chromedp.WSURLReadTimeout(opts.Timeout),
	}
	if len(opts.Env) > 0 {
		allocOpts = append(allocOpts, chromedp.Env(opts.Env...))
	}
	for _, name := range sortedFlagNames(flags) {
		allocOpts = append(allocOpts, chromedp.Flag(name, flags[name]))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)

	h, err := start(allocCtx, allocCancel, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	return h, nil
}

// Connect attaches to a running browser listening on wsURL.
func Connect(ctx context.Context, wsURL string, opts *LaunchOptions, logger *log.Logger) (*Host, error) {
	if opts == nil {
		opts = NewLaunchOptions()
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, wsURL)

	h, err := start(allocCtx, allocCancel, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	return h, nil
}

func start(
	allocCtx context.Context, allocCancel context.CancelFunc, opts *LaunchOptions, logger *log.Logger,
) (_ *Host, rerr error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	bctx, bcancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Errorf("chromedp", format, args...)
		}),
		chromedp.WithDebugf(func(format string, args ...any) {
			logger.Tracef("chromedp", format, args...)
		}),
	)
	cancel := func() {
		bcancel()
		allocCancel()
	}
	defer func() {
		if rerr != nil {
			cancel()
		}
	}()

	h := newHost(bctx, cancel, logger)
	chromedp.ListenBrowser(bctx, h.onBrowserEvent)

	tctx, tcancel := context.WithTimeout(bctx, opts.Timeout)
	defer tcancel()
	// The first run starts the browser and attaches to its first tab.
	if err := chromedp.Run(bctx); err != nil {
		return nil, err //nolint:wrapcheck
	}

	c := chromedp.FromContext(bctx)
	bexec := cdp.WithExecutor(tctx, c.Browser)
	if err := target.SetDiscoverTargets(true).Do(bexec); err != nil {
		return nil, fmt.Errorf("discovering targets: %w", err)
	}
	behavior := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny)
	if opts.DownloadDir != "" {
		behavior = browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(opts.DownloadDir)
	}
	if err := behavior.WithEventsEnabled(true).Do(bexec); err != nil {
		return nil, fmt.Errorf("setting download behavior: %w", err)
	}

	if _, err := h.attach(tctx, bctx, nil); err != nil {
		return nil, err
	}

	return h, nil
}

// ExecutablePath returns the first Chromium executable found on the system.
func ExecutablePath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}

func prepareFlags(opts *LaunchOptions) (map[string]any, error) {
	// After Puppeteer's and Playwright's default behavior.
	f := map[string]any{
		"disable-background-networking":                      true,
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		// Frames must share the session of their page.
		"disable-features":                "site-per-process,IsolateOrigins,LazyFrameLoading,GlobalMediaControls,MediaRouter,AcceptCHFrame",
		"disable-hang-monitor":            true,
		"disable-ipc-flooding-protection": true,
		"disable-popup-blocking":          true,
		"disable-prompt-on-repost":        true,
		"disable-renderer-backgrounding":  true,
		"force-color-profile":             "srgb",
		"metrics-recording-only":          true,
		"no-first-run":                    true,
		"enable-automation":               true,
		"password-store":                  "basic",
		"use-mock-keychain":               true,
		"no-service-autorun":              true,
		"no-default-browser-check":        true,
		"headless":                        opts.Headless,
		"window-size":                     fmt.Sprintf("%d,%d", 1280, 720),
	}
	if opts.Headless {
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
	}
	if os.Getuid() == 0 {
		// Chromium refuses to start as root without it.
		f["no-sandbox"] = true
	}
	ignoreDefaultArgsFlags(f, opts.IgnoreDefaultArgs)
	setFlagsFromArgs(f, opts.Args)

	for name, value := range f {
		switch value.(type) {
		case string, bool:
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}

	return f, nil
}

// ignoreDefaultArgsFlags ignores any flags in the provided slice.
func ignoreDefaultArgsFlags(flags map[string]any, toIgnore []string) {
	for _, name := range toIgnore {
		delete(flags, strings.TrimPrefix(name, "--"))
	}
}

// setFlagsFromArgs fills flags by parsing "name=value" arguments.
func setFlagsFromArgs(flags map[string]any, args []string) {
	var argname, argval string
	for _, arg := range args {
		pair := strings.SplitN(arg, "=", 2)
		argname, argval = strings.TrimPrefix(strings.TrimSpace(pair[0]), "--"), ""
		if len(pair) > 1 {
			argval = common.TrimQuotes(strings.TrimSpace(pair[1]))
		}
		flags[argname] = argval
	}
}

func sortedFlagNames(flags map[string]any) []string {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
