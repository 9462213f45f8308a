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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/tabpilot/chromium"
	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/lib/types"
	"github.com/liuxd6825/tabpilot/log"
)

const (
	defaultRelayAddr = "localhost:6580"
	defaultRelayWait = time.Minute
)

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Duration("timeout", 0, "default timeout of actions and waits")
	flags.Duration("navigation-timeout", 0, "default timeout of navigations")
	flags.Duration("slow-mo", 0, "pause after every element action")
	flags.Duration("capture-min-interval", 0, "initial backoff after a rate limited capture")
	flags.Duration("capture-max-interval", 0, "maximum backoff after a rate limited capture")
	flags.Int64("capture-max-retries", 0, "retries of a rate limited capture")
	flags.Duration("barrier-stale-after", 0, "forget readiness barriers idle for this long")
	flags.Int64("barrier-max-tracked", 0, "maximum number of tracked readiness barriers")
	flags.Bool("headless", true, "run the launched browser without a window")
	flags.String("executable-path", "", "browser `executable` to launch")
	flags.String("connect", "", "attach to a running browser at this DevTools websocket `url`")
	flags.String("download-dir", "", "`directory` receiving the downloads of the launched browser")
	flags.String("offline", "", "serve pages from this `directory` with the in-process host")
	flags.String("relay-addr", "", "drive the tabs of a browser extension connecting to this `address`")
	flags.String("relay-token", "", "token the browser extension must present")
	flags.Duration("relay-wait", 0, "how long to wait for the browser extension to connect")
	flags.String("log-level", "", "log `level`: trace, debug, info, warn or error")
	flags.String("log-category-filter", "", "only log categories matching this `regexp`")
	flags.String("traces-output", tracesOutputNone,
		"export spans to this `output`, e.g. otel=http://127.0.0.1:4318/v1/traces,header.Authorization=token")
	return flags
}

// Config is the configuration of a tabpilot command. Unset fields keep their
// defaults.
type Config struct {
	Timeout            types.NullDuration `json:"timeout" yaml:"timeout" envconfig:"TABPILOT_TIMEOUT"`
	NavigationTimeout  types.NullDuration `json:"navigationTimeout" yaml:"navigationTimeout" envconfig:"TABPILOT_NAVIGATION_TIMEOUT"`
	SlowMo             types.NullDuration `json:"slowMo" yaml:"slowMo" envconfig:"TABPILOT_SLOW_MO"`
	CaptureMinInterval types.NullDuration `json:"captureMinInterval" yaml:"captureMinInterval" envconfig:"TABPILOT_CAPTURE_MIN_INTERVAL"`
	CaptureMaxInterval types.NullDuration `json:"captureMaxInterval" yaml:"captureMaxInterval" envconfig:"TABPILOT_CAPTURE_MAX_INTERVAL"`
	CaptureMaxRetries  null.Int           `json:"captureMaxRetries" yaml:"captureMaxRetries" envconfig:"TABPILOT_CAPTURE_MAX_RETRIES"`
	BarrierStaleAfter  types.NullDuration `json:"barrierStaleAfter" yaml:"barrierStaleAfter" envconfig:"TABPILOT_BARRIER_STALE_AFTER"`
	BarrierMaxTracked  null.Int           `json:"barrierMaxTracked" yaml:"barrierMaxTracked" envconfig:"TABPILOT_BARRIER_MAX_TRACKED"`

	Headless       null.Bool   `json:"headless" yaml:"headless" envconfig:"TABPILOT_HEADLESS"`
	ExecutablePath null.String `json:"executablePath" yaml:"executablePath" envconfig:"TABPILOT_EXECUTABLE_PATH"`
	ConnectURL     null.String `json:"connect" yaml:"connect" envconfig:"TABPILOT_CONNECT"`
	DownloadDir    null.String `json:"downloadDir" yaml:"downloadDir" envconfig:"TABPILOT_DOWNLOAD_DIR"`

	Offline    null.String        `json:"offline" yaml:"offline" envconfig:"TABPILOT_OFFLINE"`
	RelayAddr  null.String        `json:"relayAddr" yaml:"relayAddr" envconfig:"TABPILOT_RELAY_ADDR"`
	RelayToken null.String        `json:"-" yaml:"relayToken" envconfig:"TABPILOT_RELAY_TOKEN"`
	RelayWait  types.NullDuration `json:"relayWait" yaml:"relayWait" envconfig:"TABPILOT_RELAY_WAIT"`

	LogLevel          null.String `json:"logLevel" yaml:"logLevel" envconfig:"TABPILOT_LOG_LEVEL"`
	LogCategoryFilter null.String `json:"logCategoryFilter" yaml:"logCategoryFilter" envconfig:"TABPILOT_LOG_CATEGORY_FILTER"`

	TracesOutput null.String `json:"tracesOutput" yaml:"tracesOutput" envconfig:"TABPILOT_TRACES_OUTPUT"`
}

// Apply returns c with the set fields of cfg overriding its own.
//
//nolint:cyclop
func (c Config) Apply(cfg Config) Config {
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	if cfg.NavigationTimeout.Valid {
		c.NavigationTimeout = cfg.NavigationTimeout
	}
	if cfg.SlowMo.Valid {
		c.SlowMo = cfg.SlowMo
	}
	if cfg.CaptureMinInterval.Valid {
		c.CaptureMinInterval = cfg.CaptureMinInterval
	}
	if cfg.CaptureMaxInterval.Valid {
		c.CaptureMaxInterval = cfg.CaptureMaxInterval
	}
	if cfg.CaptureMaxRetries.Valid {
		c.CaptureMaxRetries = cfg.CaptureMaxRetries
	}
	if cfg.BarrierStaleAfter.Valid {
		c.BarrierStaleAfter = cfg.BarrierStaleAfter
	}
	if cfg.BarrierMaxTracked.Valid {
		c.BarrierMaxTracked = cfg.BarrierMaxTracked
	}
	if cfg.Headless.Valid {
		c.Headless = cfg.Headless
	}
	if cfg.ExecutablePath.Valid {
		c.ExecutablePath = cfg.ExecutablePath
	}
	if cfg.ConnectURL.Valid {
		c.ConnectURL = cfg.ConnectURL
	}
	if cfg.DownloadDir.Valid {
		c.DownloadDir = cfg.DownloadDir
	}
	if cfg.Offline.Valid {
		c.Offline = cfg.Offline
	}
	if cfg.RelayAddr.Valid {
		c.RelayAddr = cfg.RelayAddr
	}
	if cfg.RelayToken.Valid {
		c.RelayToken = cfg.RelayToken
	}
	if cfg.RelayWait.Valid {
		c.RelayWait = cfg.RelayWait
	}
	if cfg.LogLevel.Valid {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogCategoryFilter.Valid {
		c.LogCategoryFilter = cfg.LogCategoryFilter
	}
	if cfg.TracesOutput.Valid {
		c.TracesOutput = cfg.TracesOutput
	}
	return c
}

// Gets configuration from CLI flags.
func getConfig(flags *pflag.FlagSet) Config {
	return Config{
		Timeout:            getNullDuration(flags, "timeout"),
		NavigationTimeout:  getNullDuration(flags, "navigation-timeout"),
		SlowMo:             getNullDuration(flags, "slow-mo"),
		CaptureMinInterval: getNullDuration(flags, "capture-min-interval"),
		CaptureMaxInterval: getNullDuration(flags, "capture-max-interval"),
		CaptureMaxRetries:  getNullInt64(flags, "capture-max-retries"),
		BarrierStaleAfter:  getNullDuration(flags, "barrier-stale-after"),
		BarrierMaxTracked:  getNullInt64(flags, "barrier-max-tracked"),
		Headless:           getNullBool(flags, "headless"),
		ExecutablePath:     getNullString(flags, "executable-path"),
		ConnectURL:         getNullString(flags, "connect"),
		DownloadDir:        getNullString(flags, "download-dir"),
		Offline:            getNullString(flags, "offline"),
		RelayAddr:          getNullString(flags, "relay-addr"),
		RelayToken:         getNullString(flags, "relay-token"),
		RelayWait:          getNullDuration(flags, "relay-wait"),
		LogLevel:           getNullString(flags, "log-level"),
		LogCategoryFilter:  getNullString(flags, "log-category-filter"),
		TracesOutput:       getNullString(flags, "traces-output"),
	}
}

// readDiskConfig reads the YAML configuration file. A missing file is only
// an error when it isn't the default one.
func readDiskConfig(gs *state.GlobalState) (Config, error) {
	path := gs.Flags.ConfigFilePath
	data, err := gs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && path == gs.DefaultFlags.ConfigFilePath {
		gs.Logger.Debugf("No config file found at %s", path)
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("couldn't read config file %q: %w", path, err)
	}

	var conf Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("couldn't parse config file %q: %w", path, err)
	}
	return conf, nil
}

// Reads configuration variables from the environment.
func readEnvConfig(env map[string]string) (Config, error) {
	var conf Config
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	return conf, err
}

// getConsolidatedConfig merges, in increasing priority, the config file, the
// environment and the CLI flags, then validates the result.
func getConsolidatedConfig(gs *state.GlobalState, cliConf Config) (Config, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	conf := applyDefault(fileConf.Apply(envConf).Apply(cliConf))
	if err := conf.validate(); err != nil {
		return Config{}, errext.WithExitCodeIfNone(
			fmt.Errorf("invalid configuration: %w", err), exitcodes.InvalidConfig)
	}
	return conf, nil
}

func applyDefault(conf Config) Config {
	if !conf.Headless.Valid {
		conf.Headless = null.BoolFrom(true)
	}
	if !conf.RelayWait.Valid {
		conf.RelayWait = types.NullDurationFrom(defaultRelayWait)
	}
	return conf
}

func (c Config) validate() error {
	var errs []error
	hosts := 0
	for _, v := range []null.String{c.Offline, c.RelayAddr, c.ConnectURL} {
		if v.Valid && v.String != "" {
			hosts++
		}
	}
	if hosts > 1 {
		errs = append(errs, errors.New("only one of offline, relayAddr and connect can be set"))
	}
	if c.LogLevel.Valid {
		if _, err := logrus.ParseLevel(c.LogLevel.String); err != nil {
			errs = append(errs, err)
		}
	}
	if c.LogCategoryFilter.Valid {
		if _, err := regexp.Compile(c.LogCategoryFilter.String); err != nil {
			errs = append(errs, fmt.Errorf("log category filter: %w", err))
		}
	}
	if out := c.TracesOutput.String; out != "" && out != tracesOutputNone {
		if _, err := tracerProviderParamsFromConfigLine(c.TracesOutput.String); err != nil {
			errs = append(errs, fmt.Errorf("traces output: %w", err))
		}
	}
	if _, err := c.browserOptions(nil); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// browserOptions converts the config, metrics go to reg when it isn't nil.
func (c Config) browserOptions(reg prometheus.Registerer) (*common.BrowserOptions, error) {
	opts := common.NewBrowserOptions()
	durations := []struct {
		v   types.NullDuration
		dst *time.Duration
	}{
		{c.Timeout, &opts.Timeout},
		{c.NavigationTimeout, &opts.NavigationTimeout},
		{c.SlowMo, &opts.SlowMo},
		{c.CaptureMinInterval, &opts.CaptureMinInterval},
		{c.CaptureMaxInterval, &opts.CaptureMaxInterval},
		{c.BarrierStaleAfter, &opts.BarrierStaleAfter},
	}
	for _, d := range durations {
		if d.v.Valid {
			*d.dst = d.v.TimeDuration()
		}
	}
	if c.CaptureMaxRetries.Valid {
		opts.CaptureMaxRetries = int(c.CaptureMaxRetries.Int64)
	}
	if c.BarrierMaxTracked.Valid {
		opts.MaxBarriers = int(c.BarrierMaxTracked.Int64)
	}
	if reg != nil {
		opts.Registerer = reg
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (c Config) launchOptions() *chromium.LaunchOptions {
	opts := chromium.NewLaunchOptions()
	if c.Headless.Valid {
		opts.Headless = c.Headless.Bool
	}
	opts.ExecutablePath = c.ExecutablePath.String
	opts.DownloadDir = c.DownloadDir.String
	return opts
}

// newTracerProvider returns the provider of the spans of the browser. The
// caller shuts it down once the browser is closed.
func (c Config) newTracerProvider(ctx context.Context) (*tracerProvider, error) {
	tp, err := tracerProviderFromConfigLine(ctx, c.TracesOutput.String)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	return tp, nil
}

// newLogger returns the category logger of the control plane, writing
// through the logger of the CLI.
func newLogger(gs *state.GlobalState, conf Config) (*log.Logger, error) {
	var filter *regexp.Regexp
	if conf.LogCategoryFilter.Valid && conf.LogCategoryFilter.String != "" {
		var err error
		if filter, err = regexp.Compile(conf.LogCategoryFilter.String); err != nil {
			return nil, fmt.Errorf("compiling log category filter: %w", err)
		}
	}
	logger := log.New(gs.Logger, false, filter)
	if conf.LogLevel.Valid && !gs.Flags.Verbose {
		if err := logger.SetLevel(conf.LogLevel.String); err != nil {
			return nil, err
		}
	}
	return logger, nil
}
