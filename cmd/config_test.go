package cmd

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/lib/types"
)

func cliConfig(t *testing.T, args ...string) Config {
	t.Helper()
	flags := configFlagSet()
	require.NoError(t, flags.Parse(args))
	return getConfig(flags)
}

func TestConfigConsolidation(t *testing.T) {
	t.Parallel()

	const fileConf = `
timeout: 10s
navigationTimeout: 1m
headless: false
captureMaxRetries: 5
logLevel: warn
`

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)

		conf, err := getConsolidatedConfig(ts.GlobalState, cliConfig(t))
		require.NoError(t, err)
		assert.Equal(t, null.BoolFrom(true), conf.Headless)
		assert.Equal(t, types.NullDurationFrom(defaultRelayWait), conf.RelayWait)
		assert.False(t, conf.Timeout.Valid)
		assert.False(t, conf.Offline.Valid)
	})

	t.Run("file_env_cli", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)
		ts.Flags.ConfigFilePath = ts.writeFile(t, "tabpilot.yaml", fileConf)
		ts.Env["TABPILOT_TIMEOUT"] = "20s"
		ts.Env["TABPILOT_OFFLINE"] = "./site"
		ts.Env["TABPILOT_CAPTURE_MAX_RETRIES"] = "3"

		conf, err := getConsolidatedConfig(ts.GlobalState, cliConfig(t))
		require.NoError(t, err)
		assert.Equal(t, types.NullDurationFrom(20*time.Second), conf.Timeout)
		assert.Equal(t, types.NullDurationFrom(time.Minute), conf.NavigationTimeout)
		assert.Equal(t, null.BoolFrom(false), conf.Headless)
		assert.Equal(t, null.IntFrom(3), conf.CaptureMaxRetries)
		assert.Equal(t, null.StringFrom("./site"), conf.Offline)
		assert.Equal(t, null.StringFrom("warn"), conf.LogLevel)

		conf, err = getConsolidatedConfig(ts.GlobalState,
			cliConfig(t, "--timeout", "30s", "--headless=true", "--capture-max-retries", "1"))
		require.NoError(t, err)
		assert.Equal(t, types.NullDurationFrom(30*time.Second), conf.Timeout)
		assert.Equal(t, null.BoolFrom(true), conf.Headless)
		assert.Equal(t, null.IntFrom(1), conf.CaptureMaxRetries)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			name string
			file string
			env  map[string]string
			cli  []string
			err  string
		}{
			{name: "unknown_key", file: "timeOut: 1s\n", err: "field timeOut not found"},
			{name: "bad_duration", file: "timeout: soon\n", err: "couldn't parse config file"},
			{name: "bad_env", env: map[string]string{"TABPILOT_SLOW_MO": "slow"}, err: "TABPILOT_SLOW_MO"},
			{
				name: "two_hosts",
				env:  map[string]string{"TABPILOT_OFFLINE": "./site"},
				cli:  []string{"--relay-addr", "localhost:0"},
				err:  "only one of offline, relayAddr and connect can be set",
			},
			{name: "log_level", cli: []string{"--log-level", "loud"}, err: "not a valid logrus Level"},
			{name: "log_filter", cli: []string{"--log-category-filter", "("}, err: "log category filter"},
			{
				name: "capture_interval",
				cli:  []string{"--capture-min-interval", "2s", "--capture-max-interval", "1s"},
				err:  "captureMaxInterval 1s is below captureMinInterval 2s",
			},
			{name: "traces_output", cli: []string{"--traces-output", "jaeger"}, err: "traces output: invalid traces output"},
			{name: "negative", cli: []string{"--timeout=-1s"}, err: "timeout must not be negative"},
		}
		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				ts := newGlobalTestState(t)
				if tc.file != "" {
					ts.Flags.ConfigFilePath = ts.writeFile(t, "tabpilot.yaml", tc.file)
				}
				for k, v := range tc.env {
					ts.Env[k] = v
				}

				_, err := getConsolidatedConfig(ts.GlobalState, cliConfig(t, tc.cli...))
				require.Error(t, err)
				assert.ErrorContains(t, err, tc.err)
				assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err))
			})
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)
		ts.Flags.ConfigFilePath = ts.path("nope.yaml")

		_, err := getConsolidatedConfig(ts.GlobalState, cliConfig(t))
		require.Error(t, err)
		assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err))
	})
}

func TestConfigConversions(t *testing.T) {
	t.Parallel()

	conf := Config{
		Timeout:           types.NullDurationFrom(5 * time.Second),
		SlowMo:            types.NullDurationFrom(100 * time.Millisecond),
		CaptureMaxRetries: null.IntFrom(2),
		BarrierMaxTracked: null.IntFrom(10),
		Headless:          null.BoolFrom(false),
		ExecutablePath:    null.StringFrom("/usr/bin/chromium"),
		DownloadDir:       null.StringFrom("/tmp/downloads"),
	}

	reg := prometheus.NewRegistry()
	opts, err := conf.browserOptions(reg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 100*time.Millisecond, opts.SlowMo)
	assert.Equal(t, 2, opts.CaptureMaxRetries)
	assert.Equal(t, 10, opts.MaxBarriers)
	assert.Equal(t, prometheus.Registerer(reg), opts.Registerer)

	lopts := conf.launchOptions()
	assert.False(t, lopts.Headless)
	assert.Equal(t, "/usr/bin/chromium", lopts.ExecutablePath)
	assert.Equal(t, "/tmp/downloads", lopts.DownloadDir)
}
