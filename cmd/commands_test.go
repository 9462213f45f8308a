package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/browser"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
)

const offlinePage = `<!DOCTYPE html>
<html><head><title>Offline</title></head><body>
<h1>Welcome</h1>
<button>Continue</button>
</body></html>`

// newOfflineTestState returns a test state whose working directory holds a
// site directory with an index.html.
func newOfflineTestState(t *testing.T) *globalTestState {
	t.Helper()
	ts := newGlobalTestState(t)
	ts.writeFile(t, "site/index.html", offlinePage)
	return ts
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	t.Run("offline", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		script := ts.writeFile(t, "script.js", `
			const p = browser.newPage("http://offline.localhost/index.html");
			p.click("button");
			({ title: p.title(), heading: p.textContent("h1") });
		`)
		ts.CmdArgs = append(ts.CmdArgs, "run", "--offline", ts.path("site"), "--timeout", "2s", script)

		ts.execute(t, 0)

		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(ts.Stdout.String()), &got), ts.Stdout.String())
		assert.Equal(t, map[string]string{"title": "Offline", "heading": "Welcome"}, got)
	})

	t.Run("exception", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		script := ts.writeFile(t, "script.js", `throw new Error("boom");`)
		ts.CmdArgs = append(ts.CmdArgs, "run", "--offline", ts.path("site"), script)

		ts.execute(t, exitcodes.ScriptException)
		assert.Contains(t, ts.Stderr.String(), "boom")
	})

	t.Run("missing_script", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)
		ts.CmdArgs = append(ts.CmdArgs, "run", ts.path("nope.js"))

		ts.execute(t, exitcodes.InvalidConfig)
		assert.Contains(t, ts.Stderr.String(), "reading script")
	})

	t.Run("bad_offline_dir", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)
		script := ts.writeFile(t, "script.js", `1`)
		ts.CmdArgs = append(ts.CmdArgs, "run", "--offline", ts.path("missing"), script)

		ts.execute(t, exitcodes.HostUnavailable)
		assert.Contains(t, ts.Stderr.String(), "offline directory")
	})

	t.Run("args", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t, "run")

		ts.execute(t, exitcodes.GenericError)
		assert.Contains(t, ts.Stderr.String(), "accepts 1 arg(s), received 0")
	})
}

func TestScreenshotCommand(t *testing.T) {
	t.Parallel()

	pngHeader := []byte("\x89PNG\r\n\x1a\n")

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		out := ts.path("shots/page.png")
		ts.CmdArgs = append(ts.CmdArgs,
			"screenshot", "--offline", ts.path("site"), "-o", out, "index.html")

		ts.execute(t, 0)

		buf, err := os.ReadFile(out) //nolint:gosec
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(buf, pngHeader))
		assert.Empty(t, ts.Stdout.String())
	})

	t.Run("stdout", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		ts.CmdArgs = append(ts.CmdArgs,
			"screenshot", "--offline", ts.path("site"), "--full-page", "/")

		ts.execute(t, 0)
		assert.True(t, strings.HasPrefix(ts.Stdout.String(), string(pngHeader)))
	})

	t.Run("bad_type", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		ts.CmdArgs = append(ts.CmdArgs,
			"screenshot", "--offline", ts.path("site"), "--type", "gif", "index.html")

		ts.execute(t, exitcodes.InvalidConfig)
	})
}

func TestSnapshotCommand(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		ts.CmdArgs = append(ts.CmdArgs, "snapshot", "--offline", ts.path("site"), "index.html")

		ts.execute(t, 0)
		assert.Contains(t, ts.Stdout.String(), `- h1 "Welcome" [ref=e1]`)
		assert.Contains(t, ts.Stdout.String(), `- button "Continue" [ref=e2]`)
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		ts.CmdArgs = append(ts.CmdArgs,
			"snapshot", "--offline", ts.path("site"), "--json", "--wait-until", "networkidle", "index.html")

		ts.execute(t, 0)

		var got snapshotOutput
		require.NoError(t, json.Unmarshal([]byte(ts.Stdout.String()), &got))
		assert.Equal(t, "http://offline.localhost/index.html", got.URL)
		assert.Equal(t, "Offline", got.Title)
		assert.Contains(t, got.Snapshot, `[ref=e2]`)
	})

	t.Run("bad_wait_until", func(t *testing.T) {
		t.Parallel()
		ts := newOfflineTestState(t)
		ts.CmdArgs = append(ts.CmdArgs,
			"snapshot", "--offline", ts.path("site"), "--wait-until", "idle", "index.html")

		ts.execute(t, exitcodes.InvalidConfig)
		assert.Contains(t, ts.Stderr.String(), `invalid --wait-until`)
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	ts := newGlobalTestState(t, "version")

	ts.execute(t, 0)
	assert.True(t, strings.HasPrefix(ts.Stdout.String(), "tabpilot v"+browser.Version))
}

func TestRootLoggers(t *testing.T) {
	t.Parallel()

	t.Run("unsupported_output", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t, "--log-output", "syslog", "version")

		ts.execute(t, exitcodes.InvalidConfig)
		assert.Contains(t, ts.Stderr.String(), "unsupported log output 'syslog'")
	})

	t.Run("unsupported_format", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t, "--log-format", "xml", "version")

		ts.execute(t, exitcodes.InvalidConfig)
		assert.Contains(t, ts.Stderr.String(), "unsupported log format 'xml'")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t, "--log-format", "json", "run", "missing.js")

		ts.execute(t, exitcodes.InvalidConfig)
		line := strings.TrimSpace(ts.Stderr.String())
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		assert.Equal(t, "error", entry["level"])
		assert.Contains(t, entry["msg"], "reading script")
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		ts := newGlobalTestState(t)
		logFile := ts.path("tabpilot.log")
		ts.CmdArgs = append(ts.CmdArgs, "--log-output", "file="+logFile, "run", ts.path("missing.js"))

		ts.execute(t, exitcodes.InvalidConfig)
		assert.Empty(t, ts.Stderr.String())

		data, err := os.ReadFile(logFile) //nolint:gosec
		require.NoError(t, err)
		assert.Contains(t, string(data), "reading script")
	})
}
