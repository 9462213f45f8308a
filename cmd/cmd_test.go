package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/cmd/state"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/ui/console"
)

// safeBuffer is a console output that isn't a terminal.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Fd() uintptr { return ^uintptr(0) }

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// globalTestState is a GlobalState writing to buffers and recording the
// exit code instead of exiting.
type globalTestState struct {
	*state.GlobalState
	Stdout, Stderr *safeBuffer
	Cwd            string

	exitCode int
	exited   bool
}

func newGlobalTestState(t *testing.T, args ...string) *globalTestState {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ts := &globalTestState{
		Stdout: &safeBuffer{},
		Stderr: &safeBuffer{},
		Cwd:    t.TempDir(),
	}
	con := console.New(ts.Stdout, ts.Stderr, bytes.NewReader(nil), false, "dumb")
	defaultFlags := state.GetDefaultGlobalOptions(filepath.Join(ts.Cwd, ".config"))

	logger := &logrus.Logger{
		Out:       con.Stderr,
		Formatter: &logrus.TextFormatter{DisableColors: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	ts.GlobalState = &state.GlobalState{
		Ctx:          ctx,
		Getwd:        func() (string, error) { return ts.Cwd, nil },
		BinaryName:   "tabpilot",
		CmdArgs:      append([]string{"tabpilot"}, args...),
		Env:          map[string]string{},
		ReadFile:     os.ReadFile,
		WriteFile:    os.WriteFile,
		DefaultFlags: defaultFlags,
		Flags:        defaultFlags,
		Console:      con,
		OSExit: func(code int) {
			ts.exitCode = code
			ts.exited = true
		},
		SignalNotify:   func(chan<- os.Signal, ...os.Signal) {},
		SignalStop:     func(chan<- os.Signal) {},
		Logger:         logger,
		FallbackLogger: logger,
	}
	return ts
}

// path returns the absolute path of name in the working directory.
func (ts *globalTestState) path(name string) string {
	return filepath.Join(ts.Cwd, name)
}

func (ts *globalTestState) writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := ts.path(name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

// execute runs the root command and requires it to exit with code.
func (ts *globalTestState) execute(t *testing.T, code exitcodes.ExitCode) {
	t.Helper()
	ExecuteWithGlobalState(ts.GlobalState)
	require.True(t, ts.exited, "OSExit wasn't called")
	require.Equal(t, int(code), ts.exitCode, "stdout:\n%s\nstderr:\n%s", ts.Stdout, ts.Stderr)
}
