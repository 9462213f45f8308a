// Package browser runs automation scripts in a goja runtime. Scripts see a
// global browser object opening pages, and the pages, frames, locators and
// element handles of the control plane.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Version of the scripting API.
const Version = "0.1.0"

// moduleVU is what mappings need from the runner.
type moduleVU struct {
	ctx     context.Context
	rt      *goja.Runtime
	browser *common.Browser
	opener  host.Opener
	logger  *log.Logger
}

// Runner runs scripts against one browser. A runner isn't safe for
// concurrent use.
type Runner struct {
	vu moduleVU
}

// NewRunner returns a runner whose scripts open pages with opener and drive
// them through b.
func NewRunner(ctx context.Context, b *common.Browser, opener host.Opener, logger *log.Logger) (*Runner, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	vu := moduleVU{
		ctx:     ctx,
		rt:      rt,
		browser: b,
		opener:  opener,
		logger:  logger,
	}
	globals := map[string]any{
		"browser": toObject(rt, mapBrowser(vu)),
		"console": toObject(rt, mapConsole(logger)),
		"sleep":   vu.sleep,
	}
	for k, v := range globals {
		if err := rt.Set(k, v); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", k, err)
		}
	}

	return &Runner{vu: vu}, nil
}

func (vu moduleVU) sleep(ms float64) error {
	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-vu.ctx.Done():
		return vu.ctx.Err()
	}
}

// Run executes src. The script is interrupted once the context of the runner
// is done. Script errors carry an exit code and, for exceptions, the stack
// trace.
func (r *Runner) Run(name, src string) (goja.Value, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.vu.ctx.Done():
			r.vu.rt.Interrupt(r.vu.ctx.Err())
		case <-done:
		}
	}()

	r.vu.logger.Debugf("Runner:Run", "script:%q", name)
	v, err := r.vu.rt.RunScript(name, src)
	if err != nil {
		return nil, scriptError(err)
	}
	return v, nil
}

// scriptError attaches exit codes to the errors of a script run.
func scriptError(err error) error {
	var ierr *goja.InterruptedError
	if errors.As(err, &ierr) {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("script interrupted: %v", ierr.Value()), exitcodes.ExternalAbort)
	}
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
	}

	serr := &scriptException{ex: ex}
	switch {
	case errors.Is(serr, common.ErrTimedOut):
		return errext.WithExitCodeIfNone(serr, exitcodes.GenericTimeout)
	case errors.Is(serr, common.ErrDisallowedScheme):
		return errext.WithHint(
			errext.WithExitCodeIfNone(serr, exitcodes.NavigationFailed),
			"pages can only be navigated to http and https URLs")
	}
	return errext.WithExitCodeIfNone(serr, exitcodes.ScriptException)
}

// scriptException is an exception thrown by a script.
type scriptException struct {
	ex *goja.Exception
}

var _ errext.Exception = &scriptException{}

func (e *scriptException) Error() string {
	return e.ex.Error()
}

// StackTrace returns the message and the JS stack of the exception.
func (e *scriptException) StackTrace() string {
	return e.ex.String()
}

// Unwrap returns the Go error the exception was thrown for, if any.
func (e *scriptException) Unwrap() error {
	obj, ok := e.ex.Value().(*goja.Object)
	if !ok {
		return nil
	}
	// GoError objects keep the error under "value".
	v := obj.Get("value")
	if !gojaValueExists(v) {
		return nil
	}
	err, _ := v.Export().(error)
	return err
}
