package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/liuxd6825/tabpilot/log"
)

var (
	errProgressDeadline  = errors.New("progress deadline exceeded")
	errProgressCompleted = errors.New("progress completed")
)

// Progress bounds one user visible operation: every suspend point of the
// operation waits under its context, so a single timeout or cancellation
// aborts the whole call tree.
type Progress struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	op      string
	timeout time.Duration
	started time.Time
	logger  *log.Logger
	stops   []func() bool

	mu        sync.Mutex
	log       []string
	cleanups  []func()
	aborted   bool
	completed bool
}

// NewProgress starts an operation named op. A zero timeout means no
// deadline. Call Close once the operation is over.
func NewProgress(ctx context.Context, op string, timeout time.Duration, logger *log.Logger) *Progress {
	cctx, cancel := context.WithCancelCause(ctx)
	p := &Progress{
		cancel:  cancel,
		op:      op,
		timeout: timeout,
		started: time.Now(),
		logger:  logger,
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		cctx, cancelTimeout = context.WithTimeoutCause(cctx, timeout, errProgressDeadline)
		p.stops = append(p.stops, func() bool { cancelTimeout(); return true })
	}
	p.ctx = cctx
	p.stops = append(p.stops, context.AfterFunc(cctx, p.abort))

	return p
}

// Link aborts the progress with the cause of ctx once ctx is done. It's used
// to tie an operation to the lifetime of a frame or page.
func (p *Progress) Link(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		p.cancel(context.Cause(ctx))
	})
	p.mu.Lock()
	p.stops = append(p.stops, stop)
	p.mu.Unlock()
}

// Close ends the operation without running cleanups.
func (p *Progress) Close() {
	p.mu.Lock()
	if !p.aborted {
		p.completed = true
	}
	stops := p.stops
	p.stops = nil
	p.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	p.cancel(errProgressCompleted)
}

// Cancel aborts the operation with err as cause.
func (p *Progress) Cancel(err error) {
	if err == nil {
		err = context.Canceled
	}
	p.cancel(err)
}

func (p *Progress) abort() {
	p.mu.Lock()
	if p.completed || p.aborted {
		p.mu.Unlock()
		return
	}
	p.aborted = true
	cleanups := p.cleanups
	p.cleanups = nil
	p.mu.Unlock()

	p.logger.Debugf("Progress:abort", "op:%q cause:%v", p.op, context.Cause(p.ctx))
	for _, fn := range cleanups {
		fn()
	}
}

// CleanupWhenAborted registers fn to run once if the operation times out or
// is cancelled. fn runs right away if that already happened.
func (p *Progress) CleanupWhenAborted(fn func()) {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		fn()
		return
	}
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.cleanups = append(p.cleanups, fn)
	p.mu.Unlock()
}

// Log appends a line to the diagnostic trail attached to errors of the
// operation.
func (p *Progress) Log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.mu.Lock()
	p.log = append(p.log, msg)
	p.mu.Unlock()

	p.logger.Debugf("Progress:log", "op:%q %s", p.op, msg)
}

func (p *Progress) logLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.log...)
}

// Context returns the context of the operation.
func (p *Progress) Context() context.Context {
	return p.ctx
}

// Done is closed once the operation is aborted or closed.
func (p *Progress) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Deadline returns the deadline of the operation, if it has one.
func (p *Progress) Deadline() (time.Time, bool) {
	return p.ctx.Deadline()
}

// Remaining returns the time left until the deadline. It returns a negative
// value if the operation has no deadline.
func (p *Progress) Remaining() time.Duration {
	d, ok := p.ctx.Deadline()
	if !ok {
		return -1
	}
	return time.Until(d)
}

// Op returns the name of the operation.
func (p *Progress) Op() string {
	return p.op
}

// Err returns nil while the operation is running, a *TimeoutError once its
// deadline passed, or an *OperationError wrapping the cancellation cause.
func (p *Progress) Err() error {
	if p.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(p.ctx)
	if errors.Is(cause, errProgressDeadline) {
		return &TimeoutError{
			Op:      p.op,
			Timeout: p.timeout,
			Elapsed: time.Since(p.started),
			Log:     p.logLines(),
		}
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return &TimeoutError{
			Op:      p.op,
			Timeout: time.Since(p.started),
			Elapsed: time.Since(p.started),
			Log:     p.logLines(),
		}
	}
	return &OperationError{Op: p.op, Log: p.logLines(), Err: cause}
}

// wrap attaches the operation name and log to an error returned by a step
// of the operation. Errors already carrying them are returned as is.
func (p *Progress) wrap(err error) error {
	if err == nil {
		return nil
	}
	var (
		te *TimeoutError
		oe *OperationError
	)
	if errors.As(err, &te) || errors.As(err, &oe) {
		return err
	}
	return &OperationError{Op: p.op, Log: p.logLines(), Err: err}
}

// Race runs fn under the context of p. It returns the result of fn, or the
// error of p if the operation ends first.
func Race[T any](p *Progress, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(p.ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if err := p.Err(); err != nil {
				return zero, err
			}
		}
		return r.v, r.err
	case <-p.ctx.Done():
		return zero, p.Err()
	}
}

// Sleep waits for d or until the operation ends.
func (p *Progress) Sleep(d time.Duration) error {
	if d <= 0 {
		return p.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-p.ctx.Done():
		return p.Err()
	}
}

// Wait waits until ch is closed or receives, or until the operation ends.
func Wait[T any](p *Progress, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-p.ctx.Done():
		var zero T
		return zero, p.Err()
	}
}
