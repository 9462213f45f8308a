package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTimedOut              = errors.New("timed out")
	ErrContextDestroyed      = errors.New("execution context was destroyed, most likely because of a navigation")
	ErrFrameDetached         = errors.New("frame was detached")
	ErrTargetClosed          = errors.New("target page, context or browser has been closed")
	ErrElementNotAttached    = errors.New("element is not attached to the DOM")
	ErrElementNotVisible     = errors.New("element is not visible")
	ErrElementNotEnabled     = errors.New("element is not enabled")
	ErrElementNotEditable    = errors.New("element is not editable")
	ErrWrongExecutionContext = errors.New("element handle belongs to a different execution context")
	ErrHandleDisposed        = errors.New("element handle is disposed")
	ErrContextNotCreated     = errors.New("execution context was not created after the frame became ready")
	ErrDisallowedScheme      = errors.New("only http and https URLs can be navigated to")
	ErrInvalidSelector       = errors.New("invalid selector")
	ErrInvalidOption         = errors.New("invalid option")
	ErrNotIframe             = errors.New("element is not an iframe")
	ErrStrictModeViolation   = errors.New("strict mode violation")
	ErrBarrierEvicted        = errors.New("readiness barrier was evicted")
	ErrNoHistory             = errors.New("no history entry to navigate to")
	ErrStaleSnapshotRef      = errors.New("snapshot ref doesn't refer to a frame of the latest snapshot")
)

// TimeoutError is returned when an operation doesn't finish within its
// timeout. It carries the diagnostic log of the operation.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Elapsed time.Duration
	Log     []string
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: timeout %s exceeded", e.Op, e.Timeout)
	writeCallLog(&b, e.Log)
	return b.String()
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimedOut
}

// OperationError is a failure of an operation other than a timeout.
type OperationError struct {
	Op  string
	Log []string
	Err error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Err)
	writeCallLog(&b, e.Log)
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func writeCallLog(b *strings.Builder, log []string) {
	if len(log) == 0 {
		return
	}
	b.WriteString("\ncall log:")
	for _, l := range log {
		b.WriteString("\n  - ")
		b.WriteString(l)
	}
}

// errorFromDOMError maps the "error:..." results of page functions to errors.
func errorFromDOMError(domErr string) error {
	const strictPrefix = "error:strictmodeviolation:"
	if strings.HasPrefix(domErr, strictPrefix) {
		n, _ := strconv.Atoi(strings.TrimPrefix(domErr, strictPrefix))
		return fmt.Errorf("%w: selector resolved to %d elements", ErrStrictModeViolation, n)
	}
	switch domErr {
	case "error:notconnected":
		return ErrElementNotAttached
	case "error:notvisible":
		return ErrElementNotVisible
	case "error:notcheckbox":
		return errors.New("not a checkbox or radio button")
	case "error:notinput":
		return errors.New("node is not an HTMLInputElement")
	case "error:notfileinput":
		return errors.New("node is not an input[type=file] element")
	case "error:nonmultiple":
		return errors.New("non-multiple file input can only accept single file")
	case "error:notselect":
		return errors.New("element is not a <select> element")
	case "error:notfillableinputtype":
		return errors.New("input of this type cannot be filled")
	case "error:notfillablenumberinput":
		return errors.New("cannot type text into input[type=number]")
	case "error:notfillableelement":
		return errors.New("element is not an <input>, <textarea> or [contenteditable] element")
	case "error:nohistory":
		return ErrNoHistory
	}
	if strings.HasPrefix(domErr, "error:unsupportedengine:") {
		return fmt.Errorf("%w: unsupported selector engine %q",
			ErrInvalidSelector, strings.TrimPrefix(domErr, "error:unsupportedengine:"))
	}
	return errors.New(domErr)
}

// isRetriable reports whether a retrying operation should try again after
// err.
func isRetriable(err error) bool {
	switch {
	case errors.Is(err, ErrElementNotAttached),
		errors.Is(err, ErrElementNotVisible),
		errors.Is(err, ErrElementNotEnabled),
		errors.Is(err, ErrElementNotEditable),
		errors.Is(err, ErrContextDestroyed),
		errors.Is(err, ErrHandleDisposed),
		errors.Is(err, errElementNotFound),
		errors.Is(err, errFrameNotReady):
		return true
	}
	return false
}

var (
	errElementNotFound = errors.New("no element matches selector")
	errFrameNotReady   = errors.New("frame of selector is not attached yet")
)
