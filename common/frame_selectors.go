package common

import (
	"errors"
	"fmt"

	"github.com/liuxd6825/tabpilot/host"
)

// resolveFrameForSelector walks the frame boundaries of selector starting at
// f. It returns the frame the last chunk of selector runs in, and that chunk.
// Snapshot refs with a frame index jump straight to the frame recorded by the
// last snapshot of the page.
func (f *Frame) resolveFrameForSelector(p *Progress, selector string) (*Frame, *Selector, error) {
	sel, err := NewSelector(selector)
	if err != nil {
		return nil, nil, err
	}

	if n, ref, ok := sel.snapshotRef(); ok {
		frame := f
		if n >= 0 {
			if frame = f.page.snapshotFrame(n); frame == nil {
				return nil, nil, fmt.Errorf("%w: %q", ErrStaleSnapshotRef, selector)
			}
		}
		part := &SelectorPart{Name: "aria-ref", Body: ref}
		return frame, &Selector{Selector: part.String(), Parts: []*SelectorPart{part}}, nil
	}

	chunks, err := sel.splitFrames()
	if err != nil {
		return nil, nil, err
	}
	frame := f
	for _, chunk := range chunks[:len(chunks)-1] {
		if frame, err = frame.enterFrame(p, chunk); err != nil {
			return nil, nil, err
		}
	}
	return frame, chunks[len(chunks)-1], nil
}

// enterFrame resolves chunk in f and returns the content frame of the frame
// owner element it matched.
func (f *Frame) enterFrame(p *Progress, chunk *Selector) (*Frame, error) {
	p.Log("resolving frame %q in frame %d", chunk.Selector, f.id)

	h, err := f.querySelectorInFrame(p, chunk, true)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %q", errElementNotFound, chunk.Selector)
	}
	defer h.release(p)

	child, err := h.contentFrame(p)
	if err != nil {
		if errors.Is(err, ErrNotIframe) {
			return nil, fmt.Errorf("selector %q did not resolve to an iframe: %w", chunk.Selector, ErrNotIframe)
		}
		return nil, err
	}
	p.Link(child.ctx)

	return child, nil
}

// querySelectorInFrame runs a frame local selector in the utility world of f.
// It returns nil if nothing matches.
func (f *Frame) querySelectorInFrame(p *Progress, sel *Selector, strict bool) (*ElementHandle, error) {
	arg, err := sel.arg()
	if err != nil {
		return nil, err
	}
	ec, err := f.executionContext(p, host.UtilityWorld)
	if err != nil {
		return nil, err
	}
	return ec.EvalHandle(p, host.OpQuerySelector, nil, arg, strict)
}

// querySelector resolves selector, crossing frame boundaries, and returns
// the first match or nil.
func (f *Frame) querySelector(p *Progress, selector string, strict bool) (*ElementHandle, error) {
	frame, sel, err := f.resolveFrameForSelector(p, selector)
	if err != nil {
		return nil, err
	}
	return frame.querySelectorInFrame(p, sel, strict)
}

func (f *Frame) querySelectorAll(p *Progress, selector string) ([]*ElementHandle, error) {
	frame, sel, err := f.resolveFrameForSelector(p, selector)
	if err != nil {
		return nil, err
	}
	arg, err := sel.arg()
	if err != nil {
		return nil, err
	}
	ec, err := frame.executionContext(p, host.UtilityWorld)
	if err != nil {
		return nil, err
	}
	return ec.EvalHandles(p, host.OpQuerySelectorAll, nil, arg)
}

func (f *Frame) queryCount(p *Progress, selector string) (int, error) {
	frame, sel, err := f.resolveFrameForSelector(p, selector)
	if err != nil {
		return 0, err
	}
	arg, err := sel.arg()
	if err != nil {
		return 0, err
	}
	ec, err := frame.executionContext(p, host.UtilityWorld)
	if err != nil {
		return 0, err
	}
	var n int
	err = ec.EvalInto(p, &n, host.OpQueryCount, nil, arg)
	return n, err
}

// waitForSelector polls selector until its match reaches state. It returns
// nil for the detached and hidden states.
func (f *Frame) waitForSelector(p *Progress, selector string, state DOMElementState, strict bool) (*ElementHandle, error) {
	p.Log("waiting for selector %q to be %s", selector, state)

	for {
		h, done, err := f.checkSelectorState(p, selector, state, strict)
		if err != nil && !isRetriable(err) {
			return nil, err
		}
		if err == nil && done {
			return h, nil
		}
		if err := p.Sleep(waitForSelectorPollInterval); err != nil {
			return nil, err
		}
	}
}

func (f *Frame) checkSelectorState(
	p *Progress, selector string, state DOMElementState, strict bool,
) (*ElementHandle, bool, error) {
	h, err := f.querySelector(p, selector, strict)
	if err != nil {
		return nil, false, err
	}
	switch state {
	case DOMElementStateAttached:
		return h, h != nil, nil
	case DOMElementStateDetached:
		if h != nil {
			h.release(p)
		}
		return nil, h == nil, nil
	}
	if h == nil {
		return nil, state == DOMElementStateHidden, nil
	}
	visible, err := h.checkState(p, "visible")
	if err != nil {
		return nil, false, err
	}
	if state == DOMElementStateVisible {
		if visible {
			return h, true, nil
		}
		h.release(p)
		return nil, false, nil
	}
	h.release(p)
	return nil, !visible, nil
}

// retry runs fn on the retry schedule until it succeeds, fails with an error
// that isn't retriable, or p ends.
func retry[T any](p *Progress, metrics *Metrics, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := p.Sleep(locatorRetrySchedule[min(attempt, len(locatorRetrySchedule)-1)]); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil || !isRetriable(err) {
			return v, err
		}
		if perr := p.Err(); perr != nil {
			return zero, perr
		}
		metrics.LocatorRetries.Inc()
		p.Log("attempt #%d: %v, retrying", attempt+1, err)
	}
}

// retryOnSelector resolves selector again on every attempt and runs fn on
// its match.
func retryOnSelector[T any](p *Progress, f *Frame, selector string, strict bool, fn func(*ElementHandle) (T, error)) (T, error) {
	return retry(p, f.manager.metrics, func() (T, error) {
		var zero T
		h, err := f.querySelector(p, selector, strict)
		if err != nil {
			return zero, err
		}
		if h == nil {
			return zero, fmt.Errorf("%w: %q", errElementNotFound, selector)
		}
		defer h.release(p)
		return fn(h)
	})
}
