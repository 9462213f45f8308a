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

package common

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

var executionContextSeq atomic.Int64 //nolint:gochecknoglobals

// ExecutionContext is the bridge to one world of one document of a frame.
// It's destroyed when the frame commits a new document, which rejects its
// pending and future calls with ErrContextDestroyed.
type ExecutionContext struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	host   host.Injector
	logger *log.Logger
	frame  *Frame
	target host.ScriptTarget
	docID  string
	id     int64
}

// NewExecutionContext creates the bridge to world of the document docID of
// frame. It lives until destroyed or until ctx is done.
func NewExecutionContext(
	ctx context.Context, inj host.Injector, f *Frame, world host.World, docID string, l *log.Logger,
) *ExecutionContext {
	cctx, cancel := context.WithCancelCause(ctx)
	e := &ExecutionContext{
		ctx:    cctx,
		cancel: cancel,
		host:   inj,
		logger: l,
		frame:  f,
		target: host.ScriptTarget{Target: f.page.targetID, Frame: f.id, World: world},
		docID:  docID,
		id:     executionContextSeq.Add(1),
	}
	l.Debugf("NewExecutionContext", "%s ectxid:%d doc:%q", e.target, e.id, docID)

	return e
}

// eval runs a page function in this context. It fails with
// ErrContextDestroyed if the context is destroyed before the call returns.
func (e *ExecutionContext) eval(p *Progress, op host.Op, args ...any) (*host.Result, error) {
	e.logger.Debugf("ExecutionContext:eval", "%s ectxid:%d op:%s", e.target, e.id, op)

	if e.destroyed() {
		return nil, ErrContextDestroyed
	}
	call := host.Call{Function: op, Args: make([]any, 0, len(args))}
	for _, arg := range args {
		a, err := convertArgument(e, arg)
		if err != nil {
			return nil, fmt.Errorf("converting argument of %s in %s: %w", op, e.target, err)
		}
		call.Args = append(call.Args, a)
	}

	return Race(p, func(ctx context.Context) (*host.Result, error) {
		cctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		stop := context.AfterFunc(e.ctx, func() { cancel(ErrContextDestroyed) })
		defer stop()

		res, err := e.host.Inject(cctx, e.target, call)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(context.Cause(cctx), ErrContextDestroyed),
			errors.Is(err, host.ErrNotInstalled),
			errors.Is(err, host.ErrNoSuchFrame):
			return nil, ErrContextDestroyed
		case errors.Is(err, host.ErrNoSuchTarget):
			return nil, ErrTargetClosed
		}
		return nil, fmt.Errorf("calling %s in %s: %w", op, e.target, err)
	})
}

// Eval runs a page function and returns its decoded value.
func (e *ExecutionContext) Eval(p *Progress, op host.Op, args ...any) (any, error) {
	var v any
	err := e.EvalInto(p, &v, op, args...)
	return v, err
}

// EvalInto runs a page function and decodes its value into dst. A returned
// "error:..." string is converted into an error.
func (e *ExecutionContext) EvalInto(p *Progress, dst any, op host.Op, args ...any) error {
	res, err := e.eval(p, op, args...)
	if err != nil {
		return err
	}
	if err := resultError(res); err != nil {
		return err
	}
	return res.Decode(dst)
}

// EvalHandle runs a page function and returns the node it answered with, or
// nil if it answered with anything else.
func (e *ExecutionContext) EvalHandle(p *Progress, op host.Op, args ...any) (*ElementHandle, error) {
	res, err := e.eval(p, op, args...)
	if err != nil {
		return nil, err
	}
	if err := resultError(res); err != nil {
		return nil, err
	}
	if !res.IsHandle() {
		return nil, nil
	}
	return newElementHandle(e, res.Handle), nil
}

// EvalHandles runs a page function answering with a list of nodes.
func (e *ExecutionContext) EvalHandles(p *Progress, op host.Op, args ...any) ([]*ElementHandle, error) {
	res, err := e.eval(p, op, args...)
	if err != nil {
		return nil, err
	}
	if err := resultError(res); err != nil {
		return nil, err
	}
	handles := make([]*ElementHandle, 0, len(res.Handles))
	for _, h := range res.Handles {
		handles = append(handles, newElementHandle(e, h))
	}
	return handles, nil
}

// destroy rejects pending calls and invalidates the handles of this context.
func (e *ExecutionContext) destroy() {
	e.logger.Debugf("ExecutionContext:destroy", "%s ectxid:%d", e.target, e.id)
	e.cancel(ErrContextDestroyed)
}

func (e *ExecutionContext) destroyed() bool {
	return e.ctx.Err() != nil
}

// Frame returns the frame that this execution context belongs to.
func (e *ExecutionContext) Frame() *Frame {
	return e.frame
}

// World returns the world this context runs in.
func (e *ExecutionContext) World() host.World {
	return e.target.World
}

// DocumentID returns the document this context was created for.
func (e *ExecutionContext) DocumentID() string {
	return e.docID
}
