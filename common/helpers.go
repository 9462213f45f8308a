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
	"encoding/base64"
	"strings"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
)

// convertArgument turns element handles into node references of execCtx.
// Other values are passed as is and marshaled to JSON by the host.
func convertArgument(execCtx *ExecutionContext, arg any) (any, error) {
	switch a := arg.(type) {
	case *ElementHandle:
		if a == nil {
			return nil, nil
		}
		if a.execCtx != execCtx {
			return nil, ErrWrongExecutionContext
		}
		if a.isDisposed() {
			return nil, ErrHandleDisposed
		}
		return host.HandleRef{Handle: a.handle}, nil
	case []api.FilePayload:
		files := make([]host.FilePayload, 0, len(a))
		for _, f := range a {
			files = append(files, host.FilePayload{
				Name:     f.Name,
				MimeType: f.MimeType,
				Buffer:   base64.StdEncoding.EncodeToString(f.Buffer),
			})
		}
		return files, nil
	}
	return arg, nil
}

// resultError converts an "error:..." answer of a page function into an
// error. Other answers return nil.
func resultError(res *host.Result) error {
	s, ok := res.StringValue()
	if !ok || !strings.HasPrefix(s, "error:") {
		return nil
	}
	return errorFromDOMError(s)
}

func stringSliceContains(s []string, e string) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}

func createWaitForEventHandler(
	ctx context.Context,
	emitter EventEmitter, events []string,
	predicateFn func(data any) bool,
) (
	chan any, context.CancelFunc,
) {
	evCancelCtx, evCancelFn := context.WithCancel(ctx)
	chEvHandler := make(chan Event)
	ch := make(chan any, 1)

	go func() {
		for {
			select {
			case <-evCancelCtx.Done():
				return
			case ev := <-chEvHandler:
				if !stringSliceContains(events, ev.typ) {
					continue
				}
				if predicateFn != nil && !predicateFn(ev.data) {
					continue
				}
				ch <- ev.data
				close(ch)

				// We wait for one matching event only,
				// then remove event handler by cancelling context and stopping goroutine.
				evCancelFn()
				return
			}
		}
	}()

	emitter.on(evCancelCtx, events, chEvHandler)
	return ch, evCancelFn
}

// waitForEvent waits for the first of events matching predicateFn, bounded
// by p.
func waitForEvent(p *Progress, emitter EventEmitter, events []string, predicateFn func(data any) bool) (any, error) {
	ch, evCancelFn := createWaitForEventHandler(p.Context(), emitter, events, predicateFn)
	defer evCancelFn() // Remove event handler

	return Wait(p, (<-chan any)(ch))
}

// TrimQuotes removes surrounding single or double quotes from s.
// We're not using strings.Trim() to avoid trimming unbalanced values,
// e.g. `"'arg` shouldn't change.
// Source: https://stackoverflow.com/a/48451906
func TrimQuotes(s string) string {
	if len(s) >= 2 {
		if c := s[len(s)-1]; s[0] == c && (c == '"' || c == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
