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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

func newTestBarrierManager(opts BarrierManagerOptions) *BarrierManager {
	return NewBarrierManager(opts, log.NewNullLogger(), nil)
}

func newTestProgress(t *testing.T, timeout time.Duration) *Progress {
	t.Helper()
	p := NewProgress(context.Background(), t.Name(), timeout, log.NewNullLogger())
	t.Cleanup(p.Close)
	return p
}

func TestBarrier(t *testing.T) {
	t.Parallel()

	t.Run("wait_resolves_on_ready", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		errCh := make(chan error, 1)
		go func() { errCh <- m.WaitForReady(newTestProgress(t, 5*time.Second), 1, 0) }()

		m.MarkReady(1, 0)
		require.NoError(t, <-errCh)
		assert.True(t, m.Get(1, 0).IsReady())
	})
	t.Run("ready_is_immediate", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		m.MarkReady(1, 0)
		require.NoError(t, m.WaitForReady(newTestProgress(t, time.Millisecond), 1, 0))
	})
	t.Run("reset_suspends_until_next_signal", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		m.MarkReady(1, 0)
		m.Reset(1, 0)
		assert.False(t, m.Get(1, 0).IsReady())

		err := m.WaitForReady(newTestProgress(t, 20*time.Millisecond), 1, 0)
		require.ErrorIs(t, err, ErrTimedOut)

		errCh := make(chan error, 1)
		go func() { errCh <- m.WaitForReady(newTestProgress(t, 5*time.Second), 1, 0) }()
		m.MarkReady(1, 0)
		require.NoError(t, <-errCh)
	})
	t.Run("reset_while_not_ready_keeps_waiters", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		errCh := make(chan error, 1)
		go func() { errCh <- m.WaitForReady(newTestProgress(t, 5*time.Second), 1, 0) }()
		m.Reset(1, 0)
		m.MarkReady(1, 0)
		require.NoError(t, <-errCh)
	})
	t.Run("remove_frame_rejects_waiters", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		errCh := make(chan error, 1)
		b := m.Get(1, 3)
		go func() { errCh <- b.Wait(newTestProgress(t, 5*time.Second)) }()
		m.RemoveFrame(1, 3)
		require.ErrorIs(t, <-errCh, ErrFrameDetached)
		assert.Zero(t, m.Len())
	})
	t.Run("remove_target_rejects_all_frames", func(t *testing.T) {
		t.Parallel()

		m := newTestBarrierManager(BarrierManagerOptions{})
		b0, b1 := m.Get(1, 0), m.Get(1, 1)
		other := m.Get(2, 0)
		m.RemoveTarget(1)

		require.ErrorIs(t, b0.Wait(newTestProgress(t, time.Second)), ErrTargetClosed)
		require.ErrorIs(t, b1.Wait(newTestProgress(t, time.Second)), ErrTargetClosed)
		assert.Equal(t, 1, m.Len())
		assert.Same(t, other, m.Get(2, 0))
	})
}

func TestBarrierManagerSweep(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	m := newTestBarrierManager(BarrierManagerOptions{
		StaleAfter: time.Minute,
		Clock:      mock,
	})
	old := m.Get(1, 0)
	mock.Add(50 * time.Second)
	m.Get(2, 0)
	mock.Add(20 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	require.ErrorIs(t, old.Wait(newTestProgress(t, time.Second)), ErrBarrierEvicted)
}

func TestBarrierManagerSweepKeepsLiveFrames(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	m := newTestBarrierManager(BarrierManagerOptions{
		StaleAfter: time.Minute,
		Clock:      mock,
		Alive: func(target host.TargetID, _ host.FrameID) bool {
			return target == 1
		},
	})
	live := m.Get(1, 0)
	live.markReady()
	m.Get(2, 0)
	mock.Add(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Same(t, live, m.Get(1, 0))
	assert.True(t, m.Get(1, 0).IsReady())
}

func TestBarrierManagerRun(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	m := newTestBarrierManager(BarrierManagerOptions{
		StaleAfter:    time.Minute,
		SweepInterval: 10 * time.Second,
		Clock:         mock,
	})
	m.Get(1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Second)
		return m.Len() == 0
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBarrierManagerCapacity(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	m := newTestBarrierManager(BarrierManagerOptions{MaxBarriers: 2, Clock: mock})

	first := m.Get(1, 0)
	mock.Add(time.Second)
	m.Get(1, 1)
	mock.Add(time.Second)
	m.Get(1, 0) // observed again, so 1/1 is now the oldest
	mock.Add(time.Second)
	m.Get(1, 2)

	assert.Equal(t, 2, m.Len())
	assert.Same(t, first, m.Get(1, 0))
	assert.Equal(t, 2, m.Len())
}
