package common

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// fakeCapturer refuses the first limited captures for their rate, then
// fails with err or succeeds.
type fakeCapturer struct {
	limited int64
	err     error
	calls   atomic.Int64
}

func (c *fakeCapturer) CaptureVisible(ctx context.Context, _ host.TargetID, _ host.CaptureOptions) (string, error) {
	n := c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.limited < 0 || n <= c.limited {
		return "", host.ErrCaptureRateLimited
	}
	if c.err != nil {
		return "", c.err
	}
	return "data:image/png;base64,", nil
}

func TestCaptureLimiterInterval(t *testing.T) {
	t.Parallel()

	l := NewCaptureLimiter(&fakeCapturer{}, CaptureLimiterOptions{}, log.NewNullLogger(), nil)
	require.Equal(t, DefaultCaptureMinInterval, l.Interval())

	var got []time.Duration
	for range 5 {
		got = append(got, l.backOff())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)

	got = got[:0]
	for range 5 {
		l.decay()
		got = append(got, l.Interval())
	}
	assert.Equal(t, []time.Duration{
		2500 * time.Millisecond, 1250 * time.Millisecond, 625 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond,
	}, got)
}

func TestCaptureLimiterRetryDelay(t *testing.T) {
	t.Parallel()

	l := NewCaptureLimiter(&fakeCapturer{}, CaptureLimiterOptions{}, log.NewNullLogger(), nil)
	for range 20 {
		d := l.retryDelay(2 * time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestCaptureLimiterCapture(t *testing.T) {
	t.Parallel()

	opts := CaptureLimiterOptions{
		MinInterval: time.Millisecond,
		MaxInterval: 8 * time.Millisecond,
		MaxRetries:  2,
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		c := &fakeCapturer{}
		metrics := NewMetrics(nil)
		l := NewCaptureLimiter(c, opts, log.NewNullLogger(), metrics)

		data, err := l.Capture(newTestProgress(t, time.Second), 1, host.CaptureOptions{})
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,", data)
		assert.EqualValues(t, 1, c.calls.Load())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Captures))
	})
	t.Run("retries_rate_limited", func(t *testing.T) {
		t.Parallel()

		c := &fakeCapturer{limited: 2}
		metrics := NewMetrics(nil)
		l := NewCaptureLimiter(c, opts, log.NewNullLogger(), metrics)

		_, err := l.Capture(newTestProgress(t, 5*time.Second), 1, host.CaptureOptions{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, c.calls.Load())
		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CaptureRateLimited))
		// Doubled twice, then halved once.
		assert.Equal(t, 2*time.Millisecond, l.Interval())
	})
	t.Run("gives_up_after_max_retries", func(t *testing.T) {
		t.Parallel()

		c := &fakeCapturer{limited: -1}
		l := NewCaptureLimiter(c, opts, log.NewNullLogger(), nil)

		_, err := l.Capture(newTestProgress(t, 5*time.Second), 1, host.CaptureOptions{})
		require.ErrorIs(t, err, host.ErrCaptureRateLimited)
		assert.Contains(t, err.Error(), "after 2 retries")
		assert.EqualValues(t, 3, c.calls.Load())
		assert.Equal(t, 8*time.Millisecond, l.Interval())
	})
	t.Run("other_errors_not_retried", func(t *testing.T) {
		t.Parallel()

		errBoom := errors.New("boom")
		c := &fakeCapturer{err: errBoom}
		l := NewCaptureLimiter(c, opts, log.NewNullLogger(), nil)

		_, err := l.Capture(newTestProgress(t, time.Second), 1, host.CaptureOptions{})
		require.ErrorIs(t, err, errBoom)
		assert.EqualValues(t, 1, c.calls.Load())
	})
	t.Run("paces_captures", func(t *testing.T) {
		t.Parallel()

		c := &fakeCapturer{}
		l := NewCaptureLimiter(c, CaptureLimiterOptions{MinInterval: 50 * time.Millisecond}, log.NewNullLogger(), nil)

		p := newTestProgress(t, 5*time.Second)
		start := time.Now()
		for range 2 {
			_, err := l.Capture(p, 1, host.CaptureOptions{})
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})
	t.Run("wait_bounded_by_timeout", func(t *testing.T) {
		t.Parallel()

		c := &fakeCapturer{}
		l := NewCaptureLimiter(c, CaptureLimiterOptions{MinInterval: time.Hour}, log.NewNullLogger(), nil)

		_, err := l.Capture(newTestProgress(t, time.Second), 1, host.CaptureOptions{})
		require.NoError(t, err)
		_, err = l.Capture(newTestProgress(t, 20*time.Millisecond), 1, host.CaptureOptions{})
		require.ErrorIs(t, err, ErrTimedOut)
		assert.EqualValues(t, 1, c.calls.Load())
	})
}
