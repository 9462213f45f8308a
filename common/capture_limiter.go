package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// CaptureLimiterOptions configure the pacing of visible area captures.
type CaptureLimiterOptions struct {
	// MinInterval is the interval between captures while the host accepts
	// them.
	MinInterval time.Duration
	// MaxInterval caps the interval after rate limit errors.
	MaxInterval time.Duration
	// MaxRetries is how many times a rate limited capture is retried.
	MaxRetries int
	Clock      clock.Clock
}

// CaptureLimiter paces the captures of all pages, since the host enforces
// its capture rate across all of them. The interval between captures
// doubles on every rate limit error, up to MaxInterval, and halves back
// towards MinInterval on every success.
type CaptureLimiter struct {
	capturer host.Capturer
	opts     CaptureLimiterOptions
	clock    clock.Clock
	logger   *log.Logger
	metrics  *Metrics

	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// NewCaptureLimiter creates a limiter for captures of c. Zero options take
// defaults.
func NewCaptureLimiter(c host.Capturer, opts CaptureLimiterOptions, logger *log.Logger, metrics *Metrics) *CaptureLimiter {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultCaptureMinInterval
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = max(DefaultCaptureMaxInterval, opts.MinInterval)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultCaptureMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &CaptureLimiter{
		capturer: c,
		opts:     opts,
		clock:    opts.Clock,
		logger:   logger,
		metrics:  metrics,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		interval: opts.MinInterval,
	}
}

// Interval returns the current interval between captures.
func (l *CaptureLimiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *CaptureLimiter) setIntervalLocked(d time.Duration) {
	l.interval = d
	l.limiter.SetLimitAt(l.clock.Now(), rate.Every(d))
}

// backOff multiplies the interval after a rate limit error and returns it.
func (l *CaptureLimiter) backOff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setIntervalLocked(min(2*l.interval, l.opts.MaxInterval))
	return l.interval
}

func (l *CaptureLimiter) decay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.interval > l.opts.MinInterval {
		l.setIntervalLocked(max(l.interval/2, l.opts.MinInterval))
	}
}

// retryDelay returns interval randomized by up to half of it.
func (l *CaptureLimiter) retryDelay(interval time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = l.opts.MaxInterval + l.opts.MaxInterval/2
	b.Multiplier = 1
	b.MaxElapsedTime = 0
	b.Clock = l.clock
	b.Reset()
	return b.NextBackOff()
}

func (l *CaptureLimiter) sleep(p *Progress, d time.Duration) error {
	if d <= 0 {
		return p.Err()
	}
	t := l.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-p.Done():
		return p.Err()
	}
}

// wait blocks until the next capture is allowed.
func (l *CaptureLimiter) wait(p *Progress) error {
	l.mu.Lock()
	now := l.clock.Now()
	delay := l.limiter.ReserveN(now, 1).DelayFrom(now)
	l.mu.Unlock()

	if delay > 0 {
		p.Log("waiting %s for the capture rate limit", delay)
	}
	return l.sleep(p, delay)
}

// Capture captures the visible area of target once the rate allows it.
// Captures refused for their rate are retried up to MaxRetries times.
func (l *CaptureLimiter) Capture(p *Progress, target host.TargetID, opts host.CaptureOptions) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := l.wait(p); err != nil {
			return "", err
		}
		l.metrics.Captures.Inc()
		data, err := Race(p, func(ctx context.Context) (string, error) {
			return l.capturer.CaptureVisible(ctx, target, opts)
		})
		if err == nil {
			l.decay()
			return data, nil
		}
		if !errors.Is(err, host.ErrCaptureRateLimited) {
			return "", fmt.Errorf("capturing target %d: %w", target, err)
		}

		l.metrics.CaptureRateLimited.Inc()
		interval := l.backOff()
		if attempt >= l.opts.MaxRetries {
			return "", fmt.Errorf("capturing target %d after %d retries: %w", target, attempt, err)
		}
		delay := l.retryDelay(interval)
		l.logger.Debugf("CaptureLimiter:Capture", "tid:%d attempt:%d interval:%s delay:%s", target, attempt+1, interval, delay)
		p.Log("capture rate limited, retrying in %s", delay)
		if err := l.sleep(p, delay); err != nil {
			return "", err
		}
	}
}
