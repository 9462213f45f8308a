package common

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// BrowserOptions configure a Browser and the pages it drives.
type BrowserOptions struct {
	Timeout           time.Duration
	NavigationTimeout time.Duration
	// SlowMo is slept after every element action.
	SlowMo time.Duration

	CaptureMinInterval time.Duration
	CaptureMaxInterval time.Duration
	CaptureMaxRetries  int
	ScrollSettleDelay  time.Duration

	BarrierStaleAfter    time.Duration
	MaxBarriers          int
	BarrierSweepInterval time.Duration

	// Registerer receives the metrics of the browser when set.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	// TraceMetadata is attached to every span.
	TraceMetadata map[string]string
	Clock         clock.Clock
}

// NewBrowserOptions returns the default options.
func NewBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Timeout:              DefaultTimeout,
		CaptureMinInterval:   DefaultCaptureMinInterval,
		CaptureMaxInterval:   DefaultCaptureMaxInterval,
		CaptureMaxRetries:    DefaultCaptureMaxRetries,
		ScrollSettleDelay:    DefaultScrollSettleDelay,
		BarrierStaleAfter:    DefaultBarrierStaleAfter,
		MaxBarriers:          DefaultMaxBarriers,
		BarrierSweepInterval: DefaultBarrierSweepInterval,
	}
}

// Validate rejects negative durations and an inverted capture interval
// range.
func (o *BrowserOptions) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"timeout", o.Timeout},
		{"navigationTimeout", o.NavigationTimeout},
		{"slowMo", o.SlowMo},
		{"captureMinInterval", o.CaptureMinInterval},
		{"captureMaxInterval", o.CaptureMaxInterval},
		{"scrollSettleDelay", o.ScrollSettleDelay},
		{"barrierStaleAfter", o.BarrierStaleAfter},
		{"barrierSweepInterval", o.BarrierSweepInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalidOption, d.name, d.d)
		}
	}
	if o.CaptureMaxInterval > 0 && o.CaptureMaxInterval < o.CaptureMinInterval {
		return fmt.Errorf("%w: captureMaxInterval %s is below captureMinInterval %s",
			ErrInvalidOption, o.CaptureMaxInterval, o.CaptureMinInterval)
	}
	if o.MaxBarriers < 0 {
		return fmt.Errorf("%w: maxBarriers must not be negative, got %d", ErrInvalidOption, o.MaxBarriers)
	}
	return nil
}
