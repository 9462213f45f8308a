package common

import (
	"sync"
	"time"
)

// TimeoutSettings holds the default timeouts of a page. Unset values are
// looked up in the parent settings.
type TimeoutSettings struct {
	mu                       sync.RWMutex
	parent                   *TimeoutSettings
	defaultTimeout           *time.Duration
	defaultNavigationTimeout *time.Duration
}

// NewTimeoutSettings creates a new timeout settings object.
func NewTimeoutSettings(parent *TimeoutSettings) *TimeoutSettings {
	return &TimeoutSettings{parent: parent}
}

func (t *TimeoutSettings) setDefaultTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultTimeout = &timeout
}

func (t *TimeoutSettings) setDefaultNavigationTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultNavigationTimeout = &timeout
}

func (t *TimeoutSettings) navigationTimeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.defaultNavigationTimeout != nil {
		return *t.defaultNavigationTimeout
	}
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.navigationTimeout()
	}
	return DefaultTimeout
}

func (t *TimeoutSettings) timeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.timeout()
	}
	return DefaultTimeout
}

// timeoutOr returns d if it's set or the default timeout.
func (t *TimeoutSettings) timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return t.timeout()
}

// navigationTimeoutOr returns d if it's set or the default navigation timeout.
func (t *TimeoutSettings) navigationTimeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return t.navigationTimeout()
}
