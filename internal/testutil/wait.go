package testutil

import (
	"testing"
	"time"
)

/* Polling helpers for tests that observe timers and goroutines
 * Defaults are short: everything under test runs in-process
 */

const (
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 5 * time.Millisecond
)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
}

type WaitOption func(*waitOptions)

func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WaitFor polls condition until it holds or the timeout passes
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := waitOptions{timeout: DefaultTimeout, interval: DefaultInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(o.interval)
	}
}

// MustWaitFor fails the test when condition does not hold in time
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// Drain collects whatever is buffered on ch without blocking
func Drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Receive waits for the first value on ch that satisfies match
func Receive[T any](tb testing.TB, ch <-chan T, match func(T) bool) T {
	tb.Helper()

	timeout := time.After(DefaultTimeout)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-timeout:
			tb.Fatal("timed out waiting for event")
			var zero T
			return zero
		}
	}
}
