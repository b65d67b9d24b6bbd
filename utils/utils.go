// Package utils contains small helpers shared across the dispenser packages.
package utils

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// AbsInt64 returns the absolute value of the given int64.
func AbsInt64(n int64) int64 {
	if n < 0 {
		return -1 * n
	}
	return n
}

// ModAngDeg normalizes an angle in degrees into [0, 360).
func ModAngDeg(ang float64) float64 {
	return math.Mod(math.Mod(ang, 360)+360, 360)
}

// ClampDuration bounds d to [min, max].
func ClampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// SelectContextOrWait waits up to dur on the given clock, returning false if
// the context was cancelled first. Same contract as
// goutils.SelectContextOrWait, but routed through an injectable clock so the
// control loops can be exercised quickly in tests.
func SelectContextOrWait(ctx context.Context, clk clock.Clock, dur time.Duration) bool {
	timer := clk.Timer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
