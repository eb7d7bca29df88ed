// Package backoff provides the pure retry-delay computation used by the
// rollback engine.
package backoff

import (
	"math"
	"time"
)

// Delay returns the wait before retry attempt n (1-based), following
// initial * multiplier^(n-1), capped at max.
//
//	Delay(1, 1s, 2, 60s) == 1s
//	Delay(2, 1s, 2, 60s) == 2s
//	Delay(8, 1s, 2, 60s) == 60s (capped)
func Delay(attempt int, initial time.Duration, multiplier float64, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}

	scaled := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max > 0 && scaled > float64(max) {
		return max
	}
	if scaled > float64(math.MaxInt64) {
		return max
	}
	return time.Duration(scaled)
}
