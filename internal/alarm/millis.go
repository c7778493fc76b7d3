package alarm

import (
	"math"
	"time"
)

// Deadlines are kept in int64 milliseconds. Sums and products saturate so
// that oversized inputs clamp instead of wrapping around.

func addMillis(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// mulMillis multiplies a non-negative a by a positive factor.
func mulMillis(a, factor int64) int64 {
	if a > math.MaxInt64/factor {
		return math.MaxInt64
	}
	return a * factor
}

// millisDuration converts milliseconds to a time.Duration, clamping at the
// bounds of the nanosecond range.
func millisDuration(ms int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Millisecond)
	switch {
	case ms > limit:
		return time.Duration(math.MaxInt64)
	case ms < -limit:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ms) * time.Millisecond
}
