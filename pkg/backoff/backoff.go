package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Exponential returns min(base * factor^(attempt-1), max) scaled by a
// uniform jitter in [0.8, 1.2). Attempts start at 1.
func Exponential(base, max time.Duration, factor float64, attempt int) time.Duration {
	return exponential(base, max, factor, attempt, rand.Float64())
}

func exponential(base, max time.Duration, factor float64, attempt int, r float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if factor <= 0 {
		factor = 1
	}
	mul := math.Pow(factor, float64(attempt-1))
	d := min(float64(base)*mul, float64(max))

	// jitter: +/- 20%
	return time.Duration(d * (0.8 + 0.4*r))
}

// Seconds converts a policy value expressed in (possibly fractional) seconds.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
