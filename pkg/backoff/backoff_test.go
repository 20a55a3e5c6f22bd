package backoff

import (
	"testing"
	"time"
)

func TestExponentialWithinJitterBounds(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}

	for _, c := range cases {
		lo := time.Duration(float64(c.nominal) * 0.8)
		hi := time.Duration(float64(c.nominal) * 1.2)
		for i := 0; i < 200; i++ {
			d := Exponential(base, max, 2, c.attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", c.attempt, d, lo, hi)
			}
		}
	}
}

func TestExponentialJitterEdges(t *testing.T) {
	if d := exponential(time.Second, time.Minute, 2, 1, 0); d != 800*time.Millisecond {
		t.Errorf("r=0: got %v, want 800ms", d)
	}
	if d := exponential(time.Second, time.Minute, 2, 1, 0.5); d != time.Second {
		t.Errorf("r=0.5: got %v, want 1s", d)
	}
}

func TestExponentialClampsAttempt(t *testing.T) {
	if d := exponential(time.Second, time.Minute, 3, 0, 0.5); d != time.Second {
		t.Errorf("attempt 0 should behave as attempt 1, got %v", d)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("got %v", got)
	}
}
