package stream

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Initial, capped
// at Max, with the upper half of each step randomised.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int64) int64
}

// Delay returns the wait before reconnect attempt n (n >= 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}

	d := initial
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	half := d / 2
	if half <= 0 {
		return d
	}
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Int64N
	}
	return half + time.Duration(rnd(int64(half)+1))
}
