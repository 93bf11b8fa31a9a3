package stream

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(Base*2^attempt, Max), jittered into [d/2, d).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before the given 0-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 62 {
		if step := b.Base << attempt; step > 0 && step < b.Max {
			d = step
		}
	}
	if d <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	half := d / 2
	return half + time.Duration(r()*float64(d-half))
}
