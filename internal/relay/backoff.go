package relay

import (
	"math/rand"
	"time"
)

// Delay computes the wait before re-attempting a held forward.
// Attempts are 1-based: the first retry waits InitialDelay and each
// further attempt multiplies the previous delay, saturating at
// MaxDelay. With Jitter set the result is spread uniformly over
// [d/2, 3d/2) so stalled relays do not retry in lockstep.
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	d := c.InitialDelay
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	for n := 1; n < attempt; n++ {
		d = time.Duration(float64(d) * mult)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			d = c.MaxDelay
			break
		}
	}
	if c.Jitter && rng != nil {
		d = d/2 + time.Duration(rng.Int63n(int64(d)))
	}
	return d
}
