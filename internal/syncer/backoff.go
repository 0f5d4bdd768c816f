// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes capped exponential retry delays with jitter. Jitter keeps
// entries that failed together from retrying in lockstep against a store that
// is still recovering.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64 // fraction of the delay, 0.0-1.0

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff builds a Backoff with a 2x multiplier and 10% jitter. A nonzero
// seed gives reproducible delays for tests; zero seeds from the clock.
func NewBackoff(initial, max time.Duration, seed int64) *Backoff {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backoff{
		initial:    initial,
		max:        max,
		multiplier: 2.0,
		jitter:     0.1,
		//nolint:gosec // G404: non-cryptographic jitter
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Delay returns the wait before retry number retryCount (0-based).
func (b *Backoff) Delay(retryCount int) time.Duration {
	delay := float64(b.initial) * math.Pow(b.multiplier, float64(retryCount))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}

	b.mu.Lock()
	jitter := delay * b.jitter * (b.rng.Float64()*2 - 1) // -jitter to +jitter
	b.mu.Unlock()

	return time.Duration(delay + jitter)
}
