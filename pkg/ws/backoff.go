package ws

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const backoffMultiplier = 1.7

// reconnectBackoff is a deterministic exponential schedule: min, min×1.7, ...
// capped at max, back to min on Reset.
type reconnectBackoff struct {
	b *backoff.ExponentialBackOff
}

func newReconnectBackoff(minDelay, maxDelay time.Duration) *reconnectBackoff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     minDelay,
		RandomizationFactor: 0,
		Multiplier:          backoffMultiplier,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return &reconnectBackoff{b: b}
}

// Next returns the delay before the upcoming reconnect and grows the schedule.
func (r *reconnectBackoff) Next() time.Duration {
	return r.b.NextBackOff()
}

func (r *reconnectBackoff) Reset() {
	r.b.Reset()
}
