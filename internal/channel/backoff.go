package channel

import "time"

// backoff computes reconnect delays: base * 2^attempt, with a hard ceiling
// on the number of attempts. Once the ceiling is hit the connection is
// considered lost until an explicit reconnect resets the counter.
type backoff struct {
	base        time.Duration
	maxAttempts int
	attempt     int
}

// next returns the delay before the next attempt, or false when the retry
// ceiling is exhausted.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	d := b.base << b.attempt
	b.attempt++
	return d, true
}

// reset clears the attempt counter after a successful connection.
func (b *backoff) reset() {
	b.attempt = 0
}
