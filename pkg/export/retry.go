package export

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits base * attempt between attempts.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// retryPolicy builds the bounded policy: attempts total tries, increasing delay.
func retryPolicy(attempts int, base time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(attempts-1))
}
