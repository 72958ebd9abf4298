package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is the retry schedule for failed uploads. Delay grows
// geometrically from Base by Factor and never exceeds Cap.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration

	// Jitter is the fraction of the delay added at random, in [0, 1).
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultBackoff is 30s doubling up to 30m with 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   30 * time.Second,
		Factor: 2,
		Cap:    30 * time.Minute,
		Jitter: 0.1,
	}
}

// Delay returns the un-jittered wait after the nth consecutive failure.
// n < 1 is treated as 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(n-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(b.Cap) {
		return b.Cap
	}
	return time.Duration(d)
}

// Next returns Delay(n) plus jitter, still bounded by Cap. With Factor at
// least 1+Jitter the result is non-decreasing in n.
func (b Backoff) Next(n int) time.Duration {
	d := b.Delay(n)
	if b.Jitter <= 0 {
		return d
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	d += time.Duration(float64(d) * b.Jitter * r())
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// policy adapts Backoff to model.RetryPolicy.
type policy struct {
	backoff    Backoff
	maxRetries int
}

func (p policy) MaxRetries() int           { return p.maxRetries }
func (p policy) Delay(n int) time.Duration { return p.backoff.Next(n) }
