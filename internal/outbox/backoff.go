package outbox

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default backoff values. They are tuning parameters, not correctness
// requirements: idempotency keys make any schedule safe.
const (
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 5 * time.Minute
	DefaultJitter       = 0.2
)

// Policy computes the delay before a retryable command is dispatched again.
//
// The delay after attempt n (1-based) is Initial * Multiplier^(n-1), capped
// at Max, then spread by +/- Jitter (a fraction of the delay).
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64

	// MaxAttempts turns a retryable failure into a fatal one once the
	// command has been attempted this many times. Zero means unlimited.
	MaxAttempts int

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    DefaultInitialDelay,
		Multiplier: DefaultMultiplier,
		Max:        DefaultMaxDelay,
		Jitter:     DefaultJitter,
	}
}

// Delay returns the wait before retrying after the given attempt count.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		// spread uniformly over [d*(1-j), d*(1+j))
		d = d * (1 - p.Jitter + 2*p.Jitter*r())
	}

	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether a command that has been attempted attempts
// times must stop retrying automatically.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
