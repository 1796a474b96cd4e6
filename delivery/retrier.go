package delivery

import (
	"math"
	"math/rand"
	"time"

	"github.com/hypothesize-tech/courier/subscription"
)

const (
	// maxBackoff caps the computed delay regardless of policy.
	maxBackoff = time.Hour

	// jitterFraction spreads retries by up to ±15% to avoid thundering
	// herds when many deliveries fail at once.
	jitterFraction = 0.15
)

// Retrier computes retry schedules from per-subscription policies.
type Retrier struct {
	randFloat func() float64
}

// NewRetrier creates a retrier.
func NewRetrier() *Retrier {
	return &Retrier{randFloat: rand.Float64}
}

// Delay returns the backoff before the retry that follows the given
// failed attempt: initial delay times multiplier^attempt, so the retry
// after attempt 1 already waits one multiplier step. A ±15% jitter is
// applied and the result is capped at one hour.
func (r *Retrier) Delay(policy subscription.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	defaults := subscription.DefaultRetryPolicy()
	initial := policy.InitialDelay
	if initial <= 0 {
		initial = defaults.InitialDelay
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = defaults.BackoffMultiplier
	}

	base := float64(initial) * math.Pow(multiplier, float64(attempt))
	if base > float64(maxBackoff) {
		base = float64(maxBackoff)
	}

	// jitter in [-15%, +15%]
	jitter := 1 + jitterFraction*(2*r.randFloat()-1)
	d := time.Duration(base * jitter)

	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// NextAttemptAt returns the wall-clock time of the retry that follows
// attempt.
func (r *Retrier) NextAttemptAt(policy subscription.RetryPolicy, attempt int) time.Time {
	return time.Now().UTC().Add(r.Delay(policy, attempt))
}
