package delivery_test

import (
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/subscription"
)

func TestRetrierDelayGrowsExponentially(t *testing.T) {
	retrier := delivery.NewRetrier()
	policy := subscription.RetryPolicy{
		MaxRetries:        5,
		BackoffMultiplier: 2.0,
		InitialDelay:      10 * time.Second,
	}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{4, 160 * time.Second},
	}

	for _, tt := range tests {
		got := retrier.Delay(policy, tt.attempt)

		// Jitter spreads the base by at most ±15%.
		min := time.Duration(float64(tt.base) * 0.85)
		max := time.Duration(float64(tt.base) * 1.15)
		if got < min || got > max {
			t.Errorf("Delay(attempt=%d) = %v, want within [%v, %v]", tt.attempt, got, min, max)
		}
	}
}

func TestRetrierFirstRetryWaitsOneMultiplierStep(t *testing.T) {
	retrier := delivery.NewRetrier()
	policy := subscription.RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
		InitialDelay:      10 * time.Second,
	}

	// The retry after the first attempt waits initialDelay*multiplier,
	// not the bare initial delay.
	got := retrier.Delay(policy, 1)
	min := time.Duration(float64(20*time.Second) * 0.85)
	max := time.Duration(float64(20*time.Second) * 1.15)
	if got < min || got > max {
		t.Errorf("Delay(attempt=1) = %v, want within [%v, %v]", got, min, max)
	}
}

func TestRetrierDelayCappedAtOneHour(t *testing.T) {
	retrier := delivery.NewRetrier()
	policy := subscription.RetryPolicy{
		MaxRetries:        20,
		BackoffMultiplier: 10.0,
		InitialDelay:      time.Minute,
	}

	got := retrier.Delay(policy, 10)
	if got > time.Hour {
		t.Errorf("Delay() = %v, want at most 1h", got)
	}
}

func TestRetrierDelayZeroPolicyUsesDefaults(t *testing.T) {
	retrier := delivery.NewRetrier()
	defaults := subscription.DefaultRetryPolicy()

	got := retrier.Delay(subscription.RetryPolicy{}, 1)

	base := time.Duration(float64(defaults.InitialDelay) * defaults.BackoffMultiplier)
	min := time.Duration(float64(base) * 0.85)
	max := time.Duration(float64(base) * 1.15)
	if got < min || got > max {
		t.Errorf("Delay() with zero policy = %v, want within [%v, %v]", got, min, max)
	}
}

func TestRetrierDelayAttemptBelowOne(t *testing.T) {
	retrier := delivery.NewRetrier()
	policy := subscription.RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
		InitialDelay:      time.Second,
	}

	// Attempt 0 is clamped to 1: the delay stays near one multiplier step.
	got := retrier.Delay(policy, 0)
	if got > 3*time.Second {
		t.Errorf("Delay(attempt=0) = %v, want near 2s", got)
	}
}

func TestRetrierNextAttemptAtInFuture(t *testing.T) {
	retrier := delivery.NewRetrier()
	policy := subscription.DefaultRetryPolicy()

	before := time.Now().UTC()
	next := retrier.NextAttemptAt(policy, 1)

	if !next.After(before) {
		t.Errorf("NextAttemptAt() = %v, want after %v", next, before)
	}
	if next.After(before.Add(time.Hour + time.Minute)) {
		t.Errorf("NextAttemptAt() = %v, too far in the future", next)
	}
}
