package queue

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Queue with a global dispatch rate limit. Pull reserves
// one token per claimed job, so the engine never drains faster than the
// configured per-minute budget.
type Limited struct {
	Queue
	limiter *rate.Limiter
}

// NewLimited wraps q with a perMinute dispatch budget. A non-positive
// budget returns q unchanged.
func NewLimited(q Queue, perMinute int) Queue {
	if perMinute <= 0 {
		return q
	}
	return &Limited{
		Queue:   q,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Pull claims at most as many jobs as the limiter currently allows.
// Tokens reserved for capacity the underlying queue did not fill are
// returned to the limiter.
func (l *Limited) Pull(ctx context.Context, limit int) ([]*Job, error) {
	now := time.Now()
	reservations := make([]*rate.Reservation, 0, limit)
	for len(reservations) < limit {
		r := l.limiter.ReserveN(now, 1)
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			break
		}
		reservations = append(reservations, r)
	}
	if len(reservations) == 0 {
		return nil, nil
	}

	jobs, err := l.Queue.Pull(ctx, len(reservations))
	if err != nil {
		for _, r := range reservations {
			r.Cancel()
		}
		return nil, err
	}

	for i := len(jobs); i < len(reservations); i++ {
		reservations[i].Cancel()
	}
	return jobs, nil
}
