// Package redisq provides the durable Redis queue implementation: a
// sorted set ordered by run time with an atomic Lua claim, plus per-job
// keys retained after completion for inspection.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hypothesize-tech/courier/queue"
)

// Key layout.
const (
	zPending  = "courier:q:pending"
	prefixJob = "courier:q:job:"
)

// Retention windows for finished job keys.
const (
	completedTTL = time.Hour
	failedTTL    = 24 * time.Hour
)

// claimScript atomically claims due jobs from the pending sorted set.
// KEYS[1] = courier:q:pending
// ARGV[1] = current score threshold
// ARGV[2] = limit
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// Queue implements queue.Queue on Redis.
type Queue struct {
	rdb goredis.UniversalClient
}

var _ queue.Queue = (*Queue)(nil)

// New creates a Redis-backed queue.
func New(rdb goredis.UniversalClient) *Queue {
	return &Queue{rdb: rdb}
}

// Ping checks Redis connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Push stores the job body and adds it to the pending set scored by RunAt.
func (q *Queue) Push(ctx context.Context, job *queue.Job) error {
	j := *job
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("courier/redisq: marshal job: %w", err)
	}

	pipe := q.rdb.Pipeline()
	pipe.Set(ctx, prefixJob+j.ID, raw, 0)
	pipe.ZAdd(ctx, zPending, goredis.Z{Score: score(j.RunAt), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redisq: push job: %w", err)
	}
	return nil
}

// Pull atomically claims up to limit due jobs. A job claimed here is no
// longer visible to concurrent pullers.
func (q *Queue) Pull(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	nowScore := fmt.Sprintf("%f", score(time.Now()))
	ids, err := claimScript.Run(ctx, q.rdb, []string{zPending}, nowScore, limit).StringSlice()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/redisq: claim script: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, jobID := range ids {
		raw, err := q.rdb.Get(ctx, prefixJob+jobID).Bytes()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			return nil, fmt.Errorf("courier/redisq: get job %s: %w", jobID, err)
		}
		var j queue.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("courier/redisq: decode job %s: %w", jobID, err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// Complete expires the job key on its retention window. Completed jobs
// are kept briefly for inspection, failed ones longer.
func (q *Queue) Complete(ctx context.Context, jobID string, status queue.Status) error {
	ttl := completedTTL
	if status == queue.StatusFailed {
		ttl = failedTTL
	}
	if err := q.rdb.Expire(ctx, prefixJob+jobID, ttl).Err(); err != nil {
		return fmt.Errorf("courier/redisq: complete job %s: %w", jobID, err)
	}
	return nil
}

// Depth returns the pending set size.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, zPending).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redisq: depth: %w", err)
	}
	return n, nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
