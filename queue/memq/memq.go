// Package memq provides an in-memory queue implementation. Jobs do not
// survive a restart; it is the degradation fallback when no Redis client
// is configured, and the default in tests.
package memq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hypothesize-tech/courier/queue"
)

// Queue is an in-memory, RunAt-ordered job queue.
type Queue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	claimed map[string]*queue.Job
	closed  bool
	nowFunc func() time.Time
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{
		claimed: make(map[string]*queue.Job),
		nowFunc: time.Now,
	}
}

// Push schedules a job, keeping the backlog ordered by RunAt.
func (q *Queue) Push(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}

	j := *job
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = q.nowFunc().UTC()
	}

	idx := sort.Search(len(q.jobs), func(i int) bool {
		return q.jobs[i].RunAt.After(j.RunAt)
	})
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[idx+1:], q.jobs[idx:])
	q.jobs[idx] = &j
	return nil
}

// Pull claims up to limit jobs whose RunAt has passed.
func (q *Queue) Pull(_ context.Context, limit int) ([]*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	now := q.nowFunc()
	var out []*queue.Job
	for len(q.jobs) > 0 && len(out) < limit {
		head := q.jobs[0]
		if head.RunAt.After(now) {
			break
		}
		q.jobs = q.jobs[1:]
		q.claimed[head.ID] = head
		out = append(out, head)
	}
	return out, nil
}

// Complete drops a claimed job. Memory has no retention window.
func (q *Queue) Complete(_ context.Context, jobID string, _ queue.Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claimed, jobID)
	return nil
}

// Depth returns the unclaimed backlog size.
func (q *Queue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

// Close marks the queue closed. Subsequent Push and Pull calls fail.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
