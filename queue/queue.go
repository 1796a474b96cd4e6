// Package queue provides the scheduling backend for delivery work: jobs
// ordered by run time, claimed in batches by the delivery engine.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Push and Pull after Close.
var ErrClosed = errors.New("queue: closed")

// Status is the terminal state reported back when a job finishes.
type Status string

const (
	// StatusCompleted marks a job whose delivery succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed marks a job whose delivery failed terminally.
	StatusFailed Status = "failed"
)

// Job is one unit of scheduled work. Payload is opaque to the queue;
// for deliveries it is the delivery ID.
type Job struct {
	// ID uniquely identifies the job.
	ID string `json:"id"`

	// Kind names the work type, e.g. "delivery".
	Kind string `json:"kind"`

	// Payload is the work reference, interpreted by the consumer.
	Payload string `json:"payload"`

	// RunAt is the earliest time the job may be claimed.
	RunAt time.Time `json:"run_at"`

	// EnqueuedAt is when the job entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the scheduling contract. Implementations must guarantee a job
// is claimed by at most one Pull call.
type Queue interface {
	// Push schedules a job. Jobs with a past RunAt are claimable
	// immediately.
	Push(ctx context.Context, job *Job) error

	// Pull atomically claims up to limit jobs whose RunAt has passed.
	Pull(ctx context.Context, limit int) ([]*Job, error)

	// Complete marks a claimed job finished with the given status.
	Complete(ctx context.Context, jobID string, status Status) error

	// Depth returns the number of jobs not yet claimed.
	Depth(ctx context.Context) (int64, error)

	// Close releases queue resources.
	Close() error
}
