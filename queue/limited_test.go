package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/queue"
	"github.com/hypothesize-tech/courier/queue/memq"
)

func TestNewLimitedZeroBudgetReturnsUnwrapped(t *testing.T) {
	q := memq.New()
	if got := queue.NewLimited(q, 0); got != queue.Queue(q) {
		t.Error("zero budget should return the queue unchanged")
	}
	if got := queue.NewLimited(q, -5); got != queue.Queue(q) {
		t.Error("negative budget should return the queue unchanged")
	}
}

func TestLimitedPullCapsBurst(t *testing.T) {
	inner := memq.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Second)

	for _, jobID := range []string{"a", "b", "c", "d", "e"} {
		if err := inner.Push(ctx, &queue.Job{ID: jobID, RunAt: past}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	// 3 per minute gives a burst of 3 and then roughly one token every
	// 20 seconds, so a second immediate pull gets nothing.
	limited := queue.NewLimited(inner, 3)

	jobs, err := limited.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("pulled %d jobs, want 3", len(jobs))
	}

	jobs, err = limited.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("second pull got %d jobs, want 0", len(jobs))
	}

	depth, _ := inner.Depth(ctx)
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}
}

func TestLimitedPullReturnsUnusedTokens(t *testing.T) {
	inner := memq.New()
	ctx := context.Background()

	if err := inner.Push(ctx, &queue.Job{ID: "only", RunAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}

	limited := queue.NewLimited(inner, 10)

	// First pull claims one job but reserved up to 10 tokens; the unused
	// ones must be returned so later pulls are not starved.
	jobs, err := limited.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("pulled %d jobs, want 1", len(jobs))
	}

	for _, jobID := range []string{"a", "b", "c"} {
		if err := inner.Push(ctx, &queue.Job{ID: jobID, RunAt: time.Now().Add(-time.Second)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	jobs, err = limited.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("second pull got %d jobs, want 3", len(jobs))
	}
}

func TestLimitedPullEmptyQueue(t *testing.T) {
	limited := queue.NewLimited(memq.New(), 60)

	jobs, err := limited.Pull(context.Background(), 5)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("pulled %d jobs from empty queue, want 0", len(jobs))
	}
}
