package memq_test

import (
	"context"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/queue"
	"github.com/hypothesize-tech/courier/queue/memq"
)

func TestPushPullOrderedByRunAt(t *testing.T) {
	q := memq.New()
	ctx := context.Background()
	now := time.Now()

	for _, j := range []*queue.Job{
		{ID: "c", Kind: "delivery", RunAt: now.Add(-time.Second)},
		{ID: "a", Kind: "delivery", RunAt: now.Add(-3 * time.Second)},
		{ID: "b", Kind: "delivery", RunAt: now.Add(-2 * time.Second)},
	} {
		if err := q.Push(ctx, j); err != nil {
			t.Fatalf("push %s: %v", j.ID, err)
		}
	}

	jobs, err := q.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("pulled %d jobs, want 3", len(jobs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d].ID = %s, want %s", i, jobs[i].ID, want)
		}
	}
}

func TestPullRespectsLimit(t *testing.T) {
	q := memq.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Second)

	for _, jobID := range []string{"a", "b", "c"} {
		if err := q.Push(ctx, &queue.Job{ID: jobID, RunAt: past}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	jobs, err := q.Pull(ctx, 2)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("pulled %d jobs, want 2", len(jobs))
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestFutureJobsNotClaimable(t *testing.T) {
	q := memq.New()
	ctx := context.Background()

	if err := q.Push(ctx, &queue.Job{ID: "later", RunAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("push: %v", err)
	}

	jobs, err := q.Pull(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("pulled %d jobs, want 0", len(jobs))
	}

	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestPushStampsEnqueuedAt(t *testing.T) {
	q := memq.New()
	ctx := context.Background()

	if err := q.Push(ctx, &queue.Job{ID: "j", RunAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}

	jobs, err := q.Pull(ctx, 1)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatal("job not claimable")
	}
	if jobs[0].EnqueuedAt.IsZero() {
		t.Error("enqueued_at not stamped")
	}
}

func TestCompleteForgetsClaimedJob(t *testing.T) {
	q := memq.New()
	ctx := context.Background()

	if err := q.Push(ctx, &queue.Job{ID: "j", RunAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Pull(ctx, 1); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if err := q.Complete(ctx, "j", queue.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("depth = %d, want 0", depth)
	}
}

func TestClosedQueueRejectsOperations(t *testing.T) {
	q := memq.New()
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Push(ctx, &queue.Job{ID: "j"}); err != queue.ErrClosed {
		t.Errorf("push after close = %v, want ErrClosed", err)
	}
	if _, err := q.Pull(ctx, 1); err != queue.ErrClosed {
		t.Errorf("pull after close = %v, want ErrClosed", err)
	}
}
