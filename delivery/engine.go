package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/observability"
	"github.com/hypothesize-tech/courier/queue"
	"github.com/hypothesize-tech/courier/ratelimit"
	"github.com/hypothesize-tech/courier/subscription"
)

// EngineStore is the interface the engine needs for persistence.
type EngineStore interface {
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	ListDuePending(ctx context.Context, before time.Time, limit int) ([]*Delivery, error)

	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	SetActive(ctx context.Context, subID id.ID, active bool, reason string) error
	RecordResult(ctx context.Context, subID id.ID, success bool, latencyMs int64) error
	CountFailuresSince(ctx context.Context, subID id.ID, since time.Time) (int64, error)
}

// FallbackSink receives deliveries that failed terminally, or whose
// bookkeeping could not be persisted, for out-of-band handling.
type FallbackSink interface {
	PushFailed(ctx context.Context, d *Delivery, info *ErrorInfo) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// MaxTimeout is the ceiling on per-attempt HTTP time regardless of
	// subscription settings.
	MaxTimeout time.Duration

	// FailureThreshold and FailureWindow drive auto-deactivation: a
	// subscription exceeding FailureThreshold failures within the
	// trailing window is deactivated.
	FailureThreshold int
	FailureWindow    time.Duration

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

func (c *EngineConfig) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 50
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 24 * time.Hour
	}
}

// Engine is the delivery worker pool. It pulls due jobs from the queue,
// performs the HTTP attempt, and applies the retry-chain state machine.
type Engine struct {
	store   EngineStore
	queue   queue.Queue
	sender  *Sender
	retrier *Retrier
	limiter *ratelimit.Limiter
	dlq     FallbackSink
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, q queue.Queue, sender *Sender, dlq FallbackSink, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.withDefaults()
	return &Engine{
		store:   store,
		queue:   q,
		sender:  sender,
		retrier: NewRetrier(),
		limiter: ratelimit.New(),
		dlq:     dlq,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the poll loop and workers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Recover re-enqueues pending deliveries whose scheduled time elapsed
// while the process was down. Call once at startup, before Start.
func (e *Engine) Recover(ctx context.Context) error {
	recovered := 0
	for {
		batch, err := e.store.ListDuePending(ctx, time.Now().UTC(), e.config.BatchSize)
		if err != nil {
			return fmt.Errorf("recover scan: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, d := range batch {
			if err := e.Enqueue(ctx, d); err != nil {
				return fmt.Errorf("recover enqueue %s: %w", d.ID, err)
			}
			recovered++
		}
		if len(batch) < e.config.BatchSize {
			break
		}
	}
	if recovered > 0 {
		e.logger.InfoContext(ctx, "recovered stalled deliveries", "count", recovered)
	}
	return nil
}

// Enqueue schedules a delivery on the queue. The delivery record must
// already be persisted.
func (e *Engine) Enqueue(ctx context.Context, d *Delivery) error {
	runAt := time.Now().UTC()
	if d.NextRetryAt != nil {
		runAt = *d.NextRetryAt
	}
	return e.queue.Push(ctx, &queue.Job{
		ID:      d.ID.String(),
		Kind:    "delivery",
		Payload: d.ID.String(),
		RunAt:   runAt,
	})
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := e.queue.Pull(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "queue pull failed", "error", err)
				continue
			}

			if e.config.Metrics != nil {
				if depth, derr := e.queue.Depth(ctx); derr == nil {
					e.config.Metrics.QueueDepth.Set(float64(depth))
				}
			}

			for _, job := range jobs {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(j *queue.Job) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.processJob(ctx, j)
				}(job)
			}
		}
	}
}

func (e *Engine) processJob(ctx context.Context, job *queue.Job) {
	delID, err := id.ParseDeliveryID(job.Payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "malformed job payload", "job_id", job.ID, "error", err)
		e.completeJob(ctx, job, queue.StatusFailed)
		return
	}

	d, err := e.store.GetDelivery(ctx, delID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get delivery failed", "delivery_id", delID, "error", err)
		e.completeJob(ctx, job, queue.StatusFailed)
		return
	}

	terminal := e.process(ctx, d)
	status := queue.StatusCompleted
	if terminal && d.Status == StatusFailed {
		status = queue.StatusFailed
	}
	e.completeJob(ctx, job, status)
}

func (e *Engine) completeJob(ctx context.Context, job *queue.Job, status queue.Status) {
	if err := e.queue.Complete(ctx, job.ID, status); err != nil {
		e.logger.WarnContext(ctx, "queue complete failed", "job_id", job.ID, "error", err)
	}
}

// process runs the state machine for one attempt and reports whether the
// delivery chain ended here (no successor scheduled).
func (e *Engine) process(ctx context.Context, d *Delivery) bool {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx,
			d.ID.String(), d.EventID.String(), d.SubscriptionID.String(), d.Attempt)
	}

	sub, err := e.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			info := &ErrorInfo{
				Type:    ErrTypeNotFound,
				Message: fmt.Sprintf("subscription %s not found", d.SubscriptionID),
			}
			e.reject(ctx, d, info, span)
			return true
		}

		// Transient store failure. Re-enqueue so the attempt is not lost.
		e.logger.WarnContext(ctx, "subscription lookup failed", "delivery_id", d.ID, "error", err)
		if reqErr := e.Enqueue(context.WithoutCancel(ctx), d); reqErr != nil {
			e.logger.ErrorContext(ctx, "re-enqueue after store failure failed", "delivery_id", d.ID, "error", reqErr)
		}
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return false
	}

	if !sub.Active || sub.URL == "" {
		info := &ErrorInfo{
			Type:    ErrTypeInactive,
			Message: fmt.Sprintf("subscription %s is inactive or has no target URL", d.SubscriptionID),
		}
		e.reject(ctx, d, info, span)
		return true
	}

	if err := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
		// Shutdown mid-wait. Re-enqueue so the attempt is not lost.
		if reqErr := e.Enqueue(context.WithoutCancel(ctx), d); reqErr != nil {
			e.logger.ErrorContext(ctx, "re-enqueue after shutdown failed", "delivery_id", d.ID, "error", reqErr)
		}
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return false
	}

	result := e.sender.Send(ctx, sub, d)
	latencySeconds := float64(result.LatencyMs) / 1000.0
	outcome, info := Classify(result)

	terminal := true
	switch outcome {
	case OutcomeSuccess:
		now := time.Now().UTC()
		d.Status = StatusSuccess
		d.CompletedAt = &now
		d.Error = nil

		if err := e.store.RecordResult(ctx, sub.ID, true, result.LatencyMs); err != nil {
			e.logger.WarnContext(ctx, "record result failed", "subscription_id", sub.ID, "error", err)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("success", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case OutcomeRetryable:
		if d.RetriesLeft > 0 {
			e.scheduleRetry(ctx, d, sub, info)
			terminal = false
		} else {
			e.fail(ctx, d, sub, info)
		}
		if e.config.Metrics != nil {
			outcomeLabel := "retried"
			if terminal {
				outcomeLabel = "failed"
			}
			e.config.Metrics.RecordDelivery(outcomeLabel, latencySeconds)
		}

	case OutcomeTerminal:
		e.fail(ctx, d, sub, info)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
		}
	}

	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed", "delivery_id", d.ID, "error", err)
		if e.dlq != nil {
			if dlqErr := e.dlq.PushFailed(ctx, d, &ErrorInfo{
				Type:    ErrTypeUnknown,
				Message: fmt.Sprintf("persist delivery state: %v", err),
			}); dlqErr != nil {
				e.logger.ErrorContext(ctx, "fallback push failed", "delivery_id", d.ID, "error", dlqErr)
			}
		}
	}

	if span != nil {
		errMsg := ""
		if d.Error != nil {
			errMsg = d.Error.Message
		}
		e.config.Tracer.EndDeliverySpan(span, result.StatusCode, result.LatencyMs, errMsg)
	}
	return terminal
}

// reject finalizes a delivery without an HTTP attempt.
func (e *Engine) reject(ctx context.Context, d *Delivery, info *ErrorInfo, span trace.Span) {
	now := time.Now().UTC()
	d.Status = StatusFailed
	d.RetriesLeft = 0
	d.Error = info
	d.CompletedAt = &now

	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed", "delivery_id", d.ID, "error", err)
	}
	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("rejected", 0)
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.logger.WarnContext(ctx, "delivery rejected",
		"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "reason", info.Type)

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, 0, 0, info.Message)
	}
}

// scheduleRetry stamps d as superseded and enqueues the successor
// attempt. The retry budget moves to the successor, decremented by one.
func (e *Engine) scheduleRetry(ctx context.Context, d *Delivery, sub *subscription.Subscription, info *ErrorInfo) {
	runAt := e.retrier.NextAttemptAt(sub.Retry, d.Attempt)

	d.Status = StatusFailed
	d.RetriesLeft--
	d.NextRetryAt = &runAt
	d.Error = &ErrorInfo{
		Type:    ErrTypeRetryScheduled,
		Message: info.Message,
		Code:    info.Code,
		Details: map[string]any{"original_type": string(info.Type)},
	}

	next := d.NextAttempt(runAt)
	if err := e.store.CreateDelivery(ctx, next); err != nil {
		e.logger.ErrorContext(ctx, "create retry delivery failed", "delivery_id", d.ID, "error", err)
		return
	}
	if err := e.Enqueue(ctx, next); err != nil {
		e.logger.ErrorContext(ctx, "enqueue retry failed", "delivery_id", next.ID, "error", err)
		return
	}

	e.recordFailure(ctx, d, sub)
	e.logger.DebugContext(ctx, "retry scheduled",
		"delivery_id", d.ID, "next_delivery_id", next.ID,
		"attempt", next.Attempt, "run_at", runAt, "retries_left", next.RetriesLeft)
}

// fail finalizes a terminally failed delivery: zero retry budget, failure
// stats, health check, and fallback handling.
func (e *Engine) fail(ctx context.Context, d *Delivery, sub *subscription.Subscription, info *ErrorInfo) {
	now := time.Now().UTC()
	d.Status = StatusFailed
	d.RetriesLeft = 0
	d.Error = info
	d.CompletedAt = &now

	e.recordFailure(ctx, d, sub)

	if e.dlq != nil {
		if err := e.dlq.PushFailed(ctx, d, info); err != nil {
			e.logger.ErrorContext(ctx, "fallback push failed", "delivery_id", d.ID, "error", err)
		}
	}
	if e.config.Metrics != nil {
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.logger.WarnContext(ctx, "delivery failed permanently",
		"delivery_id", d.ID, "subscription_id", d.SubscriptionID,
		"error_type", info.Type, "error", info.Message)
}

// recordFailure updates subscription stats and deactivates targets that
// keep failing: strictly more than FailureThreshold failures inside the
// trailing FailureWindow disables the subscription.
func (e *Engine) recordFailure(ctx context.Context, d *Delivery, sub *subscription.Subscription) {
	latency := int64(0)
	if d.Response != nil {
		latency = d.Response.ResponseTimeMs
	}
	if err := e.store.RecordResult(ctx, sub.ID, false, latency); err != nil {
		e.logger.WarnContext(ctx, "record result failed", "subscription_id", sub.ID, "error", err)
		return
	}

	since := time.Now().UTC().Add(-e.config.FailureWindow)
	failures, err := e.store.CountFailuresSince(ctx, sub.ID, since)
	if err != nil {
		e.logger.WarnContext(ctx, "count failures failed", "subscription_id", sub.ID, "error", err)
		return
	}
	if failures <= int64(e.config.FailureThreshold) {
		return
	}

	reason := fmt.Sprintf("auto-deactivated: %d failures in %s", failures, e.config.FailureWindow)
	if err := e.store.SetActive(ctx, sub.ID, false, reason); err != nil {
		e.logger.ErrorContext(ctx, "deactivate subscription failed", "subscription_id", sub.ID, "error", err)
		return
	}
	e.logger.WarnContext(ctx, "subscription auto-deactivated",
		"subscription_id", sub.ID, "failures", failures, "window", e.config.FailureWindow)
}
