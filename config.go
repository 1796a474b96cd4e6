package courier

import "time"

// Config holds the configuration for a Courier instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due work.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs claimed per poll cycle.
	BatchSize int

	// MaxTimeout is the ceiling on per-attempt HTTP time, regardless of
	// any per-subscription timeout.
	MaxTimeout time.Duration

	// FailureThreshold and FailureWindow drive auto-deactivation: a
	// subscription exceeding FailureThreshold failures within the
	// trailing window is switched off.
	FailureThreshold int
	FailureWindow    time.Duration

	// FlushInterval is how often the emitter drains its micro-batch.
	FlushInterval time.Duration

	// EmitBatchSize bounds one emitter drain chunk.
	EmitBatchSize int

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable caching.
	CacheTTL time.Duration

	// DispatchPerMinute caps outbound deliveries claimed from the queue.
	// Zero means unlimited.
	DispatchPerMinute int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		MaxTimeout:       30 * time.Second,
		FailureThreshold: 50,
		FailureWindow:    24 * time.Hour,
		FlushInterval:    5 * time.Second,
		EmitBatchSize:    100,
		CacheTTL:         30 * time.Second,
	}
}
