package courier

import (
	"log/slog"
	"time"

	"github.com/hypothesize-tech/courier/observability"
	"github.com/hypothesize-tech/courier/payload"
	"github.com/hypothesize-tech/courier/queue"
	"github.com/hypothesize-tech/courier/store"
	"github.com/hypothesize-tech/courier/subscription"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	c.wireServices()
	return c, nil
}

// WithStore sets the persistence backend for the Courier instance.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithQueue sets the scheduling backend. Defaults to the in-process
// queue; use the Redis queue for multi-instance deployments.
func WithQueue(q queue.Queue) Option {
	return func(c *Courier) error {
		c.queue = q
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metric instruments recorded by the pipeline.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer sets the tracer used to span delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithCipher sets the cipher used to encrypt stored target credentials.
func WithCipher(cipher subscription.Cipher) Option {
	return func(c *Courier) error {
		c.cipher = cipher
		return nil
	}
}

// WithDirectoryResolver sets the resolver used to enrich rendered
// payloads with user and project summaries.
func WithDirectoryResolver(r payload.DirectoryResolver) Option {
	return func(c *Courier) error {
		c.resolver = r
		return nil
	}
}

// WithServiceInfo identifies the emitting service in rendered payloads.
func WithServiceInfo(info payload.ServiceInfo) Option {
	return func(c *Courier) error {
		c.service = info
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due work.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(c *Courier) error {
		c.config.BatchSize = n
		return nil
	}
}

// WithMaxTimeout sets the ceiling on per-attempt HTTP time.
func WithMaxTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.MaxTimeout = d
		return nil
	}
}

// WithFailureThreshold sets how many failures within the failure window
// deactivate a subscription.
func WithFailureThreshold(n int) Option {
	return func(c *Courier) error {
		c.config.FailureThreshold = n
		return nil
	}
}

// WithFailureWindow sets the trailing window for auto-deactivation.
func WithFailureWindow(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.FailureWindow = d
		return nil
	}
}

// WithFlushInterval sets how often the emitter drains its micro-batch.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.FlushInterval = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.CacheTTL = d
		return nil
	}
}

// WithDispatchRateLimit caps outbound deliveries per minute across the
// whole instance. Zero means unlimited.
func WithDispatchRateLimit(perMinute int) Option {
	return func(c *Courier) error {
		c.config.DispatchPerMinute = perMinute
		return nil
	}
}
