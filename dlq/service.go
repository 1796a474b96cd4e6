package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// Handler processes one dead letter entry. A nil return marks the entry
// handled; an error leaves it for a later pass.
type Handler func(ctx context.Context, entry *Entry) error

// Config holds dead letter worker configuration.
type Config struct {
	// PollInterval is how often the worker scans for unhandled entries.
	PollInterval time.Duration

	// BatchSize bounds one worker pass.
	BatchSize int

	// MaxHandlerElapsed bounds the backoff retries of one handler
	// invocation within a pass.
	MaxHandlerElapsed time.Duration

	// Retention is how long handled entries are kept before purge.
	Retention time.Duration
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxHandlerElapsed <= 0 {
		c.MaxHandlerElapsed = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Service manages dead letter entries and the handler registry.
type Service struct {
	store  Store
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a dead letter service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.withDefaults()
	return &Service{
		store:    store,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to an operation name. Registering the
// same operation twice replaces the previous handler.
func (svc *Service) RegisterHandler(operation string, h Handler) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.handlers[operation] = h
}

// Add records a failed operation. ID and RaisedAt are filled when absent.
func (svc *Service) Add(ctx context.Context, entry *Entry) error {
	if entry.Operation == "" {
		return fmt.Errorf("dlq: entry operation is required")
	}
	if entry.ID.IsNil() {
		entry.ID = id.NewDeadLetterID()
	}
	if entry.RaisedAt.IsZero() {
		entry.RaisedAt = time.Now().UTC()
	}
	entry.Entity = entity.New()

	if err := svc.store.AddEntry(ctx, entry); err != nil {
		return fmt.Errorf("dlq: add entry: %w", err)
	}
	svc.logger.WarnContext(ctx, "dead letter recorded",
		"entry_id", entry.ID, "operation", entry.Operation, "error", entry.Error)
	return nil
}

// PushFailed records a terminally failed webhook delivery. Implements
// delivery.FallbackSink.
func (svc *Service) PushFailed(ctx context.Context, d *delivery.Delivery, info *delivery.ErrorInfo) error {
	meta := map[string]string{
		"delivery_id":     d.ID.String(),
		"subscription_id": d.SubscriptionID.String(),
		"event_id":        d.EventID.String(),
		"event_type":      d.EventType,
		"attempt":         fmt.Sprintf("%d", d.Attempt),
	}
	errMsg := ""
	if info != nil {
		errMsg = fmt.Sprintf("%s: %s", info.Type, info.Message)
	}
	return svc.Add(ctx, &Entry{
		Operation: OpWebhookDelivery,
		Request:   d.Request,
		Response:  d.Response,
		UserID:    d.UserID,
		Metadata:  meta,
		Error:     errMsg,
	})
}

// OpWebhookDelivery is the operation name for failed webhook deliveries.
const OpWebhookDelivery = "webhook_delivery"

// Start begins the background worker loop.
func (svc *Service) Start(ctx context.Context) {
	ctx, svc.cancel = context.WithCancel(ctx)

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		ticker := time.NewTicker(svc.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.runPass(ctx)
			}
		}
	}()
}

// Stop halts the worker and waits for the in-flight pass.
func (svc *Service) Stop(_ context.Context) {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
}

// runPass pulls unhandled entries, orders them by priority, and invokes
// their handlers.
func (svc *Service) runPass(ctx context.Context) {
	entries, err := svc.store.PullUnhandled(ctx, svc.config.BatchSize)
	if err != nil {
		svc.logger.ErrorContext(ctx, "dead letter pull failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	now := time.Now().UTC()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Priority(now) > entries[j].Priority(now)
	})

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		svc.handle(ctx, entry)
	}
}

// Handle invokes the registered handler for a single entry with
// exponential backoff. A missing handler is an error: logged, and the
// entry stays unhandled until a handler is registered.
func (svc *Service) handle(ctx context.Context, entry *Entry) {
	svc.mu.RLock()
	h, ok := svc.handlers[entry.Operation]
	svc.mu.RUnlock()
	if !ok {
		svc.logger.ErrorContext(ctx, "no handler for dead letter operation",
			"entry_id", entry.ID, "operation", entry.Operation)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = svc.config.MaxHandlerElapsed

	entry.Attempts++
	err := backoff.Retry(func() error {
		return h(ctx, entry)
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		svc.logger.WarnContext(ctx, "dead letter handler failed",
			"entry_id", entry.ID, "operation", entry.Operation,
			"attempts", entry.Attempts, "error", err)
		if uerr := svc.store.UpdateEntry(ctx, entry); uerr != nil {
			svc.logger.ErrorContext(ctx, "dead letter update failed", "entry_id", entry.ID, "error", uerr)
		}
		return
	}

	now := time.Now().UTC()
	entry.HandledAt = &now
	if uerr := svc.store.UpdateEntry(ctx, entry); uerr != nil {
		svc.logger.ErrorContext(ctx, "dead letter update failed", "entry_id", entry.ID, "error", uerr)
		return
	}
	svc.logger.InfoContext(ctx, "dead letter handled",
		"entry_id", entry.ID, "operation", entry.Operation, "attempts", entry.Attempts)
}

// Replay immediately invokes the handler for one entry, outside the
// worker schedule.
func (svc *Service) Replay(ctx context.Context, entryID id.ID) error {
	entry, err := svc.store.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("dlq: replay get: %w", err)
	}
	if entry.Handled() {
		return fmt.Errorf("dlq: entry %s already handled", entryID)
	}
	svc.handle(ctx, entry)
	return nil
}

// List returns entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListEntries(ctx, opts)
}

// Get returns an entry by ID.
func (svc *Service) Get(ctx context.Context, entryID id.ID) (*Entry, error) {
	return svc.store.GetEntry(ctx, entryID)
}

// Count returns the number of unhandled entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountEntries(ctx)
}

// Purge removes handled entries past the retention window.
func (svc *Service) Purge(ctx context.Context) (int64, error) {
	before := time.Now().UTC().Add(-svc.config.Retention)
	return svc.store.Purge(ctx, before)
}
