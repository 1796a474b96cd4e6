// Package bunstore implements store.Store on a SQL database via the Bun
// ORM. It works against PostgreSQL and SQLite dialects.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	courierstore "github.com/hypothesize-tech/courier/store"
	"github.com/hypothesize-tech/courier/subscription"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// NewPostgres wraps an open *sql.DB in a Postgres-dialect store.
func NewPostgres(sqldb *sql.DB) *Store {
	return New(bun.NewDB(sqldb, pgdialect.New()))
}

// NewSQLite wraps an open *sql.DB in a SQLite-dialect store.
func NewSQLite(sqldb *sql.DB) *Store {
	return New(bun.NewDB(sqldb, sqlitedialect.New()))
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*eventTypeModel)(nil),
		(*subscriptionModel)(nil),
		(*eventModel)(nil),
		(*deliveryModel)(nil),
		(*failureModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return errors.Join(courier.ErrMigrationFailed, err)
		}
	}

	// Create indexes.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_courier_deliveries_due ON courier_deliveries (next_retry_at) WHERE status = 'pending'",
		"CREATE INDEX IF NOT EXISTS idx_courier_deliveries_event ON courier_deliveries (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_courier_deliveries_subscription ON courier_deliveries (subscription_id)",
		"CREATE INDEX IF NOT EXISTS idx_courier_events_user ON courier_events (user_id)",
		"CREATE INDEX IF NOT EXISTS idx_courier_events_type ON courier_events (type)",
		"CREATE INDEX IF NOT EXISTS idx_courier_subscriptions_user ON courier_subscriptions (user_id)",
		"CREATE INDEX IF NOT EXISTS idx_courier_failures_window ON courier_subscription_failures (subscription_id, failed_at)",
		"CREATE INDEX IF NOT EXISTS idx_courier_dlq_unhandled ON courier_dlq (raised_at) WHERE handled_at IS NULL",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errors.Join(courier.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("default_title = EXCLUDED.default_title").
		Set("default_description = EXCLUDED.default_description").
		Set("default_severity = EXCLUDED.default_severity").
		Set("severity_mode = EXCLUDED.severity_mode").
		Set("schema = EXCLUDED.schema").
		Set("schema_version = EXCLUDED.schema_version").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", etID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.db.NewSelect().Model(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = et
	}
	return result, nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = ?", now).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Where("is_deprecated = false").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return courier.ErrEventTypeNotFound
	}
	return nil
}

func (s *Store) MatchTypes(ctx context.Context, pattern string) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("is_deprecated = false").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*catalog.EventType
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		if catalog.Match(pattern, et.Definition.Name) {
			result = append(result, et)
		}
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	// Delivery history and the failure log go with the subscription.
	if _, err := s.db.NewDelete().
		Model((*deliveryModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewDelete().
		Model((*failureModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Exec(ctx); err != nil {
		return err
	}

	res, err := s.db.NewDelete().
		Model((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models).Where("user_id = ?", userID)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("active = true").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*subscription.Subscription
	for i := range models {
		for _, pattern := range models[i].EventTypes {
			if catalog.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&models[i])
				if err != nil {
					return nil, err
				}
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool, reason string) error {
	now := time.Now().UTC()
	q := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", now).
		Where("id = ?", subID.String())
	if active {
		q = q.Set("deactivated_reason = ''").Set("deactivated_at = NULL")
	} else {
		q = q.Set("deactivated_reason = ?", reason).Set("deactivated_at = ?", now)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) RecordResult(ctx context.Context, subID id.ID, success bool, latencyMs int64) error {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	st := sub.Stats
	st.TotalDeliveries++
	if success {
		st.SuccessCount++
		st.LastSuccessAt = &now
	} else {
		st.FailureCount++
		st.LastFailureAt = &now
	}
	st.AvgResponseMs += (float64(latencyMs) - st.AvgResponseMs) / float64(st.TotalDeliveries)
	sub.Stats = st

	m := toSubscriptionModel(sub)
	if _, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("stats = ?", m.Stats).
		Set("updated_at = ?", now).
		Where("id = ?", subID.String()).
		Exec(ctx); err != nil {
		return err
	}

	if !success {
		_, err := s.db.NewInsert().
			Model(&failureModel{SubscriptionID: subID.String(), FailedAt: now}).
			Exec(ctx)
		return err
	}
	return nil
}

func (s *Store) CountFailuresSince(ctx context.Context, subID id.ID, since time.Time) (int64, error) {
	// Prune entries that have aged out of every plausible window.
	if _, err := s.db.NewDelete().
		Model((*failureModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Where("failed_at < ?", since).
		Exec(ctx); err != nil {
		return 0, err
	}

	count, err := s.db.NewSelect().
		Model((*failureModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Where("failed_at >= ?", since).
		Count(ctx)
	return int64(count), err
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.eventListQuery(&models, opts)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return collectEvents(models)
}

func (s *Store) ListEventsByUser(ctx context.Context, userID string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.eventListQuery(&models, opts).Where("user_id = ?", userID)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return collectEvents(models)
}

func (s *Store) eventListQuery(models *[]eventModel, opts event.ListOpts) *bun.SelectQuery {
	q := s.db.NewSelect().Model(models)
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q.Order("created_at DESC")
}

func collectEvents(models []eventModel) ([]*event.Event, error) {
	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) CreateDeliveryBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", delID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.db.NewSelect().Model(&models).Where("subscription_id = ?", subID.String())

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return collectDeliveries(models)
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("event_id = ?", evtID.String()).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return collectDeliveries(models)
}

func (s *Store) ListDuePending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.db.NewSelect().
		Model(&models).
		Where("status = ?", string(delivery.StatusPending)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("next_retry_at IS NULL").WhereOr("next_retry_at <= ?", before)
		}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return collectDeliveries(models)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*deliveryModel)(nil)).
		Where("status = ?", string(delivery.StatusPending)).
		Count(ctx)
	return int64(count), err
}

func collectDeliveries(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// ==================== Dead Letter Store ====================

func (s *Store) AddEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) UpdateEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return courier.ErrDeadLetterNotFound
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrDeadLetterNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.Operation != "" {
		q = q.Where("operation = ?", opts.Operation)
	}
	if opts.UserID != "" {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.Unhandled {
		q = q.Where("handled_at IS NULL")
	}
	if opts.From != nil {
		q = q.Where("raised_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("raised_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("raised_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) PullUnhandled(ctx context.Context, limit int) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().
		Model(&models).
		Where("handled_at IS NULL").
		Order("raised_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("handled_at IS NOT NULL").
		Where("raised_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*dlqEntryModel)(nil)).
		Where("handled_at IS NULL").
		Count(ctx)
	return int64(count), err
}
