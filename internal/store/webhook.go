package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relayhook/relayhook/internal/model"
)

const subscriptionColumns = `id, service_name, webhook_url, secret, filters, status,
	max_retries, delivery_timeout_ms, total_deliveries, total_failures, retry_count,
	last_delivery_at, last_error, last_error_at, created_at, updated_at`

func filtersToJSON(f model.SubscriptionFilters) model.JSONMap {
	b, _ := json.Marshal(f)
	var m model.JSONMap
	_ = json.Unmarshal(b, &m)
	return m
}

func filtersFromJSON(m model.JSONMap) model.SubscriptionFilters {
	var f model.SubscriptionFilters
	b, err := json.Marshal(m)
	if err != nil {
		return f
	}
	_ = json.Unmarshal(b, &f)
	return f
}

func scanSubscription(row pgx.Row) (*model.WebhookSubscription, error) {
	sub := &model.WebhookSubscription{}
	var filters model.JSONMap
	err := row.Scan(
		&sub.ID, &sub.ServiceName, &sub.WebhookURL, &sub.Secret, &filters, &sub.Status,
		&sub.MaxRetries, &sub.DeliveryTimeoutMs, &sub.TotalDeliveries, &sub.TotalFailures,
		&sub.RetryCount, &sub.LastDeliveryAt, &sub.LastError, &sub.LastErrorAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Filters = filtersFromJSON(filters)
	return sub, nil
}

// ListActiveSubscriptions returns all subscriptions with status=active.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE status = $1`, subscriptionColumns)
	rows, err := s.pool.Query(ctx, query, model.SubscriptionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WebhookSubscription, error) {
		sub, err := scanSubscription(row)
		if err != nil {
			return model.WebhookSubscription{}, err
		}
		return *sub, nil
	})
}

// ListSuspendedSubscriptions returns all subscriptions with status=suspended,
// for the auto-resume loop.
func (s *Store) ListSuspendedSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE status = $1`, subscriptionColumns)
	rows, err := s.pool.Query(ctx, query, model.SubscriptionStatusSuspended)
	if err != nil {
		return nil, fmt.Errorf("list suspended subscriptions: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WebhookSubscription, error) {
		sub, err := scanSubscription(row)
		if err != nil {
			return model.WebhookSubscription{}, err
		}
		return *sub, nil
	})
}

// GetSubscription fetches one subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE id = $1`, subscriptionColumns)
	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("webhook subscription")
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// SaveSubscription upserts sub: inserts if ID is new, otherwise updates the
// mutable fields (counters, timeout, status, last error) fan-out writes.
func (s *Store) SaveSubscription(ctx context.Context, sub *model.WebhookSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO webhook_subscriptions (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			service_name = EXCLUDED.service_name,
			webhook_url = EXCLUDED.webhook_url,
			secret = EXCLUDED.secret,
			filters = EXCLUDED.filters,
			status = EXCLUDED.status,
			max_retries = EXCLUDED.max_retries,
			delivery_timeout_ms = EXCLUDED.delivery_timeout_ms,
			total_deliveries = EXCLUDED.total_deliveries,
			total_failures = EXCLUDED.total_failures,
			retry_count = EXCLUDED.retry_count,
			last_delivery_at = EXCLUDED.last_delivery_at,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at,
			updated_at = EXCLUDED.updated_at
		RETURNING %s`, subscriptionColumns, subscriptionColumns)

	row := s.pool.QueryRow(ctx, query,
		sub.ID, sub.ServiceName, sub.WebhookURL, sub.Secret, filtersToJSON(sub.Filters), sub.Status,
		sub.MaxRetries, sub.DeliveryTimeoutMs, sub.TotalDeliveries, sub.TotalFailures, sub.RetryCount,
		sub.LastDeliveryAt, sub.LastError, sub.LastErrorAt, sub.CreatedAt, sub.UpdatedAt,
	)
	scanned, err := scanSubscription(row)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	*sub = *scanned
	return nil
}

const deliveryColumns = `id, inbound_email_id, subscription_id, status, http_status,
	delivered_at, ticket_id, comment_id, error, created_at`

func scanDelivery(row pgx.Row) (*model.WebhookDelivery, error) {
	d := &model.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.InboundEmailID, &d.SubscriptionID, &d.Status, &d.HTTPStatus,
		&d.DeliveredAt, &d.TicketID, &d.CommentID, &d.Error, &d.CreatedAt,
	)
	return d, err
}

// InsertDelivery creates a WebhookDelivery row. This must only be called
// after the first 2xx response; HTTP failures never create rows.
func (s *Store) InsertDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO webhook_deliveries (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, deliveryColumns, deliveryColumns)

	row := s.pool.QueryRow(ctx, query,
		d.ID, d.InboundEmailID, d.SubscriptionID, d.Status, d.HTTPStatus,
		d.DeliveredAt, d.TicketID, d.CommentID, d.Error, d.CreatedAt,
	)
	scanned, err := scanDelivery(row)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	*d = *scanned
	return nil
}

// FindDelivery returns the most recent delivery row for (inboundID, subID).
func (s *Store) FindDelivery(ctx context.Context, inboundID, subID uuid.UUID) (*model.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE inbound_email_id = $1 AND subscription_id = $2
		ORDER BY created_at DESC LIMIT 1`, deliveryColumns)
	d, err := scanDelivery(s.pool.QueryRow(ctx, query, inboundID, subID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find delivery: %w", err)
	}
	return d, nil
}

// UpdateDeliveryStatus applies a confirmation callback.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, d *model.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, delivered_at = $3, ticket_id = $4, comment_id = $5, error = $6
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, d.ID, d.Status, d.DeliveredAt, d.TicketID, d.CommentID, d.Error)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}

// FindLatestDeliveryForInbound returns the most recent delivery row for any
// subscription of inboundID, for a polling consumer's ConfirmByInboundIdOnly
// callback (it never names a subscription).
func (s *Store) FindLatestDeliveryForInbound(ctx context.Context, inboundID uuid.UUID) (*model.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE inbound_email_id = $1
		ORDER BY created_at DESC LIMIT 1`, deliveryColumns)
	d, err := scanDelivery(s.pool.QueryRow(ctx, query, inboundID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest delivery for inbound: %w", err)
	}
	return d, nil
}

// ListInboundNotConfirmedForSubscription returns inbound ids with a `sent`
// (not yet delivered/failed) delivery row for subscriptionID, for
// redelivery and the "undelivered" admin view.
func (s *Store) ListInboundNotConfirmedForSubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE subscription_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT $3`, deliveryColumns)
	rows, err := s.pool.Query(ctx, query, subscriptionID, model.DeliveryStatusSent, limit)
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed deliveries: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WebhookDelivery, error) {
		d, err := scanDelivery(row)
		if err != nil {
			return model.WebhookDelivery{}, err
		}
		return *d, nil
	})
}
