package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

func joinEvents(events []model.EventType) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}

func splitEvents(s string) []model.EventType {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]model.EventType, len(parts))
	for i, p := range parts {
		out[i] = model.EventType(p)
	}
	return out
}

// Subscribe registers (or, if (url, events) already exists, re-registers
// per spec.md §3's idempotency rule) a webhook subscription. A repeat
// registration updates signing_key and description while preserving
// webhook_id and created_at.
func (s *Store) Subscribe(ctx context.Context, url string, events []model.EventType, signingKey, description string) (model.WebhookSubscription, error) {
	eventsCol := joinEvents(events)

	existing, err := s.findSubscriptionByURLEvents(ctx, url, eventsCol)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return model.WebhookSubscription{}, err
	}
	if err == nil {
		_, updateErr := s.db.ExecContext(ctx,
			`UPDATE webhooks SET signing_key = ?, description = ? WHERE webhook_id = ?`,
			signingKey, description, existing.WebhookID,
		)
		if updateErr != nil {
			return model.WebhookSubscription{}, updateErr
		}
		existing.SigningKey = signingKey
		existing.Description = description
		return existing, nil
	}

	sub := model.WebhookSubscription{
		WebhookID:   uuid.NewString(),
		URL:         url,
		Events:      events,
		SigningKey:  signingKey,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, insertErr := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (webhook_id, url, events, signing_key, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.WebhookID, sub.URL, eventsCol, sub.SigningKey, sub.Description, sub.CreatedAt.Format(time.RFC3339Nano),
	)
	if insertErr != nil {
		return model.WebhookSubscription{}, insertErr
	}
	return sub, nil
}

func (s *Store) findSubscriptionByURLEvents(ctx context.Context, url, eventsCol string) (model.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT webhook_id, url, events, signing_key, description, created_at FROM webhooks WHERE url = ? AND events = ?`,
		url, eventsCol,
	)
	return scanWebhook(row)
}

func scanWebhook(row rowScanner) (model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	var eventsCol, createdAt string
	err := row.Scan(&sub.WebhookID, &sub.URL, &eventsCol, &sub.SigningKey, &sub.Description, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookSubscription{}, apperr.New(apperr.KindNotFound, "webhook not found")
	}
	if err != nil {
		return model.WebhookSubscription{}, err
	}
	sub.Events = splitEvents(eventsCol)
	sub.CreatedAt = parseTime(createdAt)
	return sub, nil
}

// GetWebhook returns a subscription by ID, signing key included (for
// internal dispatcher use — callers exposing this to admins must redact
// SigningKey themselves).
func (s *Store) GetWebhook(ctx context.Context, id string) (model.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT webhook_id, url, events, signing_key, description, created_at FROM webhooks WHERE webhook_id = ?`, id)
	return scanWebhook(row)
}

// ListWebhooks returns every subscription.
func (s *Store) ListWebhooks(ctx context.Context) ([]model.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT webhook_id, url, events, signing_key, description, created_at FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.WebhookSubscription
	for rows.Next() {
		sub, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ListWebhooksForEvent returns every subscription registered for eventType,
// for the Webhook Dispatcher's fan-out.
func (s *Store) ListWebhooksForEvent(ctx context.Context, eventType model.EventType) ([]model.WebhookSubscription, error) {
	all, err := s.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.WebhookSubscription
	for _, sub := range all {
		if sub.HasEvent(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// DeleteWebhook removes a subscription and its delivery history (cascade).
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "webhook not found")
	}
	return nil
}

// retentionMaxEntries and retentionMaxAge implement spec.md §3's "7 days or
// last 100 entries, whichever is tighter."
const (
	retentionMaxEntries = 100
	retentionMaxAge     = 7 * 24 * time.Hour
)

// RecordDelivery appends a delivery outcome and prunes the subscription's
// history to the retention policy.
func (s *Store) RecordDelivery(ctx context.Context, webhookID string, d model.WebhookDelivery) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhook_deliveries (webhook_id, timestamp, event_type, url, status, status_code, error, latency_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			webhookID, d.Timestamp.Format(time.RFC3339Nano), string(d.EventType), d.URL, string(d.Status), d.StatusCode, d.Error, d.LatencyMS,
		)
		if err != nil {
			return err
		}

		cutoff := time.Now().UTC().Add(-retentionMaxAge).Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM webhook_deliveries WHERE webhook_id = ? AND timestamp < ?`, webhookID, cutoff,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM webhook_deliveries
			WHERE webhook_id = ? AND rowid NOT IN (
				SELECT rowid FROM webhook_deliveries
				WHERE webhook_id = ?
				ORDER BY timestamp DESC
				LIMIT ?
			)`, webhookID, webhookID, retentionMaxEntries)
		return err
	})
}

// ListDeliveries returns a subscription's delivery history, most recent
// first.
func (s *Store) ListDeliveries(ctx context.Context, webhookID string) ([]model.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, event_type, url, status, status_code, error, latency_ms
		 FROM webhook_deliveries WHERE webhook_id = ? ORDER BY timestamp DESC`, webhookID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var ts, eventType, status string
		if err := rows.Scan(&ts, &eventType, &d.URL, &status, &d.StatusCode, &d.Error, &d.LatencyMS); err != nil {
			return nil, err
		}
		d.Timestamp = parseTime(ts)
		d.EventType = model.EventType(eventType)
		d.Status = model.DeliveryStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}
