package registry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paul-bdio/zorro/pkg/db"
	models "github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/profile"
)

func (d *DB) initNotifications(ctx context.Context) error {
	if err := d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			profile_id BIGINT NOT NULL,
			event_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (event_type, profile_id, event_timestamp)
		)
	`); err != nil {
		return err
	}
	return d.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_notifications_profile ON notifications (profile_id, event_timestamp)`)
}

func (d *DB) initDeliveries(ctx context.Context) error {
	if err := d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notification_deliveries (
			id TEXT PRIMARY KEY,
			notification_id TEXT NOT NULL REFERENCES notifications (id),
			profile_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			channel TEXT NOT NULL,
			destination TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			lease_until TIMESTAMP WITH TIME ZONE,
			last_error TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (notification_id, channel, destination)
		)
	`); err != nil {
		return err
	}
	return d.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_deliveries_status ON notification_deliveries (status, profile_id)`)
}

const deliveryColumns = `id, notification_id, profile_id, event_type, channel, destination, body, status,
	attempts, lease_until, last_error, sent_at, created_at, updated_at`

// redeliverable matches deliveries that were claimed but not confirmed sent.
// $1 is the profile id (zero for all), $2 is now.
const redeliverable = `($1::BIGINT = 0 OR profile_id = $1)
	AND (status IN ('pending', 'transient_failure') OR (status = 'sending' AND lease_until < $2))`

func scanDelivery(row pgx.Row) (models.Delivery, error) {
	var (
		out       models.Delivery
		eventType string
		channel   string
		status    string
	)
	err := row.Scan(&out.ID, &out.NotificationID, &out.ProfileID, &eventType, &channel, &out.Destination, &out.Body,
		&status, &out.Attempts, &out.LeaseUntil, &out.LastError, &out.SentAt, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return models.Delivery{}, err
	}
	out.EventType = profile.EventType(eventType)
	out.Channel = models.Channel(channel)
	out.Status = models.DeliveryStatus(status)
	out.LeaseUntil = utcPtr(out.LeaseUntil)
	out.SentAt = utcPtr(out.SentAt)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (d *DB) ClaimNotification(ctx context.Context, n models.Notification, deliveries []models.Delivery) (bool, error) {
	key := n.Key()
	inserted := false
	err := d.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, event_type, profile_id, event_timestamp, body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_type, profile_id, event_timestamp) DO NOTHING
		`, n.ID, string(key.Type), key.ProfileID, key.EventTimestamp, n.Body, n.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true

		for _, dl := range deliveries {
			_, err := tx.Exec(ctx, `
				INSERT INTO notification_deliveries
				(id, notification_id, profile_id, event_type, channel, destination, body, status, attempts, lease_until, last_error, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, $11)
				ON CONFLICT (notification_id, channel, destination) DO NOTHING
			`, dl.ID, n.ID, n.ProfileID, string(n.EventType), string(dl.Channel), dl.Destination, dl.Body,
				string(dl.Status), dl.Attempts, dl.LeaseUntil, dl.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert delivery: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim notification %s: %w", key, err)
	}
	return inserted, nil
}

func (d *DB) ClaimPendingDeliveries(ctx context.Context, q models.RedeliveryQuery) ([]models.Delivery, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = db.DefaultRedeliveryLimit
	}
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}

	var out []models.Delivery
	err := d.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if q.MaxAttempts > 0 {
			_, err := tx.Exec(ctx, `
				UPDATE notification_deliveries
				SET status = 'permanent_failure',
					last_error = CASE WHEN last_error = '' THEN $3::TEXT ELSE $3::TEXT || ': ' || last_error END,
					lease_until = NULL,
					updated_at = $2
				WHERE `+redeliverable+` AND attempts >= $4
			`, q.ProfileID, q.Now, db.ExhaustedMessage, q.MaxAttempts)
			if err != nil {
				return fmt.Errorf("expire exhausted deliveries: %w", err)
			}
		}

		rows, err := tx.Query(ctx, `
			UPDATE notification_deliveries
			SET status = 'sending', attempts = attempts + 1, lease_until = $3, updated_at = $2
			WHERE id IN (
				SELECT id FROM notification_deliveries
				WHERE `+redeliverable+` AND attempts < $4
				ORDER BY created_at, id
				LIMIT $5
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+deliveryColumns,
			q.ProfileID, q.Now, q.LeaseUntil, maxAttempts, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			dl, err := scanDelivery(rows)
			if err != nil {
				return err
			}
			out = append(out, dl)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	return out, nil
}

func (d *DB) RecordDeliveryOutcome(ctx context.Context, o models.DeliveryOutcome) error {
	var sentAt *time.Time
	if o.Status == models.DeliverySent {
		at := o.At
		sentAt = &at
	}
	tag, err := d.GetExecutor(ctx).Exec(ctx, `
		UPDATE notification_deliveries
		SET status = $2, last_error = $3, lease_until = NULL, sent_at = COALESCE($4, sent_at), updated_at = $5
		WHERE id = $1
	`, o.DeliveryID, string(o.Status), o.LastError, sentAt, o.At)
	if err != nil {
		return fmt.Errorf("record delivery outcome %s: %w", o.DeliveryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s: %w", o.DeliveryID, db.ErrNotFound)
	}
	return nil
}

func (d *DB) ListNotifications(ctx context.Context, profileID uint64) ([]models.Notification, error) {
	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT id, event_type, profile_id, event_timestamp, body, created_at
		FROM notifications
		WHERE profile_id = $1
		ORDER BY event_timestamp, event_type
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	var out []models.Notification
	index := map[string]int{}
	for rows.Next() {
		var (
			n         models.Notification
			eventType string
		)
		if err := rows.Scan(&n.ID, &eventType, &n.ProfileID, &n.EventTimestamp, &n.Body, &n.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		n.EventType = profile.EventType(eventType)
		n.EventTimestamp = n.EventTimestamp.UTC()
		n.CreatedAt = n.CreatedAt.UTC()
		index[n.ID] = len(out)
		out = append(out, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	drows, err := d.GetExecutor(ctx).Query(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE profile_id = $1 ORDER BY created_at, id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		dl, err := scanDelivery(drows)
		if err != nil {
			return nil, fmt.Errorf("list deliveries: %w", err)
		}
		if i, ok := index[dl.NotificationID]; ok {
			out[i].Deliveries = append(out[i].Deliveries, dl)
		}
	}
	return out, drows.Err()
}
