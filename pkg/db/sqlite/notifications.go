package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/profile"
)

const deliveryColumns = `id, notification_id, profile_id, event_type, channel, destination, body, status,
	attempts, lease_until, last_error, sent_at, created_at, updated_at`

// redeliverable matches deliveries that were claimed but not confirmed sent. Parameters:
// profile id (twice), now.
const redeliverable = `(? = 0 OR profile_id = ?)
	AND (status IN ('pending', 'transient_failure') OR (status = 'sending' AND lease_until < ?))`

func scanDelivery(row interface{ Scan(...any) error }) (registry.Delivery, error) {
	var (
		d          registry.Delivery
		eventType  string
		channel    string
		status     string
		leaseUntil sql.NullInt64
		sentAt     sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&d.ID, &d.NotificationID, &d.ProfileID, &eventType, &channel, &d.Destination, &d.Body, &status,
		&d.Attempts, &leaseUntil, &d.LastError, &sentAt, &createdAt, &updatedAt)
	if err != nil {
		return registry.Delivery{}, err
	}
	d.EventType = profile.EventType(eventType)
	d.Channel = registry.Channel(channel)
	d.Status = registry.DeliveryStatus(status)
	d.LeaseUntil = fromNullMillis(leaseUntil)
	d.SentAt = fromNullMillis(sentAt)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}

func (s *Store) ClaimNotification(ctx context.Context, n registry.Notification, deliveries []registry.Delivery) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := n.Key()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, event_type, profile_id, event_timestamp, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_type, profile_id, event_timestamp) DO NOTHING
	`, n.ID, string(key.Type), key.ProfileID, toMillis(key.EventTimestamp), n.Body, toMillis(n.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("claim notification %s: %w", key, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim notification %s: %w", key, err)
	}
	if inserted == 0 {
		return false, nil
	}

	for _, d := range deliveries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notification_deliveries
			(id, notification_id, profile_id, event_type, channel, destination, body, status, attempts, lease_until, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
			ON CONFLICT(notification_id, channel, destination) DO NOTHING
		`, d.ID, n.ID, n.ProfileID, string(n.EventType), string(d.Channel), d.Destination, d.Body, string(d.Status),
			d.Attempts, nullMillis(d.LeaseUntil), toMillis(d.CreatedAt), toMillis(d.CreatedAt))
		if err != nil {
			return false, fmt.Errorf("claim notification %s: insert delivery: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("claim notification %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) ClaimPendingDeliveries(ctx context.Context, q registry.RedeliveryQuery) ([]registry.Delivery, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = db.DefaultRedeliveryLimit
	}
	now := toMillis(q.Now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if q.MaxAttempts > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE notification_deliveries
			SET status = 'permanent_failure',
				last_error = CASE WHEN last_error = '' THEN ? ELSE ? || ': ' || last_error END,
				lease_until = NULL,
				updated_at = ?
			WHERE `+redeliverable+` AND attempts >= ?
		`, db.ExhaustedMessage, db.ExhaustedMessage, now, q.ProfileID, q.ProfileID, now, q.MaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("expire exhausted deliveries: %w", err)
		}
	}

	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	rows, err := tx.QueryContext(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending', attempts = attempts + 1, lease_until = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM notification_deliveries
			WHERE `+redeliverable+` AND attempts < ?
			ORDER BY created_at, id
			LIMIT ?
		)
		RETURNING `+deliveryColumns,
		toMillis(q.LeaseUntil), now, q.ProfileID, q.ProfileID, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}

	var out []registry.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim pending deliveries: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	return out, nil
}

func (s *Store) RecordDeliveryOutcome(ctx context.Context, o registry.DeliveryOutcome) error {
	at := toMillis(o.At)
	var sentAt sql.NullInt64
	if o.Status == registry.DeliverySent {
		sentAt = sql.NullInt64{Int64: at, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_deliveries
		SET status = ?, last_error = ?, lease_until = NULL, sent_at = COALESCE(?, sent_at), updated_at = ?
		WHERE id = ?
	`, string(o.Status), o.LastError, sentAt, at, o.DeliveryID)
	if err != nil {
		return fmt.Errorf("record delivery outcome %s: %w", o.DeliveryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %s: %w", o.DeliveryID, db.ErrNotFound)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, profileID uint64) ([]registry.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, profile_id, event_timestamp, body, created_at
		FROM notifications
		WHERE profile_id = ?
		ORDER BY event_timestamp, event_type
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []registry.Notification
	index := map[string]int{}
	for rows.Next() {
		var (
			n         registry.Notification
			eventType string
			eventTS   int64
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &eventType, &n.ProfileID, &eventTS, &n.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		n.EventType = profile.EventType(eventType)
		n.EventTimestamp = fromMillis(eventTS)
		n.CreatedAt = fromMillis(createdAt)
		index[n.ID] = len(out)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	rows.Close()

	drows, err := s.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE profile_id = ? ORDER BY created_at, id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		d, err := scanDelivery(drows)
		if err != nil {
			return nil, fmt.Errorf("list deliveries: %w", err)
		}
		if i, ok := index[d.NotificationID]; ok {
			out[i].Deliveries = append(out[i].Deliveries, d)
		}
	}
	return out, drows.Err()
}
