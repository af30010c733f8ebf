package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	models "github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/utils"
)

func (d *DB) initContacts(ctx context.Context) error {
	return d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profile_contacts (
			address TEXT NOT NULL,
			channel TEXT NOT NULL,
			destination TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, channel, destination)
		)
	`)
}

func (d *DB) initConnections(ctx context.Context) error {
	if err := d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS connections (
			purpose_identifier TEXT NOT NULL,
			external_address TEXT NOT NULL,
			profile_id BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (purpose_identifier, external_address)
		)
	`); err != nil {
		return err
	}
	return d.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_connections_profile ON connections (profile_id)`)
}

func (d *DB) initAnomalies(ctx context.Context) error {
	if err := d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_anomalies (
			id BIGSERIAL PRIMARY KEY,
			profile_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			observed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}
	return d.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_anomalies_profile ON sync_anomalies (profile_id, observed_at DESC)`)
}

func (d *DB) ContactsForAddress(ctx context.Context, address string) ([]models.Contact, error) {
	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT address, channel, destination, created_at
		FROM profile_contacts
		WHERE address = $1
		ORDER BY channel, destination
	`, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("contacts for %s: %w", address, err)
	}
	defer rows.Close()

	var out []models.Contact
	for rows.Next() {
		var (
			c       models.Contact
			channel string
		)
		if err := rows.Scan(&c.Address, &channel, &c.Destination, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("contacts for %s: %w", address, err)
		}
		c.Channel = models.Channel(channel)
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) PutContact(ctx context.Context, c models.Contact) error {
	err := d.Exec(ctx, `
		INSERT INTO profile_contacts (address, channel, destination, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, channel, destination) DO NOTHING
	`, strings.ToLower(c.Address), string(c.Channel), c.Destination, orNow(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("put contact: %w", err)
	}
	return nil
}

func (d *DB) PutConnection(ctx context.Context, c models.Connection) error {
	err := d.Exec(ctx, `
		INSERT INTO connections (purpose_identifier, external_address, profile_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (purpose_identifier, external_address) DO UPDATE SET profile_id = EXCLUDED.profile_id
	`, c.PurposeIdentifier, strings.ToLower(c.ExternalAddress), c.ProfileID, orNow(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

func (d *DB) VerifiedExternalAddresses(ctx context.Context, purpose string, addresses []string) ([]string, error) {
	addresses = utils.LowerAll(addresses)
	if len(addresses) == 0 {
		return []string{}, nil
	}

	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT c.external_address
		FROM connections c
		JOIN cached_profiles p ON p.profile_id = c.profile_id
		WHERE c.purpose_identifier = $1 AND p.verified AND c.external_address = ANY($2)
		ORDER BY c.external_address
	`, purpose, addresses)
	if err != nil {
		return nil, fmt.Errorf("verified external addresses: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("verified external addresses: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (d *DB) RecordAnomaly(ctx context.Context, a models.Anomaly) error {
	err := d.Exec(ctx, `
		INSERT INTO sync_anomalies (profile_id, kind, detail, observed_at) VALUES ($1, $2, $3, $4)
	`, a.ProfileID, a.Kind, a.Detail, orNow(a.ObservedAt))
	if err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}

func (d *DB) ListAnomalies(ctx context.Context, profileID uint64, limit int) ([]models.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT id, profile_id, kind, detail, observed_at
		FROM sync_anomalies
		WHERE ($1::BIGINT = 0 OR profile_id = $1)
		ORDER BY observed_at DESC, id DESC
		LIMIT $2
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.ID, &a.ProfileID, &a.Kind, &a.Detail, &a.ObservedAt); err != nil {
			return nil, fmt.Errorf("list anomalies: %w", err)
		}
		a.ObservedAt = a.ObservedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
