package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/utils"
)

func (s *Store) ContactsForAddress(ctx context.Context, address string) ([]registry.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, channel, destination, created_at
		FROM profile_contacts
		WHERE address = ?
		ORDER BY channel, destination
	`, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("contacts for %s: %w", address, err)
	}
	defer rows.Close()

	var out []registry.Contact
	for rows.Next() {
		var (
			c         registry.Contact
			channel   string
			createdAt int64
		)
		if err := rows.Scan(&c.Address, &channel, &c.Destination, &createdAt); err != nil {
			return nil, fmt.Errorf("contacts for %s: %w", address, err)
		}
		c.Channel = registry.Channel(channel)
		c.CreatedAt = fromMillis(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) PutContact(ctx context.Context, c registry.Contact) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_contacts (address, channel, destination, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address, channel, destination) DO NOTHING
	`, strings.ToLower(c.Address), string(c.Channel), c.Destination, toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("put contact: %w", err)
	}
	return nil
}

func (s *Store) PutConnection(ctx context.Context, c registry.Connection) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (purpose_identifier, external_address, profile_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(purpose_identifier, external_address) DO UPDATE SET profile_id = excluded.profile_id
	`, c.PurposeIdentifier, strings.ToLower(c.ExternalAddress), c.ProfileID, toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

func (s *Store) VerifiedExternalAddresses(ctx context.Context, purpose string, addresses []string) ([]string, error) {
	addresses = utils.LowerAll(addresses)
	if len(addresses) == 0 {
		return []string{}, nil
	}

	args := make([]any, 0, len(addresses)+1)
	args = append(args, purpose)
	for _, a := range addresses {
		args = append(args, a)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(addresses)), ", ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.external_address
		FROM connections c
		JOIN cached_profiles p ON p.profile_id = c.profile_id
		WHERE c.purpose_identifier = ? AND p.verified = 1 AND c.external_address IN (`+placeholders+`)
		ORDER BY c.external_address
	`, args...)
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

func (s *Store) RecordAnomaly(ctx context.Context, a registry.Anomaly) error {
	observedAt := a.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_anomalies (profile_id, kind, detail, observed_at) VALUES (?, ?, ?, ?)
	`, a.ProfileID, a.Kind, a.Detail, toMillis(observedAt))
	if err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}

func (s *Store) ListAnomalies(ctx context.Context, profileID uint64, limit int) ([]registry.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, kind, detail, observed_at
		FROM sync_anomalies
		WHERE (? = 0 OR profile_id = ?)
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`, profileID, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []registry.Anomaly
	for rows.Next() {
		var (
			a          registry.Anomaly
			observedAt int64
		)
		if err := rows.Scan(&a.ID, &a.ProfileID, &a.Kind, &a.Detail, &observedAt); err != nil {
			return nil, fmt.Errorf("list anomalies: %w", err)
		}
		a.ObservedAt = fromMillis(observedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
