package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/profile"
)

const cachedProfileColumns = `profile_id, fields, version, synced_at`

func scanCachedProfile(row interface{ Scan(...any) error }) (*profile.Cached, error) {
	var (
		id       uint64
		raw      string
		version  int64
		syncedAt int64
	)
	if err := row.Scan(&id, &raw, &version, &syncedAt); err != nil {
		return nil, err
	}
	fields, err := db.DecodeFields([]byte(raw))
	if err != nil {
		return nil, err
	}
	fields.ProfileID = id
	return &profile.Cached{Fields: fields, Version: version, SyncedAt: fromMillis(syncedAt)}, nil
}

func (s *Store) GetCachedProfile(ctx context.Context, profileID uint64) (*profile.Cached, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cachedProfileColumns+` FROM cached_profiles WHERE profile_id = ?`, profileID)
	p, err := scanCachedProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached profile %d: %w", profileID, err)
	}
	return p, nil
}

func (s *Store) UpsertCachedProfile(ctx context.Context, p *profile.Cached) error {
	raw, err := db.EncodeFields(p.Fields)
	if err != nil {
		return err
	}
	syncedAt := p.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now().UTC()
	}

	var res sql.Result
	if p.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO cached_profiles (profile_id, status, verified, ethereum_address, fields, version, synced_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(profile_id) DO NOTHING
		`, p.ProfileID, p.Status.String(), boolInt(p.Verified), p.EthereumAddress, string(raw), toMillis(syncedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE cached_profiles
			SET status = ?, verified = ?, ethereum_address = ?, fields = ?, version = version + 1, synced_at = ?
			WHERE profile_id = ? AND version = ?
		`, p.Status.String(), boolInt(p.Verified), p.EthereumAddress, string(raw), toMillis(syncedAt), p.ProfileID, p.Version)
	}
	if err != nil {
		return fmt.Errorf("upsert cached profile %d: %w", p.ProfileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert cached profile %d: %w", p.ProfileID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: profile %d at version %d", db.ErrStaleCache, p.ProfileID, p.Version)
	}
	p.Version++
	p.SyncedAt = syncedAt
	return nil
}

func (s *Store) ListCachedProfiles(ctx context.Context, afterID uint64, limit int) ([]profile.Cached, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cachedProfileColumns+` FROM cached_profiles
		WHERE profile_id > ?
		ORDER BY profile_id
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cached profiles: %w", err)
	}
	defer rows.Close()

	var out []profile.Cached
	for rows.Next() {
		p, err := scanCachedProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list cached profiles: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
