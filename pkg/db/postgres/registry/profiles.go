package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/postgres"
	"github.com/paul-bdio/zorro/pkg/profile"
)

func (d *DB) initCachedProfiles(ctx context.Context) error {
	if err := d.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cached_profiles (
			profile_id BIGINT PRIMARY KEY,
			status TEXT NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			ethereum_address TEXT NOT NULL DEFAULT '',
			fields JSONB NOT NULL,
			version BIGINT NOT NULL,
			synced_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}
	return d.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_cached_profiles_ethereum_address ON cached_profiles (ethereum_address)`)
}

const cachedProfileColumns = `profile_id, fields, version, synced_at`

func scanCachedProfile(row pgx.Row) (*profile.Cached, error) {
	var (
		id       uint64
		raw      []byte
		version  int64
		syncedAt time.Time
	)
	if err := row.Scan(&id, &raw, &version, &syncedAt); err != nil {
		return nil, err
	}
	fields, err := db.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	fields.ProfileID = id
	return &profile.Cached{Fields: fields, Version: version, SyncedAt: syncedAt.UTC()}, nil
}

func (d *DB) GetCachedProfile(ctx context.Context, profileID uint64) (*profile.Cached, error) {
	p, err := scanCachedProfile(d.QueryRow(ctx, `SELECT `+cachedProfileColumns+` FROM cached_profiles WHERE profile_id = $1`, profileID))
	if postgres.IsNoRows(err) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached profile %d: %w", profileID, err)
	}
	return p, nil
}

// UpsertCachedProfile is a compare-and-swap on version: an insert that loses a race and
// an update against a moved version both report db.ErrStaleCache.
func (d *DB) UpsertCachedProfile(ctx context.Context, p *profile.Cached) error {
	raw, err := db.EncodeFields(p.Fields)
	if err != nil {
		return err
	}
	syncedAt := p.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}

	var query string
	args := []any{p.ProfileID, p.Status.String(), p.Verified, p.EthereumAddress, raw, syncedAt}
	if p.Version == 0 {
		query = `
			INSERT INTO cached_profiles (profile_id, status, verified, ethereum_address, fields, version, synced_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6)
			ON CONFLICT (profile_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE cached_profiles
			SET status = $2, verified = $3, ethereum_address = $4, fields = $5, version = version + 1, synced_at = $6
			WHERE profile_id = $1 AND version = $7
		`
		args = append(args, p.Version)
	}

	tag, err := d.GetExecutor(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("upsert cached profile %d: %w", p.ProfileID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: profile %d at version %d", db.ErrStaleCache, p.ProfileID, p.Version)
	}
	p.Version++
	p.SyncedAt = syncedAt
	return nil
}

func (d *DB) ListCachedProfiles(ctx context.Context, afterID uint64, limit int) ([]profile.Cached, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT `+cachedProfileColumns+` FROM cached_profiles
		WHERE profile_id > $1
		ORDER BY profile_id
		LIMIT $2
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
