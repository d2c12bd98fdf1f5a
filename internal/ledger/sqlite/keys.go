package sqlite

import (
	"context"
	"database/sql"
	"time"

	"lexledger/internal/types"
)

// Create stores an API key. KeyHash must already be a bcrypt hash.
func (s *Store) Create(ctx context.Context, key *types.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, account_id, key_hash, key_prefix, created_at)
VALUES(?, ?, ?, ?, ?)`,
		key.ID, key.AccountID, key.KeyHash, key.KeyPrefix, key.CreatedAt.UnixNano(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// FindByPrefix returns every key sharing prefix, revoked ones included.
func (s *Store) FindByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, key_hash, key_prefix, last_used_at, revoked_at, created_at
FROM api_keys
WHERE key_prefix = ?`, prefix)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query API keys", err)
	}
	defer rows.Close()

	var out []*types.APIKey
	for rows.Next() {
		var (
			k                types.APIKey
			lastUsed, revoke sql.NullInt64
			created          int64
		)
		if err := rows.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.KeyPrefix, &lastUsed, &revoke, &created); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan API key row", err)
		}
		k.CreatedAt = fromNanos(created)
		k.LastUsedAt = nullableTime(lastUsed)
		k.RevokedAt = nullableTime(revoke)
		out = append(out, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating API key rows", err)
	}
	return out, nil
}

// TouchLastUsed stamps last_used_at.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last_used_at", err)
	}
	return nil
}

// Claim records a Stripe event id. It returns false for a redelivery.
func (s *Store) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stripe_events(id, event_type, received_at) VALUES(?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		eventID, eventType, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim stripe event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim stripe event", err)
	}
	return n == 1, nil
}

// Release drops a claim so a retried delivery is processed.
func (s *Store) Release(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE id = ?`, eventID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release stripe event", err)
	}
	return nil
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
