package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lexledger/internal/types"
)

// APIKeyRepository provides data access for the api_keys table. API keys use
// bcrypt hashing; plaintext secrets are never stored.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository backed by the given
// database connection (pool or transaction).
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// apiKeyColumns defines the standard set of columns selected for API key queries.
// key_hash is included for internal operations but MUST NOT be exposed in
// API responses.
const apiKeyColumns = `id, account_id, key_hash, key_prefix, last_used_at, revoked_at, created_at`

// Create inserts a new API key record. The key_hash MUST be the bcrypt hash
// of the plaintext secret.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, account_id, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		key.ID,
		key.AccountID,
		key.KeyHash,
		key.KeyPrefix,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// FindByPrefix returns every key sharing prefix, revoked ones included, so
// the caller can distinguish a revoked key from an unknown one.
func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1`,
		prefix,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query API keys", err)
	}
	defer rows.Close()

	var results []*types.APIKey
	for rows.Next() {
		key, scanErr := scanAPIKey(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan API key row", scanErr)
		}
		results = append(results, key)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating API key rows", err)
	}
	return results, nil
}

// ListByAccount returns all keys owned by accountID, newest first.
func (r *APIKeyRepository) ListByAccount(ctx context.Context, accountID string) ([]*types.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query API keys", err)
	}
	defer rows.Close()

	results := []*types.APIKey{}
	for rows.Next() {
		key, scanErr := scanAPIKey(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan API key row", scanErr)
		}
		results = append(results, key)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating API key rows", err)
	}
	return results, nil
}

// Revoke sets revoked_at on a key owned by accountID.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, accountID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL`,
		id,
		accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found or already revoked", nil)
	}
	return nil
}

// TouchLastUsed updates the last_used_at timestamp for an API key.
// Callers treat failures as non-fatal.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last_used_at", err)
	}
	return nil
}

// GetByID retrieves an API key by ID scoped to its owning account.
func (r *APIKeyRepository) GetByID(ctx context.Context, id string, accountID string) (*types.APIKey, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND account_id = $2`,
		id,
		accountID,
	)
	key, err := scanAPIKeyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API key", err)
	}
	return key, nil
}

// scanAPIKey scans an API key from pgx.Rows. Column order must match apiKeyColumns.
func scanAPIKey(rows pgx.Rows) (*types.APIKey, error) {
	return scanAPIKeyRow(rows)
}

// scanAPIKeyRow scans an API key from a single pgx.Row. Column order must
// match apiKeyColumns.
func scanAPIKeyRow(row pgx.Row) (*types.APIKey, error) {
	var key types.APIKey
	err := row.Scan(
		&key.ID,
		&key.AccountID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.LastUsedAt,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
