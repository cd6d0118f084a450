package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/clockdesk/clockdesk/internal/model"
)

// ErrAPIKeyNotFound is returned for unknown keys and, on revoke, for keys
// already revoked.
var ErrAPIKeyNotFound = errors.New("API key not found")

const selectAPIKey = `
	SELECT id, owner_id, tenant_scope, key_hash, key_prefix, scopes,
	       rate_limit_tier, name, revoked_at, last_used_at, created_at
	FROM api_keys`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAPIKey(ctx context.Context, db execer, key *model.APIKey) error {
	_, err := db.Exec(ctx, `
		INSERT INTO api_keys (id, owner_id, tenant_scope, key_hash, key_prefix, scopes, rate_limit_tier, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.OwnerID, key.TenantScope, key.KeyHash, key.KeyPrefix,
		pq.Array(key.Scopes), key.RateLimitTier, key.Name, key.CreatedAt,
	)
	return err
}

func revokeAPIKey(ctx context.Context, db execer, id string, at time.Time) error {
	tag, err := db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// CreateAPIKey stores a new key.
func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := insertAPIKey(ctx, r.pool, key); err != nil {
		return wrapErr("create API key", err)
	}
	return nil
}

// GetAPIKeyByID returns the key with id, revoked or not.
func (r *Repository) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := scanAPIKey(r.pool.QueryRow(ctx, selectAPIKey+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, wrapErr("get API key", err)
	}
	return key, nil
}

// GetAPIKeysByPrefix returns the active keys sharing prefix. Auth verifies
// the presented key against each of them.
func (r *Repository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	return r.listAPIKeys(ctx, "get API keys by prefix",
		selectAPIKey+` WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
}

// ListAPIKeysByOwner returns every key of ownerID, newest first.
func (r *Repository) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	return r.listAPIKeys(ctx, "list API keys",
		selectAPIKey+` WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// RevokeAPIKey marks an active key revoked.
func (r *Repository) RevokeAPIKey(ctx context.Context, id string) error {
	err := revokeAPIKey(ctx, r.pool, id, time.Now())
	if err != nil && !errors.Is(err, ErrAPIKeyNotFound) {
		return wrapErr("revoke API key", err)
	}
	return err
}

// RotateAPIKey revokes oldID and stores its replacement in one
// transaction, so a failed rotation leaves the old key working.
func (r *Repository) RotateAPIKey(ctx context.Context, oldID string, replacement *model.APIKey) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := revokeAPIKey(ctx, tx, oldID, replacement.CreatedAt); err != nil {
			return err
		}
		return insertAPIKey(ctx, tx, replacement)
	})
	if err != nil && !errors.Is(err, ErrAPIKeyNotFound) {
		return wrapErr("rotate API key", err)
	}
	return err
}

// UpdateAPIKeyLastUsed stamps last_used_at. Auth calls it off the request path.
func (r *Repository) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id); err != nil {
		return wrapErr("update API key last used", err)
	}
	return nil
}

func (r *Repository) listAPIKeys(ctx context.Context, op, query string, args ...any) ([]*model.APIKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.APIKey, error) {
		return scanAPIKey(row)
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return keys, nil
}

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.OwnerID, &k.TenantScope, &k.KeyHash, &k.KeyPrefix,
		pq.Array(&k.Scopes), &k.RateLimitTier, &k.Name,
		&k.RevokedAt, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}
