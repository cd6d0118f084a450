package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/clockdesk/clockdesk/internal/model"
)

// Common errors for identity repository operations.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
	ErrOwnerMustBeAdmin = errors.New("owner must keep the admin role")
)

const identityColumns = `id, display_name, email, role, is_owner, tenant_scope, last_seen_at, created_at, updated_at`

// placeholderScopeSQL matches tenant scopes that may be overwritten.
// Keep in sync with identity.IsPlaceholderLocation.
const placeholderScopeSQL = `(tenant_scope = '' OR lower(tenant_scope) IN ('location', '{location.id}', '{{location.id}}'))`

// GetIdentity retrieves an identity by its external id.
func (r *Repository) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`

	identity, err := scanIdentity(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, wrapErr("failed to get identity", err)
	}
	return identity, nil
}

// CreateIdentity inserts a new identity. It returns ErrIdentityExists when a
// row with the same id was inserted first, so callers can fall back to an update.
func (r *Repository) CreateIdentity(ctx context.Context, i *model.Identity) error {
	query := `
		INSERT INTO identities (id, display_name, email, role, is_owner, tenant_scope, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		i.ID,
		i.DisplayName,
		i.Email,
		string(i.Role),
		i.IsOwner,
		i.TenantScope,
		i.LastSeenAt,
		i.CreatedAt,
		i.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to create identity", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIdentityExists
	}
	return nil
}

// ApplySyncUpdate applies a synchronization patch to an existing identity.
// The role is only ever promoted and the tenant scope only replaces an empty
// or placeholder value, so overlapping runs cannot demote or move anyone.
func (r *Repository) ApplySyncUpdate(ctx context.Context, id string, patch model.SyncPatch) (*model.Identity, error) {
	query := `
		UPDATE identities
		SET display_name = $2,
		    email = $3,
		    tenant_scope = CASE WHEN $4 <> '' AND ` + placeholderScopeSQL + ` THEN $4 ELSE tenant_scope END,
		    role = CASE WHEN $5 THEN 'admin' ELSE role END,
		    last_seen_at = $6,
		    updated_at = $6
		WHERE id = $1
		RETURNING ` + identityColumns

	identity, err := scanIdentity(r.pool.QueryRow(ctx, query,
		id,
		patch.DisplayName,
		patch.Email,
		patch.TenantScope,
		patch.Elevate,
		patch.SeenAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, wrapErr("failed to apply sync update", err)
	}
	return identity, nil
}

// TouchIdentity records a local login. New identities start as plain users;
// existing ones keep their role. Empty name or email values leave the stored
// ones untouched.
func (r *Repository) TouchIdentity(ctx context.Context, in model.TouchInput, now time.Time) (*model.Identity, bool, error) {
	query := `
		INSERT INTO identities (id, display_name, email, role, is_owner, tenant_scope, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'user', FALSE, $4, $5, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE identities.display_name END,
		    email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE identities.email END,
		    tenant_scope = CASE
		        WHEN EXCLUDED.tenant_scope <> ''
		         AND (identities.tenant_scope = '' OR lower(identities.tenant_scope) IN ('location', '{location.id}', '{{location.id}}'))
		        THEN EXCLUDED.tenant_scope
		        ELSE identities.tenant_scope
		    END,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + identityColumns + `, (xmax = 0) AS inserted`

	var i model.Identity
	var role string
	var inserted bool

	err := r.pool.QueryRow(ctx, query, in.ID, in.DisplayName, in.Email, in.TenantScope, now).Scan(
		&i.ID,
		&i.DisplayName,
		&i.Email,
		&role,
		&i.IsOwner,
		&i.TenantScope,
		&i.LastSeenAt,
		&i.CreatedAt,
		&i.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, wrapErr("failed to touch identity", err)
	}

	i.Role = model.Role(role)
	return &i, inserted, nil
}

// ListIdentities returns identities ordered by name. An empty tenantScope
// lists every identity.
func (r *Repository) ListIdentities(ctx context.Context, tenantScope string) ([]*model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	args := []any{}
	if tenantScope != "" {
		query += ` WHERE tenant_scope = $1`
		args = append(args, tenantScope)
	}
	query += ` ORDER BY tenant_scope ASC, display_name ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("failed to list identities", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("error iterating identities", err)
	}

	return identities, nil
}

// SetIdentityRole performs an explicit role edit. Demoting an owner is
// rejected by the owner-is-admin constraint and returned as ErrOwnerMustBeAdmin.
func (r *Repository) SetIdentityRole(ctx context.Context, id string, role model.Role, now time.Time) (*model.Identity, error) {
	query := `
		UPDATE identities
		SET role = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + identityColumns

	identity, err := scanIdentity(r.pool.QueryRow(ctx, query, id, string(role), now))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrIdentityNotFound
		case isCheckViolation(err):
			return nil, ErrOwnerMustBeAdmin
		}
		return nil, wrapErr("failed to set identity role", err)
	}
	return identity, nil
}

// DeleteIdentity hard-deletes one identity.
func (r *Repository) DeleteIdentity(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return wrapErr("failed to delete identity", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// DeleteIdentities hard-deletes a batch of identities and returns how many
// rows were removed.
func (r *Repository) DeleteIdentities(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, wrapErr("failed to delete identities", err)
	}
	return result.RowsAffected(), nil
}

// TransferOwnership demotes the current owner to a plain admin and promotes
// the new owner, both within tenantScope, in a single transaction.
// ErrIdentityNotFound is returned, and nothing changes, when the new owner is
// not part of tenantScope.
func (r *Repository) TransferOwnership(ctx context.Context, currentOwnerID, newOwnerID, tenantScope string, now time.Time) (*model.Identity, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("failed to begin ownership transfer", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	demote := `
		UPDATE identities
		SET is_owner = FALSE, role = 'admin', updated_at = $3
		WHERE id = $1 AND tenant_scope = $2
	`
	if _, err := tx.Exec(ctx, demote, currentOwnerID, tenantScope, now); err != nil {
		return nil, wrapErr("failed to demote current owner", err)
	}

	promote := `
		UPDATE identities
		SET is_owner = TRUE, role = 'admin', updated_at = $3
		WHERE id = $1 AND tenant_scope = $2
		RETURNING ` + identityColumns

	newOwner, err := scanIdentity(tx.QueryRow(ctx, promote, newOwnerID, tenantScope, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, wrapErr("failed to promote new owner", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("failed to commit ownership transfer", err)
	}
	return newOwner, nil
}

// scanIdentity scans one identity row from a pgx.Row or pgx.Rows.
func scanIdentity(row pgx.Row) (*model.Identity, error) {
	var i model.Identity
	var role string

	err := row.Scan(
		&i.ID,
		&i.DisplayName,
		&i.Email,
		&role,
		&i.IsOwner,
		&i.TenantScope,
		&i.LastSeenAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Role = model.Role(role)
	return &i, nil
}
