package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clockdesk/clockdesk/internal/model"
)

// ErrCredentialNotFound is returned when no record matches a lookup.
var ErrCredentialNotFound = errors.New("credential record not found")

// GetCredential looks a record up by location id or company id. A match on
// the location id is preferred over a company-only record.
func (r *Repository) GetCredential(ctx context.Context, locationID, companyID string) (*model.CredentialRecord, error) {
	if locationID == "" && companyID == "" {
		return nil, ErrCredentialNotFound
	}

	query := `
		SELECT scope_key, location_id, company_id, location_api_key_sealed, agency_api_key_sealed, updated_by, updated_at
		FROM credentials
		WHERE ($1 <> '' AND location_id = $1) OR ($2 <> '' AND company_id = $2)
		ORDER BY (location_id = $1) DESC, updated_at DESC
		LIMIT 1
	`

	var rec model.CredentialRecord
	var scopeKey, sealedLocation, sealedAgency string

	err := r.pool.QueryRow(ctx, query, locationID, companyID).Scan(
		&scopeKey,
		&rec.LocationID,
		&rec.CompanyID,
		&sealedLocation,
		&sealedAgency,
		&rec.UpdatedBy,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, wrapErr("failed to get credential", err)
	}

	if rec.LocationAPIKey, err = r.sealer.Open(sealedLocation, scopeKey); err != nil {
		return nil, fmt.Errorf("failed to open location key for %s: %w", scopeKey, err)
	}
	if rec.AgencyAPIKey, err = r.sealer.Open(sealedAgency, scopeKey); err != nil {
		return nil, fmt.Errorf("failed to open agency key for %s: %w", scopeKey, err)
	}

	return &rec, nil
}

// CompanyForLocation returns the company recorded on the location's
// credential record, or "" when the location has none.
func (r *Repository) CompanyForLocation(ctx context.Context, locationID string) (string, error) {
	if locationID == "" {
		return "", nil
	}

	var companyID string
	err := r.pool.QueryRow(ctx,
		`SELECT company_id FROM credentials WHERE location_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		locationID,
	).Scan(&companyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("failed to look up location company", err)
	}
	return companyID, nil
}

// SaveCredential inserts or replaces the record stored under rec.ScopeKey().
// Keys are sealed and bound to the scope key before they are written.
func (r *Repository) SaveCredential(ctx context.Context, rec *model.CredentialRecord) error {
	scopeKey := rec.ScopeKey()
	if scopeKey == "" {
		return errors.New("credential record needs a location id or company id")
	}

	sealedLocation, err := r.sealer.Seal(rec.LocationAPIKey, scopeKey)
	if err != nil {
		return fmt.Errorf("failed to seal location key: %w", err)
	}
	sealedAgency, err := r.sealer.Seal(rec.AgencyAPIKey, scopeKey)
	if err != nil {
		return fmt.Errorf("failed to seal agency key: %w", err)
	}

	query := `
		INSERT INTO credentials (scope_key, location_id, company_id, location_api_key_sealed, agency_api_key_sealed, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (scope_key) DO UPDATE
		SET location_id = EXCLUDED.location_id,
		    company_id = EXCLUDED.company_id,
		    location_api_key_sealed = EXCLUDED.location_api_key_sealed,
		    agency_api_key_sealed = EXCLUDED.agency_api_key_sealed,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(ctx, query,
		scopeKey,
		rec.LocationID,
		rec.CompanyID,
		sealedLocation,
		sealedAgency,
		rec.UpdatedBy,
		rec.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to save credential", err)
	}

	return nil
}
