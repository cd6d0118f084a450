// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

// CredentialRepository persists credential records.
type CredentialRepository interface {
	GetCredential(ctx context.Context, locationID, companyID string) (*model.CredentialRecord, error)
	SaveCredential(ctx context.Context, rec *model.CredentialRecord) error
}

// StatusCache caches credential status answers.
type StatusCache interface {
	GetCredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error)
	SetCredentialStatus(ctx context.Context, locationID, companyID string, status model.CredentialStatus) error
	InvalidateCredentialStatus(ctx context.Context, locationID, companyID string) error
}

// CredentialService fronts the credential store with a status cache.
type CredentialService struct {
	repo    CredentialRepository
	cache   StatusCache
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewCredentialService creates a new CredentialService. A nil cache disables
// status caching.
func NewCredentialService(repo CredentialRepository, statusCache StatusCache, recorder metrics.Recorder, logger *slog.Logger) *CredentialService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		repo:    repo,
		cache:   statusCache,
		metrics: recorder,
		logger:  logger.With("component", "service.credentials"),
	}
}

// GetCredential returns the stored record for a location or company.
func (s *CredentialService) GetCredential(ctx context.Context, locationID, companyID string) (*model.CredentialRecord, error) {
	return s.repo.GetCredential(ctx, locationID, companyID)
}

// SaveCredential stores rec and drops cached status answers that may
// describe it.
func (s *CredentialService) SaveCredential(ctx context.Context, rec *model.CredentialRecord) error {
	if err := s.repo.SaveCredential(ctx, rec); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateCredentialStatus(ctx, rec.LocationID, rec.CompanyID); err != nil {
			// Entries expire on their own.
			s.logger.Warn("credential status invalidation failed",
				slog.String("scope_key", rec.ScopeKey()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CredentialStatus reports which credentials are stored for a location or
// company. Placeholder location ids are never looked up; the answer then
// depends on companyID alone.
func (s *CredentialService) CredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error) {
	locationID = strings.TrimSpace(locationID)
	companyID = strings.TrimSpace(companyID)

	placeholder := identity.IsPlaceholderLocation(locationID)
	lookupLocation := identity.ValidLocation(locationID)

	if lookupLocation == "" && companyID == "" {
		return model.CredentialStatus{IsPlaceholder: placeholder}, nil
	}

	if s.cache != nil {
		status, err := s.cache.GetCredentialStatus(ctx, lookupLocation, companyID)
		switch {
		case err == nil:
			s.metrics.IncStatusCacheHit()
			status.IsPlaceholder = placeholder
			return status, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.IncStatusCacheMiss()
		default:
			// Redis error - fall through to DB
			s.logger.Warn("credential status cache read failed", slog.String("error", err.Error()))
		}
	}

	rec, err := s.repo.GetCredential(ctx, lookupLocation, companyID)
	if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return model.CredentialStatus{}, fmt.Errorf("failed to load credential status: %w", err)
	}

	// A nil record yields the empty status, which is cached too.
	status := rec.Status()
	if s.cache != nil {
		if err := s.cache.SetCredentialStatus(ctx, lookupLocation, companyID, status); err != nil {
			s.logger.Warn("credential status cache write failed", slog.String("error", err.Error()))
		}
	}

	status.IsPlaceholder = placeholder
	return status, nil
}
