package trust

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

// DefaultRefreshTimeout bounds how long Resolve waits for the store.
const DefaultRefreshTimeout = 750 * time.Millisecond

// IdentityReader reads authoritative identities.
type IdentityReader interface {
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
}

// StatusReader reports whether a tenant has stored credentials.
type StatusReader interface {
	CredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error)
}

// Resolver turns launch claims into sessions.
type Resolver struct {
	identities IdentityReader
	status     StatusReader
	timeout    time.Duration
	logger     *slog.Logger
}

// NewResolver creates a Resolver. A non-positive timeout uses DefaultRefreshTimeout.
func NewResolver(identities IdentityReader, status StatusReader, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		identities: identities,
		status:     status,
		timeout:    timeout,
		logger:     logger.With("component", "trust.resolver"),
	}
}

type refreshResult struct {
	identity *model.Identity
	err      error
}

// refresh fetches the authoritative identity in the background. The channel
// receives exactly one result and is buffered, so callers may stop waiting.
func (r *Resolver) refresh(ctx context.Context, userID string) <-chan refreshResult {
	ch := make(chan refreshResult, 1)
	go func() {
		i, err := r.identities.GetIdentity(ctx, userID)
		ch <- refreshResult{identity: i, err: err}
	}()
	return ch
}

// Resolve builds the optimistic session, then waits up to the refresh
// timeout for the stored identity. On timeout or store error the optimistic
// phase is returned.
func (r *Resolver) Resolve(ctx context.Context, claims LaunchClaims) Session {
	session := Optimistic(claims, r.hasLocationKey(ctx, claims))
	if claims.UserID == "" {
		return session
	}

	ch := r.refresh(ctx, claims.UserID)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		switch {
		case res.err == nil:
			return session.Merge(res.identity)
		case errors.Is(res.err, repository.ErrIdentityNotFound):
		default:
			r.logger.Warn("identity refresh failed",
				slog.String("user_id", claims.UserID),
				slog.String("error", res.err.Error()),
			)
		}
	case <-timer.C:
		r.logger.Warn("identity refresh timed out",
			slog.String("user_id", claims.UserID),
			slog.Duration("timeout", r.timeout),
		)
	case <-ctx.Done():
	}

	return session
}

func (r *Resolver) hasLocationKey(ctx context.Context, claims LaunchClaims) bool {
	if r.status == nil || (claims.TenantScope() == "" && claims.CompanyID == "") {
		return false
	}
	status, err := r.status.CredentialStatus(ctx, claims.TenantScope(), claims.CompanyID)
	if err != nil {
		r.logger.Warn("credential status lookup failed", slog.String("error", err.Error()))
		// Unknown: do not prompt for setup.
		return true
	}
	return status.HasKey
}

// WithIdentity builds the authoritative session for an identity the caller
// has just read or written.
func (r *Resolver) WithIdentity(ctx context.Context, claims LaunchClaims, stored *model.Identity) Session {
	return Optimistic(claims, r.hasLocationKey(ctx, claims)).Merge(stored)
}
