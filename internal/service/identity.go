package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
	"github.com/clockdesk/clockdesk/internal/trust"
)

// Service errors.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrMissingUserID    = errors.New("user id is required")
	ErrInvalidRole      = errors.New("invalid role")
	ErrOwnerDemotion    = errors.New("owner cannot be demoted; transfer ownership first")
	ErrTransferInput    = errors.New("currentOwnerId, newOwnerId and tenantScope are required")
)

// IdentityRepository is the identity store used by IdentityService.
type IdentityRepository interface {
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	TouchIdentity(ctx context.Context, in model.TouchInput, now time.Time) (*model.Identity, bool, error)
	ListIdentities(ctx context.Context, tenantScope string) ([]*model.Identity, error)
	SetIdentityRole(ctx context.Context, id string, role model.Role, now time.Time) (*model.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	DeleteIdentities(ctx context.Context, ids []string) (int64, error)
	TransferOwnership(ctx context.Context, currentOwnerID, newOwnerID, tenantScope string, now time.Time) (*model.Identity, error)
}

// IdentityService handles identity operations outside synchronization.
type IdentityService struct {
	repo    IdentityRepository
	bogus   identity.BogusRules
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(repo IdentityRepository, bogus identity.BogusRules, recorder metrics.Recorder, logger *slog.Logger) *IdentityService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{
		repo:    repo,
		bogus:   bogus,
		metrics: recorder,
		logger:  logger.With("component", "service.identities"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns one identity.
func (s *IdentityService) Get(ctx context.Context, id string) (*model.Identity, error) {
	i, err := s.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, mapIdentityErr(err)
	}
	return i, nil
}

// Touch records a local login from launch claims. The claimed role is never
// passed on; new identities start as users.
func (s *IdentityService) Touch(ctx context.Context, claims trust.LaunchClaims) (*model.Identity, bool, error) {
	if claims.UserID == "" {
		return nil, false, ErrMissingUserID
	}

	in := model.TouchInput{
		ID:          claims.UserID,
		DisplayName: claims.UserName,
		Email:       claims.Email,
		TenantScope: claims.TenantScope(),
	}

	i, created, err := s.repo.TouchIdentity(ctx, in, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to touch identity: %w", err)
	}

	if created {
		s.logger.Info("identity created on login",
			slog.String("identity_id", i.ID),
			slog.String("tenant_scope", i.TenantScope),
		)
	}
	return i, created, nil
}

// List returns identities in tenantScope, or all of them when it is empty.
func (s *IdentityService) List(ctx context.Context, tenantScope string) ([]*model.Identity, error) {
	return s.repo.ListIdentities(ctx, strings.TrimSpace(tenantScope))
}

// SetRole is the explicit role edit. It is the only path besides ownership
// transfer that can demote an identity, and it never demotes an owner.
func (s *IdentityService) SetRole(ctx context.Context, id string, role model.Role) (*model.Identity, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	existing, err := s.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, mapIdentityErr(err)
	}
	if existing.IsOwner && role != model.RoleAdmin {
		return nil, ErrOwnerDemotion
	}

	updated, err := s.repo.SetIdentityRole(ctx, id, role, s.now())
	if err != nil {
		return nil, mapIdentityErr(err)
	}

	s.logger.Info("identity role changed",
		slog.String("identity_id", id),
		slog.String("from", string(existing.Role)),
		slog.String("to", string(updated.Role)),
	)
	return updated, nil
}

// Delete removes one identity.
func (s *IdentityService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteIdentity(ctx, id); err != nil {
		return mapIdentityErr(err)
	}
	s.logger.Info("identity deleted", slog.String("identity_id", id))
	return nil
}

// TransferInput defines input for an ownership transfer.
type TransferInput struct {
	CurrentOwnerID string `json:"currentOwnerId"`
	NewOwnerID     string `json:"newOwnerId"`
	TenantScope    string `json:"tenantScope"`
}

// TransferOwnership moves tenant ownership and returns the new owner.
func (s *IdentityService) TransferOwnership(ctx context.Context, in TransferInput) (*model.Identity, error) {
	in.CurrentOwnerID = strings.TrimSpace(in.CurrentOwnerID)
	in.NewOwnerID = strings.TrimSpace(in.NewOwnerID)
	in.TenantScope = strings.TrimSpace(in.TenantScope)
	if in.CurrentOwnerID == "" || in.NewOwnerID == "" || in.TenantScope == "" {
		return nil, ErrTransferInput
	}

	owner, err := s.repo.TransferOwnership(ctx, in.CurrentOwnerID, in.NewOwnerID, in.TenantScope, s.now())
	if err != nil {
		return nil, mapIdentityErr(err)
	}

	s.metrics.IncOwnershipTransfer()
	s.logger.Info("ownership transferred",
		slog.String("tenant_scope", in.TenantScope),
		slog.String("from", in.CurrentOwnerID),
		slog.String("to", in.NewOwnerID),
	)
	return owner, nil
}

// BogusMatch is an identity selected by the cleanup rules.
type BogusMatch struct {
	Identity *model.Identity `json:"identity"`
	Reason   string          `json:"reason"`
}

// FindBogus returns the identities the cleanup would delete.
func (s *IdentityService) FindBogus(ctx context.Context) ([]BogusMatch, error) {
	all, err := s.repo.ListIdentities(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	matches := make([]BogusMatch, 0)
	for _, i := range all {
		if ok, reason := s.bogus.Match(i); ok {
			matches = append(matches, BogusMatch{Identity: i, Reason: reason})
		}
	}
	return matches, nil
}

// BogusCleanup reports a cleanup run.
type BogusCleanup struct {
	Matched []BogusMatch `json:"matched"`
	Deleted int64        `json:"deleted"`
}

// DeleteBogus deletes the identities FindBogus selects.
func (s *IdentityService) DeleteBogus(ctx context.Context) (*BogusCleanup, error) {
	matches, err := s.FindBogus(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(matches))
	for n, m := range matches {
		ids[n] = m.Identity.ID
	}

	deleted, err := s.repo.DeleteIdentities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to delete bogus identities: %w", err)
	}

	s.metrics.AddBogusDeleted(int(deleted))
	s.logger.Info("bogus identities deleted",
		slog.Int("matched", len(matches)),
		slog.Int64("deleted", deleted),
	)
	return &BogusCleanup{Matched: matches, Deleted: deleted}, nil
}

// TenantGroup is one tenant scope in the overview.
type TenantGroup struct {
	TenantScope string            `json:"tenantScope"`
	OwnerID     string            `json:"ownerId,omitempty"`
	Admins      int               `json:"admins"`
	Users       int               `json:"users"`
	Identities  []*model.Identity `json:"identities"`
}

// Overview groups all identities by tenant scope, ordered by scope.
func (s *IdentityService) Overview(ctx context.Context) ([]TenantGroup, error) {
	all, err := s.repo.ListIdentities(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	byScope := make(map[string]*TenantGroup)
	for _, i := range all {
		g, ok := byScope[i.TenantScope]
		if !ok {
			g = &TenantGroup{TenantScope: i.TenantScope}
			byScope[i.TenantScope] = g
		}
		g.Identities = append(g.Identities, i)
		if i.IsAdmin() {
			g.Admins++
		} else {
			g.Users++
		}
		if i.IsOwner {
			g.OwnerID = i.ID
		}
	}

	groups := make([]TenantGroup, 0, len(byScope))
	for _, g := range byScope {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].TenantScope < groups[b].TenantScope })
	return groups, nil
}

func mapIdentityErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrIdentityNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, repository.ErrOwnerMustBeAdmin):
		return ErrOwnerDemotion
	}
	return err
}
