package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/reconcile"
	"github.com/clockdesk/clockdesk/internal/repository"
	"github.com/clockdesk/clockdesk/internal/runlog"
	"github.com/clockdesk/clockdesk/internal/service"
	"github.com/clockdesk/clockdesk/internal/trust"
)

var errStoreDown = errors.New("store down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withAuth attaches an authenticated key to r.
func withAuth(r *http.Request, ownerID, tenantScope string, scopes ...string) *http.Request {
	if len(scopes) == 0 {
		scopes = []string{model.ScopeAdmin}
	}
	return r.WithContext(auth.ContextWithAuth(r.Context(), &model.AuthContext{
		KeyID:         "key-1",
		KeyPrefix:     "abc123",
		OwnerID:       ownerID,
		TenantScope:   tenantScope,
		Scopes:        scopes,
		RateLimitTier: model.TierFree,
	}))
}

// withURLParams sets chi route parameters on r.
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type fakeSyncRunner struct {
	mu    sync.Mutex
	calls []reconcile.Input
	res   *reconcile.Result
	err   error
}

func (f *fakeSyncRunner) Run(ctx context.Context, in reconcile.Input) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.res == nil {
		return &reconcile.Result{RunID: "run-1", Stats: reconcile.Stats{Errors: []string{}}, Logs: []string{"Sync started"}}, f.err
	}
	return f.res, f.err
}

type fakeRunPublisher struct {
	events []runlog.Event
}

func (f *fakeRunPublisher) PublishAsync(event runlog.Event) {
	f.events = append(f.events, event)
}

type fakeRunReader struct {
	runs    []*model.SyncRun
	err     error
	filters []model.SyncRunFilter
}

func (f *fakeRunReader) ListSyncRuns(ctx context.Context, filter model.SyncRunFilter) ([]*model.SyncRun, error) {
	f.filters = append(f.filters, filter)
	return f.runs, f.err
}

type fakeStatusReader struct {
	status model.CredentialStatus
	err    error
	calls  [][2]string
}

func (f *fakeStatusReader) CredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error) {
	f.calls = append(f.calls, [2]string{locationID, companyID})
	return f.status, f.err
}

// fakeTenants maps locations to their stored company.
type fakeTenants struct {
	companies map[string]string
	err       error
}

func newFakeTenants() *fakeTenants {
	return &fakeTenants{companies: map[string]string{"loc-1": "co-1", "victim-loc": "victim-co"}}
}

func (f *fakeTenants) CompanyForLocation(ctx context.Context, locationID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.companies[locationID], nil
}

type fakeSyncLimiter struct {
	allowed bool
	keys    []string
}

func (f *fakeSyncLimiter) CheckSyncRateLimit(ctx context.Context, tenantKey string, perMinute, burst int) (*cache.RateLimitResult, error) {
	f.keys = append(f.keys, tenantKey)
	if f.allowed {
		return &cache.RateLimitResult{Allowed: true, Remaining: 1}, nil
	}
	return &cache.RateLimitResult{Allowed: false, RetryAfter: 30 * time.Second}, nil
}

type fakeIdentityService struct {
	identities map[string]*model.Identity
	err        error

	touched    []trust.LaunchClaims
	created    bool
	roles      map[string]model.Role
	deleted    []string
	transfers  []service.TransferInput
	bogus      []service.BogusMatch
	groups     []service.TenantGroup
	listScopes []string
}

func newFakeIdentityService(ids ...*model.Identity) *fakeIdentityService {
	f := &fakeIdentityService{
		identities: make(map[string]*model.Identity),
		roles:      make(map[string]model.Role),
	}
	for _, i := range ids {
		f.identities[i.ID] = i
	}
	return f
}

func (f *fakeIdentityService) Get(ctx context.Context, id string) (*model.Identity, error) {
	i, ok := f.identities[id]
	if !ok {
		return nil, service.ErrIdentityNotFound
	}
	return i, nil
}

func (f *fakeIdentityService) Touch(ctx context.Context, claims trust.LaunchClaims) (*model.Identity, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	f.touched = append(f.touched, claims)
	i := &model.Identity{
		ID:          claims.UserID,
		DisplayName: claims.UserName,
		Email:       claims.Email,
		Role:        model.RoleUser,
		TenantScope: claims.TenantScope(),
	}
	if existing, ok := f.identities[claims.UserID]; ok {
		i = existing
	}
	return i, f.created, nil
}

func (f *fakeIdentityService) List(ctx context.Context, tenantScope string) ([]*model.Identity, error) {
	f.listScopes = append(f.listScopes, tenantScope)
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.Identity
	for _, i := range f.identities {
		if tenantScope == "" || i.TenantScope == tenantScope {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeIdentityService) SetRole(ctx context.Context, id string, role model.Role) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !role.IsValid() {
		return nil, service.ErrInvalidRole
	}
	i, ok := f.identities[id]
	if !ok {
		return nil, service.ErrIdentityNotFound
	}
	if i.IsOwner && role != model.RoleAdmin {
		return nil, service.ErrOwnerDemotion
	}
	f.roles[id] = role
	updated := *i
	updated.Role = role
	return &updated, nil
}

func (f *fakeIdentityService) Delete(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.identities[id]; !ok {
		return service.ErrIdentityNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIdentityService) TransferOwnership(ctx context.Context, in service.TransferInput) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if in.CurrentOwnerID == "" || in.NewOwnerID == "" || in.TenantScope == "" {
		return nil, service.ErrTransferInput
	}
	f.transfers = append(f.transfers, in)
	return &model.Identity{ID: in.NewOwnerID, Role: model.RoleAdmin, IsOwner: true, TenantScope: in.TenantScope}, nil
}

func (f *fakeIdentityService) FindBogus(ctx context.Context) ([]service.BogusMatch, error) {
	return f.bogus, f.err
}

func (f *fakeIdentityService) DeleteBogus(ctx context.Context) (*service.BogusCleanup, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.BogusCleanup{Matched: f.bogus, Deleted: int64(len(f.bogus))}, nil
}

func (f *fakeIdentityService) Overview(ctx context.Context) ([]service.TenantGroup, error) {
	return f.groups, f.err
}

type fakeSessions struct {
	hasKey bool
}

func (f *fakeSessions) Resolve(ctx context.Context, claims trust.LaunchClaims) trust.Session {
	return trust.Optimistic(claims, f.hasKey)
}

func (f *fakeSessions) WithIdentity(ctx context.Context, claims trust.LaunchClaims, stored *model.Identity) trust.Session {
	return trust.Optimistic(claims, f.hasKey).Merge(stored)
}

type fakeAuthInvalidator struct {
	keyIDs []string
}

func (f *fakeAuthInvalidator) InvalidateAuthContexts(_ context.Context, keyID string) error {
	f.keyIDs = append(f.keyIDs, keyID)
	return nil
}

type fakeAPIKeyStore struct {
	keys      map[string]*model.APIKey
	createErr error
	revoked   []string
}

func newFakeAPIKeyStore(keys ...*model.APIKey) *fakeAPIKeyStore {
	f := &fakeAPIKeyStore{keys: make(map[string]*model.APIKey)}
	for _, k := range keys {
		f.keys[k.ID] = k
	}
	return f
}

func (f *fakeAPIKeyStore) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.keys[key.ID] = key
	return nil
}

func (f *fakeAPIKeyStore) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	return k, nil
}

func (f *fakeAPIKeyStore) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	var out []*model.APIKey
	for _, k := range f.keys {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeAPIKeyStore) RotateAPIKey(ctx context.Context, oldID string, replacement *model.APIKey) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.RevokeAPIKey(ctx, oldID); err != nil {
		return err
	}
	f.keys[replacement.ID] = replacement
	return nil
}

func (f *fakeAPIKeyStore) RevokeAPIKey(ctx context.Context, id string) error {
	k, ok := f.keys[id]
	if !ok || k.IsRevoked() {
		return repository.ErrAPIKeyNotFound
	}
	now := time.Now()
	k.RevokedAt = &now
	f.revoked = append(f.revoked, id)
	return nil
}
