package server

import (
	"context"
	"sync"
	"time"

	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/reconcile"
	"github.com/clockdesk/clockdesk/internal/repository"
	"github.com/clockdesk/clockdesk/internal/runlog"
	"github.com/clockdesk/clockdesk/internal/service"
	"github.com/clockdesk/clockdesk/internal/trust"
)

// memKeys is an in-memory API key store used by both the auth middleware
// and the key management handler.
type memKeys struct {
	mu   sync.Mutex
	keys map[string]*model.APIKey
}

func newMemKeys(keys ...*model.APIKey) *memKeys {
	m := &memKeys{keys: make(map[string]*model.APIKey)}
	for _, k := range keys {
		m.keys[k.ID] = k
	}
	return m
}

func (m *memKeys) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && !k.IsRevoked() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return nil
}

func (m *memKeys) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *memKeys) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	return k, nil
}

func (m *memKeys) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) RotateAPIKey(ctx context.Context, oldID string, replacement *model.APIKey) error {
	if err := m.RevokeAPIKey(ctx, oldID); err != nil {
		return err
	}
	return m.CreateAPIKey(ctx, replacement)
}

func (m *memKeys) RevokeAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.IsRevoked() {
		return repository.ErrAPIKeyNotFound
	}
	now := time.Now()
	k.RevokedAt = &now
	return nil
}

// noCache never hits.
type noCache struct{}

func (noCache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	return nil, nil
}

func (noCache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	return nil
}

// openLimiter allows everything.
type openLimiter struct{}

func (openLimiter) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now().Add(time.Minute)}, nil
}

func (openLimiter) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now().Add(time.Second)}, nil
}

func (openLimiter) CheckSyncRateLimit(ctx context.Context, tenantKey string, perMinute, burst int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now().Add(time.Minute)}, nil
}

// stubRunner rejects runs without a location and succeeds otherwise.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, in reconcile.Input) (*reconcile.Result, error) {
	res := &reconcile.Result{
		RunID: "01JRUNSTUB",
		Stats: reconcile.Stats{Errors: []string{}},
		Logs:  []string{"Sync started (run 01JRUNSTUB)"},
	}
	if in.LocationID == "" && in.CompanyID == "" {
		return res, &reconcile.ValidationError{Code: reconcile.CodeMissingScope, Message: "missing location id or company id"}
	}
	res.Stats.Total, res.Stats.Added, res.Stats.LocationUsers = 1, 1, 1
	res.Logs = append(res.Logs, "Added Uma (user-1) as user [location]")
	return res, nil
}

// memRuns stores published runs directly, standing in for the stream and
// its worker.
type memRuns struct {
	mu   sync.Mutex
	runs []*model.SyncRun
}

func (m *memRuns) PublishAsync(ev runlog.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := ev.Run("0-1")
	run.RecordedAt = time.Now().UTC()
	m.runs = append([]*model.SyncRun{run}, m.runs...)
}

func (m *memRuns) ListSyncRuns(ctx context.Context, f model.SyncRunFilter) ([]*model.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SyncRun
	for _, r := range m.runs {
		if f.LocationID != "" && r.LocationID != f.LocationID {
			continue
		}
		if f.CompanyID != "" && r.CompanyID != f.CompanyID {
			continue
		}
		if len(out) == f.Limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

type stubStatus struct{}

func (stubStatus) CredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error) {
	return model.CredentialStatus{HasKey: locationID != "", CompanyID: companyID, HasCompanyID: companyID != ""}, nil
}

// memIdentities backs the identity handler.
type memIdentities struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
}

func newMemIdentities(ids ...*model.Identity) *memIdentities {
	m := &memIdentities{identities: make(map[string]*model.Identity)}
	for _, i := range ids {
		m.identities[i.ID] = i
	}
	return m
}

func (m *memIdentities) Get(ctx context.Context, id string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, service.ErrIdentityNotFound
	}
	return i, nil
}

func (m *memIdentities) Touch(ctx context.Context, claims trust.LaunchClaims) (*model.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.identities[claims.UserID]; ok {
		return i, false, nil
	}
	now := time.Now().UTC()
	i := &model.Identity{
		ID:          claims.UserID,
		DisplayName: claims.UserName,
		Email:       claims.Email,
		Role:        model.RoleUser,
		TenantScope: claims.TenantScope(),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.identities[i.ID] = i
	return i, true, nil
}

func (m *memIdentities) List(ctx context.Context, tenantScope string) ([]*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Identity
	for _, i := range m.identities {
		if tenantScope == "" || i.TenantScope == tenantScope {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memIdentities) SetRole(ctx context.Context, id string, role model.Role) (*model.Identity, error) {
	if !role.IsValid() {
		return nil, service.ErrInvalidRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, service.ErrIdentityNotFound
	}
	if i.IsOwner && role != model.RoleAdmin {
		return nil, service.ErrOwnerDemotion
	}
	i.Role = role
	return i, nil
}

func (m *memIdentities) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id]; !ok {
		return service.ErrIdentityNotFound
	}
	delete(m.identities, id)
	return nil
}

func (m *memIdentities) TransferOwnership(ctx context.Context, in service.TransferInput) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok1 := m.identities[in.CurrentOwnerID]
	next, ok2 := m.identities[in.NewOwnerID]
	if !ok1 || !ok2 || next.TenantScope != in.TenantScope {
		return nil, service.ErrIdentityNotFound
	}
	cur.IsOwner = false
	next.IsOwner, next.Role = true, model.RoleAdmin
	return next, nil
}

func (m *memIdentities) FindBogus(ctx context.Context) ([]service.BogusMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := []service.BogusMatch{}
	for _, i := range m.identities {
		if i.TenantScope == "location" {
			matches = append(matches, service.BogusMatch{Identity: i, Reason: "placeholder tenant scope"})
		}
	}
	return matches, nil
}

func (m *memIdentities) DeleteBogus(ctx context.Context) (*service.BogusCleanup, error) {
	matches, _ := m.FindBogus(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range matches {
		delete(m.identities, b.Identity.ID)
	}
	return &service.BogusCleanup{Matched: matches, Deleted: int64(len(matches))}, nil
}

func (m *memIdentities) Overview(ctx context.Context) ([]service.TenantGroup, error) {
	all, _ := m.List(ctx, "")
	byScope := map[string]*service.TenantGroup{}
	var groups []service.TenantGroup
	for _, i := range all {
		g, ok := byScope[i.TenantScope]
		if !ok {
			g = &service.TenantGroup{TenantScope: i.TenantScope}
			byScope[i.TenantScope] = g
		}
		g.Identities = append(g.Identities, i)
		if i.IsAdmin() {
			g.Admins++
		} else {
			g.Users++
		}
	}
	for _, g := range byScope {
		groups = append(groups, *g)
	}
	return groups, nil
}

type stubSessions struct{}

func (stubSessions) Resolve(ctx context.Context, claims trust.LaunchClaims) trust.Session {
	return trust.Optimistic(claims, true)
}

func (stubSessions) WithIdentity(ctx context.Context, claims trust.LaunchClaims, stored *model.Identity) trust.Session {
	return trust.Optimistic(claims, true).Merge(stored)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }
