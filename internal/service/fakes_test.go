package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIdentityRepo is an in-memory IdentityRepository.
type fakeIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Identity
	err  error
}

func newFakeIdentityRepo(identities ...*model.Identity) *fakeIdentityRepo {
	r := &fakeIdentityRepo{byID: make(map[string]*model.Identity)}
	for _, i := range identities {
		c := *i
		r.byID[i.ID] = &c
	}
	return r
}

func (r *fakeIdentityRepo) get(id string) *model.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return nil
	}
	c := *i
	return &c
}

func (r *fakeIdentityRepo) GetIdentity(_ context.Context, id string) (*model.Identity, error) {
	if r.err != nil {
		return nil, r.err
	}
	if i := r.get(id); i != nil {
		return i, nil
	}
	return nil, repository.ErrIdentityNotFound
}

func (r *fakeIdentityRepo) TouchIdentity(_ context.Context, in model.TouchInput, now time.Time) (*model.Identity, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[in.ID]
	if !ok {
		i = &model.Identity{
			ID:          in.ID,
			DisplayName: in.DisplayName,
			Email:       in.Email,
			Role:        model.RoleUser,
			TenantScope: in.TenantScope,
			CreatedAt:   now,
		}
		r.byID[in.ID] = i
	}
	if in.DisplayName != "" {
		i.DisplayName = in.DisplayName
	}
	if in.Email != "" {
		i.Email = in.Email
	}
	i.LastSeenAt = now
	i.UpdatedAt = now
	c := *i
	return &c, !ok, nil
}

func (r *fakeIdentityRepo) ListIdentities(_ context.Context, tenantScope string) ([]*model.Identity, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Identity, 0, len(r.byID))
	for _, i := range r.byID {
		if tenantScope != "" && i.TenantScope != tenantScope {
			continue
		}
		c := *i
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *fakeIdentityRepo) SetIdentityRole(_ context.Context, id string, role model.Role, now time.Time) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrIdentityNotFound
	}
	if i.IsOwner && role != model.RoleAdmin {
		return nil, repository.ErrOwnerMustBeAdmin
	}
	i.Role = role
	i.UpdatedAt = now
	c := *i
	return &c, nil
}

func (r *fakeIdentityRepo) DeleteIdentity(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return repository.ErrIdentityNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeIdentityRepo) DeleteIdentities(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := r.byID[id]; ok {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeIdentityRepo) TransferOwnership(_ context.Context, currentOwnerID, newOwnerID, tenantScope string, now time.Time) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, ok := r.byID[newOwnerID]
	if !ok || next.TenantScope != tenantScope {
		return nil, repository.ErrIdentityNotFound
	}
	if cur, ok := r.byID[currentOwnerID]; ok && cur.TenantScope == tenantScope {
		cur.IsOwner = false
		cur.Role = model.RoleAdmin
		cur.UpdatedAt = now
	}
	next.IsOwner = true
	next.Role = model.RoleAdmin
	next.UpdatedAt = now
	c := *next
	return &c, nil
}

// fakeCredentialRepo stores records by scope key.
type fakeCredentialRepo struct {
	mu      sync.Mutex
	records map[string]*model.CredentialRecord
	gets    int
	err     error
}

func newFakeCredentialRepo(records ...*model.CredentialRecord) *fakeCredentialRepo {
	r := &fakeCredentialRepo{records: make(map[string]*model.CredentialRecord)}
	for _, rec := range records {
		c := *rec
		r.records[rec.ScopeKey()] = &c
	}
	return r
}

func (r *fakeCredentialRepo) GetCredential(_ context.Context, locationID, companyID string) (*model.CredentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++

	if r.err != nil {
		return nil, r.err
	}
	if locationID != "" {
		if rec, ok := r.records[locationID]; ok {
			c := *rec
			return &c, nil
		}
	}
	if companyID != "" {
		for _, rec := range r.records {
			if rec.CompanyID == companyID {
				c := *rec
				return &c, nil
			}
		}
	}
	return nil, repository.ErrCredentialNotFound
}

func (r *fakeCredentialRepo) SaveCredential(_ context.Context, rec *model.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	c := *rec
	r.records[rec.ScopeKey()] = &c
	return nil
}

func (r *fakeCredentialRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

// fakeStatusCache mirrors the Redis status cache.
type fakeStatusCache struct {
	mu          sync.Mutex
	entries     map[[2]string]model.CredentialStatus
	invalidated [][2]string
	getErr      error
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{entries: make(map[[2]string]model.CredentialStatus)}
}

func (c *fakeStatusCache) GetCredentialStatus(_ context.Context, locationID, companyID string) (model.CredentialStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return model.CredentialStatus{}, c.getErr
	}
	s, ok := c.entries[[2]string{locationID, companyID}]
	if !ok {
		return model.CredentialStatus{}, cache.ErrCacheMiss
	}
	return s, nil
}

func (c *fakeStatusCache) SetCredentialStatus(_ context.Context, locationID, companyID string, status model.CredentialStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[[2]string{locationID, companyID}] = status
	return nil
}

func (c *fakeStatusCache) InvalidateCredentialStatus(_ context.Context, locationID, companyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, [2]string{locationID, companyID})
	for k := range c.entries {
		if (locationID != "" && k[0] == locationID) || (companyID != "" && k[1] == companyID) {
			delete(c.entries, k)
		}
	}
	return nil
}

var errRedisDown = errors.New("redis: connection refused")
