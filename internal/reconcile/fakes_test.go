package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/clockdesk/clockdesk/internal/crm"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

type fakeCredentials struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord
	saves   int
	getErr  error
	saveErr error
}

func newFakeCredentials(recs ...model.CredentialRecord) *fakeCredentials {
	f := &fakeCredentials{records: make(map[string]model.CredentialRecord)}
	for _, r := range recs {
		f.records[r.ScopeKey()] = r
	}
	return f
}

func (f *fakeCredentials) GetCredential(_ context.Context, locationID, companyID string) (*model.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if locationID != "" {
		if r, ok := f.records[locationID]; ok {
			return &r, nil
		}
	}
	if companyID != "" {
		for _, r := range f.records {
			if r.CompanyID == companyID {
				return &r, nil
			}
		}
	}
	return nil, repository.ErrCredentialNotFound
}

func (f *fakeCredentials) SaveCredential(_ context.Context, rec *model.CredentialRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.records[rec.ScopeKey()] = *rec
	return nil
}

type fakeIdentities struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	failOn     map[string]error
	// raceOn simulates a concurrent insert landing between Get and Create.
	raceOn map[string]*model.Identity
}

func newFakeIdentities(existing ...*model.Identity) *fakeIdentities {
	f := &fakeIdentities{
		identities: make(map[string]*model.Identity),
		failOn:     make(map[string]error),
		raceOn:     make(map[string]*model.Identity),
	}
	for _, i := range existing {
		cp := *i
		f.identities[i.ID] = &cp
	}
	return f
}

func (f *fakeIdentities) GetIdentity(_ context.Context, id string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[id]; err != nil {
		return nil, err
	}
	i, ok := f.identities[id]
	if !ok {
		return nil, repository.ErrIdentityNotFound
	}
	cp := *i
	return &cp, nil
}

func (f *fakeIdentities) CreateIdentity(_ context.Context, i *model.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if winner, ok := f.raceOn[i.ID]; ok {
		cp := *winner
		f.identities[i.ID] = &cp
		delete(f.raceOn, i.ID)
	}
	if _, ok := f.identities[i.ID]; ok {
		return repository.ErrIdentityExists
	}
	cp := *i
	f.identities[i.ID] = &cp
	return nil
}

func (f *fakeIdentities) ApplySyncUpdate(_ context.Context, id string, patch model.SyncPatch) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.identities[id]
	if !ok {
		return nil, repository.ErrIdentityNotFound
	}
	updated := identity.ApplyPatch(existing, patch)
	f.identities[id] = updated
	cp := *updated
	return &cp, nil
}

func (f *fakeIdentities) get(id string) *model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.identities[id]
	if !ok {
		return nil
	}
	cp := *i
	return &cp
}

type scopeResponse struct {
	users   []crm.User
	bad     []crm.RecordError
	gen     crm.Generation
	err     error
	started chan struct{}
	release chan struct{}
}

type fakeDirectory struct {
	mu        sync.Mutex
	responses map[crm.Scope]*scopeResponse
	requests  []crm.ListRequest
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{responses: make(map[crm.Scope]*scopeResponse)}
}

func (f *fakeDirectory) on(scope crm.Scope, users ...crm.User) *scopeResponse {
	r := &scopeResponse{users: users, gen: crm.GenerationCurrent}
	f.responses[scope] = r
	return r
}

func (f *fakeDirectory) ListUsers(ctx context.Context, req crm.ListRequest) (*crm.ListResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	r, ok := f.responses[req.Scope]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no response configured for %s", req.Scope)
	}

	if r.started != nil {
		close(r.started)
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return nil, fmt.Errorf("%s fetch was never released", req.Scope)
		}
	}

	result := &crm.ListResult{Scope: req.Scope, Generation: r.gen, Shape: "users"}
	result.Attempts = []crm.Attempt{{Generation: r.gen, StatusCode: 200, Err: r.err}}
	if r.err != nil {
		result.Attempts[0].StatusCode = 0
		return result, r.err
	}
	result.Users = r.users
	result.RecordErrors = r.bad
	return result, nil
}

func (f *fakeDirectory) requestFor(scope crm.Scope) (crm.ListRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Scope == scope {
			return r, true
		}
	}
	return crm.ListRequest{}, false
}

func (f *fakeDirectory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testEnv struct {
	engine      *Engine
	credentials *fakeCredentials
	identities  *fakeIdentities
	directory   *fakeDirectory
	metrics     *metrics.InMemoryRecorder
}

func newTestEnv(creds *fakeCredentials, ids *fakeIdentities) *testEnv {
	if creds == nil {
		creds = newFakeCredentials()
	}
	if ids == nil {
		ids = newFakeIdentities()
	}
	dir := newFakeDirectory()
	rec := metrics.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		engine:      NewEngine(creds, ids, dir, Config{TestEmailHeuristic: true}, rec, logger),
		credentials: creds,
		identities:  ids,
		directory:   dir,
		metrics:     rec,
	}
}
