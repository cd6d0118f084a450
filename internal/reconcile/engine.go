// Package reconcile synchronizes the local identity directory with the CRM's
// user directory.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/clockdesk/clockdesk/internal/crm"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

// CredentialStore loads and saves CRM credential records.
type CredentialStore interface {
	GetCredential(ctx context.Context, locationID, companyID string) (*model.CredentialRecord, error)
	SaveCredential(ctx context.Context, rec *model.CredentialRecord) error
}

// IdentityStore is the subset of the identity repository a run writes to.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	CreateIdentity(ctx context.Context, i *model.Identity) error
	ApplySyncUpdate(ctx context.Context, id string, patch model.SyncPatch) (*model.Identity, error)
}

// Directory lists users from the CRM.
type Directory interface {
	ListUsers(ctx context.Context, req crm.ListRequest) (*crm.ListResult, error)
}

// Config tunes the engine.
type Config struct {
	// TestEmailHeuristic skips records whose email contains "test" and "@".
	TestEmailHeuristic bool
}

// Engine runs synchronizations. It holds no per-run state and is safe for
// concurrent use; overlapping runs rely on the store's guarded updates.
type Engine struct {
	credentials CredentialStore
	identities  IdentityStore
	directory   Directory
	normalizer  identity.Normalizer
	metrics     metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(credentials CredentialStore, identities IdentityStore, directory Directory, cfg Config, recorder metrics.Recorder, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		credentials: credentials,
		identities:  identities,
		directory:   directory,
		normalizer:  identity.Normalizer{TestEmailHeuristic: cfg.TestEmailHeuristic},
		metrics:     recorder,
		logger:      logger.With("component", "reconcile"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// scopeFetch is one scope's directory read, collected before any upsert.
type scopeFetch struct {
	scope  crm.Scope
	req    crm.ListRequest
	users  []crm.User
	seen   int
	log    runLog
	errors []string
}

// tally counts per-record outcomes for metrics.
type tally struct {
	failed int
}

// Run performs one synchronization. The returned Result is never nil.
// Validation and persistence failures are returned as *ValidationError and
// *PersistenceError; directory and per-record failures are recorded in the
// result and never abort the run.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID: ulid.Make().String(),
		Stats: Stats{Errors: []string{}},
	}
	log := &runLog{}
	logger := e.logger.With("run_id", res.RunID)
	var t tally

	log.add("Sync started (run %s)", res.RunID)

	creds, saved, err := e.resolveCredentials(ctx, in, log)
	res.CredentialsSaved = saved
	if err != nil {
		return e.finish(res, log, &t, start, logger, err)
	}

	fetches := e.fetchAll(ctx, creds)
	for _, f := range fetches {
		log.merge(&f.log)
		res.Stats.Errors = append(res.Stats.Errors, f.errors...)
		t.failed += len(f.errors)
		res.Stats.Total += f.seen
		switch f.scope {
		case crm.ScopeLocation:
			res.Stats.LocationUsers = f.seen
		case crm.ScopeAgency:
			res.Stats.AgencyUsers = f.seen
		}
	}

	for _, f := range fetches {
		for _, u := range f.users {
			if err := e.reconcileUser(ctx, u, f.scope, creds.LocationID, res, log, &t); err != nil {
				return e.finish(res, log, &t, start, logger, err)
			}
		}
	}

	return e.finish(res, log, &t, start, logger, nil)
}

// fetchAll reads every scope with an active key concurrently. Each scope
// writes only to its own scopeFetch, so logs merge in a fixed order.
func (e *Engine) fetchAll(ctx context.Context, creds *Credentials) []*scopeFetch {
	var fetches []*scopeFetch
	if creds.LocationAPIKey != "" {
		fetches = append(fetches, &scopeFetch{
			scope: crm.ScopeLocation,
			req: crm.ListRequest{
				Scope:      crm.ScopeLocation,
				APIKey:     creds.LocationAPIKey,
				LocationID: creds.LocationID,
			},
		})
	}
	if creds.AgencyAPIKey != "" {
		fetches = append(fetches, &scopeFetch{
			scope: crm.ScopeAgency,
			req: crm.ListRequest{
				Scope:     crm.ScopeAgency,
				APIKey:    creds.AgencyAPIKey,
				CompanyID: creds.CompanyID,
			},
		})
	}

	var g errgroup.Group
	for _, f := range fetches {
		g.Go(func() error {
			e.fetchScope(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	return fetches
}

func (e *Engine) fetchScope(ctx context.Context, f *scopeFetch) {
	target := f.req.LocationID
	if f.scope == crm.ScopeAgency {
		target = f.req.CompanyID
	}
	f.log.add("Fetching %s users (%s)", f.scope, orNone(target))

	result, err := e.directory.ListUsers(ctx, f.req)
	if result != nil {
		for _, a := range result.Attempts {
			status := "success"
			if a.Err != nil {
				status = "failure"
				f.log.add("%s %s API attempt failed: %v", f.scope, a.Generation, a.Err)
			}
			e.metrics.IncDirectoryFetch(string(f.scope), string(a.Generation), status)
		}
	}
	if err != nil {
		f.errors = append(f.errors, fmt.Sprintf("%s fetch failed: %v", f.scope, err))
		f.log.add("%s directory unavailable; 0 users from this scope", f.scope)
		return
	}

	f.log.add("Fetched %d %s users via %s API (%s payload)", len(result.Users), f.scope, result.Generation, result.Shape)
	if result.Generation == crm.GenerationLegacy && f.scope == crm.ScopeAgency {
		f.log.add("Legacy API ignores the company filter; agency listing is unfiltered")
	}

	for _, re := range result.RecordErrors {
		f.errors = append(f.errors, fmt.Sprintf("%s record %d: %v", f.scope, re.Index, re.Err))
		f.log.add("Skipped malformed %s record %d: %v", f.scope, re.Index, re.Err)
	}

	f.users = result.Users
	f.seen = len(result.Users) + len(result.RecordErrors)
}

// reconcileUser normalizes, resolves and upserts one record. Only a
// persistence failure is returned; anything else is recorded on res.
func (e *Engine) reconcileUser(ctx context.Context, u crm.User, scope crm.Scope, effectiveLocation string, res *Result, log *runLog, t *tally) error {
	rec, skip := e.normalizer.Normalize(u, scope, effectiveLocation)
	switch skip {
	case identity.SkipNone:
	case identity.SkipMissingID:
		res.Stats.Skipped++
		log.add("Skipped %s record without id (%s)", scope, orNone(u.Name))
		return nil
	case identity.SkipTestEmail:
		res.Stats.Skipped++
		log.add("Skipped %s: %s <%s> (disable with SYNC_TEST_EMAIL_HEURISTIC=false if wrong)", skip, rec.ID, rec.Email)
		return nil
	default:
		res.Stats.Skipped++
		log.add("Skipped %s: %s", skip, rec.ID)
		return nil
	}

	role := identity.ResolveRole(rec)
	created, stored, err := e.upsert(ctx, rec, role)
	if err != nil {
		if errors.Is(err, repository.ErrUnavailable) || ctx.Err() != nil {
			return &PersistenceError{Op: "upsert identity " + rec.ID, Err: err}
		}
		t.failed++
		res.Stats.Errors = append(res.Stats.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
		log.add("Failed to save %s (%s): %v", rec.DisplayName, rec.ID, err)
		return nil
	}

	if created {
		res.Stats.Added++
		log.add("Added %s (%s) as %s [%s]", stored.DisplayName, stored.ID, stored.Role, scope)
	} else {
		res.Stats.Updated++
		log.add("Updated %s (%s), role %s [%s]", stored.DisplayName, stored.ID, stored.Role, scope)
	}
	return nil
}

// upsert creates the identity or applies a sync patch to it. A create that
// loses a race with a concurrent run falls through to the update path.
func (e *Engine) upsert(ctx context.Context, rec identity.Record, role model.Role) (bool, *model.Identity, error) {
	now := e.now()

	existing, err := e.identities.GetIdentity(ctx, rec.ID)
	if errors.Is(err, repository.ErrIdentityNotFound) {
		created := identity.NewFromRecord(rec, role, now)
		err = e.identities.CreateIdentity(ctx, created)
		if err == nil {
			return true, created, nil
		}
		if !errors.Is(err, repository.ErrIdentityExists) {
			return false, nil, err
		}
		existing, err = e.identities.GetIdentity(ctx, rec.ID)
	}
	if err != nil {
		return false, nil, err
	}

	updated, err := e.identities.ApplySyncUpdate(ctx, rec.ID, identity.PatchFor(existing, rec, role, now))
	if err != nil {
		return false, nil, err
	}
	return false, updated, nil
}

func (e *Engine) finish(res *Result, log *runLog, t *tally, start time.Time, logger *slog.Logger, err error) (*Result, error) {
	res.Duration = time.Since(start)

	outcome := metrics.OutcomeSuccess
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		outcome = metrics.OutcomeValidationError
		log.add("Sync rejected: %s", validationErr.Message)
	case err != nil:
		outcome = metrics.OutcomePersistenceError
		log.add("Sync aborted: %v", err)
	default:
		log.add("Sync finished: %d total, %d added, %d updated, %d skipped, %d errors",
			res.Stats.Total, res.Stats.Added, res.Stats.Updated, res.Stats.Skipped, len(res.Stats.Errors))
	}
	res.Logs = log.lines

	e.metrics.IncSyncRun(outcome)
	e.metrics.ObserveSyncDuration(res.Duration)
	e.metrics.AddSyncRecords(res.Stats.Added, res.Stats.Updated, res.Stats.Skipped, t.failed)

	attrs := []any{
		slog.String("outcome", outcome),
		slog.Int("total", res.Stats.Total),
		slog.Int("added", res.Stats.Added),
		slog.Int("updated", res.Stats.Updated),
		slog.Int("skipped", res.Stats.Skipped),
		slog.Int("errors", len(res.Stats.Errors)),
		slog.Duration("duration", res.Duration),
	}
	switch outcome {
	case metrics.OutcomeSuccess:
		logger.Info("sync finished", attrs...)
	case metrics.OutcomeValidationError:
		logger.Warn("sync rejected", append(attrs, slog.String("error", err.Error()))...)
	default:
		logger.Error("sync aborted", append(attrs, slog.String("error", err.Error()))...)
	}

	return res, err
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
