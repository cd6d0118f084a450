package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

// Input is what the caller supplies to trigger a run.
type Input struct {
	LocationID     string
	CompanyID      string
	LocationAPIKey string
	AgencyAPIKey   string
	TriggeredBy    string
}

func (in Input) trimmed() Input {
	return Input{
		LocationID:     strings.TrimSpace(in.LocationID),
		CompanyID:      strings.TrimSpace(in.CompanyID),
		LocationAPIKey: strings.TrimSpace(in.LocationAPIKey),
		AgencyAPIKey:   strings.TrimSpace(in.AgencyAPIKey),
		TriggeredBy:    strings.TrimSpace(in.TriggeredBy),
	}
}

// Credentials are the active keys and identifiers for one run.
type Credentials struct {
	LocationID     string // effective location; empty when unknown
	CompanyID      string
	LocationAPIKey string
	AgencyAPIKey   string
}

// resolveCredentials validates the identifiers, merges supplied keys with the
// stored record and persists the result when anything changed.
func (e *Engine) resolveCredentials(ctx context.Context, in Input, log *runLog) (*Credentials, bool, error) {
	in = in.trimmed()

	if in.LocationID == "" && in.CompanyID == "" {
		return nil, false, errMissingScope
	}

	location := identity.ValidLocation(in.LocationID)
	if location == "" && in.CompanyID == "" {
		return nil, false, errPlaceholderLocation
	}
	if in.LocationID != "" && location == "" {
		log.add("Ignoring placeholder location id %q; using company %s", in.LocationID, in.CompanyID)
	}

	stored, err := e.credentials.GetCredential(ctx, location, in.CompanyID)
	switch {
	case errors.Is(err, repository.ErrCredentialNotFound):
		stored = nil
	case err != nil:
		return nil, false, &PersistenceError{Op: "load credentials", Err: err}
	}

	var storedLocation string
	if stored != nil {
		storedLocation = identity.ValidLocation(stored.LocationID)
	}

	merged := mergeCredential(stored, in, location)
	creds := &Credentials{
		LocationID:     firstNonEmpty(location, storedLocation),
		CompanyID:      merged.CompanyID,
		LocationAPIKey: merged.LocationAPIKey,
		AgencyAPIKey:   merged.AgencyAPIKey,
	}
	if location == "" && storedLocation != "" && in.LocationAPIKey == "" {
		// Company-only run that matched a location record: that location's
		// own key, used for it but not copied to the company record.
		creds.LocationAPIKey = stored.LocationAPIKey
	}

	if creds.LocationAPIKey == "" && creds.AgencyAPIKey == "" {
		return nil, false, errMissingAPIKey
	}

	logKeySource(log, "location", in.LocationAPIKey, creds.LocationAPIKey)
	logKeySource(log, "agency", in.AgencyAPIKey, creds.AgencyAPIKey)

	if !credentialChanged(stored, merged) {
		return creds, false, nil
	}

	merged.UpdatedBy = in.TriggeredBy
	merged.UpdatedAt = e.now()
	if err := e.credentials.SaveCredential(ctx, merged); err != nil {
		return nil, false, &PersistenceError{Op: "save credentials", Err: err}
	}
	log.add("Saved credentials for %s", merged.ScopeKey())

	return creds, true, nil
}

// mergeCredential builds the record to store under the input's scope key:
// supplied values overwrite, omitted values fall back to stored ones. A
// record stored for another location only lends its company-wide values;
// location keys never move between locations.
func mergeCredential(stored *model.CredentialRecord, in Input, location string) *model.CredentialRecord {
	var merged model.CredentialRecord
	switch {
	case stored == nil:
	case stored.LocationID == location:
		merged = *stored
	default:
		merged = model.CredentialRecord{CompanyID: stored.CompanyID, AgencyAPIKey: stored.AgencyAPIKey}
	}

	merged.LocationID = location
	if in.CompanyID != "" {
		merged.CompanyID = in.CompanyID
	}
	if in.LocationAPIKey != "" {
		merged.LocationAPIKey = in.LocationAPIKey
	}
	if in.AgencyAPIKey != "" {
		merged.AgencyAPIKey = in.AgencyAPIKey
	}

	return &merged
}

func credentialChanged(stored, merged *model.CredentialRecord) bool {
	if stored == nil || stored.ScopeKey() != merged.ScopeKey() {
		return true
	}
	return stored.CompanyID != merged.CompanyID ||
		stored.LocationAPIKey != merged.LocationAPIKey ||
		stored.AgencyAPIKey != merged.AgencyAPIKey
}

func logKeySource(log *runLog, scope, supplied, active string) {
	switch {
	case supplied != "":
		log.add("Using supplied %s key", scope)
	case active != "":
		log.add("Using saved %s key", scope)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
