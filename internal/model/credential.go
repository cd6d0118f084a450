package model

import "time"

// CredentialRecord holds the CRM keys for one location or one company.
// Lookup succeeds by LocationID or by CompanyID; a record never needs both.
type CredentialRecord struct {
	LocationID     string
	CompanyID      string
	LocationAPIKey string
	AgencyAPIKey   string
	UpdatedBy      string
	UpdatedAt      time.Time
}

// HasLocationKey returns true if a location-level key is stored.
func (c *CredentialRecord) HasLocationKey() bool {
	return c != nil && c.LocationAPIKey != ""
}

// HasAgencyKey returns true if an agency-level key is stored.
func (c *CredentialRecord) HasAgencyKey() bool {
	return c != nil && c.AgencyAPIKey != ""
}

// CredentialStatus reports which parts of a credential record are present.
// It never carries the secrets themselves.
type CredentialStatus struct {
	HasKey        bool   `json:"hasKey"`
	HasAgencyKey  bool   `json:"hasAgencyKey"`
	HasCompanyID  bool   `json:"hasCompanyId"`
	CompanyID     string `json:"companyId"`
	IsPlaceholder bool   `json:"isPlaceholder"`
}

// Status summarizes the record without exposing keys.
func (c *CredentialRecord) Status() CredentialStatus {
	if c == nil {
		return CredentialStatus{}
	}
	return CredentialStatus{
		HasKey:       c.LocationAPIKey != "",
		HasAgencyKey: c.AgencyAPIKey != "",
		HasCompanyID: c.CompanyID != "",
		CompanyID:    c.CompanyID,
	}
}

// CompanyScopePrefix prefixes the storage key of company-only records.
const CompanyScopePrefix = "company:"

// ScopeKey returns the storage key: the location id when present,
// otherwise the company id under CompanyScopePrefix.
func (c *CredentialRecord) ScopeKey() string {
	if c.LocationID != "" {
		return c.LocationID
	}
	if c.CompanyID != "" {
		return CompanyScopePrefix + c.CompanyID
	}
	return ""
}
