package domain

import "time"

// Credential stores the OAuth token set and selected sub-account for one
// (org, provider) pair. Exactly one row exists per pair.
type Credential struct {
	ID                int64
	OrgID             int64
	Provider          Provider
	AccessToken       string
	RefreshToken      string // empty for providers that re-exchange the access token
	ExpiresAt         time.Time
	ExternalAccountID string // customer id / ad account id / measurement id
	Settings          CredentialSettings
	IsActive          bool
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CredentialSettings carries the provider-specific linkage configuration set
// during the account-selection step.
type CredentialSettings struct {
	ConversionActionID string `json:"conversion_action_id,omitempty"` // Google Ads
	MeasurementID      string `json:"measurement_id,omitempty"`       // GA4
	APISecret          string `json:"api_secret,omitempty"`           // GA4
	PixelID            string `json:"pixel_id,omitempty"`             // Meta
	ConversionGoalID   string `json:"conversion_goal_id,omitempty"`   // Microsoft
}

// Stale reports whether the access token must be refreshed before use.
// A token is stale once now >= expires_at - skew.
func (c Credential) Stale(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(c.ExpiresAt)
}

// ExternalAccount is a selectable provider sub-account surfaced during the
// account-selection step.
type ExternalAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
