package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

var (
	// ErrNotFound signals the requested row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrStaleCredential signals a conditional token update lost against a
	// concurrent refresh of the same credential row.
	ErrStaleCredential = errors.New("repository: credential superseded by concurrent update")
)

// UpdateTokensParams describes the conditional write performed after a
// successful refresh exchange. PreviousAccessToken is the value the caller
// read before refreshing; the update applies only while it still matches.
type UpdateTokensParams struct {
	OrgID               int64
	Provider            domain.Provider
	PreviousAccessToken string
	AccessToken         string
	RefreshToken        string
	ExpiresAt           time.Time
}

// CredentialRepository persists one credential per (org, provider). Every
// operation is tenant-scoped; cross-org reads are not expressible.
type CredentialRepository interface {
	Get(ctx context.Context, orgID int64, provider domain.Provider) (domain.Credential, error)
	Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error)
	UpdateTokens(ctx context.Context, p UpdateTokensParams) (domain.Credential, error)
	SetAccount(ctx context.Context, orgID int64, provider domain.Provider, externalAccountID string, settings domain.CredentialSettings) (domain.Credential, error)
	MarkRefreshFailed(ctx context.Context, orgID int64, provider domain.Provider, lastError string) error
	Delete(ctx context.Context, orgID int64, provider domain.Provider) error
}

// LeadRepository reads lead rows and records sync timestamps.
type LeadRepository interface {
	Get(ctx context.Context, orgID, leadID int64) (domain.Lead, error)
	MarkSynced(ctx context.Context, orgID, leadID int64, at time.Time) error
}

// OrgRepository exposes org lookups for request scoping.
type OrgRepository interface {
	GetOrg(ctx context.Context, orgID int64) (domain.Org, error)
	GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error)
}

// ConnectStateStore persists short-lived OAuth connect state.
type ConnectStateStore interface {
	SaveState(ctx context.Context, key string, data domain.ConnectState, ttl time.Duration) error
	GetState(ctx context.Context, key string) (*domain.ConnectState, error)
	DeleteState(ctx context.Context, key string) error
}
