package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// TokenResult is the outcome of a token exchange against a provider endpoint.
type TokenResult struct {
	AccessToken  string
	RefreshToken string // empty when the provider issued or rotated none
	ExpiresIn    int64  // seconds
	Scope        string
	TokenType    string
}

// ConversionPayload is a provider-ready conversion upload. The dispatcher
// serializes Body as JSON, merges Query and Headers into the request, and
// attaches the access token as a bearer header unless TokenQueryParam names a
// query parameter instead, or NoAuth indicates the payload authenticates on
// its own (GA4 API secret).
type ConversionPayload struct {
	Body            any
	Query           url.Values
	Headers         http.Header
	TokenQueryParam string
	NoAuth          bool
}

// Adapter abstracts one advertising platform: the OAuth legs, the refresh
// exchange, and the conversion upload contract. One concrete adapter exists
// per platform so that skew handling, refresh semantics, and payload shapes
// cannot drift apart per integration.
type Adapter interface {
	Provider() domain.Provider

	// AuthorizationURL builds the user-facing consent URL for the connect flow.
	AuthorizationURL(state, redirectURI string) string
	// ExchangeCode swaps the authorization code for the initial token set.
	ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error)
	// Refresh performs the provider-specific token refresh exchange.
	Refresh(ctx context.Context, cred domain.Credential) (TokenResult, error)
	// Revoke invalidates the remote grant. Best effort; failures are non-fatal.
	Revoke(ctx context.Context, cred domain.Credential) error

	// CanRefresh reports whether the stored credential has a usable refresh
	// path (a refresh token, or a re-exchangeable access token).
	CanRefresh(cred domain.Credential) bool
	// SettingsComplete reports whether provider-specific configuration beyond
	// account selection is present.
	SettingsComplete(cred domain.Credential) bool

	// ListAccounts enumerates selectable sub-accounts with a valid token.
	ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error)

	// BuildConversionPayload validates attribution data and assembles the
	// upload body. It must not perform network calls.
	BuildConversionPayload(cred domain.Credential, lead domain.Lead) (ConversionPayload, error)
	// ConversionEndpoint returns the upload URL for the selected account.
	ConversionEndpoint(cred domain.Credential) (string, error)
	// CheckResponse inspects a 2xx response body for provider-level partial
	// failures that still mean the conversion was rejected.
	CheckResponse(status int, body []byte) error
}

// Registry resolves adapters by provider.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry indexes the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for the provider or ErrUnknownProvider.
func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return a, nil
}
