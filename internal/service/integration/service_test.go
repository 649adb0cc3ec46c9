package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

type fakeAdapter struct {
	p                domain.Provider
	canRefreshFn     func(cred domain.Credential) bool
	settingsFn       func(cred domain.Credential) bool
	exchangeFn       func(ctx context.Context, code, redirectURI string) (provider.TokenResult, error)
	listAccountsFn   func(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error)
	revokeFn         func(ctx context.Context, cred domain.Credential) error

	mu          sync.Mutex
	revokeCalls int
}

func (f *fakeAdapter) Provider() domain.Provider { return f.p }

func (f *fakeAdapter) AuthorizationURL(state, redirectURI string) string {
	return fmt.Sprintf("https://example.test/authorize?state=%s&redirect_uri=%s",
		url.QueryEscape(state), url.QueryEscape(redirectURI))
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (provider.TokenResult, error) {
	if f.exchangeFn == nil {
		return provider.TokenResult{}, errors.New("exchange not configured")
	}
	return f.exchangeFn(ctx, code, redirectURI)
}

func (f *fakeAdapter) Refresh(ctx context.Context, cred domain.Credential) (provider.TokenResult, error) {
	return provider.TokenResult{}, errors.New("not implemented")
}

func (f *fakeAdapter) Revoke(ctx context.Context, cred domain.Credential) error {
	f.mu.Lock()
	f.revokeCalls++
	f.mu.Unlock()
	if f.revokeFn == nil {
		return nil
	}
	return f.revokeFn(ctx, cred)
}

func (f *fakeAdapter) CanRefresh(cred domain.Credential) bool {
	if f.canRefreshFn == nil {
		return cred.RefreshToken != ""
	}
	return f.canRefreshFn(cred)
}

func (f *fakeAdapter) SettingsComplete(cred domain.Credential) bool {
	if f.settingsFn == nil {
		return true
	}
	return f.settingsFn(cred)
}

func (f *fakeAdapter) ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
	if f.listAccountsFn == nil {
		return nil, nil
	}
	return f.listAccountsFn(ctx, accessToken)
}

func (f *fakeAdapter) BuildConversionPayload(cred domain.Credential, lead domain.Lead) (provider.ConversionPayload, error) {
	return provider.ConversionPayload{}, nil
}

func (f *fakeAdapter) ConversionEndpoint(cred domain.Credential) (string, error) { return "", nil }

func (f *fakeAdapter) CheckResponse(status int, body []byte) error { return nil }

type credKey struct {
	orgID    int64
	provider domain.Provider
}

type fakeCredRepo struct {
	mu    sync.Mutex
	creds map[credKey]domain.Credential
}

func newFakeCredRepo(creds ...domain.Credential) *fakeCredRepo {
	repo := &fakeCredRepo{creds: make(map[credKey]domain.Credential)}
	for _, c := range creds {
		repo.creds[credKey{c.OrgID, c.Provider}] = c
	}
	return repo
}

func (r *fakeCredRepo) Get(ctx context.Context, orgID int64, p domain.Provider) (domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[credKey{orgID, p}]
	if !ok {
		return domain.Credential{}, repository.ErrNotFound
	}
	return cred, nil
}

func (r *fakeCredRepo) Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credKey{cred.OrgID, cred.Provider}
	if existing, ok := r.creds[key]; ok {
		cred.ID = existing.ID
		cred.ExternalAccountID = existing.ExternalAccountID
		cred.Settings = existing.Settings
		cred.IsActive = existing.ExternalAccountID != ""
	}
	r.creds[key] = cred
	return cred, nil
}

func (r *fakeCredRepo) UpdateTokens(ctx context.Context, p repository.UpdateTokensParams) (domain.Credential, error) {
	return domain.Credential{}, errors.New("not implemented")
}

func (r *fakeCredRepo) SetAccount(ctx context.Context, orgID int64, p domain.Provider, externalAccountID string, settings domain.CredentialSettings) (domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credKey{orgID, p}
	cred, ok := r.creds[key]
	if !ok {
		return domain.Credential{}, repository.ErrNotFound
	}
	cred.ExternalAccountID = externalAccountID
	cred.Settings = settings
	cred.IsActive = true
	cred.LastError = ""
	r.creds[key] = cred
	return cred, nil
}

func (r *fakeCredRepo) MarkRefreshFailed(ctx context.Context, orgID int64, p domain.Provider, lastError string) error {
	return errors.New("not implemented")
}

func (r *fakeCredRepo) Delete(ctx context.Context, orgID int64, p domain.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credKey{orgID, p}
	if _, ok := r.creds[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.creds, key)
	return nil
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]domain.ConnectState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]domain.ConnectState)}
}

func (s *fakeStateStore) SaveState(ctx context.Context, key string, data domain.ConnectState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = data
	return nil
}

func (s *fakeStateStore) GetState(ctx context.Context, key string) (*domain.ConnectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *fakeStateStore) DeleteState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

type fakeTokenSource struct {
	token string
	err   error
}

func (f *fakeTokenSource) GetValidAccessToken(ctx context.Context, orgID int64, p domain.Provider) (string, error) {
	return f.token, f.err
}

type harness struct {
	service *Service
	repo    *fakeCredRepo
	states  *fakeStateStore
	adapter *fakeAdapter
	tokens  *fakeTokenSource
	now     time.Time
}

func newHarness(t *testing.T, adapter *fakeAdapter, creds ...domain.Credential) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := newFakeCredRepo(creds...)
	states := newFakeStateStore()
	tokens := &fakeTokenSource{token: "valid-token"}

	svc := NewService(repo, states, provider.NewRegistry(adapter), tokens, node, 5*time.Minute, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &harness{service: svc, repo: repo, states: states, adapter: adapter, tokens: tokens, now: now}
}

func TestConnectPersistsStateAndBuildsURL(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	authURL, err := h.service.Connect(context.Background(), 42, domain.ProviderGoogleAds, "https://app.example.test/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	stored, err := h.states.GetState(context.Background(), buildStateKey(state))
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, int64(42), stored.OrgID)
	require.Equal(t, domain.ProviderGoogleAds, stored.Provider)
	require.Equal(t, "https://app.example.test/callback", stored.RedirectURI)
}

func TestConnectRequiresRedirectURI(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	_, err := h.service.Connect(context.Background(), 42, domain.ProviderGoogleAds, "  ")
	require.Error(t, err)
}

func TestHandleCallbackStoresInactiveCredential(t *testing.T) {
	adapter := &fakeAdapter{
		p: domain.ProviderGoogleAds,
		exchangeFn: func(ctx context.Context, code, redirectURI string) (provider.TokenResult, error) {
			require.Equal(t, "auth-code", code)
			require.Equal(t, "https://app.example.test/callback", redirectURI)
			return provider.TokenResult{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 3600}, nil
		},
		settingsFn: func(cred domain.Credential) bool { return true },
	}
	h := newHarness(t, adapter)

	authURL, err := h.service.Connect(context.Background(), 42, domain.ProviderGoogleAds, "https://app.example.test/callback")
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	report, err := h.service.HandleCallback(context.Background(), domain.ProviderGoogleAds, "auth-code", state)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, report.Status)
	require.False(t, report.Connected)

	cred, err := h.repo.Get(context.Background(), 42, domain.ProviderGoogleAds)
	require.NoError(t, err)
	require.Equal(t, "new-access", cred.AccessToken)
	require.Equal(t, "new-refresh", cred.RefreshToken)
	require.False(t, cred.IsActive)
	require.Equal(t, h.now.Add(time.Hour), cred.ExpiresAt)

	// State is single-use.
	_, err = h.service.HandleCallback(context.Background(), domain.ProviderGoogleAds, "auth-code", state)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	_, err := h.service.HandleCallback(context.Background(), domain.ProviderGoogleAds, "auth-code", "forged-state")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestHandleCallbackRejectsProviderMismatch(t *testing.T) {
	adapter := &fakeAdapter{p: domain.ProviderGoogleAds}
	h := newHarness(t, adapter)

	authURL, err := h.service.Connect(context.Background(), 42, domain.ProviderGoogleAds, "https://app.example.test/callback")
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	_, err = h.service.HandleCallback(context.Background(), domain.ProviderMetaAds, "auth-code", state)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSelectAccountActivatesIntegration(t *testing.T) {
	adapter := &fakeAdapter{p: domain.ProviderGoogleAds}
	h := newHarness(t, adapter, domain.Credential{
		OrgID:        42,
		Provider:     domain.ProviderGoogleAds,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		IsActive:     false,
	})

	report, err := h.service.SelectAccount(context.Background(), 42, domain.ProviderGoogleAds, "123-456-7890", domain.CredentialSettings{ConversionActionID: "987"})
	require.NoError(t, err)
	require.True(t, report.Connected)
	require.Equal(t, domain.StatusConnected, report.Status)

	cred, err := h.repo.Get(context.Background(), 42, domain.ProviderGoogleAds)
	require.NoError(t, err)
	require.True(t, cred.IsActive)
	require.Equal(t, "123-456-7890", cred.ExternalAccountID)
	require.Equal(t, "987", cred.Settings.ConversionActionID)
}

func TestSelectAccountWithoutCredential(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	_, err := h.service.SelectAccount(context.Background(), 42, domain.ProviderGoogleAds, "123", domain.CredentialSettings{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestListAccountsUsesValidToken(t *testing.T) {
	adapter := &fakeAdapter{
		p: domain.ProviderGoogleAds,
		listAccountsFn: func(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
			require.Equal(t, "valid-token", accessToken)
			return []domain.ExternalAccount{{ID: "123", Name: "Main"}}, nil
		},
	}
	h := newHarness(t, adapter)

	accounts, err := h.service.ListAccounts(context.Background(), 42, domain.ProviderGoogleAds)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "123", accounts[0].ID)
}

func TestListAccountsPropagatesTokenErrors(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})
	h.tokens.err = domain.ErrRefreshFailed

	_, err := h.service.ListAccounts(context.Background(), 42, domain.ProviderGoogleAds)
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
}

func TestDisconnectRevokesBestEffort(t *testing.T) {
	adapter := &fakeAdapter{
		p: domain.ProviderGoogleAds,
		revokeFn: func(ctx context.Context, cred domain.Credential) error {
			return errors.New("revocation endpoint unavailable")
		},
	}
	h := newHarness(t, adapter, domain.Credential{
		OrgID:       42,
		Provider:    domain.ProviderGoogleAds,
		AccessToken: "access",
	})

	err := h.service.Disconnect(context.Background(), 42, domain.ProviderGoogleAds)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.revokeCalls)

	_, err = h.repo.Get(context.Background(), 42, domain.ProviderGoogleAds)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDisconnectWithoutCredential(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	err := h.service.Disconnect(context.Background(), 42, domain.ProviderGoogleAds)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestStatusDerivation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(time.Hour)
	stale := now.Add(time.Minute)
	expired := now.Add(-time.Hour)

	tests := []struct {
		name          string
		cred          *domain.Credential
		settingsOK    bool
		canRefresh    bool
		wantStatus    domain.ConnectionStatus
		wantConnected bool
	}{
		{
			name:       "no credential",
			cred:       nil,
			wantStatus: domain.StatusNotConnected,
		},
		{
			name: "settings incomplete",
			cred: &domain.Credential{
				AccessToken: "a", ExpiresAt: fresh, IsActive: true,
			},
			settingsOK: false,
			canRefresh: true,
			wantStatus: domain.StatusNeedsConfiguration,
		},
		{
			name: "inactive with last error",
			cred: &domain.Credential{
				AccessToken: "a", ExpiresAt: fresh, IsActive: false, LastError: "invalid_grant",
			},
			settingsOK: true,
			canRefresh: true,
			wantStatus: domain.StatusError,
		},
		{
			name: "inactive without error",
			cred: &domain.Credential{
				AccessToken: "a", ExpiresAt: fresh, IsActive: false,
			},
			settingsOK: true,
			canRefresh: true,
			wantStatus: domain.StatusInactive,
		},
		{
			name: "expired and no refresh path",
			cred: &domain.Credential{
				AccessToken: "a", ExpiresAt: expired, IsActive: true,
			},
			settingsOK: true,
			canRefresh: false,
			wantStatus: domain.StatusExpired,
		},
		{
			name: "stale inside skew but refreshable stays connected",
			cred: &domain.Credential{
				AccessToken: "a", RefreshToken: "r", ExpiresAt: stale, IsActive: true,
			},
			settingsOK:    true,
			canRefresh:    true,
			wantStatus:    domain.StatusConnected,
			wantConnected: true,
		},
		{
			name: "fresh and active",
			cred: &domain.Credential{
				AccessToken: "a", RefreshToken: "r", ExpiresAt: fresh, IsActive: true,
			},
			settingsOK:    true,
			canRefresh:    true,
			wantStatus:    domain.StatusConnected,
			wantConnected: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter := &fakeAdapter{
				p:            domain.ProviderGoogleAds,
				settingsFn:   func(domain.Credential) bool { return tc.settingsOK },
				canRefreshFn: func(domain.Credential) bool { return tc.canRefresh },
			}

			var creds []domain.Credential
			if tc.cred != nil {
				cred := *tc.cred
				cred.OrgID = 42
				cred.Provider = domain.ProviderGoogleAds
				creds = append(creds, cred)
			}
			h := newHarness(t, adapter, creds...)

			report, err := h.service.Status(context.Background(), 42, domain.ProviderGoogleAds)
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, report.Status)
			require.Equal(t, tc.wantConnected, report.Connected)
			require.Equal(t, domain.ProviderGoogleAds, report.Provider)
		})
	}
}

func TestStatusAllCoversEveryProvider(t *testing.T) {
	h := newHarness(t, &fakeAdapter{p: domain.ProviderGoogleAds})

	// Only one adapter registered: the other providers fail resolution.
	_, err := h.service.StatusAll(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestStatusAllWithFullRegistry(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	adapters := make([]provider.Adapter, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		adapters = append(adapters, &fakeAdapter{p: p})
	}
	svc := NewService(newFakeCredRepo(), newFakeStateStore(), provider.NewRegistry(adapters...), &fakeTokenSource{}, node, 5*time.Minute, nil)

	reports, err := svc.StatusAll(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, reports, len(domain.Providers()))
	for i, p := range domain.Providers() {
		require.Equal(t, p, reports[i].Provider)
		require.Equal(t, domain.StatusNotConnected, reports[i].Status)
	}
}

func TestSecureRandomStringIsURLSafe(t *testing.T) {
	state, err := secureRandomString(32)
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.False(t, strings.ContainsAny(state, "+/="))
}
