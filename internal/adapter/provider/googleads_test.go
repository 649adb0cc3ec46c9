package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

func TestGoogleAdsAuthorizationURL(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{ClientID: "client-id"}, nil)

	raw := adapter.AuthorizationURL("state-token", "https://app.example.test/callback")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "state-token", q.Get("state"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Equal(t, "https://www.googleapis.com/auth/adwords", q.Get("scope"))
}

func TestGoogleAdsRefreshSendsGrant(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	adapter := NewGoogleAds(GoogleAdsConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
	}, server.Client())

	result, err := adapter.Refresh(context.Background(), domain.Credential{RefreshToken: "refresh-token"})
	require.NoError(t, err)
	require.Equal(t, "new-access", result.AccessToken)
	require.Equal(t, int64(3599), result.ExpiresIn)
	// Google does not rotate refresh tokens on this grant.
	require.Empty(t, result.RefreshToken)

	require.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	require.Equal(t, "refresh-token", gotForm.Get("refresh_token"))
	require.Equal(t, "client-id", gotForm.Get("client_id"))
	require.Equal(t, "client-secret", gotForm.Get("client_secret"))
}

func TestGoogleAdsRefreshRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	adapter := NewGoogleAds(GoogleAdsConfig{TokenURL: server.URL}, server.Client())

	_, err := adapter.Refresh(context.Background(), domain.Credential{RefreshToken: "revoked"})
	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	require.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
	require.Contains(t, exchangeErr.Body, "invalid_grant")
}

func TestGoogleAdsRefreshWithoutRefreshToken(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{}, nil)

	_, err := adapter.Refresh(context.Background(), domain.Credential{})
	require.Error(t, err)
}

func TestGoogleAdsBuildConversionPayload(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{DeveloperToken: "dev-token"}, nil)

	created := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)
	cred := domain.Credential{
		ExternalAccountID: "1234567890",
		Settings:          domain.CredentialSettings{ConversionActionID: "987654"},
	}
	lead := domain.Lead{ID: 7001, GCLID: "gclid-abc", Value: 125.5, Currency: "EUR", CreatedAt: created}

	payload, err := adapter.BuildConversionPayload(cred, lead)
	require.NoError(t, err)
	require.Equal(t, "dev-token", payload.Headers.Get("developer-token"))

	body, ok := payload.Body.(googleConversionUpload)
	require.True(t, ok)
	require.True(t, body.PartialFailure)
	require.Len(t, body.Conversions, 1)
	require.Equal(t, "gclid-abc", body.Conversions[0].GCLID)
	require.Equal(t, "customers/1234567890/conversionActions/987654", body.Conversions[0].ConversionAction)
	require.Equal(t, "2025-05-20 09:30:00+00:00", body.Conversions[0].ConversionDateTime)
	require.Equal(t, 125.5, body.Conversions[0].ConversionValue)
	require.Equal(t, "EUR", body.Conversions[0].CurrencyCode)
}

func TestGoogleAdsBuildConversionPayloadMissingGCLID(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{}, nil)

	_, err := adapter.BuildConversionPayload(domain.Credential{
		Settings: domain.CredentialSettings{ConversionActionID: "987"},
	}, domain.Lead{ID: 7001})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestGoogleAdsBuildConversionPayloadMissingAction(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{}, nil)

	_, err := adapter.BuildConversionPayload(domain.Credential{}, domain.Lead{ID: 7001, GCLID: "gclid-abc"})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestGoogleAdsConversionEndpoint(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{APIBaseURL: "https://ads.example.test/v16"}, nil)

	endpoint, err := adapter.ConversionEndpoint(domain.Credential{ExternalAccountID: "1234567890"})
	require.NoError(t, err)
	require.Equal(t, "https://ads.example.test/v16/customers/1234567890:uploadClickConversions", endpoint)

	_, err = adapter.ConversionEndpoint(domain.Credential{})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestGoogleAdsCheckResponse(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{}, nil)

	require.NoError(t, adapter.CheckResponse(200, []byte(`{"results":[{}]}`)))

	err := adapter.CheckResponse(200, []byte(`{"partialFailureError":{"code":3,"message":"gclid expired"}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "gclid expired")
}

func TestGoogleAdsListAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		require.Equal(t, "dev-token", r.Header.Get("developer-token"))
		w.Write([]byte(`{"resourceNames":["customers/1234567890","customers/2223334444"]}`))
	}))
	defer server.Close()

	adapter := NewGoogleAds(GoogleAdsConfig{DeveloperToken: "dev-token", APIBaseURL: server.URL}, server.Client())

	accounts, err := adapter.ListAccounts(context.Background(), "access-token")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "1234567890", accounts[0].ID)
	require.Equal(t, "2223334444", accounts[1].ID)
}

func TestGoogleAdsCanRefresh(t *testing.T) {
	adapter := NewGoogleAds(GoogleAdsConfig{}, nil)
	require.True(t, adapter.CanRefresh(domain.Credential{RefreshToken: "r"}))
	require.False(t, adapter.CanRefresh(domain.Credential{}))
}
