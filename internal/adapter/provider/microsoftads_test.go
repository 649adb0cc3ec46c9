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

func TestMicrosoftAdsRefreshRotatesRefreshToken(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"rotated-refresh","expires_in":3600}`))
	}))
	defer server.Close()

	adapter := NewMicrosoftAds(MicrosoftAdsConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
	}, server.Client())

	result, err := adapter.Refresh(context.Background(), domain.Credential{RefreshToken: "old-refresh"})
	require.NoError(t, err)
	require.Equal(t, "new-access", result.AccessToken)
	require.Equal(t, "rotated-refresh", result.RefreshToken)

	require.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	require.Equal(t, "old-refresh", gotForm.Get("refresh_token"))
	require.Equal(t, microsoftAdsScope, gotForm.Get("scope"))
}

func TestMicrosoftAdsRefreshWithoutRefreshToken(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{}, nil)

	_, err := adapter.Refresh(context.Background(), domain.Credential{})
	require.Error(t, err)
}

func TestMicrosoftAdsRevokeIsNoop(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{}, nil)
	require.NoError(t, adapter.Revoke(context.Background(), domain.Credential{AccessToken: "a"}))
}

func TestMicrosoftAdsBuildConversionPayload(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{DeveloperToken: "dev-token"}, nil)

	created := time.Date(2025, 5, 20, 11, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	cred := domain.Credential{
		ExternalAccountID: "555666",
		Settings:          domain.CredentialSettings{ConversionGoalID: "LeadGoal"},
	}
	lead := domain.Lead{ID: 7001, MSCLKID: "msclkid-abc", Value: 125.5, Currency: "EUR", CreatedAt: created}

	payload, err := adapter.BuildConversionPayload(cred, lead)
	require.NoError(t, err)
	require.Equal(t, "dev-token", payload.Headers.Get("DeveloperToken"))
	require.Equal(t, "555666", payload.Headers.Get("CustomerAccountId"))

	body, ok := payload.Body.(microsoftConversionUpload)
	require.True(t, ok)
	require.Len(t, body.OfflineConversions, 1)
	require.Equal(t, "msclkid-abc", body.OfflineConversions[0].MicrosoftClickID)
	require.Equal(t, "LeadGoal", body.OfflineConversions[0].ConversionName)
	require.Equal(t, "2025-05-20T09:30:00Z", body.OfflineConversions[0].ConversionTime)
}

func TestMicrosoftAdsBuildConversionPayloadMissingMSCLKID(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{}, nil)

	_, err := adapter.BuildConversionPayload(domain.Credential{
		Settings: domain.CredentialSettings{ConversionGoalID: "LeadGoal"},
	}, domain.Lead{ID: 7001})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestMicrosoftAdsBuildConversionPayloadMissingGoal(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{}, nil)

	_, err := adapter.BuildConversionPayload(domain.Credential{}, domain.Lead{ID: 7001, MSCLKID: "msclkid-abc"})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestMicrosoftAdsConversionEndpoint(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{APIBaseURL: "https://bing.example.test/v13"}, nil)

	endpoint, err := adapter.ConversionEndpoint(domain.Credential{ExternalAccountID: "555666"})
	require.NoError(t, err)
	require.Equal(t, "https://bing.example.test/v13/OfflineConversions/Apply", endpoint)

	_, err = adapter.ConversionEndpoint(domain.Credential{})
	require.ErrorIs(t, err, domain.ErrMissingAttribution)
}

func TestMicrosoftAdsCheckResponse(t *testing.T) {
	adapter := NewMicrosoftAds(MicrosoftAdsConfig{}, nil)

	require.NoError(t, adapter.CheckResponse(200, []byte(`{"PartialErrors":[]}`)))

	err := adapter.CheckResponse(200, []byte(`{"PartialErrors":[{"Code":5108,"Message":"click id not found"}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "click id not found")
}

func TestMicrosoftAdsListAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"Accounts":[{"Id":555666,"Name":"Main"}]}`))
	}))
	defer server.Close()

	adapter := NewMicrosoftAds(MicrosoftAdsConfig{APIBaseURL: server.URL}, server.Client())

	accounts, err := adapter.ListAccounts(context.Background(), "access-token")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "555666", accounts[0].ID)
	require.Equal(t, "Main", accounts[0].Name)
}
