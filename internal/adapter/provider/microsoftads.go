package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// MicrosoftAdsConfig holds Azure AD app credentials and Bing Ads endpoints.
type MicrosoftAdsConfig struct {
	ClientID       string
	ClientSecret   string
	DeveloperToken string
	AuthURL        string
	TokenURL       string
	APIBaseURL     string
}

func (c *MicrosoftAdsConfig) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://campaign.api.bingads.microsoft.com/CampaignManagement/v13"
	}
}

const microsoftAdsScope = "https://ads.microsoft.com/msads.manage offline_access"

// MicrosoftAds implements Adapter for Microsoft Advertising offline
// conversions. Microsoft rotates the refresh token on every refresh grant.
type MicrosoftAds struct {
	cfg    MicrosoftAdsConfig
	client *exchangeClient
}

var _ Adapter = (*MicrosoftAds)(nil)

// NewMicrosoftAds constructs the Microsoft adapter.
func NewMicrosoftAds(cfg MicrosoftAdsConfig, httpClient *http.Client) *MicrosoftAds {
	cfg.applyDefaults()
	return &MicrosoftAds{cfg: cfg, client: newExchangeClient(httpClient)}
}

func (a *MicrosoftAds) Provider() domain.Provider {
	return domain.ProviderMicrosoftAds
}

func (a *MicrosoftAds) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", microsoftAdsScope)
	q.Set("state", state)
	return a.cfg.AuthURL + "?" + q.Encode()
}

func (a *MicrosoftAds) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("scope", microsoftAdsScope)
	return a.client.PostForm(ctx, a.cfg.TokenURL, form)
}

func (a *MicrosoftAds) Refresh(ctx context.Context, cred domain.Credential) (TokenResult, error) {
	if cred.RefreshToken == "" {
		return TokenResult{}, fmt.Errorf("no refresh token stored")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("scope", microsoftAdsScope)
	return a.client.PostForm(ctx, a.cfg.TokenURL, form)
}

// Revoke is a no-op: Azure AD exposes no self-service token revocation
// endpoint for this grant; deleting the stored row is the disconnect.
func (a *MicrosoftAds) Revoke(ctx context.Context, cred domain.Credential) error {
	return nil
}

func (a *MicrosoftAds) CanRefresh(cred domain.Credential) bool {
	return cred.RefreshToken != ""
}

func (a *MicrosoftAds) SettingsComplete(cred domain.Credential) bool {
	return true
}

func (a *MicrosoftAds) ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
	var out struct {
		Accounts []struct {
			ID   int64  `json:"Id"`
			Name string `json:"Name"`
		} `json:"Accounts"`
	}
	if err := a.client.GetJSON(ctx, a.cfg.APIBaseURL+"/Accounts", accessToken, &out); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]domain.ExternalAccount, 0, len(out.Accounts))
	for _, acc := range out.Accounts {
		accounts = append(accounts, domain.ExternalAccount{ID: fmt.Sprintf("%d", acc.ID), Name: acc.Name})
	}
	return accounts, nil
}

type microsoftOfflineConversion struct {
	MicrosoftClickID string  `json:"MicrosoftClickId"`
	ConversionName   string  `json:"ConversionName"`
	ConversionTime   string  `json:"ConversionTime"`
	ConversionValue  float64 `json:"ConversionValue"`
	CurrencyCode     string  `json:"CurrencyCode"`
}

type microsoftConversionUpload struct {
	OfflineConversions []microsoftOfflineConversion `json:"OfflineConversions"`
}

func (a *MicrosoftAds) BuildConversionPayload(cred domain.Credential, lead domain.Lead) (ConversionPayload, error) {
	if lead.MSCLKID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: lead %d has no msclkid", domain.ErrMissingAttribution, lead.ID)
	}
	if cred.Settings.ConversionGoalID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: conversion goal not configured", domain.ErrMissingAttribution)
	}

	headers := http.Header{}
	headers.Set("DeveloperToken", a.cfg.DeveloperToken)
	headers.Set("CustomerAccountId", cred.ExternalAccountID)

	return ConversionPayload{
		Body: microsoftConversionUpload{
			OfflineConversions: []microsoftOfflineConversion{{
				MicrosoftClickID: lead.MSCLKID,
				ConversionName:   cred.Settings.ConversionGoalID,
				ConversionTime:   lead.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				ConversionValue:  lead.Value,
				CurrencyCode:     lead.Currency,
			}},
		},
		Headers: headers,
	}, nil
}

func (a *MicrosoftAds) ConversionEndpoint(cred domain.Credential) (string, error) {
	if cred.ExternalAccountID == "" {
		return "", fmt.Errorf("%w: account not selected", domain.ErrMissingAttribution)
	}
	return a.cfg.APIBaseURL + "/OfflineConversions/Apply", nil
}

// CheckResponse surfaces PartialErrors embedded in a 2xx apply response.
func (a *MicrosoftAds) CheckResponse(status int, body []byte) error {
	var out struct {
		PartialErrors []struct {
			Code    int    `json:"Code"`
			Message string `json:"Message"`
		} `json:"PartialErrors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	if len(out.PartialErrors) > 0 {
		return fmt.Errorf("partial error (code %d): %s", out.PartialErrors[0].Code, out.PartialErrors[0].Message)
	}
	return nil
}
