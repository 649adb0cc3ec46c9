package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// GoogleAdsConfig holds OAuth client credentials and endpoint URLs. Endpoints
// default to the live Google APIs and are overridable for tests.
type GoogleAdsConfig struct {
	ClientID       string
	ClientSecret   string
	DeveloperToken string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
	APIBaseURL     string
}

func (c *GoogleAdsConfig) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.RevokeURL == "" {
		c.RevokeURL = "https://oauth2.googleapis.com/revoke"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://googleads.googleapis.com/v16"
	}
}

// GoogleAds implements Adapter for the Google Ads click-conversion API.
type GoogleAds struct {
	cfg    GoogleAdsConfig
	client *exchangeClient
}

var _ Adapter = (*GoogleAds)(nil)

// NewGoogleAds constructs the Google Ads adapter.
func NewGoogleAds(cfg GoogleAdsConfig, httpClient *http.Client) *GoogleAds {
	cfg.applyDefaults()
	return &GoogleAds{cfg: cfg, client: newExchangeClient(httpClient)}
}

func (a *GoogleAds) Provider() domain.Provider {
	return domain.ProviderGoogleAds
}

func (a *GoogleAds) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "https://www.googleapis.com/auth/adwords")
	q.Set("state", state)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return a.cfg.AuthURL + "?" + q.Encode()
}

func (a *GoogleAds) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	return a.client.PostForm(ctx, a.cfg.TokenURL, form)
}

// Refresh exchanges the stored refresh token for a new access token. Google
// does not rotate the refresh token on this grant.
func (a *GoogleAds) Refresh(ctx context.Context, cred domain.Credential) (TokenResult, error) {
	if cred.RefreshToken == "" {
		return TokenResult{}, fmt.Errorf("no refresh token stored")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	return a.client.PostForm(ctx, a.cfg.TokenURL, form)
}

func (a *GoogleAds) Revoke(ctx context.Context, cred domain.Credential) error {
	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}
	form := url.Values{}
	form.Set("token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke rejected: status=%d", resp.StatusCode)
	}
	return nil
}

func (a *GoogleAds) CanRefresh(cred domain.Credential) bool {
	return cred.RefreshToken != ""
}

func (a *GoogleAds) SettingsComplete(cred domain.Credential) bool {
	return true
}

func (a *GoogleAds) ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
	endpoint := a.cfg.APIBaseURL + "/customers:listAccessibleCustomers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("developer-token", a.cfg.DeveloperToken)

	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list customers rejected: status=%d", resp.StatusCode)
	}

	var out struct {
		ResourceNames []string `json:"resourceNames"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode customers: %w", err)
	}
	accounts := make([]domain.ExternalAccount, 0, len(out.ResourceNames))
	for _, name := range out.ResourceNames {
		id := strings.TrimPrefix(name, "customers/")
		accounts = append(accounts, domain.ExternalAccount{ID: id, Name: id})
	}
	return accounts, nil
}

type googleClickConversion struct {
	GCLID              string  `json:"gclid"`
	ConversionAction   string  `json:"conversionAction"`
	ConversionDateTime string  `json:"conversionDateTime"`
	ConversionValue    float64 `json:"conversionValue"`
	CurrencyCode       string  `json:"currencyCode"`
}

type googleConversionUpload struct {
	Conversions    []googleClickConversion `json:"conversions"`
	PartialFailure bool                    `json:"partialFailure"`
}

func (a *GoogleAds) BuildConversionPayload(cred domain.Credential, lead domain.Lead) (ConversionPayload, error) {
	if lead.GCLID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: lead %d has no gclid", domain.ErrMissingAttribution, lead.ID)
	}
	if cred.Settings.ConversionActionID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: conversion action not configured", domain.ErrMissingAttribution)
	}

	headers := http.Header{}
	headers.Set("developer-token", a.cfg.DeveloperToken)

	return ConversionPayload{
		Body: googleConversionUpload{
			Conversions: []googleClickConversion{{
				GCLID:              lead.GCLID,
				ConversionAction:   fmt.Sprintf("customers/%s/conversionActions/%s", cred.ExternalAccountID, cred.Settings.ConversionActionID),
				ConversionDateTime: lead.CreatedAt.Format("2006-01-02 15:04:05-07:00"),
				ConversionValue:    lead.Value,
				CurrencyCode:       lead.Currency,
			}},
			PartialFailure: true,
		},
		Headers: headers,
	}, nil
}

func (a *GoogleAds) ConversionEndpoint(cred domain.Credential) (string, error) {
	if cred.ExternalAccountID == "" {
		return "", fmt.Errorf("%w: customer not selected", domain.ErrMissingAttribution)
	}
	return fmt.Sprintf("%s/customers/%s:uploadClickConversions", a.cfg.APIBaseURL, cred.ExternalAccountID), nil
}

// CheckResponse surfaces partialFailureError embedded in a 2xx upload
// response, which still means the conversion was rejected.
func (a *GoogleAds) CheckResponse(status int, body []byte) error {
	var out struct {
		PartialFailureError *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"partialFailureError"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	if out.PartialFailureError != nil {
		return fmt.Errorf("partial failure (code %d): %s", out.PartialFailureError.Code, out.PartialFailureError.Message)
	}
	return nil
}
