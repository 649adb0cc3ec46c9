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

// GoogleAnalyticsConfig mirrors GoogleAdsConfig; GA4 shares Google's OAuth
// endpoints but dispatches through the Measurement Protocol, which
// authenticates with the per-property API secret instead of the OAuth token.
type GoogleAnalyticsConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	AdminAPIURL  string
	CollectURL   string
}

func (c *GoogleAnalyticsConfig) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.RevokeURL == "" {
		c.RevokeURL = "https://oauth2.googleapis.com/revoke"
	}
	if c.AdminAPIURL == "" {
		c.AdminAPIURL = "https://analyticsadmin.googleapis.com/v1beta"
	}
	if c.CollectURL == "" {
		c.CollectURL = "https://www.google-analytics.com/mp/collect"
	}
}

// GoogleAnalytics implements Adapter for GA4.
type GoogleAnalytics struct {
	cfg    GoogleAnalyticsConfig
	client *exchangeClient
}

var _ Adapter = (*GoogleAnalytics)(nil)

// NewGoogleAnalytics constructs the GA4 adapter.
func NewGoogleAnalytics(cfg GoogleAnalyticsConfig, httpClient *http.Client) *GoogleAnalytics {
	cfg.applyDefaults()
	return &GoogleAnalytics{cfg: cfg, client: newExchangeClient(httpClient)}
}

func (a *GoogleAnalytics) Provider() domain.Provider {
	return domain.ProviderGoogleAnalytics
}

func (a *GoogleAnalytics) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "https://www.googleapis.com/auth/analytics.readonly")
	q.Set("state", state)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return a.cfg.AuthURL + "?" + q.Encode()
}

func (a *GoogleAnalytics) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	return a.client.PostForm(ctx, a.cfg.TokenURL, form)
}

func (a *GoogleAnalytics) Refresh(ctx context.Context, cred domain.Credential) (TokenResult, error) {
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

func (a *GoogleAnalytics) Revoke(ctx context.Context, cred domain.Credential) error {
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

func (a *GoogleAnalytics) CanRefresh(cred domain.Credential) bool {
	return cred.RefreshToken != ""
}

// SettingsComplete requires the GA4 measurement id and API secret captured
// during configuration; without them dispatch cannot authenticate.
func (a *GoogleAnalytics) SettingsComplete(cred domain.Credential) bool {
	return cred.Settings.MeasurementID != "" && cred.Settings.APISecret != ""
}

// ListAccounts returns GA4 property summaries from the Admin API.
func (a *GoogleAnalytics) ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
	var out struct {
		AccountSummaries []struct {
			PropertySummaries []struct {
				Property    string `json:"property"`
				DisplayName string `json:"displayName"`
			} `json:"propertySummaries"`
		} `json:"accountSummaries"`
	}
	if err := a.client.GetJSON(ctx, a.cfg.AdminAPIURL+"/accountSummaries", accessToken, &out); err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	var accounts []domain.ExternalAccount
	for _, summary := range out.AccountSummaries {
		for _, prop := range summary.PropertySummaries {
			accounts = append(accounts, domain.ExternalAccount{
				ID:   strings.TrimPrefix(prop.Property, "properties/"),
				Name: prop.DisplayName,
			})
		}
	}
	return accounts, nil
}

type gaEvent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

type gaCollectBody struct {
	ClientID string    `json:"client_id"`
	Events   []gaEvent `json:"events"`
}

func (a *GoogleAnalytics) BuildConversionPayload(cred domain.Credential, lead domain.Lead) (ConversionPayload, error) {
	if lead.GCLID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: lead %d has no gclid", domain.ErrMissingAttribution, lead.ID)
	}
	if !a.SettingsComplete(cred) {
		return ConversionPayload{}, fmt.Errorf("%w: measurement id or api secret not configured", domain.ErrMissingAttribution)
	}

	query := url.Values{}
	query.Set("measurement_id", cred.Settings.MeasurementID)
	query.Set("api_secret", cred.Settings.APISecret)

	return ConversionPayload{
		Body: gaCollectBody{
			// Stable per-lead client id keeps re-sends attributed to one client.
			ClientID: fmt.Sprintf("leadloopr.%d", lead.ID),
			Events: []gaEvent{{
				Name: "generate_lead",
				Params: map[string]any{
					"currency":       lead.Currency,
					"value":          lead.Value,
					"gclid":          lead.GCLID,
					"transaction_id": fmt.Sprintf("lead-%d", lead.ID),
				},
			}},
		},
		Query: query,
		// Measurement Protocol authenticates via api_secret, not the token.
		NoAuth: true,
	}, nil
}

func (a *GoogleAnalytics) ConversionEndpoint(cred domain.Credential) (string, error) {
	return a.cfg.CollectURL, nil
}

// CheckResponse inspects validation messages the collect endpoint may embed
// in a 2xx body.
func (a *GoogleAnalytics) CheckResponse(status int, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var out struct {
		ValidationMessages []struct {
			Description string `json:"description"`
		} `json:"validationMessages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	if len(out.ValidationMessages) > 0 {
		return fmt.Errorf("collect validation failed: %s", out.ValidationMessages[0].Description)
	}
	return nil
}
