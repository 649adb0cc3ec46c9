package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// MetaAdsConfig holds app credentials and Graph API endpoints.
type MetaAdsConfig struct {
	AppID     string
	AppSecret string
	DialogURL string
	GraphURL  string
}

func (c *MetaAdsConfig) applyDefaults() {
	if c.DialogURL == "" {
		c.DialogURL = "https://www.facebook.com/v19.0/dialog/oauth"
	}
	if c.GraphURL == "" {
		c.GraphURL = "https://graph.facebook.com/v19.0"
	}
}

// MetaAds implements Adapter for the Meta Conversions API. Meta issues no
// refresh token; the long-lived access token is re-exchanged via the
// fb_exchange_token grant instead.
type MetaAds struct {
	cfg    MetaAdsConfig
	client *exchangeClient
}

var _ Adapter = (*MetaAds)(nil)

// NewMetaAds constructs the Meta adapter.
func NewMetaAds(cfg MetaAdsConfig, httpClient *http.Client) *MetaAds {
	cfg.applyDefaults()
	return &MetaAds{cfg: cfg, client: newExchangeClient(httpClient)}
}

func (a *MetaAds) Provider() domain.Provider {
	return domain.ProviderMetaAds
}

func (a *MetaAds) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", a.cfg.AppID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", "ads_management,ads_read,business_management")
	return a.cfg.DialogURL + "?" + q.Encode()
}

// ExchangeCode swaps the code for a short-lived token and immediately
// upgrades it to a long-lived one.
func (a *MetaAds) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.AppID)
	form.Set("client_secret", a.cfg.AppSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)
	short, err := a.client.PostForm(ctx, a.cfg.GraphURL+"/oauth/access_token", form)
	if err != nil {
		return TokenResult{}, err
	}
	return a.exchangeLongLived(ctx, short.AccessToken)
}

// Refresh re-exchanges the stored access token for a fresh long-lived token.
// The stored token may itself already be expired, in which case the grant is
// rejected and the credential needs reauthorization.
func (a *MetaAds) Refresh(ctx context.Context, cred domain.Credential) (TokenResult, error) {
	return a.exchangeLongLived(ctx, cred.AccessToken)
}

func (a *MetaAds) exchangeLongLived(ctx context.Context, accessToken string) (TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", "fb_exchange_token")
	form.Set("client_id", a.cfg.AppID)
	form.Set("client_secret", a.cfg.AppSecret)
	form.Set("fb_exchange_token", accessToken)
	return a.client.PostForm(ctx, a.cfg.GraphURL+"/oauth/access_token", form)
}

// Revoke deletes the app permissions grant.
func (a *MetaAds) Revoke(ctx context.Context, cred domain.Credential) error {
	endpoint := fmt.Sprintf("%s/me/permissions?access_token=%s", a.cfg.GraphURL, url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
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

// CanRefresh is always true: the re-exchange path needs no separate
// refresh credential.
func (a *MetaAds) CanRefresh(cred domain.Credential) bool {
	return cred.AccessToken != ""
}

func (a *MetaAds) SettingsComplete(cred domain.Credential) bool {
	return true
}

func (a *MetaAds) ListAccounts(ctx context.Context, accessToken string) ([]domain.ExternalAccount, error) {
	endpoint := fmt.Sprintf("%s/me/adaccounts?fields=id,name&access_token=%s", a.cfg.GraphURL, url.QueryEscape(accessToken))
	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := a.client.GetJSON(ctx, endpoint, "", &out); err != nil {
		return nil, fmt.Errorf("list ad accounts: %w", err)
	}
	accounts := make([]domain.ExternalAccount, 0, len(out.Data))
	for _, acc := range out.Data {
		accounts = append(accounts, domain.ExternalAccount{ID: acc.ID, Name: acc.Name})
	}
	return accounts, nil
}

type metaUserData struct {
	Em  []string `json:"em,omitempty"`
	Ph  []string `json:"ph,omitempty"`
	FBC string   `json:"fbc,omitempty"`
}

type metaCustomData struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type metaEvent struct {
	EventName    string         `json:"event_name"`
	EventTime    int64          `json:"event_time"`
	EventID      string         `json:"event_id"`
	ActionSource string         `json:"action_source"`
	UserData     metaUserData   `json:"user_data"`
	CustomData   metaCustomData `json:"custom_data"`
}

type metaEventsBody struct {
	Data []metaEvent `json:"data"`
}

func (a *MetaAds) BuildConversionPayload(cred domain.Credential, lead domain.Lead) (ConversionPayload, error) {
	if lead.FBCLID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: lead %d has no fbclid", domain.ErrMissingAttribution, lead.ID)
	}
	if cred.Settings.PixelID == "" {
		return ConversionPayload{}, fmt.Errorf("%w: pixel not configured", domain.ErrMissingAttribution)
	}

	userData := metaUserData{
		// fbc click id format: fb.1.<creation ms>.<fbclid>
		FBC: fmt.Sprintf("fb.1.%d.%s", lead.CreatedAt.UnixMilli(), lead.FBCLID),
	}
	if h := hashEmail(lead.Email); h != "" {
		userData.Em = []string{h}
	}
	if h := hashPhone(lead.Phone); h != "" {
		userData.Ph = []string{h}
	}

	return ConversionPayload{
		Body: metaEventsBody{
			Data: []metaEvent{{
				EventName: "Lead",
				EventTime: lead.CreatedAt.Unix(),
				// Lead-derived event id lets Meta deduplicate re-sends.
				EventID:      fmt.Sprintf("lead-%d", lead.ID),
				ActionSource: "website",
				UserData:     userData,
				CustomData:   metaCustomData{Value: lead.Value, Currency: lead.Currency},
			}},
		},
		TokenQueryParam: "access_token",
	}, nil
}

func (a *MetaAds) ConversionEndpoint(cred domain.Credential) (string, error) {
	if cred.Settings.PixelID == "" {
		return "", fmt.Errorf("%w: pixel not configured", domain.ErrMissingAttribution)
	}
	return fmt.Sprintf("%s/%s/events", a.cfg.GraphURL, cred.Settings.PixelID), nil
}

func (a *MetaAds) CheckResponse(status int, body []byte) error {
	return nil
}
