package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// ExchangeError carries the provider rejection of a token exchange so the
// refresh engine can persist diagnostic detail.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange rejected: status=%d body=%s", e.StatusCode, e.Body)
}

// exchangeClient performs form-encoded token exchanges against provider OAuth
// endpoints.
type exchangeClient struct {
	httpClient *http.Client
}

func newExchangeClient(client *http.Client) *exchangeClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &exchangeClient{httpClient: client}
}

// PostForm posts the form to the token endpoint and decodes the standard
// {access_token, refresh_token, expires_in, scope, token_type} response.
func (c *exchangeClient) PostForm(ctx context.Context, endpoint string, form url.Values) (TokenResult, error) {
	if strings.TrimSpace(endpoint) == "" {
		return TokenResult{}, fmt.Errorf("token url missing")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResult{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenResult{}, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return TokenResult{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return TokenResult{}, &ExchangeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return TokenResult{}, fmt.Errorf("decode token response: %w", err)
	}

	result := TokenResult{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
	}
	if exp := raw["expires_in"]; exp != nil {
		result.ExpiresIn = int64Value(exp)
	}
	if result.AccessToken == "" {
		return TokenResult{}, fmt.Errorf("token response missing access_token")
	}
	return result, nil
}

// GetJSON performs an authorized GET and decodes the response into out.
func (c *exchangeClient) GetJSON(ctx context.Context, endpoint, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &ExchangeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
