package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected signals that no credential exists for the (org, provider).
	ErrNotConnected = errors.New("integration: not connected")
	// ErrRefreshFailed signals a rejected token refresh; reauthorization is required.
	ErrRefreshFailed = errors.New("integration: token refresh failed")
	// ErrMissingAttribution indicates the lead lacks the click identifier or
	// linkage field the provider requires.
	ErrMissingAttribution = errors.New("integration: missing attribution data")
	// ErrUnknownProvider indicates an unsupported provider value.
	ErrUnknownProvider = errors.New("integration: unknown provider")
	// ErrLeadNotFound signals the lead row does not exist for the org.
	ErrLeadNotFound = errors.New("integration: lead not found")
	// ErrInvalidState indicates the OAuth connect state is missing or expired.
	ErrInvalidState = errors.New("integration: invalid connect state")
)

// DispatchError carries the provider rejection of a conversion upload. It is
// request-level only: the credential stays active and the caller may retry.
type DispatchError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("integration: %s conversion dispatch rejected (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
