package domain

import "time"

// ConnectState is the short-lived CSRF state persisted between the connect
// redirect and the provider callback.
type ConnectState struct {
	State       string    `json:"state"`
	OrgID       int64     `json:"org_id"`
	Provider    Provider  `json:"provider"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}
