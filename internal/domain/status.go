package domain

import "time"

// ConnectionStatus is the UI-facing state of one provider integration.
type ConnectionStatus string

const (
	StatusNotConnected       ConnectionStatus = "not_connected"
	StatusNeedsConfiguration ConnectionStatus = "needs_configuration"
	StatusInactive           ConnectionStatus = "inactive"
	StatusConnected          ConnectionStatus = "connected"
	StatusExpired            ConnectionStatus = "expired"
	StatusError              ConnectionStatus = "error"
)

// StatusReport is the per-provider connection summary returned to the UI.
// Access tokens never appear here.
type StatusReport struct {
	Provider    Provider         `json:"provider"`
	Connected   bool             `json:"connected"`
	Status      ConnectionStatus `json:"status"`
	ConnectedAt *time.Time       `json:"connected_at,omitempty"`
	Message     string           `json:"message,omitempty"`
}
