package domain

import "time"

// Lead is the captured marketing lead this service reads for conversion
// dispatch. Only SyncedAt is ever written back.
type Lead struct {
	ID        int64
	OrgID     int64
	Name      string
	Email     string
	Phone     string
	GCLID     string
	FBCLID    string
	MSCLKID   string
	Value     float64
	Currency  string
	SyncedAt  *time.Time
	CreatedAt time.Time
}

// DispatchOutcome reports a successfully forwarded conversion event.
type DispatchOutcome struct {
	Provider Provider  `json:"provider"`
	LeadID   int64     `json:"lead_id"`
	SyncedAt time.Time `json:"synced_at"`
}
