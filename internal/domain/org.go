package domain

import "time"

// Org is the tenant owning credentials and leads. Membership and billing live
// with the external identity provider; only the slug and status matter here.
type Org struct {
	ID        int64
	Slug      string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
