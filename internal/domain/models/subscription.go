package models

import "time"

// Subscription is the per-user record of VPN access. There is at most one row
// per user: a subscription is created once and then mutated in place on every
// extension, deactivation and bonus grant.
//
// While IsActive is true the subscription exclusively owns one remote access
// key identified by VPNKeyID; when inactive both key fields are empty.
type Subscription struct {
	ID          int64
	UserID      int64
	TariffID    int64
	VPNKey      string
	VPNKeyID    string
	EndDate     time.Time
	IsActive    bool
	CntPayments int
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// SubscriptionUpdate is a partial update applied to a subscription row.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	VPNKey   *string
	VPNKeyID *string
	EndDate  *time.Time
	IsActive *bool
}
