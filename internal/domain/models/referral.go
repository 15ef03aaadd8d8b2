package models

import "time"

// DefaultReferralBonusDays is granted to both sides of a referral.
const DefaultReferralBonusDays = 7

// Referral is a one-time link between a referrer and a referred user.
// A user can be referred at most once.
type Referral struct {
	ID         int64
	ReferrerID int64
	ReferredID int64
	BonusDays  int
	CreatedAt  time.Time
}
