package models

import "time"

// User is a chat-platform user known to the service. The ID is the
// external 64-bit identifier assigned by the platform, not a surrogate key.
type User struct {
	ID           int64
	Username     string
	ReferralCode string
	TrialUsed    bool
	IsAdmin      bool
	CreatedAt    time.Time
}
