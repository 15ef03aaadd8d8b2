package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/outline-bot/subscription-service/internal/domain/models"
)

// SubscriptionInfo is what the chat layer shows a subscribed user.
type SubscriptionInfo struct {
	EndDate     time.Time
	VPNKey      string
	DeviceLimit int
}

// SubscriptionService owns the subscription state machine and the scheduling
// contract. Every mutating method is safe to retry.
type SubscriptionService interface {
	// CreateOrExtend provisions a subscription for a paid tariff: extends an
	// active one, reactivates an expired one with a fresh key, or creates a
	// new row. Returns the subscription and the usable access URL.
	CreateOrExtend(ctx context.Context, userID, tariffID int64) (*models.Subscription, string, error)
	// Deactivate destroys the remote key and clears local key state.
	// Missing or already-inactive subscriptions are a no-op.
	Deactivate(ctx context.Context, subID int64) error
	// Notify sends the pre-expiry reminder; send failures are swallowed
	// after logging so a scheduler tick never crashes on a chat outage.
	Notify(ctx context.Context, subID int64) error
	ActivateTrial(ctx context.Context, userID int64) (*models.Subscription, string, error)
	ApplyReferralBonus(ctx context.Context, referral *models.Referral) error
	Info(ctx context.Context, userID int64) (*SubscriptionInfo, error)
}

// StartResult is the outcome of a user registration.
type StartResult struct {
	User         *models.User
	BonusApplied bool
}

// UserService registers users and applies inbound referral codes.
type UserService interface {
	Start(ctx context.Context, userID int64, username, refCode string) (*StartResult, error)
}

// ReferralInfo is the referral statistics shown to a referrer.
type ReferralInfo struct {
	RefLink           string
	Total             int
	ReferredUsernames []string
}

// ReferralService provides read-only referral statistics.
type ReferralService interface {
	Info(ctx context.Context, userID int64, botUsername string) (*ReferralInfo, error)
}

// Invoice is the data the chat layer needs to issue a payment request.
type Invoice struct {
	PaymentID    string
	Payload      string
	Amount       decimal.Decimal
	DurationDays int
	Label        string
}

// PaymentResult is the outcome of a successful payment callback.
type PaymentResult struct {
	// Action is "created" when the payment produced the user's first
	// subscription, "extended" otherwise
	Action  string
	EndDate time.Time
	VPNKey  string
}

// PaymentService issues invoices and finalizes provider callbacks. Both
// payment commits run in isolated transactions so an accepted external
// payment survives any failure in the surrounding handler.
type PaymentService interface {
	CreateInvoice(ctx context.Context, userID, tariffID int64) (*Invoice, error)
	ProcessSuccess(ctx context.Context, paymentID, externalChargeID, providerChargeID string) (*PaymentResult, error)
}
