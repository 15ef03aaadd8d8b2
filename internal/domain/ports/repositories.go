package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/outline-bot/subscription-service/internal/domain/models"
)

// Repositories flush writes but never commit; the caller owns the
// unit-of-work. Every lookup returns (nil, nil) when the row is absent so
// services can branch on existence without unwrapping pgx errors.

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetByID(ctx context.Context, db DBTX, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, db DBTX, code string) (*models.User, error)
	Create(ctx context.Context, tx DBTX, user *models.User) error
	MarkTrialUsed(ctx context.Context, tx DBTX, userID int64) error
}

// TariffRepository defines the interface for tariff persistence
type TariffRepository interface {
	GetByID(ctx context.Context, db DBTX, id int64) (*models.Tariff, error)
	GetByName(ctx context.Context, db DBTX, name string) (*models.Tariff, error)
	ListActive(ctx context.Context, db DBTX) ([]*models.Tariff, error)
	Create(ctx context.Context, tx DBTX, tariff *models.Tariff) error
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	// Create inserts the row and fills sub.ID
	Create(ctx context.Context, tx DBTX, sub *models.Subscription) error
	GetByUserID(ctx context.Context, db DBTX, userID int64) (*models.Subscription, error)
	GetByID(ctx context.Context, db DBTX, id int64) (*models.Subscription, error)
	ListActive(ctx context.Context, db DBTX) ([]*models.Subscription, error)
	// Update applies a partial update; nil fields are left untouched
	Update(ctx context.Context, tx DBTX, id int64, upd models.SubscriptionUpdate) error
	IncrementPayments(ctx context.Context, tx DBTX, id int64) error
}

// ReferralRepository defines the interface for referral persistence
type ReferralRepository interface {
	// Create inserts the row with the default bonus and fills ref.ID
	Create(ctx context.Context, tx DBTX, referrerID, referredID int64) (*models.Referral, error)
	GetByReferredID(ctx context.Context, db DBTX, referredID int64) (*models.Referral, error)
	ListByReferrerID(ctx context.Context, db DBTX, referrerID int64) ([]*models.Referral, error)
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *models.Payment) error
	GetByID(ctx context.Context, db DBTX, id string) (*models.Payment, error)
	GetByPayload(ctx context.Context, db DBTX, payload string) (*models.Payment, error)
	// UpdateStatus finalizes a payment as a compare-and-set on the PENDING
	// state: of two concurrent deliveries only one wins, the other gets
	// PAYMENT_ALREADY_PROCESSED.
	UpdateStatus(ctx context.Context, tx DBTX, id string, status models.PaymentStatus,
		externalChargeID, providerChargeID string, completedAt time.Time) error
}

// JobRepository is the durable one-shot timer store backing the scheduler.
// Scheduling calls run inside the same transaction as the subscription
// mutation they project, so jobs and subscription state commit atomically.
type JobRepository interface {
	// Insert fails if the job id already exists
	Insert(ctx context.Context, tx DBTX, job *models.Job) error
	// Replace removes any job with the same id, then inserts
	Replace(ctx context.Context, tx DBTX, job *models.Job) error
	Get(ctx context.Context, db DBTX, id string) (*models.Job, error)
	Delete(ctx context.Context, tx DBTX, id string) error
	ListDue(ctx context.Context, db DBTX, now time.Time, limit int32) ([]*models.Job, error)
	NextRunAt(ctx context.Context, db DBTX) (*time.Time, error)
	CountPending(ctx context.Context, db DBTX) (int64, error)
}

// MarshalJobArgs encodes handler arguments for storage.
func MarshalJobArgs(args models.JobArgs) json.RawMessage {
	b, _ := json.Marshal(args)
	return b
}
