package postgres

import (
	"context"
	"fmt"

	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const subscriptionColumns = `id, user_id, tariff_id, vpn_key, vpn_key_id, end_date,
	is_active, cnt_payments, created_at, updated_at`

func (r *SubscriptionRepository) scanSubscription(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.TariffID, &s.VPNKey, &s.VPNKeyID, &s.EndDate,
		&s.IsActive, &s.CntPayments, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	s.EndDate = s.EndDate.UTC()
	return &s, nil
}

// Create inserts the row and fills sub.ID
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, tariff_id, vpn_key, vpn_key_id, end_date, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		sub.UserID, sub.TariffID, sub.VPNKey, sub.VPNKeyID, sub.EndDate, sub.IsActive,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByUserID retrieves the user's subscription; each user has at most one
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, db ports.DBTX, userID int64) (*models.Subscription, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return r.scanSubscription(row)
}

// GetByID retrieves a subscription by primary key
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.Subscription, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return r.scanSubscription(row)
}

// ListActive lists all currently active subscriptions
func (r *SubscriptionRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*models.Subscription, error) {
	rows, err := r.q(db).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		s, err := r.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Update applies a partial update; nil fields are left untouched
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, id int64, upd models.SubscriptionUpdate) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE subscriptions SET
			vpn_key    = COALESCE($2, vpn_key),
			vpn_key_id = COALESCE($3, vpn_key_id),
			end_date   = COALESCE($4, end_date),
			is_active  = COALESCE($5, is_active),
			updated_at = (now() AT TIME ZONE 'utc')
		 WHERE id = $1`,
		id, upd.VPNKey, upd.VPNKeyID, upd.EndDate, upd.IsActive)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update subscription: id %d not found", id)
	}
	return nil
}

// IncrementPayments bumps the paid-extension counter
func (r *SubscriptionRepository) IncrementPayments(ctx context.Context, tx ports.DBTX, id int64) error {
	_, err := r.q(tx).Exec(ctx,
		`UPDATE subscriptions SET cnt_payments = cnt_payments + 1,
			updated_at = (now() AT TIME ZONE 'utc')
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment payments: %w", err)
	}
	return nil
}
