package postgres

import (
	"context"
	"fmt"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// ReferralRepository implements ports.ReferralRepository
type ReferralRepository struct {
	db ports.DBPort
}

// NewReferralRepository creates a new referral repository
func NewReferralRepository(db ports.DBPort) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const referralColumns = `id, referrer_id, referred_id, bonus_days, created_at`

func (r *ReferralRepository) scanReferral(row interface{ Scan(dest ...any) error }) (*models.Referral, error) {
	var ref models.Referral
	err := row.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredID, &ref.BonusDays, &ref.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral: %w", err)
	}
	return &ref, nil
}

// Create inserts the referral link with the default bonus. The referred_id
// unique constraint backs the one-referral-per-user rule, so a concurrent
// second /start that slipped past the service's lookup surfaces as
// REFERRAL_ALREADY_EXISTS instead of a bare constraint error.
func (r *ReferralRepository) Create(ctx context.Context, tx ports.DBTX, referrerID, referredID int64) (*models.Referral, error) {
	ref := &models.Referral{
		ReferrerID: referrerID,
		ReferredID: referredID,
		BonusDays:  models.DefaultReferralBonusDays,
	}
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO referrals (referrer_id, referred_id)
		 VALUES ($1, $2)
		 RETURNING id, bonus_days, created_at`,
		referrerID, referredID,
	).Scan(&ref.ID, &ref.BonusDays, &ref.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Errorf(domain.ErrorCodeReferralExists, "user %d is already referred", referredID)
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}
	return ref, nil
}

// GetByReferredID retrieves the referral that brought the given user in
func (r *ReferralRepository) GetByReferredID(ctx context.Context, db ports.DBTX, referredID int64) (*models.Referral, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referred_id = $1`, referredID)
	return r.scanReferral(row)
}

// ListByReferrerID lists all referrals made by the given user
func (r *ReferralRepository) ListByReferrerID(ctx context.Context, db ports.DBTX, referrerID int64) ([]*models.Referral, error) {
	rows, err := r.q(db).Query(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY created_at`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var refs []*models.Referral
	for rows.Next() {
		ref, err := r.scanReferral(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
