package postgres

import (
	"context"
	"fmt"

	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// UserRepository implements ports.UserRepository with raw pgx queries
type UserRepository struct {
	db ports.DBPort
}

// NewUserRepository creates a new user repository
func NewUserRepository(db ports.DBPort) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const userColumns = `id, username, referral_code, trial_used, is_admin, created_at`

func (r *UserRepository) scanUser(row interface{ Scan(dest ...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.ReferralCode, &u.TrialUsed, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetByID retrieves a user by the external chat-platform id
func (r *UserRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.User, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.scanUser(row)
}

// GetByReferralCode retrieves a user by referral code
func (r *UserRepository) GetByReferralCode(ctx context.Context, db ports.DBTX, code string) (*models.User, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
	return r.scanUser(row)
}

// Create inserts a new user row
func (r *UserRepository) Create(ctx context.Context, tx ports.DBTX, user *models.User) error {
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO users (id, username, referral_code)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		user.ID, user.Username, user.ReferralCode,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// MarkTrialUsed flips trial_used to true; the flag is monotonic
func (r *UserRepository) MarkTrialUsed(ctx context.Context, tx ports.DBTX, userID int64) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE users SET trial_used = TRUE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark trial used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark trial used: user %d not found", userID)
	}
	return nil
}
