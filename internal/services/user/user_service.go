package user

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

const (
	// referral codes are 8 URL-safe characters, 6 random bytes base64url-encoded
	referralCodeBytes = 6

	// codeMintAttempts bounds retries on a uniqueness collision
	codeMintAttempts = 5
)

// Service implements ports.UserService
type Service struct {
	db        ports.DBPort
	users     ports.UserRepository
	subs      ports.SubscriptionRepository
	referrals ports.ReferralRepository
	subSvc    ports.SubscriptionService
	logger    ports.Logger
}

// NewService creates a new user service
func NewService(
	db ports.DBPort,
	users ports.UserRepository,
	subs ports.SubscriptionRepository,
	referrals ports.ReferralRepository,
	subSvc ports.SubscriptionService,
	logger ports.Logger,
) *Service {
	return &Service{
		db:        db,
		users:     users,
		subs:      subs,
		referrals: referrals,
		subSvc:    subSvc,
		logger:    logger,
	}
}

// Start registers the user if unknown and applies an inbound referral code.
// Registration is idempotent: a repeated /start is a plain lookup.
func (s *Service) Start(ctx context.Context, userID int64, username, refCode string) (*ports.StartResult, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeUserService, "load user", err)
	}

	if user == nil {
		user, err = s.register(ctx, userID, username)
		if err != nil {
			return nil, err
		}
	}

	bonusApplied := false
	if refCode != "" {
		if err := s.applyReferral(ctx, userID, refCode); err != nil {
			return nil, err
		}
		bonusApplied = true
	}

	return &ports.StartResult{User: user, BonusApplied: bonusApplied}, nil
}

func (s *Service) register(ctx context.Context, userID int64, username string) (*models.User, error) {
	if username == "" {
		// Chat profiles without a username fall back to the numeric id
		username = strconv.FormatInt(userID, 10)
	}

	code, err := s.mintReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           userID,
		Username:     username,
		ReferralCode: code,
	}
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.users.Create(ctx, tx, user)
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeUserService, "create user", err)
	}

	s.logger.Info("user registered",
		ports.Int64("user_id", userID),
		ports.String("username", username))
	return user, nil
}

// mintReferralCode draws random codes until one is free, bounded by
// codeMintAttempts.
func (s *Service) mintReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < codeMintAttempts; attempt++ {
		buf := make([]byte, referralCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", domain.WrapError(domain.ErrorCodeUserService, "read random bytes", err)
		}
		code := base64.RawURLEncoding.EncodeToString(buf)

		existing, err := s.users.GetByReferralCode(ctx, nil, code)
		if err != nil {
			return "", domain.WrapError(domain.ErrorCodeUserService, "check referral code", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", domain.NewDomainError(domain.ErrorCodeReferralCodeGeneration,
		"could not mint a unique referral code")
}

// applyReferral links the new user to the referrer and triggers the mutual
// bonus. Users who already hold a subscription cannot be referred.
func (s *Service) applyReferral(ctx context.Context, userID int64, refCode string) error {
	sub, err := s.subs.GetByUserID(ctx, nil, userID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeUserService, "load subscription", err)
	}
	if sub != nil {
		return domain.Errorf(domain.ErrorCodeSubscriptionExists, "user %d already has a subscription", userID)
	}

	referrer, err := s.users.GetByReferralCode(ctx, nil, refCode)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeUserService, "look up referrer", err)
	}
	if referrer == nil || referrer.ID == userID {
		return domain.NewDomainError(domain.ErrorCodeSelfReferral, "referral code cannot be applied")
	}

	existing, err := s.referrals.GetByReferredID(ctx, nil, userID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeUserService, "check referral", err)
	}
	if existing != nil {
		return domain.Errorf(domain.ErrorCodeReferralExists, "user %d was already referred", userID)
	}

	var referral *models.Referral
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		referral, err = s.referrals.Create(ctx, tx, referrer.ID, userID)
		return err
	})
	if err != nil {
		return domain.WrapError(domain.ErrorCodeUserService, "create referral", err)
	}

	if err := s.subSvc.ApplyReferralBonus(ctx, referral); err != nil {
		return err
	}

	s.logger.Info("referral applied",
		ports.Int64("referrer_id", referrer.ID),
		ports.Int64("referred_id", userID))
	return nil
}

var _ ports.UserService = (*Service)(nil)
