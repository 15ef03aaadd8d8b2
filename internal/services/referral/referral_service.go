package referral

import (
	"context"
	"fmt"
	"strconv"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// Service implements ports.ReferralService
type Service struct {
	users     ports.UserRepository
	referrals ports.ReferralRepository
	logger    ports.Logger
}

// NewService creates a new referral service
func NewService(users ports.UserRepository, referrals ports.ReferralRepository, logger ports.Logger) *Service {
	return &Service{
		users:     users,
		referrals: referrals,
		logger:    logger,
	}
}

// Info returns the user's personal invite link and who joined through it.
// Referred users without a resolvable profile render as their numeric id.
func (s *Service) Info(ctx context.Context, userID int64, botUsername string) (*ports.ReferralInfo, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeReferralService, "load user", err)
	}
	if user == nil {
		return nil, domain.Errorf(domain.ErrorCodeUserNotFound, "user %d not found", userID)
	}

	refs, err := s.referrals.ListByReferrerID(ctx, nil, userID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeReferralService, "list referrals", err)
	}

	usernames := make([]string, 0, len(refs))
	for _, ref := range refs {
		referred, err := s.users.GetByID(ctx, nil, ref.ReferredID)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeReferralService, "load referred user", err)
		}
		switch {
		case referred == nil || referred.Username == "":
			usernames = append(usernames, strconv.FormatInt(ref.ReferredID, 10))
		default:
			usernames = append(usernames, "@"+referred.Username)
		}
	}

	return &ports.ReferralInfo{
		RefLink:           fmt.Sprintf("https://t.me/%s?start=%s", botUsername, user.ReferralCode),
		Total:             len(refs),
		ReferredUsernames: usernames,
	}, nil
}

var _ ports.ReferralService = (*Service)(nil)
