package referral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/test/mocks"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.User, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByReferralCode(ctx context.Context, db ports.DBTX, code string) (*models.User, error) {
	args := m.Called(ctx, db, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, tx ports.DBTX, user *models.User) error {
	args := m.Called(ctx, tx, user)
	return args.Error(0)
}

func (m *MockUserRepository) MarkTrialUsed(ctx context.Context, tx ports.DBTX, userID int64) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

type MockReferralRepository struct {
	mock.Mock
}

func (m *MockReferralRepository) Create(ctx context.Context, tx ports.DBTX, referrerID, referredID int64) (*models.Referral, error) {
	args := m.Called(ctx, tx, referrerID, referredID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Referral), args.Error(1)
}

func (m *MockReferralRepository) GetByReferredID(ctx context.Context, db ports.DBTX, referredID int64) (*models.Referral, error) {
	args := m.Called(ctx, db, referredID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Referral), args.Error(1)
}

func (m *MockReferralRepository) ListByReferrerID(ctx context.Context, db ports.DBTX, referrerID int64) ([]*models.Referral, error) {
	args := m.Called(ctx, db, referrerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Referral), args.Error(1)
}

func TestInfo(t *testing.T) {
	users := new(MockUserRepository)
	referrals := new(MockReferralRepository)
	svc := NewService(users, referrals, mocks.MockLogger{})

	me := &models.User{ID: 1, Username: "alice", ReferralCode: "a1b2c3d4"}
	users.On("GetByID", mock.Anything, nil, int64(1)).Return(me, nil)
	referrals.On("ListByReferrerID", mock.Anything, nil, int64(1)).Return([]*models.Referral{
		{ID: 1, ReferrerID: 1, ReferredID: 2},
		{ID: 2, ReferrerID: 1, ReferredID: 3},
		{ID: 3, ReferrerID: 1, ReferredID: 4},
	}, nil)
	users.On("GetByID", mock.Anything, nil, int64(2)).
		Return(&models.User{ID: 2, Username: "bob"}, nil)
	// referred user with an empty username renders as the numeric id
	users.On("GetByID", mock.Anything, nil, int64(3)).
		Return(&models.User{ID: 3}, nil)
	// unknown user renders as the numeric id too
	users.On("GetByID", mock.Anything, nil, int64(4)).Return(nil, nil)

	info, err := svc.Info(context.Background(), 1, "my_vpn_bot")
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/my_vpn_bot?start=a1b2c3d4", info.RefLink)
	assert.Equal(t, 3, info.Total)
	assert.Equal(t, []string{"@bob", "3", "4"}, info.ReferredUsernames)
}

func TestInfoNoReferrals(t *testing.T) {
	users := new(MockUserRepository)
	referrals := new(MockReferralRepository)
	svc := NewService(users, referrals, mocks.MockLogger{})

	users.On("GetByID", mock.Anything, nil, int64(1)).
		Return(&models.User{ID: 1, ReferralCode: "a1b2c3d4"}, nil)
	referrals.On("ListByReferrerID", mock.Anything, nil, int64(1)).
		Return([]*models.Referral{}, nil)

	info, err := svc.Info(context.Background(), 1, "my_vpn_bot")
	require.NoError(t, err)
	assert.Zero(t, info.Total)
	assert.Empty(t, info.ReferredUsernames)
}

func TestInfoUnknownUser(t *testing.T) {
	users := new(MockUserRepository)
	referrals := new(MockReferralRepository)
	svc := NewService(users, referrals, mocks.MockLogger{})

	users.On("GetByID", mock.Anything, nil, int64(1)).Return(nil, nil)

	_, err := svc.Info(context.Background(), 1, "my_vpn_bot")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeUserNotFound))
}
