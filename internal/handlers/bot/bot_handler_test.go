package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Start(ctx context.Context, userID int64, username, refCode string) (*ports.StartResult, error) {
	args := m.Called(ctx, userID, username, refCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.StartResult), args.Error(1)
}

type MockReferralService struct {
	mock.Mock
}

func (m *MockReferralService) Info(ctx context.Context, userID int64, botUsername string) (*ports.ReferralInfo, error) {
	args := m.Called(ctx, userID, botUsername)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ReferralInfo), args.Error(1)
}

type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) CreateOrExtend(ctx context.Context, userID, tariffID int64) (*models.Subscription, string, error) {
	args := m.Called(ctx, userID, tariffID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.String(1), args.Error(2)
}

func (m *MockSubscriptionService) Deactivate(ctx context.Context, subID int64) error {
	return m.Called(ctx, subID).Error(0)
}

func (m *MockSubscriptionService) Notify(ctx context.Context, subID int64) error {
	return m.Called(ctx, subID).Error(0)
}

func (m *MockSubscriptionService) ActivateTrial(ctx context.Context, userID int64) (*models.Subscription, string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.String(1), args.Error(2)
}

func (m *MockSubscriptionService) ApplyReferralBonus(ctx context.Context, referral *models.Referral) error {
	return m.Called(ctx, referral).Error(0)
}

func (m *MockSubscriptionService) Info(ctx context.Context, userID int64) (*ports.SubscriptionInfo, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.SubscriptionInfo), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreateInvoice(ctx context.Context, userID, tariffID int64) (*ports.Invoice, error) {
	args := m.Called(ctx, userID, tariffID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Invoice), args.Error(1)
}

func (m *MockPaymentService) ProcessSuccess(ctx context.Context, paymentID, externalChargeID, providerChargeID string) (*ports.PaymentResult, error) {
	args := m.Called(ctx, paymentID, externalChargeID, providerChargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.PaymentResult), args.Error(1)
}

type MockTariffRepository struct {
	mock.Mock
}

func (m *MockTariffRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.Tariff, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tariff), args.Error(1)
}

func (m *MockTariffRepository) GetByName(ctx context.Context, db ports.DBTX, name string) (*models.Tariff, error) {
	args := m.Called(ctx, db, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tariff), args.Error(1)
}

func (m *MockTariffRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*models.Tariff, error) {
	args := m.Called(ctx, db)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Tariff), args.Error(1)
}

func (m *MockTariffRepository) Create(ctx context.Context, tx ports.DBTX, tariff *models.Tariff) error {
	return m.Called(ctx, tx, tariff).Error(0)
}

const testSecret = "bot-secret"

type fixture struct {
	users     *MockUserService
	referrals *MockReferralService
	subs      *MockSubscriptionService
	payments  *MockPaymentService
	tariffs   *MockTariffRepository
	handler   *Handler
}

func newFixture() *fixture {
	f := &fixture{
		users:     new(MockUserService),
		referrals: new(MockReferralService),
		subs:      new(MockSubscriptionService),
		payments:  new(MockPaymentService),
		tariffs:   new(MockTariffRepository),
	}
	f.handler = NewHandler(f.users, f.referrals, f.subs, f.payments, f.tariffs,
		"outline_vpn_bot", zap.NewNop(), resilience.TestTimeoutConfig(), testSecret)
	return f
}

func do(fn http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestHandleStart(t *testing.T) {
	f := newFixture()
	f.users.On("Start", mock.Anything, int64(42), "alice", "").
		Return(&ports.StartResult{
			User: &models.User{ID: 42, Username: "alice", ReferralCode: "c0ffee"},
		}, nil)

	rec := do(f.handler.HandleStart, http.MethodPost, "/bot/start",
		`{"user_id":42,"username":"alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.UserID)
	assert.Equal(t, "c0ffee", resp.ReferralCode)
	assert.False(t, resp.BonusApplied)
}

func TestHandleStartSelfReferralConflict(t *testing.T) {
	f := newFixture()
	f.users.On("Start", mock.Anything, int64(42), "alice", "c0ffee").
		Return(nil, domain.Errorf(domain.ErrorCodeSelfReferral, "self referral rejected"))

	rec := do(f.handler.HandleStart, http.MethodPost, "/bot/start",
		`{"user_id":42,"username":"alice","ref_code":"c0ffee"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SELF_REFERRAL", resp.Code)
}

func TestHandleStartUnauthorized(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/bot/start", strings.NewReader(`{"user_id":42}`))
	req.Header.Set("X-Cron-Secret", "wrong")
	rec := httptest.NewRecorder()
	f.handler.HandleStart(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.users.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleTrial(t *testing.T) {
	f := newFixture()
	end := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	f.subs.On("ActivateTrial", mock.Anything, int64(42)).
		Return(&models.Subscription{ID: 10, UserID: 42, EndDate: end, IsActive: true}, "ss://k@h:1", nil)

	rec := do(f.handler.HandleTrial, http.MethodPost, "/bot/trial", `{"user_id":42}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-01-08T00:00:00Z", resp.EndDate)
	assert.Equal(t, "ss://k@h:1", resp.VPNKey)
}

func TestHandleTrialAlreadyUsed(t *testing.T) {
	f := newFixture()
	f.subs.On("ActivateTrial", mock.Anything, int64(42)).
		Return(nil, "", domain.Errorf(domain.ErrorCodeTrialAlreadyUsed, "trial already used"))

	rec := do(f.handler.HandleTrial, http.MethodPost, "/bot/trial", `{"user_id":42}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSubscription(t *testing.T) {
	f := newFixture()
	end := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)
	f.subs.On("Info", mock.Anything, int64(42)).
		Return(&ports.SubscriptionInfo{EndDate: end, VPNKey: "ss://k@h:1", DeviceLimit: 3}, nil)

	rec := do(f.handler.HandleSubscription, http.MethodGet, "/bot/subscription?user_id=42", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.DeviceLimit)
	assert.Equal(t, "2025-02-07T00:00:00Z", resp.EndDate)
}

func TestHandleSubscriptionInactive(t *testing.T) {
	f := newFixture()
	f.subs.On("Info", mock.Anything, int64(42)).
		Return(nil, domain.Errorf(domain.ErrorCodeSubscriptionNotActive, "subscription inactive"))

	rec := do(f.handler.HandleSubscription, http.MethodGet, "/bot/subscription?user_id=42", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReferrals(t *testing.T) {
	f := newFixture()
	f.referrals.On("Info", mock.Anything, int64(42), "outline_vpn_bot").
		Return(&ports.ReferralInfo{
			RefLink:           "https://t.me/outline_vpn_bot?start=c0ffee",
			Total:             2,
			ReferredUsernames: []string{"@bob", "1234"},
		}, nil)

	rec := do(f.handler.HandleReferrals, http.MethodGet, "/bot/referrals?user_id=42", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReferralsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://t.me/outline_vpn_bot?start=c0ffee", resp.RefLink)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"@bob", "1234"}, resp.Usernames)
}

func TestHandleTariffs(t *testing.T) {
	f := newFixture()
	f.tariffs.On("ListActive", mock.Anything, nil).
		Return([]*models.Tariff{
			{ID: 2, Name: "month", DurationDays: 30, Price: decimal.NewFromInt(199), IsActive: true},
		}, nil)

	rec := do(f.handler.HandleTariffs, http.MethodGet, "/bot/tariffs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TariffsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tariffs, 1)
	assert.Equal(t, "month", resp.Tariffs[0].Name)
	assert.Equal(t, "199.00", resp.Tariffs[0].Price)
}

func TestHandleInvoice(t *testing.T) {
	f := newFixture()
	f.payments.On("CreateInvoice", mock.Anything, int64(42), int64(2)).
		Return(&ports.Invoice{
			PaymentID:    "11111111-2222-3333-4444-555555555555",
			Payload:      "42_2_1735689600",
			Amount:       decimal.NewFromInt(199),
			DurationDays: 30,
			Label:        "30 дн. — 199₽",
		}, nil)

	rec := do(f.handler.HandleInvoice, http.MethodPost, "/bot/invoice",
		`{"user_id":42,"tariff_id":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp InvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42_2_1735689600", resp.Payload)
	assert.Equal(t, "199.00", resp.Amount)
	assert.Equal(t, 30, resp.DurationDays)
}

func TestHandleInvoiceUnknownTariff(t *testing.T) {
	f := newFixture()
	f.payments.On("CreateInvoice", mock.Anything, int64(42), int64(99)).
		Return(nil, domain.Errorf(domain.ErrorCodeTariffNotFound, "tariff 99 not found"))

	rec := do(f.handler.HandleInvoice, http.MethodPost, "/bot/invoice",
		`{"user_id":42,"tariff_id":99}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	f := newFixture()
	rec := do(f.handler.HandleStart, http.MethodGet, "/bot/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
