package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/test/mocks"
)

type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
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
	args := m.Called(ctx, tx, tariff)
	return args.Error(0)
}

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByUserID(ctx context.Context, db ports.DBTX, userID int64) (*models.Subscription, error) {
	args := m.Called(ctx, db, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.Subscription, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*models.Subscription, error) {
	args := m.Called(ctx, db)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, id int64, upd models.SubscriptionUpdate) error {
	args := m.Called(ctx, tx, id, upd)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) IncrementPayments(ctx context.Context, tx ports.DBTX, id int64) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	args := m.Called(ctx, tx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Payment, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByPayload(ctx context.Context, db ports.DBTX, payload string) (*models.Payment, error) {
	args := m.Called(ctx, db, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id string, status models.PaymentStatus,
	externalChargeID, providerChargeID string, completedAt time.Time) error {
	args := m.Called(ctx, tx, id, status, externalChargeID, providerChargeID, completedAt)
	return args.Error(0)
}

type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) CreateOrExtend(ctx context.Context, userID, tariffID int64) (*models.Subscription, string, error) {
	args := m.Called(ctx, userID, tariffID)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.String(1), args.Error(2)
}

func (m *MockSubscriptionService) Deactivate(ctx context.Context, subID int64) error {
	args := m.Called(ctx, subID)
	return args.Error(0)
}

func (m *MockSubscriptionService) Notify(ctx context.Context, subID int64) error {
	args := m.Called(ctx, subID)
	return args.Error(0)
}

func (m *MockSubscriptionService) ActivateTrial(ctx context.Context, userID int64) (*models.Subscription, string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.String(1), args.Error(2)
}

func (m *MockSubscriptionService) ApplyReferralBonus(ctx context.Context, referral *models.Referral) error {
	args := m.Called(ctx, referral)
	return args.Error(0)
}

func (m *MockSubscriptionService) Info(ctx context.Context, userID int64) (*ports.SubscriptionInfo, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.SubscriptionInfo), args.Error(1)
}

type fixture struct {
	db       *MockDBPort
	tariffs  *MockTariffRepository
	subs     *MockSubscriptionRepository
	payments *MockPaymentRepository
	subSvc   *MockSubscriptionService
	svc      *Service
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		db:       new(MockDBPort),
		tariffs:  new(MockTariffRepository),
		subs:     new(MockSubscriptionRepository),
		payments: new(MockPaymentRepository),
		subSvc:   new(MockSubscriptionService),
	}
	f.svc = NewService(f.db, f.tariffs, f.subs, f.payments, f.subSvc, mocks.MockLogger{})
	f.svc.now = func() time.Time { return now }
	return f
}

var (
	t0        = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	monthPlan = &models.Tariff{ID: 2, Name: "month", DurationDays: 30, Price: decimal.NewFromInt(199)}
)

func TestCreateInvoice(t *testing.T) {
	f := newFixture(t0)

	f.tariffs.On("GetByID", mock.Anything, nil, monthPlan.ID).Return(monthPlan, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)

	wantPayload := fmt.Sprintf("42_2_%d", t0.Unix())
	f.payments.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.UserID == 42 && p.TariffID == 2 &&
			p.Status == models.PaymentStatusPending &&
			p.InvoicePayload == wantPayload &&
			p.Amount.Equal(monthPlan.Price)
	})).Return(nil)

	inv, err := f.svc.CreateInvoice(context.Background(), 42, monthPlan.ID)
	require.NoError(t, err)
	assert.Equal(t, wantPayload, inv.Payload)
	assert.Equal(t, 30, inv.DurationDays)
	assert.Equal(t, "30 дн. — 199₽", inv.Label)
	_, err = uuid.Parse(inv.PaymentID)
	assert.NoError(t, err)
	f.payments.AssertExpectations(t)
}

func TestCreateInvoiceUnknownTariff(t *testing.T) {
	f := newFixture(t0)
	f.tariffs.On("GetByID", mock.Anything, nil, int64(99)).Return(nil, nil)

	_, err := f.svc.CreateInvoice(context.Background(), 42, 99)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTariffNotFound))
}

// The PENDING row is committed in its own transaction, so it exists even if
// the surrounding handler dies before the invoice reaches the user.
func TestCreateInvoiceCommitsInIsolatedTransaction(t *testing.T) {
	f := newFixture(t0)

	f.tariffs.On("GetByID", mock.Anything, nil, monthPlan.ID).Return(monthPlan, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil).Once()
	f.payments.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.CreateInvoice(context.Background(), 42, monthPlan.ID)
	require.NoError(t, err)
	f.db.AssertNumberOfCalls(t, "WithTransaction", 1)
}

func TestProcessSuccessFirstSubscription(t *testing.T) {
	f := newFixture(t0)

	pending := &models.Payment{
		ID: uuid.NewString(), UserID: 42, TariffID: monthPlan.ID,
		Amount: monthPlan.Price, Status: models.PaymentStatusPending,
	}
	f.payments.On("GetByID", mock.Anything, nil, pending.ID).Return(pending, nil)
	f.subs.On("GetByUserID", mock.Anything, nil, int64(42)).Return(nil, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("UpdateStatus", mock.Anything, mock.Anything, pending.ID,
		models.PaymentStatusSuccess, "ext-1", "prov-1", t0).Return(nil)

	end := t0.Add(30 * 24 * time.Hour)
	f.subSvc.On("CreateOrExtend", mock.Anything, int64(42), monthPlan.ID).
		Return(&models.Subscription{ID: 10, UserID: 42, EndDate: end, IsActive: true}, "ss://k@h:1", nil)
	f.tariffs.On("GetByID", mock.Anything, nil, monthPlan.ID).Return(monthPlan, nil)

	result, err := f.svc.ProcessSuccess(context.Background(), pending.ID, "ext-1", "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "created", result.Action)
	assert.Equal(t, end, result.EndDate)
	assert.Equal(t, "ss://k@h:1", result.VPNKey)
	f.payments.AssertExpectations(t)
}

func TestProcessSuccessExtension(t *testing.T) {
	f := newFixture(t0)

	pending := &models.Payment{
		ID: uuid.NewString(), UserID: 42, TariffID: monthPlan.ID,
		Amount: monthPlan.Price, Status: models.PaymentStatusPending,
	}
	f.payments.On("GetByID", mock.Anything, nil, pending.ID).Return(pending, nil)
	f.subs.On("GetByUserID", mock.Anything, nil, int64(42)).
		Return(&models.Subscription{ID: 10, UserID: 42, IsActive: true, EndDate: t0.Add(time.Hour)}, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("UpdateStatus", mock.Anything, mock.Anything, pending.ID,
		models.PaymentStatusSuccess, "ext-1", "prov-1", t0).Return(nil)
	f.subSvc.On("CreateOrExtend", mock.Anything, int64(42), monthPlan.ID).
		Return(&models.Subscription{ID: 10, UserID: 42, EndDate: t0.Add(31 * 24 * time.Hour), IsActive: true}, "ss://k@h:1", nil)
	f.tariffs.On("GetByID", mock.Anything, nil, monthPlan.ID).Return(monthPlan, nil)

	result, err := f.svc.ProcessSuccess(context.Background(), pending.ID, "ext-1", "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "extended", result.Action)
}

func TestProcessSuccessUnknownPayment(t *testing.T) {
	f := newFixture(t0)
	f.payments.On("GetByID", mock.Anything, nil, "nope").Return(nil, nil)

	_, err := f.svc.ProcessSuccess(context.Background(), "nope", "e", "p")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodePaymentNotFound))
}

// Double delivery of the provider callback is rejected, never extended twice
func TestProcessSuccessDoubleDeliveryRejected(t *testing.T) {
	f := newFixture(t0)

	done := &models.Payment{
		ID: uuid.NewString(), UserID: 42, TariffID: monthPlan.ID,
		Status: models.PaymentStatusSuccess,
	}
	f.payments.On("GetByID", mock.Anything, nil, done.ID).Return(done, nil)

	_, err := f.svc.ProcessSuccess(context.Background(), done.ID, "ext-1", "prov-1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodePaymentProcessed))
	f.subSvc.AssertNotCalled(t, "CreateOrExtend", mock.Anything, mock.Anything, mock.Anything)
}

// Two deliveries can both read PENDING before either commits. The mark is a
// compare-and-set, so the slower one loses at the store and must not reach
// provisioning.
func TestProcessSuccessConcurrentDeliveryLosesRace(t *testing.T) {
	f := newFixture(t0)

	pending := &models.Payment{
		ID: uuid.NewString(), UserID: 42, TariffID: monthPlan.ID,
		Status: models.PaymentStatusPending,
	}
	f.payments.On("GetByID", mock.Anything, nil, pending.ID).Return(pending, nil)
	f.subs.On("GetByUserID", mock.Anything, nil, int64(42)).Return(nil, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("UpdateStatus", mock.Anything, mock.Anything, pending.ID,
		models.PaymentStatusSuccess, "ext-1", "prov-1", t0).
		Return(domain.Errorf(domain.ErrorCodePaymentProcessed, "payment %s already finalized", pending.ID))

	_, err := f.svc.ProcessSuccess(context.Background(), pending.ID, "ext-1", "prov-1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodePaymentProcessed))
	f.subSvc.AssertNotCalled(t, "CreateOrExtend", mock.Anything, mock.Anything, mock.Anything)
}

// The SUCCESS mark is committed before provisioning; a provisioning failure
// surfaces but never reverses the payment.
func TestProcessSuccessSurvivesProvisioningFailure(t *testing.T) {
	f := newFixture(t0)

	pending := &models.Payment{
		ID: uuid.NewString(), UserID: 42, TariffID: monthPlan.ID,
		Status: models.PaymentStatusPending,
	}
	f.payments.On("GetByID", mock.Anything, nil, pending.ID).Return(pending, nil)
	f.subs.On("GetByUserID", mock.Anything, nil, int64(42)).Return(nil, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("UpdateStatus", mock.Anything, mock.Anything, pending.ID,
		models.PaymentStatusSuccess, "ext-1", "prov-1", t0).Return(nil)
	f.subSvc.On("CreateOrExtend", mock.Anything, int64(42), monthPlan.ID).
		Return(nil, "", assert.AnError)

	_, err := f.svc.ProcessSuccess(context.Background(), pending.ID, "ext-1", "prov-1")
	require.Error(t, err)
	// the payment was marked SUCCESS before the failure
	f.payments.AssertCalled(t, "UpdateStatus", mock.Anything, mock.Anything, pending.ID,
		models.PaymentStatusSuccess, "ext-1", "prov-1", t0)
}
