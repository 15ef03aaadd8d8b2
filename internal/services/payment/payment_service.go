package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/timeutil"
)

// Service implements ports.PaymentService. Both payment commits run in their
// own transaction, never the caller's: a PENDING invoice must survive a
// handler crash so the provider callback can still be matched, and a SUCCESS
// mark must survive a failed provisioning that follows it.
type Service struct {
	db       ports.DBPort
	tariffs  ports.TariffRepository
	subs     ports.SubscriptionRepository
	payments ports.PaymentRepository
	subSvc   ports.SubscriptionService
	logger   ports.Logger

	now func() time.Time
}

// NewService creates a new payment service
func NewService(
	db ports.DBPort,
	tariffs ports.TariffRepository,
	subs ports.SubscriptionRepository,
	payments ports.PaymentRepository,
	subSvc ports.SubscriptionService,
	logger ports.Logger,
) *Service {
	return &Service{
		db:       db,
		tariffs:  tariffs,
		subs:     subs,
		payments: payments,
		subSvc:   subSvc,
		logger:   logger,
		now:      timeutil.Now,
	}
}

// CreateInvoice records a PENDING payment and returns what the chat layer
// needs to issue the payment request.
func (s *Service) CreateInvoice(ctx context.Context, userID, tariffID int64) (*ports.Invoice, error) {
	tariff, err := s.tariffs.GetByID(ctx, nil, tariffID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePaymentService, "load tariff", err)
	}
	if tariff == nil {
		return nil, domain.Errorf(domain.ErrorCodeTariffNotFound, "tariff %d not found", tariffID)
	}

	payment := &models.Payment{
		ID:             uuid.New().String(),
		UserID:         userID,
		TariffID:       tariffID,
		Amount:         tariff.Price,
		Status:         models.PaymentStatusPending,
		InvoicePayload: fmt.Sprintf("%d_%d_%d", userID, tariffID, s.now().Unix()),
	}

	// Committed on its own so the invoice record outlives any failure in
	// the surrounding handler
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.payments.Create(ctx, tx, payment)
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePaymentService, "create payment", err)
	}

	s.logger.Info("invoice created",
		ports.String("payment_id", payment.ID),
		ports.Int64("user_id", userID),
		ports.String("amount", tariff.Price.String()))

	return &ports.Invoice{
		PaymentID:    payment.ID,
		Payload:      payment.InvoicePayload,
		Amount:       tariff.Price,
		DurationDays: tariff.DurationDays,
		Label:        fmt.Sprintf("%d дн. — %s₽", tariff.DurationDays, tariff.Price.String()),
	}, nil
}

// ProcessSuccess finalizes a provider callback: the payment is marked SUCCESS
// in an isolated commit first, then the subscription is provisioned. Double
// delivery is rejected, never extended twice.
func (s *Service) ProcessSuccess(ctx context.Context, paymentID, externalChargeID, providerChargeID string) (*ports.PaymentResult, error) {
	payment, err := s.payments.GetByID(ctx, nil, paymentID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePaymentService, "load payment", err)
	}
	if payment == nil {
		return nil, domain.Errorf(domain.ErrorCodePaymentNotFound, "payment %s not found", paymentID)
	}
	if payment.Status == models.PaymentStatusSuccess {
		observability.RecordPayment("duplicate", "")
		return nil, domain.Errorf(domain.ErrorCodePaymentProcessed, "payment %s already processed", paymentID)
	}

	// Whether this is a first subscription is decided before provisioning
	existing, err := s.subs.GetByUserID(ctx, nil, payment.UserID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePaymentService, "load subscription", err)
	}
	action := "created"
	if existing != nil {
		action = "extended"
	}

	completedAt := s.now()
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusSuccess,
			externalChargeID, providerChargeID, completedAt)
	})
	if err != nil {
		// The mark is a compare-and-set on PENDING: a concurrent delivery
		// that read PENDING alongside us loses here, before any provisioning
		if domain.IsDomainError(err, domain.ErrorCodePaymentProcessed) {
			observability.RecordPayment("duplicate", "")
			return nil, err
		}
		observability.RecordPayment("failed", action)
		return nil, domain.WrapError(domain.ErrorCodePaymentService, "mark payment success", err)
	}

	sub, vpnKey, err := s.subSvc.CreateOrExtend(ctx, payment.UserID, payment.TariffID)
	if err != nil {
		// The payment is committed SUCCESS; provisioning is recoverable
		// by retrying create_or_extend, never by reversing the payment
		s.logger.Error("provisioning after successful payment failed",
			ports.String("payment_id", payment.ID),
			ports.Int64("user_id", payment.UserID),
			ports.Err(err))
		observability.RecordPayment("failed", action)
		return nil, err
	}

	tariff, err := s.tariffs.GetByID(ctx, nil, payment.TariffID)
	if err == nil && tariff != nil {
		amount, _ := payment.Amount.Float64()
		observability.RecordRevenue(tariff.Name, amount)
	}
	observability.RecordPayment("success", action)

	s.logger.Info("payment processed",
		ports.String("payment_id", payment.ID),
		ports.Int64("user_id", payment.UserID),
		ports.String("action", action))

	return &ports.PaymentResult{
		Action:  action,
		EndDate: sub.EndDate,
		VPNKey:  vpnKey,
	}, nil
}

var _ ports.PaymentService = (*Service)(nil)
