package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// PaymentRepository implements ports.PaymentRepository
type PaymentRepository struct {
	db ports.DBPort
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const paymentColumns = `id, user_id, tariff_id, amount, status, invoice_payload,
	external_charge_id, provider_charge_id, created_at, completed_at`

func (r *PaymentRepository) scanPayment(row interface{ Scan(dest ...any) error }) (*models.Payment, error) {
	var (
		p        models.Payment
		id       uuid.UUID
		amount   pgtype.Numeric
		extID    pgtype.Text
		provID   pgtype.Text
		doneAt   pgtype.Timestamptz
	)
	err := row.Scan(&id, &p.UserID, &p.TariffID, &amount, &p.Status, &p.InvoicePayload,
		&extID, &provID, &p.CreatedAt, &doneAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.ID = id.String()
	p.Amount, err = pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	p.ExternalChargeID = textOrEmpty(extID)
	p.ProviderChargeID = textOrEmpty(provID)
	if doneAt.Valid {
		t := doneAt.Time.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

// Create inserts a PENDING payment row
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	id, err := uuid.Parse(payment.ID)
	if err != nil {
		return fmt.Errorf("invalid payment ID: %w", err)
	}
	amount, err := decimalToPgNumeric(payment.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}
	err = r.q(tx).QueryRow(ctx,
		`INSERT INTO payments (id, user_id, tariff_id, amount, status, invoice_payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		id, payment.UserID, payment.TariffID, amount, payment.Status, payment.InvoicePayload,
	).Scan(&payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by id
func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Payment, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid payment ID: %w", err)
	}
	row := r.q(db).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, pid)
	return r.scanPayment(row)
}

// GetByPayload retrieves a payment by the unique invoice payload
func (r *PaymentRepository) GetByPayload(ctx context.Context, db ports.DBTX, payload string) (*models.Payment, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_payload = $1`, payload)
	return r.scanPayment(row)
}

// UpdateStatus finalizes a payment: status, both charge ids and completion
// time. The write is guarded on the PENDING state, so a second delivery that
// raced past the service's status read still loses here: zero rows affected
// means the payment was already finalized by someone else.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id string, status models.PaymentStatus,
	externalChargeID, providerChargeID string, completedAt time.Time) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid payment ID: %w", err)
	}
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE payments SET status = $2, external_charge_id = $3, provider_charge_id = $4, completed_at = $5
		 WHERE id = $1 AND status = $6`,
		pid, status, nullText(externalChargeID), nullText(providerChargeID),
		pgtype.Timestamptz{Time: completedAt, Valid: true},
		models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.ErrorCodePaymentProcessed, "payment %s already finalized", id)
	}
	return nil
}
