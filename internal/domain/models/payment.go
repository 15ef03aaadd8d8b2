package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusCanceled PaymentStatus = "CANCELED"
)

// Payment is the durable record of an invoice issued to a user. It is
// inserted PENDING before the invoice is shown to the user and marked SUCCESS
// when the provider callback arrives, so an accepted external payment can
// always be matched even if the surrounding handler failed.
type Payment struct {
	ID               string
	UserID           int64
	TariffID         int64
	Amount           decimal.Decimal
	Status           PaymentStatus
	InvoicePayload   string
	ExternalChargeID string
	ProviderChargeID string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}
