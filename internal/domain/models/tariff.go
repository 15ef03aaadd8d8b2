package models

import "github.com/shopspring/decimal"

// TrialTariffName is the reserved tariff name used for the free trial period
// and as the base plan for referral bonuses.
const TrialTariffName = "trial"

// Tariff is a named plan: a price and a duration in days.
type Tariff struct {
	ID           int64
	Name         string
	DurationDays int
	Price        decimal.Decimal
	IsActive     bool
}
