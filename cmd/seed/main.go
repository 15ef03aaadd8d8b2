package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outline-bot/subscription-service/internal/config"
	"github.com/outline-bot/subscription-service/internal/domain/models"
)

// seedTariff is one plan the service should offer out of the box
type seedTariff struct {
	name         string
	durationDays int
	price        decimal.Decimal
	isActive     bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	// The trial plan is looked up by its reserved name, so it must exist
	// before the first /start. Paid plans are the default storefront.
	tariffs := []seedTariff{
		{name: models.TrialTariffName, durationDays: 7, price: decimal.Zero, isActive: true},
		{name: "month", durationDays: 30, price: decimal.NewFromInt(199), isActive: true},
		{name: "quarter", durationDays: 90, price: decimal.NewFromInt(499), isActive: true},
		{name: "year", durationDays: 365, price: decimal.NewFromInt(1599), isActive: true},
	}

	for _, t := range tariffs {
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO tariffs (name, duration_days, price, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				duration_days = EXCLUDED.duration_days,
				price = EXCLUDED.price,
				is_active = EXCLUDED.is_active
			RETURNING id
		`, t.name, t.durationDays, t.price.StringFixed(2), t.isActive).Scan(&id)
		if err != nil {
			log.Fatalf("failed to seed tariff %q: %v", t.name, err)
		}
		log.Printf("seeded tariff %q (id=%d, %d days, %s)", t.name, id, t.durationDays, t.price.StringFixed(2))
	}

	log.Println("seed completed")
}
