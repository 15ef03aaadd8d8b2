package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// TariffRepository implements ports.TariffRepository
type TariffRepository struct {
	db ports.DBPort
}

// NewTariffRepository creates a new tariff repository
func NewTariffRepository(db ports.DBPort) *TariffRepository {
	return &TariffRepository{db: db}
}

func (r *TariffRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const tariffColumns = `id, name, duration_days, price, is_active`

func (r *TariffRepository) scanTariff(row interface{ Scan(dest ...any) error }) (*models.Tariff, error) {
	var t models.Tariff
	var price pgtype.Numeric
	err := row.Scan(&t.ID, &t.Name, &t.DurationDays, &price, &t.IsActive)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tariff: %w", err)
	}
	t.Price, err = pgNumericToDecimal(price)
	if err != nil {
		return nil, fmt.Errorf("convert price: %w", err)
	}
	return &t, nil
}

// GetByID retrieves a tariff by id
func (r *TariffRepository) GetByID(ctx context.Context, db ports.DBTX, id int64) (*models.Tariff, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id)
	return r.scanTariff(row)
}

// GetByName retrieves a tariff by its unique name
func (r *TariffRepository) GetByName(ctx context.Context, db ports.DBTX, name string) (*models.Tariff, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+tariffColumns+` FROM tariffs WHERE name = $1`, name)
	return r.scanTariff(row)
}

// ListActive lists tariffs available for purchase
func (r *TariffRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*models.Tariff, error) {
	rows, err := r.q(db).Query(ctx,
		`SELECT `+tariffColumns+` FROM tariffs WHERE is_active ORDER BY duration_days`)
	if err != nil {
		return nil, fmt.Errorf("list active tariffs: %w", err)
	}
	defer rows.Close()

	var tariffs []*models.Tariff
	for rows.Next() {
		t, err := r.scanTariff(rows)
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, rows.Err()
}

// Create inserts a new tariff row
func (r *TariffRepository) Create(ctx context.Context, tx ports.DBTX, tariff *models.Tariff) error {
	price, err := decimalToPgNumeric(tariff.Price)
	if err != nil {
		return err
	}
	err = r.q(tx).QueryRow(ctx,
		`INSERT INTO tariffs (name, duration_days, price, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		tariff.Name, tariff.DurationDays, price, tariff.IsActive,
	).Scan(&tariff.ID)
	if err != nil {
		return fmt.Errorf("create tariff: %w", err)
	}
	return nil
}
