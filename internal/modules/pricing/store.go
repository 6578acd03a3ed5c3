// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRateNotFound = errors.New("pricing rate not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, vehicleType string) (Rate, error) {
	var r Rate
	err := s.db.QueryRow(ctx, `
		SELECT vehicle_type, base_fare, per_km, per_min, currency
		FROM pricing_rates
		WHERE vehicle_type = $1`, vehicleType,
	).Scan(&r.VehicleType, &r.BaseFare, &r.PerKm, &r.PerMin, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}
