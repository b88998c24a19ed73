// README: Rate sources; static config rates or the fare_rates table in PostgreSQL.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RateSource interface {
	Rates(ctx context.Context) (Rates, error)
}

type StaticRates Rates

func (r StaticRates) Rates(context.Context) (Rates, error) {
	return Rates(r), nil
}

// PostgresRates reads the newest effective row for a region and falls back
// to the configured rates when none exists.
type PostgresRates struct {
	db       *pgxpool.Pool
	region   string
	fallback Rates
}

func NewPostgresRates(db *pgxpool.Pool, region string, fallback Rates) *PostgresRates {
	return &PostgresRates{db: db, region: region, fallback: fallback}
}

func (s *PostgresRates) Rates(ctx context.Context) (Rates, error) {
	row := s.db.QueryRow(ctx, `
		SELECT base_fare, per_km, per_minute, minimum_fare, tolls, currency
		FROM fare_rates
		WHERE region = $1 AND effective_from <= NOW()
		ORDER BY effective_from DESC
		LIMIT 1`, s.region,
	)

	var r Rates
	err := row.Scan(&r.BaseFare, &r.PerKm, &r.PerMinute, &r.MinimumFare, &r.Tolls, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return Rates{}, fmt.Errorf("load fare rates for %s: %w", s.region, err)
	}
	return r, nil
}
