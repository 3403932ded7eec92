package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

// FindFlatRate returns the flat-rate row with the latest start date on or
// before at, or nil when the region has none.
func (r *SQLRepository) FindFlatRate(ctx context.Context, fiscalRegionID string, at time.Time) (*domain.CarTaxFlatRate, error) {
	query := `
		SELECT id, fiscal_region_id, rate, start_date, end_date
		FROM car_tax_flat_rates
		WHERE fiscal_region_id = ? AND start_date <= ?
		ORDER BY start_date DESC
		LIMIT 1
	`

	var fr domain.CarTaxFlatRate
	var start time.Time
	var end sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), fiscalRegionID, day(at)).
		Scan(&fr.ID, &fr.FiscalRegionID, &fr.Rate, &start, &end)
	if err != nil {
		return nil, noRows(err)
	}
	fr.StartDate = domain.NewDate(start)
	fr.EndDate = dateFromNull(end)
	return &fr, nil
}

// FindBaseRate returns the narrowest base-rate band covering cc and hp whose
// validity window contains at.
func (r *SQLRepository) FindBaseRate(ctx context.Context, fiscalRegionID string, cc, hp int, at time.Time) (*domain.CarTaxBaseRate, error) {
	query := `
		SELECT id, fiscal_region_id, max_cc, max_fiscal_hp, rate, start_date, end_date
		FROM car_tax_base_rates
		WHERE fiscal_region_id = ?
		  AND max_cc >= ?
		  AND max_fiscal_hp >= ?
		  AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY max_cc ASC, max_fiscal_hp ASC
		LIMIT 1
	`

	d := day(at)
	var br domain.CarTaxBaseRate
	var start time.Time
	var end sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), fiscalRegionID, cc, hp, d, d).Scan(
		&br.ID, &br.FiscalRegionID, &br.MaxCc, &br.MaxFiscalHp, &br.Rate, &start, &end,
	)
	if err != nil {
		return nil, noRows(err)
	}
	br.StartDate = domain.NewDate(start)
	br.EndDate = dateFromNull(end)
	return &br, nil
}

// FindEuroNormAdjustment returns the adjustment for a euro norm group.
func (r *SQLRepository) FindEuroNormAdjustment(ctx context.Context, fiscalRegionID string, euroNormGroup int) (*domain.CarTaxEuroNormAdjustment, error) {
	query := `
		SELECT id, fiscal_region_id, euro_norm_group, default_adjustment, diesel_adjustment
		FROM car_tax_euro_norm_adjustments
		WHERE fiscal_region_id = ? AND euro_norm_group = ?
	`

	var a domain.CarTaxEuroNormAdjustment
	err := r.db.QueryRowContext(ctx, r.rebind(query), fiscalRegionID, euroNormGroup).Scan(
		&a.ID, &a.FiscalRegionID, &a.EuroNormGroup, &a.DefaultAdjustment, &a.DieselAdjustment,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return &a, nil
}

// FindMostRecentInsuranceBenchmark returns the smallest band of year whose
// boundary is above carValue. Bands re-imported with the same boundary are
// resolved to the most recent one.
func (r *SQLRepository) FindMostRecentInsuranceBenchmark(ctx context.Context, year int, carValue float64) (*domain.InsurancePriceBenchmark, error) {
	query := `
		SELECT id, year, max_car_value_exclusive, base_rate, rate, created_at
		FROM insurance_price_benchmarks
		WHERE year = ? AND max_car_value_exclusive > ?
		ORDER BY max_car_value_exclusive ASC, created_at DESC
		LIMIT 1
	`

	var b domain.InsurancePriceBenchmark
	err := r.db.QueryRowContext(ctx, r.rebind(query), year, carValue).Scan(
		&b.ID, &b.Year, &b.MaxCarValueExclusive, &b.BaseRate, &b.Rate, &b.CreatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return &b, nil
}

// FindHubBenchmark runs one pass of the closest-bracket lookup for a hub.
func (r *SQLRepository) FindHubBenchmark(ctx context.Context, hubID string, q domain.HubBenchmarkQuery) (*domain.HubBenchmark, error) {
	query := `
		SELECT id, hub_id, owner_km, shared_min_km, shared_max_km, shared_avg_km
		FROM hub_benchmarks
		WHERE hub_id = ?`
	args := []any{hubID}
	if q.MinOwnerKm != nil {
		query += ` AND owner_km >= ?`
		args = append(args, *q.MinOwnerKm)
	}
	if q.Descending {
		query += ` ORDER BY owner_km DESC`
	} else {
		query += ` ORDER BY owner_km ASC`
	}
	query += ` LIMIT 1`

	b, err := scanHubBenchmark(r.db.QueryRowContext(ctx, r.rebind(query), args...))
	if err != nil {
		return nil, noRows(err)
	}
	return b, nil
}

func scanHubBenchmark(s rowScanner) (*domain.HubBenchmark, error) {
	var b domain.HubBenchmark
	if err := s.Scan(&b.ID, &b.HubID, &b.OwnerKm, &b.SharedMinKm, &b.SharedMaxKm, &b.SharedAvgKm); err != nil {
		return nil, err
	}
	return &b, nil
}
