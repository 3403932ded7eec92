package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Tables carrying an is_default flag. Only these names reach clearOtherDefaults.
const (
	tableHubs              = "hubs"
	tableSimulationRegions = "simulation_regions"
)

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func requireName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidInput, kind)
	}
	return nil
}

// SaveBrand upserts a brand.
func (r *SQLRepository) SaveBrand(ctx context.Context, b *domain.Brand) error {
	if err := requireName("brand", b.Name); err != nil {
		return err
	}
	ensureID(&b.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO brands (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`), b.ID, b.Name)
	return err
}

// ListBrands returns all brands ordered by name.
func (r *SQLRepository) ListBrands(ctx context.Context) ([]*domain.Brand, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	brands := []*domain.Brand{}
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		brands = append(brands, &b)
	}
	return brands, rows.Err()
}

// SaveFuelType upserts a fuel type.
func (r *SQLRepository) SaveFuelType(ctx context.Context, f *domain.FuelType) error {
	if f.Code == "" {
		return fmt.Errorf("%w: fuel type code is required", ErrInvalidInput)
	}
	ensureID(&f.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO fuel_types (id, code, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name
	`), f.ID, f.Code, f.Name)
	return err
}

// ListFuelTypes returns all fuel types ordered by code.
func (r *SQLRepository) ListFuelTypes(ctx context.Context) ([]*domain.FuelType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, name FROM fuel_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fuels := []*domain.FuelType{}
	for rows.Next() {
		var f domain.FuelType
		if err := rows.Scan(&f.ID, &f.Code, &f.Name); err != nil {
			return nil, err
		}
		fuels = append(fuels, &f)
	}
	return fuels, rows.Err()
}

// SaveCarType upserts a car type.
func (r *SQLRepository) SaveCarType(ctx context.Context, c *domain.CarType) error {
	if err := requireName("car type", c.Name); err != nil {
		return err
	}
	if c.BrandID == "" {
		return fmt.Errorf("%w: car type brandId is required", ErrInvalidInput)
	}
	if c.CatalogPrice < 0 {
		return fmt.Errorf("%w: catalog price must not be negative", ErrInvalidInput)
	}
	ensureID(&c.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO car_types (id, brand_id, name, catalog_price) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			brand_id = excluded.brand_id,
			name = excluded.name,
			catalog_price = excluded.catalog_price
	`), c.ID, c.BrandID, c.Name, c.CatalogPrice)
	return err
}

// ListCarTypes returns the car types of a brand, or all when brandID is empty.
func (r *SQLRepository) ListCarTypes(ctx context.Context, brandID string) ([]*domain.CarType, error) {
	query := `SELECT id, brand_id, name, catalog_price FROM car_types`
	var args []any
	if brandID != "" {
		query += ` WHERE brand_id = ?`
		args = append(args, brandID)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []*domain.CarType{}
	for rows.Next() {
		var c domain.CarType
		if err := rows.Scan(&c.ID, &c.BrandID, &c.Name, &c.CatalogPrice); err != nil {
			return nil, err
		}
		types = append(types, &c)
	}
	return types, rows.Err()
}

// SaveEuroNorm upserts a euro norm. Without an id the norm is matched by code.
func (r *SQLRepository) SaveEuroNorm(ctx context.Context, n *domain.EuroNorm) error {
	if n.Code == "" || n.StartDate.IsZero() {
		return fmt.Errorf("%w: euro norm code and startDate are required", ErrInvalidInput)
	}
	return r.upsertNatural(ctx, &n.ID, `
		UPDATE euro_norms SET code = ?, norm_group = ?, start_date = ? WHERE id = ?
	`, `
		INSERT INTO euro_norms (id, code, norm_group, start_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			norm_group = excluded.norm_group,
			start_date = excluded.start_date
		RETURNING id
	`, n.Code, n.Group, n.StartDate.Time)
}

// SaveFiscalRegion upserts a fiscal region.
func (r *SQLRepository) SaveFiscalRegion(ctx context.Context, fr *domain.FiscalRegion) error {
	if err := requireName("fiscal region", fr.Name); err != nil {
		return err
	}
	ensureID(&fr.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO fiscal_regions (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`), fr.ID, fr.Name)
	return err
}

// ListFiscalRegions returns all fiscal regions ordered by name.
func (r *SQLRepository) ListFiscalRegions(ctx context.Context) ([]*domain.FiscalRegion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM fiscal_regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regions := []*domain.FiscalRegion{}
	for rows.Next() {
		var fr domain.FiscalRegion
		if err := rows.Scan(&fr.ID, &fr.Name); err != nil {
			return nil, err
		}
		regions = append(regions, &fr)
	}
	return regions, rows.Err()
}

// SaveProvince upserts a province.
func (r *SQLRepository) SaveProvince(ctx context.Context, p *domain.Province) error {
	if err := requireName("province", p.Name); err != nil {
		return err
	}
	if p.FiscalRegionID == "" {
		return fmt.Errorf("%w: province fiscalRegionId is required", ErrInvalidInput)
	}
	ensureID(&p.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO provinces (id, name, fiscal_region_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, fiscal_region_id = excluded.fiscal_region_id
	`), p.ID, p.Name, p.FiscalRegionID)
	return err
}

// ListProvinces returns all provinces ordered by name.
func (r *SQLRepository) ListProvinces(ctx context.Context) ([]*domain.Province, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, fiscal_region_id FROM provinces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	provinces := []*domain.Province{}
	for rows.Next() {
		var p domain.Province
		if err := rows.Scan(&p.ID, &p.Name, &p.FiscalRegionID); err != nil {
			return nil, err
		}
		provinces = append(provinces, &p)
	}
	return provinces, rows.Err()
}

// SaveTown upserts a town.
func (r *SQLRepository) SaveTown(ctx context.Context, t *domain.Town) error {
	if err := requireName("town", t.Name); err != nil {
		return err
	}
	if t.ProvinceID == "" {
		return fmt.Errorf("%w: town provinceId is required", ErrInvalidInput)
	}
	ensureID(&t.ID)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO towns (id, name, postal_code, province_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			postal_code = excluded.postal_code,
			province_id = excluded.province_id
	`), t.ID, t.Name, t.PostalCode, t.ProvinceID)
	return err
}

// ListTowns returns the towns of a province, or all when provinceID is empty.
func (r *SQLRepository) ListTowns(ctx context.Context, provinceID string) ([]*domain.Town, error) {
	query := `SELECT id, name, postal_code, province_id FROM towns`
	var args []any
	if provinceID != "" {
		query += ` WHERE province_id = ?`
		args = append(args, provinceID)
	}
	query += ` ORDER BY postal_code, name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	towns := []*domain.Town{}
	for rows.Next() {
		var t domain.Town
		if err := rows.Scan(&t.ID, &t.Name, &t.PostalCode, &t.ProvinceID); err != nil {
			return nil, err
		}
		towns = append(towns, &t)
	}
	return towns, rows.Err()
}

// clearOtherDefaults drops the default flag from every row of table except
// keepID. It must run inside the transaction that writes keepID, before the
// write, so the partial unique index never sees two defaults.
func (r *SQLRepository) clearOtherDefaults(ctx context.Context, tx *sql.Tx, table, keepID string) error {
	if table != tableHubs && table != tableSimulationRegions {
		return fmt.Errorf("%w: %s has no default flag", ErrInvalidInput, table)
	}
	if err := r.lockForDefault(ctx, tx, table); err != nil {
		return fmt.Errorf("lock %s: %w", table, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET is_default = 0, updated_at = ? WHERE is_default = 1 AND id <> ?`, table)
	if _, err := tx.ExecContext(ctx, r.rebind(query), r.now(), keepID); err != nil {
		return fmt.Errorf("clear default %s: %w", table, err)
	}
	return nil
}

func validateHub(h *domain.Hub) error {
	if err := requireName("hub", h.Name); err != nil {
		return err
	}
	for field, v := range map[string]float64{
		"simMinEuroNormGroupDiesel":    float64(h.SimMinEuroNormGroupDiesel),
		"simEcoscoreBonusThreshold":    h.SimEcoscoreBonusThreshold,
		"simAgeBonusMaxYears":          float64(h.SimAgeBonusMaxYears),
		"simKmBonusMaxKm":              float64(h.SimKmBonusMaxKm),
		"simDepreciationPerKm":         h.SimDepreciationPerKm,
		"simDepreciationKmCap":         float64(h.SimDepreciationKmCap),
		"simDepreciationKmCapElectric": float64(h.SimDepreciationKmCapElectric),
	} {
		if v < 0 {
			return fmt.Errorf("%w: hub %s must not be negative", ErrInvalidInput, field)
		}
	}
	return nil
}

// SaveHub upserts a hub. A default hub demotes every other hub in the same
// transaction.
func (r *SQLRepository) SaveHub(ctx context.Context, h *domain.Hub) error {
	if err := validateHub(h); err != nil {
		return err
	}
	ensureID(&h.ID)
	now := r.now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	query := `
		INSERT INTO hubs (` + hubColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_default = excluded.is_default,
			sim_min_euro_norm_group_diesel = excluded.sim_min_euro_norm_group_diesel,
			sim_ecoscore_bonus_threshold = excluded.sim_ecoscore_bonus_threshold,
			sim_ecoscore_bonus = excluded.sim_ecoscore_bonus,
			sim_age_bonus_max_years = excluded.sim_age_bonus_max_years,
			sim_age_bonus = excluded.sim_age_bonus,
			sim_km_bonus_max_km = excluded.sim_km_bonus_max_km,
			sim_km_bonus = excluded.sim_km_bonus,
			sim_depreciation_per_km = excluded.sim_depreciation_per_km,
			sim_depreciation_km_cap = excluded.sim_depreciation_km_cap,
			sim_depreciation_km_cap_electric = excluded.sim_depreciation_km_cap_electric,
			updated_at = excluded.updated_at
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if h.IsDefault {
			if err := r.clearOtherDefaults(ctx, tx, tableHubs, h.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, r.rebind(query),
			h.ID, h.Name, boolToInt(h.IsDefault), h.SimMinEuroNormGroupDiesel,
			h.SimEcoscoreBonusThreshold, h.SimEcoscoreBonus,
			h.SimAgeBonusMaxYears, h.SimAgeBonus, h.SimKmBonusMaxKm, h.SimKmBonus,
			h.SimDepreciationPerKm, h.SimDepreciationKmCap, h.SimDepreciationKmCapElectric,
			h.CreatedAt, h.UpdatedAt,
		)
		return err
	})
}

// ListHubs returns all hubs ordered by name.
func (r *SQLRepository) ListHubs(ctx context.Context) ([]*domain.Hub, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hubColumns+` FROM hubs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hubs := []*domain.Hub{}
	for rows.Next() {
		h, err := scanHub(rows)
		if err != nil {
			return nil, err
		}
		hubs = append(hubs, h)
	}
	return hubs, rows.Err()
}

// DeleteHub removes a hub and its benchmarks.
func (r *SQLRepository) DeleteHub(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM hub_benchmarks WHERE hub_id = ?`), id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM hubs WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveSimulationRegion upserts a simulation region. A default region demotes
// every other region in the same transaction.
func (r *SQLRepository) SaveSimulationRegion(ctx context.Context, sr *domain.SimulationRegion) error {
	if err := requireName("simulation region", sr.Name); err != nil {
		return err
	}
	if sr.FiscalRegionID == "" {
		return fmt.Errorf("%w: simulation region fiscalRegionId is required", ErrInvalidInput)
	}
	if sr.SimYearlyInspectionCost < 0 {
		return fmt.Errorf("%w: simYearlyInspectionCost must not be negative", ErrInvalidInput)
	}
	ensureID(&sr.ID)
	now := r.now()
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = now
	}
	sr.UpdatedAt = now

	query := `
		INSERT INTO simulation_regions (` + regionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_default = excluded.is_default,
			fiscal_region_id = excluded.fiscal_region_id,
			sim_yearly_inspection_cost = excluded.sim_yearly_inspection_cost,
			updated_at = excluded.updated_at
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if sr.IsDefault {
			if err := r.clearOtherDefaults(ctx, tx, tableSimulationRegions, sr.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, r.rebind(query),
			sr.ID, sr.Name, boolToInt(sr.IsDefault), sr.FiscalRegionID, sr.SimYearlyInspectionCost,
			sr.CreatedAt, sr.UpdatedAt,
		)
		return err
	})
}

// ListSimulationRegions returns all simulation regions ordered by name.
func (r *SQLRepository) ListSimulationRegions(ctx context.Context) ([]*domain.SimulationRegion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+regionColumns+` FROM simulation_regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regions := []*domain.SimulationRegion{}
	for rows.Next() {
		sr, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, sr)
	}
	return regions, rows.Err()
}

// DeleteSimulationRegion removes a simulation region.
func (r *SQLRepository) DeleteSimulationRegion(ctx context.Context, id string) error {
	return r.execAffected(ctx, `DELETE FROM simulation_regions WHERE id = ?`, id)
}

// SaveHubBenchmark upserts a mileage bracket of a hub. Without an id the
// bracket is matched by hub and owner mileage.
func (r *SQLRepository) SaveHubBenchmark(ctx context.Context, b *domain.HubBenchmark) error {
	if b.HubID == "" {
		return fmt.Errorf("%w: benchmark hubId is required", ErrInvalidInput)
	}
	if b.OwnerKm < 0 || b.SharedMinKm < 0 || b.SharedMaxKm < 0 || b.SharedAvgKm < 0 {
		return fmt.Errorf("%w: benchmark mileages must not be negative", ErrInvalidInput)
	}
	return r.upsertNatural(ctx, &b.ID, `
		UPDATE hub_benchmarks
		SET hub_id = ?, owner_km = ?, shared_min_km = ?, shared_max_km = ?, shared_avg_km = ?
		WHERE id = ?
	`, `
		INSERT INTO hub_benchmarks (id, hub_id, owner_km, shared_min_km, shared_max_km, shared_avg_km)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hub_id, owner_km) DO UPDATE SET
			shared_min_km = excluded.shared_min_km,
			shared_max_km = excluded.shared_max_km,
			shared_avg_km = excluded.shared_avg_km
		RETURNING id
	`, b.HubID, b.OwnerKm, b.SharedMinKm, b.SharedMaxKm, b.SharedAvgKm)
}

// ListHubBenchmarks returns the brackets of a hub by ascending owner mileage.
func (r *SQLRepository) ListHubBenchmarks(ctx context.Context, hubID string) ([]*domain.HubBenchmark, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, hub_id, owner_km, shared_min_km, shared_max_km, shared_avg_km
		FROM hub_benchmarks
		WHERE hub_id = ?
		ORDER BY owner_km ASC
	`), hubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	benchmarks := []*domain.HubBenchmark{}
	for rows.Next() {
		b, err := scanHubBenchmark(rows)
		if err != nil {
			return nil, err
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, rows.Err()
}

// DeleteHubBenchmark removes one bracket.
func (r *SQLRepository) DeleteHubBenchmark(ctx context.Context, id string) error {
	return r.execAffected(ctx, `DELETE FROM hub_benchmarks WHERE id = ?`, id)
}

// SaveInsuranceBenchmark inserts an insurance band. Bands are append-only;
// lookups prefer the most recently created band for a boundary. A band
// without id that repeats an existing one (same year, boundary and rates)
// is not inserted again; b takes the stored id and creation time.
func (r *SQLRepository) SaveInsuranceBenchmark(ctx context.Context, b *domain.InsurancePriceBenchmark) error {
	if b.Year < 2000 || b.Year > 2100 {
		return fmt.Errorf("%w: insurance year %d out of range", ErrInvalidInput, b.Year)
	}
	if b.MaxCarValueExclusive <= 0 || b.BaseRate < 0 || b.Rate < 0 {
		return fmt.Errorf("%w: insurance band values must be positive", ErrInvalidInput)
	}
	if b.ID == "" {
		var existing domain.InsurancePriceBenchmark
		err := r.db.QueryRowContext(ctx, r.rebind(`
			SELECT id, created_at FROM insurance_price_benchmarks
			WHERE year = ? AND max_car_value_exclusive = ? AND base_rate = ? AND rate = ?
			ORDER BY created_at DESC
			LIMIT 1
		`), b.Year, b.MaxCarValueExclusive, b.BaseRate, b.Rate).Scan(&existing.ID, &existing.CreatedAt)
		if err := noRows(err); err != nil {
			return err
		}
		if existing.ID != "" {
			b.ID, b.CreatedAt = existing.ID, existing.CreatedAt
			return nil
		}
	}
	ensureID(&b.ID)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO insurance_price_benchmarks (id, year, max_car_value_exclusive, base_rate, rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), b.ID, b.Year, b.MaxCarValueExclusive, b.BaseRate, b.Rate, b.CreatedAt)
	return err
}

// ListInsuranceBenchmarks returns the bands of a year, or all when year is 0.
func (r *SQLRepository) ListInsuranceBenchmarks(ctx context.Context, year int) ([]*domain.InsurancePriceBenchmark, error) {
	query := `SELECT id, year, max_car_value_exclusive, base_rate, rate, created_at FROM insurance_price_benchmarks`
	var args []any
	if year != 0 {
		query += ` WHERE year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY year DESC, max_car_value_exclusive ASC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bands := []*domain.InsurancePriceBenchmark{}
	for rows.Next() {
		var b domain.InsurancePriceBenchmark
		if err := rows.Scan(&b.ID, &b.Year, &b.MaxCarValueExclusive, &b.BaseRate, &b.Rate, &b.CreatedAt); err != nil {
			return nil, err
		}
		bands = append(bands, &b)
	}
	return bands, rows.Err()
}

func validateWindow(start domain.Date, end *domain.Date) error {
	if start.IsZero() {
		return fmt.Errorf("%w: startDate is required", ErrInvalidInput)
	}
	if end != nil && !end.IsZero() && end.Before(start.Time) {
		return fmt.Errorf("%w: endDate %s before startDate %s", ErrInvalidInput, end, start)
	}
	return nil
}

// SaveBaseRate upserts a base-rate band. Without an id the band is matched
// by region, cc and hp limits and start date.
func (r *SQLRepository) SaveBaseRate(ctx context.Context, br *domain.CarTaxBaseRate) error {
	if br.FiscalRegionID == "" {
		return fmt.Errorf("%w: base rate fiscalRegionId is required", ErrInvalidInput)
	}
	if err := validateWindow(br.StartDate, br.EndDate); err != nil {
		return err
	}
	return r.upsertNatural(ctx, &br.ID, `
		UPDATE car_tax_base_rates
		SET fiscal_region_id = ?, max_cc = ?, max_fiscal_hp = ?, rate = ?, start_date = ?, end_date = ?
		WHERE id = ?
	`, `
		INSERT INTO car_tax_base_rates (id, fiscal_region_id, max_cc, max_fiscal_hp, rate, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fiscal_region_id, max_cc, max_fiscal_hp, start_date) DO UPDATE SET
			rate = excluded.rate,
			end_date = excluded.end_date
		RETURNING id
	`, br.FiscalRegionID, br.MaxCc, br.MaxFiscalHp, br.Rate, br.StartDate.Time, nullableDate(br.EndDate))
}

// SaveFlatRate upserts a flat-rate period. Without an id the period is
// matched by region and start date.
func (r *SQLRepository) SaveFlatRate(ctx context.Context, fr *domain.CarTaxFlatRate) error {
	if fr.FiscalRegionID == "" {
		return fmt.Errorf("%w: flat rate fiscalRegionId is required", ErrInvalidInput)
	}
	if err := validateWindow(fr.StartDate, fr.EndDate); err != nil {
		return err
	}
	return r.upsertNatural(ctx, &fr.ID, `
		UPDATE car_tax_flat_rates SET fiscal_region_id = ?, rate = ?, start_date = ?, end_date = ? WHERE id = ?
	`, `
		INSERT INTO car_tax_flat_rates (id, fiscal_region_id, rate, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fiscal_region_id, start_date) DO UPDATE SET
			rate = excluded.rate,
			end_date = excluded.end_date
		RETURNING id
	`, fr.FiscalRegionID, fr.Rate, fr.StartDate.Time, nullableDate(fr.EndDate))
}

// SaveEuroNormAdjustment upserts the adjustment of a region and euro norm
// group. Without an id the row of that region and group is updated.
func (r *SQLRepository) SaveEuroNormAdjustment(ctx context.Context, a *domain.CarTaxEuroNormAdjustment) error {
	if a.FiscalRegionID == "" {
		return fmt.Errorf("%w: adjustment fiscalRegionId is required", ErrInvalidInput)
	}
	return r.upsertNatural(ctx, &a.ID, `
		UPDATE car_tax_euro_norm_adjustments
		SET fiscal_region_id = ?, euro_norm_group = ?, default_adjustment = ?, diesel_adjustment = ?
		WHERE id = ?
	`, `
		INSERT INTO car_tax_euro_norm_adjustments (id, fiscal_region_id, euro_norm_group, default_adjustment, diesel_adjustment)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fiscal_region_id, euro_norm_group) DO UPDATE SET
			default_adjustment = excluded.default_adjustment,
			diesel_adjustment = excluded.diesel_adjustment
		RETURNING id
	`, a.FiscalRegionID, a.EuroNormGroup, a.DefaultAdjustment, a.DieselAdjustment)
}

// ListTaxTables returns every tax row of a fiscal region.
func (r *SQLRepository) ListTaxTables(ctx context.Context, fiscalRegionID string) (*domain.TaxTables, error) {
	tables := &domain.TaxTables{
		BaseRates:   []*domain.CarTaxBaseRate{},
		FlatRates:   []*domain.CarTaxFlatRate{},
		Adjustments: []*domain.CarTaxEuroNormAdjustment{},
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, fiscal_region_id, max_cc, max_fiscal_hp, rate, start_date, end_date
		FROM car_tax_base_rates WHERE fiscal_region_id = ?
		ORDER BY start_date, max_cc, max_fiscal_hp
	`), fiscalRegionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var br domain.CarTaxBaseRate
		var start time.Time
		var end sql.NullTime
		if err := rows.Scan(&br.ID, &br.FiscalRegionID, &br.MaxCc, &br.MaxFiscalHp, &br.Rate, &start, &end); err != nil {
			rows.Close()
			return nil, err
		}
		br.StartDate = domain.NewDate(start)
		br.EndDate = dateFromNull(end)
		tables.BaseRates = append(tables.BaseRates, &br)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, r.rebind(`
		SELECT id, fiscal_region_id, rate, start_date, end_date
		FROM car_tax_flat_rates WHERE fiscal_region_id = ?
		ORDER BY start_date
	`), fiscalRegionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var fr domain.CarTaxFlatRate
		var start time.Time
		var end sql.NullTime
		if err := rows.Scan(&fr.ID, &fr.FiscalRegionID, &fr.Rate, &start, &end); err != nil {
			rows.Close()
			return nil, err
		}
		fr.StartDate = domain.NewDate(start)
		fr.EndDate = dateFromNull(end)
		tables.FlatRates = append(tables.FlatRates, &fr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, r.rebind(`
		SELECT id, fiscal_region_id, euro_norm_group, default_adjustment, diesel_adjustment
		FROM car_tax_euro_norm_adjustments WHERE fiscal_region_id = ?
		ORDER BY euro_norm_group
	`), fiscalRegionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.CarTaxEuroNormAdjustment
		if err := rows.Scan(&a.ID, &a.FiscalRegionID, &a.EuroNormGroup, &a.DefaultAdjustment, &a.DieselAdjustment); err != nil {
			return nil, err
		}
		tables.Adjustments = append(tables.Adjustments, &a)
	}
	return tables, rows.Err()
}

// SetSystemParameter upserts a parameter by code.
func (r *SQLRepository) SetSystemParameter(ctx context.Context, p *domain.SystemParameter) error {
	if p.Code == "" {
		return fmt.Errorf("%w: parameter code is required", ErrInvalidInput)
	}
	p.UpdatedAt = r.now()
	var value any
	if p.ValueNumber != nil {
		value = *p.ValueNumber
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO system_parameters (code, value_number, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET value_number = excluded.value_number, updated_at = excluded.updated_at
	`), p.Code, value, p.UpdatedAt)
	return err
}

// ListSystemParameters returns all parameters ordered by code.
func (r *SQLRepository) ListSystemParameters(ctx context.Context) ([]*domain.SystemParameter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, value_number, updated_at FROM system_parameters ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	params := []*domain.SystemParameter{}
	for rows.Next() {
		var p domain.SystemParameter
		var value sql.NullFloat64
		if err := rows.Scan(&p.Code, &value, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			p.ValueNumber = &v
		}
		params = append(params, &p)
	}
	return params, rows.Err()
}
