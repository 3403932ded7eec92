package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

const defaultPageSize = 50

type rowScanner interface {
	Scan(dest ...any) error
}

// day normalizes t to its UTC calendar day so stored dates compare as equals.
func day(t time.Time) time.Time {
	return domain.NewDate(t).Time
}

// LookupBrand retrieves a brand by ID.
func (r *SQLRepository) LookupBrand(ctx context.Context, id string) (*domain.Brand, error) {
	var b domain.Brand
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, name FROM brands WHERE id = ?`), id).
		Scan(&b.ID, &b.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// LookupFuelType retrieves a fuel type by ID.
func (r *SQLRepository) LookupFuelType(ctx context.Context, id string) (*domain.FuelType, error) {
	var f domain.FuelType
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, code, name FROM fuel_types WHERE id = ?`), id).
		Scan(&f.ID, &f.Code, &f.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// LookupCarType retrieves a car type by ID.
func (r *SQLRepository) LookupCarType(ctx context.Context, id string) (*domain.CarType, error) {
	var c domain.CarType
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, brand_id, name, catalog_price FROM car_types WHERE id = ?`), id).
		Scan(&c.ID, &c.BrandID, &c.Name, &c.CatalogPrice)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// SearchEuroNorms pages through euro norms. With ValidAt set, norms are
// ordered newest first so the first item is the norm in force at that date.
func (r *SQLRepository) SearchEuroNorms(ctx context.Context, filter domain.EuroNormFilter) (*domain.Page[domain.EuroNorm], error) {
	var where []string
	var args []any
	if filter.Code != "" {
		where = append(where, "code = ?")
		args = append(args, filter.Code)
	}
	order := "start_date ASC"
	if filter.ValidAt != nil {
		where = append(where, "start_date <= ?")
		args = append(args, day(*filter.ValidAt))
		order = "start_date DESC"
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &domain.Page[domain.EuroNorm]{Items: []domain.EuroNorm{}}
	if err := r.db.QueryRowContext(ctx, r.rebind("SELECT COUNT(*) FROM euro_norms"+clause), args...).
		Scan(&page.Total); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := "SELECT id, code, norm_group, start_date FROM euro_norms" + clause +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var n domain.EuroNorm
		var start time.Time
		if err := rows.Scan(&n.ID, &n.Code, &n.Group, &start); err != nil {
			return nil, err
		}
		n.StartDate = domain.NewDate(start)
		page.Items = append(page.Items, n)
	}
	return page, rows.Err()
}

// LookupTown retrieves a town by ID.
func (r *SQLRepository) LookupTown(ctx context.Context, id string) (*domain.Town, error) {
	var t domain.Town
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, name, postal_code, province_id FROM towns WHERE id = ?`), id).
		Scan(&t.ID, &t.Name, &t.PostalCode, &t.ProvinceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// LookupProvince retrieves a province by ID.
func (r *SQLRepository) LookupProvince(ctx context.Context, id string) (*domain.Province, error) {
	var p domain.Province
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, name, fiscal_region_id FROM provinces WHERE id = ?`), id).
		Scan(&p.ID, &p.Name, &p.FiscalRegionID)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const hubColumns = `id, name, is_default, sim_min_euro_norm_group_diesel,
	sim_ecoscore_bonus_threshold, sim_ecoscore_bonus,
	sim_age_bonus_max_years, sim_age_bonus, sim_km_bonus_max_km, sim_km_bonus,
	sim_depreciation_per_km, sim_depreciation_km_cap, sim_depreciation_km_cap_electric,
	created_at, updated_at`

func scanHub(s rowScanner) (*domain.Hub, error) {
	var h domain.Hub
	var isDefault int
	if err := s.Scan(
		&h.ID, &h.Name, &isDefault, &h.SimMinEuroNormGroupDiesel,
		&h.SimEcoscoreBonusThreshold, &h.SimEcoscoreBonus,
		&h.SimAgeBonusMaxYears, &h.SimAgeBonus, &h.SimKmBonusMaxKm, &h.SimKmBonus,
		&h.SimDepreciationPerKm, &h.SimDepreciationKmCap, &h.SimDepreciationKmCapElectric,
		&h.CreatedAt, &h.UpdatedAt,
	); err != nil {
		return nil, err
	}
	h.IsDefault = isDefault == 1
	return &h, nil
}

// GetHub retrieves a hub by ID.
func (r *SQLRepository) GetHub(ctx context.Context, id string) (*domain.Hub, error) {
	h, err := scanHub(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+hubColumns+` FROM hubs WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// GetDefaultHub returns the default hub, or nil when none is flagged.
func (r *SQLRepository) GetDefaultHub(ctx context.Context) (*domain.Hub, error) {
	h, err := scanHub(r.db.QueryRowContext(ctx, `SELECT `+hubColumns+` FROM hubs WHERE is_default = 1`))
	if err != nil {
		return nil, noRows(err)
	}
	return h, nil
}

const regionColumns = `id, name, is_default, fiscal_region_id, sim_yearly_inspection_cost, created_at, updated_at`

func scanRegion(s rowScanner) (*domain.SimulationRegion, error) {
	var sr domain.SimulationRegion
	var isDefault int
	if err := s.Scan(
		&sr.ID, &sr.Name, &isDefault, &sr.FiscalRegionID, &sr.SimYearlyInspectionCost,
		&sr.CreatedAt, &sr.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sr.IsDefault = isDefault == 1
	return &sr, nil
}

// GetSimulationRegion retrieves a simulation region by ID.
func (r *SQLRepository) GetSimulationRegion(ctx context.Context, id string) (*domain.SimulationRegion, error) {
	sr, err := scanRegion(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+regionColumns+` FROM simulation_regions WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	return sr, nil
}

// GetDefaultSimulationRegion returns the default region, or nil when none is flagged.
func (r *SQLRepository) GetDefaultSimulationRegion(ctx context.Context) (*domain.SimulationRegion, error) {
	sr, err := scanRegion(r.db.QueryRowContext(ctx, `SELECT `+regionColumns+` FROM simulation_regions WHERE is_default = 1`))
	if err != nil {
		return nil, noRows(err)
	}
	return sr, nil
}

// GetSystemParameter returns a parameter, or nil when it is not set.
func (r *SQLRepository) GetSystemParameter(ctx context.Context, code string) (*domain.SystemParameter, error) {
	var p domain.SystemParameter
	var value sql.NullFloat64
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT code, value_number, updated_at FROM system_parameters WHERE code = ?`), code).
		Scan(&p.Code, &value, &p.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	if value.Valid {
		v := value.Float64
		p.ValueNumber = &v
	}
	return &p, nil
}
