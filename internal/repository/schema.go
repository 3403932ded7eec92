package repository

// Schema definitions for the carsim database.
// Compatible with both SQLite and PostgreSQL.

const schemaVehicles = `
CREATE TABLE IF NOT EXISTS brands (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fuel_types (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS car_types (
    id TEXT PRIMARY KEY,
    brand_id TEXT NOT NULL REFERENCES brands(id),
    name TEXT NOT NULL,
    catalog_price DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_car_types_brand ON car_types(brand_id);

CREATE TABLE IF NOT EXISTS euro_norms (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    norm_group INTEGER NOT NULL,
    start_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_euro_norms_start ON euro_norms(start_date);
`

const schemaGeography = `
CREATE TABLE IF NOT EXISTS fiscal_regions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provinces (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    fiscal_region_id TEXT NOT NULL REFERENCES fiscal_regions(id)
);

CREATE TABLE IF NOT EXISTS towns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    postal_code TEXT NOT NULL,
    province_id TEXT NOT NULL REFERENCES provinces(id)
);

CREATE INDEX IF NOT EXISTS idx_towns_province ON towns(province_id);
`

const schemaTax = `
CREATE TABLE IF NOT EXISTS car_tax_base_rates (
    id TEXT PRIMARY KEY,
    fiscal_region_id TEXT NOT NULL REFERENCES fiscal_regions(id),
    max_cc INTEGER NOT NULL,
    max_fiscal_hp INTEGER NOT NULL,
    rate DOUBLE PRECISION NOT NULL,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_base_rates_lookup ON car_tax_base_rates(fiscal_region_id, max_cc, max_fiscal_hp);
CREATE UNIQUE INDEX IF NOT EXISTS idx_base_rates_period ON car_tax_base_rates(fiscal_region_id, max_cc, max_fiscal_hp, start_date);

CREATE TABLE IF NOT EXISTS car_tax_flat_rates (
    id TEXT PRIMARY KEY,
    fiscal_region_id TEXT NOT NULL REFERENCES fiscal_regions(id),
    rate DOUBLE PRECISION NOT NULL,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_flat_rates_period ON car_tax_flat_rates(fiscal_region_id, start_date);

CREATE TABLE IF NOT EXISTS car_tax_euro_norm_adjustments (
    id TEXT PRIMARY KEY,
    fiscal_region_id TEXT NOT NULL REFERENCES fiscal_regions(id),
    euro_norm_group INTEGER NOT NULL,
    default_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
    diesel_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
    UNIQUE (fiscal_region_id, euro_norm_group)
);
`

// schemaPolicy holds hubs and simulation regions. The partial unique indexes
// back the single-default invariant maintained by clearOtherDefaults.
const schemaPolicy = `
CREATE TABLE IF NOT EXISTS hubs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0,
    sim_min_euro_norm_group_diesel INTEGER NOT NULL DEFAULT 0,
    sim_ecoscore_bonus_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    sim_ecoscore_bonus DOUBLE PRECISION NOT NULL DEFAULT 0,
    sim_age_bonus_max_years INTEGER NOT NULL DEFAULT 0,
    sim_age_bonus DOUBLE PRECISION NOT NULL DEFAULT 0,
    sim_km_bonus_max_km INTEGER NOT NULL DEFAULT 0,
    sim_km_bonus DOUBLE PRECISION NOT NULL DEFAULT 0,
    sim_depreciation_per_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    sim_depreciation_km_cap INTEGER NOT NULL DEFAULT 0,
    sim_depreciation_km_cap_electric INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hubs_single_default ON hubs(is_default) WHERE is_default = 1;

CREATE TABLE IF NOT EXISTS simulation_regions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0,
    fiscal_region_id TEXT NOT NULL REFERENCES fiscal_regions(id),
    sim_yearly_inspection_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_simulation_regions_single_default ON simulation_regions(is_default) WHERE is_default = 1;

CREATE TABLE IF NOT EXISTS system_parameters (
    code TEXT PRIMARY KEY,
    value_number DOUBLE PRECISION,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaBenchmarks = `
CREATE TABLE IF NOT EXISTS hub_benchmarks (
    id TEXT PRIMARY KEY,
    hub_id TEXT NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
    owner_km INTEGER NOT NULL DEFAULT 0,
    shared_min_km INTEGER NOT NULL DEFAULT 0,
    shared_max_km INTEGER NOT NULL DEFAULT 0,
    shared_avg_km INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hub_benchmarks_bracket ON hub_benchmarks(hub_id, owner_km);

CREATE TABLE IF NOT EXISTS insurance_price_benchmarks (
    id TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    max_car_value_exclusive DOUBLE PRECISION NOT NULL,
    base_rate DOUBLE PRECISION NOT NULL,
    rate DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insurance_benchmarks_year ON insurance_price_benchmarks(year, max_car_value_exclusive);
`

const schemaSimulations = `
CREATE TABLE IF NOT EXISTS simulations (
    id TEXT PRIMARY KEY,
    brand_id TEXT NOT NULL,
    fuel_type_id TEXT NOT NULL,
    car_type_id TEXT,
    car_type_other TEXT,
    km INTEGER NOT NULL,
    first_registered_at TIMESTAMP NOT NULL,
    is_van INTEGER NOT NULL DEFAULT 0,
    result_code TEXT NOT NULL,
    estimated_price DOUBLE PRECISION,
    steps TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulations_created ON simulations(created_at);
CREATE INDEX IF NOT EXISTS idx_simulations_result ON simulations(result_code);
`

const schemaAdjustmentRules = `
CREATE TABLE IF NOT EXISTS adjustment_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    condition_expr TEXT NOT NULL,
    amount_expr TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaVehicles,
		schemaGeography,
		schemaTax,
		schemaPolicy,
		schemaBenchmarks,
		schemaSimulations,
		schemaAdjustmentRules,
	}
}
