// Package domain defines the core interfaces and types for carsim.
package domain

import (
	"context"
	"time"
)

// ReferenceData is the read side of the reference tables used by the engine.
// Lookup* return ErrNotFound for unknown identities; Find* and GetDefault*
// return nil, nil when no row matches.
type ReferenceData interface {
	LookupBrand(ctx context.Context, id string) (*Brand, error)
	LookupFuelType(ctx context.Context, id string) (*FuelType, error)
	LookupCarType(ctx context.Context, id string) (*CarType, error)
	SearchEuroNorms(ctx context.Context, filter EuroNormFilter) (*Page[EuroNorm], error)
	LookupTown(ctx context.Context, id string) (*Town, error)
	LookupProvince(ctx context.Context, id string) (*Province, error)

	GetHub(ctx context.Context, id string) (*Hub, error)
	GetDefaultHub(ctx context.Context) (*Hub, error)
	GetSimulationRegion(ctx context.Context, id string) (*SimulationRegion, error)
	GetDefaultSimulationRegion(ctx context.Context) (*SimulationRegion, error)

	FindFlatRate(ctx context.Context, fiscalRegionID string, at time.Time) (*CarTaxFlatRate, error)
	FindBaseRate(ctx context.Context, fiscalRegionID string, cc, hp int, at time.Time) (*CarTaxBaseRate, error)
	FindEuroNormAdjustment(ctx context.Context, fiscalRegionID string, euroNormGroup int) (*CarTaxEuroNormAdjustment, error)
	FindMostRecentInsuranceBenchmark(ctx context.Context, year int, carValue float64) (*InsurancePriceBenchmark, error)
	FindHubBenchmark(ctx context.Context, hubID string, q HubBenchmarkQuery) (*HubBenchmark, error)

	GetSystemParameter(ctx context.Context, code string) (*SystemParameter, error)
}

// AdminStore is the write side of the reference tables.
type AdminStore interface {
	SaveBrand(ctx context.Context, b *Brand) error
	ListBrands(ctx context.Context) ([]*Brand, error)
	SaveFuelType(ctx context.Context, f *FuelType) error
	ListFuelTypes(ctx context.Context) ([]*FuelType, error)
	SaveCarType(ctx context.Context, c *CarType) error
	ListCarTypes(ctx context.Context, brandID string) ([]*CarType, error)
	SaveEuroNorm(ctx context.Context, n *EuroNorm) error

	SaveFiscalRegion(ctx context.Context, r *FiscalRegion) error
	ListFiscalRegions(ctx context.Context) ([]*FiscalRegion, error)
	SaveProvince(ctx context.Context, p *Province) error
	ListProvinces(ctx context.Context) ([]*Province, error)
	SaveTown(ctx context.Context, t *Town) error
	ListTowns(ctx context.Context, provinceID string) ([]*Town, error)

	// SaveHub upserts a hub. When IsDefault is set, every other hub loses
	// its default flag in the same transaction.
	SaveHub(ctx context.Context, h *Hub) error
	ListHubs(ctx context.Context) ([]*Hub, error)
	DeleteHub(ctx context.Context, id string) error
	SaveSimulationRegion(ctx context.Context, r *SimulationRegion) error
	ListSimulationRegions(ctx context.Context) ([]*SimulationRegion, error)
	DeleteSimulationRegion(ctx context.Context, id string) error

	SaveHubBenchmark(ctx context.Context, b *HubBenchmark) error
	ListHubBenchmarks(ctx context.Context, hubID string) ([]*HubBenchmark, error)
	DeleteHubBenchmark(ctx context.Context, id string) error
	SaveInsuranceBenchmark(ctx context.Context, b *InsurancePriceBenchmark) error
	ListInsuranceBenchmarks(ctx context.Context, year int) ([]*InsurancePriceBenchmark, error)

	SaveBaseRate(ctx context.Context, r *CarTaxBaseRate) error
	SaveFlatRate(ctx context.Context, r *CarTaxFlatRate) error
	SaveEuroNormAdjustment(ctx context.Context, a *CarTaxEuroNormAdjustment) error
	ListTaxTables(ctx context.Context, fiscalRegionID string) (*TaxTables, error)

	SetSystemParameter(ctx context.Context, p *SystemParameter) error
	ListSystemParameters(ctx context.Context) ([]*SystemParameter, error)
}

// SimulationStore persists simulation results.
type SimulationStore interface {
	// SaveSimulation inserts s, assigning ID, CreatedAt and UpdatedAt when unset.
	SaveSimulation(ctx context.Context, s *Simulation) error
	GetSimulation(ctx context.Context, id string) (*Simulation, error)
	ListSimulations(ctx context.Context, limit, offset int) ([]*Simulation, error)
	DeleteSimulation(ctx context.Context, id string) error
}

// RuleStore persists custom adjustment rules.
type RuleStore interface {
	SaveAdjustmentRule(ctx context.Context, rule *AdjustmentRule) error
	ListAdjustmentRules(ctx context.Context) ([]*AdjustmentRule, error)
	DeleteAdjustmentRule(ctx context.Context, id string) error
}

// Repository is the complete storage layer.
type Repository interface {
	ReferenceData
	AdminStore
	SimulationStore
	RuleStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
