package domain

import (
	"time"
)

// Fuel type codes with policy meaning.
const (
	FuelDiesel   = "diesel"
	FuelPetrol   = "petrol"
	FuelElectric = "electric"
	FuelHybrid   = "hybrid"
	FuelLPG      = "lpg"
	FuelCNG      = "cng"
)

// System parameter codes read by the engine.
const (
	ParamMaxAgeYears = "SIM_MAX_AGE_YEARS"
	ParamMaxKm       = "SIM_MAX_KM"
)

// Fallbacks used when the system parameters are unset.
const (
	DefaultMaxAgeYears = 15
	DefaultMaxKm       = 250000
)

// Brand is a car manufacturer.
type Brand struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// FuelType classifies the energy source of a car.
type FuelType struct {
	ID   string `json:"id" yaml:"id"`
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

func (f *FuelType) IsDiesel() bool   { return f.Code == FuelDiesel }
func (f *FuelType) IsElectric() bool { return f.Code == FuelElectric }

// CarType is a model of a brand with its new catalog price.
type CarType struct {
	ID           string  `json:"id" yaml:"id"`
	BrandID      string  `json:"brandId" yaml:"brandId"`
	Name         string  `json:"name" yaml:"name"`
	CatalogPrice float64 `json:"catalogPrice" yaml:"catalogPrice"`
}

// EuroNorm is an emission standard; Group orders norms for policy checks.
type EuroNorm struct {
	ID        string `json:"id" yaml:"id"`
	Code      string `json:"code" yaml:"code"`
	Group     int    `json:"group" yaml:"group"`
	StartDate Date   `json:"startDate" yaml:"startDate"`
}

// EuroNormFilter narrows SearchEuroNorms. ValidAt selects the norm in force at a date.
type EuroNormFilter struct {
	Code    string
	ValidAt *time.Time
	Limit   int
	Offset  int
}

// Page is one slice of a search result.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// FiscalRegion owns a tax rule set.
type FiscalRegion struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Province belongs to one fiscal region.
type Province struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	FiscalRegionID string `json:"fiscalRegionId" yaml:"fiscalRegionId"`
}

// Town belongs to one province.
type Town struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	PostalCode string `json:"postalCode" yaml:"postalCode"`
	ProvinceID string `json:"provinceId" yaml:"provinceId"`
}

// CarTaxBaseRate is a yearly tax for a displacement and fiscal horsepower band.
type CarTaxBaseRate struct {
	ID             string  `json:"id" yaml:"id"`
	FiscalRegionID string  `json:"fiscalRegionId" yaml:"fiscalRegionId"`
	MaxCc          int     `json:"maxCc" yaml:"maxCc"`
	MaxFiscalHp    int     `json:"maxFiscalHp" yaml:"maxFiscalHp"`
	Rate           float64 `json:"rate" yaml:"rate"`
	StartDate      Date    `json:"startDate" yaml:"startDate"`
	EndDate        *Date   `json:"endDate,omitempty" yaml:"endDate,omitempty"`
}

// CarTaxEuroNormAdjustment corrects the base rate per euro norm group.
type CarTaxEuroNormAdjustment struct {
	ID                string  `json:"id" yaml:"id"`
	FiscalRegionID    string  `json:"fiscalRegionId" yaml:"fiscalRegionId"`
	EuroNormGroup     int     `json:"euroNormGroup" yaml:"euroNormGroup"`
	DefaultAdjustment float64 `json:"defaultAdjustment" yaml:"defaultAdjustment"`
	DieselAdjustment  float64 `json:"dieselAdjustment" yaml:"dieselAdjustment"`
}

// CarTaxFlatRate is the yearly tax of the flat regime for a period.
type CarTaxFlatRate struct {
	ID             string  `json:"id" yaml:"id"`
	FiscalRegionID string  `json:"fiscalRegionId" yaml:"fiscalRegionId"`
	Rate           float64 `json:"rate" yaml:"rate"`
	StartDate      Date    `json:"startDate" yaml:"startDate"`
	EndDate        *Date   `json:"endDate,omitempty" yaml:"endDate,omitempty"`
}

// Hub carries the simulation policy of an organizational unit.
type Hub struct {
	ID                           string    `json:"id" yaml:"id"`
	Name                         string    `json:"name" yaml:"name"`
	IsDefault                    bool      `json:"isDefault" yaml:"isDefault"`
	SimMinEuroNormGroupDiesel    int       `json:"simMinEuroNormGroupDiesel" yaml:"simMinEuroNormGroupDiesel"`
	SimEcoscoreBonusThreshold    float64   `json:"simEcoscoreBonusThreshold" yaml:"simEcoscoreBonusThreshold"`
	SimEcoscoreBonus             float64   `json:"simEcoscoreBonus" yaml:"simEcoscoreBonus"`
	SimAgeBonusMaxYears          int       `json:"simAgeBonusMaxYears" yaml:"simAgeBonusMaxYears"`
	SimAgeBonus                  float64   `json:"simAgeBonus" yaml:"simAgeBonus"`
	SimKmBonusMaxKm              int       `json:"simKmBonusMaxKm" yaml:"simKmBonusMaxKm"`
	SimKmBonus                   float64   `json:"simKmBonus" yaml:"simKmBonus"`
	SimDepreciationPerKm         float64   `json:"simDepreciationPerKm" yaml:"simDepreciationPerKm"`
	SimDepreciationKmCap         int       `json:"simDepreciationKmCap" yaml:"simDepreciationKmCap"`
	SimDepreciationKmCapElectric int       `json:"simDepreciationKmCapElectric" yaml:"simDepreciationKmCapElectric"`
	CreatedAt                    time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt                    time.Time `json:"updatedAt" yaml:"-"`
}

// DepreciationKmCap returns the yearly shared km cap for the fuel type. 0 means uncapped.
func (h *Hub) DepreciationKmCap(electric bool) int {
	if electric {
		return h.SimDepreciationKmCapElectric
	}
	return h.SimDepreciationKmCap
}

// SimulationRegion links the simulation to a fiscal region and regional costs.
type SimulationRegion struct {
	ID                      string    `json:"id" yaml:"id"`
	Name                    string    `json:"name" yaml:"name"`
	IsDefault               bool      `json:"isDefault" yaml:"isDefault"`
	FiscalRegionID          string    `json:"fiscalRegionId" yaml:"fiscalRegionId"`
	SimYearlyInspectionCost float64   `json:"simYearlyInspectionCost" yaml:"simYearlyInspectionCost"`
	CreatedAt               time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt               time.Time `json:"updatedAt" yaml:"-"`
}

// HubBenchmark holds the shared-use mileage reference for one owner mileage bracket.
type HubBenchmark struct {
	ID          string `json:"id" yaml:"id"`
	HubID       string `json:"hubId" yaml:"hubId"`
	OwnerKm     int    `json:"ownerKm" yaml:"ownerKm"`
	SharedMinKm int    `json:"sharedMinKm" yaml:"sharedMinKm"`
	SharedMaxKm int    `json:"sharedMaxKm" yaml:"sharedMaxKm"`
	SharedAvgKm int    `json:"sharedAvgKm" yaml:"sharedAvgKm"`
}

// HubBenchmarkQuery is one pass of the closest-bracket lookup.
// MinOwnerKm nil means no lower bound; Descending picks the largest bracket first.
type HubBenchmarkQuery struct {
	MinOwnerKm *int
	Descending bool
}

// InsurancePriceBenchmark is one car value band of a year's insurance tariff.
// MaxCarValueExclusive is a price boundary; the upstream column was called
// maxMileageExclusive but always held car values.
type InsurancePriceBenchmark struct {
	ID                   string    `json:"id" yaml:"id"`
	Year                 int       `json:"year" yaml:"year"`
	MaxCarValueExclusive float64   `json:"maxCarValueExclusive" yaml:"maxCarValueExclusive"`
	BaseRate             float64   `json:"baseRate" yaml:"baseRate"`
	Rate                 float64   `json:"rate" yaml:"rate"`
	CreatedAt            time.Time `json:"createdAt" yaml:"-"`
}

// SystemParameter is a named numeric setting.
type SystemParameter struct {
	Code        string    `json:"code" yaml:"code"`
	ValueNumber *float64  `json:"valueNumber" yaml:"valueNumber"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// TaxTables groups the tax rows of one fiscal region.
type TaxTables struct {
	BaseRates   []*CarTaxBaseRate           `json:"baseRates"`
	FlatRates   []*CarTaxFlatRate           `json:"flatRates"`
	Adjustments []*CarTaxEuroNormAdjustment `json:"euroNormAdjustments"`
}
