package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

// TaxInput describes the car whose yearly ownership tax is computed.
type TaxInput struct {
	FiscalRegionID    string
	FirstRegisteredAt time.Time
	At                time.Time
	CylinderCc        int
	EuroNormGroup     int
	Diesel            bool
}

// TaxResult is the computed tax and the regime that produced it.
type TaxResult struct {
	Amount   float64
	Flat     bool
	FiscalHp int
}

// TaxCalculator selects between the flat and the base-rate regime of a
// fiscal region and computes the yearly ownership tax.
type TaxCalculator struct {
	ref domain.ReferenceData
}

// NewTaxCalculator creates a tax calculator over ref.
func NewTaxCalculator(ref domain.ReferenceData) *TaxCalculator {
	return &TaxCalculator{ref: ref}
}

// ResolveFiscalRegion follows town, province and fiscal region when a town is
// given, and uses the simulation region otherwise.
func (c *TaxCalculator) ResolveFiscalRegion(ctx context.Context, townID *string, region *domain.SimulationRegion) (string, error) {
	if townID != nil {
		town, err := c.ref.LookupTown(ctx, *townID)
		if err != nil {
			return "", fmt.Errorf("town %s: %w", *townID, err)
		}
		province, err := c.ref.LookupProvince(ctx, town.ProvinceID)
		if err != nil {
			return "", fmt.Errorf("province %s: %w", town.ProvinceID, err)
		}
		return province.FiscalRegionID, nil
	}
	if region == nil || region.FiscalRegionID == "" {
		return "", domain.NewBenchmarkNotFound("fiscal_regions", "simulation region without fiscal region")
	}
	return region.FiscalRegionID, nil
}

// Calculate returns the yearly tax. A missing rate or adjustment row is a
// *domain.BenchmarkNotFoundError.
func (c *TaxCalculator) Calculate(ctx context.Context, in TaxInput) (*TaxResult, error) {
	// Cars registered once the flat regime started are taxed flat.
	first, err := c.ref.FindFlatRate(ctx, in.FiscalRegionID, in.FirstRegisteredAt)
	if err != nil {
		return nil, err
	}
	if first != nil {
		flat, err := c.ref.FindFlatRate(ctx, in.FiscalRegionID, in.At)
		if err != nil {
			return nil, err
		}
		if flat == nil {
			return nil, domain.NewBenchmarkNotFound("car_tax_flat_rates", "region %s at %s", in.FiscalRegionID, domain.NewDate(in.At))
		}
		return &TaxResult{Amount: RoundMoney(flat.Rate), Flat: true}, nil
	}

	hp := FiscalHorsePower(in.CylinderCc)
	base, err := c.ref.FindBaseRate(ctx, in.FiscalRegionID, in.CylinderCc, hp, in.At)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, domain.NewBenchmarkNotFound("car_tax_base_rates", "region %s, %d cc, %d hp at %s",
			in.FiscalRegionID, in.CylinderCc, hp, domain.NewDate(in.At))
	}

	adj, err := c.ref.FindEuroNormAdjustment(ctx, in.FiscalRegionID, in.EuroNormGroup)
	if err != nil {
		return nil, err
	}
	if adj == nil {
		return nil, domain.NewBenchmarkNotFound("car_tax_euro_norm_adjustments", "region %s, euro norm group %d",
			in.FiscalRegionID, in.EuroNormGroup)
	}

	adjustment := adj.DefaultAdjustment
	if in.Diesel {
		adjustment = adj.DieselAdjustment
	}
	return &TaxResult{
		Amount:   RoundMoney(base.Rate + adjustment),
		FiscalHp: hp,
	}, nil
}
