package estimator

import (
	"context"
	"fmt"

	"github.com/opensource-finance/carsim/internal/domain"
)

type fuelProfile struct {
	cc       int
	co2      int
	ecoscore int
}

var fuelProfiles = map[string]fuelProfile{
	domain.FuelDiesel:   {cc: 1600, co2: 135, ecoscore: 58},
	domain.FuelPetrol:   {cc: 1400, co2: 130, ecoscore: 64},
	domain.FuelElectric: {cc: 0, co2: 0, ecoscore: 84},
	domain.FuelHybrid:   {cc: 1800, co2: 100, ecoscore: 72},
	domain.FuelLPG:      {cc: 1400, co2: 118, ecoscore: 66},
	domain.FuelCNG:      {cc: 1400, co2: 110, ecoscore: 68},
}

// FallbackSpecEstimator returns typical specs per fuel type and model year.
// It is used when no spec service is configured and always gives the same
// answer for the same query.
type FallbackSpecEstimator struct {
	ref domain.ReferenceData
}

var _ domain.CarSpecEstimator = (*FallbackSpecEstimator)(nil)

// NewFallbackSpecEstimator creates a fallback estimator resolving fuel codes through ref.
func NewFallbackSpecEstimator(ref domain.ReferenceData) *FallbackSpecEstimator {
	return &FallbackSpecEstimator{ref: ref}
}

// EstimateCarSpecs implements domain.CarSpecEstimator.
func (e *FallbackSpecEstimator) EstimateCarSpecs(ctx context.Context, q domain.CarSpecQuery) (*domain.CarSpecs, error) {
	fuel, err := e.ref.LookupFuelType(ctx, q.FuelTypeID)
	if err != nil {
		return nil, fmt.Errorf("%w: fuel type lookup: %v", domain.ErrEstimatorUnavailable, err)
	}
	profile, ok := fuelProfiles[fuel.Code]
	if !ok {
		profile = fuelProfiles[domain.FuelPetrol]
	}

	// Newer cars emit less; ten percent per decade before 2020.
	co2 := profile.co2
	ecoscore := profile.ecoscore
	if q.Year > 0 && q.Year < 2020 && co2 > 0 {
		decades := (2020 - q.Year + 9) / 10
		co2 += co2 * decades / 10
		ecoscore -= 4 * decades
	}

	return &domain.CarSpecs{
		CylinderCc:   profile.cc,
		CO2Emission:  co2,
		Ecoscore:     max(ecoscore, 0),
		EuroNormCode: euroNormForYear(q.Year, fuel.Code),
	}, nil
}

func euroNormForYear(year int, fuel string) *string {
	if fuel == domain.FuelElectric {
		return nil
	}
	var code string
	switch {
	case year >= 2015:
		code = "EURO6"
	case year >= 2011:
		code = "EURO5"
	case year >= 2006:
		code = "EURO4"
	case year >= 2001:
		code = "EURO3"
	default:
		return nil
	}
	return &code
}
