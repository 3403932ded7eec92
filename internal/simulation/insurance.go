package simulation

import (
	"context"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

// InsuranceResult is the yearly fee and the tariff band it came from.
type InsuranceResult struct {
	Fee       float64
	Benchmark *domain.InsurancePriceBenchmark
}

// InsuranceCalculator estimates the yearly insurance fee from the tariff of
// the evaluation year. Other years are never consulted.
type InsuranceCalculator struct {
	ref domain.ReferenceData
}

// NewInsuranceCalculator creates an insurance calculator over ref.
func NewInsuranceCalculator(ref domain.ReferenceData) *InsuranceCalculator {
	return &InsuranceCalculator{ref: ref}
}

// Calculate returns round(baseRate + carValue * rate) for the tightest band
// above carValue.
func (c *InsuranceCalculator) Calculate(ctx context.Context, carValue float64, at time.Time) (*InsuranceResult, error) {
	year := at.Year()
	band, err := c.ref.FindMostRecentInsuranceBenchmark(ctx, year, carValue)
	if err != nil {
		return nil, err
	}
	if band == nil {
		return nil, domain.NewBenchmarkNotFound("insurance_price_benchmarks", "year %d, car value %s", year, formatMoney(carValue))
	}
	return &InsuranceResult{
		Fee:       InsuranceFee(band, carValue),
		Benchmark: band,
	}, nil
}

// InsuranceFee applies a tariff band to a car value.
func InsuranceFee(band *domain.InsurancePriceBenchmark, carValue float64) float64 {
	return RoundMoney(band.BaseRate + carValue*band.Rate)
}
