// Package estimator provides the car value and car spec estimators.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Value heuristic constants.
const (
	DefaultCatalogPrice = 25000.0
	yearlyRetention     = 0.85
	residualFloor       = 0.10
	vanFactor           = 1.05
	rangeSpread         = 0.10
)

// HeuristicValueEstimator derives a market value range from the catalog price
// of the car type and a fixed yearly depreciation.
type HeuristicValueEstimator struct {
	ref domain.ReferenceData
}

var _ domain.CarValueEstimator = (*HeuristicValueEstimator)(nil)

// NewHeuristicValueEstimator creates a value estimator reading catalog prices from ref.
func NewHeuristicValueEstimator(ref domain.ReferenceData) *HeuristicValueEstimator {
	return &HeuristicValueEstimator{ref: ref}
}

// EstimateCarValue implements domain.CarValueEstimator.
func (e *HeuristicValueEstimator) EstimateCarValue(ctx context.Context, q domain.CarValueQuery) (*domain.PriceRange, error) {
	price := DefaultCatalogPrice
	if q.CarTypeID != nil {
		ct, err := e.ref.LookupCarType(ctx, *q.CarTypeID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Unknown car types are priced with the default.
		case err != nil:
			return nil, fmt.Errorf("%w: car type lookup: %v", domain.ErrEstimatorUnavailable, err)
		case ct.CatalogPrice > 0:
			price = ct.CatalogPrice
		}
	}

	age := domain.FullYearsBetween(q.FirstRegisteredAt.Time, q.At)
	value := math.Max(price*math.Pow(yearlyRetention, float64(age)), price*residualFloor)
	if q.IsVan {
		value *= vanFactor
	}

	return &domain.PriceRange{
		Min: roundToHundreds(value * (1 - rangeSpread)),
		Max: roundToHundreds(value * (1 + rangeSpread)),
	}, nil
}

func roundToHundreds(v float64) float64 {
	return decimal.NewFromFloat(v).Shift(-2).Round(0).Shift(2).InexactFloat64()
}
