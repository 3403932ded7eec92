package simulation

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/carsim/internal/domain"
)

// CarValue is the midpoint of an estimated price range.
func CarValue(r *domain.PriceRange) float64 {
	return RoundMoney((r.Min + r.Max) / 2)
}

// Depreciation charges the shared-use mileage of the matched bracket, capped
// per fuel kind, at the hub's per km rate. It returns the amount and the km
// it was computed for.
func Depreciation(b *domain.HubBenchmark, hub *domain.Hub, electric bool) (float64, int) {
	if b == nil || hub == nil {
		return 0, 0
	}
	km := b.SharedAvgKm
	if limit := hub.DepreciationKmCap(electric); limit > 0 {
		km = min(km, limit)
	}
	amount := decimal.NewFromInt(int64(km)).Mul(decimal.NewFromFloat(hub.SimDepreciationPerKm))
	return amount.InexactFloat64(), km
}

// CarryingCost is the yearly cost of keeping the car on the road.
func CarryingCost(tax, insurance float64, region *domain.SimulationRegion) float64 {
	total := decimal.NewFromFloat(tax).Add(decimal.NewFromFloat(insurance))
	if region != nil {
		total = total.Add(decimal.NewFromFloat(region.SimYearlyInspectionCost))
	}
	return total.InexactFloat64()
}

// SumAdjustments adds the amounts of the applied adjustments.
func SumAdjustments(results []domain.AdjustmentResult) float64 {
	sum := decimal.Zero
	for _, r := range results {
		if r.Applied {
			sum = sum.Add(decimal.NewFromFloat(r.Amount))
		}
	}
	return sum.InexactFloat64()
}

// EstimatePrice combines the components and rounds once. The price never
// goes below zero.
func EstimatePrice(carValue, depreciation, carryingCost, adjustments float64) float64 {
	price := decimal.NewFromFloat(carValue).
		Sub(decimal.NewFromFloat(depreciation)).
		Sub(decimal.NewFromFloat(carryingCost)).
		Add(decimal.NewFromFloat(adjustments)).
		Round(0)
	if price.IsNegative() {
		return 0
	}
	return price.InexactFloat64()
}
