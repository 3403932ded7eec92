package simulation

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/carsim/internal/domain"
)

// RoundMoney rounds to the nearest whole unit, halves away from zero.
func RoundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(0).InexactFloat64()
}

// CalculateOwnerKmPerYear spreads km over the full years since first
// registration. Cars younger than a year count as one year.
func CalculateOwnerKmPerYear(km int, firstRegisteredAt, ref time.Time) int {
	years := max(domain.FullYearsBetween(firstRegisteredAt, ref), 1)
	return int(decimal.NewFromInt(int64(km)).
		Div(decimal.NewFromInt(int64(years))).
		Round(0).
		IntPart())
}

// FormatPriceInThousands renders a price rounded half up to thousands, e.g. "15k".
func FormatPriceInThousands(price float64) string {
	k := decimal.NewFromFloat(price).Shift(-3).Round(0).IntPart()
	return strconv.FormatInt(k, 10) + "k"
}

// formatMoney renders an amount with at most two decimals.
func formatMoney(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

// fiscalHpBands maps the upper cylinder capacity of each band to its fiscal
// horsepower, starting at 4 hp.
var fiscalHpBands = []int{750, 990, 1210, 1430, 1660, 1890, 2100, 2320, 2540, 2760, 2980, 3200, 3420, 3640, 3860, 4080, 4300}

// FiscalHorsePower returns the fiscal horsepower for a cylinder capacity.
// Above the table every further 220 cc adds one horsepower.
func FiscalHorsePower(cc int) int {
	for i, maxCc := range fiscalHpBands {
		if cc <= maxCc {
			return 4 + i
		}
	}
	last := fiscalHpBands[len(fiscalHpBands)-1]
	top := 4 + len(fiscalHpBands) - 1
	return top + (cc-last+219)/220
}
