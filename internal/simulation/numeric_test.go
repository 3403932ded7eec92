package simulation

import (
	"testing"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

func TestRoundMoney(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{544.5, 545},
		{544.49, 544},
		{-0.5, -1},
		{0.5, 1},
		{1000, 1000},
	}
	for _, tt := range tests {
		if got := RoundMoney(tt.in); got != tt.want {
			t.Errorf("RoundMoney(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCalculateOwnerKmPerYear(t *testing.T) {
	ref := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		km    int
		first string
		want  int
	}{
		{"three full years", 30000, "2022-03-01", 10000},
		{"younger than a year", 5000, "2025-01-01", 5000},
		{"anniversary not reached", 10000, "2022-07-01", 5000},
		{"rounded", 10000, "2022-01-01", 3333},
		{"no km", 0, "2020-01-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateOwnerKmPerYear(tt.km, domain.MustDate(tt.first).Time, ref)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOwnerKmPerYearReferenceDates(t *testing.T) {
	tests := []struct {
		km         int
		first, ref string
		want       int
	}{
		{50000, "2020-01-01", "2025-01-01", 10000},
		{5000, "2024-01-01", "2024-06-01", 5000},
		{10000, "2022-01-01", "2025-01-01", 3333},
	}
	for _, tt := range tests {
		got := CalculateOwnerKmPerYear(tt.km, domain.MustDate(tt.first).Time, domain.MustDate(tt.ref).Time)
		if got != tt.want {
			t.Errorf("CalculateOwnerKmPerYear(%d, %s, %s) = %d, want %d", tt.km, tt.first, tt.ref, got, tt.want)
		}
	}
}

func TestFormatPriceInThousands(t *testing.T) {
	tests := map[float64]string{
		15000: "15k",
		15400: "15k",
		15600: "16k",
		15499: "15k",
		14999: "15k",
		15500: "16k",
		8855:  "9k",
		0:     "0k",
	}
	for in, want := range tests {
		if got := FormatPriceInThousands(in); got != want {
			t.Errorf("FormatPriceInThousands(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFiscalHorsePower(t *testing.T) {
	tests := []struct {
		cc, want int
	}{
		{0, 4},
		{750, 4},
		{751, 5},
		{1600, 8},
		{1660, 8},
		{1661, 9},
		{4300, 20},
		{4301, 21},
		{4520, 21},
		{4521, 22},
	}
	for _, tt := range tests {
		if got := FiscalHorsePower(tt.cc); got != tt.want {
			t.Errorf("FiscalHorsePower(%d) = %d, want %d", tt.cc, got, tt.want)
		}
	}
}

func TestInsuranceFee(t *testing.T) {
	band := &domain.InsurancePriceBenchmark{BaseRate: 395, Rate: 0.015}
	if got := InsuranceFee(band, 10000); got != 545 {
		t.Errorf("expected 545, got %v", got)
	}
	if got := InsuranceFee(band, 10033); got != 545 {
		t.Errorf("expected fee rounded to 545, got %v", got)
	}
}

func TestPricing(t *testing.T) {
	hub := &domain.Hub{SimDepreciationPerKm: 0.05, SimDepreciationKmCap: 20000, SimDepreciationKmCapElectric: 25000}
	bench := &domain.HubBenchmark{OwnerKm: 24000, SharedAvgKm: 30000}

	t.Run("car value midpoint", func(t *testing.T) {
		if got := CarValue(&domain.PriceRange{Min: 9000, Max: 11001}); got != 10001 {
			t.Errorf("expected 10001, got %v", got)
		}
	})

	t.Run("depreciation caps", func(t *testing.T) {
		tests := []struct {
			name     string
			hub      *domain.Hub
			electric bool
			amount   float64
			km       int
		}{
			{"combustion", hub, false, 1000, 20000},
			{"electric", hub, true, 1250, 25000},
			{"uncapped", &domain.Hub{SimDepreciationPerKm: 0.05}, false, 1500, 30000},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				amount, km := Depreciation(bench, tt.hub, tt.electric)
				if amount != tt.amount || km != tt.km {
					t.Errorf("got %v for %d km, want %v for %d km", amount, km, tt.amount, tt.km)
				}
			})
		}
	})

	t.Run("no benchmark", func(t *testing.T) {
		if amount, km := Depreciation(nil, hub, false); amount != 0 || km != 0 {
			t.Errorf("expected no depreciation, got %v/%d", amount, km)
		}
	})

	t.Run("carrying cost", func(t *testing.T) {
		got := CarryingCost(350, 545, &domain.SimulationRegion{SimYearlyInspectionCost: 100})
		if got != 995 {
			t.Errorf("expected 995, got %v", got)
		}
	})

	t.Run("adjustments", func(t *testing.T) {
		got := SumAdjustments([]domain.AdjustmentResult{
			{Applied: true, Amount: 250},
			{Applied: false, Amount: 300},
			{Applied: true, Amount: -50.5},
		})
		if got != 199.5 {
			t.Errorf("expected 199.5, got %v", got)
		}
	})

	t.Run("price", func(t *testing.T) {
		if got := EstimatePrice(10000, 900, 995, 750); got != 8855 {
			t.Errorf("expected 8855, got %v", got)
		}
		if got := EstimatePrice(1000, 900, 995, 0); got != 0 {
			t.Errorf("expected price floored at 0, got %v", got)
		}
		if got := EstimatePrice(1000.4, 0, 0, 0.2); got != 1001 {
			t.Errorf("expected single rounding to 1001, got %v", got)
		}
	})
}
