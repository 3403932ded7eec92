package simulation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/i18n"
	"github.com/opensource-finance/carsim/internal/rules"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type harness struct {
	ref    *memRef
	values *fakeValues
	specs  *fakeSpecs
	rules  *rules.Engine
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, testNow)
}

func newHarnessAt(t *testing.T, now time.Time) *harness {
	t.Helper()
	re, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	t.Cleanup(func() { re.Close() })

	h := &harness{
		ref:    fixtureRef(),
		values: &fakeValues{r: &domain.PriceRange{Min: 9000, Max: 11000}},
		specs:  &fakeSpecs{specs: &domain.CarSpecs{CylinderCc: 1600, CO2Emission: 120, Ecoscore: 72}},
		rules:  re,
	}
	h.engine = NewEngine(h.ref, h.values, h.specs, re, i18n.MustLoad("en"),
		WithClock(func() time.Time { return now }),
	)
	return h
}

// golfRequest is a three year old petrol car: value 10000, tax 350,
// insurance 545, inspection 100, depreciation 900 and all three bonuses.
func golfRequest() *domain.SimulationRequest {
	return &domain.SimulationRequest{
		BrandID:           brandVW,
		FuelTypeID:        fuelPetrol,
		CarTypeID:         ptr(carTypeGolf),
		Km:                30000,
		FirstRegisteredAt: domain.MustDate("2022-03-01"),
	}
}

func stepCodes(sim *domain.Simulation) []domain.StepCode {
	codes := make([]domain.StepCode, len(sim.Steps))
	for i, s := range sim.Steps {
		codes[i] = s.Code
	}
	return codes
}

func stepOf(sim *domain.Simulation, code domain.StepCode) *domain.SimulationStep {
	for i := range sim.Steps {
		if sim.Steps[i].Code == code {
			return &sim.Steps[i]
		}
	}
	return nil
}

func lastStep(sim *domain.Simulation) domain.SimulationStep {
	return sim.Steps[len(sim.Steps)-1]
}

func assertManualReview(t *testing.T, sim *domain.Simulation, failing domain.StepCode, phase domain.Phase) {
	t.Helper()
	if sim.ResultCode != domain.ResultManualReview {
		t.Fatalf("expected MANUAL_REVIEW, got %s (%v)", sim.ResultCode, stepCodes(sim))
	}
	if sim.EstimatedPrice != nil {
		t.Errorf("manual review must not carry a price, got %v", *sim.EstimatedPrice)
	}
	n := len(sim.Steps)
	if n < 2 || sim.Steps[n-2].Code != failing || sim.Steps[n-2].Status != domain.StepNotOK {
		t.Errorf("expected %s NOT_OK before the review step, got %v", failing, stepCodes(sim))
	}
	last := lastStep(sim)
	if last.Code != domain.StepManualReview || last.Status != domain.StepInfo {
		t.Errorf("expected final MANUAL_REVIEW INFO step, got %+v", last)
	}
	if !strings.Contains(last.Message, string(phase)) {
		t.Errorf("expected review message to name %s, got %q", phase, last.Message)
	}
}

func TestEngineOK(t *testing.T) {
	h := newHarness(t)

	sim, err := h.engine.Run(context.Background(), golfRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []domain.StepCode{
		domain.StepReferenceData,
		domain.StepHubConfiguration,
		domain.StepCarAge,
		domain.StepCarKm,
		domain.StepEuroNormDiesel,
		domain.StepCarValue,
		domain.StepCarSpecs,
		domain.StepOwnershipTax,
		domain.StepInsurance,
		domain.StepHubBenchmark,
		domain.StepDepreciation,
		domain.StepCarryingCost,
		domain.StepEcoscoreBonus,
		domain.StepAgeBonus,
		domain.StepKmBonus,
		domain.StepEstimatedPrice,
	}
	if got := stepCodes(sim); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected trace:\n got %v\nwant %v", got, want)
	}
	if sim.ResultCode != domain.ResultOK {
		t.Errorf("expected OK, got %s", sim.ResultCode)
	}
	// 10000 - 900 - (350 + 545 + 100) + 250 + 300 + 200
	if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8855 {
		t.Fatalf("expected price 8855, got %v", sim.EstimatedPrice)
	}
	for _, code := range []domain.StepCode{domain.StepEcoscoreBonus, domain.StepAgeBonus, domain.StepKmBonus} {
		if s := stepOf(sim, code); s.Status != domain.StepOK {
			t.Errorf("%s: expected OK, got %s", code, s.Status)
		}
	}
	if s := stepOf(sim, domain.StepInsurance); s.Status != domain.StepInfo || !strings.Contains(s.Message, "545") {
		t.Errorf("unexpected insurance step: %+v", s)
	}
	if msg := lastStep(sim).Message; msg != "Estimated buy-back price 9k" {
		t.Errorf("unexpected price message %q", msg)
	}
	if sim.ID != "" || sim.BrandID != brandVW || sim.Km != 30000 {
		t.Errorf("unexpected simulation header: %+v", sim)
	}
}

func TestEngineLocale(t *testing.T) {
	h := newHarness(t)

	ctx := i18n.WithLocale(context.Background(), "nl")
	sim, err := h.engine.Run(ctx, golfRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if msg := lastStep(sim).Message; msg != "Geschatte overnameprijs 9k" {
		t.Errorf("unexpected dutch message %q", msg)
	}
}

func TestEngineBonusesNotApplied(t *testing.T) {
	h := newHarness(t)
	h.specs.specs.Ecoscore = 60

	req := golfRequest()
	req.FirstRegisteredAt = domain.MustDate("2018-01-01")
	req.Km = 90000

	sim, err := h.engine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, code := range []domain.StepCode{domain.StepEcoscoreBonus, domain.StepAgeBonus, domain.StepKmBonus} {
		s := stepOf(sim, code)
		if s == nil || s.Status != domain.StepInfo {
			t.Errorf("%s: expected INFO step, got %+v", code, s)
		}
	}
	// 90000 km over 7 years matches the 15000 bracket: 10000 - 900 - 995.
	if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8105 {
		t.Errorf("expected price 8105, got %v", sim.EstimatedPrice)
	}
}

func TestEngineBonusNotConfigured(t *testing.T) {
	h := newHarness(t)
	h.ref.hubs[hubMain].SimEcoscoreBonusThreshold = 0

	sim, err := h.engine.Run(context.Background(), golfRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := stepOf(sim, domain.StepEcoscoreBonus)
	if s == nil || s.Status != domain.StepInfo || s.Message != "No ecoscore bonus is configured for this hub" {
		t.Errorf("expected unconfigured ecoscore bonus step, got %+v", s)
	}
	if s := stepOf(sim, domain.StepAgeBonus); s == nil || s.Status != domain.StepOK {
		t.Errorf("age bonus should still apply, got %+v", s)
	}
	if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8605 {
		t.Errorf("expected price 8605 without the ecoscore bonus, got %v", sim.EstimatedPrice)
	}
}

func TestEngineEligibility(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness, req *domain.SimulationRequest)
		failing domain.StepCode
	}{
		{
			name: "too old",
			setup: func(h *harness, req *domain.SimulationRequest) {
				req.FirstRegisteredAt = domain.MustDate("2005-01-01")
			},
			failing: domain.StepCarAge,
		},
		{
			name: "too many km",
			setup: func(h *harness, req *domain.SimulationRequest) {
				req.Km = 260000
			},
			failing: domain.StepCarKm,
		},
		{
			name: "km limit from system parameter",
			setup: func(h *harness, req *domain.SimulationRequest) {
				h.ref.params[domain.ParamMaxKm] = 20000
			},
			failing: domain.StepCarKm,
		},
		{
			name: "diesel below minimum euro norm",
			setup: func(h *harness, req *domain.SimulationRequest) {
				h.ref.params[domain.ParamMaxAgeYears] = 20
				req.FuelTypeID = fuelDiesel
				req.FirstRegisteredAt = domain.MustDate("2008-06-01")
			},
			failing: domain.StepEuroNormDiesel,
		},
		{
			name: "diesel older than every euro norm",
			setup: func(h *harness, req *domain.SimulationRequest) {
				h.ref.params[domain.ParamMaxAgeYears] = 30
				req.FuelTypeID = fuelDiesel
				req.FirstRegisteredAt = domain.MustDate("2003-06-01")
			},
			failing: domain.StepEuroNormDiesel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := golfRequest()
			tt.setup(h, req)

			sim, err := h.engine.Run(context.Background(), req)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if sim.ResultCode != domain.ResultNotOK {
				t.Fatalf("expected NOT_OK, got %s", sim.ResultCode)
			}
			if sim.EstimatedPrice != nil {
				t.Error("rejected simulation must not carry a price")
			}
			last := lastStep(sim)
			if last.Code != tt.failing || last.Status != domain.StepNotOK {
				t.Errorf("expected trace to end with %s NOT_OK, got %v", tt.failing, stepCodes(sim))
			}
			if stepOf(sim, domain.StepCarValue) != nil {
				t.Error("rejected simulation must not contain value estimation steps")
			}
			if h.values.calls.Load() != 0 || h.specs.calls.Load() != 0 {
				t.Error("estimators must not run for rejected cars")
			}
			for _, s := range sim.Steps[:len(sim.Steps)-1] {
				if s.Status == domain.StepNotOK {
					t.Errorf("only the last step may fail, got %+v", s)
				}
			}
		})
	}

	t.Run("recent diesel passes", func(t *testing.T) {
		h := newHarness(t)
		req := golfRequest()
		req.FuelTypeID = fuelDiesel
		req.FirstRegisteredAt = domain.MustDate("2016-05-01")

		sim, err := h.engine.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if s := stepOf(sim, domain.StepEuroNormDiesel); s.Status != domain.StepOK {
			t.Errorf("expected EURO_NORM_DIESEL OK, got %+v", s)
		}
		if sim.ResultCode != domain.ResultOK {
			t.Errorf("expected OK, got %s", sim.ResultCode)
		}
	})
}

func TestEngineManualReview(t *testing.T) {
	t.Run("no insurance tariff for the year", func(t *testing.T) {
		h := newHarnessAt(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
		sim, err := h.engine.Run(context.Background(), golfRequest())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		assertManualReview(t, sim, domain.StepInsurance, domain.PhaseTaxAndInsurance)
		if stepOf(sim, domain.StepOwnershipTax) == nil {
			t.Error("steps recorded before the failure must be kept")
		}
	})

	t.Run("value estimator unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.values.err = domain.ErrEstimatorUnavailable
		sim, err := h.engine.Run(context.Background(), golfRequest())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		assertManualReview(t, sim, domain.StepCarValue, domain.PhaseValueEstimation)
		if stepOf(sim, domain.StepCarSpecs) != nil {
			t.Error("spec estimation must not be recorded after a value failure")
		}
	})

	t.Run("spec estimator unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.specs.err = errors.New("connection refused")
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		assertManualReview(t, sim, domain.StepCarSpecs, domain.PhaseSpecEstimation)
		if s := stepOf(sim, domain.StepCarValue); s == nil || s.Status != domain.StepOK {
			t.Error("value estimation should have succeeded")
		}
	})

	t.Run("no base rate for engine size", func(t *testing.T) {
		h := newHarness(t)
		h.specs.specs.CylinderCc = 5000
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		assertManualReview(t, sim, domain.StepOwnershipTax, domain.PhaseTaxAndInsurance)
	})

	t.Run("benchmark lookup fails", func(t *testing.T) {
		h := newHarness(t)
		h.ref.benchmarkErr = errors.New("database is locked")
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		assertManualReview(t, sim, domain.StepHubBenchmark, domain.PhaseTaxAndInsurance)
	})

	t.Run("no default hub", func(t *testing.T) {
		h := newHarness(t)
		h.ref.hubs[hubMain].IsDefault = false
		sim, err := h.engine.Run(context.Background(), golfRequest())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		assertManualReview(t, sim, domain.StepHubConfiguration, domain.PhaseInputValidation)
		if h.values.calls.Load() != 0 {
			t.Error("estimators must not run without a hub")
		}
	})

	t.Run("no default simulation region", func(t *testing.T) {
		h := newHarness(t)
		h.ref.regions[regionMain].IsDefault = false
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		assertManualReview(t, sim, domain.StepHubConfiguration, domain.PhaseInputValidation)
	})

	t.Run("custom rule fails", func(t *testing.T) {
		h := newHarness(t)
		err := h.rules.ReloadRules([]*domain.AdjustmentRule{
			{ID: "div", Name: "Broken rule", Condition: "true", Amount: "int(km) / 0", Enabled: true},
		})
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		assertManualReview(t, sim, domain.StepCustomAdjustment, domain.PhasePriceAggregation)
		if s := sim.Steps[len(sim.Steps)-2]; !strings.Contains(s.Message, "Broken rule") {
			t.Errorf("expected failing rule name in message, got %q", s.Message)
		}
	})
}

func TestEngineGatewayFailures(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		request func() *domain.SimulationRequest
		failing domain.StepCode
		phase   domain.Phase
	}{
		{"brand lookup", "LookupBrand", golfRequest, domain.StepReferenceData, domain.PhaseInputValidation},
		{"default hub", "GetDefaultHub", golfRequest, domain.StepHubConfiguration, domain.PhaseInputValidation},
		{"requested hub", "GetHub", func() *domain.SimulationRequest {
			req := golfRequest()
			req.HubID = ptr(hubMain)
			return req
		}, domain.StepHubConfiguration, domain.PhaseInputValidation},
		{"default simulation region", "GetDefaultSimulationRegion", golfRequest, domain.StepHubConfiguration, domain.PhaseInputValidation},
		{"system parameter", "GetSystemParameter", golfRequest, domain.StepCarAge, domain.PhaseEligibility},
		{"euro norm search", "SearchEuroNorms", golfRequest, domain.StepEuroNormDiesel, domain.PhaseEligibility},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ref := &flakyRef{memRef: h.ref, method: tt.method, err: errors.New("connection reset")}
			engine := NewEngine(ref, h.values, h.specs, h.rules, i18n.MustLoad("en"),
				WithClock(func() time.Time { return testNow }),
			)

			sim, err := engine.Run(context.Background(), tt.request())
			if err != nil {
				t.Fatalf("gateway failure must not fail the run, got %v", err)
			}
			assertManualReview(t, sim, tt.failing, tt.phase)
			if msg := sim.Steps[len(sim.Steps)-2].Message; !strings.Contains(msg, "connection reset") {
				t.Errorf("expected gateway error in step message, got %q", msg)
			}
			if h.values.calls.Load() != 0 {
				t.Error("estimators must not run after an early gateway failure")
			}
		})
	}
}

func TestEngineTaxRegimes(t *testing.T) {
	t.Run("flat regime after its start", func(t *testing.T) {
		h := newHarness(t)
		h.ref.flatRates = append(h.ref.flatRates, &domain.CarTaxFlatRate{
			ID: "flat", FiscalRegionID: fiscalMain, Rate: 150, StartDate: domain.MustDate("2021-01-01"),
		})
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 9055 {
			t.Errorf("expected price 9055 with flat tax, got %v", sim.EstimatedPrice)
		}
		if msg := stepOf(sim, domain.StepOwnershipTax).Message; !strings.Contains(msg, "Flat-rate") {
			t.Errorf("expected flat tax message, got %q", msg)
		}
	})

	t.Run("base regime before flat start", func(t *testing.T) {
		h := newHarness(t)
		h.ref.flatRates = append(h.ref.flatRates, &domain.CarTaxFlatRate{
			ID: "flat", FiscalRegionID: fiscalMain, Rate: 150, StartDate: domain.MustDate("2023-01-01"),
		})
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8855 {
			t.Errorf("expected base regime price 8855, got %v", sim.EstimatedPrice)
		}
	})

	t.Run("town selects its fiscal region", func(t *testing.T) {
		h := newHarness(t)
		h.ref.flatRates = append(h.ref.flatRates, &domain.CarTaxFlatRate{
			ID: "flat-other", FiscalRegionID: fiscalOther, Rate: 150, StartDate: domain.MustDate("2021-01-01"),
		})
		req := golfRequest()
		req.TownID = ptr(townA)
		sim, _ := h.engine.Run(context.Background(), req)
		if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 9055 {
			t.Errorf("expected town region flat tax, got %v", sim.EstimatedPrice)
		}
	})

	t.Run("estimated euro norm overrides registration date", func(t *testing.T) {
		h := newHarness(t)
		h.specs.specs.EuroNormCode = ptr("EURO5")
		sim, _ := h.engine.Run(context.Background(), golfRequest())
		// Group 5 adds 10 to the base rate.
		if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8845 {
			t.Errorf("expected price 8845, got %v", sim.EstimatedPrice)
		}
	})
}

func TestEngineWithoutBenchmarks(t *testing.T) {
	h := newHarness(t)
	h.ref.hubBench = nil

	sim, err := h.engine.Run(context.Background(), golfRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if s := stepOf(sim, domain.StepHubBenchmark); s.Status != domain.StepInfo {
		t.Errorf("expected HUB_BENCHMARK INFO, got %+v", s)
	}
	if msg := stepOf(sim, domain.StepDepreciation).Message; msg != "No depreciation without a mileage benchmark" {
		t.Errorf("unexpected depreciation message %q", msg)
	}
	if sim.EstimatedPrice == nil || *sim.EstimatedPrice != 9755 {
		t.Errorf("expected price 9755, got %v", sim.EstimatedPrice)
	}
	if h.ref.benchmarkCalls.Load() != 2 {
		t.Errorf("expected two benchmark lookups, got %d", h.ref.benchmarkCalls.Load())
	}
}

func TestEngineCustomAdjustments(t *testing.T) {
	h := newHarness(t)
	err := h.rules.ReloadRules([]*domain.AdjustmentRule{
		{ID: "van", Name: "Van malus", Condition: "is_van", Amount: "-400.0", Enabled: true},
		{ID: "petrol", Name: "Petrol malus", Condition: "fuel == 'petrol'", Amount: "-55", Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	sim, _ := h.engine.Run(context.Background(), golfRequest())
	var custom []domain.SimulationStep
	for _, s := range sim.Steps {
		if s.Code == domain.StepCustomAdjustment {
			custom = append(custom, s)
		}
	}
	if len(custom) != 2 {
		t.Fatalf("expected 2 custom steps, got %d", len(custom))
	}
	if custom[0].Status != domain.StepInfo || custom[1].Status != domain.StepOK {
		t.Errorf("unexpected custom statuses: %+v", custom)
	}
	if *sim.EstimatedPrice != 8800 {
		t.Errorf("expected price 8800, got %v", *sim.EstimatedPrice)
	}
}

func TestEngineValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(req *domain.SimulationRequest)
	}{
		{"unknown brand", func(req *domain.SimulationRequest) { req.BrandID = "00000000-0000-0000-0000-000000000001" }},
		{"unknown fuel type", func(req *domain.SimulationRequest) { req.FuelTypeID = "00000000-0000-0000-0000-000000000002" }},
		{"unknown car type", func(req *domain.SimulationRequest) { req.CarTypeID = ptr("00000000-0000-0000-0000-000000000003") }},
		{"unknown hub", func(req *domain.SimulationRequest) { req.HubID = ptr("00000000-0000-0000-0000-000000000004") }},
		{"unknown town", func(req *domain.SimulationRequest) { req.TownID = ptr("00000000-0000-0000-0000-000000000005") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := golfRequest()
			tt.modify(req)

			sim, err := h.engine.Run(context.Background(), req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if sim != nil {
				t.Error("no simulation expected on validation error")
			}
		})
	}

	t.Run("car type of another brand", func(t *testing.T) {
		h := newHarness(t)
		h.ref.carTypes[carTypeGolf].BrandID = "other"
		if _, err := h.engine.Run(context.Background(), golfRequest()); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestEngineDeterministic(t *testing.T) {
	h := newHarness(t)

	first, err := h.engine.Run(context.Background(), golfRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for n := 0; n < 5; n++ {
		again, err := h.engine.Run(context.Background(), golfRequest())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if again.ResultCode != first.ResultCode || !reflect.DeepEqual(again.Steps, first.Steps) {
			t.Fatalf("runs differ:\n%+v\n%+v", first.Steps, again.Steps)
		}
	}
}
