package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/rules"
)

var tracer = otel.Tracer("carsim-simulation")

// Engine runs the simulation pipeline:
// INPUT_VALIDATION, ELIGIBILITY, VALUE_ESTIMATION, SPEC_ESTIMATION,
// TAX_AND_INSURANCE, PRICE_AGGREGATION and DONE. Eligibility failures end
// in REJECTED, later failures in MANUAL_REVIEW.
type Engine struct {
	ref      domain.ReferenceData
	values   domain.CarValueEstimator
	specs    domain.CarSpecEstimator
	rules    *rules.Engine
	messages domain.MessageRenderer

	eligibility *EligibilityEvaluator
	tax         *TaxCalculator
	insurance   *InsuranceCalculator
	benchmarks  *HubBenchmarkMatcher

	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine wires the engine collaborators.
func NewEngine(ref domain.ReferenceData, values domain.CarValueEstimator, specs domain.CarSpecEstimator,
	adjustments *rules.Engine, messages domain.MessageRenderer, opts ...Option) *Engine {
	e := &Engine{
		ref:         ref,
		values:      values,
		specs:       specs,
		rules:       adjustments,
		messages:    messages,
		eligibility: NewEligibilityEvaluator(messages),
		tax:         NewTaxCalculator(ref),
		insurance:   NewInsuranceCalculator(ref),
		benchmarks:  NewHubBenchmarkMatcher(ref),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

type outcome int

const (
	proceed outcome = iota
	rejected
	manualReview
)

// run holds the state of one simulation. Nothing in it is shared.
type run struct {
	*Engine
	req *domain.SimulationRequest
	b   *ResultBuilder
	now time.Time

	brand   *domain.Brand
	fuel    *domain.FuelType
	carType *domain.CarType
	hub     *domain.Hub
	region  *domain.SimulationRegion

	ageYears      int
	euroNormGroup int
	priceRange    *domain.PriceRange
	carSpecs      *domain.CarSpecs
	carValue      float64
	taxGroup      int
	taxResult     *TaxResult
	insuranceFee  float64
	ownerKm       int
	benchmark     *domain.HubBenchmark
	price         float64
}

// Run simulates req. Unknown reference identities are returned as
// domain.ErrValidation errors; every other failure after input validation is
// recorded in the trace and ends in MANUAL_REVIEW.
func (e *Engine) Run(ctx context.Context, req *domain.SimulationRequest) (*domain.Simulation, error) {
	start := time.Now()
	r := &run{
		Engine: e,
		req:    req,
		b:      NewResultBuilder(),
		now:    e.now().UTC(),
	}

	sim := req.NewSimulation()
	result, err := r.execute(ctx)
	if err != nil {
		return nil, err
	}

	sim.ResultCode = result
	sim.Steps = r.b.Steps()
	if result == domain.ResultOK {
		price := r.price
		sim.EstimatedPrice = &price
	}

	e.logger.Debug("simulation finished",
		"result_code", sim.ResultCode,
		"phase", r.b.CurrentStep(),
		"steps", len(sim.Steps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sim, nil
}

func (r *run) execute(ctx context.Context) (domain.ResultCode, error) {
	out, err := r.inputValidation(ctx)
	if err != nil {
		return "", err
	}
	if out == manualReview {
		return r.toManualReview(ctx), nil
	}

	switch r.checkEligibility(ctx) {
	case manualReview:
		return r.toManualReview(ctx), nil
	case rejected:
		r.b.SetCurrentStep(domain.PhaseRejected)
		return domain.ResultNotOK, nil
	}

	for _, phase := range []func(context.Context) outcome{
		r.estimate,
		r.taxAndInsurance,
		r.aggregatePrice,
	} {
		if phase(ctx) == manualReview {
			return r.toManualReview(ctx), nil
		}
	}

	r.b.SetCurrentStep(domain.PhaseDone)
	return domain.ResultOK, nil
}

func (r *run) enter(ctx context.Context, phase domain.Phase) (context.Context, trace.Span) {
	r.b.SetCurrentStep(phase)
	return tracer.Start(ctx, "simulation."+strings.ToLower(string(phase)),
		trace.WithAttributes(attribute.String("simulation.phase", string(phase))),
	)
}

func (r *run) render(ctx context.Context, key string, params map[string]any) string {
	return r.messages.Render(ctx, key, params)
}

// fail records a NOT_OK step for the failing rule.
func (r *run) fail(ctx context.Context, span trace.Span, code domain.StepCode, key string, params map[string]any, err error) outcome {
	if params == nil {
		params = map[string]any{}
	}
	params["error"] = err.Error()
	r.b.AddError(code, r.render(ctx, key, params))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Warn("simulation needs manual review",
		"phase", r.b.CurrentStep(),
		"step", code,
		"error", err,
	)
	return manualReview
}

func (r *run) toManualReview(ctx context.Context) domain.ResultCode {
	phase := r.b.CurrentStep()
	r.b.AddInfo(domain.StepManualReview, r.render(ctx, "MANUAL_REVIEW.info", map[string]any{"phase": phase}))
	r.b.SetCurrentStep(domain.PhaseManualReview)
	return domain.ResultManualReview
}

// inputValidation resolves the reference rows and the policy aggregates.
func (r *run) inputValidation(ctx context.Context) (outcome, error) {
	ctx, span := r.enter(ctx, domain.PhaseInputValidation)
	defer span.End()

	var (
		wg                        sync.WaitGroup
		brandErr, fuelErr, carErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.brand, brandErr = r.ref.LookupBrand(ctx, r.req.BrandID)
	}()
	go func() {
		defer wg.Done()
		r.fuel, fuelErr = r.ref.LookupFuelType(ctx, r.req.FuelTypeID)
	}()
	if r.req.CarTypeID != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.carType, carErr = r.ref.LookupCarType(ctx, *r.req.CarTypeID)
		}()
	}
	wg.Wait()

	if err := lookupError("brand", r.req.BrandID, brandErr); err != nil {
		return r.lookupFailed(ctx, span, domain.StepReferenceData, "REFERENCE_DATA.error", err)
	}
	if err := lookupError("fuel type", r.req.FuelTypeID, fuelErr); err != nil {
		return r.lookupFailed(ctx, span, domain.StepReferenceData, "REFERENCE_DATA.error", err)
	}
	if r.req.CarTypeID != nil {
		if err := lookupError("car type", *r.req.CarTypeID, carErr); err != nil {
			return r.lookupFailed(ctx, span, domain.StepReferenceData, "REFERENCE_DATA.error", err)
		}
		if r.carType.BrandID != r.brand.ID {
			return 0, fmt.Errorf("%w: car type %s does not belong to brand %s", domain.ErrValidation, r.carType.ID, r.brand.ID)
		}
	}
	if r.req.TownID != nil {
		_, err := r.ref.LookupTown(ctx, *r.req.TownID)
		if err := lookupError("town", *r.req.TownID, err); err != nil {
			return r.lookupFailed(ctx, span, domain.StepReferenceData, "REFERENCE_DATA.error", err)
		}
	}

	r.b.AddOK(domain.StepReferenceData, r.render(ctx, "REFERENCE_DATA.ok", map[string]any{
		"brand":   r.brand.Name,
		"carType": r.carTypeName(),
		"fuel":    r.fuel.Name,
	}))

	var err error
	if r.hub, err = r.resolveHub(ctx); err != nil {
		return r.lookupFailed(ctx, span, domain.StepHubConfiguration, "HUB_CONFIGURATION.error", err)
	}
	if r.region, err = r.resolveRegion(ctx); err != nil {
		return r.lookupFailed(ctx, span, domain.StepHubConfiguration, "HUB_CONFIGURATION.error", err)
	}

	switch {
	case r.hub == nil:
		r.b.AddError(domain.StepHubConfiguration, r.render(ctx, "HUB_CONFIGURATION.missing_hub", nil))
		return manualReview, nil
	case r.region == nil:
		r.b.AddError(domain.StepHubConfiguration, r.render(ctx, "HUB_CONFIGURATION.missing_region", nil))
		return manualReview, nil
	}
	r.b.AddOK(domain.StepHubConfiguration, r.render(ctx, "HUB_CONFIGURATION.ok", map[string]any{
		"hub":    r.hub.Name,
		"region": r.region.Name,
	}))
	span.SetAttributes(attribute.String("simulation.hub_id", r.hub.ID))
	return proceed, nil
}

// lookupFailed rejects requests naming unknown rows. Any other gateway
// failure is recorded on code and routes the run to manual review.
func (r *run) lookupFailed(ctx context.Context, span trace.Span, code domain.StepCode, key string, err error) (outcome, error) {
	if errors.Is(err, domain.ErrValidation) {
		return 0, err
	}
	return r.fail(ctx, span, code, key, nil, err), nil
}

func lookupError(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("%w: unknown %s %s", domain.ErrValidation, kind, id)
	default:
		return fmt.Errorf("looking up %s %s: %w", kind, id, err)
	}
}

func (r *run) carTypeName() string {
	if r.carType != nil {
		return r.carType.Name
	}
	if r.req.CarTypeOther != nil {
		return *r.req.CarTypeOther
	}
	return ""
}

func (r *run) resolveHub(ctx context.Context) (*domain.Hub, error) {
	if r.req.HubID == nil {
		return r.ref.GetDefaultHub(ctx)
	}
	hub, err := r.ref.GetHub(ctx, *r.req.HubID)
	if err != nil {
		return nil, lookupError("hub", *r.req.HubID, err)
	}
	return hub, nil
}

func (r *run) resolveRegion(ctx context.Context) (*domain.SimulationRegion, error) {
	if r.req.SimulationRegionID == nil {
		return r.ref.GetDefaultSimulationRegion(ctx)
	}
	region, err := r.ref.GetSimulationRegion(ctx, *r.req.SimulationRegionID)
	if err != nil {
		return nil, lookupError("simulation region", *r.req.SimulationRegionID, err)
	}
	return region, nil
}

func (r *run) checkEligibility(ctx context.Context) outcome {
	ctx, span := r.enter(ctx, domain.PhaseEligibility)
	defer span.End()

	firstReg := r.req.FirstRegisteredAt.Time
	policy, err := LoadEligibilityPolicy(ctx, r.ref, r.hub)
	if err != nil {
		return r.fail(ctx, span, domain.StepCarAge, "CAR_AGE.error", nil, err)
	}
	group, err := r.lookupEuroNormGroup(ctx, domain.EuroNormFilter{ValidAt: &firstReg})
	if err != nil {
		return r.fail(ctx, span, domain.StepEuroNormDiesel, "EURO_NORM_DIESEL.error", nil,
			fmt.Errorf("resolving euro norm: %w", err))
	}
	r.euroNormGroup = group

	r.ageYears = domain.FullYearsBetween(firstReg, r.now)
	passed := r.eligibility.Evaluate(ctx, r.b, EligibilityInput{
		Km:                r.req.Km,
		FirstRegisteredAt: firstReg,
		Fuel:              r.fuel,
		EuroNormGroup:     group,
		Now:               r.now,
	}, policy)
	span.SetAttributes(attribute.Bool("simulation.eligible", passed))
	if !passed {
		return rejected
	}
	return proceed
}

// lookupEuroNormGroup returns the group of the first norm matching filter, 0 when none does.
func (r *run) lookupEuroNormGroup(ctx context.Context, filter domain.EuroNormFilter) (int, error) {
	filter.Limit = 1
	page, err := r.ref.SearchEuroNorms(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(page.Items) == 0 {
		return 0, nil
	}
	return page.Items[0].Group, nil
}

// estimate calls both estimators concurrently, then records VALUE_ESTIMATION
// and SPEC_ESTIMATION in that order.
func (r *run) estimate(ctx context.Context) outcome {
	ctx, span := r.enter(ctx, domain.PhaseValueEstimation)

	var (
		wg                sync.WaitGroup
		valueErr, specErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.priceRange, valueErr = r.values.EstimateCarValue(ctx, domain.CarValueQuery{
			BrandID:           r.req.BrandID,
			CarTypeID:         r.req.CarTypeID,
			CarTypeOther:      r.req.CarTypeOther,
			FirstRegisteredAt: r.req.FirstRegisteredAt,
			IsVan:             r.req.IsVan,
			At:                r.now,
		})
	}()
	go func() {
		defer wg.Done()
		r.carSpecs, specErr = r.specs.EstimateCarSpecs(ctx, domain.CarSpecQuery{
			BrandID:      r.req.BrandID,
			FuelTypeID:   r.req.FuelTypeID,
			CarTypeID:    r.req.CarTypeID,
			CarTypeOther: r.req.CarTypeOther,
			Year:         r.req.FirstRegisteredAt.Year(),
		})
	}()
	wg.Wait()

	if valueErr != nil {
		defer span.End()
		return r.fail(ctx, span, domain.StepCarValue, "CAR_VALUE.error", nil, valueErr)
	}
	r.carValue = CarValue(r.priceRange)
	r.b.AddOK(domain.StepCarValue, r.render(ctx, "CAR_VALUE.ok", map[string]any{
		"min": formatMoney(r.priceRange.Min),
		"max": formatMoney(r.priceRange.Max),
	}))
	span.End()

	ctx, span = r.enter(ctx, domain.PhaseSpecEstimation)
	defer span.End()
	if specErr != nil {
		return r.fail(ctx, span, domain.StepCarSpecs, "CAR_SPECS.error", nil, specErr)
	}
	r.b.AddOK(domain.StepCarSpecs, r.render(ctx, "CAR_SPECS.ok", map[string]any{
		"cc":       r.carSpecs.CylinderCc,
		"co2":      r.carSpecs.CO2Emission,
		"ecoscore": r.carSpecs.Ecoscore,
	}))
	return proceed
}

func (r *run) taxAndInsurance(ctx context.Context) outcome {
	ctx, span := r.enter(ctx, domain.PhaseTaxAndInsurance)
	defer span.End()

	// The estimated euro norm wins over the one derived from the registration date.
	r.taxGroup = r.euroNormGroup
	if code := r.carSpecs.EuroNormCode; code != nil && *code != "" {
		group, err := r.lookupEuroNormGroup(ctx, domain.EuroNormFilter{Code: *code})
		if err != nil {
			return r.fail(ctx, span, domain.StepOwnershipTax, "OWNERSHIP_TAX.error", nil, err)
		}
		if group > 0 {
			r.taxGroup = group
		}
	}

	regionID, err := r.tax.ResolveFiscalRegion(ctx, r.req.TownID, r.region)
	if err != nil {
		return r.fail(ctx, span, domain.StepOwnershipTax, "OWNERSHIP_TAX.error", nil, err)
	}
	tax, err := r.tax.Calculate(ctx, TaxInput{
		FiscalRegionID:    regionID,
		FirstRegisteredAt: r.req.FirstRegisteredAt.Time,
		At:                r.now,
		CylinderCc:        r.carSpecs.CylinderCc,
		EuroNormGroup:     r.taxGroup,
		Diesel:            r.fuel.IsDiesel(),
	})
	if err != nil {
		return r.fail(ctx, span, domain.StepOwnershipTax, "OWNERSHIP_TAX.error", nil, err)
	}
	r.taxResult = tax
	if tax.Flat {
		r.b.AddInfo(domain.StepOwnershipTax, r.render(ctx, "OWNERSHIP_TAX.flat", map[string]any{
			"tax": formatMoney(tax.Amount),
		}))
	} else {
		r.b.AddInfo(domain.StepOwnershipTax, r.render(ctx, "OWNERSHIP_TAX.base", map[string]any{
			"tax":   formatMoney(tax.Amount),
			"cc":    r.carSpecs.CylinderCc,
			"hp":    tax.FiscalHp,
			"group": r.taxGroup,
		}))
	}

	ins, err := r.insurance.Calculate(ctx, r.carValue, r.now)
	if err != nil {
		return r.fail(ctx, span, domain.StepInsurance, "INSURANCE.error", nil, err)
	}
	r.insuranceFee = ins.Fee
	r.b.AddInfo(domain.StepInsurance, r.render(ctx, "INSURANCE.ok", map[string]any{
		"fee":      formatMoney(ins.Fee),
		"year":     ins.Benchmark.Year,
		"baseRate": formatMoney(ins.Benchmark.BaseRate),
		"rate":     ins.Benchmark.Rate,
	}))

	r.ownerKm = CalculateOwnerKmPerYear(r.req.Km, r.req.FirstRegisteredAt.Time, r.now)
	bm, err := r.benchmarks.FindClosest(ctx, r.hub.ID, r.ownerKm)
	if err != nil {
		return r.fail(ctx, span, domain.StepHubBenchmark, "HUB_BENCHMARK.error", nil, err)
	}
	r.benchmark = bm
	if bm == nil {
		r.b.AddInfo(domain.StepHubBenchmark, r.render(ctx, "HUB_BENCHMARK.missing", map[string]any{"hub": r.hub.Name}))
	} else {
		r.b.AddInfo(domain.StepHubBenchmark, r.render(ctx, "HUB_BENCHMARK.ok", map[string]any{
			"ownerKm":     r.ownerKm,
			"sharedAvgKm": bm.SharedAvgKm,
		}))
	}
	return proceed
}

func (r *run) aggregatePrice(ctx context.Context) outcome {
	ctx, span := r.enter(ctx, domain.PhasePriceAggregation)
	defer span.End()

	electric := r.fuel.IsElectric()
	depreciation, km := Depreciation(r.benchmark, r.hub, electric)
	if r.benchmark == nil {
		r.b.AddInfo(domain.StepDepreciation, r.render(ctx, "DEPRECIATION.none", nil))
	} else {
		r.b.AddInfo(domain.StepDepreciation, r.render(ctx, "DEPRECIATION.ok", map[string]any{
			"amount": formatMoney(depreciation),
			"km":     km,
			"perKm":  r.hub.SimDepreciationPerKm,
		}))
	}

	carrying := CarryingCost(r.taxResult.Amount, r.insuranceFee, r.region)
	r.b.AddInfo(domain.StepCarryingCost, r.render(ctx, "CARRYING_COST.ok", map[string]any{
		"amount":     formatMoney(carrying),
		"tax":        formatMoney(r.taxResult.Amount),
		"insurance":  formatMoney(r.insuranceFee),
		"inspection": formatMoney(r.region.SimYearlyInspectionCost),
	}))

	results, err := r.rules.Evaluate(ctx, &rules.Input{
		AgeYears:       r.ageYears,
		Km:             r.req.Km,
		OwnerKmPerYear: r.ownerKm,
		Ecoscore:       r.carSpecs.Ecoscore,
		CO2:            r.carSpecs.CO2Emission,
		CylinderCc:     r.carSpecs.CylinderCc,
		CarValue:       r.carValue,
		EuroNormGroup:  r.taxGroup,
		Fuel:           r.fuel.Code,
		IsVan:          r.req.IsVan,
		Hub:            r.hub,
	})
	if err != nil {
		code, name := domain.StepCustomAdjustment, ""
		var ruleErr *rules.RuleError
		if errors.As(err, &ruleErr) {
			code, name = ruleErr.Code, ruleErr.Name
		}
		return r.fail(ctx, span, code, "ADJUSTMENT.error", map[string]any{"name": name}, err)
	}

	for _, res := range results {
		r.addAdjustmentStep(ctx, res)
	}

	price := EstimatePrice(r.carValue, depreciation, carrying, SumAdjustments(results))
	r.b.AddOK(domain.StepEstimatedPrice, r.render(ctx, "ESTIMATED_PRICE.ok", map[string]any{
		"price": FormatPriceInThousands(price),
	}))
	r.price = price
	span.SetAttributes(attribute.Float64("simulation.estimated_price", price))
	return proceed
}

func (r *run) addAdjustmentStep(ctx context.Context, res domain.AdjustmentResult) {
	status, suffix := domain.StepInfo, ".not_applied"
	switch {
	case res.Applied:
		status, suffix = domain.StepOK, ".applied"
	case !r.bonusConfigured(res.Code):
		suffix = ".not_configured"
	}

	var params map[string]any
	switch res.Code {
	case domain.StepEcoscoreBonus:
		params = map[string]any{
			"ecoscore":  r.carSpecs.Ecoscore,
			"threshold": r.hub.SimEcoscoreBonusThreshold,
		}
	case domain.StepAgeBonus:
		params = map[string]any{"max": r.hub.SimAgeBonusMaxYears}
	case domain.StepKmBonus:
		params = map[string]any{"max": r.hub.SimKmBonusMaxKm}
	default:
		params = map[string]any{"name": res.Name}
	}
	params["amount"] = formatMoney(res.Amount)

	r.b.AddStep(res.Code, status, r.render(ctx, string(res.Code)+suffix, params))
}

// bonusConfigured reports whether the hub sets both the limit and the amount
// of a built-in bonus. Custom adjustments always count as configured.
func (r *run) bonusConfigured(code domain.StepCode) bool {
	h := r.hub
	switch code {
	case domain.StepEcoscoreBonus:
		return h.SimEcoscoreBonusThreshold > 0 && h.SimEcoscoreBonus > 0
	case domain.StepAgeBonus:
		return h.SimAgeBonusMaxYears > 0 && h.SimAgeBonus > 0
	case domain.StepKmBonus:
		return h.SimKmBonusMaxKm > 0 && h.SimKmBonus > 0
	}
	return true
}
