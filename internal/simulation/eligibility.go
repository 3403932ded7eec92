package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

// EligibilityPolicy holds the gating thresholds of one run.
type EligibilityPolicy struct {
	MaxAgeYears            int
	MaxKm                  int
	MinEuroNormGroupDiesel int
}

// LoadEligibilityPolicy reads the age and mileage limits from the system
// parameters, falling back to the defaults when unset, and the diesel
// minimum from the hub.
func LoadEligibilityPolicy(ctx context.Context, ref domain.ReferenceData, hub *domain.Hub) (EligibilityPolicy, error) {
	policy := EligibilityPolicy{
		MaxAgeYears: domain.DefaultMaxAgeYears,
		MaxKm:       domain.DefaultMaxKm,
	}
	if hub != nil {
		policy.MinEuroNormGroupDiesel = hub.SimMinEuroNormGroupDiesel
	}

	params := []struct {
		code string
		dst  *int
	}{
		{domain.ParamMaxAgeYears, &policy.MaxAgeYears},
		{domain.ParamMaxKm, &policy.MaxKm},
	}
	for _, p := range params {
		v, err := ref.GetSystemParameter(ctx, p.code)
		if err != nil {
			return policy, fmt.Errorf("reading system parameter %s: %w", p.code, err)
		}
		if v != nil && v.ValueNumber != nil {
			*p.dst = int(*v.ValueNumber)
		}
	}
	return policy, nil
}

// EligibilityInput is the car data the gates look at.
type EligibilityInput struct {
	Km                int
	FirstRegisteredAt time.Time
	Fuel              *domain.FuelType
	// EuroNormGroup is the group in force at first registration, 0 when the
	// car predates every known norm.
	EuroNormGroup int
	Now           time.Time
}

// EligibilityEvaluator applies the age, mileage and diesel euro norm gates in
// that order.
type EligibilityEvaluator struct {
	messages domain.MessageRenderer
}

// NewEligibilityEvaluator creates an evaluator rendering step messages with m.
func NewEligibilityEvaluator(m domain.MessageRenderer) *EligibilityEvaluator {
	return &EligibilityEvaluator{messages: m}
}

// Evaluate appends one step per gate until the first failure. It reports
// whether the car passed every gate.
func (e *EligibilityEvaluator) Evaluate(ctx context.Context, b *ResultBuilder, in EligibilityInput, policy EligibilityPolicy) bool {
	age := domain.FullYearsBetween(in.FirstRegisteredAt, in.Now)
	params := map[string]any{"age": age, "max": policy.MaxAgeYears}
	if age > policy.MaxAgeYears {
		b.AddError(domain.StepCarAge, e.messages.Render(ctx, "CAR_AGE.not_ok", params))
		return false
	}
	b.AddOK(domain.StepCarAge, e.messages.Render(ctx, "CAR_AGE.ok", params))

	params = map[string]any{"km": in.Km, "max": policy.MaxKm}
	if in.Km > policy.MaxKm {
		b.AddError(domain.StepCarKm, e.messages.Render(ctx, "CAR_KM.not_ok", params))
		return false
	}
	b.AddOK(domain.StepCarKm, e.messages.Render(ctx, "CAR_KM.ok", params))

	if in.Fuel == nil || !in.Fuel.IsDiesel() {
		fuel := ""
		if in.Fuel != nil {
			fuel = in.Fuel.Name
		}
		b.AddOK(domain.StepEuroNormDiesel, e.messages.Render(ctx, "EURO_NORM_DIESEL.not_applicable", map[string]any{"fuel": fuel}))
		return true
	}

	params = map[string]any{"group": in.EuroNormGroup, "min": policy.MinEuroNormGroupDiesel}
	if in.EuroNormGroup < policy.MinEuroNormGroupDiesel {
		b.AddError(domain.StepEuroNormDiesel, e.messages.Render(ctx, "EURO_NORM_DIESEL.not_ok", params))
		return false
	}
	b.AddOK(domain.StepEuroNormDiesel, e.messages.Render(ctx, "EURO_NORM_DIESEL.ok", params))
	return true
}
