package rules

import "github.com/opensource-finance/carsim/internal/domain"

// BuiltinRules returns the hub bonus rules. They always run first, in this
// order, and read their thresholds and amounts from the hub policy. A zero
// threshold or amount leaves the bonus unconfigured, so it never applies.
func BuiltinRules() []*domain.AdjustmentRule {
	return []*domain.AdjustmentRule{
		{
			ID:          domain.RuleEcoscoreBonus,
			Code:        domain.StepEcoscoreBonus,
			Name:        "Ecoscore bonus",
			Description: "Bonus for cars whose ecoscore reaches the hub threshold",
			Condition:   "ecoscore_bonus > 0.0 && ecoscore_bonus_threshold > 0.0 && ecoscore >= ecoscore_bonus_threshold",
			Amount:      "ecoscore_bonus",
			Enabled:     true,
			Builtin:     true,
		},
		{
			ID:          domain.RuleAgeBonus,
			Code:        domain.StepAgeBonus,
			Name:        "Age bonus",
			Description: "Bonus for cars not older than the hub maximum",
			Condition:   "age_bonus > 0.0 && age_bonus_max_years > 0.0 && age_years <= age_bonus_max_years",
			Amount:      "age_bonus",
			Enabled:     true,
			Builtin:     true,
		},
		{
			ID:          domain.RuleKmBonus,
			Code:        domain.StepKmBonus,
			Name:        "Mileage bonus",
			Description: "Bonus for cars not above the hub mileage maximum",
			Condition:   "km_bonus > 0.0 && km_bonus_max_km > 0.0 && km <= km_bonus_max_km",
			Amount:      "km_bonus",
			Enabled:     true,
			Builtin:     true,
		},
	}
}
