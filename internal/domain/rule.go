package domain

import "time"

// AdjustmentRule is a CEL price adjustment applied during price aggregation.
// Condition must evaluate to bool and Amount to a number; the amount is added
// to the price when the condition holds.
type AdjustmentRule struct {
	ID          string    `json:"id" yaml:"id"`
	Code        StepCode  `json:"code" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Condition   string    `json:"condition" yaml:"condition"`
	Amount      string    `json:"amount" yaml:"amount"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Builtin     bool      `json:"builtin" yaml:"-"`
	CreatedAt   time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// AdjustmentResult is the outcome of one adjustment rule.
type AdjustmentResult struct {
	RuleID  string   `json:"ruleId"`
	Code    StepCode `json:"code"`
	Name    string   `json:"name"`
	Applied bool     `json:"applied"`
	Amount  float64  `json:"amount"`
}

// Built-in adjustment rule IDs.
const (
	RuleEcoscoreBonus = "builtin-ecoscore-bonus"
	RuleAgeBonus      = "builtin-age-bonus"
	RuleKmBonus       = "builtin-km-bonus"
)
