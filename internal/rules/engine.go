// Package rules provides the CEL-Go based price adjustment engine.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Engine evaluates price adjustment rules: the built-in hub bonuses followed
// by the enabled custom rules.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	builtin    []*CompiledRule
	custom     []*CompiledRule
	maxWorkers int
}

// CompiledRule holds the pre-compiled condition and amount programs.
type CompiledRule struct {
	Rule      *domain.AdjustmentRule
	Condition cel.Program
	Amount    cel.Program
}

// RuleError reports a rule whose evaluation failed.
type RuleError struct {
	RuleID string
	Code   domain.StepCode
	Name   string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewEngine creates an engine with the built-in rules loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Variable("age_years", cel.DoubleType),
		cel.Variable("km", cel.DoubleType),
		cel.Variable("owner_km_per_year", cel.DoubleType),
		cel.Variable("ecoscore", cel.DoubleType),
		cel.Variable("co2", cel.DoubleType),
		cel.Variable("cylinder_cc", cel.DoubleType),
		cel.Variable("car_value", cel.DoubleType),
		cel.Variable("euro_norm_group", cel.DoubleType),
		cel.Variable("fuel", cel.StringType),
		cel.Variable("is_van", cel.BoolType),
		cel.Variable("is_electric", cel.BoolType),
		cel.Variable("is_diesel", cel.BoolType),
		// Hub policy
		cel.Variable("ecoscore_bonus_threshold", cel.DoubleType),
		cel.Variable("ecoscore_bonus", cel.DoubleType),
		cel.Variable("age_bonus_max_years", cel.DoubleType),
		cel.Variable("age_bonus", cel.DoubleType),
		cel.Variable("km_bonus_max_km", cel.DoubleType),
		cel.Variable("km_bonus", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}

	for _, rule := range BuiltinRules() {
		compiled, err := e.compileRule(rule)
		if err != nil {
			return nil, err
		}
		e.builtin = append(e.builtin, compiled)
	}

	return e, nil
}

// Input is the car and policy data exposed to rule expressions.
type Input struct {
	AgeYears       int
	Km             int
	OwnerKmPerYear int
	Ecoscore       int
	CO2            int
	CylinderCc     int
	CarValue       float64
	EuroNormGroup  int
	Fuel           string
	IsVan          bool
	Hub            *domain.Hub
}

func (in *Input) activation() map[string]any {
	hub := in.Hub
	if hub == nil {
		hub = &domain.Hub{}
	}
	return map[string]any{
		"age_years":         float64(in.AgeYears),
		"km":                float64(in.Km),
		"owner_km_per_year": float64(in.OwnerKmPerYear),
		"ecoscore":          float64(in.Ecoscore),
		"co2":               float64(in.CO2),
		"cylinder_cc":       float64(in.CylinderCc),
		"car_value":         in.CarValue,
		"euro_norm_group":   float64(in.EuroNormGroup),
		"fuel":              in.Fuel,
		"is_van":            in.IsVan,
		"is_electric":       in.Fuel == domain.FuelElectric,
		"is_diesel":         in.Fuel == domain.FuelDiesel,

		"ecoscore_bonus_threshold": hub.SimEcoscoreBonusThreshold,
		"ecoscore_bonus":           hub.SimEcoscoreBonus,
		"age_bonus_max_years":      float64(hub.SimAgeBonusMaxYears),
		"age_bonus":                hub.SimAgeBonus,
		"km_bonus_max_km":          float64(hub.SimKmBonusMaxKm),
		"km_bonus":                 hub.SimKmBonus,
	}
}

// ValidateRule compiles a rule without changing the loaded rule set.
func (e *Engine) ValidateRule(rule *domain.AdjustmentRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// ReloadRules replaces the custom rules. Disabled rules are skipped; the
// given order is the evaluation and reporting order.
func (e *Engine) ReloadRules(rules []*domain.AdjustmentRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled || rule.Builtin {
			continue
		}
		if rule.Code != domain.StepCustomAdjustment {
			r := *rule
			r.Code = domain.StepCustomAdjustment
			rule = &r
		}
		c, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.custom = compiled
	e.mu.Unlock()
	return nil
}

// Evaluate runs every rule in parallel. Results keep rule order: built-ins
// first, then custom rules. The first failing rule, in that order, is
// returned as a *RuleError.
func (e *Engine) Evaluate(ctx context.Context, input *Input) ([]domain.AdjustmentResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.builtin)+len(e.custom))
	rules = append(rules, e.builtin...)
	rules = append(rules, e.custom...)
	e.mu.RUnlock()

	activation := input.activation()
	results := make([]domain.AdjustmentResult, len(rules))
	errs := make([]error, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx], errs[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			r := rules[i].Rule
			return results, &RuleError{RuleID: r.ID, Code: r.Code, Name: r.Name, Err: err}
		}
	}
	return results, nil
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) (domain.AdjustmentResult, error) {
	result := domain.AdjustmentResult{
		RuleID: rule.Rule.ID,
		Code:   rule.Rule.Code,
		Name:   rule.Rule.Name,
	}

	cond, _, err := rule.Condition.ContextEval(ctx, activation)
	if err != nil {
		return result, fmt.Errorf("condition: %w", err)
	}
	applied, ok := cond.(types.Bool)
	if !ok {
		return result, fmt.Errorf("condition returned %s, want bool", cond.Type())
	}
	if !applied {
		return result, nil
	}

	out, _, err := rule.Amount.ContextEval(ctx, activation)
	if err != nil {
		return result, fmt.Errorf("amount: %w", err)
	}
	amount, err := toAmount(out)
	if err != nil {
		return result, err
	}

	result.Applied = true
	result.Amount = amount
	return result, nil
}

func toAmount(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("amount returned %s, want number", val.Type())
	}
}

// Rules returns the loaded rules in evaluation order.
func (e *Engine) Rules() []*domain.AdjustmentRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.AdjustmentRule, 0, len(e.builtin)+len(e.custom))
	for _, c := range e.builtin {
		out = append(out, c.Rule)
	}
	for _, c := range e.custom {
		out = append(out, c.Rule)
	}
	return out
}

// RulesCount returns the number of loaded rules, built-ins included.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtin) + len(e.custom)
}

// Close drops the custom rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = nil
	return nil
}

func (e *Engine) compileRule(rule *domain.AdjustmentRule) (*CompiledRule, error) {
	cond, err := e.compile(rule.ID, "condition", rule.Condition, cel.BoolType)
	if err != nil {
		return nil, err
	}
	amount, err := e.compile(rule.ID, "amount", rule.Amount, cel.DoubleType, cel.IntType)
	if err != nil {
		return nil, err
	}
	return &CompiledRule{
		Rule:      rule,
		Condition: cond,
		Amount:    amount,
	}, nil
}

func (e *Engine) compile(ruleID, part, expr string, want ...*cel.Type) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s %s: %v", domain.ErrValidation, ruleID, part, issues.Err())
	}

	outputType := ast.OutputType()
	matched := false
	for _, t := range want {
		if outputType.IsExactType(t) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: rule %s %s must return %v, got %s", domain.ErrValidation, ruleID, part, want, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s program for rule %s: %w", part, ruleID, err)
	}
	return program, nil
}
