// Package simulation implements the buy-back simulation engine and service.
package simulation

import "github.com/opensource-finance/carsim/internal/domain"

// ResultBuilder accumulates the ordered step trace of one engine run.
// Steps are only ever appended. It is not safe for concurrent use.
type ResultBuilder struct {
	steps   []domain.SimulationStep
	current domain.Phase
}

// NewResultBuilder returns an empty builder in the INPUT_VALIDATION phase.
func NewResultBuilder() *ResultBuilder {
	return &ResultBuilder{
		steps:   make([]domain.SimulationStep, 0, 16),
		current: domain.PhaseInputValidation,
	}
}

// AddStep appends one step.
func (b *ResultBuilder) AddStep(code domain.StepCode, status domain.StepStatus, message string) {
	b.steps = append(b.steps, domain.SimulationStep{Code: code, Status: status, Message: message})
}

// AddOK appends a passed step.
func (b *ResultBuilder) AddOK(code domain.StepCode, message string) {
	b.AddStep(code, domain.StepOK, message)
}

// AddInfo appends an informational step.
func (b *ResultBuilder) AddInfo(code domain.StepCode, message string) {
	b.AddStep(code, domain.StepInfo, message)
}

// AddError appends a failed step.
func (b *ResultBuilder) AddError(code domain.StepCode, message string) {
	b.AddStep(code, domain.StepNotOK, message)
}

// SetCurrentStep records the phase in progress.
func (b *ResultBuilder) SetCurrentStep(phase domain.Phase) {
	b.current = phase
}

// CurrentStep returns the phase in progress.
func (b *ResultBuilder) CurrentStep() domain.Phase {
	return b.current
}

// Steps returns a copy of the trace.
func (b *ResultBuilder) Steps() []domain.SimulationStep {
	out := make([]domain.SimulationStep, len(b.steps))
	copy(out, b.steps)
	return out
}

// HasStep reports whether a step with code was recorded.
func (b *ResultBuilder) HasStep(code domain.StepCode) bool {
	for _, s := range b.steps {
		if s.Code == code {
			return true
		}
	}
	return false
}
