package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResultCode is the final outcome of a simulation.
type ResultCode string

const (
	ResultOK           ResultCode = "OK"
	ResultNotOK        ResultCode = "NOT_OK"
	ResultManualReview ResultCode = "MANUAL_REVIEW"
)

// StepStatus is the outcome of a single evaluated rule.
type StepStatus string

const (
	StepOK    StepStatus = "OK"
	StepNotOK StepStatus = "NOT_OK"
	StepInfo  StepStatus = "INFO"
)

// StepCode identifies the rule a step reports on.
// The set is closed: decoding any other value fails.
type StepCode string

const (
	StepReferenceData    StepCode = "REFERENCE_DATA"
	StepHubConfiguration StepCode = "HUB_CONFIGURATION"
	StepCarAge           StepCode = "CAR_AGE"
	StepCarKm            StepCode = "CAR_KM"
	StepEuroNormDiesel   StepCode = "EURO_NORM_DIESEL"
	StepCarValue         StepCode = "CAR_VALUE"
	StepCarSpecs         StepCode = "CAR_SPECS"
	StepOwnershipTax     StepCode = "OWNERSHIP_TAX"
	StepInsurance        StepCode = "INSURANCE"
	StepHubBenchmark     StepCode = "HUB_BENCHMARK"
	StepDepreciation     StepCode = "DEPRECIATION"
	StepCarryingCost     StepCode = "CARRYING_COST"
	StepEcoscoreBonus    StepCode = "ECOSCORE_BONUS"
	StepAgeBonus         StepCode = "AGE_BONUS"
	StepKmBonus          StepCode = "KM_BONUS"
	StepCustomAdjustment StepCode = "CUSTOM_ADJUSTMENT"
	StepEstimatedPrice   StepCode = "ESTIMATED_PRICE"
	StepManualReview     StepCode = "MANUAL_REVIEW"
)

var stepCodes = map[StepCode]struct{}{
	StepReferenceData:    {},
	StepHubConfiguration: {},
	StepCarAge:           {},
	StepCarKm:            {},
	StepEuroNormDiesel:   {},
	StepCarValue:         {},
	StepCarSpecs:         {},
	StepOwnershipTax:     {},
	StepInsurance:        {},
	StepHubBenchmark:     {},
	StepDepreciation:     {},
	StepCarryingCost:     {},
	StepEcoscoreBonus:    {},
	StepAgeBonus:         {},
	StepKmBonus:          {},
	StepCustomAdjustment: {},
	StepEstimatedPrice:   {},
	StepManualReview:     {},
}

// Valid reports whether c belongs to the closed set of step codes.
func (c StepCode) Valid() bool {
	_, ok := stepCodes[c]
	return ok
}

// UnmarshalText rejects unknown step codes.
func (c *StepCode) UnmarshalText(text []byte) error {
	code := StepCode(text)
	if !code.Valid() {
		return fmt.Errorf("%w: unknown step code %q", ErrValidation, string(text))
	}
	*c = code
	return nil
}

// UnmarshalText rejects unknown step statuses.
func (s *StepStatus) UnmarshalText(text []byte) error {
	switch st := StepStatus(text); st {
	case StepOK, StepNotOK, StepInfo:
		*s = st
		return nil
	default:
		return fmt.Errorf("%w: unknown step status %q", ErrValidation, string(text))
	}
}

// Phase is a logical stage of the simulation pipeline.
type Phase string

const (
	PhaseInputValidation  Phase = "INPUT_VALIDATION"
	PhaseEligibility      Phase = "ELIGIBILITY"
	PhaseValueEstimation  Phase = "VALUE_ESTIMATION"
	PhaseSpecEstimation   Phase = "SPEC_ESTIMATION"
	PhaseTaxAndInsurance  Phase = "TAX_AND_INSURANCE"
	PhasePriceAggregation Phase = "PRICE_AGGREGATION"
	PhaseDone             Phase = "DONE"
	PhaseRejected         Phase = "REJECTED"
	PhaseManualReview     Phase = "MANUAL_REVIEW"
)

// SimulationStep is one entry of the audit trace.
type SimulationStep struct {
	Code    StepCode   `json:"code"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message"`
}

// Simulation is the persisted result of one engine run.
type Simulation struct {
	ID                string           `json:"id"`
	BrandID           string           `json:"brandId"`
	FuelTypeID        string           `json:"fuelTypeId"`
	CarTypeID         *string          `json:"carTypeId"`
	CarTypeOther      *string          `json:"carTypeOther"`
	Km                int              `json:"km"`
	FirstRegisteredAt Date             `json:"firstRegisteredAt"`
	IsVan             bool             `json:"isVan"`
	ResultCode        ResultCode       `json:"resultCode"`
	EstimatedPrice    *float64         `json:"estimatedPrice"`
	Steps             []SimulationStep `json:"steps"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// SimulationRequest is the input of a simulation run.
type SimulationRequest struct {
	BrandID            string  `json:"brandId"`
	FuelTypeID         string  `json:"fuelTypeId"`
	CarTypeID          *string `json:"carTypeId,omitempty"`
	CarTypeOther       *string `json:"carTypeOther,omitempty"`
	Km                 int     `json:"km"`
	FirstRegisteredAt  Date    `json:"firstRegisteredAt"`
	IsVan              bool    `json:"isVan"`
	HubID              *string `json:"hubId,omitempty"`
	TownID             *string `json:"townId,omitempty"`
	SimulationRegionID *string `json:"simulationRegionId,omitempty"`
}

// Validate checks the request shape. Reference existence is checked by the engine.
func (r *SimulationRequest) Validate(now time.Time) error {
	if err := validateUUID("brandId", r.BrandID); err != nil {
		return err
	}
	if err := validateUUID("fuelTypeId", r.FuelTypeID); err != nil {
		return err
	}
	for name, id := range map[string]*string{
		"carTypeId":          r.CarTypeID,
		"hubId":              r.HubID,
		"townId":             r.TownID,
		"simulationRegionId": r.SimulationRegionID,
	} {
		if id != nil {
			if err := validateUUID(name, *id); err != nil {
				return err
			}
		}
	}
	if r.CarTypeID == nil && (r.CarTypeOther == nil || strings.TrimSpace(*r.CarTypeOther) == "") {
		return fmt.Errorf("%w: carTypeId or carTypeOther is required", ErrValidation)
	}
	if r.Km < 0 {
		return fmt.Errorf("%w: km must be >= 0", ErrValidation)
	}
	if r.FirstRegisteredAt.IsZero() {
		return fmt.Errorf("%w: firstRegisteredAt is required", ErrValidation)
	}
	if r.FirstRegisteredAt.After(now) {
		return fmt.Errorf("%w: firstRegisteredAt is in the future", ErrValidation)
	}
	return nil
}

// NewSimulation copies the car description of the request into an unsaved record.
func (r *SimulationRequest) NewSimulation() *Simulation {
	return &Simulation{
		BrandID:           r.BrandID,
		FuelTypeID:        r.FuelTypeID,
		CarTypeID:         r.CarTypeID,
		CarTypeOther:      r.CarTypeOther,
		Km:                r.Km,
		FirstRegisteredAt: r.FirstRegisteredAt,
		IsVan:             r.IsVan,
		Steps:             []SimulationStep{},
	}
}

func validateUUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s must be a UUID", ErrValidation, field)
	}
	return nil
}

// SimulationEvent is published on the bus once a simulation is stored.
type SimulationEvent struct {
	RequestID  string             `json:"requestId,omitempty"`
	Simulation *Simulation        `json:"simulation,omitempty"`
	Request    *SimulationRequest `json:"request,omitempty"`
	Locale     string             `json:"locale,omitempty"`
}

// MarshalSteps encodes the step trace for storage.
func MarshalSteps(steps []SimulationStep) (string, error) {
	if steps == nil {
		steps = []SimulationStep{}
	}
	b, err := json.Marshal(steps)
	return string(b), err
}
