package domain

import (
	"context"
	"time"
)

// CarSpecQuery describes the car whose technical data is estimated.
type CarSpecQuery struct {
	BrandID      string  `json:"brandId"`
	FuelTypeID   string  `json:"fuelTypeId"`
	CarTypeID    *string `json:"carTypeId,omitempty"`
	CarTypeOther *string `json:"carTypeOther,omitempty"`
	Year         int     `json:"year"`
}

// CarSpecs is the estimated technical data of a car.
type CarSpecs struct {
	CylinderCc   int     `json:"cylinderCc"`
	CO2Emission  int     `json:"co2Emission"`
	Ecoscore     int     `json:"ecoscore"`
	EuroNormCode *string `json:"euroNormCode,omitempty"`
}

// CarSpecEstimator looks up technical data, usually through an AI service.
type CarSpecEstimator interface {
	EstimateCarSpecs(ctx context.Context, q CarSpecQuery) (*CarSpecs, error)
}

// CarValueQuery describes the car whose market value is estimated.
type CarValueQuery struct {
	BrandID           string
	CarTypeID         *string
	CarTypeOther      *string
	FirstRegisteredAt Date
	IsVan             bool
	At                time.Time
}

// PriceRange is an estimated value interval, Min <= Max.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CarValueEstimator estimates the market value of a used car.
type CarValueEstimator interface {
	EstimateCarValue(ctx context.Context, q CarValueQuery) (*PriceRange, error)
}

// MessageRenderer renders a localized template. It never fails; unknown keys
// are returned as is.
type MessageRenderer interface {
	Render(ctx context.Context, key string, params map[string]any) string
}
