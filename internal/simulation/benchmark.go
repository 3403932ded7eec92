package simulation

import (
	"context"

	"github.com/opensource-finance/carsim/internal/domain"
)

// HubBenchmarkMatcher finds the mileage bracket of a hub closest to an owner
// mileage.
type HubBenchmarkMatcher struct {
	ref domain.ReferenceData
}

// NewHubBenchmarkMatcher creates a matcher over ref.
func NewHubBenchmarkMatcher(ref domain.ReferenceData) *HubBenchmarkMatcher {
	return &HubBenchmarkMatcher{ref: ref}
}

// FindClosest returns the smallest bracket at or above ownerKm. When ownerKm
// exceeds every bracket a second lookup clamps to the largest one. It returns
// nil only when the hub has no brackets at all.
func (m *HubBenchmarkMatcher) FindClosest(ctx context.Context, hubID string, ownerKm int) (*domain.HubBenchmark, error) {
	above, err := m.ref.FindHubBenchmark(ctx, hubID, domain.HubBenchmarkQuery{MinOwnerKm: &ownerKm})
	if err != nil {
		return nil, err
	}
	if above != nil {
		return above, nil
	}
	return m.ref.FindHubBenchmark(ctx, hubID, domain.HubBenchmarkQuery{Descending: true})
}
