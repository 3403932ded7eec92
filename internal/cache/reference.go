package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/domain"
)

// CachedReferenceData serves identity lookups of reference rows from a cache.
// Date and range queries go straight to the underlying gateway. Entries are
// keyed by a generation that Invalidate bumps, so stale rows are never read
// after a reference write has been announced. The generation only counts the
// announcements this process has seen, so keys also carry a per-instance
// salt: a node booting against a shared cache never reads entries another
// node wrote under the same generation number.
type CachedReferenceData struct {
	inner      domain.ReferenceData
	cache      domain.Cache
	ttl        time.Duration
	salt       string
	generation atomic.Uint64
	logger     *slog.Logger
}

var _ domain.ReferenceData = (*CachedReferenceData)(nil)

// NewCachedReferenceData wraps inner with c.
func NewCachedReferenceData(inner domain.ReferenceData, c domain.Cache, ttl time.Duration, logger *slog.Logger) *CachedReferenceData {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedReferenceData{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		salt:   uuid.NewString()[:8],
		logger: logger,
	}
}

// Invalidate makes every cached entry unreachable.
func (r *CachedReferenceData) Invalidate() {
	r.generation.Add(1)
}

// Generation returns the current cache generation.
func (r *CachedReferenceData) Generation() uint64 {
	return r.generation.Load()
}

// Watch invalidates the cache whenever a reference change is published.
func (r *CachedReferenceData) Watch(ctx context.Context, bus domain.EventBus) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicReferenceChanged, func(ctx context.Context, msg *domain.Message) error {
		r.Invalidate()
		r.logger.Debug("reference cache invalidated",
			"generation", r.Generation(),
			"entity", string(msg.Payload),
		)
		return nil
	})
}

func (r *CachedReferenceData) key(kind, id string) string {
	return fmt.Sprintf("ref:%s:%d:%s:%s", r.salt, r.generation.Load(), kind, id)
}

// cachedLookup reads kind/id from the cache or loads and stores it.
// Cache failures degrade to the underlying gateway; nil results are not cached.
func cachedLookup[T any](ctx context.Context, r *CachedReferenceData, kind, id string, load func() (*T, error)) (*T, error) {
	key := r.key(kind, id)
	if v, err := GetJSON[T](ctx, r.cache, key); err != nil {
		r.logger.Warn("reference cache read failed", "key", key, "error", err)
	} else if v != nil {
		return v, nil
	}

	v, err := load()
	if err != nil || v == nil {
		return v, err
	}
	if err := SetJSON(ctx, r.cache, key, v, r.ttl); err != nil {
		r.logger.Warn("reference cache write failed", "key", key, "error", err)
	}
	return v, nil
}

func (r *CachedReferenceData) LookupBrand(ctx context.Context, id string) (*domain.Brand, error) {
	return cachedLookup(ctx, r, "brand", id, func() (*domain.Brand, error) {
		return r.inner.LookupBrand(ctx, id)
	})
}

func (r *CachedReferenceData) LookupFuelType(ctx context.Context, id string) (*domain.FuelType, error) {
	return cachedLookup(ctx, r, "fuel", id, func() (*domain.FuelType, error) {
		return r.inner.LookupFuelType(ctx, id)
	})
}

func (r *CachedReferenceData) LookupCarType(ctx context.Context, id string) (*domain.CarType, error) {
	return cachedLookup(ctx, r, "cartype", id, func() (*domain.CarType, error) {
		return r.inner.LookupCarType(ctx, id)
	})
}

func (r *CachedReferenceData) SearchEuroNorms(ctx context.Context, filter domain.EuroNormFilter) (*domain.Page[domain.EuroNorm], error) {
	return r.inner.SearchEuroNorms(ctx, filter)
}

func (r *CachedReferenceData) LookupTown(ctx context.Context, id string) (*domain.Town, error) {
	return cachedLookup(ctx, r, "town", id, func() (*domain.Town, error) {
		return r.inner.LookupTown(ctx, id)
	})
}

func (r *CachedReferenceData) LookupProvince(ctx context.Context, id string) (*domain.Province, error) {
	return cachedLookup(ctx, r, "province", id, func() (*domain.Province, error) {
		return r.inner.LookupProvince(ctx, id)
	})
}

func (r *CachedReferenceData) GetHub(ctx context.Context, id string) (*domain.Hub, error) {
	return cachedLookup(ctx, r, "hub", id, func() (*domain.Hub, error) {
		return r.inner.GetHub(ctx, id)
	})
}

func (r *CachedReferenceData) GetDefaultHub(ctx context.Context) (*domain.Hub, error) {
	return cachedLookup(ctx, r, "hub", "default", func() (*domain.Hub, error) {
		return r.inner.GetDefaultHub(ctx)
	})
}

func (r *CachedReferenceData) GetSimulationRegion(ctx context.Context, id string) (*domain.SimulationRegion, error) {
	return cachedLookup(ctx, r, "region", id, func() (*domain.SimulationRegion, error) {
		return r.inner.GetSimulationRegion(ctx, id)
	})
}

func (r *CachedReferenceData) GetDefaultSimulationRegion(ctx context.Context) (*domain.SimulationRegion, error) {
	return cachedLookup(ctx, r, "region", "default", func() (*domain.SimulationRegion, error) {
		return r.inner.GetDefaultSimulationRegion(ctx)
	})
}

func (r *CachedReferenceData) FindFlatRate(ctx context.Context, fiscalRegionID string, at time.Time) (*domain.CarTaxFlatRate, error) {
	return r.inner.FindFlatRate(ctx, fiscalRegionID, at)
}

func (r *CachedReferenceData) FindBaseRate(ctx context.Context, fiscalRegionID string, cc, hp int, at time.Time) (*domain.CarTaxBaseRate, error) {
	return r.inner.FindBaseRate(ctx, fiscalRegionID, cc, hp, at)
}

func (r *CachedReferenceData) FindEuroNormAdjustment(ctx context.Context, fiscalRegionID string, euroNormGroup int) (*domain.CarTaxEuroNormAdjustment, error) {
	return r.inner.FindEuroNormAdjustment(ctx, fiscalRegionID, euroNormGroup)
}

func (r *CachedReferenceData) FindMostRecentInsuranceBenchmark(ctx context.Context, year int, carValue float64) (*domain.InsurancePriceBenchmark, error) {
	return r.inner.FindMostRecentInsuranceBenchmark(ctx, year, carValue)
}

func (r *CachedReferenceData) FindHubBenchmark(ctx context.Context, hubID string, q domain.HubBenchmarkQuery) (*domain.HubBenchmark, error) {
	return r.inner.FindHubBenchmark(ctx, hubID, q)
}

func (r *CachedReferenceData) GetSystemParameter(ctx context.Context, code string) (*domain.SystemParameter, error) {
	return cachedLookup(ctx, r, "param", code, func() (*domain.SystemParameter, error) {
		return r.inner.GetSystemParameter(ctx, code)
	})
}
