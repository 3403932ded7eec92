package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/carsim/internal/cache"
	"github.com/opensource-finance/carsim/internal/domain"
)

// CachingSpecEstimator remembers estimated specs per car description.
// Failed estimations are not cached.
type CachingSpecEstimator struct {
	inner  domain.CarSpecEstimator
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ domain.CarSpecEstimator = (*CachingSpecEstimator)(nil)

// NewCachingSpecEstimator wraps inner with c.
func NewCachingSpecEstimator(inner domain.CarSpecEstimator, c domain.Cache, ttl time.Duration, logger *slog.Logger) *CachingSpecEstimator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingSpecEstimator{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// EstimateCarSpecs implements domain.CarSpecEstimator.
func (e *CachingSpecEstimator) EstimateCarSpecs(ctx context.Context, q domain.CarSpecQuery) (*domain.CarSpecs, error) {
	key := specKey(q)
	if specs, err := cache.GetJSON[domain.CarSpecs](ctx, e.cache, key); err != nil {
		e.logger.Warn("spec cache read failed", "key", key, "error", err)
	} else if specs != nil {
		return specs, nil
	}

	specs, err := e.inner.EstimateCarSpecs(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, e.cache, key, specs, e.ttl); err != nil {
		e.logger.Warn("spec cache write failed", "key", key, "error", err)
	}
	return specs, nil
}

func specKey(q domain.CarSpecQuery) string {
	carType := "-"
	switch {
	case q.CarTypeID != nil:
		carType = *q.CarTypeID
	case q.CarTypeOther != nil:
		carType = "other:" + *q.CarTypeOther
	}
	return fmt.Sprintf("spec:%s:%s:%s:%d", q.BrandID, q.FuelTypeID, carType, q.Year)
}

// NewSpecEstimator builds the configured spec estimator: the HTTP client when
// a service URL is set, the fallback otherwise, cached when c is not nil.
func NewSpecEstimator(cfg domain.EstimatorConfig, ref domain.ReferenceData, c domain.Cache, ttl time.Duration, logger *slog.Logger) domain.CarSpecEstimator {
	var est domain.CarSpecEstimator
	if cfg.SpecURL != "" {
		est = NewHTTPSpecEstimator(cfg.SpecURL, cfg.SpecTimeout, logger)
	} else {
		est = NewFallbackSpecEstimator(ref)
	}
	if c == nil {
		return est
	}
	return NewCachingSpecEstimator(est, c, ttl, logger)
}
