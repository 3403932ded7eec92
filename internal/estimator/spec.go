package estimator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/opensource-finance/carsim/internal/domain"
)

// HTTPSpecEstimator asks the AI spec service for the technical data of a car.
type HTTPSpecEstimator struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ domain.CarSpecEstimator = (*HTTPSpecEstimator)(nil)

// NewHTTPSpecEstimator creates a spec estimator posting to url.
func NewHTTPSpecEstimator(url string, timeout time.Duration, logger *slog.Logger) *HTTPSpecEstimator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSpecEstimator{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// EstimateCarSpecs implements domain.CarSpecEstimator. Every failure wraps
// domain.ErrEstimatorUnavailable.
func (e *HTTPSpecEstimator) EstimateCarSpecs(ctx context.Context, q domain.CarSpecQuery) (*domain.CarSpecs, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding query: %v", domain.ErrEstimatorUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEstimatorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEstimatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: spec service returned %d", domain.ErrEstimatorUnavailable, resp.StatusCode)
	}

	var specs domain.CarSpecs
	if err := json.NewDecoder(resp.Body).Decode(&specs); err != nil {
		return nil, fmt.Errorf("%w: decoding specs: %v", domain.ErrEstimatorUnavailable, err)
	}
	if specs.CylinderCc < 0 || specs.CO2Emission < 0 || specs.Ecoscore < 0 || specs.Ecoscore > 100 {
		return nil, fmt.Errorf("%w: implausible specs %+v", domain.ErrEstimatorUnavailable, specs)
	}

	e.logger.Debug("car specs estimated",
		"brand_id", q.BrandID,
		"year", q.Year,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &specs, nil
}
