package simulation

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

// memRef is an in-memory domain.ReferenceData with the same selection rules
// as the SQL repository.
type memRef struct {
	brands    map[string]*domain.Brand
	fuelTypes map[string]*domain.FuelType
	carTypes  map[string]*domain.CarType
	euroNorms []domain.EuroNorm
	towns     map[string]*domain.Town
	provinces map[string]*domain.Province
	hubs      map[string]*domain.Hub
	regions   map[string]*domain.SimulationRegion
	flatRates []*domain.CarTaxFlatRate
	baseRates []*domain.CarTaxBaseRate
	adjusts   []*domain.CarTaxEuroNormAdjustment
	insurance []*domain.InsurancePriceBenchmark
	hubBench  []*domain.HubBenchmark
	params    map[string]float64

	benchmarkCalls atomic.Int32
	benchmarkErr   error
}

func newMemRef() *memRef {
	return &memRef{
		brands:    map[string]*domain.Brand{},
		fuelTypes: map[string]*domain.FuelType{},
		carTypes:  map[string]*domain.CarType{},
		towns:     map[string]*domain.Town{},
		provinces: map[string]*domain.Province{},
		hubs:      map[string]*domain.Hub{},
		regions:   map[string]*domain.SimulationRegion{},
		params:    map[string]float64{},
	}
}

func (m *memRef) LookupBrand(ctx context.Context, id string) (*domain.Brand, error) {
	return lookup(m.brands, id)
}

func (m *memRef) LookupFuelType(ctx context.Context, id string) (*domain.FuelType, error) {
	return lookup(m.fuelTypes, id)
}

func (m *memRef) LookupCarType(ctx context.Context, id string) (*domain.CarType, error) {
	return lookup(m.carTypes, id)
}

func (m *memRef) LookupTown(ctx context.Context, id string) (*domain.Town, error) {
	return lookup(m.towns, id)
}

func (m *memRef) LookupProvince(ctx context.Context, id string) (*domain.Province, error) {
	return lookup(m.provinces, id)
}

func (m *memRef) GetHub(ctx context.Context, id string) (*domain.Hub, error) {
	return lookup(m.hubs, id)
}

func (m *memRef) GetSimulationRegion(ctx context.Context, id string) (*domain.SimulationRegion, error) {
	return lookup(m.regions, id)
}

func lookup[T any](rows map[string]*T, id string) (*T, error) {
	if v, ok := rows[id]; ok {
		c := *v
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memRef) GetDefaultHub(ctx context.Context) (*domain.Hub, error) {
	for _, h := range m.hubs {
		if h.IsDefault {
			c := *h
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memRef) GetDefaultSimulationRegion(ctx context.Context) (*domain.SimulationRegion, error) {
	for _, r := range m.regions {
		if r.IsDefault {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memRef) SearchEuroNorms(ctx context.Context, f domain.EuroNormFilter) (*domain.Page[domain.EuroNorm], error) {
	var items []domain.EuroNorm
	for _, n := range m.euroNorms {
		if f.Code != "" && n.Code != f.Code {
			continue
		}
		if f.ValidAt != nil && n.StartDate.After(*f.ValidAt) {
			continue
		}
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool {
		if f.ValidAt != nil {
			return items[i].StartDate.After(items[j].StartDate.Time)
		}
		return items[i].StartDate.Before(items[j].StartDate.Time)
	})
	page := &domain.Page[domain.EuroNorm]{Total: len(items), Items: []domain.EuroNorm{}}
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	page.Items = append(page.Items, items...)
	return page, nil
}

func (m *memRef) FindFlatRate(ctx context.Context, regionID string, at time.Time) (*domain.CarTaxFlatRate, error) {
	var best *domain.CarTaxFlatRate
	for _, r := range m.flatRates {
		if r.FiscalRegionID != regionID || r.StartDate.After(at) {
			continue
		}
		if best == nil || r.StartDate.After(best.StartDate.Time) {
			best = r
		}
	}
	return best, nil
}

func (m *memRef) FindBaseRate(ctx context.Context, regionID string, cc, hp int, at time.Time) (*domain.CarTaxBaseRate, error) {
	var best *domain.CarTaxBaseRate
	for _, r := range m.baseRates {
		if r.FiscalRegionID != regionID || r.MaxCc < cc || r.MaxFiscalHp < hp || r.StartDate.After(at) {
			continue
		}
		if r.EndDate != nil && r.EndDate.Before(at) {
			continue
		}
		if best == nil || r.MaxCc < best.MaxCc || (r.MaxCc == best.MaxCc && r.MaxFiscalHp < best.MaxFiscalHp) {
			best = r
		}
	}
	return best, nil
}

func (m *memRef) FindEuroNormAdjustment(ctx context.Context, regionID string, group int) (*domain.CarTaxEuroNormAdjustment, error) {
	for _, a := range m.adjusts {
		if a.FiscalRegionID == regionID && a.EuroNormGroup == group {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memRef) FindMostRecentInsuranceBenchmark(ctx context.Context, year int, carValue float64) (*domain.InsurancePriceBenchmark, error) {
	var best *domain.InsurancePriceBenchmark
	for _, b := range m.insurance {
		if b.Year != year || b.MaxCarValueExclusive <= carValue {
			continue
		}
		if best == nil || b.MaxCarValueExclusive < best.MaxCarValueExclusive ||
			(b.MaxCarValueExclusive == best.MaxCarValueExclusive && b.CreatedAt.After(best.CreatedAt)) {
			best = b
		}
	}
	return best, nil
}

func (m *memRef) FindHubBenchmark(ctx context.Context, hubID string, q domain.HubBenchmarkQuery) (*domain.HubBenchmark, error) {
	m.benchmarkCalls.Add(1)
	if m.benchmarkErr != nil {
		return nil, m.benchmarkErr
	}
	var rows []*domain.HubBenchmark
	for _, b := range m.hubBench {
		if b.HubID != hubID {
			continue
		}
		if q.MinOwnerKm != nil && b.OwnerKm < *q.MinOwnerKm {
			continue
		}
		rows = append(rows, b)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if q.Descending {
			return rows[i].OwnerKm > rows[j].OwnerKm
		}
		return rows[i].OwnerKm < rows[j].OwnerKm
	})
	return rows[0], nil
}

func (m *memRef) GetSystemParameter(ctx context.Context, code string) (*domain.SystemParameter, error) {
	v, ok := m.params[code]
	if !ok {
		return nil, nil
	}
	return &domain.SystemParameter{Code: code, ValueNumber: &v}, nil
}

// flakyRef fails one gateway method with err and serves the rest from memRef.
type flakyRef struct {
	*memRef
	method string
	err    error
}

func (f *flakyRef) failing(method string) error {
	if f.method == method {
		return f.err
	}
	return nil
}

func (f *flakyRef) LookupBrand(ctx context.Context, id string) (*domain.Brand, error) {
	if err := f.failing("LookupBrand"); err != nil {
		return nil, err
	}
	return f.memRef.LookupBrand(ctx, id)
}

func (f *flakyRef) GetHub(ctx context.Context, id string) (*domain.Hub, error) {
	if err := f.failing("GetHub"); err != nil {
		return nil, err
	}
	return f.memRef.GetHub(ctx, id)
}

func (f *flakyRef) GetDefaultHub(ctx context.Context) (*domain.Hub, error) {
	if err := f.failing("GetDefaultHub"); err != nil {
		return nil, err
	}
	return f.memRef.GetDefaultHub(ctx)
}

func (f *flakyRef) GetDefaultSimulationRegion(ctx context.Context) (*domain.SimulationRegion, error) {
	if err := f.failing("GetDefaultSimulationRegion"); err != nil {
		return nil, err
	}
	return f.memRef.GetDefaultSimulationRegion(ctx)
}

func (f *flakyRef) SearchEuroNorms(ctx context.Context, filter domain.EuroNormFilter) (*domain.Page[domain.EuroNorm], error) {
	if err := f.failing("SearchEuroNorms"); err != nil {
		return nil, err
	}
	return f.memRef.SearchEuroNorms(ctx, filter)
}

func (f *flakyRef) GetSystemParameter(ctx context.Context, code string) (*domain.SystemParameter, error) {
	if err := f.failing("GetSystemParameter"); err != nil {
		return nil, err
	}
	return f.memRef.GetSystemParameter(ctx, code)
}

const (
	brandVW     = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e01"
	fuelPetrol  = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e02"
	fuelDiesel  = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e03"
	fuelEV      = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e04"
	carTypeGolf = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e05"
	hubMain     = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e06"
	regionMain  = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e07"
	fiscalMain  = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e08"
	provinceA   = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e09"
	townA       = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e10"
	fiscalOther = "8d1f7b0e-51c4-4b57-9a0b-6a3a4c3d2e11"
)

// fixtureRef returns a complete reference data set for fiscal region
// fiscalMain. Cars registered in 2022 with 1600 cc pay 350 tax.
func fixtureRef() *memRef {
	m := newMemRef()
	m.brands[brandVW] = &domain.Brand{ID: brandVW, Name: "Volkswagen"}
	m.fuelTypes[fuelPetrol] = &domain.FuelType{ID: fuelPetrol, Code: domain.FuelPetrol, Name: "Petrol"}
	m.fuelTypes[fuelDiesel] = &domain.FuelType{ID: fuelDiesel, Code: domain.FuelDiesel, Name: "Diesel"}
	m.fuelTypes[fuelEV] = &domain.FuelType{ID: fuelEV, Code: domain.FuelElectric, Name: "Electric"}
	m.carTypes[carTypeGolf] = &domain.CarType{ID: carTypeGolf, BrandID: brandVW, Name: "Golf", CatalogPrice: 30000}

	m.euroNorms = []domain.EuroNorm{
		{ID: "e4", Code: "EURO4", Group: 4, StartDate: domain.MustDate("2005-01-01")},
		{ID: "e5", Code: "EURO5", Group: 5, StartDate: domain.MustDate("2009-09-01")},
		{ID: "e6", Code: "EURO6", Group: 6, StartDate: domain.MustDate("2014-09-01")},
	}

	m.provinces[provinceA] = &domain.Province{ID: provinceA, Name: "Antwerp", FiscalRegionID: fiscalOther}
	m.towns[townA] = &domain.Town{ID: townA, Name: "Mechelen", ProvinceID: provinceA}

	m.hubs[hubMain] = &domain.Hub{
		ID:                           hubMain,
		Name:                         "Main hub",
		IsDefault:                    true,
		SimMinEuroNormGroupDiesel:    5,
		SimEcoscoreBonusThreshold:    70,
		SimEcoscoreBonus:             250,
		SimAgeBonusMaxYears:          5,
		SimAgeBonus:                  300,
		SimKmBonusMaxKm:              80000,
		SimKmBonus:                   200,
		SimDepreciationPerKm:         0.05,
		SimDepreciationKmCap:         20000,
		SimDepreciationKmCapElectric: 25000,
	}
	m.regions[regionMain] = &domain.SimulationRegion{
		ID:                      regionMain,
		Name:                    "Main region",
		IsDefault:               true,
		FiscalRegionID:          fiscalMain,
		SimYearlyInspectionCost: 100,
	}

	for _, region := range []string{fiscalMain, fiscalOther} {
		m.baseRates = append(m.baseRates,
			&domain.CarTaxBaseRate{ID: region + "-1400", FiscalRegionID: region, MaxCc: 1400, MaxFiscalHp: 7, Rate: 200, StartDate: domain.MustDate("2000-01-01")},
			&domain.CarTaxBaseRate{ID: region + "-2000", FiscalRegionID: region, MaxCc: 2000, MaxFiscalHp: 10, Rate: 350, StartDate: domain.MustDate("2000-01-01")},
		)
		for group := 0; group <= 6; group++ {
			m.adjusts = append(m.adjusts, &domain.CarTaxEuroNormAdjustment{
				FiscalRegionID:    region,
				EuroNormGroup:     group,
				DefaultAdjustment: float64(6-group) * 10,
				DieselAdjustment:  float64(6-group) * 25,
			})
		}
	}

	m.insurance = []*domain.InsurancePriceBenchmark{
		{ID: "i1", Year: 2025, MaxCarValueExclusive: 15000, BaseRate: 395, Rate: 0.015},
		{ID: "i2", Year: 2025, MaxCarValueExclusive: 1e9, BaseRate: 500, Rate: 0.02},
	}
	m.hubBench = []*domain.HubBenchmark{
		{ID: "b1", HubID: hubMain, OwnerKm: 15000, SharedAvgKm: 18000},
		{ID: "b2", HubID: hubMain, OwnerKm: 24000, SharedAvgKm: 30000},
	}
	return m
}

type fakeValues struct {
	calls atomic.Int32
	r     *domain.PriceRange
	err   error
}

func (f *fakeValues) EstimateCarValue(ctx context.Context, q domain.CarValueQuery) (*domain.PriceRange, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	r := *f.r
	return &r, nil
}

type fakeSpecs struct {
	calls atomic.Int32
	specs *domain.CarSpecs
	err   error
}

func (f *fakeSpecs) EstimateCarSpecs(ctx context.Context, q domain.CarSpecQuery) (*domain.CarSpecs, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	s := *f.specs
	return &s, nil
}

// memStore is an in-memory domain.SimulationStore.
type memStore struct {
	mu    sync.Mutex
	sims  map[string]*domain.Simulation
	order []string
	err   error
}

func newMemStore() *memStore {
	return &memStore{sims: map[string]*domain.Simulation{}}
}

func (s *memStore) SaveSimulation(ctx context.Context, sim *domain.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if sim.ID == "" {
		sim.ID = "sim-" + string(rune('a'+len(s.order)))
	}
	s.sims[sim.ID] = sim
	s.order = append(s.order, sim.ID)
	return nil
}

func (s *memStore) GetSimulation(ctx context.Context, id string) (*domain.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sim, ok := s.sims[id]; ok {
		return sim, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ListSimulations(ctx context.Context, limit, offset int) ([]*domain.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Simulation{}
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.sims[s.order[i]])
	}
	return out, nil
}

func (s *memStore) DeleteSimulation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sims[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.sims, id)
	return nil
}
