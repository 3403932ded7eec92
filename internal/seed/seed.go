// Package seed imports reference data sets from YAML files.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Dataset is the YAML document layout. Rows reference each other by id, so
// every row that is referenced must carry one.
type Dataset struct {
	FiscalRegions       []*domain.FiscalRegion            `yaml:"fiscalRegions"`
	Provinces           []*domain.Province                `yaml:"provinces"`
	Towns               []*domain.Town                    `yaml:"towns"`
	Brands              []*domain.Brand                   `yaml:"brands"`
	FuelTypes           []*domain.FuelType                `yaml:"fuelTypes"`
	CarTypes            []*domain.CarType                 `yaml:"carTypes"`
	EuroNorms           []*domain.EuroNorm                `yaml:"euroNorms"`
	Hubs                []*domain.Hub                     `yaml:"hubs"`
	SimulationRegions   []*domain.SimulationRegion        `yaml:"simulationRegions"`
	HubBenchmarks       []*domain.HubBenchmark            `yaml:"hubBenchmarks"`
	InsuranceBenchmarks []*domain.InsurancePriceBenchmark `yaml:"insuranceBenchmarks"`
	Tax                 TaxSection                        `yaml:"tax"`
	SystemParameters    []*domain.SystemParameter         `yaml:"systemParameters"`
	AdjustmentRules     []*domain.AdjustmentRule          `yaml:"adjustmentRules"`
}

// TaxSection groups the tax tables of every fiscal region.
type TaxSection struct {
	BaseRates           []*domain.CarTaxBaseRate           `yaml:"baseRates"`
	FlatRates           []*domain.CarTaxFlatRate           `yaml:"flatRates"`
	EuroNormAdjustments []*domain.CarTaxEuroNormAdjustment `yaml:"euroNormAdjustments"`
}

// Store is the write side a dataset is applied to.
type Store interface {
	domain.AdminStore
	domain.RuleStore
}

// RuleValidator compiles adjustment rules before they are stored.
type RuleValidator interface {
	ValidateRule(rule *domain.AdjustmentRule) error
}

// Summary counts the rows written per section.
type Summary map[string]int

// Total is the number of rows written.
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Load decodes a dataset. Unknown keys are rejected.
func Load(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		if errors.Is(err, io.EOF) {
			return &ds, nil
		}
		return nil, fmt.Errorf("%w: seed: %v", domain.ErrValidation, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// LoadFile reads and decodes the dataset at path.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Validate checks references between rows of the dataset. References to rows
// that are not part of the dataset are left to the store.
func (d *Dataset) Validate() error {
	ids := func(n int, id func(i int) string) map[string]bool {
		set := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			if v := id(i); v != "" {
				set[v] = true
			}
		}
		return set
	}
	fiscal := ids(len(d.FiscalRegions), func(i int) string { return d.FiscalRegions[i].ID })
	provinces := ids(len(d.Provinces), func(i int) string { return d.Provinces[i].ID })
	brands := ids(len(d.Brands), func(i int) string { return d.Brands[i].ID })
	hubs := ids(len(d.Hubs), func(i int) string { return d.Hubs[i].ID })

	check := func(kind, ref string, known map[string]bool) error {
		if ref == "" {
			return fmt.Errorf("%w: seed: %s without reference", domain.ErrValidation, kind)
		}
		if len(known) > 0 && !known[ref] {
			return fmt.Errorf("%w: seed: %s references unknown id %s", domain.ErrValidation, kind, ref)
		}
		return nil
	}

	for _, p := range d.Provinces {
		if err := check("province "+p.Name, p.FiscalRegionID, fiscal); err != nil {
			return err
		}
	}
	for _, t := range d.Towns {
		if err := check("town "+t.Name, t.ProvinceID, provinces); err != nil {
			return err
		}
	}
	for _, c := range d.CarTypes {
		if err := check("car type "+c.Name, c.BrandID, brands); err != nil {
			return err
		}
	}
	for _, r := range d.SimulationRegions {
		if err := check("simulation region "+r.Name, r.FiscalRegionID, fiscal); err != nil {
			return err
		}
	}
	for _, b := range d.HubBenchmarks {
		if err := check("hub benchmark", b.HubID, hubs); err != nil {
			return err
		}
	}

	defaults := 0
	for _, h := range d.Hubs {
		if h.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: seed: %d default hubs", domain.ErrValidation, defaults)
	}
	defaults = 0
	for _, r := range d.SimulationRegions {
		if r.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: seed: %d default simulation regions", domain.ErrValidation, defaults)
	}
	return nil
}

// Importer writes datasets to a store.
type Importer struct {
	store     Store
	validator RuleValidator
	logger    *slog.Logger
}

// NewImporter creates an importer. validator may be nil.
func NewImporter(store Store, validator RuleValidator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, validator: validator, logger: logger}
}

// Apply upserts every row of ds, parents before children. It stops at the
// first failing row.
func (im *Importer) Apply(ctx context.Context, ds *Dataset) (Summary, error) {
	summary := Summary{}
	s := im.store

	steps := []struct {
		section string
		n       int
		save    func(i int) error
	}{
		{"fiscalRegions", len(ds.FiscalRegions), func(i int) error { return s.SaveFiscalRegion(ctx, ds.FiscalRegions[i]) }},
		{"provinces", len(ds.Provinces), func(i int) error { return s.SaveProvince(ctx, ds.Provinces[i]) }},
		{"towns", len(ds.Towns), func(i int) error { return s.SaveTown(ctx, ds.Towns[i]) }},
		{"brands", len(ds.Brands), func(i int) error { return s.SaveBrand(ctx, ds.Brands[i]) }},
		{"fuelTypes", len(ds.FuelTypes), func(i int) error { return s.SaveFuelType(ctx, ds.FuelTypes[i]) }},
		{"carTypes", len(ds.CarTypes), func(i int) error { return s.SaveCarType(ctx, ds.CarTypes[i]) }},
		{"euroNorms", len(ds.EuroNorms), func(i int) error { return s.SaveEuroNorm(ctx, ds.EuroNorms[i]) }},
		{"hubs", len(ds.Hubs), func(i int) error { return s.SaveHub(ctx, ds.Hubs[i]) }},
		{"simulationRegions", len(ds.SimulationRegions), func(i int) error { return s.SaveSimulationRegion(ctx, ds.SimulationRegions[i]) }},
		{"hubBenchmarks", len(ds.HubBenchmarks), func(i int) error { return s.SaveHubBenchmark(ctx, ds.HubBenchmarks[i]) }},
		{"insuranceBenchmarks", len(ds.InsuranceBenchmarks), func(i int) error { return s.SaveInsuranceBenchmark(ctx, ds.InsuranceBenchmarks[i]) }},
		{"tax.baseRates", len(ds.Tax.BaseRates), func(i int) error { return s.SaveBaseRate(ctx, ds.Tax.BaseRates[i]) }},
		{"tax.flatRates", len(ds.Tax.FlatRates), func(i int) error { return s.SaveFlatRate(ctx, ds.Tax.FlatRates[i]) }},
		{"tax.euroNormAdjustments", len(ds.Tax.EuroNormAdjustments), func(i int) error { return s.SaveEuroNormAdjustment(ctx, ds.Tax.EuroNormAdjustments[i]) }},
		{"systemParameters", len(ds.SystemParameters), func(i int) error { return s.SetSystemParameter(ctx, ds.SystemParameters[i]) }},
		{"adjustmentRules", len(ds.AdjustmentRules), func(i int) error { return im.saveRule(ctx, ds.AdjustmentRules[i]) }},
	}

	for _, step := range steps {
		for i := 0; i < step.n; i++ {
			if err := step.save(i); err != nil {
				return summary, fmt.Errorf("seed %s[%d]: %w", step.section, i, err)
			}
		}
		if step.n > 0 {
			summary[step.section] = step.n
		}
	}

	im.logger.Info("reference data imported", "rows", summary.Total(), "sections", len(summary))
	return summary, nil
}

func (im *Importer) saveRule(ctx context.Context, rule *domain.AdjustmentRule) error {
	if im.validator != nil {
		if err := im.validator.ValidateRule(rule); err != nil {
			return err
		}
	}
	return im.store.SaveAdjustmentRule(ctx, rule)
}

// ApplyFile loads the dataset at path and applies it.
func (im *Importer) ApplyFile(ctx context.Context, path string) (Summary, error) {
	ds, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return im.Apply(ctx, ds)
}
