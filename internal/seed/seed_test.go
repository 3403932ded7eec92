package seed

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/i18n"
	"github.com/opensource-finance/carsim/internal/repository"
	"github.com/opensource-finance/carsim/internal/rules"
	"github.com/opensource-finance/carsim/internal/simulation"
)

const testdataFile = "testdata/reference.yaml"

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "carsim-seed-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLoadFile(t *testing.T) {
	ds, err := LoadFile(testdataFile)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if len(ds.Brands) != 1 || len(ds.FuelTypes) != 3 || len(ds.EuroNorms) != 3 {
		t.Errorf("unexpected dataset sizes: %d brands, %d fuel types, %d euro norms",
			len(ds.Brands), len(ds.FuelTypes), len(ds.EuroNorms))
	}
	if got := ds.EuroNorms[1].StartDate.String(); got != "2009-09-01" {
		t.Errorf("expected EURO5 start 2009-09-01, got %s", got)
	}
	if ds.Towns[0].PostalCode != "2800" {
		t.Errorf("expected postal code kept as text, got %q", ds.Towns[0].PostalCode)
	}
	if v := ds.SystemParameters[1].ValueNumber; v == nil || *v != 250000 {
		t.Errorf("unexpected SIM_MAX_KM value %v", v)
	}
	if !ds.Hubs[0].IsDefault || ds.Hubs[0].SimDepreciationPerKm != 0.05 {
		t.Errorf("unexpected hub %+v", ds.Hubs[0])
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown section", "vehicles: []\n"},
		{"unknown field", "brands:\n  - {id: b1, name: VW, country: DE}\n"},
		{"bad date", "euroNorms:\n  - {code: EURO6, group: 6, startDate: 2014-13-45}\n"},
		{"car type without brand", "carTypes:\n  - {name: Golf}\n"},
		{"car type with unknown brand", "brands:\n  - {id: b1, name: VW}\ncarTypes:\n  - {name: Golf, brandId: b2}\n"},
		{"town with unknown province", "provinces:\n  - {id: p1, name: A, fiscalRegionId: f1}\ntowns:\n  - {name: T, provinceId: p2}\n"},
		{"two default hubs", "hubs:\n  - {name: A, isDefault: true}\n  - {name: B, isDefault: true}\n"},
		{"two default regions", "simulationRegions:\n  - {name: A, isDefault: true, fiscalRegionId: f}\n  - {name: B, isDefault: true, fiscalRegionId: f}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	t.Run("empty document", func(t *testing.T) {
		ds, err := Load(strings.NewReader(""))
		if err != nil || ds == nil {
			t.Errorf("expected empty dataset, got %v, %v", ds, err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile("testdata/missing.yaml"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestApply(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}

	im := NewImporter(repo, ruleEngine, nil)
	summary, err := im.ApplyFile(ctx, testdataFile)
	if err != nil {
		t.Fatalf("ApplyFile failed: %v", err)
	}
	if summary["brands"] != 1 || summary["tax.euroNormAdjustments"] != 4 || summary["adjustmentRules"] != 1 {
		t.Errorf("unexpected summary %v", summary)
	}
	if summary.Total() != 26 {
		t.Errorf("expected 26 rows, got %d", summary.Total())
	}

	hub, err := repo.GetDefaultHub(ctx)
	if err != nil || hub == nil || hub.Name != "Mechelen hub" {
		t.Fatalf("default hub not imported: %+v, %v", hub, err)
	}
	town, err := repo.LookupTown(ctx, "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0003")
	if err != nil || town.ProvinceID != "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0002" {
		t.Errorf("town not imported: %+v, %v", town, err)
	}

	t.Run("reapplying upserts rows with ids", func(t *testing.T) {
		if _, err := im.ApplyFile(ctx, testdataFile); err != nil {
			t.Fatalf("second ApplyFile failed: %v", err)
		}
		brands, _ := repo.ListBrands(ctx)
		hubs, _ := repo.ListHubs(ctx)
		if len(brands) != 1 || len(hubs) != 1 {
			t.Errorf("expected 1 brand and 1 hub, got %d and %d", len(brands), len(hubs))
		}
	})

	t.Run("reapplying merges rows without ids", func(t *testing.T) {
		if _, err := im.ApplyFile(ctx, testdataFile); err != nil {
			t.Fatalf("third ApplyFile failed: %v", err)
		}
		tables, err := repo.ListTaxTables(ctx, "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0001")
		if err != nil {
			t.Fatalf("ListTaxTables failed: %v", err)
		}
		if len(tables.BaseRates) != summary["tax.baseRates"] || len(tables.Adjustments) != summary["tax.euroNormAdjustments"] {
			t.Errorf("expected %d base rates and %d adjustments, got %d and %d",
				summary["tax.baseRates"], summary["tax.euroNormAdjustments"], len(tables.BaseRates), len(tables.Adjustments))
		}
		benchmarks, err := repo.ListHubBenchmarks(ctx, hub.ID)
		if err != nil {
			t.Fatalf("ListHubBenchmarks failed: %v", err)
		}
		if len(benchmarks) != summary["hubBenchmarks"] {
			t.Errorf("expected %d hub benchmarks, got %d", summary["hubBenchmarks"], len(benchmarks))
		}
		bands, err := repo.ListInsuranceBenchmarks(ctx, 0)
		if err != nil {
			t.Fatalf("ListInsuranceBenchmarks failed: %v", err)
		}
		if len(bands) != summary["insuranceBenchmarks"] {
			t.Errorf("expected %d insurance bands, got %d", summary["insuranceBenchmarks"], len(bands))
		}
	})

	t.Run("invalid rule stops the import", func(t *testing.T) {
		ds := &Dataset{AdjustmentRules: []*domain.AdjustmentRule{
			{Name: "broken", Condition: "km >", Amount: "1.0", Enabled: true},
		}}
		if _, err := im.Apply(ctx, ds); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

type fixedValues struct{}

func (fixedValues) EstimateCarValue(ctx context.Context, q domain.CarValueQuery) (*domain.PriceRange, error) {
	return &domain.PriceRange{Min: 9000, Max: 11000}, nil
}

type fixedSpecs struct{}

func (fixedSpecs) EstimateCarSpecs(ctx context.Context, q domain.CarSpecQuery) (*domain.CarSpecs, error) {
	return &domain.CarSpecs{CylinderCc: 1600, CO2Emission: 120, Ecoscore: 72}, nil
}

// TestSeededSimulation runs the engine against the SQL repository filled
// from the sample dataset.
func TestSeededSimulation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	if _, err := NewImporter(repo, ruleEngine, nil).ApplyFile(ctx, testdataFile); err != nil {
		t.Fatalf("ApplyFile failed: %v", err)
	}
	stored, err := repo.ListAdjustmentRules(ctx)
	if err != nil {
		t.Fatalf("ListAdjustmentRules failed: %v", err)
	}
	if err := ruleEngine.ReloadRules(stored); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	engine := simulation.NewEngine(repo, fixedValues{}, fixedSpecs{}, ruleEngine, i18n.MustLoad("en"),
		simulation.WithClock(func() time.Time { return now }),
	)

	carType := "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0030"
	req := &domain.SimulationRequest{
		BrandID:           "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0010",
		FuelTypeID:        "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0020",
		CarTypeID:         &carType,
		Km:                30000,
		FirstRegisteredAt: domain.MustDate("2022-03-01"),
	}

	sim, err := engine.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sim.ResultCode != domain.ResultOK || sim.EstimatedPrice == nil || *sim.EstimatedPrice != 8855 {
		t.Fatalf("expected OK at 8855, got %s %v: %+v", sim.ResultCode, sim.EstimatedPrice, sim.Steps)
	}

	t.Run("electric bonus from seeded rule", func(t *testing.T) {
		ev := *req
		ev.FuelTypeID = "5a0c8f62-0a51-4a47-8f0e-2d7c6e1f0022"
		sim, err := engine.Run(ctx, &ev)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var custom *domain.SimulationStep
		for i := range sim.Steps {
			if sim.Steps[i].Code == domain.StepCustomAdjustment {
				custom = &sim.Steps[i]
			}
		}
		if custom == nil || custom.Status != domain.StepOK {
			t.Fatalf("expected applied electric bonus, got %+v", sim.Steps)
		}
		// Same tax and insurance, plus 200 bonus.
		if *sim.EstimatedPrice != 9055 {
			t.Errorf("expected 9055, got %v", *sim.EstimatedPrice)
		}
	})
}
