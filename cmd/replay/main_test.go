package main

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/opensource-finance/carsim/internal/domain"
)

func TestReadCases(t *testing.T) {
	f, err := os.Open("testdata/simulations.csv")
	if err != nil {
		t.Fatalf("failed to open testdata: %v", err)
	}
	defer f.Close()

	cases, err := readCases(f, 0)
	if err != nil {
		t.Fatalf("readCases failed: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}

	first := cases[0]
	if first.Line != 2 || first.Expected != domain.ResultOK || first.Price == nil || *first.Price != 8855 {
		t.Errorf("unexpected first case %+v", first)
	}
	if first.Request.CarTypeID == nil || first.Request.Km != 30000 || first.Request.FirstRegisteredAt.String() != "2022-03-01" {
		t.Errorf("unexpected request %+v", first.Request)
	}
	if first.Request.HubID != nil {
		t.Error("absent columns should stay nil")
	}

	second := cases[1]
	if second.Expected != domain.ResultNotOK || second.Price != nil {
		t.Errorf("unexpected second case %+v", second)
	}

	t.Run("limit", func(t *testing.T) {
		f, _ := os.Open("testdata/simulations.csv")
		defer f.Close()
		cases, err := readCases(f, 1)
		if err != nil || len(cases) != 1 {
			t.Errorf("expected 1 case, got %d, %v", len(cases), err)
		}
	})
}

func TestReadCasesRejects(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"empty", ""},
		{"missing column", "brandId,fuelTypeId,km\nb,f,1\n"},
		{"bad km", "brandId,fuelTypeId,km,firstRegisteredAt,expectedResult\nb,f,many,2020-01-01,OK\n"},
		{"bad date", "brandId,fuelTypeId,km,firstRegisteredAt,expectedResult\nb,f,1,01/01/2020,OK\n"},
		{"bad price", "brandId,fuelTypeId,km,firstRegisteredAt,expectedResult,expectedPrice\nb,f,1,2020-01-01,OK,lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readCases(strings.NewReader(tt.csv), 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReplay(t *testing.T) {
	price := 8855.0
	drifted := 8900.0
	cases := []Case{
		{Line: 2, Expected: domain.ResultOK, Price: &price},
		{Line: 3, Expected: domain.ResultOK, Price: &price},
		{Line: 4, Expected: domain.ResultNotOK},
		{Line: 5, Expected: domain.ResultManualReview},
	}

	simulate := func(c Case) Outcome {
		switch c.Line {
		case 2:
			return Outcome{Case: c, Result: domain.ResultOK, Price: &price}
		case 3:
			return Outcome{Case: c, Result: domain.ResultOK, Price: &drifted}
		case 4:
			return Outcome{Case: c, Result: domain.ResultManualReview}
		default:
			return Outcome{Case: c, Err: errors.New("status 500")}
		}
	}

	m := replay(cases, simulate, 3, 0.01, false)

	if m.TotalProcessed != 4 || m.TotalErrors != 1 {
		t.Errorf("expected 4 processed and 1 error, got %d and %d", m.TotalProcessed, m.TotalErrors)
	}
	if got := m.Matches(); got != 2 {
		t.Errorf("expected 2 matching results, got %d", got)
	}
	if m.matrix[domain.ResultNotOK][domain.ResultManualReview] != 1 {
		t.Errorf("expected NOT_OK replayed as MANUAL_REVIEW, got %v", m.matrix)
	}
	if m.PriceMismatch != 1 || m.MaxPriceDrift != 45 {
		t.Errorf("expected 1 price mismatch with drift 45, got %d and %v", m.PriceMismatch, m.MaxPriceDrift)
	}
}
