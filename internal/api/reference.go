package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Entity names published on carsim.reference.changed.
const (
	entityBrand            = "brand"
	entityFuelType         = "fuel_type"
	entityCarType          = "car_type"
	entityEuroNorm         = "euro_norm"
	entityFiscalRegion     = "fiscal_region"
	entityProvince         = "province"
	entityTown             = "town"
	entityHub              = "hub"
	entityHubBenchmark     = "hub_benchmark"
	entitySimulationRegion = "simulation_region"
	entityInsurance        = "insurance_benchmark"
	entityTax              = "tax"
	entitySystemParameter  = "system_parameter"
)

// listHandler writes the rows returned by list as {"items": [...], "count": n}.
func listHandler[T any](list func(r *http.Request) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	}
}

// saveHandler decodes a row, lets prepare copy URL parameters into it,
// stores it and announces the change. save is a method expression so the
// store is resolved per request.
func saveHandler[T any](h *Handler, entity string, status int, prepare func(r *http.Request, v *T), save func(repo domain.Repository, ctx context.Context, v *T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if !decodeBody(w, r, v) {
			return
		}
		if prepare != nil {
			prepare(r, v)
		}
		if err := save(h.repo, r.Context(), v); err != nil {
			writeError(w, err)
			return
		}
		h.referenceChanged(r.Context(), entity)
		writeJSON(w, status, v)
	}
}

// deleteHandler removes the row named by the id URL parameter.
func deleteHandler(h *Handler, entity string, del func(repo domain.Repository, ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := del(h.repo, r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		h.referenceChanged(r.Context(), entity)
		w.WriteHeader(http.StatusNoContent)
	}
}

// referenceChanged publishes entity on carsim.reference.changed so every
// node drops its cached reference rows. Failures are logged only.
func (h *Handler) referenceChanged(ctx context.Context, entity string) {
	if h.bus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.bus.Publish(pubCtx, domain.TopicReferenceChanged, []byte(entity)); err != nil {
		slog.Error("failed to publish reference change", "entity", entity, "error", err)
	}
}

func urlID[T any](set func(v *T, id string)) func(r *http.Request, v *T) {
	return func(r *http.Request, v *T) {
		set(v, chi.URLParam(r, "id"))
	}
}

// routeReference mounts the reference data CRUD routes.
func (h *Handler) routeReference(r chi.Router) {
	r.Get("/brands", listHandler(func(r *http.Request) ([]*domain.Brand, error) {
		return h.repo.ListBrands(r.Context())
	}))
	r.Post("/brands", saveHandler(h, entityBrand, http.StatusCreated, nil, domain.Repository.SaveBrand))

	r.Get("/fuel-types", listHandler(func(r *http.Request) ([]*domain.FuelType, error) {
		return h.repo.ListFuelTypes(r.Context())
	}))
	r.Post("/fuel-types", saveHandler(h, entityFuelType, http.StatusCreated, nil, domain.Repository.SaveFuelType))

	r.Get("/car-types", listHandler(func(r *http.Request) ([]*domain.CarType, error) {
		return h.repo.ListCarTypes(r.Context(), r.URL.Query().Get("brandId"))
	}))
	r.Post("/car-types", saveHandler(h, entityCarType, http.StatusCreated, nil, domain.Repository.SaveCarType))

	r.Get("/euro-norms", h.SearchEuroNorms)
	r.Post("/euro-norms", saveHandler(h, entityEuroNorm, http.StatusCreated, nil, domain.Repository.SaveEuroNorm))

	r.Get("/fiscal-regions", listHandler(func(r *http.Request) ([]*domain.FiscalRegion, error) {
		return h.repo.ListFiscalRegions(r.Context())
	}))
	r.Post("/fiscal-regions", saveHandler(h, entityFiscalRegion, http.StatusCreated, nil, domain.Repository.SaveFiscalRegion))
	r.Get("/fiscal-regions/{id}/tax-tables", h.GetTaxTables)

	r.Get("/provinces", listHandler(func(r *http.Request) ([]*domain.Province, error) {
		return h.repo.ListProvinces(r.Context())
	}))
	r.Post("/provinces", saveHandler(h, entityProvince, http.StatusCreated, nil, domain.Repository.SaveProvince))

	r.Get("/towns", listHandler(func(r *http.Request) ([]*domain.Town, error) {
		return h.repo.ListTowns(r.Context(), r.URL.Query().Get("provinceId"))
	}))
	r.Post("/towns", saveHandler(h, entityTown, http.StatusCreated, nil, domain.Repository.SaveTown))

	// Hubs and their mileage benchmarks
	r.Get("/hubs", listHandler(func(r *http.Request) ([]*domain.Hub, error) {
		return h.repo.ListHubs(r.Context())
	}))
	r.Post("/hubs", saveHandler(h, entityHub, http.StatusCreated, nil, domain.Repository.SaveHub))
	r.Put("/hubs/{id}", saveHandler(h, entityHub, http.StatusOK,
		urlID(func(v *domain.Hub, id string) { v.ID = id }), updateHub))
	r.Delete("/hubs/{id}", deleteHandler(h, entityHub, domain.Repository.DeleteHub))
	r.Get("/hubs/{id}/benchmarks", listHandler(func(r *http.Request) ([]*domain.HubBenchmark, error) {
		return h.repo.ListHubBenchmarks(r.Context(), chi.URLParam(r, "id"))
	}))
	r.Post("/hubs/{id}/benchmarks", saveHandler(h, entityHubBenchmark, http.StatusCreated,
		urlID(func(v *domain.HubBenchmark, id string) { v.HubID = id }), domain.Repository.SaveHubBenchmark))
	r.Delete("/hub-benchmarks/{id}", deleteHandler(h, entityHubBenchmark, domain.Repository.DeleteHubBenchmark))

	r.Get("/simulation-regions", listHandler(func(r *http.Request) ([]*domain.SimulationRegion, error) {
		return h.repo.ListSimulationRegions(r.Context())
	}))
	r.Post("/simulation-regions", saveHandler(h, entitySimulationRegion, http.StatusCreated, nil, domain.Repository.SaveSimulationRegion))
	r.Put("/simulation-regions/{id}", saveHandler(h, entitySimulationRegion, http.StatusOK,
		urlID(func(v *domain.SimulationRegion, id string) { v.ID = id }), updateSimulationRegion))
	r.Delete("/simulation-regions/{id}", deleteHandler(h, entitySimulationRegion, domain.Repository.DeleteSimulationRegion))

	r.Get("/insurance-benchmarks", h.ListInsuranceBenchmarks)
	r.Post("/insurance-benchmarks", saveHandler(h, entityInsurance, http.StatusCreated, nil, domain.Repository.SaveInsuranceBenchmark))

	r.Post("/tax/base-rates", saveHandler(h, entityTax, http.StatusCreated, nil, domain.Repository.SaveBaseRate))
	r.Post("/tax/flat-rates", saveHandler(h, entityTax, http.StatusCreated, nil, domain.Repository.SaveFlatRate))
	r.Post("/tax/euro-norm-adjustments", saveHandler(h, entityTax, http.StatusCreated, nil, domain.Repository.SaveEuroNormAdjustment))

	r.Get("/system-parameters", listHandler(func(r *http.Request) ([]*domain.SystemParameter, error) {
		return h.repo.ListSystemParameters(r.Context())
	}))
	r.Put("/system-parameters/{code}", saveHandler(h, entitySystemParameter, http.StatusOK,
		func(r *http.Request, v *domain.SystemParameter) { v.Code = chi.URLParam(r, "code") }, domain.Repository.SetSystemParameter))
}

// updateHub saves an existing hub; unknown ids are not created.
func updateHub(repo domain.Repository, ctx context.Context, hub *domain.Hub) error {
	if _, err := repo.GetHub(ctx, hub.ID); err != nil {
		return err
	}
	return repo.SaveHub(ctx, hub)
}

// updateSimulationRegion saves an existing simulation region.
func updateSimulationRegion(repo domain.Repository, ctx context.Context, region *domain.SimulationRegion) error {
	if _, err := repo.GetSimulationRegion(ctx, region.ID); err != nil {
		return err
	}
	return repo.SaveSimulationRegion(ctx, region)
}

// SearchEuroNorms handles GET /euro-norms?code=&validAt=&limit=&offset=.
func (h *Handler) SearchEuroNorms(w http.ResponseWriter, r *http.Request) {
	filter := domain.EuroNormFilter{Code: r.URL.Query().Get("code")}

	if raw := r.URL.Query().Get("validAt"); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.ValidAt = &d.Time
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}

	page, err := h.repo.SearchEuroNorms(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListInsuranceBenchmarks handles GET /insurance-benchmarks?year=. The year
// defaults to the current one.
func (h *Handler) ListInsuranceBenchmarks(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", time.Now().Year())
	if err != nil {
		writeError(w, err)
		return
	}
	bands, err := h.repo.ListInsuranceBenchmarks(r.Context(), year)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":  year,
		"items": bands,
		"count": len(bands),
	})
}

// GetTaxTables handles GET /fiscal-regions/{id}/tax-tables.
func (h *Handler) GetTaxTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.repo.ListTaxTables(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}
