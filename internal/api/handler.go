package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/rules"
	"github.com/opensource-finance/carsim/internal/simulation"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	simulations *simulation.Service
	engine      *rules.Engine
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, simulations *simulation.Service, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		simulations: simulations,
		engine:      engine,
		version:     version,
	}
}

// Simulate handles POST /simulations. The simulation runs synchronously and
// is returned with its trace, including MANUAL_REVIEW outcomes.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req domain.SimulationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := simulation.WithRequestID(r.Context(), GetRequestID(r.Context()))
	sim, err := h.simulations.Simulate(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Debug("simulation served",
		"simulation_id", sim.ID,
		"result_code", sim.ResultCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusCreated, sim)
}

// SimulateAsync handles POST /simulations/async. The request is queued for
// the worker; the completion event carries the returned request id.
func (h *Handler) SimulateAsync(w http.ResponseWriter, r *http.Request) {
	var req domain.SimulationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	requestID, err := h.simulations.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": requestID,
		"status":    "queued",
	})
}

// ListSimulations handles GET /simulations?limit=&offset=.
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	sims, err := h.simulations.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": sims,
		"count":       len(sims),
	})
}

// GetSimulation handles GET /simulations/{id}.
func (h *Handler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	sim, err := h.simulations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// DeleteSimulation handles DELETE /simulations/{id}.
func (h *Handler) DeleteSimulation(w http.ResponseWriter, r *http.Request) {
	if err := h.simulations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.simulations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListAdjustmentRules returns the rules loaded in the engine, built-ins first.
func (h *Handler) ListAdjustmentRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating an adjustment rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Condition   string `json:"condition"`
	Amount      string `json:"amount"`
	Enabled     bool   `json:"enabled"`
}

// CreateAdjustmentRule validates and stores a custom rule.
// After saving, call POST /adjustment-rules/reload to apply it.
func (h *Handler) CreateAdjustmentRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Name == "" || req.Condition == "" || req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name, condition and amount are required",
		})
		return
	}

	rule := &domain.AdjustmentRule{
		ID:          req.ID,
		Code:        domain.StepCustomAdjustment,
		Name:        req.Name,
		Description: req.Description,
		Condition:   req.Condition,
		Amount:      req.Amount,
		Enabled:     req.Enabled,
	}

	// Validate CEL expressions by compiling them
	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.SaveAdjustmentRule(r.Context(), rule); err != nil {
		slog.Error("failed to save adjustment rule", "id", rule.ID, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("adjustment rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /adjustment-rules/reload to apply changes.",
	})
}

// DeleteAdjustmentRule removes a stored custom rule. The engine keeps it
// until the next reload.
func (h *Handler) DeleteAdjustmentRule(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteAdjustmentRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadAdjustmentRules reloads all custom rules from the database into the
// engine without a restart.
func (h *Handler) ReloadAdjustmentRules(w http.ResponseWriter, r *http.Request) {
	count, err := ReloadRules(r.Context(), h.repo, h.engine)
	if err != nil {
		slog.Error("failed to reload adjustment rules", "error", err)
		writeError(w, err)
		return
	}

	slog.Info("adjustment rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// ReloadRules loads the stored custom rules into engine and returns how many
// were stored.
func ReloadRules(ctx context.Context, store domain.RuleStore, engine *rules.Engine) (int, error) {
	stored, err := store.ListAdjustmentRules(ctx)
	if err != nil {
		return 0, err
	}
	if err := engine.ReloadRules(stored); err != nil {
		return 0, err
	}
	return len(stored), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return v, nil
}
