package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/bus"
	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/i18n"
)

// Service validates requests, runs the engine, stores the result and
// announces it on the event bus.
type Service struct {
	engine *Engine
	store  domain.SimulationStore
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates a simulation service. bus may be nil.
func NewService(engine *Engine, store domain.SimulationStore, eventBus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine: engine,
		store:  store,
		bus:    eventBus,
		logger: logger,
	}
}

// Simulate runs req and persists the simulation. Manual review outcomes are
// stored like any other result.
func (s *Service) Simulate(ctx context.Context, req *domain.SimulationRequest) (*domain.Simulation, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}
	if err := req.Validate(s.engine.Now()); err != nil {
		return nil, err
	}

	sim, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSimulation(ctx, sim); err != nil {
		return nil, fmt.Errorf("saving simulation: %w", err)
	}

	s.logger.Info("simulation stored",
		"simulation_id", sim.ID,
		"result_code", sim.ResultCode,
		"locale", i18n.LocaleFrom(ctx),
	)

	s.announce(ctx, sim)
	return sim, nil
}

// Submit validates req and queues it for a worker. It returns the request id
// carried by the completion event.
func (s *Service) Submit(ctx context.Context, req *domain.SimulationRequest) (string, error) {
	if s.bus == nil {
		return "", fmt.Errorf("async simulations need an event bus")
	}
	if req == nil {
		return "", fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}
	if err := req.Validate(s.engine.Now()); err != nil {
		return "", err
	}

	requestID := uuid.New().String()
	payload, err := json.Marshal(domain.SimulationEvent{
		RequestID: requestID,
		Request:   req,
		Locale:    i18n.LocaleFrom(ctx),
	})
	if err != nil {
		return "", err
	}

	ctx = bus.WithMetadata(ctx, bus.MetaRequestID, requestID)
	if locale := i18n.LocaleFrom(ctx); locale != "" {
		ctx = bus.WithMetadata(ctx, bus.MetaLocale, locale)
	}
	if err := s.bus.Publish(ctx, domain.TopicSimulationRequested, payload); err != nil {
		return "", fmt.Errorf("queueing simulation: %w", err)
	}
	return requestID, nil
}

// announce publishes the completion event, and the manual review event when
// an operator has to step in. Publish failures are logged only.
func (s *Service) announce(ctx context.Context, sim *domain.Simulation) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.SimulationEvent{
		RequestID:  requestIDFrom(ctx),
		Simulation: sim,
		Locale:     i18n.LocaleFrom(ctx),
	})
	if err != nil {
		s.logger.Error("failed to encode simulation event", "simulation_id", sim.ID, "error", err)
		return
	}

	topics := []string{domain.TopicSimulationCompleted}
	if sim.ResultCode == domain.ResultManualReview {
		topics = append(topics, domain.TopicSimulationManualReview)
	}
	for _, topic := range topics {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.bus.Publish(pubCtx, topic, payload); err != nil {
			s.logger.Error("failed to publish simulation event",
				"simulation_id", sim.ID,
				"topic", topic,
				"error", err,
			)
		}
		cancel()
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the async request being processed.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Get returns a stored simulation.
func (s *Service) Get(ctx context.Context, id string) (*domain.Simulation, error) {
	return s.store.GetSimulation(ctx, id)
}

// List pages through stored simulations, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*domain.Simulation, error) {
	return s.store.ListSimulations(ctx, limit, offset)
}

// Delete removes a stored simulation.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteSimulation(ctx, id)
}
