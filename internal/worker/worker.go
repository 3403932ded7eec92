// Package worker runs queued simulation requests from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/carsim/internal/bus"
	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/i18n"
	"github.com/opensource-finance/carsim/internal/simulation"
)

// Simulator runs and stores one simulation.
type Simulator interface {
	Simulate(ctx context.Context, req *domain.SimulationRequest) (*domain.Simulation, error)
}

// Worker consumes simulation.requested messages and runs them through the
// simulation service, which publishes the completion events.
type Worker struct {
	bus       domain.EventBus
	simulator Simulator
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed int64
	failed    int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds the number of simulations run at the same time.
	WorkerCount int

	// Timeout bounds one simulation run. 0 means no limit.
	Timeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, simulator Simulator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		simulator: simulator,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the request topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicSimulationRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(msg, cfg.Timeout)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", domain.TopicSimulationRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("simulation worker started",
		"topic", domain.TopicSimulationRequested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// dispatch blocks until a slot is free, then runs msg in the background.
func (w *Worker) dispatch(msg *domain.Message, timeout time.Duration) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		ctx := w.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := w.process(ctx, msg); err != nil {
			w.count(false)
			return
		}
		w.count(true)
	}()
	return nil
}

func (w *Worker) count(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// process decodes one request and simulates it with the request id and
// locale of the submitting call.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.SimulationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to parse simulation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.Request == nil {
		w.logger.Error("simulation request without body", "message_id", msg.ID)
		return fmt.Errorf("%w: message %s carries no request", domain.ErrValidation, msg.ID)
	}

	requestID := event.RequestID
	if requestID == "" {
		requestID = msg.Metadata[bus.MetaRequestID]
	}
	locale := event.Locale
	if locale == "" {
		locale = msg.Metadata[bus.MetaLocale]
	}

	ctx = simulation.WithRequestID(ctx, requestID)
	if locale != "" {
		ctx = i18n.WithLocale(ctx, locale)
	}

	sim, err := w.simulator.Simulate(ctx, event.Request)
	if err != nil {
		w.logger.Error("queued simulation failed",
			"request_id", requestID,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.logger.Info("queued simulation processed",
		"request_id", requestID,
		"simulation_id", sim.ID,
		"result_code", sim.ResultCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for running simulations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	w.logger.Info("simulation worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
