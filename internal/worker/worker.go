// Package worker runs sampling requests received on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/workpaper"
)

// Generator produces sampling runs; *workpaper.Service implements it.
type Generator interface {
	Generate(ctx context.Context, tenantID string, req domain.SamplingRequest, fresh bool) (*workpaper.Result, error)
}

// Worker consumes TopicSamplingRequested and hands each request to a pool of goroutines.
type Worker struct {
	bus       domain.EventBus
	generator Generator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	jobs          chan job
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

type job struct {
	tenantID string
	msg      *domain.Message
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants whose requests this worker serves.
	TenantIDs []string

	// WorkerCount is the number of requests processed concurrently.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, generator Generator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes for every tenant and starts the processing pool.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return fmt.Errorf("%w: worker needs at least one tenant", domain.ErrInvalidInput)
	}
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.jobs = make(chan job, count*4)
	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go w.loop(w.jobs)
	}

	for _, tenantID := range cfg.TenantIDs {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSamplingRequested, w.enqueue(tenantID))
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicSamplingRequested,
		)
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", count,
	)
	return nil
}

// enqueue hands a message to the pool, waiting while every worker is busy.
func (w *Worker) enqueue(tenantID string) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		select {
		case w.jobs <- job{tenantID: tenantID, msg: msg}:
			return nil
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	}
}

func (w *Worker) loop(jobs <-chan job) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-jobs:
			_ = w.process(w.ctx, j.tenantID, j.msg)
		}
	}
}

// process runs one request. Failures are published as plan events carrying an error,
// so requesters never wait on a run that will not come.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.SamplingRequest
	if err := bus.Decode(msg, &req); err != nil {
		slog.Error("failed to parse sampling request",
			"message_id", msg.ID,
			"error", err,
		)
		w.respond(ctx, tenantID, msg, domain.PlanEvent{Error: err.Error()})
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	res, err := w.generator.Generate(ctx, tenantID, req, false)
	if err != nil {
		slog.Error("sampling request failed",
			"tenant_id", tenantID,
			"request_id", req.RequestID,
			"ledger", req.Ledger.String(),
			"error", err,
		)
		w.respond(ctx, tenantID, msg, domain.PlanEvent{
			RequestID: req.RequestID,
			Ledger:    req.Ledger,
			Method:    req.Parameters.Method,
			Error:     err.Error(),
		})
		return err
	}

	// The service already announced the plan; only a direct requester needs an answer.
	event := workpaper.NewPlanEvent(req.RequestID, res.Run, res.Cached)
	if payload, err := json.Marshal(event); err == nil {
		if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
			slog.Warn("failed to reply to sampling request", "request_id", req.RequestID, "error", err)
		}
	}

	slog.Info("sampling request processed",
		"tenant_id", tenantID,
		"request_id", req.RequestID,
		"plan_id", res.Run.Plan.ID,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) respond(ctx context.Context, tenantID string, msg *domain.Message, event domain.PlanEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if msg.Metadata[bus.MetaReplyTo] != "" {
		if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
			slog.Warn("failed to reply to sampling request", "request_id", event.RequestID, "error", err)
		}
		return
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicPlanGenerated, payload); err != nil {
		slog.Error("failed to publish failed-run event",
			"tenant_id", tenantID,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

// Stop unsubscribes, stops the pool and waits for in-flight requests.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats reports the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
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
	}
}
