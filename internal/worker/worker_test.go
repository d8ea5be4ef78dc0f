package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/sampling"
	"github.com/opensource-finance/kestrel/internal/workpaper"
	"github.com/shopspring/decimal"
)

const tenantID = "tenant-001"

type stubGenerator struct {
	calls atomic.Int32
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, tenantID string, req domain.SamplingRequest, fresh bool) (*workpaper.Result, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	run := &domain.SamplingRun{
		Plan: domain.SamplingPlan{
			ID:               "plan-" + req.RequestID,
			Ledger:           req.Ledger,
			Method:           req.Parameters.Method,
			ActualSampleSize: 5,
		},
	}
	return &workpaper.Result{Run: run}, nil
}

func samplingRequest(id string) domain.SamplingRequest {
	return domain.SamplingRequest{
		RequestID: id,
		Ledger:    domain.LedgerKey{ClientID: "acme", FiscalYear: 2024},
		Scope:     domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}},
		Parameters: domain.ParameterSpec{
			TestType:        domain.TestSubstantive,
			Method:          domain.MethodSimpleRandom,
			ConfidenceLevel: 95,
			Materiality:     decimal.NewFromInt(50000),
			Seed:            42,
		},
	}
}

func request(t *testing.T, b domain.EventBus, req domain.SamplingRequest) domain.PlanEvent {
	t.Helper()
	payload, _ := json.Marshal(req)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := b.Request(ctx, tenantID, domain.TopicSamplingRequested, payload)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var event domain.PlanEvent
	if err := json.Unmarshal(reply, &event); err != nil {
		t.Fatalf("invalid reply: %v", err)
	}
	return event
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	gen := &stubGenerator{}
	worker := NewWorker(eventBus, gen)

	t.Run("StartAndStats", func(t *testing.T) {
		err := worker.Start(Config{TenantIDs: []string{tenantID, "tenant-002"}, WorkerCount: 2})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}
		for _, topic := range stats.Topics {
			if topic != domain.TopicSamplingRequested {
				t.Errorf("unexpected topic %s", topic)
			}
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		event := request(t, eventBus, samplingRequest("req-1"))
		if event.PlanID != "plan-req-1" {
			t.Errorf("expected plan-req-1, got %s", event.PlanID)
		}
		if event.ActualSize != 5 || event.Error != "" {
			t.Errorf("unexpected event %+v", event)
		}
	})

	t.Run("ConcurrentRequests", func(t *testing.T) {
		before := gen.calls.Load()
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			go func(i int) {
				payload, _ := json.Marshal(samplingRequest(fmt.Sprintf("c-%d", i)))
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_, err := eventBus.Request(ctx, tenantID, domain.TopicSamplingRequested, payload)
				errs <- err
			}(i)
		}
		for i := 0; i < 10; i++ {
			if err := <-errs; err != nil {
				t.Errorf("request failed: %v", err)
			}
		}
		if got := gen.calls.Load() - before; got != 10 {
			t.Errorf("expected 10 generations, got %d", got)
		}
	})

	t.Run("Stop", func(t *testing.T) {
		if err := worker.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if stats := worker.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected no subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})
}

func TestWorkerRequiresTenants(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	err := NewWorker(eventBus, &stubGenerator{}).Start(Config{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestWorkerFailures(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	gen := &stubGenerator{err: domain.InvalidParameter("Materiality", "must be positive")}
	worker := NewWorker(eventBus, gen)
	if err := worker.Start(Config{TenantIDs: []string{tenantID}, WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	t.Run("ReplyCarriesError", func(t *testing.T) {
		event := request(t, eventBus, samplingRequest("bad-1"))
		if event.Error == "" || event.PlanID != "" {
			t.Errorf("expected error event, got %+v", event)
		}
		if event.RequestID != "bad-1" {
			t.Errorf("expected request id bad-1, got %s", event.RequestID)
		}
	})

	t.Run("PublishedWithoutRequester", func(t *testing.T) {
		events := make(chan *domain.Message, 1)
		sub, err := eventBus.Subscribe(context.Background(), tenantID, domain.TopicPlanGenerated, func(ctx context.Context, msg *domain.Message) error {
			events <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if err := bus.PublishJSON(context.Background(), eventBus, tenantID, domain.TopicSamplingRequested, samplingRequest("bad-2")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-events:
			var event domain.PlanEvent
			if err := bus.Decode(msg, &event); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if event.RequestID != "bad-2" || event.Error == "" {
				t.Errorf("unexpected event %+v", event)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for failure event")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reply, err := eventBus.Request(ctx, tenantID, domain.TopicSamplingRequested, []byte("{not json"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var event domain.PlanEvent
		if err := json.Unmarshal(reply, &event); err != nil {
			t.Fatalf("invalid reply: %v", err)
		}
		if event.Error == "" {
			t.Error("expected decode error in reply")
		}
	})
}

func TestWorkerWithService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	svc, err := workpaper.NewService(workpaper.Options{
		Repository: repo,
		Bus:        eventBus,
		Engine:     sampling.DefaultEngine(),
		Sampling:   domain.DefaultSamplingConfig(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	req := samplingRequest("svc-1")
	txs := make([]domain.TransactionRequest, 60)
	for i := range txs {
		txs[i] = domain.TransactionRequest{
			ID:            fmt.Sprintf("gl-%03d", i),
			Date:          fmt.Sprintf("2024-%02d-15", 1+i%12),
			AccountNumber: "3000",
			AccountName:   "Revenue",
			Amount:        fmt.Sprintf("%d.00", 500+i*25),
		}
	}
	if _, err := svc.ImportTransactions(context.Background(), tenantID, req.Ledger, txs); err != nil {
		t.Fatalf("ImportTransactions failed: %v", err)
	}

	worker := NewWorker(eventBus, svc)
	if err := worker.Start(Config{TenantIDs: []string{tenantID}, WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	event := request(t, eventBus, req)
	if event.Error != "" {
		t.Fatalf("unexpected error: %s", event.Error)
	}
	if event.PlanID == "" || event.Plan == nil {
		t.Fatalf("expected a plan, got %+v", event)
	}
	if event.Plan.PopulationSize != 60 {
		t.Errorf("expected population 60, got %d", event.Plan.PopulationSize)
	}

	stored, err := svc.GetRun(context.Background(), tenantID, event.PlanID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Plan.ActualSampleSize != event.ActualSize {
		t.Errorf("stored size %d != event size %d", stored.Plan.ActualSampleSize, event.ActualSize)
	}
}
