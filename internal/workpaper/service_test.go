package workpaper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/sampling"
	"github.com/shopspring/decimal"
)

const tenantID = "tenant-001"

var ledger = domain.LedgerKey{ClientID: "acme", FiscalYear: 2024}

type fixture struct {
	svc    *Service
	repo   domain.Repository
	bus    *bus.ChannelBus
	events chan *domain.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "workpaper.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	events := make(chan *domain.Message, 100)
	for _, topic := range []string{domain.TopicPlanGenerated, domain.TopicPopulationEmpty} {
		if _, err := eventBus.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			events <- msg
			return nil
		}); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	svc, err := NewService(Options{
		Repository: repo,
		Cache:      cache.NewLRUCache(100),
		Bus:        eventBus,
		Engine:     sampling.DefaultEngine(),
		Metrics:    metrics.New(),
		Sampling:   domain.DefaultSamplingConfig(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	return &fixture{svc: svc, repo: repo, bus: eventBus, events: events}
}

func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()

	reqs := make([]domain.TransactionRequest, n)
	for i := range reqs {
		account := "3000"
		if i%4 == 3 {
			account = "4000"
		}
		reqs[i] = domain.TransactionRequest{
			ID:            fmt.Sprintf("gl-%04d", i),
			Date:          fmt.Sprintf("2024-%02d-%02d", 1+i%12, 1+i%28),
			AccountNumber: account,
			AccountName:   "Revenue",
			Amount:        fmt.Sprintf("%d.%02d", 100+(i*37)%5000, i%100),
		}
	}
	if _, err := f.svc.ImportTransactions(ctx, tenantID, ledger, reqs); err != nil {
		t.Fatalf("ImportTransactions failed: %v", err)
	}
	if err := f.svc.SaveAccountMappings(ctx, tenantID, ledger.ClientID, []domain.AccountMapping{
		{StandardNumber: "REV", Accounts: []string{"3000"}},
		{StandardNumber: "OTH", Accounts: []string{"4000"}},
	}); err != nil {
		t.Fatalf("SaveAccountMappings failed: %v", err)
	}
}

func (f *fixture) nextEvent(t *testing.T) (string, domain.PlanEvent) {
	t.Helper()
	select {
	case msg := <-f.events:
		var event domain.PlanEvent
		if err := bus.Decode(msg, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return msg.Topic, event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for plan event")
		return "", domain.PlanEvent{}
	}
}

func systematicRequest() domain.SamplingRequest {
	return domain.SamplingRequest{
		RequestID: "req-1",
		Ledger:    ledger,
		Scope:     domain.PopulationScope{IncludedStandardNumbers: []string{"REV"}},
		Parameters: domain.ParameterSpec{
			TestType:        domain.TestSubstantive,
			Method:          domain.MethodSystematic,
			ConfidenceLevel: 95,
			Materiality:     decimal.NewFromInt(100000),
			Seed:            7,
		},
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 200)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, tenantID, systematicRequest(), false)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if first.Cached {
		t.Error("first run must not be cached")
	}
	plan := first.Run.Plan
	if plan.ActualSampleSize == 0 || plan.PopulationSize != 150 {
		t.Errorf("unexpected plan: actual %d, population %d", plan.ActualSampleSize, plan.PopulationSize)
	}
	if plan.DataVersion != 1 {
		t.Errorf("expected data version 1, got %d", plan.DataVersion)
	}
	if plan.TenantID != tenantID {
		t.Errorf("expected tenant %s, got %s", tenantID, plan.TenantID)
	}

	topic, event := f.nextEvent(t)
	if topic != domain.TopicPlanGenerated || event.PlanID != plan.ID || event.RequestID != "req-1" {
		t.Errorf("unexpected event %s %+v", topic, event)
	}

	t.Run("Persisted", func(t *testing.T) {
		stored, err := f.svc.GetRun(ctx, tenantID, plan.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if len(stored.Items) != plan.ActualSampleSize {
			t.Errorf("expected %d stored items, got %d", plan.ActualSampleSize, len(stored.Items))
		}
	})

	t.Run("CachedRepeat", func(t *testing.T) {
		again, err := f.svc.Generate(ctx, tenantID, systematicRequest(), false)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !again.Cached || again.Run.Plan.ID != plan.ID {
			t.Errorf("expected cached plan %s, got %s (cached=%v)", plan.ID, again.Run.Plan.ID, again.Cached)
		}
		if _, event := f.nextEvent(t); !event.Cached {
			t.Error("expected cached event")
		}
	})

	t.Run("FreshRun", func(t *testing.T) {
		fresh, err := f.svc.Generate(ctx, tenantID, systematicRequest(), true)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if fresh.Cached || fresh.Run.Plan.ID == plan.ID {
			t.Error("fresh run must produce a new plan")
		}
		f.nextEvent(t)

		want := make([]string, 0, len(first.Run.Items))
		for _, item := range first.Run.Items {
			want = append(want, item.TransactionID)
		}
		for i, item := range fresh.Run.Items {
			if item.TransactionID != want[i] {
				t.Fatalf("same seed must reproduce the sample, item %d: %s != %s", i, item.TransactionID, want[i])
			}
		}
	})

	t.Run("ReimportInvalidatesCache", func(t *testing.T) {
		_, err := f.svc.ImportTransactions(ctx, tenantID, ledger, []domain.TransactionRequest{
			{ID: "gl-9999", Date: "2024-12-31", AccountNumber: "3000", AccountName: "Revenue", Amount: "500"},
		})
		if err != nil {
			t.Fatalf("ImportTransactions failed: %v", err)
		}

		res, err := f.svc.Generate(ctx, tenantID, systematicRequest(), false)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if res.Cached {
			t.Error("a new data version must not hit the cache")
		}
		if res.Run.Plan.DataVersion != 2 || res.Run.Plan.PopulationSize != 151 {
			t.Errorf("expected version 2 with 151 items, got %d / %d", res.Run.Plan.DataVersion, res.Run.Plan.PopulationSize)
		}
		f.nextEvent(t)
	})

	t.Run("ListPlans", func(t *testing.T) {
		plans, err := f.svc.ListPlans(ctx, tenantID, ledger)
		if err != nil {
			t.Fatalf("ListPlans failed: %v", err)
		}
		if len(plans) != 3 {
			t.Errorf("expected 3 stored plans, got %d", len(plans))
		}
	})
}

func TestGenerateInvalidParameters(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 20)
	ctx := context.Background()

	req := systematicRequest()
	req.Parameters.ExpectedMisstatement = decimal.NewFromInt(200000)

	_, err := f.svc.Generate(ctx, tenantID, req, false)
	if !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}

	req = systematicRequest()
	req.Parameters.ConfidenceLevel = 80
	if _, err := f.svc.Generate(ctx, tenantID, req, false); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for confidence 80, got %v", err)
	}

	plans, err := f.svc.ListPlans(ctx, tenantID, ledger)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(plans) != 0 {
		t.Errorf("invalid parameters must not persist a plan, got %d", len(plans))
	}
}

func TestGenerateEmptyPopulation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 20)

	req := systematicRequest()
	req.Scope = domain.PopulationScope{}

	res, err := f.svc.Generate(context.Background(), tenantID, req, false)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !res.Run.Population.IsEmpty || res.Run.Population.EmptyReason != domain.ReasonNoScopeSelected {
		t.Errorf("expected no-scope-selected, got %+v", res.Run.Population)
	}

	topic, event := f.nextEvent(t)
	if topic != domain.TopicPopulationEmpty || event.EmptyReason != domain.ReasonNoScopeSelected {
		t.Errorf("expected population-empty event, got %s %+v", topic, event)
	}
}

func TestGenerateUnknownLedger(t *testing.T) {
	f := newFixture(t)

	req := systematicRequest()
	req.Ledger = domain.LedgerKey{ClientID: "ghost", FiscalYear: 2030}

	res, err := f.svc.Generate(context.Background(), tenantID, req, false)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Run.Population.EmptyReason != domain.ReasonNoDataForPeriod {
		t.Errorf("expected no-data-for-period, got %s", res.Run.Population.EmptyReason)
	}
}

func TestPopulationPreview(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 40)
	ctx := context.Background()

	preview, err := f.svc.Population(ctx, tenantID, ledger, domain.PopulationScope{
		IncludedStandardNumbers: []string{"REV", "OTH"},
		SizeBasis:               domain.SizeByAccounts,
	})
	if err != nil {
		t.Fatalf("Population failed: %v", err)
	}
	if preview.Population.Size != 2 {
		t.Errorf("expected 2 accounts, got %d", preview.Population.Size)
	}
	if preview.DataVersion != 1 {
		t.Errorf("expected data version 1, got %d", preview.DataVersion)
	}

	preview, err = f.svc.Population(ctx, tenantID, ledger, domain.PopulationScope{
		IncludedStandardNumbers: []string{"OTH"},
		ExcludedAccounts:        []string{"4000"},
	})
	if err != nil {
		t.Fatalf("Population failed: %v", err)
	}
	if !preview.Population.IsEmpty || preview.Population.EmptyReason != domain.ReasonAllExcluded {
		t.Errorf("expected all-excluded, got %+v", preview.Population)
	}
}

func TestImportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup := []domain.TransactionRequest{
		{ID: "a", Date: "2024-01-01", AccountNumber: "3000", Amount: "1"},
		{ID: "a", Date: "2024-01-02", AccountNumber: "3000", Amount: "2"},
	}
	if _, err := f.svc.ImportTransactions(ctx, tenantID, ledger, dup); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for duplicate ids, got %v", err)
	}

	bad := []domain.TransactionRequest{{ID: "b", Date: "31/01/2024", AccountNumber: "3000", Amount: "1"}}
	if _, err := f.svc.ImportTransactions(ctx, tenantID, ledger, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad date, got %v", err)
	}

	_, version, err := f.repo.GetLedger(ctx, tenantID, ledger)
	if err != nil {
		t.Fatalf("GetLedger failed: %v", err)
	}
	if version != 0 {
		t.Errorf("rejected batches must not bump the version, got %d", version)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Options{Engine: sampling.DefaultEngine()}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without repository, got %v", err)
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(domain.InvalidParameter("Seed", "bad")) {
		t.Error("parameter errors are client errors")
	}
	if IsClientError(errors.New("disk full")) {
		t.Error("plain errors are not client errors")
	}
}
