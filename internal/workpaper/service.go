// Package workpaper runs the sampling pipeline against stored ledgers.
// It loads inputs, consults the result cache, persists every generated run
// and announces it on the event bus.
package workpaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/sampling"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("kestrel-workpaper")

// Service is safe for concurrent use. Cache, bus and metrics are optional.
type Service struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	engine      *sampling.Engine
	metrics     *metrics.Metrics
	resultTTL   time.Duration
	fingerprint string
}

// Options wires a Service.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Engine     *sampling.Engine
	Metrics    *metrics.Metrics
	Sampling   domain.SamplingConfig
}

// NewService creates a service. The sampling config is fingerprinted so that
// cached results never outlive a change of factors, weights or rules.
func NewService(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("%w: repository is required", domain.ErrInvalidInput)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: sampling engine is required", domain.ErrInvalidInput)
	}

	h, err := hashstructure.Hash(opts.Sampling, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprint sampling config: %w", err)
	}

	return &Service{
		repo:        opts.Repository,
		cache:       opts.Cache,
		bus:         opts.Bus,
		engine:      opts.Engine,
		metrics:     opts.Metrics,
		resultTTL:   opts.Sampling.ResultTTL,
		fingerprint: fmt.Sprintf("%x", h),
	}, nil
}

// ImportResult reports a ledger import.
type ImportResult struct {
	Ledger      domain.LedgerKey `json:"ledger"`
	Imported    int              `json:"imported"`
	DataVersion int64            `json:"dataVersion"`
}

// ImportTransactions parses and stores ledger lines. The whole batch is rejected
// if any line is invalid or an id repeats.
func (s *Service) ImportTransactions(ctx context.Context, tenantID string, ledger domain.LedgerKey, reqs []domain.TransactionRequest) (*ImportResult, error) {
	ctx, span := tracer.Start(ctx, "workpaper.ImportTransactions", trace.WithAttributes(ledgerAttrs(ledger)...))
	defer span.End()

	txs := make([]domain.Transaction, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for i := range reqs {
		tx, err := reqs[i].ToTransaction()
		if err != nil {
			return nil, fail(span, err)
		}
		if _, dup := seen[tx.ID]; dup {
			return nil, fail(span, fmt.Errorf("%w: duplicate transaction id %s", domain.ErrInvalidInput, tx.ID))
		}
		seen[tx.ID] = struct{}{}
		txs = append(txs, tx)
	}

	version, err := s.repo.SaveTransactions(ctx, tenantID, ledger, txs)
	if err != nil {
		return nil, fail(span, fmt.Errorf("save transactions: %w", err))
	}

	slog.Info("ledger imported",
		"tenant_id", tenantID,
		"ledger", ledger.String(),
		"transactions", len(txs),
		"data_version", version,
	)
	return &ImportResult{Ledger: ledger, Imported: len(txs), DataVersion: version}, nil
}

// SaveAccountMappings replaces a client's standard-account mapping.
func (s *Service) SaveAccountMappings(ctx context.Context, tenantID, clientID string, mappings []domain.AccountMapping) error {
	if err := s.repo.SaveAccountMappings(ctx, tenantID, clientID, mappings); err != nil {
		return fmt.Errorf("save account mappings: %w", err)
	}
	slog.Info("account mappings saved",
		"tenant_id", tenantID,
		"client_id", clientID,
		"mappings", len(mappings),
	)
	return nil
}

// PopulationPreview is the population for a scope, without a sample.
type PopulationPreview struct {
	Ledger      domain.LedgerKey         `json:"ledger"`
	DataVersion int64                    `json:"dataVersion"`
	Scope       domain.PopulationScope   `json:"scope"`
	Population  domain.PopulationSummary `json:"population"`
}

// Population computes the population a scope selects, honoring the scope's size basis.
func (s *Service) Population(ctx context.Context, tenantID string, ledger domain.LedgerKey, scope domain.PopulationScope) (*PopulationPreview, error) {
	ctx, span := tracer.Start(ctx, "workpaper.Population", trace.WithAttributes(ledgerAttrs(ledger)...))
	defer span.End()

	in, err := s.load(ctx, tenantID, ledger)
	if err != nil {
		return nil, fail(span, err)
	}

	pop := s.engine.Population(in.txs, scope, in.resolver())
	span.SetAttributes(attribute.Int("population.size", pop.Size))

	return &PopulationPreview{
		Ledger:      ledger,
		DataVersion: in.version,
		Scope:       scope.Normalized(),
		Population:  pop.Summary(),
	}, nil
}

// Result is a generated or cached sampling run.
type Result struct {
	Run    *domain.SamplingRun `json:"run"`
	Cached bool                `json:"cached"`
}

// Generate produces a sampling run for req. Unless fresh is set, an identical
// earlier request against the same ledger data version returns the stored run.
// Parameter errors wrap domain.ErrInvalidParameters and nothing is persisted.
func (s *Service) Generate(ctx context.Context, tenantID string, req domain.SamplingRequest, fresh bool) (*Result, error) {
	start := time.Now()
	method := string(req.Parameters.Method)

	ctx, span := tracer.Start(ctx, "workpaper.Generate", trace.WithAttributes(
		append(ledgerAttrs(req.Ledger),
			attribute.String("sampling.method", method),
			attribute.String("request.id", req.RequestID),
		)...,
	))
	defer span.End()

	params, err := domain.NewSamplingParameters(req.Parameters)
	if err != nil {
		s.recordRun(method, metrics.OutcomeInvalid, start, nil)
		return nil, fail(span, err)
	}

	in, err := s.load(ctx, tenantID, req.Ledger)
	if err != nil {
		s.recordRun(method, metrics.OutcomeError, start, nil)
		return nil, fail(span, err)
	}

	key, err := cache.RunKey(req.Ledger, in.version, req.Scope, req.Parameters, s.fingerprint)
	if err != nil {
		return nil, fail(span, err)
	}

	if !fresh {
		if run := s.cached(ctx, tenantID, key); run != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true), attribute.String("plan.id", run.Plan.ID))
			s.recordRun(method, metrics.OutcomeCached, start, run)
			s.announce(ctx, tenantID, req.RequestID, run, true)
			return &Result{Run: run, Cached: true}, nil
		}
	}

	_, runSpan := tracer.Start(ctx, "sampling.Run")
	run, err := s.engine.Run(sampling.Request{
		TenantID:     tenantID,
		Ledger:       req.Ledger,
		DataVersion:  in.version,
		Transactions: in.txs,
		Scope:        req.Scope,
		Resolver:     in.resolver(),
		Params:       params,
	})
	runSpan.End()
	if err != nil {
		s.recordRun(method, metrics.OutcomeInvalid, start, nil)
		return nil, fail(span, err)
	}

	if err := s.repo.SaveSamplingRun(ctx, tenantID, &run); err != nil {
		s.recordRun(method, metrics.OutcomeError, start, nil)
		return nil, fail(span, fmt.Errorf("save sampling run: %w", err))
	}

	if s.cache != nil {
		if err := s.cache.SetRun(ctx, tenantID, key, &run, s.resultTTL); err != nil {
			slog.Warn("failed to cache sampling run", "tenant_id", tenantID, "plan_id", run.Plan.ID, "error", err)
		}
	}

	outcome := metrics.OutcomeGenerated
	if run.Population.IsEmpty {
		outcome = metrics.OutcomeEmpty
	}
	s.recordRun(method, outcome, start, &run)
	s.announce(ctx, tenantID, req.RequestID, &run, false)

	span.SetAttributes(
		attribute.String("plan.id", run.Plan.ID),
		attribute.Int("sample.actual", run.Plan.ActualSampleSize),
	)
	slog.Info("sampling plan generated",
		"tenant_id", tenantID,
		"plan_id", run.Plan.ID,
		"ledger", req.Ledger.String(),
		"method", method,
		"recommended", run.Plan.RecommendedSampleSize,
		"actual", run.Plan.ActualSampleSize,
		"coverage", run.Plan.CoveragePercentage,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{Run: &run}, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, tenantID, planID string) (*domain.SamplingRun, error) {
	return s.repo.GetSamplingRun(ctx, tenantID, planID)
}

// ListPlans returns the plans generated for a ledger, newest first.
func (s *Service) ListPlans(ctx context.Context, tenantID string, ledger domain.LedgerKey) ([]*domain.SamplingPlan, error) {
	return s.repo.ListSamplingPlans(ctx, tenantID, ledger)
}

type inputs struct {
	txs     []domain.Transaction
	version int64
	mapping domain.StandardAccountMap
}

// resolver returns the client's mapping. A client without any mapping selects
// concrete account numbers directly.
func (in *inputs) resolver() domain.AccountResolver {
	if len(in.mapping) == 0 {
		return nil
	}
	return in.mapping
}

// load fetches the ledger and the client's account mapping concurrently.
func (s *Service) load(ctx context.Context, tenantID string, ledger domain.LedgerKey) (*inputs, error) {
	ctx, span := tracer.Start(ctx, "workpaper.load")
	defer span.End()

	in := &inputs{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, version, err := s.repo.GetLedger(gctx, tenantID, ledger)
		if err != nil {
			return fmt.Errorf("load ledger %s: %w", ledger, err)
		}
		in.txs, in.version = txs, version
		return nil
	})
	g.Go(func() error {
		mapping, err := s.repo.GetAccountMappings(gctx, tenantID, ledger.ClientID)
		if err != nil {
			return fmt.Errorf("load account mappings: %w", err)
		}
		in.mapping = mapping
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("ledger.transactions", len(in.txs)), attribute.Int64("ledger.version", in.version))
	return in, nil
}

// cached returns the cached run for key, or nil. Cache failures degrade to a miss.
func (s *Service) cached(ctx context.Context, tenantID, key string) *domain.SamplingRun {
	if s.cache == nil {
		return nil
	}
	run, err := s.cache.GetRun(ctx, tenantID, key)
	switch {
	case err != nil:
		slog.Warn("result cache lookup failed", "tenant_id", tenantID, "error", err)
		if s.metrics != nil {
			s.metrics.CacheError()
		}
		return nil
	case run == nil:
		if s.metrics != nil {
			s.metrics.CacheMiss()
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.CacheHit()
	}
	return run
}

// announce publishes the plan event. Publishing is best effort; the run is already stored.
func (s *Service) announce(ctx context.Context, tenantID, requestID string, run *domain.SamplingRun, cached bool) {
	if s.bus == nil {
		return
	}

	topic := domain.TopicPlanGenerated
	if run.Population.IsEmpty {
		topic = domain.TopicPopulationEmpty
	}
	event := NewPlanEvent(requestID, run, cached)

	if err := bus.PublishJSON(ctx, s.bus, tenantID, topic, event); err != nil {
		slog.Warn("failed to publish plan event",
			"tenant_id", tenantID,
			"plan_id", run.Plan.ID,
			"topic", topic,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.PublishError(topic)
		}
	}
}

// NewPlanEvent summarizes a run for the event bus.
func NewPlanEvent(requestID string, run *domain.SamplingRun, cached bool) domain.PlanEvent {
	event := domain.PlanEvent{
		RequestID:  requestID,
		PlanID:     run.Plan.ID,
		Ledger:     run.Plan.Ledger,
		Method:     run.Plan.Method,
		ActualSize: run.Plan.ActualSampleSize,
		Cached:     cached,
		Plan:       &run.Plan,
	}
	if run.Population.IsEmpty {
		event.EmptyReason = run.Population.EmptyReason
	}
	return event
}

func (s *Service) recordRun(method, outcome string, start time.Time, run *domain.SamplingRun) {
	if s.metrics == nil {
		return
	}
	size, coverage := 0, 0.0
	if run != nil {
		size, coverage = run.Plan.ActualSampleSize, run.Plan.CoveragePercentage
	}
	s.metrics.RecordRun(method, outcome, time.Since(start), size, coverage)
}

func ledgerAttrs(ledger domain.LedgerKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ledger.client_id", ledger.ClientID),
		attribute.Int("ledger.fiscal_year", ledger.FiscalYear),
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// IsClientError reports whether err was caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidParameters) || errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound)
}
