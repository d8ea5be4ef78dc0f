// Package sampling chains population filtering, sizing, selection, annotation and
// assembly into one synchronous, side-effect-free pipeline.
package sampling

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/annotate"
	"github.com/opensource-finance/kestrel/internal/assembler"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/planner"
	"github.com/opensource-finance/kestrel/internal/population"
	"github.com/opensource-finance/kestrel/internal/selector"
)

// Engine runs the sampling pipeline. It performs no I/O and holds no mutable
// state, so one Engine can serve concurrent runs for different ledgers.
type Engine struct {
	planner   *planner.Planner
	selector  *selector.Selector
	annotator *annotate.Annotator
	assembler *assembler.Assembler
}

// NewEngine wires the pipeline components.
func NewEngine(p *planner.Planner, s *selector.Selector, a *annotate.Annotator, asm *assembler.Assembler) *Engine {
	return &Engine{planner: p, selector: s, annotator: a, assembler: asm}
}

// DefaultEngine uses the published factor table, default risk weights and no extra high-risk rules.
func DefaultEngine() *Engine {
	return NewEngine(planner.Default(), selector.New(nil), annotate.New(nil), assembler.New())
}

// NewEngineFromConfig builds an engine from the sampling config. matcher may be nil.
func NewEngineFromConfig(cfg domain.SamplingConfig, matcher selector.HighRiskMatcher) (*Engine, error) {
	p, err := planner.New(planner.FactorsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("planner factors: %w", err)
	}
	return NewEngine(p, selector.New(matcher), annotate.New(annotate.NewScorer(cfg)), assembler.New()), nil
}

// Request is one fully materialized sampling input.
type Request struct {
	TenantID     string
	Ledger       domain.LedgerKey
	DataVersion  int64
	Transactions []domain.Transaction
	Scope        domain.PopulationScope
	Resolver     domain.AccountResolver
	Params       domain.SamplingParameters
}

// Population computes the population for a scope without sampling it.
func (e *Engine) Population(txs []domain.Transaction, scope domain.PopulationScope, resolver domain.AccountResolver) domain.Population {
	return population.Compute(txs, scope, resolver)
}

// Run executes the pipeline. It fails with domain.ErrInvalidInput on an undated
// transaction and with domain.ErrInvalidParameters on unusable parameters;
// empty populations and zero coverage produce ordinary plans with conditions.
func (e *Engine) Run(req Request) (domain.SamplingRun, error) {
	for _, tx := range req.Transactions {
		if !tx.Date.IsValid() {
			return domain.SamplingRun{}, fmt.Errorf("%w: transaction %s has no valid date", domain.ErrInvalidInput, tx.ID)
		}
	}

	// Samples are drawn from transactions, so size always counts transactions here.
	scope := req.Scope
	scope.SizeBasis = domain.SizeByTransactions
	pop := population.Compute(req.Transactions, scope, req.Resolver)

	size, err := e.planner.Plan(pop, req.Params)
	if err != nil {
		return domain.SamplingRun{}, err
	}

	var sel domain.Selection
	if !pop.IsEmpty {
		sel = e.selector.Select(pop.Transactions, size, req.Params)
	}

	ann := e.annotator.Annotate(sel.Items, pop, req.Params)

	return e.assembler.Assemble(assembler.Input{
		TenantID:    req.TenantID,
		Ledger:      req.Ledger,
		DataVersion: req.DataVersion,
		Population:  pop,
		Size:        size,
		Selection:   sel,
		Annotation:  ann,
		Params:      req.Params,
	}), nil
}
