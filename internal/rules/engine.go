// Package rules provides the CEL-Go based high-risk predicate engine.
package rules

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates compiled high-risk rules against transactions.
// Rules are evaluated in ID order so the first match is deterministic.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.HighRiskRule
	Program cel.Program
}

// NewEngine creates a rule engine with the transaction variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("abs_amount", cel.DoubleType),
		cel.Variable("account", cel.StringType),
		cel.Variable("account_name", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("date", cel.StringType),
		cel.Variable("materiality", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg domain.HighRiskRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg domain.HighRiskRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads the enabled rules.
func (e *Engine) LoadRules(configs []domain.HighRiskRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules atomically.
func (e *Engine) ReloadRules(configs []domain.HighRiskRule) error {
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Match returns the ID of the first rule the transaction satisfies.
// Evaluation errors and non-bool results count as no match.
func (e *Engine) Match(tx domain.Transaction, params domain.SamplingParameters) (string, bool) {
	rules := e.sortedRules()
	if len(rules) == 0 {
		return "", false
	}

	activation := map[string]any{
		"amount":       tx.Amount.InexactFloat64(),
		"abs_amount":   tx.AbsAmount().InexactFloat64(),
		"account":      tx.AccountNumber,
		"account_name": tx.AccountName,
		"description":  tx.Description,
		"risk":         string(tx.RiskIndicator),
		"date":         tx.Date.String(),
		"materiality":  params.Materiality().InexactFloat64(),
		"threshold":    params.ThresholdAmount().InexactFloat64(),
	}

	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			return rule.Config.ID, true
		}
	}
	return "", false
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg domain.HighRiskRule) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
