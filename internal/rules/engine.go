// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/watchtower/internal/domain"
)

// Engine evaluates an ordered set of additive CEL rules.
// Compiled programs are immutable, so Evaluate is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program

	// Reason is nil when the rule reports a static reason.
	Reason cel.Program
}

// NewEngine creates a rule engine over the given variable declarations.
func NewEngine(opts ...cel.EnvOption) (*Engine, error) {
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it to the evaluation order. A rule
// with an already loaded ID replaces the earlier one in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Copy on write: Evaluate iterates the previous slice without the lock.
	next := make([]*CompiledRule, len(e.rules), len(e.rules)+1)
	copy(next, e.rules)
	for i, existing := range next {
		if existing.Config.ID == cfg.ID {
			next[i] = compiled
			e.rules = next
			return nil
		}
	}
	e.rules = append(next, compiled)
	return nil
}

// LoadRules compiles and loads the enabled rules, in order.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs every loaded rule against vars and returns one result per
// rule in load order. Rules are independent: a rule never sees another's
// outcome and there is no early exit.
func (e *Engine) Evaluate(vars map[string]any) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	results := make([]domain.RuleResult, 0, len(rules))
	for _, rule := range rules {
		result, err := evaluateRule(rule, vars)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func evaluateRule(rule *CompiledRule, vars map[string]any) (domain.RuleResult, error) {
	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(vars)
	if err != nil {
		return result, fmt.Errorf("rule %s: evaluation error: %w", rule.Config.ID, err)
	}

	units := toUnits(out)
	if units <= 0 {
		return result, nil
	}

	result.Triggered = true
	result.Points = rule.Config.Weight * int(units)
	result.Reason = rule.Config.Reason

	if rule.Reason != nil {
		reason, _, err := rule.Reason.Eval(vars)
		if err != nil {
			return result, fmt.Errorf("rule %s: reason evaluation error: %w", rule.Config.ID, err)
		}
		if s, ok := reason.(types.String); ok {
			result.Reason = string(s)
		}
	}
	return result, nil
}

// toUnits converts a CEL value to the number of weight units it earns.
func toUnits(val ref.Val) int64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1
		}
		return 0
	case types.Int:
		return int64(v)
	case types.Uint:
		return int64(v)
	default:
		return 0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, compiled := range e.rules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	program, err := e.compile(cfg.ID, cfg.Expression, cel.BoolType, cel.IntType, cel.UintType)
	if err != nil {
		return nil, err
	}

	compiled := &CompiledRule{Config: cfg, Program: program}
	if cfg.ReasonExpression != "" {
		compiled.Reason, err = e.compile(cfg.ID, cfg.ReasonExpression, cel.StringType)
		if err != nil {
			return nil, err
		}
	}
	return compiled, nil
}

func (e *Engine) compile(ruleID, expr string, allowed ...*cel.Type) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", ruleID, issues.Err())
	}

	outputType := ast.OutputType()
	accepted := false
	for _, t := range allowed {
		if outputType.IsExactType(t) {
			accepted = true
			break
		}
	}
	if !accepted {
		return nil, fmt.Errorf("rule %s: expression %q returns unsupported type %s", ruleID, expr, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", ruleID, err)
	}
	return program, nil
}
