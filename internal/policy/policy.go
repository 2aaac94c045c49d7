// Package policy provides the CEL-Go based alert routing engine.
//
// Policies are boolean CEL expressions over a completed evaluation bundle.
// They decide which results reach the alert topic; the fixed risk decision
// table and the classifier contract are out of their reach.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based alert policy engine.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.AlertPolicy
	Program cel.Program
}

// NewEngine creates a new alert policy engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.IntType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("label", cel.StringType),
		cel.Variable("fraud_probability", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("account_emptied", cel.BoolType),
		cel.Variable("consistent", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without mutating loaded engine policies.
func (e *Engine) ValidatePolicy(cfg *domain.AlertPolicy) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// LoadPolicy compiles and loads a policy into the engine.
func (e *Engine) LoadPolicy(cfg *domain.AlertPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadPolicies compiles and loads multiple policies.
func (e *Engine) LoadPolicies(configs []*domain.AlertPolicy) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies clears all existing policies and loads new ones.
// This enables hot-reloading of policies from the database.
func (e *Engine) ReloadPolicies(configs []*domain.AlertPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next
	return nil
}

// GetLoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) GetLoadedPolicies() []*domain.AlertPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*domain.AlertPolicy, 0, len(e.compiled))
	for _, c := range e.compiled {
		policies = append(policies, c.Config)
	}
	return policies
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate runs all loaded policies against an evaluation and returns the
// matches. A policy whose expression errors at runtime is skipped; routing
// must not fail an already-completed evaluation.
func (e *Engine) Evaluate(eval *domain.Evaluation) []domain.PolicyMatch {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, c := range e.compiled {
		policies = append(policies, c)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil
	}

	activation := activationFor(eval)

	var matches []domain.PolicyMatch
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matches = append(matches, domain.PolicyMatch{
				PolicyID:   p.Config.ID,
				PolicyName: p.Config.Name,
				Reason:     p.Config.Description,
			})
		}
	}
	return matches
}

// activationFor flattens the evaluation bundle into CEL variables.
// A failed classification activates with an empty label and zero probability.
func activationFor(eval *domain.Evaluation) map[string]any {
	label := ""
	fraudProb := 0.0
	if eval.Classification != nil {
		label = string(eval.Classification.Label)
		fraudProb = eval.Classification.FraudProbability
	}

	record := eval.Record
	if eval.Corrected != nil {
		record = eval.Corrected
	}

	return map[string]any{
		"score":             int64(eval.Risk.Score),
		"tier":              string(eval.Risk.Tier),
		"label":             label,
		"fraud_probability": fraudProb,
		"amount":            record.Amount,
		"tx_type":           string(record.Type),
		"account_emptied":   eval.Derived.AccountEmptied,
		"consistent":        eval.Validation.Consistent(),
	}
}

// DefaultPolicies returns the built-in routing applied when a tenant has no
// policies configured.
func DefaultPolicies() []*domain.AlertPolicy {
	return []*domain.AlertPolicy{
		{
			ID:          "default-alert",
			Name:        "Default alert policy",
			Description: "high risk tier or fraud classification",
			Expression:  domain.DefaultAlertPolicyExpression,
			Enabled:     true,
		},
	}
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compile(cfg *domain.AlertPolicy) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
