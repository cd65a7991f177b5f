package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego policies over parsed plans. It implements
// engine.PlanPolicy.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	limits   Limits
	logger   zerolog.Logger
}

// compiledPolicy represents a prepared Rego policy.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits sets the thresholds exposed to policies as input.limits.
func WithLimits(limits Limits) Option {
	return func(e *Engine) { e.limits = limits }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		limits:   DefaultLimits(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// Limits returns the configured limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// EvaluatePlan runs every enabled policy over the plan. A policy that fails
// to evaluate is reported as a warning and does not block the plan.
func (e *Engine) EvaluatePlan(ctx context.Context, in engine.PolicyInput) ([]engine.Violation, error) {
	startTime := time.Now()
	input := newPlanInput(in, e.limits)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []engine.Violation
	for _, cp := range e.enabledLocked() {
		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("target_id", in.TargetID).
				Msg("Policy evaluation failed")
			violations = append(violations, engine.Violation{
				Policy:   cp.policy.Name,
				Message:  fmt.Sprintf("policy evaluation failed: %v", err),
				Severity: engine.SeverityWarning,
			})
			continue
		}
		violations = append(violations, found...)
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Message < violations[j].Message
	})

	e.logger.Debug().
		Str("target_id", in.TargetID).
		Int("actions", len(in.Actions)).
		Int("violations", len(violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan policy evaluation completed")

	return violations, nil
}

// enabledLocked returns enabled policies in name order.
func (e *Engine) enabledLocked() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// evaluatePolicy reads the deny and warn sets of one policy package.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input PlanInput) ([]engine.Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	var violations []engine.Violation
	if denySet, ok := doc["deny"].([]interface{}); ok {
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, cp.policy.Severity))
		}
	}
	if warnSet, ok := doc["warn"].([]interface{}); ok {
		for _, w := range warnSet {
			violations = append(violations, createViolation(cp.policy, w, SeverityWarning))
		}
	}
	return violations, nil
}

// createViolation converts one rule result. Results may be a plain message
// or an object with message, severity and line keys.
func createViolation(policy *Policy, result interface{}, severity Severity) engine.Violation {
	var violation engine.Violation
	violation.Policy = policy.Name

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			severity = Severity(sev)
		}
		violation.Line = lineOf(v["line"])
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	violation.Severity = engine.SeverityWarning
	if severity.Blocking() {
		violation.Severity = engine.SeverityError
	}
	return violation
}

func lineOf(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// compileAndStorePolicy parses, prepares and stores a policy. A policy with
// the same name is replaced.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil || module.Package == nil {
		return fmt.Errorf("policy %s has no package declaration", policy.Name)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(pkg),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		pkg:      pkg,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", pkg).
		Msg("Policy compiled successfully")

	return nil
}

// LoadPolicies loads .rego and .json policies from files or directories.
// Nothing is stored unless every policy compiles.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.Replace(ctx, policies)
}

// Replace swaps the loaded (non built-in) policies for policies.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	staged := &Engine{policies: make(map[string]*compiledPolicy), logger: e.logger}
	for i := range policies {
		p := policies[i]
		if _, clash := e.builtin(p.Name); clash {
			return fmt.Errorf("policy %s shadows a built-in policy", p.Name)
		}
		if err := staged.compileAndStorePolicy(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range staged.policies {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

func (e *Engine) builtin(name string) (*compiledPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok || !cp.policy.Builtin {
		return nil, false
	}
	return cp, true
}

// Watch reloads policies from paths whenever a policy file changes.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.Replace(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
