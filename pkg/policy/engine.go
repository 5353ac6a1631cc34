package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// DefaultPackage is the package whose deny rules are evaluated.
const DefaultPackage = "yodler.deploy"

// Engine evaluates Rego policies against actions about to execute.
//
// Policies in the engine package are queried for data.<package>.deny, one
// prepared query per policy so violations can be attributed. Policies in
// other packages are libraries: they are compiled alongside every queried
// policy and can be imported, but are never queried themselves.
type Engine struct {
	mu       sync.RWMutex
	pkg      string
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy  *Policy
	module  *ast.Module
	query   *rego.PreparedEvalQuery
	library bool
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	pkg      string
	builtins []string
}

// WithPackage sets the package whose deny rules are evaluated.
func WithPackage(pkg string) Option {
	return func(o *engineOptions) {
		if pkg != "" {
			o.pkg = pkg
		}
	}
}

// WithBuiltins enables the named built-in policies. Built-ins are loaded
// disabled otherwise.
func WithBuiltins(names ...string) Option {
	return func(o *engineOptions) { o.builtins = append(o.builtins, names...) }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := engineOptions{pkg: DefaultPackage}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		pkg:      o.pkg,
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies(o.pkg)
	enabled := make(map[string]bool, len(o.builtins))
	for _, name := range o.builtins {
		enabled[name] = true
	}
	for i := range builtins {
		if enabled[builtins[i].Name] {
			builtins[i].Enabled = true
			delete(enabled, builtins[i].Name)
		}
	}
	for name := range enabled {
		return nil, fmt.Errorf("unknown built-in policy: %s", name)
	}

	if err := e.add(context.Background(), builtins...); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// Package returns the package whose deny rules are evaluated.
func (e *Engine) Package() string {
	return e.pkg
}

// AddPolicy compiles and adds a policy, replacing one with the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	return e.add(ctx, policy)
}

// LoadPolicies loads .rego and .json policy files from paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.add(ctx, policies...); err != nil {
		return err
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// Watch reloads the policies under paths whenever one of their files
// changes, until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.add(ctx, policies...)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (e *Engine) add(ctx context.Context, policies ...Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.policies)+len(policies))
	for name, cp := range e.policies {
		c := *cp
		next[name] = &c
	}
	for i := range policies {
		p := policies[i]
		module, err := ast.ParseModule(p.Name, p.Rego)
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
		}
		if p.Severity == "" {
			p.Severity = SeverityError
		}
		next[p.Name] = &compiledPolicy{
			policy:  &p,
			module:  module,
			library: module.Package.Path.String() != "data."+e.pkg,
		}
	}

	if err := e.prepare(ctx, next); err != nil {
		return err
	}
	e.policies = next
	return nil
}

// prepare compiles one query per queried policy. Every query sees all
// library modules.
func (e *Engine) prepare(ctx context.Context, policies map[string]*compiledPolicy) error {
	var libraries []func(*rego.Rego)
	for _, cp := range policies {
		if cp.library {
			libraries = append(libraries, rego.ParsedModule(cp.module))
		}
	}

	query := fmt.Sprintf("data.%s.deny", e.pkg)
	for _, cp := range policies {
		if cp.library {
			continue
		}
		options := append([]func(*rego.Rego){
			rego.Query(query),
			rego.Store(e.store),
			rego.ParsedModule(cp.module),
		}, libraries...)

		prepared, err := rego.New(options...).PrepareForEval(ctx)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", cp.policy.Name, err)
		}
		cp.query = &prepared

		e.logger.Debug().
			Str("policy", cp.policy.Name).
			Msg("Policy compiled successfully")
	}
	return nil
}

// Evaluate runs every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if cp.library || !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation error: %w", name, err)
		}

		for _, r := range rs {
			if len(r.Expressions) == 0 {
				continue
			}
			entries, ok := r.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				v := createViolation(cp.policy, entry, input)
				if v.Severity.Blocking() {
					result.Violations = append(result.Violations, v)
				} else {
					result.Warnings = append(result.Warnings, v)
				}
			}
		}
	}

	result.Allowed = len(result.Violations) == 0
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("action", input.Action.Name).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// createViolation builds a Violation from a deny entry. Entries are either
// a message string or an object with message and optional severity.
func createViolation(policy *Policy, entry interface{}, input *Input) Violation {
	v := Violation{
		Policy:   policy.Name,
		Action:   input.Action.Name,
		Severity: policy.Severity,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
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
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
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
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
