// Package policy implements the pull/load policy gate from
// SPEC_FULL.md §11, grounded on the teacher's
// ckmine11-registry-x/backend/pkg/policy/service.go: a Rego module held
// behind a mutex, evaluated per request. The teacher gates image pushes
// against prod vulnerability/signature rules; modelhost reuses the same
// shape to gate a pull against a registry allowlist and a size quota
// instead; loading (acquire) is not gated.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

const defaultModule = `
	package modelhost.policy

	default allow = true

	violations[msg] {
		input.size_bytes > input.max_size_bytes
		input.max_size_bytes > 0
		msg := sprintf("model size %d exceeds quota %d", [input.size_bytes, input.max_size_bytes])
	}

	violations[msg] {
		not input.registry_allowed
		msg := sprintf("registry %q is not allowlisted", [input.registry])
	}

	allow = false {
		count(violations) > 0
	}
`

// Service holds the active Rego policy and evaluates pull decisions
// against it.
type Service struct {
	mu      sync.RWMutex
	module  string
	allowed map[string]bool // registry allowlist, empty means allow-all
}

// New returns a Service with the default module and no registry
// restriction (allow all registries, no size quota).
func New() *Service {
	return &Service{module: defaultModule}
}

// SetAllowlist replaces the set of registries considered allowed. An
// empty list means "allow any registry" (the default).
func (s *Service) SetAllowlist(registries []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(registries) == 0 {
		s.allowed = nil
		return
	}
	s.allowed = make(map[string]bool, len(registries))
	for _, r := range registries {
		s.allowed[r] = true
	}
}

// SetModule replaces the active Rego module, validating it compiles
// first (mirrors the teacher's UpdatePolicy compile check).
func (s *Service) SetModule(module string) error {
	_, err := rego.New(
		rego.Query("data.modelhost.policy.allow"),
		rego.Module("policy.rego", module),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("policy: invalid module: %w", err)
	}
	s.mu.Lock()
	s.module = module
	s.mu.Unlock()
	return nil
}

// Input is the data evaluated against the active policy for one
// pull decision.
type Input struct {
	Registry      string `json:"registry"`
	Name          string `json:"name"`
	Tag           string `json:"tag"`
	SizeBytes     int64  `json:"size_bytes"`
	MaxSizeBytes  int64  `json:"max_size_bytes"`
	RegistryAllowed bool `json:"registry_allowed"`
}

// Evaluate reports whether in is allowed under the active policy, plus
// the violation messages when it is not.
func (s *Service) Evaluate(ctx context.Context, in Input) (bool, []string, error) {
	s.mu.RLock()
	in.RegistryAllowed = s.allowed == nil || s.allowed[in.Registry]
	module := s.module
	s.mu.RUnlock()

	query, err := rego.New(
		rego.Query("data.modelhost.policy.allow"),
		rego.Module("policy.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("policy: prepare: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, nil, fmt.Errorf("policy: eval: %w", err)
	}
	if len(results) == 0 {
		return false, nil, fmt.Errorf("policy: undefined result")
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil, fmt.Errorf("policy: unexpected result type")
	}

	var violations []string
	if !allowed {
		vQuery, err := rego.New(
			rego.Query("data.modelhost.policy.violations"),
			rego.Module("policy.rego", module),
		).PrepareForEval(ctx)
		if err == nil {
			if vRes, err := vQuery.Eval(ctx, rego.EvalInput(in)); err == nil && len(vRes) > 0 {
				if msgs, ok := vRes[0].Expressions[0].Value.([]interface{}); ok {
					for _, m := range msgs {
						violations = append(violations, fmt.Sprint(m))
					}
				}
			}
		}
	}

	return allowed, violations, nil
}
