// ABOUTME: FindSuitableAgents filters a session's agents by type, capability, status, capacity
// ABOUTME: Optional expr-lang constraints are compiled once and cached by source

package matcher

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/2389/args-gateway/internal/registry"
)

// maxCachedPrograms bounds the constraint cache; it is cleared wholesale when full.
const maxCachedPrograms = 256

// AgentSource provides the agents of a session in insertion order.
type AgentSource interface {
	SessionAgents(sessionID string) ([]registry.Agent, bool)
}

// Matcher evaluates task requirements against a session's agents.
type Matcher struct {
	agents AgentSource
	logger *slog.Logger

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// New creates a Matcher reading agents from src.
func New(src AgentSource, logger *slog.Logger) *Matcher {
	return &Matcher{
		agents:   src,
		logger:   logger.With("component", "matcher"),
		programs: make(map[string]*vm.Program),
	}
}

// FindSuitableAgents returns the agents of sessionID that satisfy req. An unknown session
// yields an empty result. A constraint that fails to compile is a validation error.
func (m *Matcher) FindSuitableAgents(sessionID string, req registry.Requirements) ([]registry.Agent, error) {
	program, err := m.compile(req.Constraint)
	if err != nil {
		return nil, err
	}

	candidates, ok := m.agents.SessionAgents(sessionID)
	if !ok {
		return nil, nil
	}

	var out []registry.Agent
	for _, a := range candidates {
		if !Eligible(a, req) {
			continue
		}
		if program != nil && !m.satisfies(program, a, req.Constraint) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Eligible applies every filter except the constraint expression.
func Eligible(a registry.Agent, req registry.Requirements) bool {
	if len(req.AgentTypes) > 0 && !slices.Contains(req.AgentTypes, a.Type) {
		return false
	}
	for _, c := range req.Capabilities {
		if !slices.Contains(a.Capabilities, c) {
			return false
		}
	}
	return a.HasCapacity()
}

// ValidateConstraint reports whether source compiles as a boolean agent expression.
func ValidateConstraint(source string) error {
	if source == "" {
		return nil
	}
	_, err := compileConstraint(source)
	return err
}

func (m *Matcher) compile(source string) (*vm.Program, error) {
	if source == "" {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.programs[source]; ok {
		return p, nil
	}
	p, err := compileConstraint(source)
	if err != nil {
		return nil, err
	}
	if len(m.programs) >= maxCachedPrograms {
		clear(m.programs)
	}
	m.programs[source] = p
	return p, nil
}

func compileConstraint(source string) (*vm.Program, error) {
	p, err := expr.Compile(source, expr.Env(env(registry.Agent{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid constraint %q: %v", registry.ErrValidation, source, err)
	}
	return p, nil
}

func (m *Matcher) satisfies(program *vm.Program, a registry.Agent, source string) bool {
	out, err := expr.Run(program, env(a))
	if err != nil {
		m.logger.Debug("constraint evaluation failed", "agent_id", a.ID, "constraint", source, "error", err)
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func env(a registry.Agent) map[string]any {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	capabilities := a.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	return map[string]any{
		"agent": map[string]any{
			"id":                 a.ID,
			"type":               a.Type,
			"capabilities":       capabilities,
			"status":             string(a.Status),
			"currentTasks":       a.CurrentTasks,
			"maxConcurrentTasks": a.MaxConcurrentTasks,
			"metadata":           metadata,
		},
	}
}
