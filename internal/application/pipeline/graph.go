package pipeline

import (
	"fmt"
	"time"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Phase is a named node in the phase graph. A phase may only start once
// every phase it depends on has reached a terminal outcome.
type Phase struct {
	Name        string
	Agents      []ports.AgentUnit
	DependsOn   []string
	Parallelism int
	// Timeout bounds each individual agent attempt.
	Timeout     time.Duration
	FailureMode domain.FailureMode
	Retry       RetryPolicy
}

// PhaseGraph is an immutable-after-validation DAG of phases. It is pure
// configuration: safe to share read-only across concurrent runs.
type PhaseGraph struct {
	phases []*Phase
	byName map[string]*Phase
}

// NewPhaseGraph returns an empty graph.
func NewPhaseGraph() *PhaseGraph {
	return &PhaseGraph{byName: make(map[string]*Phase)}
}

// AddPhase appends a phase. Declaration order is remembered and used to
// break ties in TopologicalOrder.
func (g *PhaseGraph) AddPhase(p *Phase) error {
	if p == nil {
		return &domain.ValidationError{Field: "phase", Reason: "phase is nil"}
	}
	if p.Name == "" {
		return &domain.ValidationError{Field: "phase.name", Reason: "name is required"}
	}
	if _, exists := g.byName[p.Name]; exists {
		return &domain.ValidationError{Field: "phase.name", Reason: fmt.Sprintf("duplicate phase %q", p.Name)}
	}
	if len(p.Agents) == 0 {
		return &domain.ValidationError{Field: "phase.agents", Reason: fmt.Sprintf("phase %q has no agents", p.Name)}
	}
	if p.Parallelism < 1 {
		p.Parallelism = 1
	}
	g.phases = append(g.phases, p)
	g.byName[p.Name] = p
	return nil
}

// Phase returns the named phase, if present.
func (g *PhaseGraph) Phase(name string) (*Phase, bool) {
	p, ok := g.byName[name]
	return p, ok
}

// Len returns the number of phases.
func (g *PhaseGraph) Len() int { return len(g.phases) }

// Validate rejects graphs with unknown or cyclic dependencies. Both are
// fatal configuration errors: they can only occur at build time, never
// mid-run.
func (g *PhaseGraph) Validate() error {
	if len(g.phases) == 0 {
		return &domain.ValidationError{Field: "phases", Reason: "graph has no phases"}
	}
	for _, p := range g.phases {
		for _, dep := range p.DependsOn {
			if dep == p.Name {
				return &domain.CyclicDependencyError{Phase: p.Name}
			}
			if _, ok := g.byName[dep]; !ok {
				return &domain.UnknownDependencyError{Phase: p.Name, Dependency: dep}
			}
		}
	}
	return g.detectCycles()
}

// detectCycles runs a depth-first search with the classic three-color
// scheme: white (unvisited), grey (on the current stack), black (done).
func (g *PhaseGraph) detectCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.phases))

	var visit func(p *Phase) error
	visit = func(p *Phase) error {
		color[p.Name] = grey
		for _, dep := range p.DependsOn {
			next := g.byName[dep]
			switch color[next.Name] {
			case grey:
				return &domain.CyclicDependencyError{Phase: next.Name}
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[p.Name] = black
		return nil
	}

	for _, p := range g.phases {
		if color[p.Name] == white {
			if err := visit(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns phases so that every phase appears after all of
// its dependencies. Independent phases keep their declaration order, which
// makes scheduling deterministic. Validate must pass first.
func (g *PhaseGraph) TopologicalOrder() ([]*Phase, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	pending := make(map[string]int, len(g.phases))
	for _, p := range g.phases {
		pending[p.Name] = len(p.DependsOn)
	}

	done := make(map[string]bool, len(g.phases))
	order := make([]*Phase, 0, len(g.phases))

	// Kahn's algorithm, scanning in declaration order each round so ties
	// resolve deterministically.
	for len(order) < len(g.phases) {
		progressed := false
		for _, p := range g.phases {
			if done[p.Name] || pending[p.Name] != 0 {
				continue
			}
			order = append(order, p)
			done[p.Name] = true
			progressed = true
			for _, q := range g.phases {
				for _, dep := range q.DependsOn {
					if dep == p.Name {
						pending[q.Name]--
					}
				}
			}
		}
		if !progressed {
			// Unreachable after Validate, kept as a guard.
			return nil, &domain.CyclicDependencyError{Phase: g.phases[0].Name}
		}
	}
	return order, nil
}
