// Package agents holds the agent registry and the built-in agents that
// ship with the service. Domain agents (ingestion, CV analysis,
// enrichment) register themselves here at startup; workflow definitions
// refer to them by name.
package agents

import (
	"fmt"
	"sort"
	"sync"

	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Registry maps agent names to implementations. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]ports.AgentUnit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]ports.AgentUnit)}
}

// Register adds an agent under its own name. Registering the same name
// twice is a configuration bug.
func (r *Registry) Register(agent ports.AgentUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := agent.Name()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent already registered: %s", name)
	}
	r.agents[name] = agent
	return nil
}

// Resolve looks up an agent by name. The second return reports whether
// the agent exists, matching the lookup contract of workflow loading.
func (r *Registry) Resolve(name string) (ports.AgentUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
